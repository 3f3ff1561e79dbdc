package mutation

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/schema"
)

// Config is the file form of Options.
//
//	save_mode: UPSERT
//	associated_mode: REPLACE
//	associated_modes:
//	  Book.authors: MERGE
//	delete_mode: LOGICAL
//	lock_mode: OPTIMISTIC
//	batch_size: 100
//	investigate_threshold: 10
//	dialect: postgres
//	bypass_cache: true
//	key_groups:
//	  Machine:
//	    endpoint: [host, port]
type Config struct {
	SaveMode             string                         `yaml:"save_mode"`
	AssociatedMode       string                         `yaml:"associated_mode"`
	AssociatedModes      map[string]string              `yaml:"associated_modes"`
	DeleteMode           string                         `yaml:"delete_mode"`
	LockMode             string                         `yaml:"lock_mode"`
	BatchSize            int                            `yaml:"batch_size"`
	InvestigateThreshold int                            `yaml:"investigate_threshold"`
	Dialect              string                         `yaml:"dialect"`
	BypassCache          *bool                          `yaml:"bypass_cache"`
	KeyGroups            map[string]map[string][]string `yaml:"key_groups"`
}

// ParseConfig parses a YAML configuration.
func ParseConfig(b []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("mutation: parse config: %w", err)
	}
	return c, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mutation: load config: %w", err)
	}
	return ParseConfig(b)
}

// Options converts the configuration into options. Key groups are
// resolved against the types of reg.
func (c *Config) Options(reg *schema.Registry) ([]Option, error) {
	var opts []Option
	if c.SaveMode != "" {
		m, err := persist.ParseSaveMode(c.SaveMode)
		if err != nil {
			return nil, NewConfigError("save_mode", c.SaveMode, err.Error())
		}
		opts = append(opts, WithMode(m))
	}
	if c.AssociatedMode != "" {
		m, err := persist.ParseAssociatedSaveMode(c.AssociatedMode)
		if err != nil {
			return nil, NewConfigError("associated_mode", c.AssociatedMode, err.Error())
		}
		opts = append(opts, WithAssociatedMode(m))
	}
	for _, prop := range sortedKeys(c.AssociatedModes) {
		m, err := persist.ParseAssociatedSaveMode(c.AssociatedModes[prop])
		if err != nil {
			return nil, NewConfigError("associated_modes", prop, err.Error())
		}
		opts = append(opts, WithAssociatedModeOf(prop, m))
	}
	if c.DeleteMode != "" {
		m, err := persist.ParseDeleteMode(c.DeleteMode)
		if err != nil {
			return nil, NewConfigError("delete_mode", c.DeleteMode, err.Error())
		}
		opts = append(opts, WithDeleteMode(m))
	}
	if c.LockMode != "" {
		m, err := persist.ParseLockMode(c.LockMode)
		if err != nil {
			return nil, NewConfigError("lock_mode", c.LockMode, err.Error())
		}
		opts = append(opts, WithLockMode(m))
	}
	if c.BatchSize != 0 {
		opts = append(opts, WithBatchSize(c.BatchSize))
	}
	if c.InvestigateThreshold != 0 {
		opts = append(opts, WithInvestigateThreshold(c.InvestigateThreshold))
	}
	if c.Dialect != "" {
		d, err := sql.DialectOf(c.Dialect)
		if err != nil {
			return nil, NewConfigError("dialect", c.Dialect, err.Error())
		}
		opts = append(opts, WithDialect(d))
	}
	if c.BypassCache != nil {
		opts = append(opts, WithBypassCache(*c.BypassCache))
	}
	for _, name := range sortedKeys(c.KeyGroups) {
		t := reg.Type(name)
		if t == nil {
			return nil, NewConfigError("key_groups", name, "unknown type")
		}
		m, err := schema.NewKeyMatcher(t, c.KeyGroups[name])
		if err != nil {
			return nil, NewConfigError("key_groups", name, err.Error())
		}
		opts = append(opts, WithKeyMatcher(name, m))
	}
	return opts, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
