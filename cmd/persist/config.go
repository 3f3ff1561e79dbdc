package main

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/contrib/natstrigger"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/mutation"
	"github.com/syssam/persist/schema"
)

// Config is the command configuration file.
//
//	driver: sqlite
//	dsn: file:shop.db
//	model: model.yaml
//	ddl: schema.sql
//	log_level: info
//	slow_query: 200ms
//	save:
//	  associated_mode: MERGE
//	nats:
//	  url: nats://127.0.0.1:4222
//	redis:
//	  addr: 127.0.0.1:6379
//	  ttl: 10m
type Config struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Model    string `yaml:"model"`
	DDL      string `yaml:"ddl"`
	LogLevel string `yaml:"log_level"`
	// SlowQuery is the duration above which a statement is logged as slow.
	SlowQuery time.Duration   `yaml:"slow_query"`
	Save      mutation.Config `yaml:"save"`
	NATS      *NATSConfig     `yaml:"nats"`
	Redis     *RedisConfig    `yaml:"redis"`
}

// NATSConfig enables publishing the saved changes.
type NATSConfig struct {
	URL       string `yaml:"url"`
	Prefix    string `yaml:"prefix"`
	JetStream bool   `yaml:"jetstream"`
}

// RedisConfig enables the row cache of the fetcher.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// LoadConfig reads a configuration file. Relative model and DDL paths are
// resolved against the directory of the file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if c.Model == "" {
		return nil, fmt.Errorf("config %s: model not set", path)
	}
	dir := filepath.Dir(path)
	c.Model = resolve(dir, c.Model)
	if c.DDL != "" {
		c.DDL = resolve(dir, c.DDL)
	}
	return c, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// driverName maps a configured driver to its dialect and the name the
// database/sql driver registers.
func driverName(name string) (string, string, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return dialect.SQLite, "sqlite", nil
	case "postgres", "postgresql":
		return dialect.Postgres, "postgres", nil
	case "mysql", "mariadb":
		return dialect.MySQL, "mysql", nil
	}
	return "", "", fmt.Errorf("unsupported driver %q", name)
}

// Open opens the configured database and applies the DDL file.
func (c *Config) Open(ctx context.Context) (*sql.Driver, error) {
	name, driver, err := driverName(c.Driver)
	if err != nil {
		return nil, err
	}
	db, err := stdsql.Open(driver, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	drv := sql.OpenDB(name, db)
	if c.DDL == "" {
		return drv, nil
	}
	b, err := os.ReadFile(c.DDL)
	if err != nil {
		drv.Close()
		return nil, fmt.Errorf("read ddl: %w", err)
	}
	for _, stmt := range splitStatements(string(b)) {
		if err := drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			drv.Close()
			return nil, fmt.Errorf("apply ddl: %w", err)
		}
	}
	return drv, nil
}

// splitStatements splits a script on semicolons ending a line.
func splitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, strings.TrimSuffix(strings.TrimSpace(cur.String()), ";"))
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

// Logger returns a JSON logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if c.LogLevel != "" {
		l, err := zap.ParseAtomicLevel(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
		level = l
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core), nil
}

// Options returns the save options of the configuration and a function
// releasing the connections they hold.
func (c *Config) Options(reg *schema.Registry, log *zap.Logger) ([]mutation.Option, func(), error) {
	opts, err := c.Save.Options(reg)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, mutation.WithLogger(log))
	closers := []func(){}
	release := func() {
		for _, fn := range closers {
			fn()
		}
	}
	if n := c.NATS; n != nil {
		tr, err := natstrigger.New(natstrigger.Config{
			URL:           n.URL,
			SubjectPrefix: n.Prefix,
			JetStream:     n.JetStream,
			Logger:        log,
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, tr.Close)
		opts = append(opts, mutation.WithTrigger(tr))
	}
	if r := c.Redis; r != nil {
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
		if err != nil {
			release()
			return nil, nil, err
		}
		opts = append(opts, mutation.WithCache(rc, r.TTL))
	}
	return opts, release, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
