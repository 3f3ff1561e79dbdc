package mutation

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/privacy"
	"github.com/syssam/persist/schema"
)

// DefaultInvestigateThreshold is the number of failed rows from which a
// failed batch is investigated with set-oriented queries.
const DefaultInvestigateThreshold = 10

// ErrInvalidOption is matched by every ConfigError.
var ErrInvalidOption = errors.New("mutation: invalid option")

// ConfigError reports an invalid option value.
type ConfigError struct {
	Option  string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("mutation: config error for %q (value: %v): %s", e.Option, e.Value, e.Message)
	}
	return fmt.Sprintf("mutation: config error for %q: %s", e.Option, e.Message)
}

// Is reports whether the target is ErrInvalidOption.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidOption
}

// NewConfigError returns a new ConfigError.
func NewConfigError(option string, value any, message string) *ConfigError {
	return &ConfigError{Option: option, Value: value, Message: message}
}

// IsConfigError reports whether the error is a ConfigError.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// UserLock is an optimistic lock predicate added to the UPDATE statements
// of a type, such as "TOKEN = ?". Args returns its arguments for a draft.
type UserLock struct {
	Predicate string
	Args      func(d *entity.Draft) []any
}

// Options holds the configuration of a save.
type Options struct {
	// Dialect is detected from the driver when nil.
	Dialect sql.Dialect
	// Mode is the requested mode of the root drafts.
	Mode persist.SaveMode
	// AssociatedMode applies to every association without an override.
	AssociatedMode persist.AssociatedSaveMode
	// AssociatedModes overrides AssociatedMode per "Type.prop".
	AssociatedModes map[string]persist.AssociatedSaveMode
	DeleteMode      persist.DeleteMode
	LockMode        persist.LockMode
	// UserLocks holds the user lock predicates per type name.
	UserLocks map[string]UserLock
	// KeyMatchers overrides the key groups declared by the schema.
	KeyMatchers map[string]*schema.KeyMatcher
	// BatchSize bounds the rows written per batch and the values bound to
	// one IN list. Zero means unbounded batches.
	BatchSize            int
	InvestigateThreshold int
	// Fetcher is the shape of the returned root drafts.
	Fetcher *fetch.Fetcher
	// BypassCache disables the fetch cache when re-fetching saved drafts.
	BypassCache bool
	Cache       persist.Cache
	CacheTTL    time.Duration
	Policy      privacy.MutationRule
	Trigger     Trigger
	Logger      *zap.Logger
}

func defaultOptions() *Options {
	return &Options{
		InvestigateThreshold: DefaultInvestigateThreshold,
		BypassCache:          true,
		Logger:               zap.NewNop(),
	}
}

func (o *Options) clone() *Options {
	c := *o
	return &c
}

// Option configures a save.
type Option func(*Options) error

// WithDialect sets the dialect.
func WithDialect(d sql.Dialect) Option {
	return func(o *Options) error {
		if d == nil {
			return NewConfigError("Dialect", nil, "dialect cannot be nil")
		}
		o.Dialect = d
		return nil
	}
}

// WithMode sets the mode of the root drafts.
func WithMode(m persist.SaveMode) Option {
	return func(o *Options) error {
		if m > persist.SaveModeInsertIfAbsent {
			return NewConfigError("Mode", m, "unknown save mode")
		}
		o.Mode = m
		return nil
	}
}

// WithAssociatedMode sets the default associated save mode.
func WithAssociatedMode(m persist.AssociatedSaveMode) Option {
	return func(o *Options) error {
		if m > persist.AssociatedViolentlyReplace {
			return NewConfigError("AssociatedMode", m, "unknown associated save mode")
		}
		o.AssociatedMode = m
		return nil
	}
}

// WithAssociatedModeOf overrides the associated save mode of one
// association, named "Type.prop".
func WithAssociatedModeOf(prop string, m persist.AssociatedSaveMode) Option {
	return func(o *Options) error {
		if prop == "" {
			return NewConfigError("AssociatedModes", nil, "property cannot be empty")
		}
		if m > persist.AssociatedViolentlyReplace {
			return NewConfigError("AssociatedModes", m, "unknown associated save mode")
		}
		modes := make(map[string]persist.AssociatedSaveMode, len(o.AssociatedModes)+1)
		for k, v := range o.AssociatedModes {
			modes[k] = v
		}
		modes[prop] = m
		o.AssociatedModes = modes
		return nil
	}
}

// WithDeleteMode sets how dissociated children are deleted.
func WithDeleteMode(m persist.DeleteMode) Option {
	return func(o *Options) error {
		o.DeleteMode = m
		return nil
	}
}

// WithLockMode sets the optimistic lock strategy.
func WithLockMode(m persist.LockMode) Option {
	return func(o *Options) error {
		o.LockMode = m
		return nil
	}
}

// WithUserLock adds a user lock predicate to the updates of a type.
func WithUserLock(typ string, lock UserLock) Option {
	return func(o *Options) error {
		if lock.Predicate == "" {
			return NewConfigError("UserLocks", typ, "predicate cannot be empty")
		}
		locks := make(map[string]UserLock, len(o.UserLocks)+1)
		for k, v := range o.UserLocks {
			locks[k] = v
		}
		locks[typ] = lock
		o.UserLocks = locks
		return nil
	}
}

// WithKeyMatcher overrides the key groups of a type.
func WithKeyMatcher(typ string, m *schema.KeyMatcher) Option {
	return func(o *Options) error {
		if m == nil {
			return NewConfigError("KeyMatchers", typ, "key matcher cannot be nil")
		}
		matchers := make(map[string]*schema.KeyMatcher, len(o.KeyMatchers)+1)
		for k, v := range o.KeyMatchers {
			matchers[k] = v
		}
		matchers[typ] = m
		o.KeyMatchers = matchers
		return nil
	}
}

// WithBatchSize bounds the size of the executed batches.
func WithBatchSize(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return NewConfigError("BatchSize", n, "batch size cannot be negative")
		}
		o.BatchSize = n
		return nil
	}
}

// WithInvestigateThreshold sets the number of failed rows from which a
// failed batch is investigated at once.
func WithInvestigateThreshold(n int) Option {
	return func(o *Options) error {
		if n <= 0 {
			return NewConfigError("InvestigateThreshold", n, "threshold must be positive")
		}
		o.InvestigateThreshold = n
		return nil
	}
}

// WithFetcher sets the shape of the returned root drafts.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(o *Options) error {
		o.Fetcher = f
		return nil
	}
}

// WithBypassCache controls whether re-fetches skip the fetch cache.
func WithBypassCache(bypass bool) Option {
	return func(o *Options) error {
		o.BypassCache = bypass
		return nil
	}
}

// WithCache sets the cache of the fetch executor. Saved rows are evicted.
func WithCache(c persist.Cache, ttl time.Duration) Option {
	return func(o *Options) error {
		if ttl < 0 {
			return NewConfigError("CacheTTL", ttl, "ttl cannot be negative")
		}
		o.Cache, o.CacheTTL = c, ttl
		return nil
	}
}

// WithPolicy sets the policy evaluated for every saved draft.
func WithPolicy(p privacy.MutationRule) Option {
	return func(o *Options) error {
		o.Policy = p
		return nil
	}
}

// WithTrigger sets the trigger receiving the changes of successful saves.
func WithTrigger(t Trigger) Option {
	return func(o *Options) error {
		o.Trigger = t
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) error {
		if l == nil {
			return NewConfigError("Logger", nil, "logger cannot be nil")
		}
		o.Logger = l
		return nil
	}
}

func (o *Options) apply(opts []Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// associatedMode returns the mode of an association.
func (o *Options) associatedMode(p *schema.Prop) persist.AssociatedSaveMode {
	if m, ok := o.AssociatedModes[p.String()]; ok {
		return m
	}
	return o.AssociatedMode
}

// keyMatcher returns the key matcher of a type.
func (o *Options) keyMatcher(t *schema.Type) *schema.KeyMatcher {
	if m, ok := o.KeyMatchers[t.Name()]; ok {
		return m
	}
	return t.KeyMatcher()
}
