package sql

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/syssam/persist/dialect"
)

// Statement describes one statement run through a HookedDriver.
type Statement struct {
	SQL      string
	Args     []any
	Query    bool
	InTx     bool
	Duration time.Duration
	Err      error
}

// Verb returns the lower-cased leading keyword of the statement, such as
// "insert", or "other" for anything the save engine does not issue.
func (s Statement) Verb() string {
	word, _, _ := strings.Cut(strings.TrimSpace(s.SQL), " ")
	switch w := strings.ToLower(word); w {
	case "insert", "update", "delete", "select":
		return w
	}
	return "other"
}

// TxEvent reports the begin, commit or rollback of a transaction.
type TxEvent struct {
	Name string
	Err  error
}

// Hook observes the statements and transactions of a HookedDriver.
// Hooks run synchronously after the statement returned.
type Hook interface {
	Statement(context.Context, Statement)
	Tx(context.Context, TxEvent)
}

// HookedDriver is a Driver reporting every statement to its hooks.
//
//	stats := sql.NewStats()
//	drv := sql.WithHooks(base, stats, sql.SlowLog(logger, 200*time.Millisecond))
//	tx, _ := drv.Tx(ctx)
//	saver, _ := mutation.NewSaver(tx, registry)
type HookedDriver struct {
	*Driver
	hooks []Hook
}

// WithHooks wraps drv with the given hooks.
func WithHooks(drv *Driver, hooks ...Hook) *HookedDriver {
	return &HookedDriver{Driver: drv, hooks: hooks}
}

// Query runs a query and reports it.
func (d *HookedDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	notify(ctx, d.hooks, query, args, start, err, true, false)
	return err
}

// Exec runs a statement and reports it.
func (d *HookedDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	notify(ctx, d.hooks, query, args, start, err, false, false)
	return err
}

// Tx starts a transaction whose statements are reported too.
func (d *HookedDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	for _, h := range d.hooks {
		h.Tx(ctx, TxEvent{Name: "begin", Err: err})
	}
	if err != nil {
		return nil, err
	}
	return &HookedTx{Tx: tx, hooks: d.hooks}, nil
}

// HookedTx is a transaction reporting to the hooks of its driver.
type HookedTx struct {
	dialect.Tx
	hooks []Hook
}

// Dialect returns the dialect of the underlying transaction.
func (tx *HookedTx) Dialect() string {
	if n, ok := tx.Tx.(dialect.Namer); ok {
		return n.Dialect()
	}
	return ""
}

// Query runs a query in the transaction and reports it.
func (tx *HookedTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	notify(ctx, tx.hooks, query, args, start, err, true, true)
	return err
}

// Exec runs a statement in the transaction and reports it.
func (tx *HookedTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	notify(ctx, tx.hooks, query, args, start, err, false, true)
	return err
}

// Commit commits the transaction.
func (tx *HookedTx) Commit() error {
	err := tx.Tx.Commit()
	tx.event("commit", err)
	return err
}

// Rollback rolls the transaction back.
func (tx *HookedTx) Rollback() error {
	err := tx.Tx.Rollback()
	tx.event("rollback", err)
	return err
}

func (tx *HookedTx) event(name string, err error) {
	for _, h := range tx.hooks {
		h.Tx(context.Background(), TxEvent{Name: name, Err: err})
	}
}

func notify(ctx context.Context, hooks []Hook, query string, args any, start time.Time, err error, isQuery, inTx bool) {
	if len(hooks) == 0 {
		return
	}
	argv, _ := args.([]any)
	s := Statement{SQL: query, Args: argv, Query: isQuery, InTx: inTx, Duration: time.Since(start), Err: err}
	for _, h := range hooks {
		h.Statement(ctx, s)
	}
}

var (
	_ dialect.Driver = (*HookedDriver)(nil)
	_ dialect.Tx     = (*HookedTx)(nil)
	_ dialect.Namer  = (*HookedTx)(nil)
)

// Stats counts statements per verb. It is safe for concurrent use.
type Stats struct {
	mu        sync.Mutex
	verbs     map[string]int64
	errors    int64
	slow      int64
	commits   int64
	rollbacks int64
	duration  time.Duration
	threshold time.Duration
}

// NewStats returns a Stats counting statements slower than 100ms as slow.
func NewStats() *Stats {
	return &Stats{verbs: make(map[string]int64), threshold: 100 * time.Millisecond}
}

// SetSlowThreshold changes the duration above which a statement is slow.
func (s *Stats) SetSlowThreshold(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = d
}

// Statement implements Hook.
func (s *Stats) Statement(_ context.Context, st Statement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verbs[st.Verb()]++
	s.duration += st.Duration
	if st.Err != nil {
		s.errors++
	}
	if st.Duration > s.threshold {
		s.slow++
	}
}

// Tx implements Hook.
func (s *Stats) Tx(_ context.Context, e TxEvent) {
	if e.Err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e.Name {
	case "commit":
		s.commits++
	case "rollback":
		s.rollbacks++
	}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	verbs := make(map[string]int64, len(s.verbs))
	for k, v := range s.verbs {
		verbs[k] = v
	}
	return StatsSnapshot{
		Statements: verbs,
		Errors:     s.errors,
		Slow:       s.slow,
		Commits:    s.commits,
		Rollbacks:  s.rollbacks,
		Duration:   s.duration,
	}
}

// Reset clears the counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verbs = make(map[string]int64)
	s.errors, s.slow, s.commits, s.rollbacks, s.duration = 0, 0, 0, 0, 0
}

// StatsSnapshot is a copy of the counters of a Stats.
type StatsSnapshot struct {
	// Statements counts the statements per verb.
	Statements map[string]int64
	Errors     int64
	Slow       int64
	Commits    int64
	Rollbacks  int64
	Duration   time.Duration
}

// Total returns the number of statements.
func (s StatsSnapshot) Total() int64 {
	var n int64
	for _, c := range s.Statements {
		n += c
	}
	return n
}

// String returns a summary such as "insert=2 select=1 errors=0 slow=0 duration=3ms".
func (s StatsSnapshot) String() string {
	verbs := make([]string, 0, len(s.Statements))
	for v := range s.Statements {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	var b strings.Builder
	for _, v := range verbs {
		fmt.Fprintf(&b, "%s=%d ", v, s.Statements[v])
	}
	fmt.Fprintf(&b, "errors=%d slow=%d duration=%s", s.Errors, s.Slow, s.Duration)
	return b.String()
}

// DebugLog returns a hook logging every statement and transaction event
// to l at debug level.
func DebugLog(l *zap.Logger) Hook {
	return debugLog{l: l}
}

type debugLog struct{ l *zap.Logger }

func (h debugLog) Statement(_ context.Context, s Statement) {
	h.l.Debug(s.Verb(),
		zap.String("sql", s.SQL),
		zap.Any("args", s.Args),
		zap.Bool("tx", s.InTx),
		zap.Duration("duration", s.Duration),
		zap.Error(s.Err),
	)
}

func (h debugLog) Tx(_ context.Context, e TxEvent) {
	h.l.Debug("tx "+e.Name, zap.Error(e.Err))
}

// SlowLog returns a hook warning about statements slower than threshold.
func SlowLog(l *zap.Logger, threshold time.Duration) Hook {
	return slowLog{l: l, threshold: threshold}
}

type slowLog struct {
	l         *zap.Logger
	threshold time.Duration
}

func (h slowLog) Statement(_ context.Context, s Statement) {
	if s.Duration <= h.threshold {
		return
	}
	h.l.Warn("slow statement",
		zap.Duration("duration", s.Duration),
		zap.String("sql", s.SQL),
		zap.Any("args", s.Args),
	)
}

func (slowLog) Tx(context.Context, TxEvent) {}
