package mutation

import (
	"context"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/schema"
)

const rootPath = "<root>"

// saveContext is the state of one level of a save. Nested levels share
// the connection, the counters and the prepared events of the root.
type saveContext struct {
	opts    *Options
	drv     dialect.ExecQuerier
	dialect sql.Dialect
	exec    *fetch.Executor
	log     *zap.Logger
	typ     *schema.Type
	// path locates the level in the saved graph, such as "<root>.books".
	path string
	// backProp is the association leading back to the parent level. It
	// is never cascaded into.
	backProp *schema.Prop
	mode     persist.SaveMode
	counts   map[string]int
	events   *prepared
	// saving counts the drafts being saved by the enclosing levels.
	saving map[*entity.Draft]int
	root   bool
}

func newRootContext(opts *Options, drv dialect.ExecQuerier, exec *fetch.Executor, typ *schema.Type) *saveContext {
	return &saveContext{
		opts:    opts,
		drv:     drv,
		dialect: opts.Dialect,
		exec:    exec,
		log:     opts.Logger,
		typ:     typ,
		path:    rootPath,
		mode:    opts.Mode,
		counts:  make(map[string]int),
		events:  &prepared{},
		saving:  make(map[*entity.Draft]int),
		root:    true,
	}
}

// propContext returns the context saving the targets of p.
func (c *saveContext) propContext(p *schema.Prop) *saveContext {
	return &saveContext{
		opts:     c.opts,
		drv:      c.drv,
		dialect:  c.dialect,
		exec:     c.exec,
		log:      c.log,
		typ:      p.Target(),
		path:     c.path + "." + p.Name(),
		backProp: p.Opposite(),
		mode:     c.opts.associatedMode(p).SaveMode(),
		counts:   c.counts,
		events:   c.events,
		saving:   c.saving,
	}
}

// visitable reports whether the association should be cascaded into.
func (c *saveContext) visitable(p *schema.Prop) bool {
	return c.backProp == nil || p != c.backProp
}

func (c *saveContext) count(name string, n int) {
	if n > 0 {
		c.counts[name] += n
	}
}

func (c *saveContext) keyMatcher() *schema.KeyMatcher {
	return c.opts.keyMatcher(c.typ)
}

func (c *saveContext) batchSize() int {
	return c.opts.BatchSize
}

// run executes a statement once per argument list and returns the
// affected row counts. Unknown counts are reported as 1.
func (c *saveContext) run(ctx context.Context, query string, batch [][]any) ([]int64, error) {
	results, err := sql.ExecBatch(ctx, c.drv, query, batch)
	c.log.Debug("statement executed",
		zap.String("path", c.path),
		zap.String("query", query),
		zap.Int("rows", len(batch)),
		zap.Error(err),
	)
	if err != nil {
		return nil, err
	}
	counts := sql.RowCounts(results)
	for i, n := range counts {
		if n == sql.SuccessNoInfo {
			counts[i] = 1
		}
	}
	return counts, nil
}

func sum(counts []int64) int {
	var n int64
	for _, c := range counts {
		if c > 0 {
			n += c
		}
	}
	return int(n)
}

// evict drops the cached rows of a type.
func (c *saveContext) evict(ctx context.Context, t *schema.Type, ids []any) {
	if err := c.exec.Evict(ctx, t, ids...); err != nil {
		c.log.Warn("cache eviction failed", zap.String("type", t.Name()), zap.Error(err))
	}
}
