package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/persist"
	"github.com/syssam/persist/cache"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/schema"
)

// DefaultChunkSize bounds the number of values bound to one IN list.
const DefaultChunkSize = 500

// Executor runs the queries of the save engine: lookups by id and by key
// group, arbitrary predicate queries and association loading.
type Executor struct {
	drv   dialect.ExecQuerier
	d     sql.Dialect
	cache persist.Cache
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
	chunk int
}

// Option configures an Executor.
type Option func(*Executor)

// WithCache caches the rows loaded by id. Contexts derived from
// persist.WithoutCache skip it.
func WithCache(c persist.Cache, ttl time.Duration) Option {
	return func(e *Executor) {
		e.cache, e.ttl = c, ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithChunkSize sets the maximum IN list length.
func WithChunkSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.chunk = n
		}
	}
}

// NewExecutor returns an executor issuing queries on drv in the syntax of d.
func NewExecutor(drv dialect.ExecQuerier, d sql.Dialect, opts ...Option) *Executor {
	e := &Executor{drv: drv, d: d, log: zap.NewNop(), chunk: DefaultChunkSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindByIDs loads the drafts with the given ids, in id order. Missing ids
// are skipped.
func (e *Executor) FindByIDs(ctx context.Context, f *Fetcher, ids []any) ([]*entity.Draft, error) {
	t := f.Type()
	keys := make([]entity.Key, 0, len(ids))
	norm := make([]any, 0, len(ids))
	seen := make(map[entity.Key]bool, len(ids))
	for _, id := range ids {
		v, err := entity.NormalizeID(t, id)
		if err != nil {
			return nil, persist.NewQueryError(t.Name(), "ids", err)
		}
		k := entity.IDKey(v)
		keys = append(keys, k)
		if !seen[k] {
			seen[k] = true
			norm = append(norm, v)
		}
	}
	if len(norm) == 0 {
		return nil, nil
	}
	rows, err := e.rowsByIDs(ctx, f, norm)
	if err != nil {
		return nil, persist.NewQueryError(t.Name(), "ids", err)
	}
	drafts, err := e.build(ctx, f, rows)
	if err != nil {
		return nil, persist.NewQueryError(t.Name(), "ids", err)
	}
	return OrderByKeys(keys, drafts, draftIDKey), nil
}

// FindMapByIDs is like FindByIDs but indexes the drafts by entity.IDKey.
func (e *Executor) FindMapByIDs(ctx context.Context, f *Fetcher, ids []any) (map[entity.Key]*entity.Draft, error) {
	drafts, err := e.FindByIDs(ctx, f, ids)
	if err != nil {
		return nil, err
	}
	m := make(map[entity.Key]*entity.Draft, len(drafts))
	for _, d := range drafts {
		m[draftIDKey(d)] = d
	}
	return m, nil
}

// FindByKeys loads the drafts whose key group values are one of keys. The
// group properties are always loaded.
func (e *Executor) FindByKeys(ctx context.Context, f *Fetcher, g *schema.KeyGroup, keys [][]any) ([]*entity.Draft, error) {
	t := f.Type()
	props := g.Props()
	f = f.Add(g.PropNames()...)
	tuples := make([][]any, 0, len(keys))
	seen := make(map[entity.Key]bool, len(keys))
	for _, key := range keys {
		if len(key) != len(props) {
			return nil, persist.NewQueryError(t.Name(), "keys", fmt.Errorf("key group %q expects %d values, got %d", g.Name(), len(props), len(key)))
		}
		tuple := make([]any, len(key))
		for i, v := range key {
			if d, ok := v.(*entity.Draft); ok {
				v, _ = d.ID()
			}
			nv, err := props[i].Kind().Normalize(v)
			if err != nil {
				return nil, persist.NewQueryError(t.Name(), "keys", err)
			}
			tuple[i] = nv
		}
		if k := entity.KeyOfValues(tuple...); !seen[k] {
			seen[k] = true
			tuples = append(tuples, tuple)
		}
	}
	var drafts []*entity.Draft
	for _, chunk := range Chunk(tuples, e.chunk/len(props)+1) {
		args := make([]any, 0, len(chunk)*len(props))
		for _, tuple := range chunk {
			args = append(args, tuple...)
		}
		found, err := e.FindRows(ctx, f, sql.TupleIn(g.Columns(), len(chunk)), args...)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, found...)
	}
	return drafts, nil
}

// FindMapByKeys is like FindByKeys but indexes the drafts by the
// entity.KeyOf their group properties.
func (e *Executor) FindMapByKeys(ctx context.Context, f *Fetcher, g *schema.KeyGroup, keys [][]any) (map[entity.Key]*entity.Draft, error) {
	drafts, err := e.FindByKeys(ctx, f, g, keys)
	if err != nil {
		return nil, err
	}
	m := make(map[entity.Key]*entity.Draft, len(drafts))
	for _, d := range drafts {
		if k, ok := entity.KeyOf(d, g.Props()); ok {
			m[k] = d
		}
	}
	return m, nil
}

// FindRows loads the drafts matching a raw predicate. An empty predicate
// loads the whole table.
func (e *Executor) FindRows(ctx context.Context, f *Fetcher, where string, args ...any) ([]*entity.Draft, error) {
	t := f.Type()
	rows, err := e.query(ctx, t, f.columns(), where, args)
	if err != nil {
		return nil, persist.NewQueryError(t.Name(), "rows", err)
	}
	drafts, err := e.build(ctx, f, rows)
	if err != nil {
		return nil, persist.NewQueryError(t.Name(), "rows", err)
	}
	return drafts, nil
}

// Evict removes every cached shape of the given rows.
func (e *Executor) Evict(ctx context.Context, t *schema.Type, ids ...any) error {
	if e.cache == nil {
		return nil
	}
	for _, id := range ids {
		key := persist.CacheKey{Table: t.Table(), ID: fmt.Sprint(id)}
		if err := e.cache.DeletePrefix(ctx, key.Prefix()); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) rowsByIDs(ctx context.Context, f *Fetcher, ids []any) ([]cache.Row, error) {
	t, props := f.Type(), f.columns()
	if e.cache == nil || persist.CacheBypassed(ctx) {
		return e.queryIDs(ctx, t, props, ids)
	}
	shape := propNames(props)
	var (
		rows   = make([]cache.Row, 0, len(ids))
		misses []any
	)
	for _, id := range ids {
		key := persist.CacheKey{Table: t.Table(), Shape: shape, ID: fmt.Sprint(id)}
		b, err := e.cache.Get(ctx, key.String())
		if err != nil {
			e.log.Warn("cache get failed", zap.String("key", key.String()), zap.Error(err))
		}
		if b == nil {
			misses = append(misses, id)
			continue
		}
		row, err := cache.DecodeRow(b)
		if err == nil {
			err = normalizeRow(row, props)
		}
		if err != nil {
			e.log.Warn("cache entry dropped", zap.String("key", key.String()), zap.Error(err))
			misses = append(misses, id)
			continue
		}
		rows = append(rows, row)
	}
	if len(misses) == 0 {
		return rows, nil
	}
	flight := make([]string, len(misses))
	for i, id := range misses {
		flight[i] = string(entity.IDKey(id))
	}
	v, err, _ := e.group.Do(t.Table()+"\x01"+shape+"\x01"+strings.Join(flight, "\x01"), func() (any, error) {
		return e.queryIDs(ctx, t, props, misses)
	})
	if err != nil {
		return nil, err
	}
	loaded := v.([]cache.Row)
	idName := t.ID().Name()
	for _, row := range loaded {
		key := persist.CacheKey{Table: t.Table(), Shape: shape, ID: fmt.Sprint(row[idName])}
		b, err := cache.EncodeRow(row)
		if err == nil {
			err = e.cache.Set(ctx, key.String(), b, e.ttl)
		}
		if err != nil {
			e.log.Warn("cache set failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	return append(rows, loaded...), nil
}

func (e *Executor) queryIDs(ctx context.Context, t *schema.Type, props []*schema.Prop, ids []any) ([]cache.Row, error) {
	var rows []cache.Row
	for _, chunk := range Chunk(ids, e.chunk) {
		found, err := e.query(ctx, t, props, sql.In(t.ID().Column(), len(chunk)), chunk)
		if err != nil {
			return nil, err
		}
		rows = append(rows, found...)
	}
	return rows, nil
}

func (e *Executor) query(ctx context.Context, t *schema.Type, props []*schema.Prop, where string, args []any) (_ []cache.Row, err error) {
	columns := make([]string, len(props))
	for i, p := range props {
		columns[i] = p.Column()
	}
	sel := sql.Select(columns...).From(t.Table())
	if where != "" {
		sel.Where(where)
	}
	if args == nil {
		args = []any{}
	}
	query := sel.Query(e.d)
	rows := &sql.Rows{}
	if err := e.drv.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	var result []cache.Row
	for rows.Next() {
		values := make([]any, len(props))
		dest := make([]any, len(props))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make(cache.Row, len(props))
		for i, p := range props {
			row[p.Name()] = values[i]
		}
		if err := normalizeRow(row, props); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	e.log.Debug("rows loaded", zap.String("type", t.Name()), zap.Int("rows", len(result)))
	return result, nil
}

func normalizeRow(row cache.Row, props []*schema.Prop) error {
	for _, p := range props {
		v, err := p.Kind().Normalize(row[p.Name()])
		if err != nil {
			return fmt.Errorf("column %s: %w", p.Column(), err)
		}
		row[p.Name()] = v
	}
	return nil
}

// build turns rows into drafts and loads the association fields of f.
func (e *Executor) build(ctx context.Context, f *Fetcher, rows []cache.Row) ([]*entity.Draft, error) {
	t := f.Type()
	props := f.columns()
	drafts := make([]*entity.Draft, len(rows))
	for i, row := range rows {
		d := entity.New(t)
		for _, p := range props {
			v := row[p.Name()]
			if p.IsReference() && v != nil {
				v = entity.IDOnly(p.Target(), v)
			}
			if err := d.SetField(p.Name(), v); err != nil {
				return nil, err
			}
		}
		drafts[i] = d
	}
	if len(drafts) == 0 {
		return drafts, nil
	}
	for _, fd := range f.Fields() {
		if fd.Child == nil {
			continue
		}
		if err := e.loadAssociation(ctx, fd, drafts); err != nil {
			return nil, err
		}
	}
	return drafts, nil
}

func (e *Executor) loadAssociation(ctx context.Context, fd Field, drafts []*entity.Draft) error {
	p := fd.Prop
	switch {
	case p.IsRemote() || p.JoinSQL() != "":
		e.log.Debug("association skipped", zap.Stringer("prop", p))
		return nil
	case p.IsReference() && p.IsColumnDefinition():
		return e.loadReference(ctx, fd, drafts)
	case p.MiddleTable() != nil:
		return e.loadMiddleTable(ctx, fd, drafts)
	case p.MappedBy() != nil:
		return e.loadInverse(ctx, fd, drafts)
	}
	return fmt.Errorf("cannot load association %s", p)
}

func (e *Executor) loadReference(ctx context.Context, fd Field, drafts []*entity.Draft) error {
	if fd.Child.IDOnly() {
		return nil
	}
	name := fd.Prop.Name()
	var ids []any
	for _, d := range drafts {
		if ref := d.Ref(name); ref != nil {
			id, _ := ref.ID()
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	targets, err := e.FindMapByIDs(ctx, fd.Child, ids)
	if err != nil {
		return err
	}
	for _, d := range drafts {
		if ref := d.Ref(name); ref != nil {
			// Dangling references of fake foreign keys stay id-only.
			if target, ok := targets[draftIDKey(ref)]; ok {
				d.Set(name, target)
			}
		}
	}
	return nil
}

// loadInverse loads one-to-many and inverse one-to-one associations through
// the foreign key of the target.
func (e *Executor) loadInverse(ctx context.Context, fd Field, drafts []*entity.Draft) error {
	p, back := fd.Prop, fd.Prop.MappedBy()
	child := fd.Child
	_, requested := child.Field(back.Name())
	if !requested {
		child = child.Add(back.Name())
	}
	ids := parentIDs(drafts)
	var children []*entity.Draft
	for _, chunk := range Chunk(ids, e.chunk) {
		found, err := e.FindRows(ctx, child, sql.In(back.Column(), len(chunk)), chunk...)
		if err != nil {
			return err
		}
		children = append(children, found...)
	}
	groups := GroupByKey(children, func(c *entity.Draft) entity.Key {
		return draftIDKey(c.Ref(back.Name()))
	})
	if !requested {
		for _, c := range children {
			c.Unload(back.Name())
		}
	}
	for _, d := range drafts {
		id, ok := d.ID()
		if !ok {
			continue
		}
		list := groups[entity.IDKey(id)]
		if p.IsReferenceList() {
			d.Set(p.Name(), list)
			continue
		}
		var one *entity.Draft
		if len(list) > 0 {
			one = list[0]
		}
		d.Set(p.Name(), one)
	}
	return nil
}

func (e *Executor) loadMiddleTable(ctx context.Context, fd Field, drafts []*entity.Draft) error {
	p := fd.Prop
	mt := p.MiddleTable()
	ids := parentIDs(drafts)
	sourceKind, targetKind := p.Owner().ID().Kind(), p.Target().ID().Kind()
	type pair struct{ source, target any }
	var pairs []pair
	for _, chunk := range Chunk(ids, e.chunk) {
		preds := []string{sql.In(mt.SourceColumn, len(chunk))}
		args := append([]any{}, chunk...)
		if mt.DeletedColumn != "" {
			preds = append(preds, sql.EQ(mt.DeletedColumn))
			args = append(args, false)
		}
		query := sql.Select(mt.SourceColumn, mt.TargetColumn).From(mt.Table).Where(preds...).Query(e.d)
		err := scanPairs(ctx, e.drv, query, args, func(src, tgt any) error {
			s, err := sourceKind.Normalize(src)
			if err != nil {
				return err
			}
			t, err := targetKind.Normalize(tgt)
			if err != nil {
				return err
			}
			pairs = append(pairs, pair{s, t})
			return nil
		})
		if err != nil {
			return persist.NewQueryError(mt.Table, "middle table", err)
		}
	}
	targetIDs := make([]any, len(pairs))
	for i, pr := range pairs {
		targetIDs[i] = pr.target
	}
	targets, err := e.FindMapByIDs(ctx, fd.Child, targetIDs)
	if err != nil {
		return err
	}
	bySource := GroupByKey(pairs, func(pr pair) entity.Key { return entity.IDKey(pr.source) })
	for _, d := range drafts {
		id, ok := d.ID()
		if !ok {
			continue
		}
		list := []*entity.Draft{}
		for _, pr := range bySource[entity.IDKey(id)] {
			if target, ok := targets[entity.IDKey(pr.target)]; ok {
				list = append(list, target)
			}
		}
		d.Set(p.Name(), list)
	}
	return nil
}

func scanPairs(ctx context.Context, drv dialect.ExecQuerier, query string, args []any, fn func(src, tgt any) error) (err error) {
	rows := &sql.Rows{}
	if err := drv.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	for rows.Next() {
		var src, tgt any
		if err := rows.Scan(&src, &tgt); err != nil {
			return err
		}
		if err := fn(src, tgt); err != nil {
			return err
		}
	}
	return rows.Err()
}

func parentIDs(drafts []*entity.Draft) []any {
	ids := make([]any, 0, len(drafts))
	seen := make(map[entity.Key]bool, len(drafts))
	for _, d := range drafts {
		if id, ok := d.ID(); ok {
			if k := entity.IDKey(id); !seen[k] {
				seen[k] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func draftIDKey(d *entity.Draft) entity.Key {
	if d == nil {
		return entity.IDKey(nil)
	}
	id, _ := d.ID()
	return entity.IDKey(id)
}

func propNames(props []*schema.Prop) string {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}
