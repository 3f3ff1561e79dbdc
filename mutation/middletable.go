package mutation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/dialect/sql/sqlgraph"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/schema"
)

// MiddleTableOperator reconciles the pairs of a many-to-many association
// stored in a middle table. Inverse associations see the table reversed.
type MiddleTableOperator struct {
	ctx  *saveContext
	prop *schema.Prop
	mt   *schema.MiddleTable
	// physical deletes pairs even when the table has a deleted column.
	physical bool
}

func newMiddleTableOperator(ctx *saveContext, p *schema.Prop) (*MiddleTableOperator, error) {
	mt := p.MiddleTable()
	if mt == nil || mt.Readonly {
		return nil, persist.NewAssociationError(persist.KindReadonlyMiddleTable, ctx.path+"."+p.Name(), ctx.typ.Name(), p.Name())
	}
	return &MiddleTableOperator{ctx: ctx, prop: p, mt: mt}, nil
}

type pairState struct {
	target  any
	deleted bool
}

// existing holds the current pairs of the touched sources.
type existing map[entity.Key]map[entity.Key]pairState

func (e existing) get(source, target any) (pairState, bool) {
	s, ok := e[entity.IDKey(source)][entity.IDKey(target)]
	return s, ok
}

// read loads the pairs of the given sources, logically deleted ones
// included.
func (o *MiddleTableOperator) read(ctx context.Context, sources []any) (existing, error) {
	var (
		mt         = o.mt
		sourceKind = o.prop.Owner().ID().Kind()
		targetKind = o.prop.Target().ID().Kind()
		columns    = []string{mt.SourceColumn, mt.TargetColumn}
		pairs      = make(existing, len(sources))
	)
	if mt.DeletedColumn != "" {
		columns = append(columns, mt.DeletedColumn)
	}
	for _, chunk := range fetch.Chunk(sources, o.ctx.batchSize()) {
		query := sql.Select(columns...).From(mt.Table).Where(sql.In(mt.SourceColumn, len(chunk))).Query(o.ctx.dialect)
		err := o.scan(ctx, query, chunk, len(columns), func(values []any) error {
			s, err := sourceKind.Normalize(values[0])
			if err != nil {
				return err
			}
			t, err := targetKind.Normalize(values[1])
			if err != nil {
				return err
			}
			state := pairState{target: t}
			if len(values) > 2 && values[2] != nil {
				deleted, err := schema.KindBool.Normalize(values[2])
				if err != nil {
					return err
				}
				state.deleted = deleted.(bool)
			}
			m := pairs[entity.IDKey(s)]
			if m == nil {
				m = make(map[entity.Key]pairState)
				pairs[entity.IDKey(s)] = m
			}
			m[entity.IDKey(t)] = state
			return nil
		})
		if err != nil {
			return nil, persist.NewQueryError(mt.Table, "middle table", err)
		}
	}
	return pairs, nil
}

func (o *MiddleTableOperator) scan(ctx context.Context, query string, args []any, n int, fn func([]any) error) (err error) {
	rows := &sql.Rows{}
	if err := o.ctx.drv.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	for rows.Next() {
		values := make([]any, n)
		dest := make([]any, n)
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if err := fn(values); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Append adds the pairs that do not exist yet. Logically deleted pairs are
// restored.
func (o *MiddleTableOperator) Append(ctx context.Context, pairs *IdPairs) error {
	current, err := o.read(ctx, pairs.SourceIDs())
	if err != nil {
		return err
	}
	return o.add(ctx, current, pairs.Tuples())
}

// Merge adds the missing pairs and keeps the existing ones.
func (o *MiddleTableOperator) Merge(ctx context.Context, pairs *IdPairs) error {
	return o.Append(ctx, pairs)
}

// Replace makes the pairs of the touched sources exactly pairs.
func (o *MiddleTableOperator) Replace(ctx context.Context, pairs *IdPairs) error {
	current, err := o.read(ctx, pairs.SourceIDs())
	if err != nil {
		return err
	}
	if err := o.remove(ctx, o.stale(current, pairs)); err != nil {
		return err
	}
	return o.add(ctx, current, pairs.Tuples())
}

// DisconnectExcept removes the pairs of the touched sources that are not
// retained.
func (o *MiddleTableOperator) DisconnectExcept(ctx context.Context, retain *IdPairs) error {
	if retain.Len() == 0 {
		return nil
	}
	current, err := o.read(ctx, retain.SourceIDs())
	if err != nil {
		return err
	}
	return o.remove(ctx, o.stale(current, retain))
}

// stale returns the alive pairs that are not retained.
func (o *MiddleTableOperator) stale(current existing, retain *IdPairs) []IDPair {
	var stale []IDPair
	for _, s := range retain.SourceIDs() {
		for _, state := range current[entity.IDKey(s)] {
			if !state.deleted && !retain.retains(s, state.target) {
				stale = append(stale, IDPair{Source: s, Target: state.target})
			}
		}
	}
	return stale
}

func (o *MiddleTableOperator) add(ctx context.Context, current existing, tuples []IDPair) error {
	var inserts, revives []IDPair
	for _, pair := range tuples {
		state, ok := current.get(pair.Source, pair.Target)
		switch {
		case !ok:
			inserts = append(inserts, pair)
		case state.deleted:
			revives = append(revives, pair)
		}
	}
	mt := o.mt
	if len(revives) > 0 {
		query := sql.Update(mt.Table).Set(mt.DeletedColumn).
			Where(sql.EQ(mt.SourceColumn), sql.EQ(mt.TargetColumn)).
			Query(o.ctx.dialect)
		batch := make([][]any, len(revives))
		for i, pair := range revives {
			batch[i] = []any{false, pair.Source, pair.Target}
		}
		if err := o.write(ctx, persist.OpUpdate, query, batch, revives); err != nil {
			return err
		}
	}
	if len(inserts) == 0 {
		return nil
	}
	columns := []string{mt.SourceColumn, mt.TargetColumn}
	if mt.DeletedColumn != "" {
		columns = append(columns, mt.DeletedColumn)
	}
	query := sql.Insert(mt.Table).Columns(columns...).Query(o.ctx.dialect)
	batch := make([][]any, len(inserts))
	for i, pair := range inserts {
		args := []any{pair.Source, pair.Target}
		if mt.DeletedColumn != "" {
			args = append(args, false)
		}
		batch[i] = args
	}
	return o.write(ctx, persist.OpInsert, query, batch, inserts)
}

func (o *MiddleTableOperator) remove(ctx context.Context, pairs []IDPair) error {
	if len(pairs) == 0 {
		return nil
	}
	mt := o.mt
	var (
		query string
		batch = make([][]any, len(pairs))
	)
	where := []string{sql.EQ(mt.SourceColumn), sql.EQ(mt.TargetColumn)}
	if mt.DeletedColumn != "" && !o.physical && o.ctx.opts.DeleteMode != persist.DeleteModePhysical {
		query = sql.Update(mt.Table).Set(mt.DeletedColumn).Where(where...).Query(o.ctx.dialect)
		for i, pair := range pairs {
			batch[i] = []any{true, pair.Source, pair.Target}
		}
	} else {
		query = sql.Delete(mt.Table).Where(where...).Query(o.ctx.dialect)
		for i, pair := range pairs {
			batch[i] = []any{pair.Source, pair.Target}
		}
	}
	return o.write(ctx, persist.OpDelete, query, batch, pairs)
}

// write executes a statement per pair. Foreign key violations are
// explained by the first target id that does not exist.
func (o *MiddleTableOperator) write(ctx context.Context, op persist.Op, query string, batch [][]any, pairs []IDPair) error {
	var counts []int64
	for _, chunk := range fetch.Chunk(batch, o.ctx.batchSize()) {
		n, err := o.ctx.run(ctx, query, chunk)
		if err != nil {
			if sqlgraph.IsForeignKeyConstraintError(err) {
				if cause := o.illegalTarget(ctx, pairs); cause != nil {
					cause.Err = err
					return cause
				}
			}
			return persist.NewMutationError(o.mt.Table, strings.ToLower(strings.TrimPrefix(op.String(), "Op")), err)
		}
		counts = append(counts, n...)
	}
	o.ctx.count(o.mt.Table, sum(counts))
	owner := o.prop.Owner()
	for i, pair := range pairs {
		if i < len(counts) && counts[i] == 0 {
			continue
		}
		o.ctx.events.prepare(ChangeEvent{Op: op, Type: owner.Name(), Table: o.mt.Table, Source: pair.Source, Target: pair.Target})
	}
	return nil
}

func (o *MiddleTableOperator) illegalTarget(ctx context.Context, pairs []IDPair) *persist.SaveError {
	ids := make([]any, len(pairs))
	for i, pair := range pairs {
		ids[i] = pair.Target
	}
	found, err := o.ctx.exec.FindMapByIDs(ctx, fetch.New(o.prop.Target()), ids)
	if err != nil {
		o.ctx.log.Warn("middle table investigation failed", zap.String("table", o.mt.Table), zap.Error(err))
		return nil
	}
	for _, id := range ids {
		if _, ok := found[entity.IDKey(id)]; !ok {
			return persist.NewIllegalTargetIDError(o.ctx.path+"."+o.prop.Name(), o.ctx.typ.Name(), o.prop.Name(), id)
		}
	}
	return nil
}
