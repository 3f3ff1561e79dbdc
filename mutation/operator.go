package mutation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/dialect/sql/sqlgraph"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/privacy"
	"github.com/syssam/persist/schema"
)

// Operator writes the batches of one level.
type Operator struct {
	ctx *saveContext
	pre *PreHandler
}

func newOperator(ctx *saveContext, pre *PreHandler) *Operator {
	return &Operator{ctx: ctx, pre: pre}
}

// Execute writes a batch with the statement of its mode. Batches larger
// than the configured batch size are split.
func (o *Operator) Execute(ctx context.Context, b *Batch) error {
	for _, drafts := range fetch.Chunk(b.Drafts, o.ctx.batchSize()) {
		chunk := *b
		chunk.Drafts = drafts
		var err error
		switch b.Mode {
		case persist.SaveModeInsertOnly:
			err = o.Insert(ctx, &chunk)
		case persist.SaveModeUpdateOnly:
			err = o.Update(ctx, &chunk)
		default:
			err = o.Upsert(ctx, &chunk, b.IgnoreUpdate)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// column is a column written by an INSERT. Implicit columns are not
// loaded by the drafts and take a constant value.
type column struct {
	prop     *schema.Prop
	implicit bool
	constant any
}

func (c column) value(d *entity.Draft) any {
	if c.implicit {
		return c.constant
	}
	return columnValue(d, c.prop)
}

// columnValue returns the value bound for a column property. References
// bind the id of their target.
func columnValue(d *entity.Draft, p *schema.Prop) any {
	v := d.Value(p.Name())
	if ref, ok := v.(*entity.Draft); ok {
		if ref == nil {
			return nil
		}
		id, _ := ref.ID()
		return id
	}
	return v
}

func insertColumns(s Shape) []column {
	t := s.Type()
	var cols []column
	for _, p := range s.ColumnProps() {
		cols = append(cols, column{prop: p})
	}
	if v := t.Version(); v != nil && !s.Has(v.Name()) {
		cols = append(cols, column{prop: v, implicit: true, constant: int64(0)})
	}
	if l := t.LogicalDeletedProp(); l != nil && !s.Has(l.Name()) && l.LogicalDeleted().Initial != nil {
		initial, err := l.Kind().Normalize(l.LogicalDeleted().Initial)
		if err == nil {
			cols = append(cols, column{prop: l, implicit: true, constant: initial})
		}
	}
	return cols
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.prop.Column()
	}
	return names
}

func propColumns(props []*schema.Prop) []string {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Column()
	}
	return names
}

func insertArgs(cols []column, drafts []*entity.Draft) [][]any {
	batch := make([][]any, len(drafts))
	for i, d := range drafts {
		args := make([]any, len(cols))
		for j, c := range cols {
			args[j] = c.value(d)
		}
		batch[i] = args
	}
	return batch
}

// Insert inserts the drafts of a batch. Identity ids are read back with
// RETURNING or LastInsertId.
func (o *Operator) Insert(ctx context.Context, b *Batch) error {
	t := o.ctx.typ
	if err := o.authorize(ctx, persist.OpInsert, b.Drafts); err != nil {
		return err
	}
	cols := insertColumns(b.Shape)
	identity := t.IDGenerator().IsIdentity() && !b.Shape.IDLoaded()
	ins := sql.Insert(t.Table()).Columns(columnNames(cols)...)
	if identity {
		ins.Returning(t.ID().Column())
	}
	counts, err := o.execute(ctx, b, "insert", ins.Query(o.ctx.dialect), insertArgs(cols, b.Drafts), identity)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if !c.implicit {
			continue
		}
		for _, d := range b.Drafts {
			d.Set(c.prop.Name(), c.constant)
		}
	}
	o.applied(ctx, persist.OpInsert, b.Drafts, counts)
	return nil
}

// Update updates the drafts of a batch by id or, for keyed batches, by
// the values of the key group.
func (o *Operator) Update(ctx context.Context, b *Batch) error {
	t := o.ctx.typ
	drafts := b.Drafts
	if b.Group != nil {
		drafts = o.existing(b.Group, drafts)
		if len(drafts) == 0 {
			return nil
		}
	}
	lockMode := o.ctx.opts.LockMode
	version := t.Version()
	versioned := version != nil && b.Shape.Has(version.Name()) && lockMode != persist.LockModeNone
	if version != nil && !b.Shape.Has(version.Name()) && lockMode == persist.LockModeOptimistic {
		id, _ := drafts[0].ID()
		return persist.NewOptimisticLockError(o.ctx.path, t.Name(), id)
	}
	userLock, locked := o.ctx.opts.UserLocks[t.Name()]
	locked = locked && lockMode != persist.LockModeNone
	if err := o.authorize(ctx, persist.OpUpdate, drafts); err != nil {
		return err
	}
	var sets []*schema.Prop
	for _, p := range b.Shape.ColumnProps() {
		if p.IsID() || p.IsVersion() || (b.Group != nil && containsProp(b.Group.Props(), p)) {
			continue
		}
		sets = append(sets, p)
	}
	upd := sql.Update(t.Table()).Set(propColumns(sets)...)
	if version != nil {
		upd.SetExpr(version.Column() + " = " + version.Column() + " + 1")
	}
	if upd.Empty() {
		o.fillKeyedIDs(b.Group, drafts)
		return nil
	}
	var where []*schema.Prop
	if b.Group != nil {
		where = b.Group.Props()
	} else {
		where = []*schema.Prop{t.ID()}
	}
	for _, p := range where {
		upd.Where(sql.EQ(p.Column()))
	}
	if versioned {
		upd.Where(sql.EQ(version.Column()))
	}
	if locked {
		upd.Where(userLock.Predicate)
	}
	batch := make([][]any, len(drafts))
	for i, d := range drafts {
		args := make([]any, 0, len(sets)+len(where)+1)
		for _, p := range sets {
			args = append(args, columnValue(d, p))
		}
		for _, p := range where {
			args = append(args, columnValue(d, p))
		}
		if versioned {
			args = append(args, d.Value(version.Name()))
		}
		if locked && userLock.Args != nil {
			args = append(args, userLock.Args(d)...)
		}
		batch[i] = args
	}
	nb := *b
	nb.Drafts = drafts
	counts, err := o.execute(ctx, &nb, "update", upd.Query(o.ctx.dialect), batch, false)
	if err != nil {
		return err
	}
	o.fillKeyedIDs(b.Group, drafts)
	for i, d := range drafts {
		if counts[i] > 0 {
			if version != nil && d.IsLoaded(version.Name()) {
				if v, ok := d.Value(version.Name()).(int64); ok {
					d.Set(version.Name(), v+1)
				}
			}
			continue
		}
		if versioned || locked {
			id, _ := d.ID()
			return persist.NewOptimisticLockError(o.ctx.path, t.Name(), id)
		}
	}
	o.applied(ctx, persist.OpUpdate, drafts, counts)
	return nil
}

// existing returns the drafts of a keyed batch whose row was found while
// resolving ids.
func (o *Operator) existing(g *schema.KeyGroup, drafts []*entity.Draft) []*entity.Draft {
	originals := o.pre.OriginalKeys(g.Name())
	var found []*entity.Draft
	for _, d := range drafts {
		if k, ok := entity.KeyOf(d, g.Props()); ok && originals[k] != nil {
			found = append(found, d)
		}
	}
	return found
}

func (o *Operator) fillKeyedIDs(g *schema.KeyGroup, drafts []*entity.Draft) {
	if g == nil {
		return
	}
	originals := o.pre.OriginalKeys(g.Name())
	idName := o.ctx.typ.ID().Name()
	for _, d := range drafts {
		k, _ := entity.KeyOf(d, g.Props())
		if orig := originals[k]; orig != nil {
			id, _ := orig.ID()
			d.Set(idName, id)
		}
	}
}

// Upsert inserts the drafts of a batch and updates the rows conflicting on
// the id or on the key group of the batch. With ignoreUpdate existing rows
// are left untouched.
func (o *Operator) Upsert(ctx context.Context, b *Batch, ignoreUpdate bool) error {
	if !o.ctx.dialect.SupportsUpsert() || (!ignoreUpdate && o.guarded(b.Shape)) {
		return o.emulateUpsert(ctx, b, ignoreUpdate)
	}
	t := o.ctx.typ
	if err := o.authorize(ctx, persist.OpUpsert, b.Drafts); err != nil {
		return err
	}
	cols := insertColumns(b.Shape)
	target := []*schema.Prop{t.ID()}
	if b.Group != nil {
		target = b.Group.Props()
	}
	conflict := &sql.Conflict{Columns: propColumns(target)}
	if !ignoreUpdate {
		for _, c := range cols {
			p := c.prop
			if c.implicit || p.IsID() || p.IsVersion() || containsProp(target, p) {
				continue
			}
			conflict.Update = append(conflict.Update, p.Column())
		}
		if v := t.Version(); v != nil {
			conflict.Version = v.Column()
		}
	}
	identity := t.IDGenerator().IsIdentity() && !b.Shape.IDLoaded()
	if identity {
		conflict.GeneratedID = t.ID().Column()
	}
	ins := sql.Insert(t.Table()).Columns(columnNames(cols)...).OnConflict(conflict)
	if identity {
		ins.Returning(t.ID().Column())
	}
	counts, err := o.execute(ctx, b, "upsert", ins.Query(o.ctx.dialect), insertArgs(cols, b.Drafts), identity)
	if err != nil {
		return err
	}
	if identity && b.Group != nil {
		if err := o.fillIDsByKey(ctx, b.Group, b.Drafts); err != nil {
			return err
		}
	}
	o.applied(ctx, persist.OpUpsert, b.Drafts, counts)
	return nil
}

// guarded reports whether updates of the shape are checked against the
// version or a user lock predicate, which a native upsert cannot express.
func (o *Operator) guarded(s Shape) bool {
	lockMode := o.ctx.opts.LockMode
	if lockMode == persist.LockModeNone {
		return false
	}
	if _, ok := o.ctx.opts.UserLocks[o.ctx.typ.Name()]; ok {
		return true
	}
	v := o.ctx.typ.Version()
	return v != nil && (s.Has(v.Name()) || lockMode == persist.LockModeOptimistic)
}

func containsProp(props []*schema.Prop, p *schema.Prop) bool {
	for _, q := range props {
		if q == p {
			return true
		}
	}
	return false
}

// fillIDsByKey reads the ids the upsert could not report, rows left
// untouched by DO NOTHING.
func (o *Operator) fillIDsByKey(ctx context.Context, g *schema.KeyGroup, drafts []*entity.Draft) error {
	var (
		missing []*entity.Draft
		keys    [][]any
	)
	for _, d := range drafts {
		if _, ok := d.ID(); ok {
			continue
		}
		if values, ok := entity.KeyValues(d, g.Props()); ok {
			missing = append(missing, d)
			keys = append(keys, values)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	found, err := o.ctx.exec.FindMapByKeys(ctx, fetch.New(o.ctx.typ), g, keys)
	if err != nil {
		return err
	}
	idName := o.ctx.typ.ID().Name()
	for _, d := range missing {
		k, _ := entity.KeyOf(d, g.Props())
		if row := found[k]; row != nil {
			id, _ := row.ID()
			d.Set(idName, id)
		}
	}
	return nil
}

// emulateUpsert splits a batch into the updates of existing rows and the
// inserts of the others, for dialects without a native upsert.
func (o *Operator) emulateUpsert(ctx context.Context, b *Batch, ignoreUpdate bool) error {
	t := o.ctx.typ
	f := fetch.New(t)
	var (
		existing map[entity.Key]*entity.Draft
		err      error
	)
	if b.Group != nil {
		keys := make([][]any, 0, len(b.Drafts))
		for _, d := range b.Drafts {
			if values, ok := entity.KeyValues(d, b.Group.Props()); ok {
				keys = append(keys, values)
			}
		}
		existing, err = o.ctx.exec.FindMapByKeys(ctx, f, b.Group, keys)
	} else {
		existing, err = o.ctx.exec.FindMapByIDs(ctx, f, parentIDs(b.Drafts))
	}
	if err != nil {
		return err
	}
	var updates, inserts []*entity.Draft
	for _, d := range b.Drafts {
		var (
			k  entity.Key
			ok bool
		)
		if b.Group != nil {
			k, ok = entity.KeyOf(d, b.Group.Props())
		} else {
			id, _ := d.ID()
			k, ok = entity.IDKey(id), true
		}
		row := existing[k]
		if !ok || row == nil {
			inserts = append(inserts, d)
			continue
		}
		if b.Group != nil {
			id, _ := row.ID()
			d.Set(t.ID().Name(), id)
		}
		updates = append(updates, d)
	}
	if len(updates) > 0 && !ignoreUpdate {
		ub := &Batch{Shape: b.Shape, Mode: persist.SaveModeUpdateOnly, Drafts: updates}
		if err := o.Update(ctx, ub); err != nil {
			return err
		}
	}
	if len(inserts) > 0 {
		ib := &Batch{Shape: b.Shape, Mode: persist.SaveModeInsertOnly, Drafts: inserts}
		return o.Insert(ctx, ib)
	}
	return nil
}

// execute runs a statement once per draft. Failed batches are translated
// into save errors when the investigator can explain them.
func (o *Operator) execute(ctx context.Context, b *Batch, op, query string, batch [][]any, readID bool) ([]int64, error) {
	var counts []int64
	run := func() error {
		if readID && o.ctx.dialect.SupportsReturning() {
			var err error
			counts, err = sql.QueryBatch(ctx, o.ctx.drv, query, batch, func(i int, rows *sql.Rows) error {
				return scanID(b.Drafts[i], rows)
			})
			return err
		}
		results, err := sql.ExecBatch(ctx, o.ctx.drv, query, batch)
		counts = sql.RowCounts(results)
		if err != nil {
			return err
		}
		if readID {
			for i, res := range results {
				if counts[i] <= 0 {
					continue
				}
				id, err := res.LastInsertId()
				if err != nil {
					return err
				}
				if err := b.Drafts[i].SetField(o.ctx.typ.ID().Name(), id); err != nil {
					return err
				}
			}
		}
		return nil
	}
	var err error
	if o.ctx.dialect.NeedsSavepoint() && sql.IsTx(o.ctx.drv) {
		err = sql.Savepoint(ctx, o.ctx.drv, "persist_batch", run)
	} else {
		err = run()
	}
	o.ctx.log.Debug("batch executed",
		zap.String("path", o.ctx.path),
		zap.String("type", o.ctx.typ.Name()),
		zap.String("op", op),
		zap.Int("rows", len(batch)),
		zap.Error(err),
	)
	if err != nil {
		return nil, o.translate(ctx, b, op, err)
	}
	for i, n := range counts {
		switch {
		case n == sql.SuccessNoInfo || n > 1:
			counts[i] = 1
		case n < 0:
			counts[i] = 0
		}
	}
	return counts, nil
}

func scanID(d *entity.Draft, rows *sql.Rows) error {
	var id any
	if err := rows.Scan(&id); err != nil {
		return err
	}
	return d.SetField(d.Type().ID().Name(), id)
}

// translate explains a failed batch with the investigator. Failures it
// cannot explain are returned unchanged.
func (o *Operator) translate(ctx context.Context, b *Batch, op string, err error) error {
	if !sqlgraph.IsUniqueConstraintError(err) && !sqlgraph.IsForeignKeyConstraintError(err) {
		return persist.NewMutationError(o.ctx.typ.Name(), op, err)
	}
	var counts []int64
	var be *sql.BatchError
	if errors.As(err, &be) {
		counts = be.RowCounts
	}
	o.ctx.log.Info("investigating failed batch",
		zap.String("path", o.ctx.path),
		zap.String("type", o.ctx.typ.Name()),
		zap.String("op", op),
		zap.Error(err),
	)
	inv := newInvestigator(o.ctx, b, counts, b.Mode != persist.SaveModeInsertOnly)
	cause, ierr := inv.Investigate(ctx)
	if ierr != nil {
		return fmt.Errorf("%w (investigation failed: %v)", err, ierr)
	}
	if cause == nil {
		o.ctx.log.Warn("failed batch not explained", zap.String("path", o.ctx.path), zap.Error(err))
		return err
	}
	cause.Err = err
	return cause
}

// applied counts the written rows, records their change events and evicts
// them from the cache.
func (o *Operator) applied(ctx context.Context, op persist.Op, drafts []*entity.Draft, counts []int64) {
	t := o.ctx.typ
	var (
		n   int
		ids []any
	)
	for i, d := range drafts {
		if i >= len(counts) || counts[i] == 0 {
			continue
		}
		n += int(counts[i])
		id, _ := d.ID()
		ids = append(ids, id)
		o.ctx.events.prepare(ChangeEvent{Op: op, Type: t.Name(), Table: t.Table(), ID: id, Draft: d})
	}
	o.ctx.count(t.Name(), n)
	if op != persist.OpInsert && len(ids) > 0 {
		o.ctx.evict(ctx, t, ids)
	}
}

// authorize evaluates the policy for every draft.
func (o *Operator) authorize(ctx context.Context, op persist.Op, drafts []*entity.Draft) error {
	return authorize(ctx, o.ctx, op, drafts)
}

func authorize(ctx context.Context, c *saveContext, op persist.Op, drafts []*entity.Draft) error {
	policy := c.opts.Policy
	if policy == nil {
		return nil
	}
	for _, d := range drafts {
		switch decision := policy.EvalMutation(ctx, &draftMutation{op: op, typ: d.Type(), path: c.path, draft: d}); {
		case decision == nil || errors.Is(decision, privacy.Allow) || errors.Is(decision, privacy.Skip):
		default:
			return persist.NewPrivacyError(d.Type().Name(), op.String(), decision.Error())
		}
	}
	return nil
}

// draftMutation is the privacy.Mutation of one draft.
type draftMutation struct {
	op    persist.Op
	typ   *schema.Type
	path  string
	draft *entity.Draft
}

func (m *draftMutation) Op() persist.Op       { return m.op }
func (m *draftMutation) Type() *schema.Type   { return m.typ }
func (m *draftMutation) Path() string         { return m.path }
func (m *draftMutation) Draft() *entity.Draft { return m.draft }

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
