package mutation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/schema"
)

// SimpleSaveResult is the result of saving one draft.
type SimpleSaveResult struct {
	// Original is the draft given to Save, left untouched.
	Original *entity.Draft
	// Modified is the saved copy with the generated ids and versions, in
	// the shape of the configured fetcher when there is one.
	Modified *entity.Draft
	// AffectedRowCounts holds the written rows per entity type name and per
	// middle table name.
	AffectedRowCounts map[string]int
	// Events are the changes of the save. They are left for Submit when
	// the save ran in a transaction.
	Events []ChangeEvent
}

// TotalAffectedRowCount returns the number of written rows.
func (r *SimpleSaveResult) TotalAffectedRowCount() int {
	return total(r.AffectedRowCounts)
}

// SaveItem is one saved draft of a batch save.
type SaveItem struct {
	Original *entity.Draft
	Modified *entity.Draft
}

// BatchSaveResult is the result of saving several drafts.
type BatchSaveResult struct {
	Items             []SaveItem
	AffectedRowCounts map[string]int
	Events            []ChangeEvent
}

// TotalAffectedRowCount returns the number of written rows.
func (r *BatchSaveResult) TotalAffectedRowCount() int {
	return total(r.AffectedRowCounts)
}

func total(counts map[string]int) int {
	var n int
	for _, c := range counts {
		n += c
	}
	return n
}

// Saver saves graphs of drafts. It never opens, commits or rolls back a
// transaction: the caller passes the transaction the statements run in and
// decides its outcome when Save fails.
type Saver struct {
	drv  dialect.ExecQuerier
	reg  *schema.Registry
	opts *Options
	exec *fetch.Executor
}

// NewSaver returns a saver writing through drv. The dialect is detected
// from drv unless WithDialect is given.
//
//	tx, err := drv.Tx(ctx)
//	if err != nil {
//		return err
//	}
//	saver, err := mutation.NewSaver(tx, reg, mutation.WithMode(persist.SaveModeUpsert))
//	if err != nil {
//		return err
//	}
//	res, err := saver.Save(ctx, store)
//	if err != nil {
//		return rollback(tx, err)
//	}
//	if err := tx.Commit(); err != nil {
//		return err
//	}
//	return saver.Submit(ctx, res.Events)
func NewSaver(drv dialect.ExecQuerier, reg *schema.Registry, opts ...Option) (*Saver, error) {
	if drv == nil {
		return nil, NewConfigError("Driver", nil, "driver cannot be nil")
	}
	if reg == nil {
		return nil, NewConfigError("Registry", nil, "registry cannot be nil")
	}
	o := defaultOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}
	if o.Dialect == nil {
		namer, ok := drv.(dialect.Namer)
		if !ok {
			return nil, NewConfigError("Dialect", nil, fmt.Sprintf("cannot detect the dialect of %T", drv))
		}
		d, err := sql.DialectOf(namer.Dialect())
		if err != nil {
			return nil, NewConfigError("Dialect", namer.Dialect(), err.Error())
		}
		o.Dialect = d
	}
	execOpts := []fetch.Option{fetch.WithLogger(o.Logger)}
	if o.Cache != nil {
		execOpts = append(execOpts, fetch.WithCache(o.Cache, o.CacheTTL))
	}
	if o.BatchSize > 0 {
		execOpts = append(execOpts, fetch.WithChunkSize(o.BatchSize))
	}
	return &Saver{
		drv:  drv,
		reg:  reg,
		opts: o,
		exec: fetch.NewExecutor(drv, o.Dialect, execOpts...),
	}, nil
}

// Save saves a draft graph. The draft is cloned and never modified.
func (s *Saver) Save(ctx context.Context, d *entity.Draft, opts ...Option) (*SimpleSaveResult, error) {
	res, err := s.SaveAll(ctx, []*entity.Draft{d}, opts...)
	if err != nil {
		return nil, err
	}
	return &SimpleSaveResult{
		Original:          res.Items[0].Original,
		Modified:          res.Items[0].Modified,
		AffectedRowCounts: res.AffectedRowCounts,
		Events:            res.Events,
	}, nil
}

// SaveAll saves drafts of one entity type. Options given here override the
// options of the saver for this call.
//
// Outside a transaction the changes are submitted to the trigger before
// SaveAll returns. Inside one they are returned in Events and the caller
// submits them with Submit once the transaction is committed.
func (s *Saver) SaveAll(ctx context.Context, drafts []*entity.Draft, opts ...Option) (*BatchSaveResult, error) {
	o := s.opts
	if len(opts) > 0 {
		o = s.opts.clone()
		if err := o.apply(opts); err != nil {
			return nil, err
		}
	}
	res := &BatchSaveResult{AffectedRowCounts: make(map[string]int)}
	if len(drafts) == 0 {
		return res, nil
	}
	t, err := s.typeOf(drafts)
	if err != nil {
		return nil, err
	}
	modified := make([]*entity.Draft, len(drafts))
	for i, d := range drafts {
		modified[i] = d.Clone()
	}
	root := newRootContext(o, s.drv, s.exec, t)
	// Lookups of the save read the rows as they are in the database.
	if err := s.save(persist.WithoutCache(ctx), root, modified); err != nil {
		return nil, err
	}
	if o.Fetcher != nil {
		if modified, err = s.reshape(ctx, root, modified); err != nil {
			return nil, err
		}
	}
	res.Events = root.events.list()
	if !sql.IsTx(s.drv) {
		if err := submit(ctx, o.Trigger, res.Events); err != nil {
			return nil, err
		}
	}
	for i, d := range drafts {
		res.Items = append(res.Items, SaveItem{Original: d, Modified: modified[i]})
	}
	res.AffectedRowCounts = root.counts
	o.Logger.Debug("drafts saved",
		zap.String("type", t.Name()),
		zap.Int("drafts", len(drafts)),
		zap.Any("affected", root.counts),
	)
	return res, nil
}

// Submit hands the events of a committed save to the trigger of the saver.
// It is a no-op without trigger.
func (s *Saver) Submit(ctx context.Context, events []ChangeEvent) error {
	return submit(ctx, s.opts.Trigger, events)
}

func submit(ctx context.Context, t Trigger, events []ChangeEvent) error {
	if t == nil || len(events) == 0 {
		return nil
	}
	if err := t.Submit(ctx, events); err != nil {
		return fmt.Errorf("mutation: submit changes: %w", err)
	}
	return nil
}

func (s *Saver) typeOf(drafts []*entity.Draft) (*schema.Type, error) {
	var t *schema.Type
	for _, d := range drafts {
		if d == nil {
			return nil, fmt.Errorf("mutation: cannot save a nil draft")
		}
		switch {
		case t == nil:
			t = d.Type()
			if s.reg.Type(t.Name()) != t {
				return nil, fmt.Errorf("mutation: type %s is not registered", t.Name())
			}
		case d.Type() != t:
			return nil, fmt.Errorf("mutation: drafts of %s and %s cannot be saved together", t.Name(), d.Type().Name())
		}
	}
	return t, nil
}

// save saves the drafts of one level: the referenced parents first, then
// the drafts themselves, then their associations.
func (s *Saver) save(ctx context.Context, c *saveContext, drafts []*entity.Draft) error {
	if len(drafts) == 0 {
		return nil
	}
	for _, d := range drafts {
		c.saving[d]++
	}
	defer func() {
		for _, d := range drafts {
			if c.saving[d]--; c.saving[d] <= 0 {
				delete(c.saving, d)
			}
		}
	}()
	if err := s.savePreAssociations(ctx, c, drafts); err != nil {
		return err
	}
	pre := newPreHandler(c)
	for _, d := range drafts {
		if err := pre.Add(d); err != nil {
			return err
		}
	}
	batches, err := pre.Resolve(ctx)
	if err != nil {
		return err
	}
	op := newOperator(c, pre)
	for _, b := range batches {
		if err := op.Execute(ctx, b); err != nil {
			return err
		}
	}
	pre.SyncAliases()
	for _, b := range pre.AssociationBatches() {
		if err := s.savePostAssociations(ctx, c, b); err != nil {
			return err
		}
	}
	return nil
}

// savePreAssociations saves the targets of the foreign keys of the drafts
// so that their ids are known before the drafts are written.
func (s *Saver) savePreAssociations(ctx context.Context, c *saveContext, drafts []*entity.Draft) error {
	for _, p := range c.typ.Props() {
		if !p.IsReference() || !p.IsColumnDefinition() {
			continue
		}
		var targets []*entity.Draft
		for _, d := range drafts {
			if !d.IsLoaded(p.Name()) {
				continue
			}
			ref := d.Ref(p.Name())
			if ref == nil {
				if !p.Nullable() || p.InputNotNull() {
					return persist.NewAssociationError(persist.KindNullTarget, c.path, c.typ.Name(), p.Name())
				}
				continue
			}
			// A parent being saved by an enclosing level closes a cycle.
			if c.saving[ref] == 0 {
				targets = append(targets, ref)
			}
		}
		if len(targets) == 0 || p.IsRemote() || !c.visitable(p) {
			continue
		}
		if err := s.save(ctx, c.propContext(p), targets); err != nil {
			return err
		}
	}
	return nil
}

// savePostAssociations saves the associations stored outside the table of
// the drafts: the children of one-to-many associations and the pairs of
// middle tables.
func (s *Saver) savePostAssociations(ctx context.Context, c *saveContext, b *Batch) error {
	for _, p := range b.Shape.Props() {
		if !p.IsAssociation() || p.IsColumnDefinition() || !c.visitable(p) {
			continue
		}
		if err := s.saveAssociation(ctx, c, b, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Saver) saveAssociation(ctx context.Context, c *saveContext, b *Batch, p *schema.Prop) error {
	path := c.path + "." + p.Name()
	switch {
	case p.JoinSQL() != "":
		return persist.NewAssociationError(persist.KindUnstructuredAssociation, path, c.typ.Name(), p.Name())
	case p.IsRemote() && p.MappedBy() != nil:
		return persist.NewAssociationError(persist.KindReversedRemoteAssociation, path, c.typ.Name(), p.Name())
	case p.MiddleTable() != nil && p.MiddleTable().Readonly:
		return persist.NewAssociationError(persist.KindReadonlyMiddleTable, path, c.typ.Name(), p.Name())
	}
	var (
		mode    = c.opts.associatedMode(p)
		middle  = p.MiddleTable() != nil
		back    = p.MappedBy()
		detach  = b.Mode != persist.SaveModeInsertOnly
		targets []*entity.Draft
	)
	if mode == persist.AssociatedViolentlyReplace && detach {
		if err := s.disconnect(ctx, c, p, NoTarget(b.Drafts)); err != nil {
			return err
		}
	}
	for _, d := range b.Drafts {
		refs := targetsOf(d, p)
		if !middle && back != nil {
			id, _ := d.ID()
			for _, r := range refs {
				r.Set(back.Name(), entity.IDOnly(c.typ, id))
			}
		}
		targets = append(targets, refs...)
	}
	if !p.IsRemote() && len(targets) > 0 {
		if err := s.save(ctx, c.propContext(p), targets); err != nil {
			return err
		}
	}
	pairs := Retain(b.Drafts, p.Name())
	if !middle {
		if mode == persist.AssociatedReplace && detach {
			return s.disconnect(ctx, c, p, pairs)
		}
		return nil
	}
	op, err := newMiddleTableOperator(c, p)
	if err != nil {
		return err
	}
	switch mode {
	case persist.AssociatedReplace:
		if detach {
			return op.Replace(ctx, pairs)
		}
		return op.Append(ctx, pairs)
	case persist.AssociatedUpdate, persist.AssociatedMerge:
		return op.Merge(ctx, pairs)
	default:
		return op.Append(ctx, pairs)
	}
}

// disconnect dissociates the existing targets of p that are not retained.
func (s *Saver) disconnect(ctx context.Context, c *saveContext, p *schema.Prop, retain *IdPairs) error {
	if p.MiddleTable() != nil {
		op, err := newMiddleTableOperator(c, p)
		if err != nil {
			return err
		}
		return op.DisconnectExcept(ctx, retain)
	}
	if p.MappedBy() == nil || p.IsRemote() {
		return nil
	}
	return newChildTableOperator(c, p).DisconnectExcept(ctx, retain)
}

func targetsOf(d *entity.Draft, p *schema.Prop) []*entity.Draft {
	if p.IsReferenceList() {
		return d.Refs(p.Name())
	}
	if ref := d.Ref(p.Name()); ref != nil {
		return []*entity.Draft{ref}
	}
	return nil
}
