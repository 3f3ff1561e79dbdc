package mutation

import (
	"context"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/schema"
)

// EntityInvestigator explains a batch that failed on a unique or foreign
// key constraint by querying the rows the failed drafts collide with.
type EntityInvestigator struct {
	ctx       *saveContext
	batch     *Batch
	counts    []int64
	updatable bool
	// isIDMissed is set for identity types saved without id. Such drafts
	// are identified by primaryGroup.
	isIDMissed   bool
	primaryGroup *schema.KeyGroup
	// uncheckedGroup is the conflict target of an upsert. Collisions on
	// it are updates, not conflicts.
	uncheckedGroup *schema.KeyGroup
}

func newInvestigator(ctx *saveContext, b *Batch, counts []int64, updatable bool) *EntityInvestigator {
	inv := &EntityInvestigator{
		ctx:        ctx,
		batch:      b,
		counts:     counts,
		updatable:  updatable,
		isIDMissed: !b.Shape.IDLoaded() && ctx.typ.IDGenerator().IsIdentity(),
	}
	switch {
	case b.Group != nil:
		inv.primaryGroup = b.Group
	case inv.isIDMissed:
		inv.primaryGroup = ctx.keyMatcher().Match(b.Shape.PropNames())
	}
	if updatable {
		inv.uncheckedGroup = inv.primaryGroup
	}
	return inv
}

// Investigate returns the error explaining the failure, or nil when the
// rows in the database do not explain it.
func (inv *EntityInvestigator) Investigate(ctx context.Context) (*persist.SaveError, error) {
	drafts := inv.batch.Drafts
	start, located := 0, false
	for i, n := range inv.counts {
		if n < 0 {
			start, located = i, i < len(drafts)
			break
		}
	}
	if !located {
		start = 0
		// Without a failed row every draft is suspect, and dialects
		// reporting unreliable counts are checked in one pass.
		if d := inv.ctx.dialect; d.IsBatchDumb() || d.IsBatchUpdateExceptionUnreliable() {
			if err := inv.fillMissedProps(ctx, drafts); err != nil {
				return nil, err
			}
			return inv.translateAll(ctx, 0)
		}
	}
	candidates := drafts[start:]
	if len(candidates) >= inv.ctx.opts.InvestigateThreshold {
		if err := inv.fillMissedProps(ctx, candidates); err != nil {
			return nil, err
		}
		return inv.translateAll(ctx, start)
	}
	for _, c := range candidates {
		if err := inv.fillMissedProps(ctx, []*entity.Draft{c}); err != nil {
			return nil, err
		}
		if cause, err := inv.translateOne(ctx, c); cause != nil || err != nil {
			return cause, err
		}
	}
	return nil, nil
}

func (inv *EntityInvestigator) translateOne(ctx context.Context, d *entity.Draft) (*persist.SaveError, error) {
	lk, err := inv.load(ctx, []*entity.Draft{d})
	if err != nil {
		return nil, err
	}
	return inv.check(d, lk), nil
}

// translateAll checks the drafts from start on with one query per check.
// Drafts before start were written by the batch and may collide with the
// later ones.
func (inv *EntityInvestigator) translateAll(ctx context.Context, start int) (*persist.SaveError, error) {
	drafts := inv.batch.Drafts
	lk, err := inv.load(ctx, drafts[start:])
	if err != nil {
		return nil, err
	}
	for _, d := range drafts[:start] {
		lk.remember(d, inv.groups())
	}
	for _, d := range drafts[start:] {
		if cause := inv.check(d, lk); cause != nil {
			return cause, nil
		}
		lk.remember(d, inv.groups())
	}
	return nil, nil
}

// lookup holds the rows the checked drafts may collide with.
type lookup struct {
	ids      map[entity.Key]*entity.Draft
	keys     map[string]map[entity.Key]*entity.Draft
	targets  map[string]map[entity.Key]*entity.Draft
	seenIDs  map[entity.Key]*entity.Draft
	seenKeys map[string]map[entity.Key]*entity.Draft
}

func (lk *lookup) remember(d *entity.Draft, groups []*schema.KeyGroup) {
	if id, ok := d.ID(); ok {
		if _, dup := lk.seenIDs[entity.IDKey(id)]; !dup {
			lk.seenIDs[entity.IDKey(id)] = d
		}
	}
	for _, g := range groups {
		k, ok := entity.KeyOf(d, g.Props())
		if !ok {
			continue
		}
		m := lk.seenKeys[g.Name()]
		if m == nil {
			m = make(map[entity.Key]*entity.Draft)
			lk.seenKeys[g.Name()] = m
		}
		if _, dup := m[k]; !dup {
			m[k] = d
		}
	}
}

// groups returns the key groups checked for conflicts.
func (inv *EntityInvestigator) groups() []*schema.KeyGroup {
	if inv.updatable && inv.isIDMissed && inv.primaryGroup == nil {
		return nil
	}
	shape := inv.batch.Shape.PropNames()
	var groups []*schema.KeyGroup
	for _, g := range inv.ctx.keyMatcher().Groups() {
		if g != inv.uncheckedGroup && g.Overlaps(shape) {
			groups = append(groups, g)
		}
	}
	return groups
}

// rowFetcher loads every key group property so that rows can be compared
// with the drafts.
func (inv *EntityInvestigator) rowFetcher() *fetch.Fetcher {
	f := fetch.New(inv.ctx.typ)
	for _, g := range inv.ctx.keyMatcher().Groups() {
		f = f.Add(g.PropNames()...)
	}
	return f
}

func (inv *EntityInvestigator) load(ctx context.Context, drafts []*entity.Draft) (*lookup, error) {
	var (
		exec = inv.ctx.exec
		f    = inv.rowFetcher()
		lk   = &lookup{
			keys:     make(map[string]map[entity.Key]*entity.Draft),
			targets:  make(map[string]map[entity.Key]*entity.Draft),
			seenIDs:  make(map[entity.Key]*entity.Draft),
			seenKeys: make(map[string]map[entity.Key]*entity.Draft),
		}
		err error
	)
	if !inv.updatable {
		if lk.ids, err = exec.FindMapByIDs(ctx, f, parentIDs(drafts)); err != nil {
			return nil, err
		}
	}
	for _, g := range inv.groups() {
		var keys [][]any
		for _, d := range drafts {
			if values, ok := entity.KeyValues(d, g.Props()); ok {
				keys = append(keys, values)
			}
		}
		if len(keys) == 0 {
			continue
		}
		if lk.keys[g.Name()], err = exec.FindMapByKeys(ctx, f, g, keys); err != nil {
			return nil, err
		}
	}
	for _, p := range inv.batch.Shape.ColumnProps() {
		if !p.IsTargetForeignKeyReal() {
			continue
		}
		var ids []any
		for _, d := range drafts {
			if ref := d.Ref(p.Name()); ref != nil {
				if id, ok := ref.ID(); ok {
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}
		if lk.targets[p.Name()], err = exec.FindMapByIDs(ctx, fetch.New(p.Target()), ids); err != nil {
			return nil, err
		}
	}
	return lk, nil
}

// check returns the first conflict of d: its id, then its keys, then its
// foreign keys.
func (inv *EntityInvestigator) check(d *entity.Draft, lk *lookup) *persist.SaveError {
	t := inv.ctx.typ
	path := inv.ctx.path
	if id, ok := d.ID(); ok && !inv.updatable {
		k := entity.IDKey(id)
		if _, dup := lk.seenIDs[k]; dup {
			return persist.NewConflictIDError(path, t.Name(), id)
		}
		if _, exists := lk.ids[k]; exists {
			return persist.NewConflictIDError(path, t.Name(), id)
		}
	}
	for _, g := range inv.groups() {
		values, ok := entity.KeyValues(d, g.Props())
		if !ok {
			continue
		}
		k := entity.KeyOfValues(values...)
		if other := lk.seenKeys[g.Name()][k]; other != nil && other != d && !sameID(other, d) {
			return persist.NewConflictKeyError(path, t.Name(), g.PropNames(), values)
		}
		if row := lk.keys[g.Name()][k]; row != nil && !inv.isSameIdentifier(d, row) {
			return persist.NewConflictKeyError(path, t.Name(), g.PropNames(), values)
		}
	}
	for _, p := range inv.batch.Shape.ColumnProps() {
		if !p.IsTargetForeignKeyReal() {
			continue
		}
		ref := d.Ref(p.Name())
		if ref == nil {
			continue
		}
		id, ok := ref.ID()
		if !ok {
			continue
		}
		if _, exists := lk.targets[p.Name()][entity.IDKey(id)]; !exists {
			return persist.NewIllegalTargetIDError(path+"."+p.Name(), t.Name(), p.Name(), id)
		}
	}
	return nil
}

// isSameIdentifier reports whether the row is the one the draft updates.
func (inv *EntityInvestigator) isSameIdentifier(d, row *entity.Draft) bool {
	if !inv.updatable {
		return false
	}
	if inv.primaryGroup != nil {
		a, ok1 := entity.KeyOf(d, inv.primaryGroup.Props())
		b, ok2 := entity.KeyOf(row, inv.primaryGroup.Props())
		return ok1 && ok2 && a == b
	}
	return sameID(d, row)
}

// fillMissedProps loads the key group properties the drafts do not carry
// so that every group can be checked.
func (inv *EntityInvestigator) fillMissedProps(ctx context.Context, drafts []*entity.Draft) error {
	var missed []*schema.Prop
	for _, p := range inv.ctx.keyMatcher().MissedProps(inv.batch.Shape.PropNames()) {
		if p.IsColumnDefinition() {
			missed = append(missed, p)
		}
	}
	if len(missed) == 0 {
		return nil
	}
	names := make([]string, len(missed))
	for i, p := range missed {
		names[i] = p.Name()
	}
	f := fetch.New(inv.ctx.typ).Add(names...)
	var (
		rows map[entity.Key]*entity.Draft
		key  func(d *entity.Draft) (entity.Key, bool)
		err  error
	)
	switch {
	case !inv.isIDMissed:
		rows, err = inv.ctx.exec.FindMapByIDs(ctx, f, parentIDs(drafts))
		key = func(d *entity.Draft) (entity.Key, bool) {
			id, ok := d.ID()
			return entity.IDKey(id), ok
		}
	case inv.primaryGroup != nil:
		g := inv.primaryGroup
		var keys [][]any
		for _, d := range drafts {
			if values, ok := entity.KeyValues(d, g.Props()); ok {
				keys = append(keys, values)
			}
		}
		if len(keys) == 0 {
			return nil
		}
		rows, err = inv.ctx.exec.FindMapByKeys(ctx, f, g, keys)
		key = func(d *entity.Draft) (entity.Key, bool) {
			return entity.KeyOf(d, g.Props())
		}
	default:
		return nil
	}
	if err != nil {
		return err
	}
	for _, d := range drafts {
		k, ok := key(d)
		if !ok {
			continue
		}
		row := rows[k]
		if row == nil {
			continue
		}
		for _, p := range missed {
			if !d.IsLoaded(p.Name()) && row.IsLoaded(p.Name()) {
				d.Set(p.Name(), row.Value(p.Name()))
			}
		}
	}
	inv.ctx.log.Debug("missed key properties filled", zap.String("path", inv.ctx.path), zap.Int("props", len(missed)))
	return nil
}
