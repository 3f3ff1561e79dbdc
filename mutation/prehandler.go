package mutation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/schema"
)

// Batch is a set of drafts of the same shape written by the same
// statement.
type Batch struct {
	Shape Shape
	// Mode is the resolved mode of the drafts.
	Mode   persist.SaveMode
	Drafts []*entity.Draft
	// Group is set when the drafts have no id and are identified by the
	// values of a key group.
	Group *schema.KeyGroup
	// IgnoreUpdate leaves existing rows untouched on upsert.
	IgnoreUpdate bool
}

func (b *Batch) id() string {
	id := fmt.Sprintf("%s/%s/%t", b.Shape.Key(), b.Mode, b.IgnoreUpdate)
	if b.Group != nil {
		id += "/" + b.Group.Name()
	}
	return id
}

// PreHandler classifies the drafts of one level, resolves their ids and
// groups them into batches.
type PreHandler struct {
	ctx     *saveContext
	drafts  []*entity.Draft
	seen    map[*entity.Draft]bool
	byID    map[entity.Key]*entity.Draft
	byKey   map[string]map[entity.Key]*entity.Draft
	aliases map[*entity.Draft]*entity.Draft
	batches []*Batch
	// untouched holds the drafts loading only their id besides
	// associations. Their rows are not written.
	untouched []*entity.Draft
	// originals holds the existing rows found while resolving ids by key.
	originalIDs  map[entity.Key]*entity.Draft
	originalKeys map[string]map[entity.Key]*entity.Draft
}

// newPreHandler returns a pre-handler of the drafts saved by ctx.
func newPreHandler(ctx *saveContext) *PreHandler {
	return &PreHandler{
		ctx:          ctx,
		seen:         make(map[*entity.Draft]bool),
		byID:         make(map[entity.Key]*entity.Draft),
		byKey:        make(map[string]map[entity.Key]*entity.Draft),
		aliases:      make(map[*entity.Draft]*entity.Draft),
		originalIDs:  make(map[entity.Key]*entity.Draft),
		originalKeys: make(map[string]map[entity.Key]*entity.Draft),
	}
}

// Add registers a draft. Drafts with only their id loaded reference
// existing rows and are not saved. At the root, distinct drafts sharing
// an id or a key are rejected. Nested duplicates become aliases of the
// first draft.
func (h *PreHandler) Add(d *entity.Draft) error {
	if h.seen[d] {
		return nil
	}
	h.seen[d] = true
	if isReference(d) {
		return nil
	}
	if id, ok := d.ID(); ok {
		k := entity.IDKey(id)
		if first, dup := h.byID[k]; dup {
			if h.ctx.root {
				return persist.NewConflictIDError(h.ctx.path, h.ctx.typ.Name(), id)
			}
			h.aliases[d] = first
			return nil
		}
		h.byID[k] = d
	}
	if g := h.ctx.keyMatcher().Match(d.LoadedProps()); g != nil {
		if values, ok := entity.KeyValues(d, g.Props()); ok {
			k := entity.KeyOfValues(values...)
			keys := h.byKey[g.Name()]
			if keys == nil {
				keys = make(map[entity.Key]*entity.Draft)
				h.byKey[g.Name()] = keys
			}
			if first, dup := keys[k]; !dup {
				keys[k] = d
			} else if !sameID(first, d) {
				if h.ctx.root {
					return persist.NewConflictKeyError(h.ctx.path, h.ctx.typ.Name(), g.PropNames(), values)
				}
				if _, idLoaded := d.ID(); !idLoaded {
					h.aliases[d] = first
					return nil
				}
			}
		}
	}
	h.drafts = append(h.drafts, d)
	return nil
}

func isReference(d *entity.Draft) bool {
	_, ok := d.ID()
	return ok && len(d.LoadedProps()) == 1
}

func sameID(a, b *entity.Draft) bool {
	ia, oka := a.ID()
	ib, okb := b.ID()
	return oka && okb && entity.IDKey(ia) == entity.IDKey(ib)
}

// Drafts returns the drafts to save.
func (h *PreHandler) Drafts() []*entity.Draft {
	return h.drafts
}

// Resolve resolves the mode and the id of every draft and returns the
// self batches in first-seen order.
func (h *PreHandler) Resolve(ctx context.Context) ([]*Batch, error) {
	var (
		t       = h.ctx.typ
		gen     = t.IDGenerator()
		req     = h.ctx.mode
		lookups = make(map[*schema.KeyGroup][]*entity.Draft)
		groups  []*schema.KeyGroup
	)
	type resolution struct {
		mode   persist.SaveMode
		group  *schema.KeyGroup
		ignore bool
		lookup bool
		// untouched drafts load their id and associations only.
		untouched bool
	}
	resolved := make(map[*entity.Draft]*resolution, len(h.drafts))
	for _, d := range h.drafts {
		if _, ok := d.ID(); ok {
			resolved[d] = &resolution{
				mode:      req,
				ignore:    req == persist.SaveModeInsertIfAbsent,
				untouched: len(ShapeOf(d).ColumnProps()) == 1,
			}
			continue
		}
		g := h.ctx.keyMatcher().Match(d.LoadedProps())
		r := &resolution{mode: req, group: g}
		switch {
		case gen.IsIdentity():
			switch {
			case req == persist.SaveModeUpdateOnly:
				if g == nil {
					return nil, persist.NewNeitherIDNorKeyError(h.ctx.path, t.Name())
				}
				r.lookup = true
			case g == nil || req == persist.SaveModeInsertOnly:
				r.mode, r.group = persist.SaveModeInsertOnly, nil
			default:
				r.mode = persist.SaveModeInsertIfAbsent
				r.ignore = req == persist.SaveModeInsertIfAbsent
			}
		case gen.Strategy() == schema.StrategyAssigned:
			if g == nil || req == persist.SaveModeInsertOnly {
				return nil, persist.NewNeitherIDNorKeyError(h.ctx.path, t.Name())
			}
			r.lookup = true
		default:
			if g == nil && req == persist.SaveModeUpdateOnly {
				return nil, persist.NewNeitherIDNorKeyError(h.ctx.path, t.Name())
			}
			r.lookup = g != nil && req != persist.SaveModeInsertOnly
			if !r.lookup {
				r.group = nil
			}
		}
		if r.lookup {
			if _, ok := lookups[g]; !ok {
				groups = append(groups, g)
			}
			lookups[g] = append(lookups[g], d)
		}
		resolved[d] = r
	}
	for _, g := range groups {
		if err := h.lookup(ctx, g, lookups[g]); err != nil {
			return nil, err
		}
	}
	var generate []*entity.Draft
	for _, d := range h.drafts {
		r := resolved[d]
		if !r.lookup {
			if _, ok := d.ID(); !ok && !gen.IsIdentity() {
				generate = append(generate, d)
			}
			continue
		}
		found := h.original(r.group, d)
		switch {
		case gen.IsIdentity():
			// Keyed updates of identity types keep their group.
		case found != nil:
			id, _ := found.ID()
			d.Set(t.ID().Name(), id)
			r.group = nil
			r.ignore = req == persist.SaveModeInsertIfAbsent
		case req == persist.SaveModeUpdateOnly:
			r.mode = updateAbsent
		case gen.Strategy() == schema.StrategyAssigned:
			return nil, persist.NewNeitherIDNorKeyError(h.ctx.path, t.Name())
		default:
			r.group = nil
			generate = append(generate, d)
		}
	}
	if err := h.generate(ctx, generate); err != nil {
		return nil, err
	}
	for _, d := range generate {
		resolved[d].mode = persist.SaveModeInsertOnly
	}
	index := make(map[string]*Batch)
	for _, d := range h.drafts {
		r := resolved[d]
		if r.mode == updateAbsent {
			h.ctx.log.Debug("absent row skipped", zap.String("path", h.ctx.path), zap.Stringer("draft", d))
			continue
		}
		if r.untouched {
			h.untouched = append(h.untouched, d)
			continue
		}
		b := &Batch{Shape: ShapeOf(d).Self(), Mode: r.mode, Group: r.group, IgnoreUpdate: r.ignore}
		if prev, ok := index[b.id()]; ok {
			prev.Drafts = append(prev.Drafts, d)
			continue
		}
		b.Drafts = []*entity.Draft{d}
		index[b.id()] = b
		h.batches = append(h.batches, b)
	}
	return h.batches, nil
}

// updateAbsent marks drafts requested for update whose row does not exist.
const updateAbsent persist.SaveMode = 0xff

func (h *PreHandler) lookup(ctx context.Context, g *schema.KeyGroup, drafts []*entity.Draft) error {
	keys := make([][]any, 0, len(drafts))
	for _, d := range drafts {
		if values, ok := entity.KeyValues(d, g.Props()); ok {
			keys = append(keys, values)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	found, err := h.ctx.exec.FindMapByKeys(ctx, fetch.New(h.ctx.typ), g, keys)
	if err != nil {
		return err
	}
	m := h.originalKeys[g.Name()]
	if m == nil {
		m = make(map[entity.Key]*entity.Draft, len(found))
		h.originalKeys[g.Name()] = m
	}
	for k, d := range found {
		m[k] = d
		id, _ := d.ID()
		h.originalIDs[entity.IDKey(id)] = d
	}
	return nil
}

func (h *PreHandler) original(g *schema.KeyGroup, d *entity.Draft) *entity.Draft {
	if g == nil {
		return nil
	}
	k, ok := entity.KeyOf(d, g.Props())
	if !ok {
		return nil
	}
	return h.originalKeys[g.Name()][k]
}

// generate pre-assigns the ids of new rows.
func (h *PreHandler) generate(ctx context.Context, drafts []*entity.Draft) error {
	t := h.ctx.typ
	gen := t.IDGenerator()
	for _, d := range drafts {
		var id any
		switch gen.Strategy() {
		case schema.StrategySequence:
			v, err := h.nextval(ctx, gen.SequenceName())
			if err != nil {
				return persist.NewMutationError(t.Name(), "sequence", err)
			}
			id = v
		case schema.StrategyUser:
			id = gen.Generate()
		default:
			return persist.NewNeitherIDNorKeyError(h.ctx.path, t.Name())
		}
		if err := d.SetField(t.ID().Name(), id); err != nil {
			return persist.NewMutationError(t.Name(), "generate id", err)
		}
	}
	return nil
}

func (h *PreHandler) nextval(ctx context.Context, sequence string) (_ any, err error) {
	query, err := h.ctx.dialect.SequenceNextSQL(sequence)
	if err != nil {
		return nil, err
	}
	rows := &sql.Rows{}
	if err := h.ctx.drv.Query(ctx, query, []any{}, rows); err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("sequence %s returned no value", sequence)
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// OriginalIDs returns the existing rows found by key, indexed by id.
func (h *PreHandler) OriginalIDs() map[entity.Key]*entity.Draft {
	return h.originalIDs
}

// OriginalKeys returns the existing rows found by the named key group,
// indexed by key.
func (h *PreHandler) OriginalKeys(group string) map[entity.Key]*entity.Draft {
	return h.originalKeys[group]
}

// SyncAliases copies the ids of the saved drafts to their aliases.
func (h *PreHandler) SyncAliases() {
	idName := h.ctx.typ.ID().Name()
	for alias, d := range h.aliases {
		if id, ok := d.ID(); ok {
			alias.Set(idName, id)
		}
	}
}

// AssociationBatches returns, for every self batch, the drafts with an
// association loaded, grouped by their full shape.
func (h *PreHandler) AssociationBatches() []*Batch {
	var batches []*Batch
	selves := h.batches
	if len(h.untouched) > 0 {
		selves = append(selves[:len(selves):len(selves)], &Batch{Mode: h.ctx.mode, Drafts: h.untouched})
	}
	for _, self := range selves {
		index := make(map[string]*Batch)
		for _, d := range self.Drafts {
			if _, ok := d.ID(); !ok {
				continue
			}
			shape := ShapeOf(d)
			if !hasPostAssociation(shape) {
				continue
			}
			if b, ok := index[shape.Key()]; ok {
				b.Drafts = append(b.Drafts, d)
				continue
			}
			b := &Batch{Shape: shape, Mode: self.Mode, Group: self.Group, IgnoreUpdate: self.IgnoreUpdate, Drafts: []*entity.Draft{d}}
			index[shape.Key()] = b
			batches = append(batches, b)
		}
	}
	return batches
}

func hasPostAssociation(s Shape) bool {
	for _, p := range s.Props() {
		if p.IsAssociation() && !p.IsColumnDefinition() {
			return true
		}
	}
	return false
}
