package mutation

import (
	"context"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
)

// reshape returns the saved root drafts in the shape of the configured
// fetcher. Drafts holding every fetched property are trimmed in memory and
// the others are loaded again from the database.
func (s *Saver) reshape(ctx context.Context, c *saveContext, drafts []*entity.Draft) ([]*entity.Draft, error) {
	f := c.opts.Fetcher
	var (
		out     = make([]*entity.Draft, len(drafts))
		missing []int
		ids     []any
	)
	for i, d := range drafts {
		if satisfies(d, f) {
			out[i] = trim(d, f)
			continue
		}
		id, ok := d.ID()
		if !ok {
			out[i] = d
			continue
		}
		missing = append(missing, i)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return out, nil
	}
	qctx := ctx
	if c.opts.BypassCache {
		qctx = persist.WithoutCache(ctx)
	}
	found, err := s.exec.FindMapByIDs(qctx, f, ids)
	if err != nil {
		return nil, err
	}
	for j, i := range missing {
		d, ok := found[entity.IDKey(ids[j])]
		if !ok {
			return nil, persist.NewNotFoundErrorWithID(f.Type().Name(), ids[j])
		}
		out[i] = d
	}
	c.log.Debug("saved drafts fetched", zap.String("fetcher", f.String()), zap.Int("drafts", len(ids)))
	return out, nil
}

// satisfies reports whether d holds every property of f, recursively.
func satisfies(d *entity.Draft, f *fetch.Fetcher) bool {
	for _, fd := range f.Fields() {
		name := fd.Prop.Name()
		if !d.IsLoaded(name) {
			return false
		}
		if fd.Child == nil {
			continue
		}
		for _, target := range targetsOf(d, fd.Prop) {
			if !satisfies(target, fd.Child) {
				return false
			}
		}
	}
	return true
}

// trim returns a copy of d without the properties f does not fetch.
func trim(d *entity.Draft, f *fetch.Fetcher) *entity.Draft {
	out := d.Clone()
	trimInPlace(out, f, make(map[*entity.Draft]bool))
	return out
}

func trimInPlace(d *entity.Draft, f *fetch.Fetcher, seen map[*entity.Draft]bool) {
	if seen[d] {
		return
	}
	seen[d] = true
	for _, name := range d.LoadedProps() {
		fd, ok := f.Field(name)
		if !ok {
			d.Unload(name)
			continue
		}
		if fd.Child == nil {
			continue
		}
		for _, target := range targetsOf(d, fd.Prop) {
			trimInPlace(target, fd.Child, seen)
		}
	}
}
