package mutation

import (
	"github.com/syssam/persist/entity"
)

// IDPair associates a source id with one target id.
type IDPair struct {
	Source any
	Target any
}

// IdPairs holds the targets retained by a set of parents. Parents without
// targets are kept so that all their existing targets can be dissociated.
type IdPairs struct {
	sources []any
	targets map[entity.Key][]any
}

// Retain returns the target ids of prop for every parent with an id.
// Targets without an id are ignored.
func Retain(drafts []*entity.Draft, prop string) *IdPairs {
	pairs := &IdPairs{targets: make(map[entity.Key][]any, len(drafts))}
	for _, d := range drafts {
		id, ok := d.ID()
		if !ok {
			continue
		}
		var refs []*entity.Draft
		if d.Type().Prop(prop).IsReferenceList() {
			refs = d.Refs(prop)
		} else if ref := d.Ref(prop); ref != nil {
			refs = []*entity.Draft{ref}
		}
		k := entity.IDKey(id)
		if _, seen := pairs.targets[k]; !seen {
			pairs.sources = append(pairs.sources, id)
			pairs.targets[k] = []any{}
		}
		seen := make(map[entity.Key]bool, len(pairs.targets[k])+len(refs))
		for _, t := range pairs.targets[k] {
			seen[entity.IDKey(t)] = true
		}
		for _, ref := range refs {
			tid, ok := ref.ID()
			if !ok || seen[entity.IDKey(tid)] {
				continue
			}
			seen[entity.IDKey(tid)] = true
			pairs.targets[k] = append(pairs.targets[k], tid)
		}
	}
	return pairs
}

// NoTarget returns the parents of drafts with no retained target.
func NoTarget(drafts []*entity.Draft) *IdPairs {
	pairs := &IdPairs{targets: make(map[entity.Key][]any, len(drafts))}
	for _, d := range drafts {
		id, ok := d.ID()
		if !ok {
			continue
		}
		if k := entity.IDKey(id); pairs.targets[k] == nil {
			pairs.sources = append(pairs.sources, id)
			pairs.targets[k] = []any{}
		}
	}
	return pairs
}

// SourceIDs returns the parent ids in first-seen order.
func (p *IdPairs) SourceIDs() []any {
	return p.sources
}

// Targets returns the retained target ids of a parent.
func (p *IdPairs) Targets(source any) []any {
	return p.targets[entity.IDKey(source)]
}

// Tuples returns every (source, target) pair.
func (p *IdPairs) Tuples() []IDPair {
	var tuples []IDPair
	for _, s := range p.sources {
		for _, t := range p.targets[entity.IDKey(s)] {
			tuples = append(tuples, IDPair{Source: s, Target: t})
		}
	}
	return tuples
}

// Len returns the number of parents.
func (p *IdPairs) Len() int {
	return len(p.sources)
}

// retains reports whether the pair is retained.
func (p *IdPairs) retains(source, target any) bool {
	for _, t := range p.targets[entity.IDKey(source)] {
		if entity.IDKey(t) == entity.IDKey(target) {
			return true
		}
	}
	return false
}
