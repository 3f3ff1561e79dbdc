package mutation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/entity"
	"github.com/syssam/persist/fetch"
	"github.com/syssam/persist/schema"
)

// ChildTableOperator reconciles a one-to-many or inverse one-to-one
// association whose foreign key lives in the child table.
type ChildTableOperator struct {
	parent *saveContext
	ctx    *saveContext
	prop   *schema.Prop
	// back is the foreign key property of the child.
	back *schema.Prop
}

func newChildTableOperator(parent *saveContext, p *schema.Prop) *ChildTableOperator {
	return &ChildTableOperator{
		parent: parent,
		ctx:    parent.propContext(p),
		prop:   p,
		back:   p.MappedBy(),
	}
}

// DisconnectExcept dissociates every child of the retained parents that is
// not retained itself.
func (o *ChildTableOperator) DisconnectExcept(ctx context.Context, retain *IdPairs) error {
	if retain.Len() == 0 {
		return nil
	}
	children, err := o.children(ctx, retain.SourceIDs())
	if err != nil {
		return err
	}
	var detached []*entity.Draft
	for _, c := range children {
		ref := c.Ref(o.back.Name())
		if ref == nil {
			continue
		}
		pid, _ := ref.ID()
		cid, _ := c.ID()
		if !retain.retains(pid, cid) {
			detached = append(detached, c)
		}
	}
	if len(detached) == 0 {
		return nil
	}
	return o.disconnect(ctx, detached)
}

// children loads the alive children of the given parents.
func (o *ChildTableOperator) children(ctx context.Context, parents []any) ([]*entity.Draft, error) {
	t := o.ctx.typ
	f := fetch.New(t).Add(o.back.Name())
	var children []*entity.Draft
	for _, chunk := range fetch.Chunk(parents, o.ctx.batchSize()) {
		preds := []string{sql.In(o.back.Column(), len(chunk))}
		args := append([]any{}, chunk...)
		if pred, arg, ok := aliveFilter(t); ok {
			preds = append(preds, pred)
			args = append(args, arg...)
		}
		found, err := o.ctx.exec.FindRows(ctx, f, strings.Join(preds, " AND "), args...)
		if err != nil {
			return nil, err
		}
		children = append(children, found...)
	}
	return children, nil
}

// aliveFilter returns the predicate excluding logically deleted rows.
func aliveFilter(t *schema.Type) (string, []any, bool) {
	l := t.LogicalDeletedProp()
	if l == nil {
		return "", nil, false
	}
	initial := l.LogicalDeleted().Initial
	if initial == nil {
		return sql.IsNull(l.Column()), nil, true
	}
	v, err := l.Kind().Normalize(initial)
	if err != nil {
		return "", nil, false
	}
	return sql.EQ(l.Column()), []any{v}, true
}

// action returns the dissociate action of the foreign key. Undeclared
// actions reject the dissociation.
func (o *ChildTableOperator) action() schema.DissociateAction {
	if a := o.back.DissociateAction(); a != schema.DissociateDefault {
		return a
	}
	return schema.DissociateCheck
}

func (o *ChildTableOperator) disconnect(ctx context.Context, children []*entity.Draft) error {
	t := o.ctx.typ
	switch o.action() {
	case schema.DissociateLax:
		o.ctx.log.Debug("dissociated children left untouched", zap.Stringer("prop", o.back), zap.Int("rows", len(children)))
		return nil
	case schema.DissociateSetNull:
		if !o.back.Nullable() {
			return persist.NewAssociationError(persist.KindCannotDissociateTarget, o.ctx.path, t.Name(), o.back.Name())
		}
		return o.clearForeignKey(ctx, children)
	case schema.DissociateDelete:
		return deleteRows(ctx, o.ctx, children)
	default:
		return persist.NewAssociationError(persist.KindCannotDissociateTarget, o.ctx.path, t.Name(), o.back.Name())
	}
}

func (o *ChildTableOperator) clearForeignKey(ctx context.Context, children []*entity.Draft) error {
	t := o.ctx.typ
	if err := authorize(ctx, o.ctx, persist.OpUpdate, children); err != nil {
		return err
	}
	ids := parentIDs(children)
	var n int
	for _, chunk := range fetch.Chunk(ids, o.ctx.batchSize()) {
		query := sql.Update(t.Table()).SetExpr(o.back.Column() + " = NULL").
			Where(sql.In(t.ID().Column(), len(chunk))).
			Query(o.ctx.dialect)
		counts, err := o.ctx.run(ctx, query, [][]any{chunk})
		if err != nil {
			return persist.NewMutationError(t.Name(), "dissociate", err)
		}
		n += sum(counts)
	}
	o.ctx.count(t.Name(), n)
	for _, c := range children {
		id, _ := c.ID()
		o.ctx.events.prepare(ChangeEvent{Op: persist.OpUpdate, Type: t.Name(), Table: t.Table(), ID: id, Draft: c})
	}
	o.ctx.evict(ctx, t, ids)
	return nil
}

// deleteRows deletes the given rows of c.typ, logically when the delete
// mode allows it. Physical deletion first dissociates the children of the
// rows and removes their middle table pairs.
func deleteRows(ctx context.Context, c *saveContext, rows []*entity.Draft) error {
	t := c.typ
	if err := authorize(ctx, c, persist.OpDelete, rows); err != nil {
		return err
	}
	ids := parentIDs(rows)
	if len(ids) == 0 {
		return nil
	}
	logical := t.LogicalDeletedProp()
	switch c.opts.DeleteMode {
	case persist.DeleteModePhysical:
		logical = nil
	case persist.DeleteModeLogical:
		if logical == nil {
			c.log.Debug("no logical deleted property, deleting physically", zap.String("type", t.Name()))
		}
	}
	var n int
	if logical != nil && logical.LogicalDeleted().Deleted != nil {
		value, err := logical.Kind().Normalize(logical.LogicalDeleted().Deleted())
		if err != nil {
			return persist.NewMutationError(t.Name(), "delete", err)
		}
		for _, chunk := range fetch.Chunk(ids, c.batchSize()) {
			query := sql.Update(t.Table()).Set(logical.Column()).
				Where(sql.In(t.ID().Column(), len(chunk))).
				Query(c.dialect)
			counts, err := c.run(ctx, query, [][]any{append([]any{value}, chunk...)})
			if err != nil {
				return persist.NewMutationError(t.Name(), "delete", err)
			}
			n += sum(counts)
		}
	} else {
		if err := dissociateOwned(ctx, c, rows); err != nil {
			return err
		}
		for _, chunk := range fetch.Chunk(ids, c.batchSize()) {
			query := sql.Delete(t.Table()).Where(sql.In(t.ID().Column(), len(chunk))).Query(c.dialect)
			counts, err := c.run(ctx, query, [][]any{chunk})
			if err != nil {
				return persist.NewMutationError(t.Name(), "delete", err)
			}
			n += sum(counts)
		}
	}
	c.count(t.Name(), n)
	for _, d := range rows {
		id, _ := d.ID()
		c.events.prepare(ChangeEvent{Op: persist.OpDelete, Type: t.Name(), Table: t.Table(), ID: id, Draft: d})
	}
	c.evict(ctx, t, ids)
	return nil
}

// dissociateOwned releases what references the rows about to be deleted:
// children through their foreign key and middle table pairs.
func dissociateOwned(ctx context.Context, c *saveContext, rows []*entity.Draft) error {
	for _, p := range c.typ.Props() {
		switch {
		case p.IsRemote() || p.JoinSQL() != "":
			continue
		case p.MiddleTable() != nil:
			op, err := newMiddleTableOperator(c, p)
			if err != nil {
				return err
			}
			op.physical = true
			if err := op.DisconnectExcept(ctx, NoTarget(rows)); err != nil {
				return err
			}
		case p.MappedBy() != nil && p.MappedBy().IsColumnDefinition():
			if err := newChildTableOperator(c, p).DisconnectExcept(ctx, NoTarget(rows)); err != nil {
				return err
			}
		}
	}
	return nil
}
