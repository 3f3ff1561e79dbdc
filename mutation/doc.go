// Package mutation implements the save engine.
//
// A save takes a graph of drafts and writes the minimal set of statements
// making the database reflect it:
//
//   - the targets of foreign keys are saved first so that their ids are known,
//   - the drafts are classified by the PreHandler: duplicates are merged or
//     rejected, ids are resolved through key groups and generated when
//     needed, and drafts with the same loaded properties are grouped into a
//     Batch,
//   - the Operator writes every batch with one INSERT, UPDATE or upsert
//     statement executed once per draft,
//   - children and middle table pairs are saved and reconciled by the
//     ChildTableOperator and the MiddleTableOperator.
//
// Constraint violations are explained by the EntityInvestigator, which
// queries the rows a failed batch collides with and returns a
// persist.SaveError addressed by the path of the failing drafts:
//
//	saver, err := mutation.NewSaver(tx, reg,
//	    mutation.WithMode(persist.SaveModeUpsert),
//	    mutation.WithAssociatedMode(persist.AssociatedReplace),
//	)
//	if err != nil {
//	    return err
//	}
//	res, err := saver.Save(ctx, store)
//	switch {
//	case errors.Is(err, persist.ErrConflictKey):
//	    // a key group value already exists
//	case err != nil:
//	    return err
//	}
//	fmt.Println(res.AffectedRowCounts)
//
// Options are given to NewSaver, to a single Save call, or loaded from a
// YAML file with LoadConfig.
package mutation
