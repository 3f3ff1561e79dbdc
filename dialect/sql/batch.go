package sql

import (
	"context"
	"fmt"

	"github.com/syssam/persist/dialect"
)

// Row counts reported for rows whose effect is unknown.
const (
	// SuccessNoInfo is reported when the driver cannot count affected rows.
	SuccessNoInfo int64 = -2
	// ExecuteFailed is reported for the row a batch failed on.
	ExecuteFailed int64 = -3
)

// BatchError is returned when a batch fails. RowCounts holds the counts of
// the rows executed before the failure followed by ExecuteFailed. Rows after
// Index were never executed and have no entry.
type BatchError struct {
	RowCounts []int64
	Index     int
	Err       error
}

// Error returns the error string.
func (e *BatchError) Error() string {
	return fmt.Sprintf("dialect/sql: batch failed at row %d: %v", e.Index, e.Err)
}

// Unwrap returns the driver error.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// ExecBatch executes query once per argument list, in order, and stops at
// the first failing row.
func ExecBatch(ctx context.Context, ex dialect.ExecQuerier, query string, batch [][]any) ([]Result, error) {
	results := make([]Result, 0, len(batch))
	for i, args := range batch {
		var res Result
		if err := ex.Exec(ctx, query, args, &res); err != nil {
			return results, &BatchError{
				RowCounts: append(RowCounts(results), ExecuteFailed),
				Index:     i,
				Err:       err,
			}
		}
		results = append(results, res)
	}
	return results, nil
}

// RowCounts returns the affected row count of every result.
func RowCounts(results []Result) []int64 {
	counts := make([]int64, len(results))
	for i, res := range results {
		n, err := res.RowsAffected()
		if err != nil {
			n = SuccessNoInfo
		}
		counts[i] = n
	}
	return counts
}

// QueryBatch executes a row-returning statement such as INSERT ...
// RETURNING once per argument list. scan is called for every returned row
// with the index of the argument list. The count of a row is the number of
// rows its statement returned.
func QueryBatch(ctx context.Context, ex dialect.ExecQuerier, query string, batch [][]any, scan func(i int, rows *Rows) error) ([]int64, error) {
	counts := make([]int64, 0, len(batch))
	for i, args := range batch {
		n, err := queryOne(ctx, ex, query, args, func(rows *Rows) error { return scan(i, rows) })
		if err != nil {
			return counts, &BatchError{
				RowCounts: append(counts, ExecuteFailed),
				Index:     i,
				Err:       err,
			}
		}
		counts = append(counts, n)
	}
	return counts, nil
}

func queryOne(ctx context.Context, ex dialect.ExecQuerier, query string, args []any, scan func(*Rows) error) (n int64, err error) {
	rows := &Rows{}
	if err := ex.Query(ctx, query, args, rows); err != nil {
		return 0, err
	}
	defer func() {
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

// Savepoint runs fn inside a named savepoint. When fn fails the savepoint
// is rolled back so that the enclosing transaction stays usable.
func Savepoint(ctx context.Context, ex dialect.ExecQuerier, name string, fn func() error) error {
	if err := ex.Exec(ctx, "SAVEPOINT "+name, []any{}, nil); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rerr := ex.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name, []any{}, nil); rerr != nil {
			return fmt.Errorf("%w: rolling back to savepoint: %v", err, rerr)
		}
		return err
	}
	return ex.Exec(ctx, "RELEASE SAVEPOINT "+name, []any{}, nil)
}
