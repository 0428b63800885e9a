package builder

import (
	"context"
	"errors"

	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

// Query runs hand-written SQL and scans every row into T by column name.
// T may be any struct with po-tagged fields; it need not be a registered table.
//
//	summaries, err := builder.Query[QuestionSummary](ctx, db, sql, userID)
func Query[T any](ctx context.Context, d *DB, sql string, args ...any) ([]T, error) {
	rows, err := d.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		var item T
		if err := scanIntoStruct(rows, &item); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &runtime.QueryError{Query: sql, Err: runtime.TranslateError(err)}
	}
	return results, nil
}

// QueryOne is Query for statements expected to yield a single row.
// It returns runtime.ErrNotFound when there is none.
func QueryOne[T any](ctx context.Context, d *DB, sql string, args ...any) (*T, error) {
	results, err := Query[T](ctx, d, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, runtime.ErrNotFound
	}
	return &results[0], nil
}

// Exec runs a statement that returns no rows.
func Exec(ctx context.Context, d *DB, sql string, args ...any) (int64, error) {
	tag, err := d.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool {
	return errors.Is(err, runtime.ErrNotFound)
}
