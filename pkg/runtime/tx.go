package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx wraps a pgx transaction with the same error translation as DB.
type Tx struct {
	tx     pgx.Tx
	closed bool
}

// Exec executes a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.closed {
		return pgconn.CommandTag{}, ErrTransactionClosed
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return tag, &QueryError{Query: sql, Err: TranslateError(err)}
	}
	return tag, nil
}

// Query runs a query inside the transaction.
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, &QueryError{Query: sql, Err: TranslateError(err)}
	}
	return rows, nil
}

// QueryRow runs a single-row query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return translatingRow{row: t.tx.QueryRow(ctx, sql, args...), sql: sql}
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", TranslateError(err))
	}
	return nil
}

// Rollback rolls back the transaction. Rolling back a closed transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// TxBeginner starts transactions. *DB implements it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (*Tx, error)
}

// RetryPolicy bounds RunInTx retries on serialization failures and deadlocks.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries three times with a short linear backoff.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}

// RunInTx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise. Serialization failures and deadlocks restart fn from
// scratch, so fn must not have side effects outside the transaction.
func RunInTx(ctx context.Context, db TxBeginner, opts pgx.TxOptions, fn func(tx *Tx) error) error {
	return RunInTxWithRetry(ctx, db, opts, DefaultRetryPolicy, fn)
}

// RunInTxWithRetry is RunInTx with an explicit retry policy.
func RunInTxWithRetry(ctx context.Context, db TxBeginner, opts pgx.TxOptions, policy RetryPolicy, fn func(tx *Tx) error) error {
	attempts := max(policy.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = runOnce(ctx, db, opts, fn)
		if err == nil || !errors.Is(err, ErrSerializationFailure) {
			return err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Backoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
}

func runOnce(ctx context.Context, db TxBeginner, opts pgx.TxOptions, fn func(tx *Tx) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
