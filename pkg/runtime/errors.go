// Package runtime wraps the pgx connection pool and maps PostgreSQL errors
// onto sentinel values that callers can test with errors.Is.
package runtime

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when a unique constraint is violated.
	ErrDuplicateKey = errors.New("duplicate key value")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated.
	ErrForeignKeyViolation = errors.New("foreign key violation")

	// ErrCheckViolation is returned when a CHECK constraint rejects a row.
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL column receives NULL.
	ErrNotNullViolation = errors.New("not null violation")

	// ErrSerializationFailure is returned when a transaction lost a
	// serialization race or a deadlock and may be retried.
	ErrSerializationFailure = errors.New("serialization failure")

	// ErrTransactionClosed is returned when operating on a closed transaction.
	ErrTransactionClosed = errors.New("transaction already closed")
)

// SQLSTATE codes handled by TranslateError.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeNotNullViolation     = "23502"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// ConstraintError is a rejected write, carrying the constraint that fired.
type ConstraintError struct {
	Kind       error // one of the sentinel errors above
	Table      string
	Column     string
	Constraint string
	Err        *pgconn.PgError
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%v on %s (%s)", e.Kind, e.Table, e.Constraint)
	}
	return fmt.Sprintf("%v on %s.%s", e.Kind, e.Table, e.Column)
}

// Is matches the sentinel kind.
func (e *ConstraintError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the driver error.
func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// ConstraintName extracts the violated constraint name, if any.
func ConstraintName(err error) string {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Constraint
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// TranslateError maps driver errors onto the package sentinels. Errors it
// does not recognise are returned unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	var kind error
	switch pgErr.Code {
	case codeUniqueViolation:
		kind = ErrDuplicateKey
	case codeForeignKeyViolation:
		kind = ErrForeignKeyViolation
	case codeCheckViolation:
		kind = ErrCheckViolation
	case codeNotNullViolation:
		kind = ErrNotNullViolation
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %w", ErrSerializationFailure, err)
	default:
		return err
	}

	table := pgErr.TableName
	if pgErr.SchemaName != "" {
		table = pgErr.SchemaName + "." + table
	}
	return &ConstraintError{
		Kind:       kind,
		Table:      table,
		Column:     pgErr.ColumnName,
		Constraint: pgErr.ConstraintName,
		Err:        pgErr,
	}
}

// QueryError represents a query execution error.
type QueryError struct {
	Query string
	Err   error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v\nQuery: %s", e.Err, e.Query)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// MigrationError represents a migration error.
type MigrationError struct {
	Version string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration error (version %s): %s: %v", e.Version, e.Message, e.Err)
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Err
}
