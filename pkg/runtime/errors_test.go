package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name       string
		pgErr      *pgconn.PgError
		wantKind   error
		constraint string
	}{
		{
			name:       "unique violation",
			pgErr:      &pgconn.PgError{Code: "23505", SchemaName: "qa", TableName: "users", ConstraintName: "users_email_key"},
			wantKind:   ErrDuplicateKey,
			constraint: "users_email_key",
		},
		{
			name:       "foreign key violation",
			pgErr:      &pgconn.PgError{Code: "23503", SchemaName: "cinema", TableName: "bookings", ConstraintName: "bookings_user_id_fkey"},
			wantKind:   ErrForeignKeyViolation,
			constraint: "bookings_user_id_fkey",
		},
		{
			name:       "check violation",
			pgErr:      &pgconn.PgError{Code: "23514", SchemaName: "rental", TableName: "bookings", ConstraintName: "bookings_dates_check"},
			wantKind:   ErrCheckViolation,
			constraint: "bookings_dates_check",
		},
		{
			name:     "not null violation",
			pgErr:    &pgconn.PgError{Code: "23502", TableName: "users", ColumnName: "email"},
			wantKind: ErrNotNullViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TranslateError(fmt.Errorf("insert: %w", tt.pgErr))

			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.constraint, ConstraintName(err))

			var ce *ConstraintError
			require.ErrorAs(t, err, &ce)
			assert.Same(t, tt.pgErr, ce.Err)
		})
	}
}

func TestTranslateErrorSerialization(t *testing.T) {
	for _, code := range []string{"40001", "40P01"} {
		err := TranslateError(&pgconn.PgError{Code: code})
		assert.ErrorIs(t, err, ErrSerializationFailure, code)
	}
}

func TestTranslateErrorPassthrough(t *testing.T) {
	assert.NoError(t, TranslateError(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, TranslateError(plain))

	other := &pgconn.PgError{Code: "42P01"}
	assert.Same(t, error(other), TranslateError(other))
}

func TestTranslateErrorNoRows(t *testing.T) {
	err := TranslateError(pgx.ErrNoRows)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	// already translated errors are left alone
	assert.Equal(t, err, TranslateError(err))
}

func TestQueryErrorUnwrapsToSentinel(t *testing.T) {
	err := &QueryError{
		Query: "INSERT INTO qa.likes ...",
		Err:   TranslateError(&pgconn.PgError{Code: "23505", ConstraintName: "likes_user_id_question_id_key"}),
	}
	assert.ErrorIs(t, err, ErrDuplicateKey)
	assert.Equal(t, "likes_user_id_question_id_key", ConstraintName(err))
	assert.Contains(t, err.Error(), "INSERT INTO qa.likes")
}
