package migration

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

// ErrAlreadyApplied is returned when applying a migration that is recorded as applied.
var ErrAlreadyApplied = errors.New("migration already applied")

// ErrNotApplied is returned when rolling back a migration that is not applied.
var ErrNotApplied = errors.New("migration not applied")

// Executor executes and tracks database migrations.
//
// Each migration runs in its own transaction that first takes a
// transaction-scoped advisory lock, so concurrent runners serialize and the
// lock is released with the transaction on any pooled connection.
type Executor struct {
	db     runtime.Database
	lockID int64
}

// NewExecutor creates a new migration executor.
func NewExecutor(db runtime.Database) *Executor {
	return &Executor{db: db, lockID: defaultLockID()}
}

// WithLockID sets a custom advisory lock ID.
func (e *Executor) WithLockID(lockID int64) *Executor {
	e.lockID = lockID
	return e
}

func defaultLockID() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("crudschemas.schema_migrations"))
	return int64(h.Sum64() >> 1)
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (e *Executor) Initialize(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(14) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			applied_at TIMESTAMPTZ,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schema_migrations_status ON schema_migrations (status)`,
	}
	return runtime.RunInTx(ctx, e.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		if err := e.lock(ctx, tx); err != nil {
			return err
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema_migrations table: %w", err)
			}
		}
		return nil
	})
}

func (e *Executor) lock(ctx context.Context, tx *runtime.Tx) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", e.lockID); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all migrations that have been applied.
func (e *Executor) GetAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	return e.records(ctx, `
		SELECT version, name, status, applied_at, error
		FROM schema_migrations
		WHERE status = 'applied'
		ORDER BY version ASC`)
}

// GetAllMigrations returns all migration records.
func (e *Executor) GetAllMigrations(ctx context.Context) ([]MigrationRecord, error) {
	return e.records(ctx, `
		SELECT version, name, status, applied_at, error
		FROM schema_migrations
		ORDER BY version ASC`)
}

func (e *Executor) records(ctx context.Context, query string) ([]MigrationRecord, error) {
	rows, err := e.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var record MigrationRecord
		if err := rows.Scan(&record.Version, &record.Name, &record.Status, &record.AppliedAt, &record.Error); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// IsMigrationApplied checks if a specific migration has been applied.
func (e *Executor) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	return isApplied(ctx, e.db, version)
}

func isApplied(ctx context.Context, q runtime.Querier, version string) (bool, error) {
	var applied bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1 AND status = 'applied')",
		version,
	).Scan(&applied)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return applied, nil
}

// Apply executes a migration's up SQL and records it as applied. A failing
// statement rolls the whole migration back and records the failure.
func (e *Executor) Apply(ctx context.Context, migration Migration, dryRun bool) error {
	if dryRun {
		applied, err := e.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return err
		}
		if applied {
			return fmt.Errorf("%s: %w", migration.Version, ErrAlreadyApplied)
		}
		return nil
	}

	var stmtErr error
	err := runtime.RunInTx(ctx, e.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		stmtErr = nil
		if err := e.lock(ctx, tx); err != nil {
			return err
		}
		applied, err := isApplied(ctx, tx, migration.Version)
		if err != nil {
			return err
		}
		if applied {
			return fmt.Errorf("%s: %w", migration.Version, ErrAlreadyApplied)
		}

		for i, stmt := range SplitStatements(migration.UpSQL) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				stmtErr = &runtime.MigrationError{
					Version: migration.Version,
					Message: fmt.Sprintf("statement %d failed", i+1),
					Err:     err,
				}
				return stmtErr
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, status, applied_at, error)
			VALUES ($1, $2, 'applied', $3, NULL)
			ON CONFLICT (version) DO UPDATE
			SET name = EXCLUDED.name, status = 'applied', applied_at = EXCLUDED.applied_at, error = NULL`,
			migration.Version, migration.Name, time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})

	if stmtErr != nil && errors.Is(err, stmtErr) {
		if recErr := e.recordFailure(ctx, migration, stmtErr); recErr != nil {
			return errors.Join(err, recErr)
		}
	}
	return err
}

func (e *Executor) recordFailure(ctx context.Context, migration Migration, cause error) error {
	_, err := e.db.Exec(ctx, `
		INSERT INTO schema_migrations (version, name, status, applied_at, error)
		VALUES ($1, $2, 'failed', $3, $4)
		ON CONFLICT (version) DO UPDATE
		SET status = 'failed', applied_at = EXCLUDED.applied_at, error = EXCLUDED.error`,
		migration.Version, migration.Name, time.Now().UTC(), cause.Error(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration failure: %w", err)
	}
	return nil
}

// Rollback executes a migration's down SQL and removes its record.
func (e *Executor) Rollback(ctx context.Context, migration Migration, dryRun bool) error {
	if dryRun {
		applied, err := e.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%s: %w", migration.Version, ErrNotApplied)
		}
		return nil
	}

	return runtime.RunInTx(ctx, e.db, pgx.TxOptions{}, func(tx *runtime.Tx) error {
		if err := e.lock(ctx, tx); err != nil {
			return err
		}
		applied, err := isApplied(ctx, tx, migration.Version)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%s: %w", migration.Version, ErrNotApplied)
		}

		for i, stmt := range SplitStatements(migration.DownSQL) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return &runtime.MigrationError{
					Version: migration.Version,
					Message: fmt.Sprintf("rollback statement %d failed", i+1),
					Err:     err,
				}
			}
		}

		if _, err := tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", migration.Version); err != nil {
			return fmt.Errorf("failed to delete migration record: %w", err)
		}
		return nil
	})
}

// ApplyAll applies all pending migrations in version order and returns the
// versions it applied.
func (e *Executor) ApplyAll(ctx context.Context, migrations []Migration, dryRun bool) ([]string, error) {
	appliedMap := make(map[string]bool)
	applied, err := e.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	var done []string
	for _, migration := range migrations {
		if appliedMap[migration.Version] {
			continue
		}
		if err := e.Apply(ctx, migration, dryRun); err != nil {
			return done, fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		done = append(done, migration.Version)
	}
	return done, nil
}

// RollbackTo rolls back all applied migrations newer than targetVersion,
// newest first. An empty target rolls back everything.
func (e *Executor) RollbackTo(ctx context.Context, targetVersion string, migrations []Migration, dryRun bool) ([]string, error) {
	applied, err := e.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	migrationMap := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		migrationMap[m.Version] = m
	}

	var done []string
	for i := len(applied) - 1; i >= 0; i-- {
		record := applied[i]
		if record.Version <= targetVersion {
			break
		}
		migration, exists := migrationMap[record.Version]
		if !exists {
			return done, fmt.Errorf("migration file not found for version %s", record.Version)
		}
		if err := e.Rollback(ctx, migration, dryRun); err != nil {
			return done, fmt.Errorf("failed to rollback migration %s: %w", record.Version, err)
		}
		done = append(done, record.Version)
	}
	return done, nil
}

// GetStatus returns the status of all migrations.
func (e *Executor) GetStatus(ctx context.Context, migrations []Migration) ([]MigrationRecord, error) {
	recorded, err := e.GetAllMigrations(ctx)
	if err != nil {
		return nil, err
	}
	byVersion := make(map[string]MigrationRecord, len(recorded))
	for _, r := range recorded {
		byVersion[r.Version] = r
	}

	records := make([]MigrationRecord, 0, len(migrations))
	for _, migration := range migrations {
		if record, exists := byVersion[migration.Version]; exists {
			records = append(records, record)
			continue
		}
		records = append(records, MigrationRecord{
			Version: migration.Version,
			Name:    migration.Name,
			Status:  StatusPending,
		})
	}
	return records, nil
}

// Validate checks that all migrations in the database have corresponding files.
func (e *Executor) Validate(ctx context.Context, migrations []Migration) error {
	recorded, err := e.GetAllMigrations(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(migrations))
	for _, m := range migrations {
		known[m.Version] = true
	}

	var missing []string
	for _, record := range recorded {
		if !known[record.Version] {
			missing = append(missing, record.Version)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing migration files: %v", missing)
	}
	return nil
}
