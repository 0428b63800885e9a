// Package migration provides database migration functionality.
package migration

import (
	"time"

	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// Migration represents a database migration.
type Migration struct {
	Version   string    // Version/timestamp (e.g., "20240101120000")
	Name      string    // Migration name (e.g., "create_qa_schema")
	UpSQL     string    // SQL for applying the migration
	DownSQL   string    // SQL for rolling back the migration
	AppliedAt time.Time // When the migration was applied
}

// MigrationFile represents a migration file on disk.
type MigrationFile struct {
	Version  string // Version/timestamp
	Name     string // Migration name
	UpPath   string // Path to .up.sql file
	DownPath string // Path to .down.sql file
}

// SchemaDiff represents differences between two schemas.
// Added tables are in foreign key dependency order, dropped tables in reverse.
type SchemaDiff struct {
	SchemasAdded      []string               // Namespaces with no tables in the database yet
	TablesAdded       []schema.TableMetadata // Tables to create
	TablesDropped     []schema.TableMetadata // Tables to drop
	TablesModified    []TableDiff            // Tables with changes
	EnumTypesAdded    []schema.EnumType      // Enum types to create
	EnumTypesDropped  []schema.EnumType      // Enum types to drop
	EnumTypesModified []EnumTypeDiff         // Enum types with new values
}

// TableDiff represents changes to a single table.
type TableDiff struct {
	Table              string // Qualified table name
	Schema             string
	ColumnsAdded       []schema.ColumnMetadata
	ColumnsDropped     []schema.ColumnMetadata
	ColumnsModified    []ColumnDiff
	IndexesAdded       []schema.IndexMetadata
	IndexesDropped     []schema.IndexMetadata
	ForeignKeysAdded   []schema.ForeignKeyMetadata
	ForeignKeysDropped []schema.ForeignKeyMetadata
	ConstraintsAdded   []schema.ConstraintMetadata
	ConstraintsDropped []schema.ConstraintMetadata
	PrimaryKeyChanged  *PrimaryKeyChange
	TouchTriggerAdded  bool
	TouchTriggerDrop   bool
}

// ColumnDiff represents changes to a single column.
type ColumnDiff struct {
	ColumnName     string
	OldColumn      schema.ColumnMetadata
	NewColumn      schema.ColumnMetadata
	TypeChanged    bool
	NullChanged    bool
	DefaultChanged bool
}

// PrimaryKeyChange represents a change to the primary key.
type PrimaryKeyChange struct {
	Old *schema.PrimaryKeyMetadata
	New *schema.PrimaryKeyMetadata
}

// EnumTypeDiff represents changes to an enum type.
type EnumTypeDiff struct {
	Name      string   // Qualified enum type name
	OldValues []string // Existing values in database
	NewValues []string // New values to add
}

// MigrationStatus represents the status of a migration.
type MigrationStatus string

const (
	// StatusPending means the migration has not been applied.
	StatusPending MigrationStatus = "pending"
	// StatusApplied means the migration has been applied.
	StatusApplied MigrationStatus = "applied"
	// StatusFailed means the migration failed to apply.
	StatusFailed MigrationStatus = "failed"
)

// MigrationRecord represents a migration in the tracking table.
type MigrationRecord struct {
	Version   string
	Name      string
	Status    MigrationStatus
	AppliedAt *time.Time
	Error     *string
}

// HasChanges returns true if there are any schema differences.
func (d *SchemaDiff) HasChanges() bool {
	return len(d.TablesAdded) > 0 ||
		len(d.TablesDropped) > 0 ||
		len(d.TablesModified) > 0 ||
		len(d.EnumTypesAdded) > 0 ||
		len(d.EnumTypesDropped) > 0 ||
		len(d.EnumTypesModified) > 0
}

// HasChanges returns true if the table has any changes.
func (t *TableDiff) HasChanges() bool {
	return len(t.ColumnsAdded) > 0 ||
		len(t.ColumnsDropped) > 0 ||
		len(t.ColumnsModified) > 0 ||
		len(t.IndexesAdded) > 0 ||
		len(t.IndexesDropped) > 0 ||
		len(t.ForeignKeysAdded) > 0 ||
		len(t.ForeignKeysDropped) > 0 ||
		len(t.ConstraintsAdded) > 0 ||
		len(t.ConstraintsDropped) > 0 ||
		t.PrimaryKeyChanged != nil ||
		t.TouchTriggerAdded ||
		t.TouchTriggerDrop
}

// GenerateVersion generates a timestamp-based version string.
// Format: YYYYMMDDHHmmss (e.g., "20240101120000")
func GenerateVersion() string {
	return time.Now().UTC().Format("20060102150405")
}

// GenerateFileName generates a migration filename.
// Format: {version}_{name}.{up|down}.sql
func GenerateFileName(version, name, direction string) string {
	return version + "_" + name + "." + direction + ".sql"
}
