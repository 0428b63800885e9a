// Package schema turns `po` struct tags into relational table metadata.
package schema

import (
	"reflect"
	"strings"
)

// TableMetadata describes one table: columns, keys, constraints and indexes.
type TableMetadata struct {
	Schema      string // PostgreSQL namespace, empty for the search_path default
	Name        string // Unqualified table name
	GoType      reflect.Type
	Columns     []ColumnMetadata
	PrimaryKey  *PrimaryKeyMetadata
	ForeignKeys []ForeignKeyMetadata
	Indexes     []IndexMetadata
	Constraints []ConstraintMetadata
	EnumTypes   []EnumType
}

// QualifiedName returns schema.table, or the bare name when no schema is set.
func (t *TableMetadata) QualifiedName() string {
	return qualify(t.Schema, t.Name)
}

// IsPrimaryKey reports whether the column is part of the primary key.
func (t *TableMetadata) IsPrimaryKey(column string) bool {
	if t.PrimaryKey == nil {
		return false
	}
	for _, c := range t.PrimaryKey.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Column looks a column up by name.
func (t *TableMetadata) Column(name string) (*ColumnMetadata, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// AutoUpdateColumns returns the timestamp columns refreshed on every UPDATE.
func (t *TableMetadata) AutoUpdateColumns() []string {
	var cols []string
	for _, c := range t.Columns {
		if c.AutoUpdate {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// Constraint looks a named constraint up.
func (t *TableMetadata) Constraint(name string) (*ConstraintMetadata, bool) {
	for i := range t.Constraints {
		if t.Constraints[i].Name == name {
			return &t.Constraints[i], true
		}
	}
	return nil, false
}

// ColumnMetadata describes a single column.
type ColumnMetadata struct {
	Name       string
	GoField    string
	GoType     reflect.Type
	SQLType    string
	Nullable   bool
	Default    *string
	Identity   *IdentityColumn
	AutoUpdate bool // refreshed to NOW() by a BEFORE UPDATE trigger
	Position   int
}

// IdentityGeneration is the GENERATED clause of an identity column.
type IdentityGeneration string

const (
	IdentityAlways    IdentityGeneration = "ALWAYS"
	IdentityByDefault IdentityGeneration = "BY DEFAULT"
)

// IdentityColumn marks a column as GENERATED ... AS IDENTITY.
type IdentityColumn struct {
	Generation IdentityGeneration
}

// PrimaryKeyMetadata describes the primary key.
type PrimaryKeyMetadata struct {
	Name    string
	Columns []string
}

// ReferenceAction is an ON DELETE / ON UPDATE action.
type ReferenceAction string

const (
	NoAction   ReferenceAction = "NO ACTION"
	Cascade    ReferenceAction = "CASCADE"
	Restrict   ReferenceAction = "RESTRICT"
	SetNull    ReferenceAction = "SET NULL"
	SetDefault ReferenceAction = "SET DEFAULT"
)

// ForeignKeyMetadata describes a foreign key. ReferencedTable is schema-qualified.
type ForeignKeyMetadata struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	OnDelete          ReferenceAction
	OnUpdate          ReferenceAction
}

// SortDirection is the direction of an index column.
type SortDirection string

const (
	Ascending  SortDirection = "ASC"
	Descending SortDirection = "DESC"
)

// ColumnOrder sets the direction of one index column.
type ColumnOrder struct {
	Column    string
	Direction SortDirection
}

// IndexMetadata describes a secondary index.
type IndexMetadata struct {
	Name           string
	Columns        []string
	ColumnOrdering []ColumnOrder
	Unique         bool
	Type           string // btree, gin, ...
	Where          string // partial index predicate
}

// ConstraintType distinguishes table constraints.
type ConstraintType string

const (
	CheckConstraint  ConstraintType = "CHECK"
	UniqueConstraint ConstraintType = "UNIQUE"
)

// ConstraintMetadata is a named CHECK or UNIQUE constraint.
type ConstraintMetadata struct {
	Name       string
	Type       ConstraintType
	Columns    []string // UNIQUE columns, or the column a CHECK was declared on
	Expression string   // CHECK expression, always parenthesised
}

// EnumType is a PostgreSQL enum type.
type EnumType struct {
	Schema string
	Name   string
	Values []string
}

// QualifiedName returns schema.type.
func (e EnumType) QualifiedName() string {
	return qualify(e.Schema, e.Name)
}

// SplitQualified splits "schema.name" into its parts.
func SplitQualified(name string) (schemaName, object string) {
	if i := strings.Index(name, "."); i != -1 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func qualify(schemaName, name string) string {
	if schemaName == "" {
		return name
	}
	return schemaName + "." + name
}
