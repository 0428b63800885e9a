package schema

import (
	"fmt"
	"reflect"
	"strings"
)

const (
	// StructTagKey is the key used in struct tags (e.g., `po:"..."`).
	StructTagKey = "po"

	// TouchColumn is the column a BEFORE UPDATE trigger refreshes to NOW().
	TouchColumn = "updated_at"
)

// Tabler lets a model choose its (optionally schema-qualified) table name.
//
//	func (User) TableName() string { return "qa.users" }
type Tabler interface {
	TableName() string
}

// Check is a named table-level CHECK constraint.
type Check struct {
	Name string
	Expr string
}

// Unique is a composite UNIQUE constraint. Name defaults to <table>_<cols>_key.
type Unique struct {
	Name    string
	Columns []string
}

// TableOptions carries table-level declarations that do not fit on a single
// field, such as a column taking part in several composite unique keys.
type TableOptions struct {
	Checks  []Check
	Uniques []Unique
	Indexes []IndexMetadata
}

// Optioner is implemented by models declaring table-level checks or compound indexes.
type Optioner interface {
	TableOptions() TableOptions
}

// Parser parses struct definitions to extract table metadata.
type Parser struct {
	typeMapper *TypeMapper
	cache      map[reflect.Type]*TableMetadata
}

// NewParser creates a new Parser instance.
func NewParser() *Parser {
	return &Parser{
		typeMapper: DefaultTypeMapper,
		cache:      make(map[reflect.Type]*TableMetadata),
	}
}

// Parse extracts TableMetadata from a Go struct type.
func (p *Parser) Parse(modelType reflect.Type) (*TableMetadata, error) {
	for modelType.Kind() == reflect.Ptr {
		modelType = modelType.Elem()
	}
	if modelType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %s", modelType.Kind())
	}
	if cached, ok := p.cache[modelType]; ok {
		return cached, nil
	}

	schemaName, tableName := SplitQualified(p.extractTableName(modelType))
	if tableName == "" {
		return nil, fmt.Errorf("%s: empty table name", modelType)
	}
	table := &TableMetadata{
		Schema:      schemaName,
		Name:        tableName,
		GoType:      modelType,
		Columns:     make([]ColumnMetadata, 0, modelType.NumField()),
		ForeignKeys: make([]ForeignKeyMetadata, 0),
		Indexes:     make([]IndexMetadata, 0),
		Constraints: make([]ConstraintMetadata, 0),
	}

	// composite unique groups, in declaration order
	var groupOrder []string
	groups := make(map[string][]string)

	for i := 0; i < modelType.NumField(); i++ {
		field := modelType.Field(i)
		if !field.IsExported() {
			continue
		}
		tagValue := field.Tag.Get(StructTagKey)
		if tagValue == "" || tagValue == "-" {
			continue
		}
		opts, err := parseTag(tagValue)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tag for field %s: %w", field.Name, err)
		}

		column, err := p.createColumnMetadata(table, field, opts, i)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		if opts.Has("primaryKey") {
			if table.PrimaryKey == nil {
				table.PrimaryKey = &PrimaryKeyMetadata{
					Name:    table.Name + "_pkey",
					Columns: []string{column.Name},
				}
			} else {
				table.PrimaryKey.Columns = append(table.PrimaryKey.Columns, column.Name)
			}
		}

		if opts.Has("unique") {
			if group := opts.Get("unique"); group != "" {
				if _, seen := groups[group]; !seen {
					groupOrder = append(groupOrder, group)
				}
				groups[group] = append(groups[group], column.Name)
			} else {
				table.Constraints = append(table.Constraints, ConstraintMetadata{
					Name:    table.Name + "_" + column.Name + "_key",
					Type:    UniqueConstraint,
					Columns: []string{column.Name},
				})
			}
		}

		if expr := opts.Get("check"); expr != "" {
			table.Constraints = append(table.Constraints, ConstraintMetadata{
				Name:       table.Name + "_" + column.Name + "_check",
				Type:       CheckConstraint,
				Columns:    []string{column.Name},
				Expression: "(" + expr + ")",
			})
		}

		if ref := opts.Get("fk"); ref != "" {
			fk, err := parseForeignKey(table, column.Name, ref, opts)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field.Name, err)
			}
			table.ForeignKeys = append(table.ForeignKeys, fk)
		}

		if opts.Has("index") {
			name := opts.Get("index")
			if name == "" {
				name = "idx_" + table.Name + "_" + column.Name
			}
			idx := IndexMetadata{Name: name, Columns: []string{column.Name}, Type: "btree"}
			if opts.Has("desc") {
				idx.ColumnOrdering = []ColumnOrder{{Column: column.Name, Direction: Descending}}
			}
			table.Indexes = append(table.Indexes, idx)
		}

		table.Columns = append(table.Columns, column)
	}

	for _, group := range groupOrder {
		cols := groups[group]
		table.Constraints = append(table.Constraints, ConstraintMetadata{
			Name:    table.Name + "_" + strings.Join(cols, "_") + "_key",
			Type:    UniqueConstraint,
			Columns: cols,
		})
	}

	if err := p.applyTableOptions(modelType, table); err != nil {
		return nil, err
	}

	p.cache[modelType] = table
	return table, nil
}

// extractTableName prefers TableName() and falls back to snake_case.
func (p *Parser) extractTableName(modelType reflect.Type) string {
	if t, ok := reflect.New(modelType).Elem().Interface().(Tabler); ok {
		return t.TableName()
	}
	if t, ok := reflect.New(modelType).Interface().(Tabler); ok {
		return t.TableName()
	}
	return toSnakeCase(modelType.Name())
}

func (p *Parser) applyTableOptions(modelType reflect.Type, table *TableMetadata) error {
	o, ok := reflect.New(modelType).Elem().Interface().(Optioner)
	if !ok {
		return nil
	}
	opts := o.TableOptions()
	for _, c := range opts.Checks {
		if c.Name == "" {
			return fmt.Errorf("table %s: check constraint %q has no name", table.Name, c.Expr)
		}
		table.Constraints = append(table.Constraints, ConstraintMetadata{
			Name:       c.Name,
			Type:       CheckConstraint,
			Expression: "(" + c.Expr + ")",
		})
	}
	for _, u := range opts.Uniques {
		if len(u.Columns) == 0 {
			return fmt.Errorf("table %s: unique constraint %q has no columns", table.Name, u.Name)
		}
		for _, col := range u.Columns {
			if _, ok := table.Column(col); !ok {
				return fmt.Errorf("table %s: unique constraint references unknown column %s", table.Name, col)
			}
		}
		name := u.Name
		if name == "" {
			name = table.Name + "_" + strings.Join(u.Columns, "_") + "_key"
		}
		table.Constraints = append(table.Constraints, ConstraintMetadata{
			Name:    name,
			Type:    UniqueConstraint,
			Columns: u.Columns,
		})
	}
	for _, idx := range opts.Indexes {
		for _, col := range idx.Columns {
			if _, ok := table.Column(col); !ok {
				return fmt.Errorf("table %s: index %s references unknown column %s", table.Name, idx.Name, col)
			}
		}
		if idx.Type == "" {
			idx.Type = "btree"
		}
		table.Indexes = append(table.Indexes, idx)
	}
	return nil
}

// createColumnMetadata creates a ColumnMetadata from a struct field.
func (p *Parser) createColumnMetadata(table *TableMetadata, field reflect.StructField, opts *TagOptions, position int) (ColumnMetadata, error) {
	column := ColumnMetadata{
		Name:     opts.Name,
		GoField:  field.Name,
		GoType:   field.Type,
		Position: position,
	}

	switch {
	case opts.Has("enum"):
		enum, err := parseEnum(table.Schema, opts.Get("enum"))
		if err != nil {
			return column, err
		}
		column.SQLType = enum.QualifiedName()
		table.EnumTypes = append(table.EnumTypes, enum)
	case opts.GetSQLType() != "":
		column.SQLType = opts.GetSQLType()
	default:
		column.SQLType = p.typeMapper.GoTypeToPostgreSQL(field.Type)
	}
	if column.SQLType == "" {
		return column, fmt.Errorf("cannot infer SQL type for %s", field.Type)
	}

	// notNull wins over pointer nullability so optional Go values can still
	// fall back to a database default.
	column.Nullable = IsNullable(field.Type)
	if opts.Has("notNull") || opts.Has("primaryKey") {
		column.Nullable = false
	}

	if def := opts.Get("default"); def != "" {
		column.Default = &def
	}
	column.AutoUpdate = opts.Has("autoUpdate")
	if column.AutoUpdate && column.Name != TouchColumn {
		return column, fmt.Errorf("autoUpdate is only supported on %s", TouchColumn)
	}

	if opts.Has("identity") || opts.Has("identityAlways") {
		column.Identity = &IdentityColumn{Generation: IdentityAlways}
	} else if opts.Has("identityByDefault") {
		column.Identity = &IdentityColumn{Generation: IdentityByDefault}
	}
	if column.Identity != nil {
		column.Nullable = false
	}

	return column, nil
}

// parseEnum parses "type_name:v1|v2|v3".
func parseEnum(schemaName, decl string) (EnumType, error) {
	name, values, ok := strings.Cut(decl, ":")
	if !ok || name == "" || values == "" {
		return EnumType{}, fmt.Errorf("invalid enum declaration %q, want name:v1|v2", decl)
	}
	enumSchema, enumName := SplitQualified(name)
	if enumSchema == "" {
		enumSchema = schemaName
	}
	return EnumType{Schema: enumSchema, Name: enumName, Values: strings.Split(values, "|")}, nil
}

// parseForeignKey parses fk(schema.table.column) or fk(table.column); an
// unqualified table inherits the schema of the referencing table.
func parseForeignKey(table *TableMetadata, column, ref string, opts *TagOptions) (ForeignKeyMetadata, error) {
	var refTable, refColumn string
	if idx := strings.Index(ref, "("); idx > 0 && strings.HasSuffix(ref, ")") {
		refTable, refColumn = ref[:idx], ref[idx+1:len(ref)-1]
	} else if idx := strings.LastIndex(ref, "."); idx > 0 {
		refTable, refColumn = ref[:idx], ref[idx+1:]
	}
	if refTable == "" || refColumn == "" {
		return ForeignKeyMetadata{}, fmt.Errorf("invalid foreign key reference %q", ref)
	}
	if !strings.Contains(refTable, ".") && table.Schema != "" {
		refTable = table.Schema + "." + refTable
	}
	return ForeignKeyMetadata{
		Name:              table.Name + "_" + column + "_fkey",
		Columns:           []string{column},
		ReferencedTable:   refTable,
		ReferencedColumns: []string{refColumn},
		OnDelete:          parseReferenceAction(opts.Get("onDelete")),
		OnUpdate:          parseReferenceAction(opts.Get("onUpdate")),
	}, nil
}

// TagOptions represents parsed tag options.
type TagOptions struct {
	Name    string            // Column name (first element)
	Options map[string]string // Other options
}

// parseTag parses a struct tag value into TagOptions.
// Format: "column_name,option1,option2(value),option3"
func parseTag(tag string) (*TagOptions, error) {
	parts := splitTag(tag)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("empty tag value")
	}
	opts := &TagOptions{
		Name:    parts[0],
		Options: make(map[string]string),
	}
	for _, opt := range parts[1:] {
		if idx := strings.Index(opt, "("); idx != -1 {
			if !strings.HasSuffix(opt, ")") {
				return nil, fmt.Errorf("invalid option format: %s", opt)
			}
			opts.Options[opt[:idx]] = opt[idx+1 : len(opt)-1]
		} else {
			opts.Options[opt] = ""
		}
	}
	return opts, nil
}

// Has checks if an option exists.
func (t *TagOptions) Has(key string) bool {
	_, ok := t.Options[key]
	return ok
}

// Get returns the value of an option.
func (t *TagOptions) Get(key string) string {
	return t.Options[key]
}

var pgTypes = []string{
	"uuid", "varchar", "text", "char",
	"smallint", "integer", "bigint",
	"numeric", "decimal", "real", "double precision",
	"boolean",
	"date", "time", "timestamp", "timestamptz", "interval",
	"json", "jsonb", "bytea", "inet",
}

// GetSQLType returns the SQL type named in the tag, including array forms like text[].
func (t *TagOptions) GetSQLType() string {
	for _, pgType := range pgTypes {
		if t.Has(pgType + "[]") {
			return pgType + "[]"
		}
		if t.Has(pgType) {
			if value := t.Get(pgType); value != "" {
				return fmt.Sprintf("%s(%s)", pgType, value)
			}
			return pgType
		}
	}
	return ""
}

// splitTag splits a tag value by commas, handling nested parentheses.
func splitTag(tag string) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	for _, ch := range tag {
		switch ch {
		case '(':
			depth++
			current.WriteRune(ch)
		case ')':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(current.String()))
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, strings.TrimSpace(current.String()))
	}
	return parts
}

// toSnakeCase converts a string from PascalCase to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, ch := range s {
		if i > 0 && ch >= 'A' && ch <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(ch)
	}
	return strings.ToLower(result.String())
}

func parseReferenceAction(action string) ReferenceAction {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "CASCADE":
		return Cascade
	case "RESTRICT":
		return Restrict
	case "SETNULL", "SET NULL":
		return SetNull
	case "SETDEFAULT", "SET DEFAULT":
		return SetDefault
	default:
		return NoAction
	}
}
