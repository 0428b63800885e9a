package migration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// Differ compares schemas and generates diffs.
type Differ struct{}

// NewDiffer creates a new schema differ.
func NewDiffer() *Differ {
	return &Differ{}
}

// Compare compares the code schema (parsed from structs) with the database
// schema (introspected, keyed by qualified table name). A nil dbSchema means
// an empty database. Only namespaces that appear in codeSchema are compared.
func (d *Differ) Compare(codeSchema []*schema.TableMetadata, dbSchema map[string]*schema.TableMetadata) (*SchemaDiff, error) {
	diff := &SchemaDiff{}

	ordered, err := schema.SortByDependency(codeSchema)
	if err != nil {
		return nil, err
	}

	namespaces := make(map[string]bool)
	codeByName := make(map[string]*schema.TableMetadata, len(ordered))
	for _, t := range ordered {
		namespaces[t.Schema] = true
		codeByName[t.QualifiedName()] = t
	}

	// namespaces the database has no tables in yet
	dbNamespaces := make(map[string]bool)
	for _, t := range dbSchema {
		dbNamespaces[t.Schema] = true
	}
	for _, t := range ordered {
		if t.Schema != "" && !dbNamespaces[t.Schema] && !contains(diff.SchemasAdded, t.Schema) {
			diff.SchemasAdded = append(diff.SchemasAdded, t.Schema)
		}
	}

	for _, codeTable := range ordered {
		dbTable, exists := dbSchema[codeTable.QualifiedName()]
		if !exists {
			diff.TablesAdded = append(diff.TablesAdded, *codeTable)
			continue
		}
		if tableDiff := d.compareTable(codeTable, dbTable); tableDiff.HasChanges() {
			diff.TablesModified = append(diff.TablesModified, tableDiff)
		}
	}

	var dropped []*schema.TableMetadata
	for name, dbTable := range dbSchema {
		if _, exists := codeByName[name]; !exists && namespaces[dbTable.Schema] {
			dropped = append(dropped, dbTable)
		}
	}
	if len(dropped) > 0 {
		dropOrder, err := schema.SortByDependency(dropped)
		if err != nil {
			return nil, err
		}
		for i := len(dropOrder) - 1; i >= 0; i-- {
			diff.TablesDropped = append(diff.TablesDropped, *dropOrder[i])
		}
	}

	d.compareEnumTypes(ordered, dbSchema, namespaces, diff)

	return diff, nil
}

// compareTable compares two versions of the same table.
func (d *Differ) compareTable(codeTable, dbTable *schema.TableMetadata) TableDiff {
	diff := TableDiff{
		Table:  codeTable.QualifiedName(),
		Schema: codeTable.Schema,
	}

	d.compareColumns(codeTable, dbTable, &diff)
	d.comparePrimaryKey(codeTable, dbTable, &diff)
	d.compareIndexes(codeTable, dbTable, &diff)
	d.compareForeignKeys(codeTable, dbTable, &diff)
	d.compareConstraints(codeTable, dbTable, &diff)

	codeTouch := len(codeTable.AutoUpdateColumns()) > 0
	dbTouch := len(dbTable.AutoUpdateColumns()) > 0
	diff.TouchTriggerAdded = codeTouch && !dbTouch
	diff.TouchTriggerDrop = dbTouch && !codeTouch

	return diff
}

// compareColumns compares columns between code and database.
func (d *Differ) compareColumns(codeTable, dbTable *schema.TableMetadata, diff *TableDiff) {
	for _, codeCol := range codeTable.Columns {
		dbCol, exists := dbTable.Column(codeCol.Name)
		if !exists {
			diff.ColumnsAdded = append(diff.ColumnsAdded, codeCol)
			continue
		}
		if colDiff := d.compareColumn(codeCol, *dbCol); colDiff.hasChanges() {
			diff.ColumnsModified = append(diff.ColumnsModified, colDiff)
		}
	}
	for _, dbCol := range dbTable.Columns {
		if _, exists := codeTable.Column(dbCol.Name); !exists {
			diff.ColumnsDropped = append(diff.ColumnsDropped, dbCol)
		}
	}
}

// compareColumn compares two versions of the same column.
func (d *Differ) compareColumn(codeCol, dbCol schema.ColumnMetadata) ColumnDiff {
	return ColumnDiff{
		ColumnName:     codeCol.Name,
		OldColumn:      dbCol,
		NewColumn:      codeCol,
		TypeChanged:    !d.isSameType(codeCol.SQLType, dbCol.SQLType),
		NullChanged:    codeCol.Nullable != dbCol.Nullable,
		DefaultChanged: !d.isSameDefault(codeCol.Default, dbCol.Default),
	}
}

// hasChanges returns true if the column has any changes.
func (c *ColumnDiff) hasChanges() bool {
	return c.TypeChanged || c.NullChanged || c.DefaultChanged
}

// comparePrimaryKey compares primary keys.
func (d *Differ) comparePrimaryKey(codeTable, dbTable *schema.TableMetadata, diff *TableDiff) {
	codePK, dbPK := codeTable.PrimaryKey, dbTable.PrimaryKey
	if codePK == nil && dbPK == nil {
		return
	}
	if (codePK == nil) != (dbPK == nil) || !equalStrings(codePK.Columns, dbPK.Columns) {
		diff.PrimaryKeyChanged = &PrimaryKeyChange{Old: dbPK, New: codePK}
	}
}

// compareIndexes compares standalone indexes by name.
func (d *Differ) compareIndexes(codeTable, dbTable *schema.TableMetadata, diff *TableDiff) {
	dbIndexes := make(map[string]schema.IndexMetadata, len(dbTable.Indexes))
	for _, idx := range dbTable.Indexes {
		dbIndexes[idx.Name] = idx
	}
	codeIndexes := make(map[string]bool, len(codeTable.Indexes))
	for _, idx := range codeTable.Indexes {
		codeIndexes[idx.Name] = true
		dbIdx, exists := dbIndexes[idx.Name]
		switch {
		case !exists:
			diff.IndexesAdded = append(diff.IndexesAdded, idx)
		case !equalStrings(idx.Columns, dbIdx.Columns) || idx.Unique != dbIdx.Unique:
			// recreate
			diff.IndexesDropped = append(diff.IndexesDropped, dbIdx)
			diff.IndexesAdded = append(diff.IndexesAdded, idx)
		}
	}
	for _, idx := range dbTable.Indexes {
		if !codeIndexes[idx.Name] {
			diff.IndexesDropped = append(diff.IndexesDropped, idx)
		}
	}
}

// compareForeignKeys compares foreign keys by name, target and delete rule.
func (d *Differ) compareForeignKeys(codeTable, dbTable *schema.TableMetadata, diff *TableDiff) {
	dbFKs := make(map[string]schema.ForeignKeyMetadata, len(dbTable.ForeignKeys))
	for _, fk := range dbTable.ForeignKeys {
		dbFKs[fk.Name] = fk
	}
	codeFKs := make(map[string]bool, len(codeTable.ForeignKeys))
	for _, fk := range codeTable.ForeignKeys {
		codeFKs[fk.Name] = true
		dbFK, exists := dbFKs[fk.Name]
		switch {
		case !exists:
			diff.ForeignKeysAdded = append(diff.ForeignKeysAdded, fk)
		case dbFK.ReferencedTable != fk.ReferencedTable ||
			!equalStrings(dbFK.Columns, fk.Columns) ||
			normalizeAction(dbFK.OnDelete) != normalizeAction(fk.OnDelete):
			diff.ForeignKeysDropped = append(diff.ForeignKeysDropped, dbFK)
			diff.ForeignKeysAdded = append(diff.ForeignKeysAdded, fk)
		}
	}
	for _, fk := range dbTable.ForeignKeys {
		if !codeFKs[fk.Name] {
			diff.ForeignKeysDropped = append(diff.ForeignKeysDropped, fk)
		}
	}
}

func normalizeAction(a schema.ReferenceAction) schema.ReferenceAction {
	if a == "" {
		return schema.NoAction
	}
	return a
}

// compareConstraints compares check and unique constraints.
// UNIQUE constraints are keyed by their columns, CHECK constraints by name.
func (d *Differ) compareConstraints(codeTable, dbTable *schema.TableMetadata, diff *TableDiff) {
	dbConstraints := make(map[string]schema.ConstraintMetadata, len(dbTable.Constraints))
	for _, c := range dbTable.Constraints {
		dbConstraints[d.getConstraintKey(c)] = c
	}
	codeKeys := make(map[string]bool, len(codeTable.Constraints))
	for _, c := range codeTable.Constraints {
		key := d.getConstraintKey(c)
		codeKeys[key] = true
		if _, exists := dbConstraints[key]; !exists {
			diff.ConstraintsAdded = append(diff.ConstraintsAdded, c)
		}
	}
	for _, c := range dbTable.Constraints {
		if !codeKeys[d.getConstraintKey(c)] {
			diff.ConstraintsDropped = append(diff.ConstraintsDropped, c)
		}
	}
}

// getConstraintKey returns a unique key for constraint comparison.
func (d *Differ) getConstraintKey(c schema.ConstraintMetadata) string {
	if c.Type == schema.UniqueConstraint {
		return "unique:" + strings.Join(c.Columns, ",")
	}
	return "check:" + c.Name
}

// isSameType compares SQL types, normalizing for common variations.
func (d *Differ) isSameType(type1, type2 string) bool {
	return normalizeType(type1) == normalizeType(type2)
}

// normalizeType normalizes SQL type strings for comparison.
func normalizeType(sqlType string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(sqlType)), " ")

	switch normalized {
	case "int", "int4":
		return "integer"
	case "int2":
		return "smallint"
	case "int8":
		return "bigint"
	case "float4":
		return "real"
	case "float8":
		return "double precision"
	case "bool":
		return "boolean"
	case "timestamp without time zone":
		return "timestamp"
	case "timestamp with time zone":
		return "timestamptz"
	case "time without time zone":
		return "time"
	case "_text":
		return "text[]"
	}

	normalized = strings.ReplaceAll(normalized, "character varying", "varchar")
	normalized = strings.ReplaceAll(normalized, "decimal", "numeric")
	normalized = strings.ReplaceAll(normalized, ", ", ",")
	return normalized
}

// isSameDefault compares default values.
func (d *Differ) isSameDefault(default1, default2 *string) bool {
	if default1 == nil || default2 == nil {
		return default1 == nil && default2 == nil
	}
	return normalizeDefault(*default1) == normalizeDefault(*default2)
}

// normalizeDefault normalizes default expressions: 'pending'::cinema.booking_status
// and 'pending' compare equal, as do NOW() and now().
func normalizeDefault(defaultVal string) string {
	normalized := strings.ToLower(strings.TrimSpace(defaultVal))

	for strings.HasPrefix(normalized, "(") && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[1 : len(normalized)-1])
	}
	if idx := strings.Index(normalized, "::"); idx != -1 {
		normalized = normalized[:idx]
	}
	if normalized == "current_timestamp" {
		normalized = "now()"
	}
	return strings.Trim(strings.TrimSpace(normalized), "'")
}

// compareEnumTypes compares enum types of the compared namespaces.
func (d *Differ) compareEnumTypes(code []*schema.TableMetadata, dbSchema map[string]*schema.TableMetadata, namespaces map[string]bool, diff *SchemaDiff) {
	codeEnums := collectEnumTypes(code)
	var dbTables []*schema.TableMetadata
	for _, t := range dbSchema {
		if namespaces[t.Schema] {
			dbTables = append(dbTables, t)
		}
	}
	dbEnums := collectEnumTypes(dbTables)

	for _, name := range sortedKeys(codeEnums) {
		codeEnum := codeEnums[name]
		dbEnum, exists := dbEnums[name]
		if !exists {
			diff.EnumTypesAdded = append(diff.EnumTypesAdded, codeEnum)
			continue
		}
		if newValues := findNewEnumValues(codeEnum.Values, dbEnum.Values); len(newValues) > 0 {
			diff.EnumTypesModified = append(diff.EnumTypesModified, EnumTypeDiff{
				Name:      name,
				OldValues: dbEnum.Values,
				NewValues: newValues,
			})
		}
	}

	for _, name := range sortedKeys(dbEnums) {
		if _, exists := codeEnums[name]; !exists {
			diff.EnumTypesDropped = append(diff.EnumTypesDropped, dbEnums[name])
		}
	}
}

// collectEnumTypes collects the distinct enum types used by the tables,
// keyed by qualified name.
func collectEnumTypes(tables []*schema.TableMetadata) map[string]schema.EnumType {
	enumTypes := make(map[string]schema.EnumType)
	for _, table := range tables {
		for _, e := range table.EnumTypes {
			if _, exists := enumTypes[e.QualifiedName()]; !exists {
				enumTypes[e.QualifiedName()] = e
			}
		}
	}
	return enumTypes
}

// findNewEnumValues finds values in codeValues that don't exist in dbValues.
func findNewEnumValues(codeValues, dbValues []string) []string {
	existing := make(map[string]bool, len(dbValues))
	for _, v := range dbValues {
		existing[v] = true
	}
	var newValues []string
	for _, v := range codeValues {
		if !existing[v] {
			newValues = append(newValues, v)
		}
	}
	return newValues
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Summary renders a one-line-per-change description of a diff.
func (d *SchemaDiff) Summary() []string {
	var out []string
	for _, s := range d.SchemasAdded {
		out = append(out, fmt.Sprintf("+ schema %s", s))
	}
	for _, e := range d.EnumTypesAdded {
		out = append(out, fmt.Sprintf("+ type %s", e.QualifiedName()))
	}
	for _, e := range d.EnumTypesModified {
		out = append(out, fmt.Sprintf("~ type %s (+%s)", e.Name, strings.Join(e.NewValues, ", +")))
	}
	for _, t := range d.TablesAdded {
		out = append(out, fmt.Sprintf("+ table %s", t.QualifiedName()))
	}
	for _, td := range d.TablesModified {
		for _, c := range td.ColumnsAdded {
			out = append(out, fmt.Sprintf("~ table %s: + column %s", td.Table, c.Name))
		}
		for _, c := range td.ColumnsDropped {
			out = append(out, fmt.Sprintf("~ table %s: - column %s", td.Table, c.Name))
		}
		for _, c := range td.ColumnsModified {
			out = append(out, fmt.Sprintf("~ table %s: ~ column %s", td.Table, c.ColumnName))
		}
		for _, i := range td.IndexesAdded {
			out = append(out, fmt.Sprintf("~ table %s: + index %s", td.Table, i.Name))
		}
		for _, i := range td.IndexesDropped {
			out = append(out, fmt.Sprintf("~ table %s: - index %s", td.Table, i.Name))
		}
		for _, fk := range td.ForeignKeysAdded {
			out = append(out, fmt.Sprintf("~ table %s: + foreign key %s", td.Table, fk.Name))
		}
		for _, fk := range td.ForeignKeysDropped {
			out = append(out, fmt.Sprintf("~ table %s: - foreign key %s", td.Table, fk.Name))
		}
		for _, c := range td.ConstraintsAdded {
			out = append(out, fmt.Sprintf("~ table %s: + constraint %s", td.Table, c.Name))
		}
		for _, c := range td.ConstraintsDropped {
			out = append(out, fmt.Sprintf("~ table %s: - constraint %s", td.Table, c.Name))
		}
		if td.PrimaryKeyChanged != nil {
			out = append(out, fmt.Sprintf("~ table %s: ~ primary key", td.Table))
		}
		if td.TouchTriggerAdded {
			out = append(out, fmt.Sprintf("~ table %s: + touch trigger", td.Table))
		}
		if td.TouchTriggerDrop {
			out = append(out, fmt.Sprintf("~ table %s: - touch trigger", td.Table))
		}
	}
	for _, t := range d.TablesDropped {
		out = append(out, fmt.Sprintf("- table %s", t.QualifiedName()))
	}
	for _, e := range d.EnumTypesDropped {
		out = append(out, fmt.Sprintf("- type %s", e.QualifiedName()))
	}
	return out
}
