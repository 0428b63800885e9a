package migration

import (
	"fmt"
	"strings"

	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// PlannerOptions configures migration generation behavior.
type PlannerOptions struct {
	// IfNotExists adds IF NOT EXISTS to CREATE TABLE and CREATE INDEX statements,
	// so a migration can be re-run against a partially applied database.
	IfNotExists bool
}

// Planner generates SQL migration statements from schema diffs.
type Planner struct {
	options PlannerOptions
}

// NewPlanner creates a new migration planner with default options.
func NewPlanner() *Planner {
	return &Planner{
		options: PlannerOptions{
			IfNotExists: true,
		},
	}
}

// NewPlannerWithOptions creates a new migration planner with custom options.
func NewPlannerWithOptions(opts PlannerOptions) *Planner {
	return &Planner{
		options: opts,
	}
}

// CreateAll renders the full DDL for a set of tables as if the database were empty.
func (p *Planner) CreateAll(tables []*schema.TableMetadata) (upSQL, downSQL string, err error) {
	diff, err := NewDiffer().Compare(tables, nil)
	if err != nil {
		return "", "", err
	}
	upSQL, downSQL = p.GenerateMigration(diff)
	return upSQL, downSQL, nil
}

// GenerateMigration generates up and down SQL from a schema diff.
//
// Up order: schemas, enum types, enum values, touch functions, new tables
// (dependency order), table alterations, dropped tables, dropped enum types.
// Down runs the inverse of each step in reverse order.
func (p *Planner) GenerateMigration(diff *SchemaDiff) (upSQL, downSQL string) {
	var up []string
	var down [][]string // one group per step, emitted in reverse

	step := func(u, d []string) {
		up = append(up, u...)
		down = append(down, d)
	}

	// 1. schemas
	var schemaUp, schemaDown []string
	for _, s := range diff.SchemasAdded {
		schemaUp = append(schemaUp, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s;", s))
		schemaDown = append(schemaDown, fmt.Sprintf("DROP SCHEMA IF EXISTS %s;", s))
	}
	step(schemaUp, reversed(schemaDown))

	// 2. enum types must exist before the tables using them
	var enumUp, enumDown []string
	for _, e := range diff.EnumTypesAdded {
		enumUp = append(enumUp, p.generateCreateEnumType(e))
		enumDown = append(enumDown, p.generateDropEnumType(e.QualifiedName()))
	}
	step(enumUp, reversed(enumDown))

	// 3. enum values cannot be removed again
	var valuesUp, valuesDown []string
	for _, e := range diff.EnumTypesModified {
		valuesUp = append(valuesUp, p.generateAlterEnumType(e)...)
		valuesDown = append(valuesDown, fmt.Sprintf("-- NOTE: enum values added to %s cannot be removed automatically", e.Name))
	}
	step(valuesUp, valuesDown)

	// 4. touch functions for every schema that gains a trigger
	var fnUp, fnDown []string
	added := make(map[string]bool)
	for _, s := range diff.SchemasAdded {
		added[s] = true
	}
	for _, s := range touchSchemas(diff) {
		fnUp = append(fnUp, p.generateTouchFunction(s))
		if added[s] {
			fnDown = append(fnDown, fmt.Sprintf("DROP FUNCTION IF EXISTS %s();", touchFunctionName(s)))
		}
	}
	step(fnUp, fnDown)

	// 5. new tables
	var tablesUp, tablesDown []string
	for i := range diff.TablesAdded {
		table := &diff.TablesAdded[i]
		tablesUp = append(tablesUp, p.generateCreateTable(table))
		tablesDown = append(tablesDown, p.generateDropTable(table.QualifiedName()))
	}
	step(tablesUp, reversed(tablesDown))

	// 6. alterations
	var alterUp, alterDown []string
	for _, td := range diff.TablesModified {
		u, d := p.generateAlterTable(td)
		alterUp = append(alterUp, u...)
		alterDown = append(alterDown, d...)
	}
	step(alterUp, reversed(alterDown))

	// 7. dropped tables (already in reverse dependency order)
	var dropUp, dropDown []string
	for i := range diff.TablesDropped {
		table := &diff.TablesDropped[i]
		dropUp = append(dropUp, p.generateDropTable(table.QualifiedName()))
		dropDown = append(dropDown, p.generateCreateTable(table))
	}
	step(dropUp, reversed(dropDown))

	// 8. dropped enum types, after the tables using them are gone
	var enumDropUp, enumDropDown []string
	for _, e := range diff.EnumTypesDropped {
		enumDropUp = append(enumDropUp, p.generateDropEnumType(e.QualifiedName()))
		enumDropDown = append(enumDropDown, p.generateCreateEnumType(e))
	}
	step(enumDropUp, enumDropDown)

	var downFlat []string
	for i := len(down) - 1; i >= 0; i-- {
		downFlat = append(downFlat, down[i]...)
	}

	return joinStatements(up), joinStatements(downFlat)
}

func joinStatements(stmts []string) string {
	if len(stmts) == 0 {
		return ""
	}
	return strings.Join(stmts, "\n\n") + "\n"
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}

// touchSchemas lists, in first-use order, the schemas that get a touch trigger.
func touchSchemas(diff *SchemaDiff) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, t := range diff.TablesAdded {
		if len(t.AutoUpdateColumns()) > 0 {
			add(t.Schema)
		}
	}
	for _, td := range diff.TablesModified {
		if td.TouchTriggerAdded {
			add(td.Schema)
		}
	}
	return out
}

func touchFunctionName(schemaName string) string {
	if schemaName == "" {
		return "touch_updated_at"
	}
	return schemaName + ".touch_updated_at"
}

func touchTriggerName(tableName string) string {
	_, name := schema.SplitQualified(tableName)
	return name + "_touch_updated_at"
}

// generateTouchFunction renders the trigger function shared by every table of a schema.
func (p *Planner) generateTouchFunction(schemaName string) string {
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger
LANGUAGE plpgsql AS $$
BEGIN
    NEW.%s := NOW();
    RETURN NEW;
END;
$$;`, touchFunctionName(schemaName), schema.TouchColumn)
}

func (p *Planner) generateTouchTrigger(table string) string {
	schemaName, _ := schema.SplitQualified(table)
	return fmt.Sprintf("CREATE OR REPLACE TRIGGER %s BEFORE UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION %s();",
		touchTriggerName(table), table, touchFunctionName(schemaName))
}

func (p *Planner) generateDropTouchTrigger(table string) string {
	return fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s;", touchTriggerName(table), table)
}

// generateCreateTable generates a CREATE TABLE statement followed by its
// indexes and touch trigger.
func (p *Planner) generateCreateTable(table *schema.TableMetadata) string {
	var parts []string

	for _, col := range table.Columns {
		parts = append(parts, "    "+p.generateColumnDefinition(col))
	}

	if table.PrimaryKey != nil {
		parts = append(parts, fmt.Sprintf("    CONSTRAINT %s PRIMARY KEY (%s)",
			table.PrimaryKey.Name, strings.Join(table.PrimaryKey.Columns, ", ")))
	}

	for _, constraint := range table.Constraints {
		parts = append(parts, "    "+p.generateConstraintDefinition(constraint))
	}

	for _, fk := range table.ForeignKeys {
		parts = append(parts, "    "+p.generateForeignKeyDefinition(fk))
	}

	createClause := "CREATE TABLE"
	if p.options.IfNotExists {
		createClause = "CREATE TABLE IF NOT EXISTS"
	}
	sql := fmt.Sprintf("%s %s (\n%s\n);", createClause, table.QualifiedName(), strings.Join(parts, ",\n"))

	var extra []string
	for _, idx := range table.Indexes {
		extra = append(extra, p.generateCreateIndex(table.QualifiedName(), idx))
	}
	if len(table.AutoUpdateColumns()) > 0 {
		extra = append(extra, p.generateTouchTrigger(table.QualifiedName()))
	}
	if len(extra) > 0 {
		sql += "\n\n" + strings.Join(extra, "\n")
	}

	return sql
}

// generateColumnDefinition generates a column definition.
func (p *Planner) generateColumnDefinition(col schema.ColumnMetadata) string {
	parts := []string{col.Name, col.SQLType}

	// identity columns are implicitly NOT NULL and cannot carry a default
	if col.Identity != nil {
		parts = append(parts, fmt.Sprintf("GENERATED %s AS IDENTITY", col.Identity.Generation))
		return strings.Join(parts, " ")
	}

	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != nil {
		parts = append(parts, "DEFAULT", *col.Default)
	}

	return strings.Join(parts, " ")
}

func (p *Planner) generateConstraintDefinition(c schema.ConstraintMetadata) string {
	switch c.Type {
	case schema.UniqueConstraint:
		return fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", c.Name, strings.Join(c.Columns, ", "))
	case schema.CheckConstraint:
		return fmt.Sprintf("CONSTRAINT %s CHECK %s", c.Name, c.Expression)
	default:
		return fmt.Sprintf("-- unknown constraint type %s for %s", c.Type, c.Name)
	}
}

// generateForeignKeyDefinition generates a foreign key constraint.
func (p *Planner) generateForeignKeyDefinition(fk schema.ForeignKeyMetadata) string {
	parts := []string{
		fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s)", fk.Name, strings.Join(fk.Columns, ", ")),
		fmt.Sprintf("REFERENCES %s (%s)", fk.ReferencedTable, strings.Join(fk.ReferencedColumns, ", ")),
	}
	if fk.OnDelete != schema.NoAction && fk.OnDelete != "" {
		parts = append(parts, "ON DELETE "+string(fk.OnDelete))
	}
	if fk.OnUpdate != schema.NoAction && fk.OnUpdate != "" {
		parts = append(parts, "ON UPDATE "+string(fk.OnUpdate))
	}
	return strings.Join(parts, " ")
}

// generateCreateIndex generates a CREATE INDEX statement with support for
// column ordering, index methods and partial predicates.
func (p *Planner) generateCreateIndex(tableName string, idx schema.IndexMetadata) string {
	var parts []string

	if idx.Unique {
		parts = append(parts, "CREATE UNIQUE INDEX")
	} else {
		parts = append(parts, "CREATE INDEX")
	}
	if p.options.IfNotExists {
		parts = append(parts, "IF NOT EXISTS")
	}
	parts = append(parts, idx.Name, "ON", tableName)

	if idx.Type != "" && idx.Type != "btree" {
		parts = append(parts, "USING", idx.Type)
	}
	parts = append(parts, fmt.Sprintf("(%s)", p.formatColumnsWithOrdering(idx.Columns, idx.ColumnOrdering)))

	if idx.Where != "" {
		parts = append(parts, "WHERE", idx.Where)
	}

	return strings.Join(parts, " ") + ";"
}

// formatColumnsWithOrdering formats index columns, adding DESC where requested.
func (p *Planner) formatColumnsWithOrdering(columns []string, ordering []schema.ColumnOrder) string {
	if len(ordering) == 0 {
		return strings.Join(columns, ", ")
	}

	orderMap := make(map[string]schema.ColumnOrder, len(ordering))
	for _, ord := range ordering {
		orderMap[ord.Column] = ord
	}

	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col
		if ord, ok := orderMap[col]; ok && ord.Direction == schema.Descending {
			parts[i] += " DESC"
		}
	}
	return strings.Join(parts, ", ")
}

// generateDropIndex drops an index; indexes live in their table's schema.
func (p *Planner) generateDropIndex(tableName string, idx schema.IndexMetadata) string {
	schemaName, _ := schema.SplitQualified(tableName)
	name := idx.Name
	if schemaName != "" {
		name = schemaName + "." + name
	}
	return fmt.Sprintf("DROP INDEX IF EXISTS %s;", name)
}

// generateDropTable generates a DROP TABLE statement.
func (p *Planner) generateDropTable(tableName string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", tableName)
}

// generateAlterTable generates ALTER TABLE statements for table modifications.
// Down statements are returned in forward order; the caller reverses them.
func (p *Planner) generateAlterTable(diff TableDiff) (upSQL, downSQL []string) {
	tableName := diff.Table

	// constraints and keys that may reference dropped columns go first
	for _, fk := range diff.ForeignKeysDropped {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", tableName, fk.Name))
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s ADD %s;", tableName, p.generateForeignKeyDefinition(fk)))
	}
	for _, c := range diff.ConstraintsDropped {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", tableName, c.Name))
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s ADD %s;", tableName, p.generateConstraintDefinition(c)))
	}
	for _, idx := range diff.IndexesDropped {
		upSQL = append(upSQL, p.generateDropIndex(tableName, idx))
		downSQL = append(downSQL, p.generateCreateIndex(tableName, idx))
	}
	if diff.TouchTriggerDrop {
		upSQL = append(upSQL, p.generateDropTouchTrigger(tableName))
		downSQL = append(downSQL, p.generateTouchTrigger(tableName))
	}

	for _, col := range diff.ColumnsAdded {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", tableName, p.generateColumnDefinition(col)))
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s;", tableName, col.Name))
	}
	for _, col := range diff.ColumnsDropped {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s;", tableName, col.Name))
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", tableName, p.generateColumnDefinition(col)))
	}
	for _, colDiff := range diff.ColumnsModified {
		u, d := p.generateColumnModification(tableName, colDiff)
		upSQL = append(upSQL, u...)
		downSQL = append(downSQL, d...)
	}

	if diff.PrimaryKeyChanged != nil {
		u, d := p.generatePrimaryKeyChange(tableName, diff.PrimaryKeyChanged)
		upSQL = append(upSQL, u...)
		downSQL = append(downSQL, d...)
	}

	for _, c := range diff.ConstraintsAdded {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s ADD %s;", tableName, p.generateConstraintDefinition(c)))
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", tableName, c.Name))
	}
	for _, fk := range diff.ForeignKeysAdded {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s ADD %s;", tableName, p.generateForeignKeyDefinition(fk)))
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", tableName, fk.Name))
	}
	for _, idx := range diff.IndexesAdded {
		upSQL = append(upSQL, p.generateCreateIndex(tableName, idx))
		downSQL = append(downSQL, p.generateDropIndex(tableName, idx))
	}
	if diff.TouchTriggerAdded {
		upSQL = append(upSQL, p.generateTouchTrigger(tableName))
		downSQL = append(downSQL, p.generateDropTouchTrigger(tableName))
	}

	return upSQL, downSQL
}

// generateColumnModification generates ALTER statements for column changes.
func (p *Planner) generateColumnModification(tableName string, colDiff ColumnDiff) (upSQL, downSQL []string) {
	colName := colDiff.ColumnName
	oldType, newType := colDiff.OldColumn.SQLType, colDiff.NewColumn.SQLType

	if colDiff.TypeChanged {
		upSQL = append(upSQL, p.alterType(tableName, colName, oldType, newType)...)
		downSQL = append(downSQL, p.alterType(tableName, colName, newType, oldType)...)
	}

	if colDiff.NullChanged {
		if colDiff.NewColumn.Nullable {
			upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", tableName, colName))
			downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", tableName, colName))
		} else {
			upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL;", tableName, colName))
			downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL;", tableName, colName))
		}
	}

	if colDiff.DefaultChanged {
		upSQL = append(upSQL, setDefault(tableName, colName, colDiff.NewColumn.Default))
		downSQL = append(downSQL, setDefault(tableName, colName, colDiff.OldColumn.Default))
	}

	return upSQL, downSQL
}

func setDefault(tableName, colName string, def *string) string {
	if def == nil {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT;", tableName, colName)
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s;", tableName, colName, *def)
}

// alterType changes a column type, falling back to a commented manual step
// when PostgreSQL has no assignment cast between the two types.
func (p *Planner) alterType(tableName, colName, from, to string) []string {
	if !requiresUsingClause(from, to) {
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s;", tableName, colName, to)}
	}
	if using := generateUsingClause(colName, from, to); using != "" {
		return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s %s;", tableName, colName, to, using)}
	}
	return []string{
		fmt.Sprintf("-- MANUAL MIGRATION REQUIRED: Cannot auto-convert %s from %s to %s", colName, from, to),
		fmt.Sprintf("-- ALTER TABLE %s ALTER COLUMN %s TYPE %s USING <expression>;", tableName, colName, to),
	}
}

// generatePrimaryKeyChange generates ALTER statements for primary key changes.
func (p *Planner) generatePrimaryKeyChange(tableName string, pkChange *PrimaryKeyChange) (upSQL, downSQL []string) {
	if pkChange.Old != nil {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", tableName, pkChange.Old.Name))
	}
	if pkChange.New != nil {
		upSQL = append(upSQL, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s);",
			tableName, pkChange.New.Name, strings.Join(pkChange.New.Columns, ", ")))
	}

	if pkChange.New != nil {
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;", tableName, pkChange.New.Name))
	}
	if pkChange.Old != nil {
		downSQL = append(downSQL, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s PRIMARY KEY (%s);",
			tableName, pkChange.Old.Name, strings.Join(pkChange.Old.Columns, ", ")))
	}
	return upSQL, downSQL
}

// requiresUsingClause reports whether a type conversion needs an explicit USING clause.
func requiresUsingClause(fromType, toType string) bool {
	from := strings.ToLower(strings.TrimSpace(fromType))
	to := strings.ToLower(strings.TrimSpace(toType))
	if from == to {
		return false
	}

	textual := from == "text" || strings.HasPrefix(from, "varchar")
	switch {
	case textual && (to == "integer" || to == "bigint" || to == "smallint" || strings.HasPrefix(to, "numeric")):
		return true
	case strings.HasSuffix(to, "[]") && !strings.HasSuffix(from, "[]"):
		return true
	case strings.Contains(to, ".") || strings.Contains(from, "."):
		// enum <-> anything
		return true
	}
	return false
}

// generateUsingClause returns a USING clause for common conversions, or "".
func generateUsingClause(columnName, fromType, toType string) string {
	from := strings.ToLower(strings.TrimSpace(fromType))
	to := strings.ToLower(strings.TrimSpace(toType))
	textual := from == "text" || strings.HasPrefix(from, "varchar")

	switch {
	case textual && to == "text[]":
		return fmt.Sprintf("USING CASE WHEN %s IS NULL THEN NULL WHEN %s = '' THEN ARRAY[]::text[] ELSE ARRAY[%s]::text[] END",
			columnName, columnName, columnName)
	case textual && (to == "integer" || to == "bigint" || to == "smallint"):
		return fmt.Sprintf("USING CASE WHEN %s ~ '^-?[0-9]+$' THEN %s::%s ELSE NULL END", columnName, columnName, to)
	case textual && strings.Contains(to, "."):
		return fmt.Sprintf("USING %s::%s", columnName, to)
	case strings.Contains(from, ".") && (to == "text" || strings.HasPrefix(to, "varchar")):
		return fmt.Sprintf("USING %s::text", columnName)
	}
	return ""
}

// generateCreateEnumType creates an enum type, tolerating an existing one.
func (p *Planner) generateCreateEnumType(enumType schema.EnumType) string {
	quoted := make([]string, len(enumType.Values))
	for i, val := range enumType.Values {
		quoted[i] = quoteLiteral(val)
	}
	return fmt.Sprintf(`DO $$
BEGIN
    CREATE TYPE %s AS ENUM (%s);
EXCEPTION
    WHEN duplicate_object THEN NULL;
END
$$;`, enumType.QualifiedName(), strings.Join(quoted, ", "))
}

// generateDropEnumType generates a DROP TYPE statement for an enum.
func (p *Planner) generateDropEnumType(enumName string) string {
	return fmt.Sprintf("DROP TYPE IF EXISTS %s;", enumName)
}

// generateAlterEnumType adds new enum values. PostgreSQL cannot remove or reorder them.
func (p *Planner) generateAlterEnumType(enumDiff EnumTypeDiff) []string {
	statements := make([]string, 0, len(enumDiff.NewValues))
	for _, v := range enumDiff.NewValues {
		statements = append(statements, fmt.Sprintf("ALTER TYPE %s ADD VALUE IF NOT EXISTS %s;", enumDiff.Name, quoteLiteral(v)))
	}
	return statements
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
