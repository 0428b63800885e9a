package migration

import (
	"reflect"
	"testing"

	"github.com/marshallshelly/crudschemas/pkg/schema"
)

func strPtr(s string) *string { return &s }

// introspected mimics what the introspector reports for a parsed table.
func introspected(t *testing.T, table *schema.TableMetadata) *schema.TableMetadata {
	t.Helper()
	c := *table
	c.Columns = make([]schema.ColumnMetadata, len(table.Columns))
	for i, col := range table.Columns {
		switch col.SQLType {
		case "timestamptz":
			col.SQLType = "timestamp with time zone"
		case "integer":
			col.SQLType = "int4"
		}
		if col.Default != nil {
			switch *col.Default {
			case "NOW()":
				col.Default = strPtr("now()")
			case "'draft'":
				col.Default = strPtr("'draft'::blog.post_state")
			}
		}
		c.Columns[i] = col
	}
	return &c
}

func dbOf(tables ...*schema.TableMetadata) map[string]*schema.TableMetadata {
	m := make(map[string]*schema.TableMetadata, len(tables))
	for _, t := range tables {
		m[t.QualifiedName()] = t
	}
	return m
}

func TestCompareEmptyDatabase(t *testing.T) {
	tables := parseModels(t, planPost{}, planAuthor{})

	diff, err := NewDiffer().Compare(tables, nil)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}

	if !reflect.DeepEqual(diff.SchemasAdded, []string{"blog"}) {
		t.Errorf("SchemasAdded = %v", diff.SchemasAdded)
	}
	if len(diff.TablesAdded) != 2 || diff.TablesAdded[0].Name != "authors" || diff.TablesAdded[1].Name != "posts" {
		t.Errorf("TablesAdded not in dependency order: %+v", diff.TablesAdded)
	}
	if len(diff.EnumTypesAdded) != 1 || diff.EnumTypesAdded[0].QualifiedName() != "blog.post_state" {
		t.Errorf("EnumTypesAdded = %+v", diff.EnumTypesAdded)
	}
}

func TestCompareInSync(t *testing.T) {
	tables := parseModels(t, planAuthor{}, planPost{})
	db := dbOf(introspected(t, tables[0]), introspected(t, tables[1]))

	diff, err := NewDiffer().Compare(tables, db)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if diff.HasChanges() {
		t.Errorf("expected no changes, got %v", diff.Summary())
	}
	if len(diff.SchemasAdded) != 0 {
		t.Errorf("SchemasAdded = %v, want none", diff.SchemasAdded)
	}
}

func TestCompareTableChanges(t *testing.T) {
	tables := parseModels(t, planAuthor{}, planPost{})
	author := introspected(t, tables[0])

	// the live table lacks the trigger, has an extra column and an old index
	author.Columns = append([]schema.ColumnMetadata(nil), author.Columns...)
	for i := range author.Columns {
		if author.Columns[i].Name == "updated_at" {
			author.Columns[i].AutoUpdate = false
		}
		if author.Columns[i].Name == "handle" {
			author.Columns[i].SQLType = "varchar(30)"
		}
	}
	author.Columns = append(author.Columns, schema.ColumnMetadata{Name: "legacy", SQLType: "text", Nullable: true})
	author.Indexes = []schema.IndexMetadata{{Name: "idx_authors_legacy", Columns: []string{"legacy"}}}

	diff, err := NewDiffer().Compare(tables, dbOf(author, introspected(t, tables[1])))
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if len(diff.TablesModified) != 1 {
		t.Fatalf("TablesModified = %d, want 1", len(diff.TablesModified))
	}
	td := diff.TablesModified[0]
	if td.Table != "blog.authors" {
		t.Errorf("Table = %s", td.Table)
	}
	if !td.TouchTriggerAdded || td.TouchTriggerDrop {
		t.Errorf("trigger flags = added %v dropped %v", td.TouchTriggerAdded, td.TouchTriggerDrop)
	}
	if len(td.ColumnsDropped) != 1 || td.ColumnsDropped[0].Name != "legacy" {
		t.Errorf("ColumnsDropped = %+v", td.ColumnsDropped)
	}
	if len(td.ColumnsModified) != 1 || !td.ColumnsModified[0].TypeChanged || td.ColumnsModified[0].ColumnName != "handle" {
		t.Errorf("ColumnsModified = %+v", td.ColumnsModified)
	}
	if len(td.IndexesDropped) != 1 || td.IndexesDropped[0].Name != "idx_authors_legacy" {
		t.Errorf("IndexesDropped = %+v", td.IndexesDropped)
	}
}

func TestCompareDroppedTables(t *testing.T) {
	code := parseModels(t, planAuthor{})
	all := parseModels(t, planAuthor{}, planPost{})

	other := &schema.TableMetadata{Schema: "elsewhere", Name: "things"}
	db := dbOf(introspected(t, all[0]), introspected(t, all[1]), other)

	diff, err := NewDiffer().Compare(code, db)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if len(diff.TablesDropped) != 1 || diff.TablesDropped[0].QualifiedName() != "blog.posts" {
		t.Errorf("TablesDropped = %+v, want only blog.posts", diff.TablesDropped)
	}
	if len(diff.EnumTypesDropped) != 1 || diff.EnumTypesDropped[0].Name != "post_state" {
		t.Errorf("EnumTypesDropped = %+v", diff.EnumTypesDropped)
	}
}

func TestCompareEnumValues(t *testing.T) {
	tables := parseModels(t, planAuthor{}, planPost{})
	post := introspected(t, tables[1])
	post.EnumTypes = []schema.EnumType{{Schema: "blog", Name: "post_state", Values: []string{"draft"}}}

	diff, err := NewDiffer().Compare(tables, dbOf(introspected(t, tables[0]), post))
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	want := []EnumTypeDiff{{Name: "blog.post_state", OldValues: []string{"draft"}, NewValues: []string{"published"}}}
	if !reflect.DeepEqual(diff.EnumTypesModified, want) {
		t.Errorf("EnumTypesModified = %+v, want %+v", diff.EnumTypesModified, want)
	}
}

func TestCompareForeignKeyAction(t *testing.T) {
	tables := parseModels(t, planAuthor{}, planPost{})
	post := introspected(t, tables[1])
	post.ForeignKeys = append([]schema.ForeignKeyMetadata(nil), post.ForeignKeys...)
	post.ForeignKeys[0].OnDelete = schema.NoAction

	diff, err := NewDiffer().Compare(tables, dbOf(introspected(t, tables[0]), post))
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if len(diff.TablesModified) != 1 {
		t.Fatalf("TablesModified = %d, want 1", len(diff.TablesModified))
	}
	td := diff.TablesModified[0]
	if len(td.ForeignKeysDropped) != 1 || len(td.ForeignKeysAdded) != 1 {
		t.Errorf("expected the foreign key to be recreated, got %+v", td)
	}
}

func TestNormalizeType(t *testing.T) {
	tests := []struct{ a, b string }{
		{"timestamp with time zone", "timestamptz"},
		{"time without time zone", "time"},
		{"int4", "integer"},
		{"character varying(50)", "varchar(50)"},
		{"numeric(10, 2)", "NUMERIC(10,2)"},
		{"decimal", "numeric"},
		{"bool", "boolean"},
	}
	for _, tt := range tests {
		if normalizeType(tt.a) != normalizeType(tt.b) {
			t.Errorf("normalizeType(%q) = %q, normalizeType(%q) = %q", tt.a, normalizeType(tt.a), tt.b, normalizeType(tt.b))
		}
	}
}

func TestNormalizeDefault(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"NOW()", "now()"},
		{"CURRENT_TIMESTAMP", "now()"},
		{"'pending'::cinema.booking_status", "pending"},
		{"'pending'", "pending"},
		{"(0)", "0"},
		{"true", "true"},
	}
	for _, tt := range tests {
		if got := normalizeDefault(tt.in); got != tt.want {
			t.Errorf("normalizeDefault(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
