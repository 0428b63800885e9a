package migration

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/marshallshelly/crudschemas/pkg/schema"
)

type planAuthor struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	Handle    string    `po:"handle,varchar(50),notNull,unique"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (planAuthor) TableName() string { return "blog.authors" }

type planPost struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	AuthorID  int64     `po:"author_id,bigint,notNull,fk(authors.id),onDelete(cascade),index"`
	State     string    `po:"state,enum(post_state:draft|published),notNull,default('draft')"`
	Score     int32     `po:"score,integer,notNull,default(0),check(score >= 0)"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW()),index(idx_posts_recent),desc"`
}

func (planPost) TableName() string { return "blog.posts" }

func parseModels(t *testing.T, models ...any) []*schema.TableMetadata {
	t.Helper()
	p := schema.NewParser()
	var tables []*schema.TableMetadata
	for _, m := range models {
		table, err := p.Parse(reflect.TypeOf(m))
		if err != nil {
			t.Fatalf("Parse(%T) error = %v", m, err)
		}
		tables = append(tables, table)
	}
	return tables
}

// assertOrder checks that each fragment appears in sql after the previous one.
func assertOrder(t *testing.T, sql string, fragments ...string) {
	t.Helper()
	pos := 0
	for _, f := range fragments {
		idx := strings.Index(sql[pos:], f)
		if idx == -1 {
			t.Fatalf("fragment %q not found after offset %d in:\n%s", f, pos, sql)
		}
		pos += idx + len(f)
	}
}

func TestCreateAllOrdering(t *testing.T) {
	// posts first to prove the planner sorts by dependency
	tables := parseModels(t, planPost{}, planAuthor{})

	up, down, err := NewPlanner().CreateAll(tables)
	if err != nil {
		t.Fatalf("CreateAll() error = %v", err)
	}

	assertOrder(t, up,
		"CREATE SCHEMA IF NOT EXISTS blog;",
		"CREATE TYPE blog.post_state AS ENUM ('draft', 'published');",
		"CREATE OR REPLACE FUNCTION blog.touch_updated_at()",
		"CREATE TABLE IF NOT EXISTS blog.authors (",
		"CREATE OR REPLACE TRIGGER authors_touch_updated_at BEFORE UPDATE ON blog.authors",
		"CREATE TABLE IF NOT EXISTS blog.posts (",
		"CREATE INDEX IF NOT EXISTS idx_posts_author_id ON blog.posts (author_id);",
		"CREATE INDEX IF NOT EXISTS idx_posts_recent ON blog.posts (created_at DESC);",
	)

	assertOrder(t, down,
		"DROP TABLE IF EXISTS blog.posts;",
		"DROP TABLE IF EXISTS blog.authors;",
		"DROP FUNCTION IF EXISTS blog.touch_updated_at();",
		"DROP TYPE IF EXISTS blog.post_state;",
		"DROP SCHEMA IF EXISTS blog;",
	)
}

func TestCreateTableDefinition(t *testing.T) {
	tables := parseModels(t, planAuthor{}, planPost{})
	up, _, err := NewPlanner().CreateAll(tables)
	if err != nil {
		t.Fatalf("CreateAll() error = %v", err)
	}

	want := []string{
		"id bigint GENERATED ALWAYS AS IDENTITY",
		"handle varchar(50) NOT NULL",
		"CONSTRAINT authors_pkey PRIMARY KEY (id)",
		"CONSTRAINT authors_handle_key UNIQUE (handle)",
		"state blog.post_state NOT NULL DEFAULT 'draft'",
		"CONSTRAINT posts_score_check CHECK (score >= 0)",
		"CONSTRAINT posts_author_id_fkey FOREIGN KEY (author_id) REFERENCES blog.authors (id) ON DELETE CASCADE",
	}
	for _, w := range want {
		if !strings.Contains(up, w) {
			t.Errorf("up SQL missing %q:\n%s", w, up)
		}
	}
	if strings.Contains(up, "SERIAL") {
		t.Error("identity columns must not render as SERIAL")
	}
}

func TestPlannerWithoutIfNotExists(t *testing.T) {
	tables := parseModels(t, planAuthor{})
	up, _, err := NewPlannerWithOptions(PlannerOptions{}).CreateAll(tables)
	if err != nil {
		t.Fatalf("CreateAll() error = %v", err)
	}
	if strings.Contains(up, "CREATE TABLE IF NOT EXISTS") {
		t.Errorf("unexpected IF NOT EXISTS:\n%s", up)
	}
	if !strings.Contains(up, "CREATE TABLE blog.authors (") {
		t.Errorf("missing plain CREATE TABLE:\n%s", up)
	}
}

func TestCreateAllSplitsCleanly(t *testing.T) {
	tables := parseModels(t, planAuthor{}, planPost{})
	up, down, err := NewPlanner().CreateAll(tables)
	if err != nil {
		t.Fatalf("CreateAll() error = %v", err)
	}

	for _, stmt := range SplitStatements(up) {
		if strings.HasPrefix(stmt, "END") || strings.HasPrefix(stmt, "RETURN") {
			t.Errorf("function or DO body was split apart: %q", stmt)
		}
	}
	if got := len(SplitStatements(down)); got != 5 {
		t.Errorf("down has %d statements, want 5", got)
	}
}

func TestGenerateAlterTable(t *testing.T) {
	def := "0"
	diff := &SchemaDiff{
		TablesModified: []TableDiff{{
			Table:  "blog.posts",
			Schema: "blog",
			ColumnsAdded: []schema.ColumnMetadata{
				{Name: "views", SQLType: "integer", Nullable: true, Default: &def},
			},
			IndexesDropped: []schema.IndexMetadata{
				{Name: "idx_posts_recent", Columns: []string{"created_at"}},
			},
			ConstraintsAdded: []schema.ConstraintMetadata{
				{Name: "posts_views_check", Type: schema.CheckConstraint, Expression: "(views >= 0)"},
			},
			TouchTriggerAdded: true,
		}},
	}

	up, down := NewPlanner().GenerateMigration(diff)

	assertOrder(t, up,
		"CREATE OR REPLACE FUNCTION blog.touch_updated_at()",
		"DROP INDEX IF EXISTS blog.idx_posts_recent;",
		"ALTER TABLE blog.posts ADD COLUMN views integer DEFAULT 0;",
		"ALTER TABLE blog.posts ADD CONSTRAINT posts_views_check CHECK (views >= 0);",
		"CREATE OR REPLACE TRIGGER posts_touch_updated_at",
	)
	assertOrder(t, down,
		"DROP TRIGGER IF EXISTS posts_touch_updated_at ON blog.posts;",
		"ALTER TABLE blog.posts DROP CONSTRAINT IF EXISTS posts_views_check;",
		"ALTER TABLE blog.posts DROP COLUMN IF EXISTS views;",
		"CREATE INDEX IF NOT EXISTS idx_posts_recent ON blog.posts (created_at);",
	)
	// the schema existed before, so its function stays
	if strings.Contains(down, "DROP FUNCTION") {
		t.Errorf("down must not drop a shared touch function:\n%s", down)
	}
}

func TestGenerateColumnModification(t *testing.T) {
	oldDef := "'draft'"
	diff := TableDiff{
		Table: "blog.posts",
		ColumnsModified: []ColumnDiff{{
			ColumnName:     "title",
			OldColumn:      schema.ColumnMetadata{Name: "title", SQLType: "varchar(100)", Nullable: true, Default: &oldDef},
			NewColumn:      schema.ColumnMetadata{Name: "title", SQLType: "text"},
			TypeChanged:    true,
			NullChanged:    true,
			DefaultChanged: true,
		}},
	}

	up, down := NewPlanner().generateAlterTable(diff)

	wantUp := []string{
		"ALTER TABLE blog.posts ALTER COLUMN title TYPE text;",
		"ALTER TABLE blog.posts ALTER COLUMN title SET NOT NULL;",
		"ALTER TABLE blog.posts ALTER COLUMN title DROP DEFAULT;",
	}
	wantDown := []string{
		"ALTER TABLE blog.posts ALTER COLUMN title TYPE varchar(100);",
		"ALTER TABLE blog.posts ALTER COLUMN title DROP NOT NULL;",
		"ALTER TABLE blog.posts ALTER COLUMN title SET DEFAULT 'draft';",
	}
	if !reflect.DeepEqual(up, wantUp) {
		t.Errorf("up = %v, want %v", up, wantUp)
	}
	if !reflect.DeepEqual(down, wantDown) {
		t.Errorf("down = %v, want %v", down, wantDown)
	}
}

func TestAlterTypeUsingClause(t *testing.T) {
	p := NewPlanner()

	tests := []struct {
		name     string
		from, to string
		want     string
	}{
		{"widening", "integer", "bigint", "ALTER TABLE t ALTER COLUMN c TYPE bigint;"},
		{"text to integer", "text", "integer", "ALTER TABLE t ALTER COLUMN c TYPE integer USING CASE WHEN c ~ '^-?[0-9]+$' THEN c::integer ELSE NULL END;"},
		{"text to enum", "varchar(20)", "app.state", "ALTER TABLE t ALTER COLUMN c TYPE app.state USING c::app.state;"},
		{"enum to text", "app.state", "text", "ALTER TABLE t ALTER COLUMN c TYPE text USING c::text;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.alterType("t", "c", tt.from, tt.to)
			if len(got) != 1 || got[0] != tt.want {
				t.Errorf("alterType() = %v, want %q", got, tt.want)
			}
		})
	}

	manual := p.alterType("t", "c", "jsonb", "integer[]")
	if len(manual) != 2 || !strings.HasPrefix(manual[0], "-- MANUAL MIGRATION REQUIRED") {
		t.Errorf("expected manual migration comment, got %v", manual)
	}
}

func TestGenerateEnumChanges(t *testing.T) {
	diff := &SchemaDiff{
		EnumTypesModified: []EnumTypeDiff{{Name: "blog.post_state", OldValues: []string{"draft"}, NewValues: []string{"archived", "it's"}}},
		EnumTypesDropped:  []schema.EnumType{{Schema: "blog", Name: "legacy", Values: []string{"a"}}},
	}
	up, down := NewPlanner().GenerateMigration(diff)

	assertOrder(t, up,
		"ALTER TYPE blog.post_state ADD VALUE IF NOT EXISTS 'archived';",
		"ALTER TYPE blog.post_state ADD VALUE IF NOT EXISTS 'it''s';",
		"DROP TYPE IF EXISTS blog.legacy;",
	)
	assertOrder(t, down,
		"CREATE TYPE blog.legacy AS ENUM ('a');",
		"-- NOTE: enum values added to blog.post_state cannot be removed automatically",
	)
}
