//go:build integration

package migration_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marshallshelly/crudschemas/internal/testdb"
	"github.com/marshallshelly/crudschemas/pkg/migration"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

type itAuthor struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	Handle    string    `po:"handle,varchar(50),notNull,unique"`
	Bio       *string   `po:"bio,text"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
	UpdatedAt time.Time `po:"updated_at,timestamptz,notNull,default(NOW()),autoUpdate"`
}

func (itAuthor) TableName() string { return "blog.authors" }

type itPost struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	AuthorID  int64     `po:"author_id,bigint,notNull,fk(authors.id),onDelete(cascade),index"`
	State     string    `po:"state,enum(post_state:draft|published),notNull,default('draft')"`
	Rating    int16     `po:"rating,smallint,check(rating BETWEEN 1 AND 5)"`
	Tags      []string  `po:"tags,text[]"`
	Price     float64   `po:"price,numeric(10,2),notNull,default(0)"`
	ShowAt    time.Time `po:"show_at,time"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW()),index(idx_posts_recent),desc"`
}

func (itPost) TableName() string { return "blog.posts" }

func tables(t *testing.T) []*schema.TableMetadata {
	t.Helper()
	p := schema.NewParser()
	var out []*schema.TableMetadata
	for _, m := range []any{itAuthor{}, itPost{}} {
		table, err := p.Parse(reflect.TypeOf(m))
		require.NoError(t, err)
		out = append(out, table)
	}
	return out
}

func TestMigrationLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testdb.Start(t)
	code := tables(t)

	up, down, err := migration.NewPlanner().CreateAll(code)
	require.NoError(t, err)

	exec := migration.NewExecutor(db)
	require.NoError(t, exec.Initialize(ctx))
	// idempotent
	require.NoError(t, exec.Initialize(ctx))

	m := migration.Migration{Version: "20250101000000", Name: "initial", UpSQL: up, DownSQL: down}
	applied, err := exec.ApplyAll(ctx, []migration.Migration{m}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"20250101000000"}, applied)

	err = exec.Apply(ctx, m, false)
	assert.ErrorIs(t, err, migration.ErrAlreadyApplied)

	// the live schema round-trips through the introspector with no drift
	live, err := migration.NewIntrospector(db).IntrospectSchema(ctx, "blog")
	require.NoError(t, err)
	require.Len(t, live, 2)

	posts := live["blog.posts"]
	require.NotNil(t, posts)
	assert.Equal(t, "blog.authors", posts.ForeignKeys[0].ReferencedTable)
	assert.Equal(t, schema.Cascade, posts.ForeignKeys[0].OnDelete)
	assert.Equal(t, []schema.EnumType{{Schema: "blog", Name: "post_state", Values: []string{"draft", "published"}}}, posts.EnumTypes)

	authors := live["blog.authors"]
	col, ok := authors.Column("updated_at")
	require.True(t, ok)
	assert.True(t, col.AutoUpdate, "touch trigger not detected")

	diff, err := migration.NewDiffer().Compare(code, live)
	require.NoError(t, err)
	assert.False(t, diff.HasChanges(), "unexpected drift: %v", diff.Summary())

	// the touch trigger refreshes updated_at
	var id int64
	require.NoError(t, db.QueryRow(ctx,
		"INSERT INTO blog.authors (handle, updated_at) VALUES ('ann', NOW() - INTERVAL '1 day') RETURNING id").Scan(&id))
	_, err = db.Exec(ctx, "UPDATE blog.authors SET bio = 'hi' WHERE id = $1", id)
	require.NoError(t, err)
	var fresh bool
	require.NoError(t, db.QueryRow(ctx,
		"SELECT updated_at > NOW() - INTERVAL '1 minute' FROM blog.authors WHERE id = $1", id).Scan(&fresh))
	assert.True(t, fresh)

	rolled, err := exec.RollbackTo(ctx, "", []migration.Migration{m}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"20250101000000"}, rolled)

	live, err = migration.NewIntrospector(db).IntrospectSchema(ctx, "blog")
	require.NoError(t, err)
	assert.Empty(t, live)

	status, err := exec.GetStatus(ctx, []migration.Migration{m})
	require.NoError(t, err)
	assert.Equal(t, migration.StatusPending, status[0].Status)
}

func TestFailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := testdb.Start(t)

	exec := migration.NewExecutor(db)
	require.NoError(t, exec.Initialize(ctx))

	m := migration.Migration{
		Version: "20250102000000",
		Name:    "broken",
		UpSQL:   "CREATE TABLE half_done (id int);\nSELECT * FROM missing_table;",
	}
	err := exec.Apply(ctx, m, false)
	require.Error(t, err)
	var migErr *runtime.MigrationError
	assert.True(t, errors.As(err, &migErr))

	var exists bool
	require.NoError(t, db.QueryRow(ctx, "SELECT to_regclass('public.half_done') IS NOT NULL").Scan(&exists))
	assert.False(t, exists, "partial DDL was committed")

	records, err := exec.GetAllMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, migration.StatusFailed, records[0].Status)
	require.NotNil(t, records[0].Error)
}

func TestDriftDetection(t *testing.T) {
	ctx := context.Background()
	db := testdb.Start(t)
	code := tables(t)
	testdb.Apply(t, db, code)

	_, err := db.Exec(ctx, "ALTER TABLE blog.posts ADD COLUMN legacy text")
	require.NoError(t, err)
	_, err = db.Exec(ctx, "DROP INDEX blog.idx_posts_recent")
	require.NoError(t, err)

	live, err := migration.NewIntrospector(db).IntrospectSchema(ctx, "blog")
	require.NoError(t, err)
	diff, err := migration.NewDiffer().Compare(code, live)
	require.NoError(t, err)
	require.Len(t, diff.TablesModified, 1)

	td := diff.TablesModified[0]
	assert.Equal(t, "blog.posts", td.Table)
	require.Len(t, td.ColumnsDropped, 1)
	assert.Equal(t, "legacy", td.ColumnsDropped[0].Name)
	require.Len(t, td.IndexesAdded, 1)
	assert.Equal(t, "idx_posts_recent", td.IndexesAdded[0].Name)

	up, _ := migration.NewPlanner().GenerateMigration(diff)
	for _, stmt := range migration.SplitStatements(up) {
		_, err := db.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	live, err = migration.NewIntrospector(db).IntrospectSchema(ctx, "blog")
	require.NoError(t, err)
	diff, err = migration.NewDiffer().Compare(code, live)
	require.NoError(t, err)
	assert.False(t, diff.HasChanges(), "drift remains: %v", diff.Summary())
}
