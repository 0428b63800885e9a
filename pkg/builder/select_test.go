package builder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marshallshelly/crudschemas/pkg/runtime"
)

type testAccount struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	Email     string    `po:"email,varchar(255),unique,notNull"`
	Name      string    `po:"name,varchar(100),notNull"`
	IsActive  bool      `po:"is_active,boolean,notNull,default(true)"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (testAccount) TableName() string { return "app.accounts" }

type brokenModel struct {
	ID int `po:"id,integer,primaryKey"`
}

func (brokenModel) TableName() string { return "" }

func TestSelectQuery_ToSQL(t *testing.T) {
	db := New(nil) // SQL generation only

	tests := []struct {
		name       string
		query      *SelectQuery[testAccount]
		wantSQL    string
		wantArgLen int
	}{
		{
			name:    "simple select all",
			query:   Select[testAccount](db),
			wantSQL: "SELECT * FROM app.accounts",
		},
		{
			name:    "select specific columns",
			query:   Select[testAccount](db).Columns("id", "email"),
			wantSQL: "SELECT id, email FROM app.accounts",
		},
		{
			name:       "select with WHERE",
			query:      Select[testAccount](db).Where(Eq("email", "a@b.c")),
			wantSQL:    "SELECT * FROM app.accounts WHERE email = $1",
			wantArgLen: 1,
		},
		{
			name: "select with multiple WHERE",
			query: Select[testAccount](db).
				Where(Eq("is_active", true)).
				And(ILike("name", "%ann%")),
			wantSQL:    "SELECT * FROM app.accounts WHERE is_active = $1 AND name ILIKE $2",
			wantArgLen: 2,
		},
		{
			name: "select with ORDER BY",
			query: Select[testAccount](db).
				OrderByDesc("created_at").
				OrderByAsc("id"),
			wantSQL: "SELECT * FROM app.accounts ORDER BY created_at DESC, id ASC",
		},
		{
			name:    "select with LIMIT and OFFSET",
			query:   Select[testAccount](db).Limit(10).Offset(20),
			wantSQL: "SELECT * FROM app.accounts LIMIT 10 OFFSET 20",
		},
		{
			name:    "select with DISTINCT",
			query:   Select[testAccount](db).Distinct().Columns("name"),
			wantSQL: "SELECT DISTINCT name FROM app.accounts",
		},
		{
			name:       "select with FOR UPDATE",
			query:      Select[testAccount](db).Where(Eq("id", 1)).ForUpdate(),
			wantSQL:    "SELECT * FROM app.accounts WHERE id = $1 FOR UPDATE",
			wantArgLen: 1,
		},
		{
			name:    "select with SKIP LOCKED",
			query:   Select[testAccount](db).Limit(1).SkipLocked(),
			wantSQL: "SELECT * FROM app.accounts LIMIT 1 FOR UPDATE SKIP LOCKED",
		},
		{
			name: "select with GROUP BY",
			query: Select[testAccount](db).
				Columns("is_active", "COUNT(*) AS n").
				GroupBy("is_active"),
			wantSQL: "SELECT is_active, COUNT(*) AS n FROM app.accounts GROUP BY is_active",
		},
		{
			name: "select with joins",
			query: Select[testAccount](db).
				Columns("accounts.*").
				InnerJoin("app.posts p", "p.account_id = accounts.id").
				LeftJoin("app.likes l", "l.post_id = p.id").
				Where(Eq("p.id", 9)),
			wantSQL:    "SELECT accounts.* FROM app.accounts INNER JOIN app.posts p ON p.account_id = accounts.id LEFT JOIN app.likes l ON l.post_id = p.id WHERE p.id = $1",
			wantArgLen: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.query.ToSQL()
			if err != nil {
				t.Fatalf("ToSQL() error = %v", err)
			}
			if sql != tt.wantSQL {
				t.Errorf("ToSQL() SQL =\n%s\nwant\n%s", sql, tt.wantSQL)
			}
			if len(args) != tt.wantArgLen {
				t.Errorf("ToSQL() args length = %d, want %d", len(args), tt.wantArgLen)
			}
		})
	}
}

func TestSelectQuery_RegistryErrorSurfaces(t *testing.T) {
	_, _, err := Select[brokenModel](New(nil)).ToSQL()
	if err == nil {
		t.Fatal("expected registry error for a model with an empty table name")
	}

	if _, err := Select[brokenModel](New(nil)).Count(context.Background()); err == nil {
		t.Fatal("Count should return the registry error before touching the database")
	}
}

func TestSelectQuery_ArgsOrder(t *testing.T) {
	_, args, err := Select[testAccount](New(nil)).
		Where(Eq("is_active", true)).
		And(Between("created_at", "2026-01-01", "2026-02-01")).
		ToSQL()
	if err != nil {
		t.Fatalf("ToSQL() error = %v", err)
	}
	want := []any{true, "2026-01-01", "2026-02-01"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if IsNotFound(errors.New("x")) {
		t.Error("plain error reported as not found")
	}
	if !IsNotFound(fmt.Errorf("qa.users: %w", runtime.ErrNotFound)) {
		t.Error("wrapped ErrNotFound not detected")
	}
}
