package builder

import (
	"strings"
	"testing"
	"time"
)

func TestInsertQuery_ToSQL(t *testing.T) {
	db := New(nil)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		query      *InsertQuery[testAccount]
		wantSQL    string
		wantArgLen int
	}{
		{
			name:       "identity and defaulted zero fields are omitted",
			query:      Insert[testAccount](db).Values(testAccount{Email: "a@x.io", Name: "Ann"}),
			wantSQL:    "INSERT INTO app.accounts (email, name) VALUES ($1, $2)",
			wantArgLen: 2,
		},
		{
			name:       "explicit default override is sent",
			query:      Insert[testAccount](db).Values(testAccount{Email: "a@x.io", Name: "Ann", CreatedAt: created}),
			wantSQL:    "INSERT INTO app.accounts (email, name, created_at) VALUES ($1, $2, $3)",
			wantArgLen: 3,
		},
		{
			name: "multiple rows",
			query: Insert[testAccount](db).Values(
				testAccount{Email: "a@x.io", Name: "Ann"},
				testAccount{Email: "b@x.io", Name: "Bo"},
			),
			wantSQL:    "INSERT INTO app.accounts (email, name) VALUES ($1, $2), ($3, $4)",
			wantArgLen: 4,
		},
		{
			name: "on conflict do nothing with returning",
			query: Insert[testAccount](db).
				Values(testAccount{Email: "a@x.io", Name: "Ann"}).
				OnConflictDoNothing("email").
				Returning("id"),
			wantSQL:    "INSERT INTO app.accounts (email, name) VALUES ($1, $2) ON CONFLICT (email) DO NOTHING RETURNING id",
			wantArgLen: 2,
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

func TestInsertQuery_Errors(t *testing.T) {
	db := New(nil)

	if _, _, err := Insert[testAccount](db).ToSQL(); err == nil {
		t.Error("expected error for insert without values")
	}

	_, _, err := Insert[testAccount](db).Values(
		testAccount{Email: "a@x.io", Name: "Ann"},
		testAccount{Email: "b@x.io", Name: "Bo", CreatedAt: time.Now()},
	).ToSQL()
	if err == nil || !strings.Contains(err.Error(), "row 1") {
		t.Errorf("expected mismatched column error, got %v", err)
	}
}

type defaultsOnly struct {
	ID        int64     `po:"id,bigint,primaryKey,identity"`
	CreatedAt time.Time `po:"created_at,timestamptz,notNull,default(NOW())"`
}

func (defaultsOnly) TableName() string { return "app.ticks" }

func TestInsertQuery_DefaultValues(t *testing.T) {
	sql, args, err := Insert[defaultsOnly](New(nil)).Values(defaultsOnly{}).ToSQL()
	if err != nil {
		t.Fatalf("ToSQL() error = %v", err)
	}
	if sql != "INSERT INTO app.ticks DEFAULT VALUES" {
		t.Errorf("ToSQL() SQL = %q", sql)
	}
	if len(args) != 0 {
		t.Errorf("ToSQL() args = %v, want none", args)
	}
}
