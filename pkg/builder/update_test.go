package builder

import (
	"testing"
)

func TestUpdateQuery_ToSQL(t *testing.T) {
	db := New(nil)

	tests := []struct {
		name       string
		query      *UpdateQuery[testAccount]
		wantSQL    string
		wantArgLen int
	}{
		{
			name:       "single column",
			query:      Update[testAccount](db).Set("name", "Ann").Where(Eq("id", 1)),
			wantSQL:    "UPDATE app.accounts SET name = $1 WHERE id = $2",
			wantArgLen: 2,
		},
		{
			name: "set order is preserved",
			query: Update[testAccount](db).
				Set("name", "Ann").
				Set("email", "a@x.io").
				Set("is_active", false).
				Where(Eq("id", 1)),
			wantSQL:    "UPDATE app.accounts SET name = $1, email = $2, is_active = $3 WHERE id = $4",
			wantArgLen: 4,
		},
		{
			name: "expression set takes no parameter",
			query: Update[testAccount](db).
				SetExpr("name", "upper(name)").
				Set("is_active", true).
				Where(Eq("id", 1)).
				And(Gte("created_at", "2026-01-01")),
			wantSQL:    "UPDATE app.accounts SET name = upper(name), is_active = $1 WHERE id = $2 AND created_at >= $3",
			wantArgLen: 3,
		},
		{
			name: "raw where continues numbering",
			query: Update[testAccount](db).
				Set("is_active", false).
				Where(Raw("id = ? AND email <> ?", 1, "")).
				Returning("id", "is_active"),
			wantSQL:    "UPDATE app.accounts SET is_active = $1 WHERE id = $2 AND email <> $3 RETURNING id, is_active",
			wantArgLen: 3,
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

func TestUpdateQuery_Errors(t *testing.T) {
	db := New(nil)

	if _, _, err := Update[testAccount](db).Where(Eq("id", 1)).ToSQL(); err == nil {
		t.Error("expected error for update without SET")
	}
	if _, _, err := Update[testAccount](db).Set("name", "x").ToSQL(); err == nil {
		t.Error("expected error for update without WHERE")
	}
}
