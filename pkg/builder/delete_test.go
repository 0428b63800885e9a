package builder

import (
	"testing"
)

func TestDeleteQuery_ToSQL(t *testing.T) {
	db := New(nil)

	tests := []struct {
		name       string
		query      *DeleteQuery[testAccount]
		wantSQL    string
		wantArgLen int
	}{
		{
			name:       "by id",
			query:      Delete[testAccount](db).Where(Eq("id", 7)),
			wantSQL:    "DELETE FROM app.accounts WHERE id = $1",
			wantArgLen: 1,
		},
		{
			name: "multiple conditions with returning",
			query: Delete[testAccount](db).
				Where(Eq("is_active", false)).
				And(Lt("created_at", "2025-01-01")).
				Returning("id"),
			wantSQL:    "DELETE FROM app.accounts WHERE is_active = $1 AND created_at < $2 RETURNING id",
			wantArgLen: 2,
		},
		{
			name:       "IN list",
			query:      Delete[testAccount](db).Where(In("id", 1, 2, 3)),
			wantSQL:    "DELETE FROM app.accounts WHERE id IN ($1, $2, $3)",
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

func TestDeleteQuery_RequiresWhere(t *testing.T) {
	if _, _, err := Delete[testAccount](New(nil)).ToSQL(); err == nil {
		t.Error("expected error for unconditional delete")
	}
}
