package builder

import (
	"reflect"
	"testing"
	"time"

	"github.com/marshallshelly/crudschemas/pkg/registry"
)

type accountWithStats struct {
	testAccount
	PostCount int64  `po:"post_count"`
	Name      string `po:"display_name"`
	Extra     string
}

func TestColumnFields(t *testing.T) {
	fields := columnFields(reflect.TypeOf(accountWithStats{}))

	tests := []struct {
		column string
		want   []int
	}{
		{"id", []int{0, 0}},
		{"email", []int{0, 1}},
		{"is_active", []int{0, 3}},
		{"created_at", []int{0, 4}},
		{"post_count", []int{1}},
		{"display_name", []int{2}},
		{"name", []int{0, 2}},
	}
	for _, tt := range tests {
		got, ok := fields[tt.column]
		if !ok {
			t.Errorf("column %s not mapped", tt.column)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("column %s index = %v, want %v", tt.column, got, tt.want)
		}
	}
	if len(fields) != len(tests) {
		t.Errorf("mapped %d columns, want %d: %v", len(fields), len(tests), fields)
	}
}

func TestStructToValues(t *testing.T) {
	table, err := registry.GetOrRegister(testAccount{})
	if err != nil {
		t.Fatalf("GetOrRegister() error = %v", err)
	}

	tests := []struct {
		name     string
		model    testAccount
		wantCols []string
	}{
		{
			name:     "zero identity and defaults omitted",
			model:    testAccount{Email: "a@x.io", Name: "Ann"},
			wantCols: []string{"email", "name"},
		},
		{
			name:     "explicit identity is sent",
			model:    testAccount{ID: 9, Email: "a@x.io", Name: "Ann"},
			wantCols: []string{"id", "email", "name"},
		},
		{
			name:     "true overrides default",
			model:    testAccount{Email: "a@x.io", Name: "Ann", IsActive: true, CreatedAt: time.Unix(0, 1)},
			wantCols: []string{"email", "name", "is_active", "created_at"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols, vals, err := structToValues(tt.model, table)
			if err != nil {
				t.Fatalf("structToValues() error = %v", err)
			}
			if !reflect.DeepEqual(cols, tt.wantCols) {
				t.Errorf("columns = %v, want %v", cols, tt.wantCols)
			}
			if len(vals) != len(cols) {
				t.Errorf("got %d values for %d columns", len(vals), len(cols))
			}
		})
	}

	if _, _, err := structToValues(42, table); err == nil {
		t.Error("expected error for non-struct model")
	}
}
