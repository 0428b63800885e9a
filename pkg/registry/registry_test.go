package registry

import (
	"reflect"
	"sync"
	"testing"
)

type regUser struct {
	ID int64 `po:"id,bigint,primaryKey,identity"`
}

func (regUser) TableName() string { return "app.users" }

type regPost struct {
	ID     int64 `po:"id,bigint,primaryKey,identity"`
	UserID int64 `po:"user_id,bigint,notNull,fk(users.id),onDelete(cascade)"`
}

func (regPost) TableName() string { return "app.posts" }

type otherUser struct {
	ID int64 `po:"id,bigint,primaryKey,identity"`
}

func (otherUser) TableName() string { return "other.users" }

type clash struct {
	ID int64 `po:"id,bigint,primaryKey"`
}

func (clash) TableName() string { return "app.users" }

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	if err := r.RegisterAll(regPost{}, &regUser{}, otherUser{}); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	if err := r.Register(regUser{}); err != nil {
		t.Errorf("registering twice should be a no-op, got %v", err)
	}

	table, err := r.GetByName("app.users")
	if err != nil {
		t.Fatalf("GetByName() error = %v", err)
	}
	if table.GoType != reflect.TypeOf(regUser{}) {
		t.Errorf("GoType = %v", table.GoType)
	}
	if !r.Has(reflect.TypeOf(&regPost{})) {
		t.Error("Has() should see through pointers")
	}
	if _, err := r.GetByName("users"); err == nil {
		t.Error("unqualified lookup should fail")
	}
}

func TestRegistryRejectsDuplicateTableName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(regUser{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(clash{}); err == nil {
		t.Error("expected an error for a second model claiming app.users")
	}
}

func TestRegistryRejectsNonStruct(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(42); err == nil {
		t.Error("expected error for non-struct")
	}
	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil")
	}
}

func TestRegistryTablesAndOrder(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAll(regPost{}, regUser{}, otherUser{}); err != nil {
		t.Fatal(err)
	}

	if got := len(r.Tables("app")); got != 2 {
		t.Errorf("Tables(app) = %d tables, want 2", got)
	}
	if got := len(r.Tables()); got != 3 {
		t.Errorf("Tables() = %d tables, want 3", got)
	}
	if got := r.Schemas(); !reflect.DeepEqual(got, []string{"app", "other"}) {
		t.Errorf("Schemas() = %v", got)
	}

	ordered, err := r.Ordered("app")
	if err != nil {
		t.Fatalf("Ordered() error = %v", err)
	}
	if ordered[0].QualifiedName() != "app.users" || ordered[1].QualifiedName() != "app.posts" {
		t.Errorf("Ordered() = %s, %s", ordered[0].QualifiedName(), ordered[1].QualifiedName())
	}
}

func TestRegistryConcurrentGetOrRegister(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.GetOrRegister(regUser{}); err != nil {
				t.Errorf("GetOrRegister() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if len(r.Tables()) != 1 {
		t.Errorf("expected a single registration, got %d", len(r.Tables()))
	}
}

func TestGlobalRegistry(t *testing.T) {
	Clear()
	defer Clear()

	if err := Register(regUser{}); err != nil {
		t.Fatal(err)
	}
	if _, err := Get(reflect.TypeOf(regUser{})); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}
