package builder

import (
	"github.com/marshallshelly/crudschemas/pkg/registry"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// DB binds the query builder to a pool or a transaction.
type DB struct {
	q runtime.Querier
}

// New creates a query builder over anything that can run queries:
// a *runtime.DB or a *runtime.Tx.
func New(q runtime.Querier) *DB {
	return &DB{q: q}
}

// Querier returns the underlying querier.
func (d *DB) Querier() runtime.Querier {
	return d.q
}

func tableFor[T any]() (*schema.TableMetadata, error) {
	var model T
	return registry.GetOrRegister(model)
}

// Select creates a new type-safe SELECT query.
// Usage: builder.Select[User](db).Where(...).All(ctx)
func Select[T any](d *DB) *SelectQuery[T] {
	table, err := tableFor[T]()
	return &SelectQuery[T]{
		db:      d,
		table:   table,
		err:     err,
		columns: []string{"*"},
	}
}

// Insert creates a new type-safe INSERT query.
// Usage: builder.Insert[User](db).Values(user).Exec(ctx)
func Insert[T any](d *DB) *InsertQuery[T] {
	table, err := tableFor[T]()
	return &InsertQuery[T]{
		db:    d,
		table: table,
		err:   err,
	}
}

// Update creates a new type-safe UPDATE query.
// Usage: builder.Update[User](db).Set("name", "John").Where(...).Exec(ctx)
func Update[T any](d *DB) *UpdateQuery[T] {
	table, err := tableFor[T]()
	return &UpdateQuery[T]{
		db:    d,
		table: table,
		err:   err,
	}
}

// Delete creates a new type-safe DELETE query.
// Usage: builder.Delete[User](db).Where(...).Exec(ctx)
func Delete[T any](d *DB) *DeleteQuery[T] {
	table, err := tableFor[T]()
	return &DeleteQuery[T]{
		db:    d,
		table: table,
		err:   err,
	}
}
