//go:build integration

// Package testdb starts a throwaway PostgreSQL for integration tests.
package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marshallshelly/crudschemas/pkg/migration"
	"github.com/marshallshelly/crudschemas/pkg/runtime"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// Start runs a PostgreSQL container for the lifetime of the test and returns
// a connected DB. The container is terminated by t.Cleanup.
func Start(t *testing.T) *runtime.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("crudschemas"),
		postgres.WithUsername("crud"),
		postgres.WithPassword("crud"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := runtime.Connect(ctx, runtime.Config{URL: url, MaxConns: 16})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// Apply creates the given tables through the migration planner.
func Apply(t *testing.T, db *runtime.DB, tables []*schema.TableMetadata) {
	t.Helper()
	ctx := context.Background()

	up, _, err := migration.NewPlanner().CreateAll(tables)
	if err != nil {
		t.Fatalf("failed to plan schema: %v", err)
	}
	for _, stmt := range migration.SplitStatements(up) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			t.Fatalf("failed to apply schema: %v", err)
		}
	}
}
