//go:build integration

// Package dbtest starts a disposable PostgreSQL container with the schema
// applied, for integration tests.
//
// Run with: go test -tags=integration ./...
package dbtest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/caregov/internal/db"
)

// Image is the PostgreSQL image used for integration tests.
const Image = "postgres:16-alpine"

// New starts a container, applies migrations and returns an open pool. The
// container is terminated when the test finishes.
func New(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("caregov"),
		postgres.WithUsername("caregov"),
		postgres.WithPassword("caregov"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}

	conn, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.Migrate(conn, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return conn
}
