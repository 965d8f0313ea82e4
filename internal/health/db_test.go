package health

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func TestDBChecker_UnreachableDatabase(t *testing.T) {
	// Port 1 is never a PostgreSQL server; sql.Open does not dial.
	db, err := sql.Open("postgres", "postgres://caregov@127.0.0.1:1/caregov?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	if err := NewDBChecker(db).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil, want error for unreachable database")
	}
}
