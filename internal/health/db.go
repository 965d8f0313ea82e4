package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrDirtySchema is returned when the last migration failed part way.
var ErrDirtySchema = errors.New("database schema is dirty")

// DBChecker implements health checking for the PostgreSQL pool and the
// migration state of its schema.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database and fails when the schema_migrations table
// records a dirty migration. A missing table means migrations have not run yet
// and is not treated as a failure.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var exists bool
	if err := d.db.QueryRowContext(ctx,
		`SELECT to_regclass('public.schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("schema lookup: %w", err)
	}
	if !exists {
		return nil
	}

	var version int64
	var dirty bool
	err := d.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("%w at version %d", ErrDirtySchema, version)
	}
	return nil
}
