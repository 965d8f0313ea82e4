//go:build integration

package db_test

import (
	"context"
	"testing"

	"github.com/onnwee/caregov/internal/db"
	"github.com/onnwee/caregov/internal/db/dbtest"
)

func TestMigrate_AuditEntriesWriteOnce(t *testing.T) {
	conn := dbtest.New(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `
		INSERT INTO audit_entries (id, organisation_id, actor_id, entity_type, entity_id, action, entry_hash)
		VALUES ('6f1c2d8e-7a55-4c3e-9d2b-000000000001', 'org-1', 'user-1', 'rate', 'r-1', 'create', repeat('a', 64))
	`)
	if err != nil {
		t.Fatalf("insert error = %v", err)
	}

	if _, err := conn.ExecContext(ctx, `UPDATE audit_entries SET entity_id = 'r-2'`); err == nil {
		t.Error("updating a recorded field succeeded, want error")
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM audit_entries`); err == nil {
		t.Error("delete succeeded, want error")
	}
	if _, err := conn.ExecContext(ctx, `UPDATE audit_entries SET approval_status = 'approved'`); err == nil {
		t.Error("none -> approved succeeded, want error")
	}
	if _, err := conn.ExecContext(ctx, `UPDATE audit_entries SET approval_status = 'pending'`); err != nil {
		t.Errorf("none -> pending error = %v", err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE audit_entries SET approval_status = 'approved', approver_id = 'user-2', approved_at = NOW()`); err != nil {
		t.Errorf("pending -> approved error = %v", err)
	}
}

func TestMigrate_DownAndUp(t *testing.T) {
	conn := dbtest.New(t)

	if err := db.MigrateDown(conn); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	var exists bool
	if err := conn.QueryRow(`SELECT to_regclass('public.audit_entries') IS NOT NULL`).Scan(&exists); err != nil {
		t.Fatalf("query error = %v", err)
	}
	if exists {
		t.Error("audit_entries exists after MigrateDown()")
	}
}
