package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/tracing"
)

const requestColumns = `
	id, organisation_id, audit_entry_id, rule_id, entity_type, entity_id, requester_id,
	approver_type, approver_user_id, approver_role_id, approver_role_name,
	status, expires_at, resolved_by, resolved_at, rejection_reason, created_at`

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRequestRepository implements RequestRepository using PostgreSQL. The
// request row and the audit entry's approval tail are written in one transaction.
type PostgresRequestRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRequestRepository creates a new PostgresRequestRepository.
func NewPostgresRequestRepository(db *sql.DB, logger *slog.Logger) *PostgresRequestRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRequestRepository{db: db, logger: logger}
}

func (r *PostgresRequestRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback approval transaction",
				slog.String("error", err.Error()))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Create stores a pending request and marks the audit entry pending.
func (r *PostgresRequestRepository) Create(ctx context.Context, req *Request) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_requests", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO approval_requests (`+requestColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULL, NULL, NULL, $14)
		`,
			req.ID, req.OrganisationID, req.AuditEntryID, nullString(req.RuleID), req.EntityType, req.EntityID, req.RequesterID,
			string(req.Approver.Type), nullString(req.Approver.UserID), nullString(req.Approver.RoleID), nullString(req.Approver.RoleName),
			string(req.Status), req.ExpiresAt, req.CreatedAt,
		)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadyPending
		}
		if err != nil {
			return fmt.Errorf("failed to insert approval request: %w", err)
		}

		err = audit.TransitionApprovalTx(ctx, tx, req.AuditEntryID, audit.ApprovalNone, audit.ApprovalTail{Status: audit.ApprovalPending})
		if errors.Is(err, audit.ErrApprovalConflict) {
			return fmt.Errorf("%w: %w", ErrAlreadyPending, err)
		}
		return err
	})
}

// Get returns one request.
func (r *PostgresRequestRepository) Get(ctx context.Context, organisationID, id string) (_ *Request, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_requests", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	req, err := scanRequest(r.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM approval_requests WHERE id = $1 AND organisation_id = $2`, id, organisationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return req, nil
}

// Resolve moves a pending request and its audit entry to a terminal state. The
// request update is conditioned on status = 'pending'; when it affects no row the
// transaction is abandoned with ErrNotPending.
func (r *PostgresRequestRepository) Resolve(ctx context.Context, organisationID, id string, res Resolution) (_ *Request, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_requests", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	var resolved *Request
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var rejectionReason sql.NullString
		if res.Status == StatusRejected {
			rejectionReason = nullString(res.RejectionReason)
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE approval_requests
			SET status = $3, resolved_by = $4, resolved_at = $5, rejection_reason = $6
			WHERE id = $1 AND organisation_id = $2 AND status = 'pending'
			RETURNING `+requestColumns,
			id, organisationID, string(res.Status), res.ResolvedBy, res.ResolvedAt, rejectionReason,
		)
		req, err := scanRequest(row)
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM approval_requests WHERE id = $1 AND organisation_id = $2)`,
				id, organisationID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check approval request: %w", err)
			}
			if !exists {
				return ErrRequestNotFound
			}
			return ErrNotPending
		}
		if err != nil {
			return fmt.Errorf("failed to resolve approval request: %w", err)
		}

		resolvedAt := res.ResolvedAt
		err = audit.TransitionApprovalTx(ctx, tx, req.AuditEntryID, audit.ApprovalPending, audit.ApprovalTail{
			Status:          ledgerStatus(res.Status),
			ApproverID:      res.ResolvedBy,
			ApprovedAt:      &resolvedAt,
			RejectionReason: rejectionReason.String,
		})
		if errors.Is(err, audit.ErrApprovalConflict) {
			return fmt.Errorf("%w: %w", ErrNotPending, err)
		}
		if err != nil {
			return err
		}
		resolved = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// ListPending returns pending requests, newest first.
func (r *PostgresRequestRepository) ListPending(ctx context.Context, organisationID string, q PendingQuery) (_ []*Request, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_requests", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	clauses := []string{
		"organisation_id = $1",
		"status = 'pending'",
		"(expires_at IS NULL OR expires_at > $2)",
	}
	args := []any{organisationID, q.now()}
	if q.UserID != "" || len(q.RoleIDs) > 0 {
		args = append(args, q.UserID, pq.Array(q.RoleIDs))
		clauses = append(clauses, `(
			(approver_type IN ('user', 'manager') AND approver_user_id = $3)
			OR (approver_type = 'role' AND approver_role_id = ANY($4::uuid[]))
		)`)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM approval_requests
		WHERE `+strings.Join(clauses, " AND ")+`
		ORDER BY created_at DESC, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}
	defer rows.Close()

	var reqs []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval requests: %w", err)
	}
	return reqs, nil
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		req                              Request
		approverType, status             string
		ruleID, userID, roleID, roleName sql.NullString
		resolvedBy, rejectionReason      sql.NullString
		expiresAt, resolvedAt            sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.OrganisationID, &req.AuditEntryID, &ruleID, &req.EntityType, &req.EntityID, &req.RequesterID,
		&approverType, &userID, &roleID, &roleName,
		&status, &expiresAt, &resolvedBy, &resolvedAt, &rejectionReason, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.RuleID = ruleID.String
	req.Approver = ApproverSpec{
		Type:     ApproverType(approverType),
		UserID:   userID.String,
		RoleID:   roleID.String,
		RoleName: roleName.String,
	}
	req.Status = Status(status)
	req.ResolvedBy = resolvedBy.String
	req.RejectionReason = rejectionReason.String
	req.CreatedAt = req.CreatedAt.UTC()
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		req.ExpiresAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		req.ResolvedAt = &t
	}
	return &req, nil
}

var (
	_ RequestRepository = (*PostgresRequestRepository)(nil)
	_ RequestRepository = (*InMemoryRequestRepository)(nil)
	_ RuleRepository    = (*PostgresRuleRepository)(nil)
	_ RuleRepository    = (*InMemoryRuleRepository)(nil)
)
