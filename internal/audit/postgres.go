package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/caregov/internal/tracing"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so ledger writes can join a
// caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const entryColumns = `
	id, organisation_id, actor_id, entity_type, entity_id, action, field_name,
	old_value, new_value, changes, metadata,
	ip_address, user_agent, url, request_id,
	previous_hash, entry_hash,
	approval_status, approver_id, approved_at, rejection_reason,
	created_at`

// PostgresRepository implements Repository using PostgreSQL. Appends for one
// organisation are serialised with a transaction-scoped advisory lock so the
// hash chain has no forks.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Append stores a new entry at the head of its organisation's chain.
func (r *PostgresRepository) Append(ctx context.Context, entry LogEntry) (_ *Entry, err error) {
	if err := validateLogEntry(entry); err != nil {
		return nil, err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback audit transaction",
				slog.String("error", err.Error()))
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('audit:' || $1))`, entry.OrganisationID); err != nil {
		return nil, fmt.Errorf("failed to lock audit chain: %w", err)
	}

	var previousHash string
	err = tx.QueryRowContext(ctx, `
		SELECT entry_hash FROM audit_entries
		WHERE organisation_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, entry.OrganisationID).Scan(&previousHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read audit chain head: %w", err)
	}

	e, err := newEntry(entry, previousHash)
	if err != nil {
		return nil, err
	}

	oldValue, err := jsonParam(e.OldValue)
	if err != nil {
		return nil, fmt.Errorf("failed to encode old value: %w", err)
	}
	newValue, err := jsonParam(e.NewValue)
	if err != nil {
		return nil, fmt.Errorf("failed to encode new value: %w", err)
	}
	var changes, metadata any
	if len(e.Changes) > 0 {
		if changes, err = jsonParam(e.Changes); err != nil {
			return nil, fmt.Errorf("failed to encode changes: %w", err)
		}
	}
	if len(e.Metadata) > 0 {
		if metadata, err = jsonParam(e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, organisation_id, actor_id, entity_type, entity_id, action, field_name,
			old_value, new_value, changes, metadata,
			ip_address, user_agent, url, request_id,
			previous_hash, entry_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		e.ID, e.OrganisationID, e.ActorID, e.EntityType, e.EntityID, string(e.Action), nullString(e.FieldName),
		oldValue, newValue, changes, metadata,
		nullString(e.IPAddress), nullString(e.UserAgent), nullString(e.URL), nullString(e.RequestID),
		nullString(e.PreviousHash), e.Hash, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit entry: %w", err)
	}

	return e, nil
}

// GetByID returns one entry.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (_ *Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	row := r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return e, nil
}

// TransitionApproval sets the approval tail if the current status equals from.
func (r *PostgresRepository) TransitionApproval(ctx context.Context, id string, from ApprovalStatus, tail ApprovalTail) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	return TransitionApprovalTx(ctx, r.db, id, from, tail)
}

// TransitionApprovalTx performs the conditioned approval-tail update on q, which
// may be a transaction shared with the approval request write.
func TransitionApprovalTx(ctx context.Context, q DBTX, id string, from ApprovalStatus, tail ApprovalTail) error {
	var approvedAt any
	if tail.ApprovedAt != nil {
		approvedAt = tail.ApprovedAt.UTC()
	}
	result, err := q.ExecContext(ctx, `
		UPDATE audit_entries
		SET approval_status = $3, approver_id = $4, approved_at = $5, rejection_reason = $6
		WHERE id = $1 AND approval_status IS NOT DISTINCT FROM $2
	`, id, nullString(string(from)), nullString(string(tail.Status)), nullString(tail.ApproverID), approvedAt, nullString(tail.RejectionReason))
	if err != nil {
		return fmt.Errorf("failed to update approval state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current sql.NullString
	err = q.QueryRowContext(ctx, `SELECT approval_status FROM audit_entries WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read approval state: %w", err)
	}
	return fmt.Errorf("%w: entry %s is %q, expected %q", ErrApprovalConflict, id, current.String, from)
}

// QueryByEntity returns an entity's entries, newest first.
func (r *PostgresRepository) QueryByEntity(ctx context.Context, organisationID, entityType, entityID string, limit int) (_ []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + entryColumns + ` FROM audit_entries
		WHERE organisation_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY seq DESC`
	args := []any{organisationID, entityType, entityID}
	if limit > 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Query returns one page of an organisation's entries, newest first.
func (r *PostgresRepository) Query(ctx context.Context, organisationID string, filter Filter) (_ []*Entry, _ int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	filter = filter.normalized()
	where, args := buildWhere(organisationID, filter)

	var total int
	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM audit_entries WHERE %s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Chain returns all of an organisation's entries oldest first.
func (r *PostgresRepository) Chain(ctx context.Context, organisationID string) (_ []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM audit_entries
		WHERE organisation_id = $1 ORDER BY seq ASC`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit chain: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func buildWhere(organisationID string, f Filter) (string, []any) {
	clauses := []string{"organisation_id = $1"}
	args := []any{organisationID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.ApprovalStatus != "" {
		add("approval_status = $%d", string(f.ApprovalStatus))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if f.Search != "" {
		args = append(args, "%"+escapeLike(f.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(entity_type ILIKE $%[1]d OR entity_id ILIKE $%[1]d OR field_name ILIKE $%[1]d OR rejection_reason ILIKE $%[1]d)", n))
	}

	return strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                                              Entry
		action                                         string
		fieldName, ipAddress, userAgent, url, reqID    sql.NullString
		previousHash, status, approverID, rejectReason sql.NullString
		oldValue, newValue, changes, metadata          []byte
		approvedAt                                     sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.OrganisationID, &e.ActorID, &e.EntityType, &e.EntityID, &action, &fieldName,
		&oldValue, &newValue, &changes, &metadata,
		&ipAddress, &userAgent, &url, &reqID,
		&previousHash, &e.Hash,
		&status, &approverID, &approvedAt, &rejectReason,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Action = Action(action)
	e.FieldName = fieldName.String
	e.IPAddress = ipAddress.String
	e.UserAgent = userAgent.String
	e.URL = url.String
	e.RequestID = reqID.String
	e.PreviousHash = previousHash.String
	e.CreatedAt = e.CreatedAt.UTC()
	e.Approval = ApprovalTail{
		Status:          ApprovalStatus(status.String),
		ApproverID:      approverID.String,
		RejectionReason: rejectReason.String,
	}
	if approvedAt.Valid {
		at := approvedAt.Time.UTC()
		e.Approval.ApprovedAt = &at
	}

	if err := decodeJSON(oldValue, &e.OldValue); err != nil {
		return nil, fmt.Errorf("failed to decode old value: %w", err)
	}
	if err := decodeJSON(newValue, &e.NewValue); err != nil {
		return nil, fmt.Errorf("failed to decode new value: %w", err)
	}
	if err := decodeJSON(changes, &e.Changes); err != nil {
		return nil, fmt.Errorf("failed to decode changes: %w", err)
	}
	if err := decodeJSON(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// jsonParam encodes v for a jsonb column. lib/pq sends []byte as bytea, so the
// document is passed as a string.
func jsonParam(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*InMemoryRepository)(nil)
)
