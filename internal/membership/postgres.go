package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/caregov/internal/tracing"
)

// ErrUnknownReference is returned when the team or role of a membership does
// not exist.
var ErrUnknownReference = errors.New("membership references an unknown team or role")

const membershipColumns = `id, organisation_id, user_id, team_id, role_id, is_primary, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL.
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

func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback membership transaction",
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

// Upsert inserts a membership or updates the existing one for (user, team, role).
func (r *PostgresRepository) Upsert(ctx context.Context, m *Membership) (_ *UpsertResult, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "memberships", tracing.DBOperationUpsert)
	defer func() { endSpan(err) }()

	if err := validate(m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	var result UpsertResult
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if m.IsPrimary {
			if _, err := tx.ExecContext(ctx, `
				UPDATE memberships SET is_primary = FALSE, updated_at = NOW()
				WHERE organisation_id = $1 AND user_id = $2 AND is_primary
				  AND NOT (team_id = $3 AND role_id = $4)
			`, m.OrganisationID, m.UserID, m.TeamID, m.RoleID); err != nil {
				return fmt.Errorf("failed to clear primary membership: %w", err)
			}
		}

		// xmax = 0 only for a freshly inserted row.
		row := tx.QueryRowContext(ctx, `
			INSERT INTO memberships (id, organisation_id, user_id, team_id, role_id, is_primary, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			ON CONFLICT (organisation_id, user_id, team_id, role_id)
			DO UPDATE SET is_primary = EXCLUDED.is_primary, updated_at = NOW()
			RETURNING `+membershipColumns+`, (xmax = 0)
		`, m.ID, m.OrganisationID, m.UserID, m.TeamID, m.RoleID, m.IsPrimary)
		if err := row.Scan(&m.ID, &m.OrganisationID, &m.UserID, &m.TeamID, &m.RoleID, &m.IsPrimary,
			&m.CreatedAt, &m.UpdatedAt, &result.Inserted); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23503" {
				return ErrUnknownReference
			}
			return fmt.Errorf("failed to upsert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.ID = m.ID
	return &result, nil
}

// Remove deletes a membership.
func (r *PostgresRepository) Remove(ctx context.Context, organisationID, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "memberships", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE id = $1 AND organisation_id = $2`, id, organisationID)
	if err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// GetByID retrieves a membership by its UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, organisationID, id string) (_ *Membership, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "memberships", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var m Membership
	err = r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE id = $1 AND organisation_id = $2`,
		id, organisationID).
		Scan(&m.ID, &m.OrganisationID, &m.UserID, &m.TeamID, &m.RoleID, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// ListByUser returns a user's memberships, primary first then oldest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, organisationID, userID string) (_ []*Membership, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "memberships", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return r.query(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE organisation_id = $1 AND user_id = $2
		ORDER BY is_primary DESC, created_at, id
	`, organisationID, userID)
}

// ListByTeam returns a team's memberships, oldest first.
func (r *PostgresRepository) ListByTeam(ctx context.Context, organisationID, teamID string) (_ []*Membership, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "memberships", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return r.query(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE organisation_id = $1 AND team_id = $2
		ORDER BY is_primary DESC, created_at, id
	`, organisationID, teamID)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*Membership, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.OrganisationID, &m.UserID, &m.TeamID, &m.RoleID, &m.IsPrimary, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}
	return out, nil
}

// SetPrimary makes id the user's primary membership.
func (r *PostgresRepository) SetPrimary(ctx context.Context, organisationID, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "memberships", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var userID string
		err := tx.QueryRowContext(ctx,
			`SELECT user_id FROM memberships WHERE id = $1 AND organisation_id = $2 FOR UPDATE`,
			id, organisationID).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMembershipNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE memberships SET is_primary = FALSE, updated_at = NOW()
			WHERE organisation_id = $1 AND user_id = $2 AND is_primary AND id <> $3
		`, organisationID, userID, id); err != nil {
			return fmt.Errorf("failed to clear primary membership: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memberships SET is_primary = TRUE, updated_at = NOW() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to set primary membership: %w", err)
		}
		return nil
	})
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*InMemoryRepository)(nil)
)
