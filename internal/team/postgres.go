package team

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/caregov/internal/tracing"
)

// PostgreSQL error codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const teamColumns = `id, organisation_id, parent_team_id, team_type_id, name, description, active, created_at, updated_at`

// PostgresRepository implements Repository using PostgreSQL. Hierarchy writes for
// one organisation are serialised with a transaction-scoped advisory lock and
// validated against the ancestor chain read inside that transaction.
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

func (r *PostgresRepository) withHierarchyLock(ctx context.Context, organisationID string, fn func(tx *sql.Tx, parents map[string]string) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback hierarchy transaction",
				slog.String("error", err.Error()))
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('teams:' || $1))`, organisationID); err != nil {
		return fmt.Errorf("failed to lock team hierarchy: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, parent_team_id FROM teams WHERE organisation_id = $1`, organisationID)
	if err != nil {
		return fmt.Errorf("failed to read team hierarchy: %w", err)
	}
	parents := make(map[string]string)
	for rows.Next() {
		var id string
		var parent sql.NullString
		if err := rows.Scan(&id, &parent); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan team hierarchy: %w", err)
		}
		parents[id] = parent.String
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating team hierarchy: %w", err)
	}

	if err := fn(tx, parents); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateTeam stores a team after checking its parent and type.
func (r *PostgresRepository) CreateTeam(ctx context.Context, t *Team) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "teams", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	return r.withHierarchyLock(ctx, t.OrganisationID, func(tx *sql.Tx, parents map[string]string) error {
		if t.ParentID != "" {
			if _, ok := parents[t.ParentID]; !ok {
				return ErrTeamNotFound
			}
			if wouldCycle(parents, t.ID, t.ParentID) {
				return ErrCyclicHierarchy
			}
		}
		if err := checkTypeTx(ctx, tx, t.OrganisationID, t.TypeID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO teams (`+teamColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, t.ID, t.OrganisationID, nullString(t.ParentID), nullString(t.TypeID), t.Name, nullString(t.Description),
			t.Active, t.CreatedAt, t.UpdatedAt)
		return mapWriteError(err, "team")
	})
}

func checkTypeTx(ctx context.Context, tx *sql.Tx, organisationID, typeID string) error {
	if typeID == "" {
		return nil
	}
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM team_types WHERE id = $1 AND organisation_id = $2)`,
		typeID, organisationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check team type: %w", err)
	}
	if !exists {
		return ErrTypeNotFound
	}
	return nil
}

// UpdateTeam writes a team's editable fields.
func (r *PostgresRepository) UpdateTeam(ctx context.Context, t *Team) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "teams", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	if t.TypeID != "" {
		var exists bool
		if err = r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM team_types WHERE id = $1 AND organisation_id = $2)`,
			t.TypeID, t.OrganisationID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check team type: %w", err)
		}
		if !exists {
			return ErrTypeNotFound
		}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE teams
		SET name = $3, description = $4, team_type_id = $5, active = $6, updated_at = $7
		WHERE id = $1 AND organisation_id = $2
	`, t.ID, t.OrganisationID, t.Name, nullString(t.Description), nullString(t.TypeID), t.Active, t.UpdatedAt)
	if err := mapWriteError(err, "team"); err != nil {
		return err
	}
	return expectOneRow(result, ErrTeamNotFound)
}

// GetTeam returns one team.
func (r *PostgresRepository) GetTeam(ctx context.Context, organisationID, id string) (_ *Team, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "teams", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	t, err := scanTeam(r.db.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1 AND organisation_id = $2`, id, organisationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return t, nil
}

// ListTeams returns all of an organisation's teams.
func (r *PostgresRepository) ListTeams(ctx context.Context, organisationID string) (_ []*Team, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "teams", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE organisation_id = $1 ORDER BY name`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teams: %w", err)
	}
	return teams, nil
}

// SetParent moves a team under parentID, or to the root when parentID is empty.
func (r *PostgresRepository) SetParent(ctx context.Context, organisationID, id, parentID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "teams", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	return r.withHierarchyLock(ctx, organisationID, func(tx *sql.Tx, parents map[string]string) error {
		if _, ok := parents[id]; !ok {
			return ErrTeamNotFound
		}
		if parentID != "" {
			if _, ok := parents[parentID]; !ok {
				return ErrTeamNotFound
			}
			if wouldCycle(parents, id, parentID) {
				return ErrCyclicHierarchy
			}
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE teams SET parent_team_id = $3, updated_at = NOW() WHERE id = $1 AND organisation_id = $2`,
			id, organisationID, nullString(parentID))
		if err != nil {
			return fmt.Errorf("failed to update team parent: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (*Team, error) {
	var (
		t                     Team
		parent, typeID, descr sql.NullString
	)
	if err := row.Scan(&t.ID, &t.OrganisationID, &parent, &typeID, &t.Name, &descr, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ParentID = parent.String
	t.TypeID = typeID.String
	t.Description = descr.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// CreateType stores a team type.
func (r *PostgresRepository) CreateType(ctx context.Context, t *Type) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_types", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO team_types (id, organisation_id, name, display_order, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.OrganisationID, t.Name, t.DisplayOrder, t.CreatedAt)
	return mapWriteError(err, "team type")
}

// UpdateType renames or reorders a team type.
func (r *PostgresRepository) UpdateType(ctx context.Context, t *Type) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_types", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	result, err := r.db.ExecContext(ctx, `
		UPDATE team_types SET name = $3, display_order = $4
		WHERE id = $1 AND organisation_id = $2
	`, t.ID, t.OrganisationID, t.Name, t.DisplayOrder)
	if err := mapWriteError(err, "team type"); err != nil {
		return err
	}
	return expectOneRow(result, ErrTypeNotFound)
}

// DeleteType removes a team type no team uses.
func (r *PostgresRepository) DeleteType(ctx context.Context, organisationID, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_types", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM team_types WHERE id = $1 AND organisation_id = $2`, id, organisationID)
	if err := mapWriteError(err, "team type"); err != nil {
		return err
	}
	return expectOneRow(result, ErrTypeNotFound)
}

// GetType returns one team type.
func (r *PostgresRepository) GetType(ctx context.Context, organisationID, id string) (_ *Type, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_types", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var t Type
	err = r.db.QueryRowContext(ctx, `
		SELECT id, organisation_id, name, display_order, created_at
		FROM team_types WHERE id = $1 AND organisation_id = $2
	`, id, organisationID).Scan(&t.ID, &t.OrganisationID, &t.Name, &t.DisplayOrder, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team type: %w", err)
	}
	return &t, nil
}

// ListTypes returns an organisation's team types in display order.
func (r *PostgresRepository) ListTypes(ctx context.Context, organisationID string) (_ []*Type, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_types", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organisation_id, name, display_order, created_at
		FROM team_types WHERE organisation_id = $1
		ORDER BY display_order, name
	`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team types: %w", err)
	}
	defer rows.Close()

	var types []*Type
	for rows.Next() {
		var t Type
		if err := rows.Scan(&t.ID, &t.OrganisationID, &t.Name, &t.DisplayOrder, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan team type: %w", err)
		}
		types = append(types, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team types: %w", err)
	}
	return types, nil
}

// CreateRole stores a team role.
func (r *PostgresRepository) CreateRole(ctx context.Context, role *Role) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_roles", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO team_roles (id, organisation_id, name, access_level, display_order, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.OrganisationID, role.Name, string(role.AccessLevel), role.DisplayOrder, role.CreatedAt)
	return mapWriteError(err, "team role")
}

// UpdateRole renames a role or changes its access level or order.
func (r *PostgresRepository) UpdateRole(ctx context.Context, role *Role) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_roles", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	result, err := r.db.ExecContext(ctx, `
		UPDATE team_roles SET name = $3, access_level = $4, display_order = $5
		WHERE id = $1 AND organisation_id = $2
	`, role.ID, role.OrganisationID, role.Name, string(role.AccessLevel), role.DisplayOrder)
	if err := mapWriteError(err, "team role"); err != nil {
		return err
	}
	return expectOneRow(result, ErrRoleNotFound)
}

// DeleteRole removes a team role no membership or rule uses.
func (r *PostgresRepository) DeleteRole(ctx context.Context, organisationID, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_roles", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM team_roles WHERE id = $1 AND organisation_id = $2`, id, organisationID)
	if err := mapWriteError(err, "team role"); err != nil {
		return err
	}
	return expectOneRow(result, ErrRoleNotFound)
}

// GetRole returns one team role.
func (r *PostgresRepository) GetRole(ctx context.Context, organisationID, id string) (_ *Role, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_roles", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	role, err := scanRole(r.db.QueryRowContext(ctx, `
		SELECT id, organisation_id, name, access_level, display_order, created_at
		FROM team_roles WHERE id = $1 AND organisation_id = $2
	`, id, organisationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get team role: %w", err)
	}
	return role, nil
}

// ListRoles returns an organisation's team roles in display order.
func (r *PostgresRepository) ListRoles(ctx context.Context, organisationID string) (_ []*Role, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "team_roles", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, organisation_id, name, access_level, display_order, created_at
		FROM team_roles WHERE organisation_id = $1
		ORDER BY display_order, name
	`, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating team roles: %w", err)
	}
	return roles, nil
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var level string
	if err := row.Scan(&role.ID, &role.OrganisationID, &role.Name, &level, &role.DisplayOrder, &role.CreatedAt); err != nil {
		return nil, err
	}
	role.AccessLevel = AccessLevel(level)
	return &role, nil
}

// mapWriteError turns constraint violations into package errors.
func mapWriteError(err error, what string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return ErrDuplicateName
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", what, ErrInUse)
		}
	}
	return fmt.Errorf("failed to write %s: %w", what, err)
}

func expectOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*InMemoryRepository)(nil)
)
