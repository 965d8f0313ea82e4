package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/tracing"
)

const ruleColumns = `
	id, organisation_id, entity_type, action, field_name, approval_type,
	required_role_id, manager_level, condition, active, priority,
	created_by, created_at, updated_at`

// PostgresRuleRepository implements RuleRepository using PostgreSQL.
type PostgresRuleRepository struct {
	db *sql.DB
}

// NewPostgresRuleRepository creates a new PostgresRuleRepository.
func NewPostgresRuleRepository(db *sql.DB) *PostgresRuleRepository {
	return &PostgresRuleRepository{db: db}
}

// Create stores a rule.
func (r *PostgresRuleRepository) Create(ctx context.Context, rule *Rule) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_rules", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	condition, err := encodeCondition(rule.Condition)
	if err != nil {
		return err
	}
	field, _ := rule.Scope.Field()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approval_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		rule.ID, rule.OrganisationID, rule.EntityType, string(rule.Action), nullString(field), string(rule.ApprovalType),
		nullString(rule.RequiredRoleID), rule.ManagerLevel, condition, rule.Active, rule.Priority,
		rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval rule: %w", err)
	}
	return nil
}

// Update replaces a rule's editable fields.
func (r *PostgresRuleRepository) Update(ctx context.Context, rule *Rule) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_rules", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	condition, err := encodeCondition(rule.Condition)
	if err != nil {
		return err
	}
	field, _ := rule.Scope.Field()
	result, err := r.db.ExecContext(ctx, `
		UPDATE approval_rules
		SET entity_type = $3, action = $4, field_name = $5, approval_type = $6,
		    required_role_id = $7, manager_level = $8, condition = $9, active = $10,
		    priority = $11, updated_at = $12
		WHERE id = $1 AND organisation_id = $2
	`,
		rule.ID, rule.OrganisationID, rule.EntityType, string(rule.Action), nullString(field), string(rule.ApprovalType),
		nullString(rule.RequiredRoleID), rule.ManagerLevel, condition, rule.Active,
		rule.Priority, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update approval rule: %w", err)
	}
	return expectOneRow(result, ErrRuleNotFound)
}

// Delete removes a rule.
func (r *PostgresRuleRepository) Delete(ctx context.Context, organisationID, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_rules", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM approval_rules WHERE id = $1 AND organisation_id = $2`, id, organisationID)
	if err != nil {
		return fmt.Errorf("failed to delete approval rule: %w", err)
	}
	return expectOneRow(result, ErrRuleNotFound)
}

// Get returns one rule.
func (r *PostgresRuleRepository) Get(ctx context.Context, organisationID, id string) (_ *Rule, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_rules", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rule, err := scanRule(r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM approval_rules WHERE id = $1 AND organisation_id = $2`, id, organisationID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval rule: %w", err)
	}
	return rule, nil
}

// List returns all of an organisation's rules.
func (r *PostgresRuleRepository) List(ctx context.Context, organisationID string) (_ []*Rule, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_rules", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return r.query(ctx, `SELECT `+ruleColumns+` FROM approval_rules
		WHERE organisation_id = $1 ORDER BY entity_type, created_at`, organisationID)
}

// ListForEntity returns the organisation's rules for one entity type.
func (r *PostgresRuleRepository) ListForEntity(ctx context.Context, organisationID, entityType string) (_ []*Rule, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "approval_rules", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return r.query(ctx, `SELECT `+ruleColumns+` FROM approval_rules
		WHERE organisation_id = $1 AND entity_type = $2`, organisationID, entityType)
}

func (r *PostgresRuleRepository) query(ctx context.Context, query string, args ...any) ([]*Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval rules: %w", err)
	}
	return rules, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule                  Rule
		action, approvalType  string
		field, requiredRoleID sql.NullString
		condition             []byte
	)
	err := row.Scan(
		&rule.ID, &rule.OrganisationID, &rule.EntityType, &action, &field, &approvalType,
		&requiredRoleID, &rule.ManagerLevel, &condition, &rule.Active, &rule.Priority,
		&rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Action = audit.Action(action)
	rule.ApprovalType = ApprovalType(approvalType)
	rule.Scope = FieldScope(field.String)
	rule.RequiredRoleID = requiredRoleID.String
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	if len(condition) > 0 {
		rule.Condition = &Condition{}
		if err := json.Unmarshal(condition, rule.Condition); err != nil {
			return nil, fmt.Errorf("failed to decode rule condition: %w", err)
		}
	}
	return &rule, nil
}

func encodeCondition(c *Condition) (any, error) {
	if c == nil {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rule condition: %w", err)
	}
	return string(data), nil
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
