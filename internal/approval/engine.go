package approval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/caregov/internal/audit"
)

// Change describes a mutation for rule evaluation.
type Change struct {
	EntityType string
	Action     audit.Action
	FieldName  string   // empty for whole-entity changes
	Payload    *Payload // nil when no payload is available
}

// compareRules orders rules best first: field rules before whole-entity rules,
// then higher priority, then earlier creation, then exact action before the
// wildcard, then ID.
func compareRules(a, b *Rule) int {
	if c := cmp.Compare(b.Scope.specificity(), a.Scope.specificity()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	aWild, bWild := a.Action == ActionAny, b.Action == ActionAny
	if aWild != bWild {
		if aWild {
			return 1
		}
		return -1
	}
	return strings.Compare(a.ID, b.ID)
}

// SelectEffective returns the rule that governs change among rules, or nil when
// no gating applies: either no rule matches or the effective rule is self
// approval. It depends only on its arguments.
func SelectEffective(rules []*Rule, change Change) *Rule {
	var candidates []*Rule
	for _, r := range rules {
		if !r.Active ||
			r.EntityType != change.EntityType ||
			!r.matchesAction(change.Action) ||
			!r.Scope.Covers(change.FieldName) {
			continue
		}
		if r.Condition != nil && !r.Condition.Matches(change.Payload) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}

	best := slices.MinFunc(candidates, compareRules)
	if best.ApprovalType == ApprovalSelf {
		return nil
	}
	return best
}

// Engine evaluates and administers an organisation's approval rules.
type Engine struct {
	rules  RuleRepository
	logger *slog.Logger
}

// NewEngine creates a rule engine.
func NewEngine(rules RuleRepository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, logger: logger}
}

// Evaluate returns the effective rule for (entityType, action, fieldName) or nil
// when the actor may ratify the change themselves. Conditioned rules never
// apply here since there is no payload to test.
func (e *Engine) Evaluate(ctx context.Context, organisationID, entityType string, action audit.Action, fieldName string) (*Rule, error) {
	return e.EvaluateChange(ctx, organisationID, Change{
		EntityType: entityType,
		Action:     action,
		FieldName:  fieldName,
	})
}

// EvaluateChange is Evaluate with a payload for conditioned rules.
func (e *Engine) EvaluateChange(ctx context.Context, organisationID string, change Change) (*Rule, error) {
	rules, err := e.rules.ListForEntity(ctx, organisationID, change.EntityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load approval rules: %w", err)
	}

	rule := SelectEffective(rules, change)
	if rule != nil {
		e.logger.DebugContext(ctx, "approval required",
			slog.String("organisation_id", organisationID),
			slog.String("entity_type", change.EntityType),
			slog.String("action", string(change.Action)),
			slog.String("field", change.FieldName),
			slog.String("rule_id", rule.ID),
			slog.String("approval_type", string(rule.ApprovalType)))
	}
	return rule, nil
}

// CreateRule validates and stores a new rule.
func (e *Engine) CreateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rule.ID = uuid.New().String()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := e.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "approval rule created",
		slog.String("organisation_id", rule.OrganisationID),
		slog.String("rule_id", rule.ID),
		slog.String("entity_type", rule.EntityType))
	return rule, nil
}

// UpdateRule replaces the editable fields of an existing rule.
func (e *Engine) UpdateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	existing, err := e.rules.Get(ctx, rule.OrganisationID, rule.ID)
	if err != nil {
		return nil, err
	}
	rule.CreatedBy = existing.CreatedBy
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	if err := e.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule.
func (e *Engine) DeleteRule(ctx context.Context, organisationID, id string) error {
	return e.rules.Delete(ctx, organisationID, id)
}

// GetRule returns one rule.
func (e *Engine) GetRule(ctx context.Context, organisationID, id string) (*Rule, error) {
	return e.rules.Get(ctx, organisationID, id)
}

// ListRules returns an organisation's rules ordered by entity type, then best first.
func (e *Engine) ListRules(ctx context.Context, organisationID string) ([]*Rule, error) {
	rules, err := e.rules.List(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(rules, func(a, b *Rule) int {
		if c := strings.Compare(a.EntityType, b.EntityType); c != 0 {
			return c
		}
		return compareRules(a, b)
	})
	return rules, nil
}
