// Package approval implements the approval rule engine and the approval request
// queue that ratifies gated changes recorded in the ledger.
package approval

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/caregov/internal/audit"
)

var (
	// ErrRuleNotFound is returned when a rule does not exist in the organisation.
	ErrRuleNotFound = errors.New("approval rule not found")

	// ErrInvalidRule is returned when a rule fails validation.
	ErrInvalidRule = errors.New("invalid approval rule")
)

// ActionAny is the wildcard action: the rule applies to every action.
const ActionAny audit.Action = "*"

// ApprovalType decides who must ratify a change.
type ApprovalType string

// Approval types.
const (
	ApprovalSelf    ApprovalType = "self"
	ApprovalManager ApprovalType = "manager"
	ApprovalRole    ApprovalType = "role"
)

// Valid reports whether t is a known approval type.
func (t ApprovalType) Valid() bool {
	switch t {
	case ApprovalSelf, ApprovalManager, ApprovalRole:
		return true
	}
	return false
}

// Scope is what part of an entity a rule covers: the whole entity or a single
// named field. The zero value is WholeEntity.
type Scope struct {
	field string
}

// WholeEntity returns the scope covering every change to an entity.
func WholeEntity() Scope { return Scope{} }

// FieldScope returns the scope covering changes to one named field.
func FieldScope(name string) Scope { return Scope{field: name} }

// Field returns the field name and true for a field scope.
func (s Scope) Field() (string, bool) {
	return s.field, s.field != ""
}

// IsWholeEntity reports whether s covers the whole entity.
func (s Scope) IsWholeEntity() bool { return s.field == "" }

// Covers reports whether a change to field (empty for whole-entity changes)
// falls under s.
func (s Scope) Covers(field string) bool {
	return s.field == "" || s.field == field
}

func (s Scope) specificity() int {
	if s.field == "" {
		return 0
	}
	return 1
}

func (s Scope) String() string {
	if s.field == "" {
		return "*"
	}
	return s.field
}

// MarshalJSON encodes a whole-entity scope as null and a field scope as its name.
func (s Scope) MarshalJSON() ([]byte, error) {
	if s.field == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s.field)
}

// UnmarshalJSON accepts null, "" or a field name.
func (s *Scope) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = WholeEntity()
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("scope must be a field name or null: %w", err)
	}
	*s = FieldScope(strings.TrimSpace(name))
	return nil
}

// Rule is an organisation's approval policy for an entity type and action.
type Rule struct {
	ID             string       `json:"id"`
	OrganisationID string       `json:"organisation_id"`
	EntityType     string       `json:"entity_type"`
	Action         audit.Action `json:"action"`
	Scope          Scope        `json:"field"`
	ApprovalType   ApprovalType `json:"approval_type"`
	RequiredRoleID string       `json:"required_role_id,omitempty"`
	ManagerLevel   int          `json:"manager_level,omitempty"`
	Condition      *Condition   `json:"condition,omitempty"`
	Active         bool         `json:"active"`
	Priority       int          `json:"priority"`
	CreatedBy      string       `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Validate checks the rule's own fields.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.EntityType) == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidRule)
	}
	if r.Action != ActionAny && !r.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, r.Action)
	}
	if !r.ApprovalType.Valid() {
		return fmt.Errorf("%w: unknown approval type %q", ErrInvalidRule, r.ApprovalType)
	}
	switch r.ApprovalType {
	case ApprovalRole:
		if r.RequiredRoleID == "" {
			return fmt.Errorf("%w: role approval requires a role", ErrInvalidRule)
		}
	case ApprovalManager:
		if r.ManagerLevel < 1 {
			return fmt.Errorf("%w: manager level must be at least 1", ErrInvalidRule)
		}
	}
	if r.Condition != nil {
		if err := r.Condition.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
	}
	return nil
}

func (r *Rule) matchesAction(action audit.Action) bool {
	return r.Action == ActionAny || r.Action == action
}

func copyRule(r *Rule) *Rule {
	c := *r
	if r.Condition != nil {
		cond := *r.Condition
		c.Condition = &cond
	}
	return &c
}
