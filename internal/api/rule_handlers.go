package api

import (
	"net/http"

	"github.com/onnwee/caregov/internal/approval"
	"github.com/onnwee/caregov/internal/audit"
)

// RuleHandlers serves approval rule administration. Every endpoint requires an
// organisation administrator.
type RuleHandlers struct {
	engine *approval.Engine
}

// NewRuleHandlers creates a new RuleHandlers instance.
func NewRuleHandlers(engine *approval.Engine) *RuleHandlers {
	return &RuleHandlers{engine: engine}
}

// ruleRequest is the editable part of a rule. A null or absent field makes a
// whole-entity rule; an absent active flag means active.
type ruleRequest struct {
	EntityType     string                `json:"entity_type"`
	Action         audit.Action          `json:"action"`
	Field          approval.Scope        `json:"field"`
	ApprovalType   approval.ApprovalType `json:"approval_type"`
	RequiredRoleID string                `json:"required_role_id"`
	ManagerLevel   int                   `json:"manager_level"`
	Condition      *approval.Condition   `json:"condition"`
	Active         *bool                 `json:"active"`
	Priority       int                   `json:"priority"`
}

func (req ruleRequest) rule(organisationID string) *approval.Rule {
	active := req.Active == nil || *req.Active
	return &approval.Rule{
		OrganisationID: organisationID,
		EntityType:     req.EntityType,
		Action:         req.Action,
		Scope:          req.Field,
		ApprovalType:   req.ApprovalType,
		RequiredRoleID: req.RequiredRoleID,
		ManagerLevel:   req.ManagerLevel,
		Condition:      req.Condition,
		Active:         active,
		Priority:       req.Priority,
	}
}

// ruleList is the envelope for rule listings.
type ruleList struct {
	Rules []*approval.Rule `json:"rules"`
}

// List handles GET /approval-rules.
func (h *RuleHandlers) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	rules, err := h.engine.ListRules(r.Context(), actor.OrganisationID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list approval rules")
		return
	}
	if rules == nil {
		rules = []*approval.Rule{}
	}
	writeJSON(w, r, http.StatusOK, ruleList{Rules: rules})
}

// Create handles POST /approval-rules.
func (h *RuleHandlers) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule := req.rule(actor.OrganisationID)
	rule.CreatedBy = actor.UserID
	created, err := h.engine.CreateRule(r.Context(), rule)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create approval rule")
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// Update handles PUT /approval-rules/{id}.
func (h *RuleHandlers) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule := req.rule(actor.OrganisationID)
	rule.ID = r.PathValue("id")
	updated, err := h.engine.UpdateRule(r.Context(), rule)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update approval rule")
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// Delete handles DELETE /approval-rules/{id}.
func (h *RuleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteRule(r.Context(), actor.OrganisationID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, "Failed to delete approval rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
