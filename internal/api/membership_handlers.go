package api

import (
	"net/http"

	"github.com/onnwee/caregov/internal/governance"
	"github.com/onnwee/caregov/internal/membership"
)

// MembershipHandlers holds dependencies for membership HTTP handlers.
type MembershipHandlers struct {
	memberships *membership.Service
	governance  *governance.Service
}

// NewMembershipHandlers creates a new MembershipHandlers instance.
func NewMembershipHandlers(memberships *membership.Service, gov *governance.Service) *MembershipHandlers {
	return &MembershipHandlers{memberships: memberships, governance: gov}
}

type addMembershipRequest struct {
	UserID  string `json:"user_id"`
	TeamID  string `json:"team_id"`
	RoleID  string `json:"role_id"`
	Primary bool   `json:"primary"`
}

type membershipList struct {
	Memberships []*membership.Membership `json:"memberships"`
}

// Add handles POST /memberships. Administrators only. Repeating an existing
// (user, team, role) updates only its primary flag.
func (h *MembershipHandlers) Add(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req addMembershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.memberships.Add(r.Context(), actor.OrganisationID, req.UserID, req.TeamID, req.RoleID, req.Primary)
	if err != nil {
		writeServiceError(w, r, err, "Failed to add membership")
		return
	}
	writeJSON(w, r, http.StatusCreated, m)
}

// Remove handles DELETE /memberships/{id}. Administrators only.
func (h *MembershipHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	if err := h.memberships.Remove(r.Context(), actor.OrganisationID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, "Failed to remove membership")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPrimary handles POST /memberships/{id}/primary. Administrators only.
func (h *MembershipHandlers) SetPrimary(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	if err := h.memberships.SetPrimary(r.Context(), actor.OrganisationID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, "Failed to set primary membership")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListByTeam handles GET /teams/{id}/memberships.
func (h *MembershipHandlers) ListByTeam(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	teamID := r.PathValue("id")
	if !actor.Admin {
		if err := h.governance.Authorize(r.Context(), teamID); err != nil {
			writeServiceError(w, r, err, "Failed to authorise team access")
			return
		}
	}
	ms, err := h.memberships.ListByTeam(r.Context(), actor.OrganisationID, teamID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list memberships")
		return
	}
	writeJSON(w, r, http.StatusOK, membershipList{Memberships: nonNil(ms)})
}

// Mine handles GET /me/memberships, primary first.
func (h *MembershipHandlers) Mine(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ms, err := h.memberships.ListByUser(r.Context(), actor.OrganisationID, actor.UserID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list memberships")
		return
	}
	writeJSON(w, r, http.StatusOK, membershipList{Memberships: nonNil(ms)})
}

// AccessScope handles GET /me/access-scope: {"all":true} or the team ids
// the caller can see.
func (h *MembershipHandlers) AccessScope(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	scope, err := h.governance.AccessScope(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Failed to resolve access scope")
		return
	}
	writeJSON(w, r, http.StatusOK, scope)
}

func nonNil(ms []*membership.Membership) []*membership.Membership {
	if ms == nil {
		return []*membership.Membership{}
	}
	return ms
}
