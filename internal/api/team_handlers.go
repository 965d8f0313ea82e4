package api

import (
	"net/http"
	"strconv"

	"github.com/onnwee/caregov/internal/governance"
	"github.com/onnwee/caregov/internal/middleware"
	"github.com/onnwee/caregov/internal/team"
)

// TeamHandlers serves the team hierarchy, team types and team roles. Reads are
// open to any member of the organisation; writes require an administrator.
type TeamHandlers struct {
	hierarchy  *team.Hierarchy
	governance *governance.Service
}

// NewTeamHandlers creates a new TeamHandlers instance.
func NewTeamHandlers(hierarchy *team.Hierarchy, gov *governance.Service) *TeamHandlers {
	return &TeamHandlers{hierarchy: hierarchy, governance: gov}
}

type teamList struct {
	Teams []*team.Team `json:"teams"`
}

type createTeamRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParentID    string `json:"parent_id"`
	TypeID      string `json:"type_id"`
}

type updateTeamRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	TypeID      *string `json:"type_id"`
}

type setParentRequest struct {
	ParentID string `json:"parent_id"`
}

type pathResponse struct {
	Path  []*team.Team `json:"path"`
	Label string       `json:"label"`
}

type descendantsResponse struct {
	TeamIDs []string `json:"team_ids"`
}

// ListTeams handles GET /teams. Administrators see every team; other members
// see the teams inside their access scope.
func (h *TeamHandlers) ListTeams(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	teams, err := h.hierarchy.ListTeams(r.Context(), actor.OrganisationID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list teams")
		return
	}

	if !actor.Admin {
		scope, err := h.governance.AccessScope(r.Context())
		if err != nil {
			writeServiceError(w, r, err, "Failed to resolve access scope")
			return
		}
		visible := make([]*team.Team, 0, len(teams))
		for _, t := range teams {
			if scope.Contains(t.ID) {
				visible = append(visible, t)
			}
		}
		teams = visible
	}
	if teams == nil {
		teams = []*team.Team{}
	}
	writeJSON(w, r, http.StatusOK, teamList{Teams: teams})
}

// CreateTeam handles POST /teams.
func (h *TeamHandlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req createTeamRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.hierarchy.CreateTeam(r.Context(), team.Team{
		OrganisationID: actor.OrganisationID,
		ParentID:       req.ParentID,
		TypeID:         req.TypeID,
		Name:           req.Name,
		Description:    req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to create team")
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// UpdateTeam handles PUT /teams/{id}. Absent fields are left unchanged.
func (h *TeamHandlers) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req updateTeamRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.hierarchy.UpdateTeam(r.Context(), actor.OrganisationID, r.PathValue("id"), team.TeamUpdate{
		Name:        req.Name,
		Description: req.Description,
		TypeID:      req.TypeID,
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to update team")
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// SetParent handles PUT /teams/{id}/parent. An empty parent_id makes the team
// a root. A cyclic assignment is rejected with cyclic_hierarchy.
func (h *TeamHandlers) SetParent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req setParentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if err := h.hierarchy.Move(r.Context(), actor.OrganisationID, id, req.ParentID); err != nil {
		writeServiceError(w, r, err, "Failed to move team")
		return
	}
	moved, err := h.hierarchy.GetTeam(r.Context(), actor.OrganisationID, id)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load team")
		return
	}
	writeJSON(w, r, http.StatusOK, moved)
}

// Deactivate handles POST /teams/{id}/deactivate.
func (h *TeamHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Reactivate handles POST /teams/{id}/reactivate.
func (h *TeamHandlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *TeamHandlers) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var (
		t   *team.Team
		err error
	)
	if active {
		t, err = h.hierarchy.Reactivate(r.Context(), actor.OrganisationID, r.PathValue("id"))
	} else {
		t, err = h.hierarchy.Deactivate(r.Context(), actor.OrganisationID, r.PathValue("id"))
	}
	if err != nil {
		writeServiceError(w, r, err, "Failed to change team state")
		return
	}
	writeJSON(w, r, http.StatusOK, t)
}

// Path handles GET /teams/{id}/path: the ancestors from the root down to the
// team, and its display label.
func (h *TeamHandlers) Path(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.visibleTeam(w, r)
	if !ok {
		return
	}
	path, err := h.hierarchy.AncestorPath(r.Context(), actor.OrganisationID, id)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load team path")
		return
	}
	label, err := h.hierarchy.Label(r.Context(), actor.OrganisationID, id)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load team label")
		return
	}
	writeJSON(w, r, http.StatusOK, pathResponse{Path: path, Label: label})
}

// Descendants handles GET /teams/{id}/descendants?include_self=true.
func (h *TeamHandlers) Descendants(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.visibleTeam(w, r)
	if !ok {
		return
	}
	includeSelf, _ := strconv.ParseBool(r.URL.Query().Get("include_self"))
	ids, err := h.hierarchy.Descendants(r.Context(), actor.OrganisationID, id, includeSelf)
	if err != nil {
		writeServiceError(w, r, err, "Failed to load descendants")
		return
	}
	writeJSON(w, r, http.StatusOK, descendantsResponse{TeamIDs: ids.Sorted()})
}

// visibleTeam applies the visibility rule to the team named in the path.
func (h *TeamHandlers) visibleTeam(w http.ResponseWriter, r *http.Request) (middleware.Actor, string, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return actor, "", false
	}
	id := r.PathValue("id")
	if !actor.Admin {
		if err := h.governance.Authorize(r.Context(), id); err != nil {
			writeServiceError(w, r, err, "Failed to authorise team access")
			return actor, "", false
		}
	}
	return actor, id, true
}

type typeRequest struct {
	Name         string `json:"name"`
	DisplayOrder int    `json:"display_order"`
}

type typeList struct {
	Types []*team.Type `json:"types"`
}

// ListTypes handles GET /team-types.
func (h *TeamHandlers) ListTypes(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	types, err := h.hierarchy.ListTypes(r.Context(), actor.OrganisationID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list team types")
		return
	}
	if types == nil {
		types = []*team.Type{}
	}
	writeJSON(w, r, http.StatusOK, typeList{Types: types})
}

// CreateType handles POST /team-types.
func (h *TeamHandlers) CreateType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req typeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	created, err := h.hierarchy.CreateType(r.Context(), actor.OrganisationID, req.Name, req.DisplayOrder)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create team type")
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// UpdateType handles PUT /team-types/{id}.
func (h *TeamHandlers) UpdateType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req typeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := h.hierarchy.UpdateType(r.Context(), actor.OrganisationID, r.PathValue("id"), req.Name, req.DisplayOrder)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update team type")
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// DeleteType handles DELETE /team-types/{id}. A type still used by a team is
// a conflict.
func (h *TeamHandlers) DeleteType(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	if err := h.hierarchy.DeleteType(r.Context(), actor.OrganisationID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, "Failed to delete team type")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type roleRequest struct {
	Name         string           `json:"name"`
	AccessLevel  team.AccessLevel `json:"access_level"`
	DisplayOrder int              `json:"display_order"`
}

type roleList struct {
	Roles []*team.Role `json:"roles"`
}

// ListRoles handles GET /team-roles.
func (h *TeamHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	roles, err := h.hierarchy.ListRoles(r.Context(), actor.OrganisationID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list team roles")
		return
	}
	if roles == nil {
		roles = []*team.Role{}
	}
	writeJSON(w, r, http.StatusOK, roleList{Roles: roles})
}

// CreateRole handles POST /team-roles. An absent access_level means team.
func (h *TeamHandlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	created, err := h.hierarchy.CreateRole(r.Context(), actor.OrganisationID, req.Name, req.AccessLevel, req.DisplayOrder)
	if err != nil {
		writeServiceError(w, r, err, "Failed to create team role")
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

// UpdateRole handles PUT /team-roles/{id}.
func (h *TeamHandlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := h.hierarchy.UpdateRole(r.Context(), actor.OrganisationID, r.PathValue("id"), req.Name, req.AccessLevel, req.DisplayOrder)
	if err != nil {
		writeServiceError(w, r, err, "Failed to update team role")
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// DeleteRole handles DELETE /team-roles/{id}. A role still held through a
// membership or required by a rule is a conflict.
func (h *TeamHandlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	if err := h.hierarchy.DeleteRole(r.Context(), actor.OrganisationID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, "Failed to delete team role")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
