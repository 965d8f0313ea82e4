package api

import (
	"net/http"
	"strings"

	"github.com/onnwee/caregov/internal/approval"
)

// ApprovalHandlers serves the approval queue.
type ApprovalHandlers struct {
	queue *approval.Queue
}

// NewApprovalHandlers creates a new ApprovalHandlers instance.
func NewApprovalHandlers(queue *approval.Queue) *ApprovalHandlers {
	return &ApprovalHandlers{queue: queue}
}

// requestList is the envelope for request listings.
type requestList struct {
	Requests []*approval.Request `json:"requests"`
}

// resolveRequest is the body of an approve or reject call.
type resolveRequest struct {
	Reason string `json:"reason"`
}

// PendingForUser handles GET /approvals/pending.
// Lists the unexpired requests the caller may resolve.
func (h *ApprovalHandlers) PendingForUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	reqs, err := h.queue.PendingForUser(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list pending approvals")
		return
	}
	writeJSON(w, r, http.StatusOK, requestList{Requests: reqs})
}

// PendingForOrganisation handles GET /approvals/organisation.
// Administrators only.
func (h *ApprovalHandlers) PendingForOrganisation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	reqs, err := h.queue.PendingForOrganisation(r.Context(), actor.OrganisationID)
	if err != nil {
		writeServiceError(w, r, err, "Failed to list pending approvals")
		return
	}
	writeJSON(w, r, http.StatusOK, requestList{Requests: reqs})
}

// Approve handles POST /approvals/{id}/approve.
func (h *ApprovalHandlers) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, approval.DecisionApprove)
}

// Reject handles POST /approvals/{id}/reject. The body may carry a reason.
func (h *ApprovalHandlers) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, approval.DecisionReject)
}

func (h *ApprovalHandlers) resolve(w http.ResponseWriter, r *http.Request, decision approval.Decision) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body resolveRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &body) {
			return
		}
	}

	resolved, err := h.queue.Resolve(r.Context(), r.PathValue("id"), decision, actor, strings.TrimSpace(body.Reason))
	if err != nil {
		writeServiceError(w, r, err, "Failed to resolve approval request")
		return
	}
	writeJSON(w, r, http.StatusOK, resolved)
}
