package approval

import (
	"errors"
	"time"
)

var (
	// ErrRequestNotFound is returned when a request does not exist in the organisation.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrNotPending is returned when resolving a request that is already resolved.
	// It signals a lost race or stale view and must not be retried.
	ErrNotPending = errors.New("approval request is not pending")

	// ErrNotAuthorised is returned when the actor is not the request's approver.
	ErrNotAuthorised = errors.New("not authorised to resolve approval request")

	// ErrAlreadyPending is returned when a ledger entry already has a pending request.
	ErrAlreadyPending = errors.New("audit entry already has a pending approval request")

	// ErrNoApprover is returned when no approver can be determined for a rule.
	ErrNoApprover = errors.New("no approver available")

	// ErrInvalidDecision is returned for a decision other than approve or reject.
	ErrInvalidDecision = errors.New("invalid approval decision")
)

// Status is the state of a request. Approved and rejected are terminal.
type Status string

// Request states.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Decision is an approver's verdict.
type Decision string

// Decisions.
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) status() (Status, error) {
	switch d {
	case DecisionApprove:
		return StatusApproved, nil
	case DecisionReject:
		return StatusRejected, nil
	}
	return "", ErrInvalidDecision
}

// ApproverType says how the approver specification is matched.
type ApproverType string

// Approver types.
const (
	ApproverUser    ApproverType = "user"
	ApproverManager ApproverType = "manager"
	ApproverRole    ApproverType = "role"
)

// ApproverSpec names who may resolve a request. User and manager specs carry a
// concrete user; role specs carry a team role.
type ApproverSpec struct {
	Type     ApproverType `json:"type"`
	UserID   string       `json:"user_id,omitempty"`
	RoleID   string       `json:"role_id,omitempty"`
	RoleName string       `json:"role_name,omitempty"`
}

// Request is one decision tied to a ledger entry.
type Request struct {
	ID              string       `json:"id"`
	OrganisationID  string       `json:"organisation_id"`
	AuditEntryID    string       `json:"audit_entry_id"`
	RuleID          string       `json:"rule_id"`
	EntityType      string       `json:"entity_type"`
	EntityID        string       `json:"entity_id"`
	RequesterID     string       `json:"requester_id"`
	Approver        ApproverSpec `json:"approver"`
	Status          Status       `json:"status"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
	ResolvedBy      string       `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Expired reports whether the request's expiry is at or before now.
func (r *Request) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Resolution is the terminal state written by a resolve.
type Resolution struct {
	Status          Status
	ResolvedBy      string
	ResolvedAt      time.Time
	RejectionReason string
}

// PendingQuery selects pending requests. With no UserID and no RoleIDs it
// selects the whole organisation's queue.
type PendingQuery struct {
	UserID  string
	RoleIDs []string
	Now     time.Time // requests expired at Now are excluded; zero means the current time
}

func (q PendingQuery) now() time.Time {
	if q.Now.IsZero() {
		return time.Now().UTC()
	}
	return q.Now
}

func (q PendingQuery) addressedTo(req *Request) bool {
	if q.UserID == "" && len(q.RoleIDs) == 0 {
		return true
	}
	switch req.Approver.Type {
	case ApproverUser, ApproverManager:
		return q.UserID != "" && req.Approver.UserID == q.UserID
	case ApproverRole:
		for _, id := range q.RoleIDs {
			if id == req.Approver.RoleID {
				return true
			}
		}
	}
	return false
}

func copyRequest(r *Request) *Request {
	c := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
