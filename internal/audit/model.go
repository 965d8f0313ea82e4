// Package audit implements the change ledger: an append-only record of every
// mutation to a governed entity, with a small mutable approval tail that the
// approval queue closes exactly once.
package audit

import (
	"time"
)

// Action is the kind of state change an entry records.
type Action string

// Recorded actions.
const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Valid reports whether a is one of the recorded actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionApprove, ActionReject:
		return true
	}
	return false
}

// ApprovalStatus is the state of an entry's approval tail. The empty value means
// no approval was ever required.
type ApprovalStatus string

// Approval tail states.
const (
	ApprovalNone     ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// FieldChange is one entry of a structured multi-field diff.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ApprovalTail is the only mutable part of an Entry.
type ApprovalTail struct {
	Status          ApprovalStatus `json:"status,omitempty"`
	ApproverID      string         `json:"approver_id,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// Entry is one recorded state change attempt. Every field except Approval is
// written once at append time.
type Entry struct {
	ID             string                 `json:"id"`
	OrganisationID string                 `json:"organisation_id"`
	ActorID        string                 `json:"actor_id"`
	EntityType     string                 `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	Action         Action                 `json:"action"`
	FieldName      string                 `json:"field_name,omitempty"`
	OldValue       any                    `json:"old_value,omitempty"`
	NewValue       any                    `json:"new_value,omitempty"`
	Changes        map[string]FieldChange `json:"changes,omitempty"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	URL       string `json:"url,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Tamper evidence. PreviousHash is the Hash of the organisation's preceding entry.
	PreviousHash string `json:"previous_hash,omitempty"`
	Hash         string `json:"hash"`

	Approval ApprovalTail `json:"approval"`
}

// LogEntry is the input for appending an entry.
type LogEntry struct {
	OrganisationID string
	ActorID        string
	EntityType     string
	EntityID       string
	Action         Action
	FieldName      string
	OldValue       any
	NewValue       any
	Changes        map[string]FieldChange
	Metadata       map[string]any

	IPAddress string
	UserAgent string
	URL       string
	RequestID string
}

// Filter narrows an organisation-wide query. Zero values mean "no constraint".
type Filter struct {
	EntityType     string
	EntityID       string
	Action         Action
	ActorID        string
	ApprovalStatus ApprovalStatus
	From           time.Time // inclusive
	To             time.Time // inclusive
	Search         string    // case-insensitive match on entity id/type, field name, rejection reason
	Limit          int
	Offset         int
}

// Page is one page of query results, newest first.
type Page struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Pagination bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
