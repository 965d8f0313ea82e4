package audit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrEntryNotFound is returned when an entry does not exist.
	ErrEntryNotFound = errors.New("audit entry not found")

	// ErrApprovalConflict is returned when an entry's approval tail is not in the
	// expected state for a transition.
	ErrApprovalConflict = errors.New("audit entry approval state changed concurrently")

	// ErrInvalidEntry is returned when an entry lacks its identifying fields.
	ErrInvalidEntry = errors.New("invalid audit entry")
)

// Repository stores ledger entries. Entries are never updated except for their
// approval tail and never deleted.
type Repository interface {
	// Append stores a new entry, assigning its ID, timestamp and chain hashes.
	Append(ctx context.Context, entry LogEntry) (*Entry, error)

	// GetByID returns one entry or ErrEntryNotFound.
	GetByID(ctx context.Context, id string) (*Entry, error)

	// TransitionApproval sets the approval tail of an entry only if its current
	// status equals from. Returns ErrApprovalConflict otherwise.
	TransitionApproval(ctx context.Context, id string, from ApprovalStatus, tail ApprovalTail) error

	// QueryByEntity returns the entries for one entity, newest first.
	// Limit 0 means no limit.
	QueryByEntity(ctx context.Context, organisationID, entityType, entityID string, limit int) ([]*Entry, error)

	// Query returns one page of an organisation's entries, newest first, and the
	// total number of entries matching the filter.
	Query(ctx context.Context, organisationID string, filter Filter) ([]*Entry, int, error)

	// Chain returns all of an organisation's entries oldest first.
	Chain(ctx context.Context, organisationID string) ([]*Entry, error)
}

func validateLogEntry(entry LogEntry) error {
	switch {
	case entry.OrganisationID == "":
		return fmt.Errorf("%w: organisation id is required", ErrInvalidEntry)
	case entry.ActorID == "":
		return fmt.Errorf("%w: actor id is required", ErrInvalidEntry)
	case entry.EntityType == "" || entry.EntityID == "":
		return fmt.Errorf("%w: entity type and id are required", ErrInvalidEntry)
	case !entry.Action.Valid():
		return fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, entry.Action)
	}
	return nil
}

func newEntry(entry LogEntry, previousHash string) (*Entry, error) {
	e := &Entry{
		ID:             uuid.New().String(),
		OrganisationID: entry.OrganisationID,
		ActorID:        entry.ActorID,
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		Action:         entry.Action,
		FieldName:      entry.FieldName,
		OldValue:       entry.OldValue,
		NewValue:       entry.NewValue,
		Changes:        entry.Changes,
		Metadata:       entry.Metadata,
		IPAddress:      entry.IPAddress,
		UserAgent:      entry.UserAgent,
		URL:            entry.URL,
		RequestID:      entry.RequestID,
		CreatedAt:      entryTimestamp(),
		PreviousHash:   previousHash,
	}
	hash, err := computeEntryHash(e)
	if err != nil {
		return nil, err
	}
	e.Hash = hash
	return e, nil
}

func matchesFilter(e *Entry, f Filter) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ApprovalStatus != "" && e.Approval.Status != f.ApprovalStatus {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.CreatedAt.After(f.To) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		haystack := strings.ToLower(strings.Join([]string{
			e.EntityType, e.EntityID, e.FieldName, e.Approval.RejectionReason,
		}, "\x00"))
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	// Maintain insertion order for queries
	order []string
	// Last hash per organisation
	heads map[string]string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]*Entry),
		order:   make([]string, 0),
		heads:   make(map[string]string),
	}
}

// Append stores a new entry.
func (r *InMemoryRepository) Append(ctx context.Context, entry LogEntry) (*Entry, error) {
	if err := validateLogEntry(entry); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := newEntry(entry, r.heads[entry.OrganisationID])
	if err != nil {
		return nil, err
	}
	r.entries[e.ID] = e
	r.order = append(r.order, e.ID)
	r.heads[e.OrganisationID] = e.Hash

	return copyEntry(e), nil
}

// GetByID returns one entry.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return copyEntry(e), nil
}

// TransitionApproval sets the approval tail if the current status equals from.
func (r *InMemoryRepository) TransitionApproval(ctx context.Context, id string, from ApprovalStatus, tail ApprovalTail) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrEntryNotFound
	}
	if e.Approval.Status != from {
		return fmt.Errorf("%w: entry %s is %q, expected %q", ErrApprovalConflict, id, e.Approval.Status, from)
	}
	if tail.ApprovedAt != nil {
		at := *tail.ApprovedAt
		tail.ApprovedAt = &at
	}
	e.Approval = tail
	return nil
}

// QueryByEntity returns an entity's entries, newest first.
func (r *InMemoryRepository) QueryByEntity(ctx context.Context, organisationID, entityType, entityID string, limit int) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry

	// Iterate in reverse order (newest first)
	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.entries[r.order[i]]
		if e.OrganisationID != organisationID || e.EntityType != entityType || e.EntityID != entityID {
			continue
		}
		results = append(results, copyEntry(e))
		if limit > 0 && len(results) >= limit {
			break
		}
	}

	return results, nil
}

// Query returns one page of an organisation's entries, newest first.
func (r *InMemoryRepository) Query(ctx context.Context, organisationID string, filter Filter) ([]*Entry, int, error) {
	filter = filter.normalized()

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	total := 0
	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.entries[r.order[i]]
		if e.OrganisationID != organisationID || !matchesFilter(e, filter) {
			continue
		}
		if total >= filter.Offset && len(results) < filter.Limit {
			results = append(results, copyEntry(e))
		}
		total++
	}

	return results, total, nil
}

// Chain returns all entries of an organisation oldest first.
func (r *InMemoryRepository) Chain(ctx context.Context, organisationID string) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	for _, id := range r.order {
		if e := r.entries[id]; e.OrganisationID == organisationID {
			results = append(results, copyEntry(e))
		}
	}
	return results, nil
}

// copyEntry returns a copy that shares no mutable state with the stored entry.
func copyEntry(e *Entry) *Entry {
	c := *e
	c.Changes = maps.Clone(e.Changes)
	c.Metadata = maps.Clone(e.Metadata)
	if e.Approval.ApprovedAt != nil {
		at := *e.Approval.ApprovedAt
		c.Approval.ApprovedAt = &at
	}
	return &c
}
