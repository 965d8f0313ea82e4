package approval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/onnwee/caregov/internal/audit"
)

// RequestRepository stores approval requests. Create and Resolve update the bound
// ledger entry's approval tail in the same atomic unit as the request.
type RequestRepository interface {
	// Create stores a pending request and moves its entry from no approval to
	// pending. Returns ErrAlreadyPending if the entry already has a pending request.
	Create(ctx context.Context, req *Request) error

	// Get returns one request scoped to an organisation.
	Get(ctx context.Context, organisationID, id string) (*Request, error)

	// Resolve moves a pending request and its entry to a terminal state. The write
	// is conditioned on the request still being pending; ErrNotPending otherwise.
	Resolve(ctx context.Context, organisationID, id string, res Resolution) (*Request, error)

	// ListPending returns pending requests matching q, newest first.
	ListPending(ctx context.Context, organisationID string, q PendingQuery) ([]*Request, error)
}

// InMemoryRequestRepository is an in-memory implementation of RequestRepository.
// The ledger transition and the request write happen under one lock.
type InMemoryRequestRepository struct {
	mu       sync.Mutex
	ledger   audit.Repository
	requests map[string]*Request
	order    []string
}

// NewInMemoryRequestRepository creates a request store bound to a ledger store.
func NewInMemoryRequestRepository(ledger audit.Repository) *InMemoryRequestRepository {
	return &InMemoryRequestRepository{
		ledger:   ledger,
		requests: make(map[string]*Request),
	}
}

// Create stores a pending request.
func (r *InMemoryRequestRepository) Create(ctx context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.requests {
		if existing.AuditEntryID == req.AuditEntryID && existing.Status == StatusPending {
			return ErrAlreadyPending
		}
	}

	err := r.ledger.TransitionApproval(ctx, req.AuditEntryID, audit.ApprovalNone, audit.ApprovalTail{Status: audit.ApprovalPending})
	if errors.Is(err, audit.ErrApprovalConflict) {
		return fmt.Errorf("%w: %w", ErrAlreadyPending, err)
	}
	if err != nil {
		return err
	}

	r.requests[req.ID] = copyRequest(req)
	r.order = append(r.order, req.ID)
	return nil
}

// Get returns one request.
func (r *InMemoryRequestRepository) Get(ctx context.Context, organisationID, id string) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok || req.OrganisationID != organisationID {
		return nil, ErrRequestNotFound
	}
	return copyRequest(req), nil
}

// Resolve moves a pending request to a terminal state.
func (r *InMemoryRequestRepository) Resolve(ctx context.Context, organisationID, id string, res Resolution) (*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok || req.OrganisationID != organisationID {
		return nil, ErrRequestNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrNotPending
	}

	resolvedAt := res.ResolvedAt
	err := r.ledger.TransitionApproval(ctx, req.AuditEntryID, audit.ApprovalPending, audit.ApprovalTail{
		Status:          ledgerStatus(res.Status),
		ApproverID:      res.ResolvedBy,
		ApprovedAt:      &resolvedAt,
		RejectionReason: res.RejectionReason,
	})
	if errors.Is(err, audit.ErrApprovalConflict) {
		return nil, fmt.Errorf("%w: %w", ErrNotPending, err)
	}
	if err != nil {
		return nil, err
	}

	req.Status = res.Status
	req.ResolvedBy = res.ResolvedBy
	req.ResolvedAt = &resolvedAt
	req.RejectionReason = res.RejectionReason
	return copyRequest(req), nil
}

// ListPending returns pending requests, newest first.
func (r *InMemoryRequestRepository) ListPending(ctx context.Context, organisationID string, q PendingQuery) ([]*Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := q.now()
	var out []*Request
	for i := len(r.order) - 1; i >= 0; i-- {
		req := r.requests[r.order[i]]
		if req.OrganisationID != organisationID || req.Status != StatusPending {
			continue
		}
		if req.Expired(now) || !q.addressedTo(req) {
			continue
		}
		out = append(out, copyRequest(req))
	}
	slices.SortStableFunc(out, func(a, b *Request) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func ledgerStatus(s Status) audit.ApprovalStatus {
	switch s {
	case StatusApproved:
		return audit.ApprovalApproved
	case StatusRejected:
		return audit.ApprovalRejected
	}
	return audit.ApprovalPending
}
