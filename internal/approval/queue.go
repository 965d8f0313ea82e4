package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/middleware"
)

// RoleLookup answers role questions about an organisation's users.
type RoleLookup interface {
	// RoleIDs returns the IDs of every team role the user holds through an active membership.
	RoleIDs(ctx context.Context, organisationID, userID string) ([]string, error)
	// RoleName returns a role's display name.
	RoleName(ctx context.Context, organisationID, roleID string) (string, error)
}

// ManagerResolver finds the user who manages another user at a hierarchy level.
type ManagerResolver interface {
	// ManagerOf returns the manager's user ID, or ErrNoApprover.
	ManagerOf(ctx context.Context, organisationID, userID string, level int) (string, error)
}

// Queue opens and resolves approval requests.
type Queue struct {
	requests RequestRepository
	ledger   *audit.Ledger
	roles    RoleLookup
	managers ManagerResolver
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

// WithNotifier sets the event publisher. Defaults to NoopNotifier.
func WithNotifier(n Notifier) QueueOption {
	return func(q *Queue) { q.notifier = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates an approval queue.
func NewQueue(requests RequestRepository, ledger *audit.Ledger, roles RoleLookup, managers ManagerResolver, opts ...QueueOption) *Queue {
	q := &Queue{
		requests: requests,
		ledger:   ledger,
		roles:    roles,
		managers: managers,
		notifier: NoopNotifier{},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ApproverFor builds the approver specification a rule demands for a change
// made by requesterID.
func (q *Queue) ApproverFor(ctx context.Context, rule *Rule, requesterID string) (ApproverSpec, error) {
	switch rule.ApprovalType {
	case ApprovalRole:
		name, err := q.roles.RoleName(ctx, rule.OrganisationID, rule.RequiredRoleID)
		if err != nil {
			return ApproverSpec{}, fmt.Errorf("failed to resolve approver role: %w", err)
		}
		return ApproverSpec{Type: ApproverRole, RoleID: rule.RequiredRoleID, RoleName: name}, nil
	case ApprovalManager:
		managerID, err := q.managers.ManagerOf(ctx, rule.OrganisationID, requesterID, rule.ManagerLevel)
		if err != nil {
			return ApproverSpec{}, fmt.Errorf("failed to resolve manager at level %d: %w", rule.ManagerLevel, err)
		}
		return ApproverSpec{Type: ApproverManager, UserID: managerID}, nil
	}
	return ApproverSpec{}, fmt.Errorf("%w: rule %s needs no approver", ErrInvalidRule, rule.ID)
}

// Open creates a pending request bound to a ledger entry and marks the entry
// pending. The requester is the entry's actor.
func (q *Queue) Open(ctx context.Context, entryID string, rule *Rule, approver ApproverSpec, expiresAt *time.Time) (*Request, error) {
	entry, err := q.ledger.Get(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entry: %w", err)
	}
	if rule.OrganisationID != entry.OrganisationID {
		return nil, fmt.Errorf("%w: rule %s belongs to another organisation", ErrInvalidRule, rule.ID)
	}
	if err := validateApprover(approver); err != nil {
		return nil, err
	}

	req := &Request{
		ID:             uuid.New().String(),
		OrganisationID: entry.OrganisationID,
		AuditEntryID:   entry.ID,
		RuleID:         rule.ID,
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		RequesterID:    entry.ActorID,
		Approver:       approver,
		Status:         StatusPending,
		ExpiresAt:      expiresAt,
		CreatedAt:      q.now(),
	}
	if err := q.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to open approval request: %w", err)
	}

	q.metrics.incOpened(approver.Type)
	q.logger.InfoContext(ctx, "approval request opened",
		slog.String("request_id", req.ID),
		slog.String("audit_entry_id", req.AuditEntryID),
		slog.String("rule_id", req.RuleID),
		slog.String("approver_type", string(approver.Type)))
	q.publish(ctx, EventOpened, req)

	return req, nil
}

func validateApprover(spec ApproverSpec) error {
	switch spec.Type {
	case ApproverUser, ApproverManager:
		if spec.UserID == "" {
			return fmt.Errorf("%w: %s approver needs a user", ErrNoApprover, spec.Type)
		}
	case ApproverRole:
		if spec.RoleID == "" {
			return fmt.Errorf("%w: role approver needs a role", ErrNoApprover)
		}
	default:
		return fmt.Errorf("%w: unknown approver type %q", ErrNoApprover, spec.Type)
	}
	return nil
}

// Resolve approves or rejects a pending request on behalf of actor. It fails
// with ErrRequestNotFound, ErrNotPending or ErrNotAuthorised, checked in that
// order. The request and its ledger entry change together or not at all.
func (q *Queue) Resolve(ctx context.Context, requestID string, decision Decision, actor middleware.Actor, rejectionReason string) (*Request, error) {
	status, err := decision.status()
	if err != nil {
		return nil, err
	}

	req, err := q.requests.Get(ctx, actor.OrganisationID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		q.metrics.incConflict()
		return nil, ErrNotPending
	}

	allowed, err := q.canResolve(ctx, req, actor)
	if err != nil {
		return nil, err
	}
	if !allowed {
		q.logger.WarnContext(ctx, "approval resolution refused",
			slog.String("request_id", req.ID),
			slog.String("user_id", actor.UserID),
			slog.String("approver_type", string(req.Approver.Type)))
		return nil, ErrNotAuthorised
	}

	res := Resolution{
		Status:     status,
		ResolvedBy: actor.UserID,
		ResolvedAt: q.now(),
	}
	if decision == DecisionReject {
		res.RejectionReason = rejectionReason
	}

	resolved, err := q.requests.Resolve(ctx, actor.OrganisationID, requestID, res)
	if err != nil {
		if errors.Is(err, ErrNotPending) {
			q.metrics.incConflict()
		}
		return nil, err
	}

	q.metrics.incResolved(decision)
	q.logger.InfoContext(ctx, "approval request resolved",
		slog.String("request_id", resolved.ID),
		slog.String("decision", string(decision)),
		slog.String("resolved_by", actor.UserID))
	q.publish(ctx, EventResolved, resolved)
	q.recordDecision(middleware.SetActor(ctx, actor), resolved, decision)

	return resolved, nil
}

func (q *Queue) canResolve(ctx context.Context, req *Request, actor middleware.Actor) (bool, error) {
	switch req.Approver.Type {
	case ApproverUser, ApproverManager:
		return actor.UserID != "" && actor.UserID == req.Approver.UserID, nil
	case ApproverRole:
		roleIDs, err := q.roles.RoleIDs(ctx, actor.OrganisationID, actor.UserID)
		if err != nil {
			return false, fmt.Errorf("failed to load approver roles: %w", err)
		}
		return slices.Contains(roleIDs, req.Approver.RoleID), nil
	}
	return false, nil
}

// recordDecision appends the approve/reject entry for the governed entity.
func (q *Queue) recordDecision(ctx context.Context, req *Request, decision Decision) {
	meta := audit.WithMetadata(map[string]any{
		"approval_request_id": req.ID,
		"audit_entry_id":      req.AuditEntryID,
	})
	var err error
	if decision == DecisionApprove {
		_, err = q.ledger.RecordApproval(ctx, req.EntityType, req.EntityID, meta)
	} else {
		_, err = q.ledger.RecordRejection(ctx, req.EntityType, req.EntityID, req.RejectionReason, meta)
	}
	if err != nil {
		q.logger.WarnContext(ctx, "approval decision not audited",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
	}
}

func (q *Queue) publish(ctx context.Context, t EventType, req *Request) {
	event := Event{Type: t, Request: req, OccurredAt: q.now()}
	if err := q.notifier.Publish(ctx, event); err != nil {
		q.logger.ErrorContext(ctx, "failed to publish approval event",
			slog.String("event", string(t)),
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
	}
}

// Get returns one request.
func (q *Queue) Get(ctx context.Context, organisationID, id string) (*Request, error) {
	return q.requests.Get(ctx, organisationID, id)
}

// PendingForUser returns the unexpired pending requests the user may resolve:
// addressed to them directly, as manager, or to any role they hold. Newest first.
func (q *Queue) PendingForUser(ctx context.Context, actor middleware.Actor) ([]*Request, error) {
	if actor.UserID == "" {
		return []*Request{}, nil
	}
	roleIDs, err := q.roles.RoleIDs(ctx, actor.OrganisationID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	return q.listPending(ctx, actor.OrganisationID, PendingQuery{
		UserID:  actor.UserID,
		RoleIDs: roleIDs,
		Now:     q.now(),
	})
}

// PendingForOrganisation returns the organisation's unexpired pending requests, newest first.
func (q *Queue) PendingForOrganisation(ctx context.Context, organisationID string) ([]*Request, error) {
	return q.listPending(ctx, organisationID, PendingQuery{Now: q.now()})
}

func (q *Queue) listPending(ctx context.Context, organisationID string, query PendingQuery) ([]*Request, error) {
	reqs, err := q.requests.ListPending(ctx, organisationID, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	if reqs == nil {
		reqs = []*Request{}
	}
	return reqs, nil
}
