// Package governance ties the change ledger, the approval rule engine and
// queue, and the access resolver into the calls governed-entity services make
// around their own writes.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/caregov/internal/access"
	"github.com/onnwee/caregov/internal/approval"
	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/middleware"
	"github.com/onnwee/caregov/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrForbidden is returned when the actor's access scope does not cover a team.
	ErrForbidden = errors.New("team outside actor's access scope")

	// ErrNotSentForApproval wraps failures that happen after the change was
	// recorded: the write stands and its entry exists, but no approval request
	// could be opened for it.
	ErrNotSentForApproval = errors.New("change recorded but not sent for approval")
)

// Mutation describes a write a governed-entity service has already committed.
type Mutation struct {
	Action     audit.Action
	EntityType string
	EntityID   string
	// FieldName names the single field changed, or is empty for a whole-entity change.
	FieldName string
	Old       any
	New       any
	Metadata  map[string]any
}

// Outcome reports what AfterMutation did. EntryID is empty when the ledger
// could not record the change; Rule is nil when no approval is needed.
type Outcome struct {
	EntryID string            `json:"audit_entry_id,omitempty"`
	Rule    *approval.Rule    `json:"rule,omitempty"`
	Request *approval.Request `json:"approval_request,omitempty"`
}

// Gated reports whether the change was sent for approval.
func (o Outcome) Gated() bool {
	return o.Request != nil
}

// Config holds governance tunables.
type Config struct {
	// ApprovalExpiry is how long a new request stays in the pending queues.
	// Zero means requests never expire.
	ApprovalExpiry time.Duration
}

// Service is the entry point for governed-entity services.
type Service struct {
	ledger   *audit.Ledger
	engine   *approval.Engine
	queue    *approval.Queue
	resolver *access.Resolver
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a governance Service.
func NewService(ledger *audit.Ledger, engine *approval.Engine, queue *approval.Queue, resolver *access.Resolver, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:   ledger,
		engine:   engine,
		queue:    queue,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// AfterMutation records a committed change, evaluates the approval rules
// against it and opens an approval request when the effective rule demands
// one. The change itself is never undone: approval flags it after the fact.
//
// Without an actor in ctx nothing is recorded and the returned error wraps
// audit.ErrNoActor; callers should treat that as "cannot audit", not as a
// failed write. A ledger storage failure yields an Outcome without EntryID and
// a nil error. Once the entry is recorded, failing to evaluate the rules, to
// find an approver (approval.ErrNoApprover) or to open the request returns
// the partial Outcome with an error wrapping ErrNotSentForApproval.
func (s *Service) AfterMutation(ctx context.Context, m Mutation) (_ Outcome, err error) {
	actor, _ := middleware.GetActor(ctx)
	ctx, endSpan := tracing.StartEntitySpan(ctx, "governance.after_mutation", actor.OrganisationID, m.EntityType, m.EntityID)
	defer func() { endSpan(err) }()

	var opts []audit.RecordOption
	if m.FieldName != "" {
		opts = append(opts, audit.WithField(m.FieldName))
	}
	if len(m.Metadata) > 0 {
		opts = append(opts, audit.WithMetadata(m.Metadata))
	}

	entryID, err := s.ledger.Record(ctx, m.Action, m.EntityType, m.EntityID, m.Old, m.New, opts...)
	if err != nil {
		return Outcome{}, fmt.Errorf("change not recorded: %w", err)
	}
	tracing.SetAttributes(ctx, tracing.AttrEntryID.String(entryID))

	change := approval.Change{
		EntityType: m.EntityType,
		Action:     m.Action,
		FieldName:  m.FieldName,
		Payload:    s.payload(ctx, m),
	}
	rule, err := s.engine.EvaluateChange(ctx, actor.OrganisationID, change)
	if err != nil {
		return Outcome{EntryID: entryID}, s.notSent(ctx, m, entryID, nil, err)
	}
	outcome := Outcome{EntryID: entryID, Rule: rule}
	if rule == nil {
		return outcome, nil
	}
	if entryID == "" {
		s.logger.WarnContext(ctx, "approval required but change was not recorded",
			slog.String("entity_type", m.EntityType),
			slog.String("entity_id", m.EntityID),
			slog.String("rule_id", rule.ID))
		return outcome, nil
	}

	approver, err := s.queue.ApproverFor(ctx, rule, actor.UserID)
	if err != nil {
		return outcome, s.notSent(ctx, m, entryID, rule, err)
	}
	var expiresAt *time.Time
	if s.cfg.ApprovalExpiry > 0 {
		t := s.now().UTC().Add(s.cfg.ApprovalExpiry)
		expiresAt = &t
	}
	req, err := s.queue.Open(ctx, entryID, rule, approver, expiresAt)
	if err != nil {
		return outcome, s.notSent(ctx, m, entryID, rule, err)
	}
	outcome.Request = req
	tracing.AddEvent(ctx, "approval_requested",
		tracing.AttrRuleID.String(rule.ID),
		tracing.AttrRequestID.String(req.ID),
		attribute.String("approver_type", string(req.Approver.Type)))
	return outcome, nil
}

// notSent logs a recorded change that could not be gated and wraps cause in
// ErrNotSentForApproval.
func (s *Service) notSent(ctx context.Context, m Mutation, entryID string, rule *approval.Rule, cause error) error {
	attrs := []any{
		slog.String("entity_type", m.EntityType),
		slog.String("entity_id", m.EntityID),
		slog.String("audit_entry_id", entryID),
		slog.String("error", cause.Error()),
	}
	if rule != nil {
		attrs = append(attrs, slog.String("rule_id", rule.ID))
	}
	s.logger.WarnContext(ctx, "change recorded but not sent for approval", attrs...)
	return fmt.Errorf("%w: %w", ErrNotSentForApproval, cause)
}

// payload builds the condition payload: the new values keyed by field, and
// the diff against the old values for updates.
func (s *Service) payload(ctx context.Context, m Mutation) *approval.Payload {
	p := &approval.Payload{}
	if m.FieldName != "" {
		p.Values = map[string]any{m.FieldName: m.New}
		if m.Action == audit.ActionUpdate {
			p.Changes = map[string]audit.FieldChange{m.FieldName: {Old: m.Old, New: m.New}}
		}
		return p
	}

	values, err := audit.FieldMap(m.New)
	if err != nil {
		s.logger.DebugContext(ctx, "no condition payload",
			slog.String("entity_type", m.EntityType),
			slog.String("error", err.Error()))
		return nil
	}
	p.Values = values
	if m.Action == audit.ActionUpdate {
		if changes, err := audit.ComputeChanges(m.Old, m.New); err == nil {
			p.Changes = changes
		}
	}
	return p
}

// AccessScope returns the access scope of the actor in ctx.
func (s *Service) AccessScope(ctx context.Context) (access.Scope, error) {
	actor, ok := middleware.GetActor(ctx)
	if !ok {
		return access.Scope{}, audit.ErrNoActor
	}
	return s.resolver.Scope(ctx, actor.OrganisationID, actor.UserID)
}

// Authorize applies the entity visibility rule for an entity assigned to
// teamID, where an empty teamID means the entity has no team.
func (s *Service) Authorize(ctx context.Context, teamID string) error {
	if _, ok := middleware.GetActor(ctx); !ok {
		return ErrForbidden
	}
	if teamID == "" {
		return nil
	}
	scope, err := s.AccessScope(ctx)
	if err != nil {
		return err
	}
	if !scope.CanAccess(teamID) {
		return ErrForbidden
	}
	return nil
}
