package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/caregov/internal/middleware"
)

// ErrNoActor is returned when a change is recorded without an authenticated
// actor in the context. Callers treat it as "cannot audit" and carry on.
var ErrNoActor = errors.New("no authenticated actor to attribute change to")

// Ledger records governed-entity changes attributed to the actor in context.
// Storage failures are logged and absorbed: a ledger write never fails the
// business operation that triggered it.
type Ledger struct {
	repo    Repository
	logger  *slog.Logger
	metrics *Metrics
}

// NewLedger creates a ledger. metrics may be nil.
func NewLedger(repo Repository, logger *slog.Logger, metrics *Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, logger: logger, metrics: metrics}
}

// Repository returns the underlying store.
func (l *Ledger) Repository() Repository {
	return l.repo
}

type recordOptions struct {
	fieldName string
	metadata  map[string]any
}

// RecordOption customises a Record call.
type RecordOption func(*recordOptions)

// WithField marks the entry as a single-field change.
func WithField(name string) RecordOption {
	return func(o *recordOptions) {
		o.fieldName = name
	}
}

// WithMetadata attaches free-form metadata. Repeated calls merge.
func WithMetadata(metadata map[string]any) RecordOption {
	return func(o *recordOptions) {
		if o.metadata == nil {
			o.metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			o.metadata[k] = v
		}
	}
}

// Record appends an entry for a change made by the actor in ctx and returns its
// ID. It returns ErrNoActor when ctx carries no actor. When the store fails the
// error is logged and Record returns an empty ID with a nil error.
//
// For updates without WithField, the entry carries a diff of every key in
// newValue whose value differs from oldValue.
func (l *Ledger) Record(ctx context.Context, action Action, entityType, entityID string, oldValue, newValue any, opts ...RecordOption) (string, error) {
	actor, ok := middleware.GetActor(ctx)
	if !ok || actor.OrganisationID == "" {
		l.metrics.incUnattributed()
		l.logger.WarnContext(ctx, "change not audited: no actor",
			slog.String("action", string(action)),
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID))
		return "", ErrNoActor
	}

	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}

	meta := middleware.GetRequestMeta(ctx)
	entry := LogEntry{
		OrganisationID: actor.OrganisationID,
		ActorID:        actor.UserID,
		EntityType:     entityType,
		EntityID:       entityID,
		Action:         action,
		FieldName:      o.fieldName,
		OldValue:       oldValue,
		NewValue:       newValue,
		Metadata:       o.metadata,
		IPAddress:      meta.IPAddress,
		UserAgent:      meta.UserAgent,
		URL:            meta.URL,
		RequestID:      middleware.GetRequestID(ctx),
	}

	if action == ActionUpdate && o.fieldName == "" {
		changes, err := ComputeChanges(oldValue, newValue)
		if err != nil {
			l.logger.DebugContext(ctx, "skipping structured diff",
				slog.String("entity_type", entityType),
				slog.String("error", err.Error()))
		} else {
			entry.Changes = changes
		}
	}

	e, err := l.repo.Append(ctx, entry)
	if errors.Is(err, ErrInvalidEntry) {
		return "", err
	}
	if err != nil {
		l.metrics.incFailure()
		l.logger.ErrorContext(ctx, "failed to append audit entry",
			slog.String("error", err.Error()),
			slog.String("action", string(action)),
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID),
			slog.String("actor_id", actor.UserID))
		return "", nil
	}

	l.metrics.incRecorded(action)
	return e.ID, nil
}

// RecordCreate records the creation of an entity.
func (l *Ledger) RecordCreate(ctx context.Context, entityType, entityID string, newValue any, opts ...RecordOption) (string, error) {
	return l.Record(ctx, ActionCreate, entityType, entityID, nil, newValue, opts...)
}

// RecordUpdate records an update. Without WithField the entry carries a diff.
func (l *Ledger) RecordUpdate(ctx context.Context, entityType, entityID string, oldValue, newValue any, opts ...RecordOption) (string, error) {
	return l.Record(ctx, ActionUpdate, entityType, entityID, oldValue, newValue, opts...)
}

// RecordDelete records the deletion of an entity.
func (l *Ledger) RecordDelete(ctx context.Context, entityType, entityID string, oldValue any, opts ...RecordOption) (string, error) {
	return l.Record(ctx, ActionDelete, entityType, entityID, oldValue, nil, opts...)
}

// RecordApproval records that a pending change was approved.
func (l *Ledger) RecordApproval(ctx context.Context, entityType, entityID string, opts ...RecordOption) (string, error) {
	return l.Record(ctx, ActionApprove, entityType, entityID, nil, nil, opts...)
}

// RecordRejection records that a pending change was rejected.
func (l *Ledger) RecordRejection(ctx context.Context, entityType, entityID, reason string, opts ...RecordOption) (string, error) {
	if reason != "" {
		opts = append(opts, WithMetadata(map[string]any{"reason": reason}))
	}
	return l.Record(ctx, ActionReject, entityType, entityID, nil, nil, opts...)
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, id string) (*Entry, error) {
	return l.repo.GetByID(ctx, id)
}

// ByEntity returns an entity's history, newest first.
func (l *Ledger) ByEntity(ctx context.Context, organisationID, entityType, entityID string, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	entries, err := l.repo.QueryByEntity(ctx, organisationID, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity history: %w", err)
	}
	return entries, nil
}

// ByOrganisation returns one filtered page of an organisation's ledger.
func (l *Ledger) ByOrganisation(ctx context.Context, organisationID string, filter Filter) (*Page, error) {
	filter = filter.normalized()
	entries, total, err := l.repo.Query(ctx, organisationID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return &Page{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Export writes an organisation's ledger in the requested format.
func (l *Ledger) Export(ctx context.Context, organisationID string, opts ExportOptions) ([]byte, error) {
	return Export(ctx, l.repo, organisationID, opts)
}

// Verify checks the organisation's hash chain end to end.
func (l *Ledger) Verify(ctx context.Context, organisationID string) error {
	entries, err := l.repo.Chain(ctx, organisationID)
	if err != nil {
		return fmt.Errorf("failed to load audit chain: %w", err)
	}
	return VerifyChain(entries)
}
