package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// DBOperation names the kind of statement a repository runs. It doubles as
// the first word of the span name.
type DBOperation string

const (
	DBOperationQuery  DBOperation = "query"
	DBOperationInsert DBOperation = "insert"
	DBOperationUpdate DBOperation = "update"
	DBOperationDelete DBOperation = "delete"
	DBOperationUpsert DBOperation = "upsert" // INSERT ... ON CONFLICT DO UPDATE
	DBOperationExec   DBOperation = "exec"
)

const (
	tracerName   = "caregov"
	dbTracerName = "caregov/db"
)

// Span attribute keys for governance spans.
const (
	AttrOrganisationID = attribute.Key("caregov.organisation_id")
	AttrEntityType     = attribute.Key("caregov.entity_type")
	AttrEntityID       = attribute.Key("caregov.entity_id")
	AttrEntryID        = attribute.Key("caregov.audit_entry_id")
	AttrRuleID         = attribute.Key("caregov.rule_id")
	AttrRequestID      = attribute.Key("caregov.approval_request_id")
)

// endFunc ends span, marking it failed when err is non-nil. Repositories
// defer the returned function with their named error result.
func endFunc(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// StartDBSpan starts a client span for one statement against table, named
// "<operation> <table>". Pass an empty table for statements that touch none.
//
//	ctx, end := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationInsert)
//	defer func() { end(err) }()
func StartDBSpan(ctx context.Context, table string, operation DBOperation) (context.Context, func(error)) {
	name := string(operation)
	attrs := []attribute.KeyValue{
		semconv.DBSystemPostgreSQL,
		semconv.DBOperation(string(operation)),
	}
	if table != "" {
		name += " " + table
		attrs = append(attrs, semconv.DBSQLTable(table))
	}

	ctx, span := otel.Tracer(dbTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, endFunc(span)
}

// StartSpan starts an internal span named name.
func StartSpan(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, endFunc(span)
}

// StartEntitySpan starts an internal span for work on one governed entity.
func StartEntitySpan(ctx context.Context, name, organisationID, entityType, entityID string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		AttrOrganisationID.String(organisationID),
		AttrEntityType.String(entityType),
		AttrEntityID.String(entityID),
	))
	return ctx, endFunc(span)
}

// AddEvent records an event on the span active in ctx. It is a no-op when
// there is none.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes annotates the span active in ctx.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
