package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// recordSpans installs a global provider backed by a span recorder for the
// duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return rec
}

func onlySpan(t *testing.T, rec *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]string {
	m := make(map[attribute.Key]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value.Emit()
	}
	return m
}

func TestStartDBSpan(t *testing.T) {
	tests := []struct {
		table     string
		operation DBOperation
		wantName  string
	}{
		{"audit_entries", DBOperationInsert, "insert audit_entries"},
		{"audit_entries", DBOperationQuery, "query audit_entries"},
		{"approval_requests", DBOperationUpdate, "update approval_requests"},
		{"approval_rules", DBOperationDelete, "delete approval_rules"},
		{"memberships", DBOperationUpsert, "upsert memberships"},
		{"", DBOperationExec, "exec"},
	}

	for _, tt := range tests {
		t.Run(tt.wantName, func(t *testing.T) {
			rec := recordSpans(t)

			_, end := StartDBSpan(context.Background(), tt.table, tt.operation)
			end(nil)

			span := onlySpan(t, rec)
			if span.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", span.Name(), tt.wantName)
			}
			if span.SpanKind() != trace.SpanKindClient {
				t.Errorf("SpanKind() = %v, want client", span.SpanKind())
			}
			got := attrs(span.Attributes())
			if got["db.system"] != "postgresql" {
				t.Errorf("db.system = %q, want postgresql", got["db.system"])
			}
			if got["db.operation"] != string(tt.operation) {
				t.Errorf("db.operation = %q, want %q", got["db.operation"], tt.operation)
			}
			table, ok := got["db.sql.table"]
			if tt.table == "" && ok {
				t.Errorf("db.sql.table = %q, want unset", table)
			}
			if tt.table != "" && table != tt.table {
				t.Errorf("db.sql.table = %q, want %q", table, tt.table)
			}
		})
	}
}

func TestEndFuncRecordsError(t *testing.T) {
	errConflict := errors.New("approval request already resolved")

	starters := map[string]func(context.Context) (context.Context, func(error)){
		"db": func(ctx context.Context) (context.Context, func(error)) {
			return StartDBSpan(ctx, "approval_requests", DBOperationUpdate)
		},
		"general": func(ctx context.Context) (context.Context, func(error)) {
			return StartSpan(ctx, "approval.resolve")
		},
	}

	for name, start := range starters {
		t.Run(name, func(t *testing.T) {
			rec := recordSpans(t)

			_, end := start(context.Background())
			end(errConflict)

			span := onlySpan(t, rec)
			if span.Status().Code != codes.Error {
				t.Errorf("Status().Code = %v, want Error", span.Status().Code)
			}
			if span.Status().Description != errConflict.Error() {
				t.Errorf("Status().Description = %q, want %q", span.Status().Description, errConflict.Error())
			}
			if len(span.Events()) != 1 || span.Events()[0].Name != "exception" {
				t.Errorf("Events() = %v, want one exception event", span.Events())
			}
		})
	}
}

func TestStartSpan_Success(t *testing.T) {
	rec := recordSpans(t)

	_, end := StartSpan(context.Background(), "rules.evaluate")
	end(nil)

	span := onlySpan(t, rec)
	if span.Name() != "rules.evaluate" {
		t.Errorf("Name() = %q, want rules.evaluate", span.Name())
	}
	if span.Status().Code != codes.Unset {
		t.Errorf("Status().Code = %v, want Unset", span.Status().Code)
	}
}

func TestStartSpan_NestsUnderParent(t *testing.T) {
	rec := recordSpans(t)

	ctx, endParent := StartSpan(context.Background(), "approval.resolve")
	_, endChild := StartDBSpan(ctx, "approval_requests", DBOperationUpdate)
	endChild(nil)
	endParent(nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Errorf("child parent = %s, want %s", child.Parent().SpanID(), parent.SpanContext().SpanID())
	}
}

func TestAddEventAndSetAttributes(t *testing.T) {
	rec := recordSpans(t)

	ctx, end := StartSpan(context.Background(), "ledger.record")
	SetAttributes(ctx, attribute.String("caregov.actor_id", "user-4"))
	AddEvent(ctx, "ledger.recorded",
		attribute.String("entry_id", "entry-123"),
		attribute.Int("changes", 2),
	)
	end(nil)

	span := onlySpan(t, rec)
	if got := attrs(span.Attributes())["caregov.actor_id"]; got != "user-4" {
		t.Errorf("caregov.actor_id = %q, want user-4", got)
	}
	events := span.Events()
	if len(events) != 1 {
		t.Fatalf("Events() = %d, want 1", len(events))
	}
	if events[0].Name != "ledger.recorded" {
		t.Errorf("event name = %q, want ledger.recorded", events[0].Name)
	}
	got := attrs(events[0].Attributes)
	if got["entry_id"] != "entry-123" || got["changes"] != "2" {
		t.Errorf("event attributes = %v", got)
	}
}

func TestAddEvent_NoActiveSpan(t *testing.T) {
	rec := recordSpans(t)

	AddEvent(context.Background(), "ledger.recorded")
	SetAttributes(context.Background(), attribute.String("k", "v"))

	if n := len(rec.Ended()); n != 0 {
		t.Errorf("ended spans = %d, want 0", n)
	}
}

func TestStartEntitySpan(t *testing.T) {
	rec := recordSpans(t)

	_, end := StartEntitySpan(context.Background(), "governance.after_mutation", "org-1", "rate", "rate-9")
	end(nil)

	got := attrs(onlySpan(t, rec).Attributes())
	want := map[attribute.Key]string{
		AttrOrganisationID: "org-1",
		AttrEntityType:     "rate",
		AttrEntityID:       "rate-9",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}
