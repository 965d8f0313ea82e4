package governance

import (
	"context"
	"testing"

	"github.com/onnwee/caregov/internal/approval"
	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestAfterMutation_AnnotatesSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	f := newFixture(t, Config{})
	f.join(t, "carer", "Leeds", "Member")
	f.join(t, "finance", "North", "Finance")
	rule := f.rule(t, approval.Rule{
		EntityType:     "rate",
		Action:         audit.ActionUpdate,
		Scope:          approval.WholeEntity(),
		ApprovalType:   approval.ApprovalRole,
		RequiredRoleID: f.roles["Finance"].ID,
	})

	outcome, err := f.svc.AfterMutation(as("carer"), Mutation{
		Action:     audit.ActionUpdate,
		EntityType: "rate",
		EntityID:   "rate-1",
		Old:        rate{Amount: 10},
		New:        rate{Amount: 12},
	})
	if err != nil {
		t.Fatalf("AfterMutation() error = %v", err)
	}

	var span sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "governance.after_mutation" {
			span = s
		}
	}
	if span == nil {
		t.Fatal("no governance.after_mutation span")
	}

	attrs := map[attribute.Key]string{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	if attrs[tracing.AttrEntryID] != outcome.EntryID {
		t.Errorf("%s = %q, want %q", tracing.AttrEntryID, attrs[tracing.AttrEntryID], outcome.EntryID)
	}
	if attrs[tracing.AttrOrganisationID] != org {
		t.Errorf("%s = %q, want %q", tracing.AttrOrganisationID, attrs[tracing.AttrOrganisationID], org)
	}

	events := span.Events()
	if len(events) != 1 || events[0].Name != "approval_requested" {
		t.Fatalf("Events() = %v, want approval_requested", events)
	}
	got := map[attribute.Key]string{}
	for _, kv := range events[0].Attributes {
		got[kv.Key] = kv.Value.Emit()
	}
	if got[tracing.AttrRuleID] != rule.ID || got[tracing.AttrRequestID] != outcome.Request.ID {
		t.Errorf("event attributes = %v, want rule %s request %s", got, rule.ID, outcome.Request.ID)
	}
	if got["approver_type"] != string(approval.ApproverRole) {
		t.Errorf("approver_type = %q, want role", got["approver_type"])
	}
}
