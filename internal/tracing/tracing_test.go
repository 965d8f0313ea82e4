package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func quietLogger() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"disabled ignores fields", Config{SamplingRate: 7}, nil},
		{"valid http", Config{Enabled: true, ServiceName: "caregov-api", SamplingRate: 0.1, ExporterType: ExporterOTLPHTTP}, nil},
		{"valid grpc", Config{Enabled: true, ServiceName: "caregov-api", SamplingRate: 1, ExporterType: ExporterOTLPGRPC}, nil},
		{"default exporter", Config{Enabled: true, ServiceName: "caregov-api"}, nil},
		{"missing service name", Config{Enabled: true, SamplingRate: 0.1}, ErrMissingServiceName},
		{"negative rate", Config{Enabled: true, ServiceName: "caregov-api", SamplingRate: -0.1}, ErrInvalidSamplingRate},
		{"rate above one", Config{Enabled: true, ServiceName: "caregov-api", SamplingRate: 1.5}, ErrInvalidSamplingRate},
		{"unknown exporter", Config{Enabled: true, ServiceName: "caregov-api", ExporterType: "zipkin"}, ErrUnsupportedExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{ServiceName: "caregov-api"}, quietLogger())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.IsEnabled() {
		t.Error("IsEnabled() = true, want false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() = %v, want nil", err)
	}
	if p.Tracer("caregov") == nil {
		t.Error("Tracer() = nil on a disabled provider")
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, SamplingRate: 0.5}, quietLogger())
	if !errors.Is(err, ErrMissingServiceName) {
		t.Errorf("NewProvider() error = %v, want ErrMissingServiceName", err)
	}
}

func TestNewProvider_ExportsSpansWithResource(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(context.Background(), Config{
		Enabled:        true,
		ServiceName:    "caregov-api",
		ServiceVersion: "1.4.0",
		Environment:    "staging",
		SamplingRate:   1,
	}, WithExporter(exporter), quietLogger())
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	_, span := p.Tracer("caregov").Start(context.Background(), "approval.resolve")
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "approval.resolve" {
		t.Fatalf("exported spans = %v, want approval.resolve", spans)
	}

	want := map[attribute.Key]string{
		"service.name":           "caregov-api",
		"service.version":        "1.4.0",
		"deployment.environment": "staging",
	}
	for _, kv := range spans[0].Resource.Attributes() {
		if v, ok := want[kv.Key]; ok {
			if kv.Value.AsString() != v {
				t.Errorf("resource %s = %q, want %q", kv.Key, kv.Value.AsString(), v)
			}
			delete(want, kv.Key)
		}
	}
	if len(want) > 0 {
		t.Errorf("resource missing %v", want)
	}
}

func TestNewSampler(t *testing.T) {
	sampled := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
	})
	tests := []struct {
		name   string
		rate   float64
		parent trace.SpanContext
		want   sdktrace.SamplingDecision
	}{
		{"always", 1, trace.SpanContext{}, sdktrace.RecordAndSample},
		{"never", 0, trace.SpanContext{}, sdktrace.Drop},
		{"sampled parent overrides zero rate", 0, sampled, sdktrace.RecordAndSample},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := trace.ContextWithRemoteSpanContext(context.Background(), tt.parent)
			got := newSampler(tt.rate).ShouldSample(sdktrace.SamplingParameters{
				ParentContext: ctx,
				TraceID:       trace.TraceID{2},
				Name:          "audit.record",
			})
			if got.Decision != tt.want {
				t.Errorf("ShouldSample() = %v, want %v", got.Decision, tt.want)
			}
		})
	}
}
