package tracer

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"wsjsonrpc/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	cfg := config.TracerConfig{Enabled: false}
	shutdown, err := Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	tp := otel.GetTracerProvider()
	if _, ok := tp.(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", tp)
	}
}

func TestSetupNoop(t *testing.T) {
	cfg := config.TracerConfig{Enabled: true, Exporter: "noop"}
	shutdown, err := Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())
}

func TestSetupStdout(t *testing.T) {
	for _, output := range []string{"stderr", "stdout", ""} {
		cfg := config.TracerConfig{Enabled: true, Exporter: "stdout", Output: output, SampleRatio: 0.5}
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup(%q): %v", output, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	cfg := config.TracerConfig{Enabled: true, Exporter: "invalid"}
	_, err := Setup(context.Background(), cfg)
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestOutputWriter(t *testing.T) {
	if outputWriter("stdout") != os.Stdout {
		t.Error("expected os.Stdout")
	}
	if outputWriter("") != os.Stderr || outputWriter("stderr") != os.Stderr {
		t.Error("expected os.Stderr by default")
	}
}

func TestSampler(t *testing.T) {
	always := sdktrace.AlwaysSample().Description()
	for _, r := range []float64{0, -1, 1, 2} {
		if got := sampler(r).Description(); got != always {
			t.Errorf("sampler(%v) = %s, want %s", r, got, always)
		}
	}
	if got := sampler(0.25).Description(); got == always {
		t.Error("sampler(0.25) should be ratio based")
	}
}

func TestSpanHelpersRecordStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	_, ok := StartSpan(context.Background(), "wsrpc.query")
	ok.SetAttributes(StringAttr("rpc.method", "aria2.getVersion"))
	SetOK(ok)
	ok.End()

	_, bad := StartSpan(context.Background(), "wsrpc.connection")
	bad.SetAttributes(IntAttr("ws.close_code", 1006))
	RecordError(bad, errors.New("1006 Abnormal Closure"))
	bad.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "wsrpc.query" || spans[0].Status().Code != codes.Ok {
		t.Errorf("span 0 = %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error || spans[1].Status().Description != "1006 Abnormal Closure" {
		t.Errorf("span 1 status = %v", spans[1].Status())
	}
	if len(spans[1].Events()) != 1 {
		t.Errorf("expected error event, got %d events", len(spans[1].Events()))
	}
}

func TestAttrHelpers(t *testing.T) {
	s := StringAttr("key", "value")
	if string(s.Key) != "key" {
		t.Errorf("StringAttr key = %q, want %q", s.Key, "key")
	}

	i := IntAttr("count", 42)
	if string(i.Key) != "count" {
		t.Errorf("IntAttr key = %q, want %q", i.Key, "count")
	}
}
