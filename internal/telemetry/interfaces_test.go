package telemetry

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
)

func TestWrapLoggerWritesThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := WrapLogger(log.New(&buf, "", 0))
	logger.Printf("hello %s", "world")
	if got := strings.TrimSpace(buf.String()); got != "hello world" {
		t.Fatalf("expected wrapped output, got %q", got)
	}
}

func TestCountersAddAndStore(t *testing.T) {
	counters := NewCounters()
	counters.Add("pool_exhausted_total", 2)
	counters.Add("pool_exhausted_total", 3)
	counters.Store("pool_active", 7)
	counters.Store("pool_active", 4)

	if got := counters.Load("pool_exhausted_total"); got != 5 {
		t.Fatalf("expected accumulated counter 5, got %d", got)
	}
	if got := counters.Load("pool_active"); got != 4 {
		t.Fatalf("expected stored gauge 4, got %d", got)
	}
	snapshot := counters.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected two metrics in snapshot, got %v", snapshot)
	}
}

func TestNilCountersAreSafe(t *testing.T) {
	var counters *Counters
	counters.Add("x", 1)
	counters.Store("x", 1)
	if counters.Load("x") != 0 {
		t.Fatalf("expected nil counters to read zero")
	}
}

func TestSetupTracingDisabledReturnsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{Enabled: false, Endpoint: "http://localhost:4318"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected noop shutdown, got %v", err)
	}
	if TraceID(context.Background()) != "" {
		t.Fatalf("expected empty trace id without a span")
	}
}
