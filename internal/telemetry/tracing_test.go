package telemetry

import (
	"context"
	"testing"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "pocketpaw-test", "")
	if err != nil {
		t.Fatalf("expected no error with empty endpoint, got %v", err)
	}
	if shutdown == nil {
		t.Fatalf("expected a non-nil shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("expected no-op shutdown to succeed, got %v", err)
	}
}

func TestTracerNeverNil(t *testing.T) {
	if Tracer() == nil {
		t.Fatalf("expected Tracer() to return OTel's default no-op tracer before Setup")
	}
}
