package config

import "testing"

func TestDefaultsEnablesDashboard(t *testing.T) {
	cfg := Defaults()
	if !cfg.Channels.Dashboard.Enabled {
		t.Fatalf("expected dashboard channel enabled by default")
	}
	if cfg.Channels.Dashboard.ListenAddr != ":8765" {
		t.Fatalf("unexpected default dashboard listen addr: %q", cfg.Channels.Dashboard.ListenAddr)
	}
	if cfg.Channels.Dashboard.Path != "/ws" {
		t.Fatalf("unexpected default dashboard path: %q", cfg.Channels.Dashboard.Path)
	}
}

func TestTelemetryDisabledByDefault(t *testing.T) {
	cfg := Defaults()
	if cfg.Telemetry.Endpoint != "" {
		t.Fatalf("expected no telemetry endpoint by default, got %q", cfg.Telemetry.Endpoint)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("POCKETPAW_DASHBOARD_TOKEN", "secret-token")
	t.Setenv("POCKETPAW_OTLP_ENDPOINT", "localhost:4318")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.Dashboard.Token != "secret-token" {
		t.Fatalf("expected dashboard token from env, got %q", cfg.Channels.Dashboard.Token)
	}
	if cfg.Telemetry.Endpoint != "localhost:4318" {
		t.Fatalf("expected telemetry endpoint from env, got %q", cfg.Telemetry.Endpoint)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/pocketpaw-config.json5")
	if err != nil {
		t.Fatalf("Load with a missing file should not error, got %v", err)
	}
	if cfg.Backend.AgentBackend != "anthropic" {
		t.Fatalf("expected default backend preserved, got %q", cfg.Backend.AgentBackend)
	}
}
