package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Dispatch.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want default 4", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.ClaimTTL != 5*time.Minute {
		t.Errorf("ClaimTTL = %v, want default 5m", cfg.Dispatch.ClaimTTL)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Delivery.Policies.Primary.MaxAttempts == 0 {
		t.Error("primary retry policy not defaulted")
	}
	if cfg.Delivery.Policies.Render.BackoffMultiple < 1.0 {
		t.Errorf("render backoff multiple = %v, want >= 1.0",
			cfg.Delivery.Policies.Render.BackoffMultiple)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("COURIER_TEST_GATEWAY", "https://gateway.example.com/send")

	path := writeConfig(t, `
primary_channel:
  name: sms
  url: ${COURIER_TEST_GATEWAY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Primary.URL != "https://gateway.example.com/send" {
		t.Errorf("URL = %q, env not expanded", cfg.Primary.URL)
	}
	if cfg.Primary.Name != "sms" {
		t.Errorf("Name = %q, want sms", cfg.Primary.Name)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
escalation:
  operators:
    - "+15550001"
    - "+15550002"
cache:
  max_entries: 500
metrics:
  max_events: 2000
  window_hours: 2
delivery:
  policies:
    primary:
      max_attempts: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Escalation.Operators) != 2 {
		t.Errorf("Operators = %v, want 2 entries", cfg.Escalation.Operators)
	}
	if cfg.Cache.MaxEntries != 500 {
		t.Errorf("MaxEntries = %d, want 500", cfg.Cache.MaxEntries)
	}
	if cfg.Metrics.WindowHours != 2 {
		t.Errorf("WindowHours = %d, want 2", cfg.Metrics.WindowHours)
	}
	if cfg.Delivery.Policies.Primary.MaxAttempts != 5 {
		t.Errorf("Primary.MaxAttempts = %d, want 5", cfg.Delivery.Policies.Primary.MaxAttempts)
	}
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	path := writeConfig(t, `
delivery:
  policies:
    primary:
      max_attempts: 3
      backoff_multiple: 0.5
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for backoff multiple below 1.0")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
