package classify

import (
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	c := New(nil)

	tests := []struct {
		err        error
		wantType   string
		retryable  bool
		notify     bool
		severity   Severity
		userImpact UserImpact
	}{
		{errors.New("429 Too Many Requests"), "rate_limit", true, true, SeverityHigh, ImpactMinor},
		{errors.New("monthly quota exceeded"), "rate_limit", true, true, SeverityHigh, ImpactMinor},
		{errors.New("401 Unauthorized"), "auth", false, true, SeverityCritical, ImpactSevere},
		{errors.New("authentication failed for channel"), "auth", false, true, SeverityCritical, ImpactSevere},
		{errors.New("validation failed: empty recipient"), "validation", false, true, SeverityMedium, ImpactMajor},
		{errors.New("recipient not found on channel"), "recipient", false, false, SeverityLow, ImpactMajor},
		{errors.New("connection reset by peer"), "network", true, false, SeverityLow, ImpactNone},
		{errors.New("context deadline exceeded"), "timeout", true, false, SeverityMedium, ImpactMinor},
		{errors.New("502 Bad Gateway"), "upstream", true, false, SeverityMedium, ImpactMinor},
		{errors.New("template parse error"), "render", true, true, SeverityHigh, ImpactMajor},
		{errors.New("attachment too large"), "payload_size", false, false, SeverityMedium, ImpactMinor},
		{errors.New("something nobody anticipated"), "unknown", true, false, SeverityMedium, ImpactMinor},
	}

	for _, tt := range tests {
		got := c.Classify(tt.err)
		if got.Type != tt.wantType {
			t.Errorf("Classify(%q).Type = %q, want %q", tt.err, got.Type, tt.wantType)
		}
		if got.Retryable != tt.retryable {
			t.Errorf("Classify(%q).Retryable = %v, want %v", tt.err, got.Retryable, tt.retryable)
		}
		if got.NotifyAdmin != tt.notify {
			t.Errorf("Classify(%q).NotifyAdmin = %v, want %v", tt.err, got.NotifyAdmin, tt.notify)
		}
		if got.Severity != tt.severity {
			t.Errorf("Classify(%q).Severity = %q, want %q", tt.err, got.Severity, tt.severity)
		}
		if got.UserImpact != tt.userImpact {
			t.Errorf("Classify(%q).UserImpact = %q, want %q", tt.err, got.UserImpact, tt.userImpact)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(nil)
	err := errors.New("rate limit exceeded")

	first := c.Classify(err)
	for i := 0; i < 10; i++ {
		if got := c.Classify(err); got != first {
			t.Fatalf("Classify not deterministic: %+v != %+v", got, first)
		}
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	c := New(nil)
	// Contains both an auth marker and a network marker; auth rule is
	// earlier in the table and must win.
	got := c.Classify(errors.New("403 forbidden: connection reset"))
	if got.Type != "auth" {
		t.Errorf("expected first rule to win, got %q", got.Type)
	}
}

func TestClassifyNilError(t *testing.T) {
	c := New(nil)
	if got := c.Classify(nil); got != Default {
		t.Errorf("Classify(nil) = %+v, want default", got)
	}
}

func TestWorse(t *testing.T) {
	if !Worse(SeverityCritical, SeverityHigh) {
		t.Error("critical should outrank high")
	}
	if Worse(SeverityLow, SeverityMedium) {
		t.Error("low should not outrank medium")
	}
	if Worse(SeverityMedium, SeverityMedium) {
		t.Error("equal severities should not outrank each other")
	}
}
