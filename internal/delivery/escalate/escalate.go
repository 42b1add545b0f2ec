// Package escalate pushes human-readable alerts to operator channels.
// Escalation is strictly best-effort: a failure to reach an operator must
// never cascade into the business operation that triggered it.
package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eventra/courier/internal/core/domain"
	"github.com/eventra/courier/internal/infra/channel"
	"github.com/eventra/courier/internal/metrics"
)

// Config holds escalation settings.
type Config struct {
	// Operators are the recipient addresses alerts fan out to.
	Operators []string `yaml:"operators"`
	// SuppressWindow drops repeat alerts with the same subject inside the
	// window so operator channels are not flooded. 0 disables suppression.
	SuppressWindow time.Duration `yaml:"suppress_window"`
	// SendTimeout bounds each outbound notification.
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Escalator fans alerts out to the configured operator endpoints.
type Escalator struct {
	cfg    Config
	client channel.Client
	log    *slog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time

	inflight sync.WaitGroup
}

// New creates an escalator sending through the given channel client.
func New(cfg Config, client channel.Client, log *slog.Logger) *Escalator {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Escalator{
		cfg:      cfg,
		client:   client,
		log:      log,
		lastSent: make(map[string]time.Time),
	}
}

// Notify formats the alert and sends it to every operator. Fire-and-forget:
// the fan-out runs in its own goroutine so the triggering delivery never
// waits on operator channels, partial failure is not retried, and internal
// errors are logged and swallowed.
func (e *Escalator) Notify(ctx context.Context, alert domain.Alert) {
	if e.client == nil || len(e.cfg.Operators) == 0 {
		e.log.Warn("escalation skipped: no operator channel configured",
			"subject", alert.Subject, "level", alert.Level)
		return
	}

	if e.suppressed(alert.Subject) {
		e.log.Debug("escalation suppressed", "subject", alert.Subject)
		return
	}

	metrics.EscalationsTotal.WithLabelValues(string(alert.Level)).Inc()

	payload := channel.Payload{Text: Format(alert)}

	// Detach from any request deadline; escalation carries its own budget.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SendTimeout)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer cancel()
		for _, operator := range e.cfg.Operators {
			if _, err := e.client.Send(sendCtx, operator, payload); err != nil {
				e.log.Error("failed to notify operator",
					"operator", operator, "subject", alert.Subject, "error", err)
			}
		}
	}()
}

// Drain blocks until every in-flight escalation has finished sending. Called
// during graceful shutdown.
func (e *Escalator) Drain() {
	e.inflight.Wait()
}

// suppressed records the send time for a subject and reports whether the
// previous one was inside the suppression window.
func (e *Escalator) suppressed(subject string) bool {
	if e.cfg.SuppressWindow <= 0 {
		return false
	}

	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastSent[subject]; ok && now.Sub(last) < e.cfg.SuppressWindow {
		return true
	}
	e.lastSent[subject] = now
	return false
}

// Format renders an alert as operator-readable text.
func Format(alert domain.Alert) string {
	var b strings.Builder

	marker := "NOTICE"
	switch alert.Level {
	case domain.AlertWarning:
		marker = "WARNING"
	case domain.AlertCritical:
		marker = "CRITICAL"
	}

	fmt.Fprintf(&b, "[%s] %s\n", marker, alert.Subject)
	if alert.Message != "" {
		b.WriteString(alert.Message)
		b.WriteString("\n")
	}
	if alert.RequiresImmediateAction {
		b.WriteString("Immediate action required.\n")
	}

	if len(alert.Context) > 0 {
		keys := make([]string, 0, len(alert.Context))
		for k := range alert.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, alert.Context[k])
		}
	}

	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&b, "at %s", ts.UTC().Format(time.RFC3339))

	return b.String()
}
