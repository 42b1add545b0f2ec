package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eventra/courier/internal/core/domain"
)

// EventCategory groups metric events by subsystem.
type EventCategory string

const (
	CategoryGeneration EventCategory = "generation"
	CategoryDelivery   EventCategory = "delivery"
	CategoryCache      EventCategory = "cache"
	CategorySecurity   EventCategory = "security"
)

// Event is one append-only pipeline observation. Events are trimmed from the
// head of the log once the bound is reached, never updated in place.
type Event struct {
	Timestamp time.Time
	Category  EventCategory
	Success   bool
	Fallback  bool
	Duration  time.Duration
	ErrorType string
}

// HealthSnapshot holds derived rates over a time window. All rates define
// 0/0 as 0.
type HealthSnapshot struct {
	Window       time.Duration
	Events       int
	SuccessRate  float64
	ErrorRate    float64
	FallbackRate float64
	AvgDuration  time.Duration
}

// Thresholds configures pull-based alert evaluation.
type Thresholds struct {
	ErrorRateWarning  float64       `yaml:"error_rate_warning"`
	ErrorRateCritical float64       `yaml:"error_rate_critical"`
	FallbackRateWarn  float64       `yaml:"fallback_rate_warning"`
	SlowAvgDuration   time.Duration `yaml:"slow_avg_duration"`
	MinEvents         int           `yaml:"min_events"`
}

// DefaultThresholds mirror the operational defaults: above 10% errors warns,
// above 30% pages.
var DefaultThresholds = Thresholds{
	ErrorRateWarning:  0.10,
	ErrorRateCritical: 0.30,
	FallbackRateWarn:  0.25,
	SlowAvgDuration:   10 * time.Second,
	MinEvents:         5,
}

// AlertSink receives alerts pushed by the scheduled sweep (and solicited
// alerts raised on behalf of a delivery).
type AlertSink interface {
	Notify(ctx context.Context, alert domain.Alert)
}

// Config bounds the aggregator.
type Config struct {
	MaxEvents     int           `yaml:"max_events"`
	WindowHours   int           `yaml:"window_hours"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Thresholds    Thresholds    `yaml:"thresholds"`
}

// Aggregator keeps a bounded in-memory event log and derives rolling-window
// health and alerts from it on demand. Derived state is never stored, so the
// alert view cannot drift from the data.
type Aggregator struct {
	cfg  Config
	sink AlertSink
	log  *slog.Logger

	mu     sync.Mutex
	events []Event
}

// New creates an aggregator. sink may be nil; alerts are then only returned
// from Alerts, never pushed.
func New(cfg Config, sink AlertSink, log *slog.Logger) *Aggregator {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 1
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{cfg: cfg, sink: sink, log: log}
}

// Record appends one event, dropping the oldest entries once the log bound
// is reached.
func (a *Aggregator) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, event)
	if over := len(a.events) - a.cfg.MaxEvents; over > 0 {
		a.events = append(a.events[:0:0], a.events[over:]...)
	}
}

// Health computes rates over the trailing window.
func (a *Aggregator) Health(window time.Duration) HealthSnapshot {
	cutoff := time.Now().Add(-window)

	a.mu.Lock()
	defer a.mu.Unlock()

	snap := HealthSnapshot{Window: window}
	var successes, failures, fallbacks int
	var totalDur time.Duration

	for _, e := range a.events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		snap.Events++
		totalDur += e.Duration
		if e.Success {
			successes++
		} else {
			failures++
		}
		if e.Fallback {
			fallbacks++
		}
	}

	if snap.Events > 0 {
		snap.SuccessRate = float64(successes) / float64(snap.Events)
		snap.ErrorRate = float64(failures) / float64(snap.Events)
		snap.FallbackRate = float64(fallbacks) / float64(snap.Events)
		snap.AvgDuration = totalDur / time.Duration(snap.Events)
	}
	return snap
}

// Alerts re-evaluates the static thresholds against the current window.
// Evaluation is pull-based on every call.
func (a *Aggregator) Alerts(window time.Duration) []domain.Alert {
	snap := a.Health(window)
	th := a.cfg.Thresholds

	if snap.Events < th.MinEvents {
		return nil
	}

	now := time.Now()
	var alerts []domain.Alert

	switch {
	case th.ErrorRateCritical > 0 && snap.ErrorRate > th.ErrorRateCritical:
		alerts = append(alerts, domain.Alert{
			Level:   domain.AlertCritical,
			Subject: "delivery error rate critical",
			Message: fmt.Sprintf("error rate %.0f%% over the last %v (%d events)",
				snap.ErrorRate*100, window, snap.Events),
			Context:                 map[string]any{"error_rate": snap.ErrorRate, "events": snap.Events},
			RequiresImmediateAction: true,
			Timestamp:               now,
		})
	case th.ErrorRateWarning > 0 && snap.ErrorRate > th.ErrorRateWarning:
		alerts = append(alerts, domain.Alert{
			Level:   domain.AlertWarning,
			Subject: "delivery error rate elevated",
			Message: fmt.Sprintf("error rate %.0f%% over the last %v (%d events)",
				snap.ErrorRate*100, window, snap.Events),
			Context:   map[string]any{"error_rate": snap.ErrorRate, "events": snap.Events},
			Timestamp: now,
		})
	}

	if th.FallbackRateWarn > 0 && snap.FallbackRate > th.FallbackRateWarn {
		alerts = append(alerts, domain.Alert{
			Level:   domain.AlertWarning,
			Subject: "fallback channel usage elevated",
			Message: fmt.Sprintf("fallback used for %.0f%% of deliveries over the last %v",
				snap.FallbackRate*100, window),
			Context:   map[string]any{"fallback_rate": snap.FallbackRate},
			Timestamp: now,
		})
	}

	if th.SlowAvgDuration > 0 && snap.AvgDuration > th.SlowAvgDuration {
		alerts = append(alerts, domain.Alert{
			Level:   domain.AlertWarning,
			Subject: "delivery latency elevated",
			Message: fmt.Sprintf("average processing time %v over the last %v",
				snap.AvgDuration.Round(time.Millisecond), window),
			Context:   map[string]any{"avg_duration_ms": snap.AvgDuration.Milliseconds()},
			Timestamp: now,
		})
	}

	return alerts
}

// Raise forwards a solicited alert (raised on behalf of a specific delivery)
// to the configured sink. Best-effort.
func (a *Aggregator) Raise(ctx context.Context, alert domain.Alert) {
	if a.sink == nil {
		return
	}
	a.sink.Notify(ctx, alert)
}

// Start runs the scheduled health sweep until ctx is cancelled. The sweep is
// the only actor that pushes threshold alerts outward unsolicited.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	window := time.Duration(a.cfg.WindowHours) * time.Hour

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts := a.Alerts(window)
			for _, alert := range alerts {
				a.log.Warn("health sweep raised alert",
					"level", alert.Level, "subject", alert.Subject)
				if a.sink != nil {
					a.sink.Notify(ctx, alert)
				}
			}
		}
	}
}

// Len reports the current event log length. Used by health reporting.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}
