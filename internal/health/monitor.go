package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eventra/courier/internal/cache"
	"github.com/eventra/courier/internal/metrics"
)

// Pinger checks connectivity to an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChannelStatus reports whether a channel client's latest send succeeded.
type ChannelStatus interface {
	Name() string
	Healthy() bool
}

// Monitor aggregates health status from the pipeline components.
type Monitor struct {
	aggregator *metrics.Aggregator
	artifacts  *cache.Cache
	window     time.Duration
	db         Pinger
	blobStore  Pinger
	channels   []ChannelStatus

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a health monitor. db and blobStore may be nil when the
// process runs without them.
func NewMonitor(
	aggregator *metrics.Aggregator,
	artifacts *cache.Cache,
	window time.Duration,
	db Pinger,
	blobStore Pinger,
	channels ...ChannelStatus,
) *Monitor {
	if window <= 0 {
		window = time.Hour
	}
	return &Monitor{
		aggregator: aggregator,
		artifacts:  artifacts,
		window:     window,
		db:         db,
		blobStore:  blobStore,
		channels:   channels,
	}
}

// Check performs a health check across all components. Results are cached
// briefly to keep the liveness endpoints cheap.
func (m *Monitor) Check(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Components != nil {
		return m.lastReport
	}

	report := Report{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}

	// Delivery pipeline rates.
	snap := m.aggregator.Health(m.window)
	pipeline := ComponentHealth{
		Name:   "delivery",
		Status: StatusHealthy,
		Metrics: map[string]float64{
			"success_rate":  snap.SuccessRate,
			"error_rate":    snap.ErrorRate,
			"fallback_rate": snap.FallbackRate,
			"events":        float64(snap.Events),
		},
	}
	switch {
	case snap.Events >= 5 && snap.ErrorRate > 0.30:
		pipeline.Status = StatusCritical
		pipeline.Detail = fmt.Sprintf("error rate %.0f%%", snap.ErrorRate*100)
	case snap.Events >= 5 && snap.ErrorRate > 0.10:
		pipeline.Status = StatusDegraded
		pipeline.Detail = fmt.Sprintf("error rate %.0f%%", snap.ErrorRate*100)
	}
	report.Components["delivery"] = pipeline

	// Artifact cache.
	stats := m.artifacts.Stats()
	report.Components["cache"] = ComponentHealth{
		Name:   "cache",
		Status: StatusHealthy,
		Metrics: map[string]float64{
			"entries":  float64(stats.Entries),
			"bytes":    float64(stats.Bytes),
			"hit_rate": stats.HitRate,
		},
	}

	// External dependencies.
	if m.db != nil {
		report.Components["database"] = pingHealth(ctx, "database", m.db)
	}
	if m.blobStore != nil {
		// A blob store outage only degrades; the pipeline renders instead.
		h := pingHealth(ctx, "blob_store", m.blobStore)
		if h.Status == StatusCritical {
			h.Status = StatusDegraded
		}
		report.Components["blob_store"] = h
	}

	for _, ch := range m.channels {
		h := ComponentHealth{Name: ch.Name(), Status: StatusHealthy}
		if !ch.Healthy() {
			h.Status = StatusDegraded
			h.Detail = "last send failed"
		}
		report.Components["channel:"+ch.Name()] = h
	}

	// Worst component status wins.
	for _, c := range report.Components {
		if c.Status == StatusCritical {
			report.SystemStatus = StatusCritical
			break
		}
		if c.Status == StatusDegraded {
			report.SystemStatus = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func pingHealth(ctx context.Context, name string, p Pinger) ComponentHealth {
	h := ComponentHealth{Name: name, Status: StatusHealthy}
	if err := p.Ping(ctx); err != nil {
		h.Status = StatusCritical
		h.Detail = err.Error()
	}
	return h
}
