package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eventra/courier/internal/core/domain"
)

func record(a *Aggregator, success bool, n int) {
	for i := 0; i < n; i++ {
		a.Record(Event{
			Category: CategoryDelivery,
			Success:  success,
			Duration: 100 * time.Millisecond,
		})
	}
}

func TestHealthErrorRateExact(t *testing.T) {
	a := New(Config{}, nil, nil)
	record(a, true, 7)
	record(a, false, 3)

	snap := a.Health(time.Hour)
	if snap.Events != 10 {
		t.Fatalf("Events = %d, want 10", snap.Events)
	}
	if snap.ErrorRate != 0.3 {
		t.Errorf("ErrorRate = %v, want 0.3", snap.ErrorRate)
	}
	if snap.SuccessRate != 0.7 {
		t.Errorf("SuccessRate = %v, want 0.7", snap.SuccessRate)
	}
	if snap.AvgDuration != 100*time.Millisecond {
		t.Errorf("AvgDuration = %v, want 100ms", snap.AvgDuration)
	}
}

func TestHealthEmptyWindow(t *testing.T) {
	a := New(Config{}, nil, nil)

	snap := a.Health(time.Hour)
	if snap.ErrorRate != 0 || snap.SuccessRate != 0 || snap.FallbackRate != 0 {
		t.Errorf("empty window rates should all be 0, got %+v", snap)
	}
	if snap.AvgDuration != 0 {
		t.Errorf("empty window AvgDuration should be 0, got %v", snap.AvgDuration)
	}
}

func TestHealthWindowFiltering(t *testing.T) {
	a := New(Config{}, nil, nil)
	a.Record(Event{Timestamp: time.Now().Add(-2 * time.Hour), Category: CategoryDelivery, Success: false})
	a.Record(Event{Timestamp: time.Now(), Category: CategoryDelivery, Success: true})

	snap := a.Health(time.Hour)
	if snap.Events != 1 {
		t.Fatalf("Events = %d, want 1 (old event outside window)", snap.Events)
	}
	if snap.ErrorRate != 0 {
		t.Errorf("ErrorRate = %v, want 0", snap.ErrorRate)
	}
}

func TestFallbackRate(t *testing.T) {
	a := New(Config{}, nil, nil)
	a.Record(Event{Category: CategoryDelivery, Success: true, Fallback: true})
	a.Record(Event{Category: CategoryDelivery, Success: true})
	a.Record(Event{Category: CategoryDelivery, Success: true})
	a.Record(Event{Category: CategoryDelivery, Success: true})

	if got := a.Health(time.Hour).FallbackRate; got != 0.25 {
		t.Errorf("FallbackRate = %v, want 0.25", got)
	}
}

func TestEventLogBounded(t *testing.T) {
	a := New(Config{MaxEvents: 100}, nil, nil)
	record(a, true, 250)

	if got := a.Len(); got != 100 {
		t.Errorf("Len = %d, want 100", got)
	}
}

func TestAlertsThresholds(t *testing.T) {
	cfg := Config{Thresholds: Thresholds{
		ErrorRateWarning:  0.10,
		ErrorRateCritical: 0.30,
		MinEvents:         5,
	}}

	t.Run("below warning", func(t *testing.T) {
		a := New(cfg, nil, nil)
		record(a, true, 19)
		record(a, false, 1) // 5%
		if alerts := a.Alerts(time.Hour); len(alerts) != 0 {
			t.Errorf("expected no alerts, got %d", len(alerts))
		}
	})

	t.Run("warning", func(t *testing.T) {
		a := New(cfg, nil, nil)
		record(a, true, 8)
		record(a, false, 2) // 20%
		alerts := a.Alerts(time.Hour)
		if len(alerts) != 1 || alerts[0].Level != domain.AlertWarning {
			t.Fatalf("expected one warning alert, got %+v", alerts)
		}
		if alerts[0].RequiresImmediateAction {
			t.Error("warning should not require immediate action")
		}
	})

	t.Run("critical", func(t *testing.T) {
		a := New(cfg, nil, nil)
		record(a, true, 6)
		record(a, false, 4) // 40%
		alerts := a.Alerts(time.Hour)
		if len(alerts) != 1 || alerts[0].Level != domain.AlertCritical {
			t.Fatalf("expected one critical alert, got %+v", alerts)
		}
		if !alerts[0].RequiresImmediateAction {
			t.Error("critical alert should require immediate action")
		}
	})

	t.Run("exact warning boundary stays quiet", func(t *testing.T) {
		a := New(cfg, nil, nil)
		record(a, true, 9)
		record(a, false, 1) // exactly 10%
		if alerts := a.Alerts(time.Hour); len(alerts) != 0 {
			t.Errorf("rate at the warning boundary should not alert, got %d", len(alerts))
		}
	})

	t.Run("exact critical boundary only warns", func(t *testing.T) {
		a := New(cfg, nil, nil)
		record(a, true, 7)
		record(a, false, 3) // exactly 30%
		alerts := a.Alerts(time.Hour)
		if len(alerts) != 1 || alerts[0].Level != domain.AlertWarning {
			t.Fatalf("rate at the critical boundary should warn only, got %+v", alerts)
		}
	})

	t.Run("too few events", func(t *testing.T) {
		a := New(cfg, nil, nil)
		record(a, false, 3) // 100% errors but below MinEvents
		if alerts := a.Alerts(time.Hour); len(alerts) != 0 {
			t.Errorf("expected no alerts below MinEvents, got %d", len(alerts))
		}
	})
}

type sinkSpy struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (s *sinkSpy) Notify(ctx context.Context, alert domain.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
}

func (s *sinkSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func TestSweepForwardsAlerts(t *testing.T) {
	sink := &sinkSpy{}
	a := New(Config{
		SweepInterval: 10 * time.Millisecond,
		WindowHours:   1,
		Thresholds: Thresholds{
			ErrorRateCritical: 0.30,
			MinEvents:         5,
		},
	}, sink, nil)
	record(a, false, 10)

	ctx, cancel := context.WithCancel(context.Background())
	go a.Start(ctx)

	deadline := time.After(2 * time.Second)
	for sink.count() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("sweep never forwarded an alert")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
}

func TestRaiseForwardsToSink(t *testing.T) {
	sink := &sinkSpy{}
	a := New(Config{}, sink, nil)

	a.Raise(context.Background(), domain.Alert{Level: domain.AlertCritical, Subject: "delivery failed"})
	if sink.count() != 1 {
		t.Errorf("expected 1 forwarded alert, got %d", sink.count())
	}
}

func TestConcurrentRecord(t *testing.T) {
	a := New(Config{MaxEvents: 500}, nil, nil)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(a, true, 40)
		}()
	}
	wg.Wait()

	if got := a.Len(); got != 400 {
		t.Errorf("Len = %d, want 400 (no dropped events under concurrent append)", got)
	}
}
