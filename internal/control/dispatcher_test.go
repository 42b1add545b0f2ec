package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eventra/courier/internal/core/domain"
	"github.com/eventra/courier/internal/infra/storage/memory"
)

type stubDeliverer struct {
	mu        sync.Mutex
	delivered []string
	failFor   map[string]bool
}

func (s *stubDeliverer) Deliver(ctx context.Context, req domain.DeliveryRequest) domain.DeliveryOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, req.CorrelationID)
	if s.failFor[req.CorrelationID] {
		return domain.DeliveryOutcome{CorrelationID: req.CorrelationID, ErrorType: "network"}
	}
	return domain.DeliveryOutcome{CorrelationID: req.CorrelationID, Success: true}
}

func (s *stubDeliverer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func queuedRequest(id string) domain.DeliveryRequest {
	return domain.DeliveryRequest{
		Recipient:     "+15550100",
		CorrelationID: id,
		Category:      domain.CategoryRegistration,
		Artifact:      domain.ArtifactDescriptor{Kind: domain.ArtifactBinary, CacheKey: "doc:" + id},
	}
}

func TestDispatcherDrainsQueue(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		if err := store.Enqueue(ctx, queuedRequest(id)); err != nil {
			t.Fatal(err)
		}
	}

	stub := &stubDeliverer{}
	d := NewDispatcher(DispatcherConfig{PollInterval: 5 * time.Millisecond, Concurrency: 2}, store, stub, nil)

	runCtx, cancel := context.WithCancel(ctx)
	go d.Start(runCtx)

	deadline := time.After(2 * time.Second)
	for stub.count() < 3 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("dispatcher delivered %d of 3", stub.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if depth, _ := store.Depth(ctx); depth != 0 {
		t.Errorf("queue depth = %d after drain, want 0", depth)
	}
}

func TestDispatcherMarksFailures(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.Enqueue(ctx, queuedRequest("tx-bad")); err != nil {
		t.Fatal(err)
	}

	stub := &stubDeliverer{failFor: map[string]bool{"tx-bad": true}}
	d := NewDispatcher(DispatcherConfig{PollInterval: 5 * time.Millisecond, Concurrency: 1}, store, stub, nil)

	runCtx, cancel := context.WithCancel(ctx)
	go d.Start(runCtx)

	deadline := time.After(2 * time.Second)
	for {
		if _, failed := store.Failed(1); failed {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatal("failed delivery never parked")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if reason, _ := store.Failed(1); reason != "network" {
		t.Errorf("failure reason = %q, want network", reason)
	}
}

func TestDispatcherRecoversAbandonedClaim(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	if err := store.Enqueue(ctx, queuedRequest("tx-stuck")); err != nil {
		t.Fatal(err)
	}

	// A previous worker claimed the delivery and died before finishing.
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatal(err)
	}

	stub := &stubDeliverer{}
	d := NewDispatcher(DispatcherConfig{
		PollInterval: 5 * time.Millisecond,
		Concurrency:  1,
		ClaimTTL:     time.Nanosecond,
		MaxAttempts:  5,
	}, store, stub, nil)

	runCtx, cancel := context.WithCancel(ctx)
	go d.Start(runCtx)

	deadline := time.After(2 * time.Second)
	for stub.count() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("abandoned claim was never requeued and delivered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	store := memory.New()
	stub := &stubDeliverer{}
	d := NewDispatcher(DispatcherConfig{PollInterval: time.Millisecond, Concurrency: 1}, store, stub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}
