// Package memory provides in-memory repository implementations for tests and
// databaseless runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/eventra/courier/internal/core/domain"
	"github.com/eventra/courier/internal/infra/storage"
)

// Storage implements every storage repository in memory behind one mutex.
type Storage struct {
	mu            sync.Mutex
	registrations map[string]*storage.Registration
	queue         []*storage.QueuedDelivery
	claimed       map[int64]claim
	failed        map[int64]string
	outcomes      []domain.DeliveryOutcome
	nextID        int64
}

type claim struct {
	item *storage.QueuedDelivery
	at   time.Time
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		registrations: make(map[string]*storage.Registration),
		claimed:       make(map[int64]claim),
		failed:        make(map[int64]string),
	}
}

// AddRegistration seeds a registration record.
func (s *Storage) AddRegistration(reg *storage.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registrations[reg.CorrelationID] = reg
}

// Resolve implements storage.RegistrationRepository.
func (s *Storage) Resolve(ctx context.Context, correlationID string) (*storage.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[correlationID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return reg, nil
}

// Enqueue implements storage.QueueRepository.
func (s *Storage) Enqueue(ctx context.Context, req domain.DeliveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.queue = append(s.queue, &storage.QueuedDelivery{
		ID:         s.nextID,
		Request:    req,
		EnqueuedAt: time.Now(),
	})
	return nil
}

// ClaimNext implements storage.QueueRepository.
func (s *Storage) ClaimNext(ctx context.Context) (*storage.QueuedDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, nil
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	next.Attempts++
	s.claimed[next.ID] = claim{item: next, at: time.Now()}
	return next, nil
}

// MarkDone implements storage.QueueRepository.
func (s *Storage) MarkDone(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
	return nil
}

// MarkFailed implements storage.QueueRepository.
func (s *Storage) MarkFailed(ctx context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, id)
	s.failed[id] = reason
	return nil
}

// ReclaimStale implements storage.QueueRepository.
func (s *Storage) ReclaimStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	requeued := 0
	for id, c := range s.claimed {
		if c.at.After(cutoff) {
			continue
		}
		delete(s.claimed, id)
		if c.item.Attempts >= maxAttempts {
			s.failed[id] = "claim expired"
			continue
		}
		s.queue = append(s.queue, c.item)
		requeued++
	}
	return requeued, nil
}

// Depth implements storage.QueueRepository.
func (s *Storage) Depth(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), nil
}

// Record implements storage.OutcomeRepository.
func (s *Storage) Record(ctx context.Context, outcome domain.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

// Outcomes returns a copy of every recorded outcome.
func (s *Storage) Outcomes() []domain.DeliveryOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeliveryOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// Failed returns the terminal error recorded for a queue id, if any.
func (s *Storage) Failed(id int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.failed[id]
	return reason, ok
}
