package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockClient is an in-process channel for tests and databaseless runs. It can
// be scripted to fail a fixed number of times or permanently.
type MockClient struct {
	name string

	mu        sync.Mutex
	failTimes int
	failWith  error
	sent      []SentMessage
}

// SentMessage records one delivered payload.
type SentMessage struct {
	Recipient string
	Payload   Payload
	MessageID string
}

// NewMockClient creates a mock channel with the given name.
func NewMockClient(name string) *MockClient {
	return &MockClient{name: name}
}

// FailTimes scripts the next n sends to fail with err. n < 0 fails forever.
func (m *MockClient) FailTimes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTimes = n
	m.failWith = err
}

func (m *MockClient) Name() string { return m.name }

func (m *MockClient) Send(ctx context.Context, recipient string, payload Payload) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failTimes != 0 {
		if m.failTimes > 0 {
			m.failTimes--
		}
		err := m.failWith
		if err == nil {
			err = fmt.Errorf("mock channel %s: scripted failure", m.name)
		}
		return nil, err
	}

	id := uuid.NewString()
	m.sent = append(m.sent, SentMessage{Recipient: recipient, Payload: payload, MessageID: id})
	return &SendResult{MessageID: id, SentAt: time.Now()}, nil
}

// Sent returns a copy of everything delivered so far.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
