// Package channel defines the narrow contract the delivery pipeline uses to
// hand payloads to external messaging transports. The pipeline is
// protocol-agnostic: it never sees the underlying wire format.
package channel

import (
	"context"
	"time"
)

// Payload is what a channel delivers: either an attached artifact or, in
// degraded mode, a short text with a reference link instead.
type Payload struct {
	Text         string
	ArtifactName string
	Artifact     []byte
	ReferenceURL string
}

// Degraded reports whether the payload is the fallback form (no attachment).
func (p Payload) Degraded() bool {
	return len(p.Artifact) == 0 && p.ReferenceURL != ""
}

// SendResult reports a successful send.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Client sends payloads to recipients. Implementations must be idempotent-safe:
// the retry executor may resend the same payload.
type Client interface {
	Name() string
	Send(ctx context.Context, recipient string, payload Payload) (*SendResult, error)
}
