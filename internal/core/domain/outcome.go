package domain

import "time"

// DeliveryOutcome is produced exactly once per DeliveryRequest and reports
// what happened. It is returned to the caller and recorded for metrics; the
// pipeline never raises business failures as errors.
type DeliveryOutcome struct {
	CorrelationID    string
	Category         Category
	Success          bool
	ArtifactProduced bool
	PrimaryUsed      bool
	FallbackUsed     bool
	RetryAttempts    int
	ErrorType        string
	ChannelMessageID string
	ProcessingTime   time.Duration
	CompletedAt      time.Time
}
