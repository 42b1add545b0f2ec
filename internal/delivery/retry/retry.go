package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/eventra/courier/internal/delivery/classify"
)

// Policy defines retry behavior for one operation class. Rendering, primary
// sends and fallback sends carry distinct policies because their latency and
// cost profiles differ.
type Policy struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BackoffMultiple float64       `yaml:"backoff_multiple"`
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2.0,
}

// Validate checks policy bounds. Invalid policies are programming errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BackoffMultiple < 1.0 {
		return fmt.Errorf("retry policy: backoff multiple must be >= 1.0, got %v", p.BackoffMultiple)
	}
	return nil
}

// Deadline computes the overall budget for one Execute invocation: worst-case
// backoff sleeps plus a per-attempt latency allowance, so a stuck operation
// cannot block a delivery indefinitely.
func (p Policy) Deadline(opTimeout time.Duration) time.Duration {
	total := opTimeout * time.Duration(p.MaxAttempts)
	for n := 1; n < p.MaxAttempts; n++ {
		total += p.delay(n)
	}
	return total
}

// delay returns the backoff before attempt n+1 (n is 1-based attempt count).
func (p Policy) delay(n int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffMultiple, float64(n-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Error is the uniform failure shape Execute returns. The raw operation
// error is never surfaced alone: callers always get the classification, the
// attempt count and the per-attempt history.
type Error struct {
	Op             string
	Classification classify.Classification
	Attempts       int
	History        []string
	Err            error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Execute runs op up to policy.MaxAttempts times with exponential backoff.
// Non-retryable failures short-circuit without consuming remaining attempts.
// The backoff sleep is context-aware, so it suspends only this delivery.
func Execute[T any](
	ctx context.Context,
	op func(ctx context.Context) (T, error),
	policy Policy,
	classifier *classify.Classifier,
	opName string,
) (T, error) {
	var zero T

	if err := policy.Validate(); err != nil {
		return zero, err
	}

	var history []string
	var lastErr error
	var lastClass classify.Classification

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		lastClass = classifier.Classify(err)
		history = append(history, fmt.Sprintf("attempt %d: %v", attempt, err))

		if !lastClass.Retryable {
			return zero, &Error{
				Op:             opName,
				Classification: lastClass,
				Attempts:       attempt,
				History:        history,
				Err:            err,
			}
		}

		if attempt == policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			history = append(history, fmt.Sprintf("aborted: %v", ctx.Err()))
			return zero, &Error{
				Op:             opName,
				Classification: classifier.Classify(ctx.Err()),
				Attempts:       attempt,
				History:        history,
				Err:            ctx.Err(),
			}
		case <-time.After(policy.delay(attempt)):
		}
	}

	return zero, &Error{
		Op:             opName,
		Classification: lastClass,
		Attempts:       policy.MaxAttempts,
		History:        history,
		Err:            lastErr,
	}
}
