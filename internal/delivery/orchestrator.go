// Package delivery implements the transactional artifact delivery pipeline:
// validate, obtain the rendered artifact, attempt the primary channel with
// retry, degrade to the fallback channel, and escalate total failures. The
// pipeline never raises business failures; every call produces exactly one
// DeliveryOutcome.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eventra/courier/internal/cache"
	"github.com/eventra/courier/internal/core/domain"
	"github.com/eventra/courier/internal/delivery/classify"
	"github.com/eventra/courier/internal/delivery/escalate"
	"github.com/eventra/courier/internal/delivery/retry"
	"github.com/eventra/courier/internal/infra/channel"
	"github.com/eventra/courier/internal/infra/render"
	"github.com/eventra/courier/internal/infra/storage"
	"github.com/eventra/courier/internal/metrics"
)

// Policies carries one retry policy per operation class. Rendering is cheap
// to retry; sends cost provider quota, so their budgets differ.
type Policies struct {
	Render   retry.Policy `yaml:"render"`
	Primary  retry.Policy `yaml:"primary"`
	Fallback retry.Policy `yaml:"fallback"`
}

// DefaultPolicies provide the operational defaults.
var DefaultPolicies = Policies{
	Render:   retry.Policy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffMultiple: 2.0},
	Primary:  retry.Policy{MaxAttempts: 4, InitialDelay: 1 * time.Second, MaxDelay: 8 * time.Second, BackoffMultiple: 2.0},
	Fallback: retry.Policy{MaxAttempts: 3, InitialDelay: 1 * time.Second, MaxDelay: 8 * time.Second, BackoffMultiple: 2.0},
}

// Config tunes the orchestrator.
type Config struct {
	Policies Policies `yaml:"policies"`
	// OpTimeout bounds a single render or send attempt; the per-invocation
	// deadline is derived from it and the policy.
	OpTimeout time.Duration `yaml:"op_timeout"`
	// SlowThreshold marks a delivery as alert-worthy slow.
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	// AlertRetryAttempts is the attempt count from which an alert is raised.
	AlertRetryAttempts int `yaml:"alert_retry_attempts"`
	// ReferenceBaseURL builds the degraded-payload link: base + correlation id.
	ReferenceBaseURL string `yaml:"reference_base_url"`
}

// BlobStore is the optional shared second-level artifact store. A nil store
// is skipped entirely.
type BlobStore interface {
	GetArtifact(ctx context.Context, tier, key string) ([]byte, bool, error)
	SetArtifact(ctx context.Context, tier, key string, data []byte, ttl time.Duration) error
}

// Orchestrator is the primary delivery coordinator.
type Orchestrator struct {
	cfg        Config
	artifacts  *cache.Cache
	blobs      BlobStore
	renderer   render.Renderer
	primary    channel.Client
	fallback   channel.Client
	regs       storage.RegistrationRepository
	outcomes   storage.OutcomeRepository
	aggregator *metrics.Aggregator
	escalator  *escalate.Escalator
	classifier *classify.Classifier
	log        *slog.Logger
}

// New wires the orchestrator. artifacts, renderer, primary, aggregator,
// escalator and classifier are required; blobs, fallback, regs and outcomes
// may be nil and the matching steps degrade gracefully.
func New(
	cfg Config,
	artifacts *cache.Cache,
	blobs BlobStore,
	renderer render.Renderer,
	primary channel.Client,
	fallback channel.Client,
	regs storage.RegistrationRepository,
	outcomes storage.OutcomeRepository,
	aggregator *metrics.Aggregator,
	escalator *escalate.Escalator,
	classifier *classify.Classifier,
	log *slog.Logger,
) *Orchestrator {
	if cfg.Policies == (Policies{}) {
		cfg.Policies = DefaultPolicies
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 30 * time.Second
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 15 * time.Second
	}
	if cfg.AlertRetryAttempts <= 0 {
		cfg.AlertRetryAttempts = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		artifacts:  artifacts,
		blobs:      blobs,
		renderer:   renderer,
		primary:    primary,
		fallback:   fallback,
		regs:       regs,
		outcomes:   outcomes,
		aggregator: aggregator,
		escalator:  escalator,
		classifier: classifier,
		log:        log,
	}
}

// Deliver runs the full pipeline for one request. It always returns an
// outcome; business failures never surface as errors or panics.
func (o *Orchestrator) Deliver(ctx context.Context, req domain.DeliveryRequest) domain.DeliveryOutcome {
	start := time.Now()
	outcome := domain.DeliveryOutcome{
		CorrelationID: req.CorrelationID,
		Category:      req.Category,
	}

	// 1. Validate. Failures are non-retryable and short-circuit.
	if err := validate(req); err != nil {
		cls := o.classifier.Classify(err)
		outcome.ErrorType = cls.Type
		o.log.Warn("delivery request rejected", "correlation_id", req.CorrelationID, "error", err)
		o.escalator.Notify(ctx, domain.Alert{
			Level:     domain.AlertWarning,
			Subject:   "invalid delivery request",
			Message:   err.Error(),
			Context:   map[string]any{"correlation_id": req.CorrelationID},
			Timestamp: time.Now(),
		})
		return o.finish(ctx, outcome, start, 0)
	}

	attempts := 0

	// 2. Obtain the artifact.
	artifact, err := o.obtainArtifact(ctx, req, &attempts)
	if err != nil {
		var rerr *retry.Error
		if errors.As(err, &rerr) {
			outcome.ErrorType = rerr.Classification.Type
		} else {
			outcome.ErrorType = o.classifier.Classify(err).Type
		}
		// Rendering failure is rare and always notification-worthy.
		o.escalator.Notify(ctx, domain.Alert{
			Level:                   domain.AlertCritical,
			Subject:                 "artifact rendering failed",
			Message:                 err.Error(),
			Context:                 map[string]any{"correlation_id": req.CorrelationID, "category": req.Category},
			RequiresImmediateAction: true,
			Timestamp:               time.Now(),
		})
		o.recordEvent(metrics.CategoryGeneration, false, false, time.Since(start), outcome.ErrorType)
		return o.finish(ctx, outcome, start, attempts)
	}
	outcome.ArtifactProduced = true

	// 3. Primary delivery.
	primaryResult, primaryErr := o.send(ctx, o.primary, req.Recipient, channel.Payload{
		Text:         confirmationText(req.Category),
		ArtifactName: artifactName(req),
		Artifact:     artifact,
	}, o.cfg.Policies.Primary, "primary send", &attempts)
	if primaryErr == nil {
		outcome.Success = true
		outcome.PrimaryUsed = true
		outcome.ChannelMessageID = primaryResult.MessageID
		return o.finish(ctx, outcome, start, attempts)
	}
	o.log.Warn("primary channel exhausted, degrading to fallback",
		"correlation_id", req.CorrelationID, "error", primaryErr)

	// 4. Fallback delivery with a degraded payload: reference link instead
	// of the attached artifact.
	var fallbackErr error
	if o.fallback != nil {
		var result *channel.SendResult
		result, fallbackErr = o.send(ctx, o.fallback, req.Recipient, channel.Payload{
			Text:         confirmationText(req.Category),
			ReferenceURL: o.cfg.ReferenceBaseURL + req.CorrelationID,
		}, o.cfg.Policies.Fallback, "fallback send", &attempts)
		if fallbackErr == nil {
			outcome.Success = true
			outcome.FallbackUsed = true
			outcome.ChannelMessageID = result.MessageID
			o.notifyRescuedFailure(ctx, req, primaryErr, attempts)
			return o.finish(ctx, outcome, start, attempts)
		}
	} else {
		fallbackErr = fmt.Errorf("no fallback channel configured")
	}

	// 5. Total failure: escalate once with the worst classification seen.
	worst := o.worstClassification(primaryErr, fallbackErr)
	outcome.ErrorType = worst.Type
	o.escalator.Notify(ctx, domain.Alert{
		Level:   domain.AlertCritical,
		Subject: "delivery failed on all channels",
		Message: fmt.Sprintf("primary: %v; fallback: %v", primaryErr, fallbackErr),
		Context: map[string]any{
			"correlation_id": req.CorrelationID,
			"category":       req.Category,
			"recipient":      req.Recipient,
			"attempts":       attempts,
		},
		RequiresImmediateAction: worst.Severity == classify.SeverityCritical || worst.NotifyAdmin,
		Timestamp:               time.Now(),
	})
	return o.finish(ctx, outcome, start, attempts)
}

// notifyRescuedFailure escalates a terminal primary-channel failure whose
// classification demands operator attention even though the fallback rescued
// the delivery. Without it, rotten credentials or a rate-limit ban on the
// primary channel would degrade every delivery silently.
func (o *Orchestrator) notifyRescuedFailure(
	ctx context.Context,
	req domain.DeliveryRequest,
	primaryErr error,
	attempts int,
) {
	cls := o.classify(primaryErr)
	if !cls.NotifyAdmin {
		return
	}

	level := domain.AlertWarning
	if cls.Severity == classify.SeverityCritical {
		level = domain.AlertCritical
	}
	o.escalator.Notify(ctx, domain.Alert{
		Level:   level,
		Subject: "primary channel failing",
		Message: fmt.Sprintf("deliveries degrading to fallback: %v", primaryErr),
		Context: map[string]any{
			"correlation_id": req.CorrelationID,
			"channel":        o.primary.Name(),
			"error_type":     cls.Type,
			"attempts":       attempts,
		},
		RequiresImmediateAction: cls.Severity == classify.SeverityCritical,
		Timestamp:               time.Now(),
	})
}

// Invalidate drops every cached artifact for a correlation id, in the local
// cache and the shared store. Required before re-delivery after a data
// correction; the pipeline does not detect staleness on its own.
func (o *Orchestrator) Invalidate(ctx context.Context, correlationID string) int {
	removed := o.artifacts.Invalidate(correlationID)
	if o.blobs != nil {
		if c, ok := o.blobs.(interface {
			InvalidateCorrelation(ctx context.Context, correlationID string) (int, error)
		}); ok {
			n, err := c.InvalidateCorrelation(ctx, correlationID)
			if err != nil {
				o.log.Warn("shared store invalidation failed",
					"correlation_id", correlationID, "error", err)
			}
			removed += n
		}
	}
	return removed
}

func validate(req domain.DeliveryRequest) error {
	switch {
	case req.Recipient == "":
		return fmt.Errorf("validation failed: empty recipient")
	case req.CorrelationID == "":
		return fmt.Errorf("validation failed: empty correlation id")
	case !req.Category.Valid():
		return fmt.Errorf("validation failed: unknown category %q", req.Category)
	case !req.Artifact.Renderable():
		return fmt.Errorf("validation failed: artifact descriptor not renderable")
	}
	return nil
}

// obtainArtifact checks the local cache, then the shared store, then renders
// through the retry executor. The cache lock is never held across the render.
func (o *Orchestrator) obtainArtifact(
	ctx context.Context,
	req domain.DeliveryRequest,
	attempts *int,
) ([]byte, error) {
	tier := tierFor(req.Artifact.Kind)
	key := req.Artifact.CacheKey

	if data, ok := o.artifacts.Get(tier, key); ok {
		metrics.CacheHits.WithLabelValues(string(tier)).Inc()
		return data, nil
	}
	metrics.CacheMisses.WithLabelValues(string(tier)).Inc()

	ttl := o.artifacts.TTL(tier)

	if o.blobs != nil {
		data, found, err := o.blobs.GetArtifact(ctx, string(tier), key)
		if err != nil {
			// Shared store outage degrades silently to a render.
			o.log.Warn("shared artifact store unavailable", "key", key, "error", err)
		} else if found {
			o.artifacts.Put(tier, key, data, ttl)
			return data, nil
		}
	}

	desc := req.Artifact
	if desc.Data == nil && o.regs != nil {
		reg, err := o.regs.Resolve(ctx, req.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("resolve render data: %w", err)
		}
		desc.Data = reg.Data
		if desc.Template == "" {
			desc.Template = reg.Template
		}
	}

	renderCtx, cancel := context.WithTimeout(ctx, o.cfg.Policies.Render.Deadline(o.cfg.OpTimeout))
	defer cancel()

	calls := 0
	data, err := retry.Execute(renderCtx, func(ctx context.Context) ([]byte, error) {
		calls++
		return o.renderer.Render(ctx, desc)
	}, o.cfg.Policies.Render, o.classifier, "render")
	*attempts += calls
	metrics.RetryAttempts.WithLabelValues("render").Observe(float64(calls))
	if err != nil {
		return nil, err
	}

	o.recordEvent(metrics.CategoryGeneration, true, false, 0, "")
	o.artifacts.Put(tier, key, data, ttl)
	if o.blobs != nil {
		if err := o.blobs.SetArtifact(ctx, string(tier), key, data, ttl); err != nil {
			o.log.Warn("shared artifact store write failed", "key", key, "error", err)
		}
	}
	metrics.CacheBytes.Set(float64(o.artifacts.Stats().Bytes))
	return data, nil
}

// send pushes one payload through a channel client under its retry policy
// and an overall deadline.
func (o *Orchestrator) send(
	ctx context.Context,
	client channel.Client,
	recipient string,
	payload channel.Payload,
	policy retry.Policy,
	opName string,
	attempts *int,
) (*channel.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, policy.Deadline(o.cfg.OpTimeout))
	defer cancel()

	calls := 0
	result, err := retry.Execute(sendCtx, func(ctx context.Context) (*channel.SendResult, error) {
		calls++
		return client.Send(ctx, recipient, payload)
	}, policy, o.classifier, opName)
	*attempts += calls
	metrics.RetryAttempts.WithLabelValues(opName).Observe(float64(calls))

	if err != nil {
		var rerr *retry.Error
		if errors.As(err, &rerr) {
			metrics.ChannelSendErrors.WithLabelValues(client.Name(), rerr.Classification.Type).Inc()
		}
		return nil, err
	}
	return result, nil
}

// finish closes the outcome, persists it, records metrics and raises
// condition-based alerts. It never fails.
func (o *Orchestrator) finish(
	ctx context.Context,
	outcome domain.DeliveryOutcome,
	start time.Time,
	attempts int,
) domain.DeliveryOutcome {
	outcome.RetryAttempts = attempts
	outcome.ProcessingTime = time.Since(start)
	outcome.CompletedAt = time.Now()

	o.recordEvent(metrics.CategoryDelivery, outcome.Success, outcome.FallbackUsed,
		outcome.ProcessingTime, outcome.ErrorType)

	result := "failure"
	channelName := "none"
	switch {
	case outcome.PrimaryUsed:
		result = "success"
		channelName = "primary"
	case outcome.FallbackUsed:
		result = "success"
		channelName = "fallback"
	}
	metrics.DeliveriesTotal.WithLabelValues(string(outcome.Category), channelName, result).Inc()
	metrics.DeliveryDuration.WithLabelValues(string(outcome.Category)).
		Observe(outcome.ProcessingTime.Seconds())

	if o.outcomes != nil {
		if err := o.outcomes.Record(ctx, outcome); err != nil {
			o.log.Error("failed to persist delivery outcome",
				"correlation_id", outcome.CorrelationID, "error", err)
		}
	}

	if outcome.Success && outcome.ProcessingTime >= o.cfg.SlowThreshold {
		o.aggregator.Raise(ctx, domain.Alert{
			Level:   domain.AlertWarning,
			Subject: "slow delivery",
			Message: fmt.Sprintf("delivery took %v", outcome.ProcessingTime.Round(time.Millisecond)),
			Context: map[string]any{"correlation_id": outcome.CorrelationID},
		})
	}
	if outcome.Success && attempts >= o.cfg.AlertRetryAttempts {
		o.aggregator.Raise(ctx, domain.Alert{
			Level:   domain.AlertWarning,
			Subject: "delivery needed repeated retries",
			Message: fmt.Sprintf("%d attempts before success", attempts),
			Context: map[string]any{"correlation_id": outcome.CorrelationID},
		})
	}

	o.log.Info("delivery finished",
		"correlation_id", outcome.CorrelationID,
		"success", outcome.Success,
		"fallback", outcome.FallbackUsed,
		"attempts", attempts,
		"duration", outcome.ProcessingTime.Round(time.Millisecond))
	return outcome
}

func (o *Orchestrator) recordEvent(
	category metrics.EventCategory,
	success, fallback bool,
	duration time.Duration,
	errorType string,
) {
	o.aggregator.Record(metrics.Event{
		Category:  category,
		Success:   success,
		Fallback:  fallback,
		Duration:  duration,
		ErrorType: errorType,
	})
}

// worstClassification picks the more severe of the two terminal errors.
func (o *Orchestrator) worstClassification(primaryErr, fallbackErr error) classify.Classification {
	a := o.classify(primaryErr)
	b := o.classify(fallbackErr)
	if classify.Worse(b.Severity, a.Severity) {
		return b
	}
	return a
}

func (o *Orchestrator) classify(err error) classify.Classification {
	var rerr *retry.Error
	if errors.As(err, &rerr) {
		return rerr.Classification
	}
	return o.classifier.Classify(err)
}

func tierFor(kind domain.ArtifactKind) cache.Tier {
	switch kind {
	case domain.ArtifactMarkup:
		return cache.TierMarkup
	case domain.ArtifactComponent:
		return cache.TierComponent
	case domain.ArtifactTemplate:
		return cache.TierTemplate
	default:
		return cache.TierBinary
	}
}

func confirmationText(category domain.Category) string {
	switch category {
	case domain.CategoryDonation:
		return "Thank you for your donation. Your confirmation is attached."
	case domain.CategoryReservation:
		return "Your reservation is confirmed. Details attached."
	case domain.CategoryBooking:
		return "Your booking is confirmed. Details attached."
	default:
		return "Your registration is confirmed. Details attached."
	}
}

func artifactName(req domain.DeliveryRequest) string {
	ext := "pdf"
	if req.Artifact.Kind == domain.ArtifactMarkup {
		ext = "html"
	}
	return fmt.Sprintf("%s-%s.%s", req.Category, req.CorrelationID, ext)
}
