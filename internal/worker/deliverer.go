package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/meetkit/booking-webhooks/internal/domain"
	"github.com/meetkit/booking-webhooks/internal/engine"
	"github.com/meetkit/booking-webhooks/internal/store"
	ws "github.com/meetkit/booking-webhooks/internal/websocket"
)

// AttemptRecorder persists delivery outcomes.
type AttemptRecorder interface {
	RecordDeliveryAttempt(ctx context.Context, rec store.DeliveryAttemptRecord) error
	InsertDeadLetter(ctx context.Context, rec store.DeadLetterRecord) error
}

// Deliverer performs the HTTP delivery of webhook envelopes to subscriber
// URLs. A failed delivery never propagates beyond its own job: the outcome
// is recorded and, when the retry budget allows, the job is re-queued.
type Deliverer struct {
	httpClient     *http.Client
	recorder       AttemptRecorder
	dispatcher     *engine.Dispatcher
	circuitBreaker *engine.CircuitBreaker
	rateLimiter    *engine.RateLimiter
	hub            *ws.Hub
	logger         *slog.Logger
	defaultTimeout time.Duration
	backoffBase    time.Duration
}

// DelivererConfig wires the deliverer's collaborators.
type DelivererConfig struct {
	Recorder       AttemptRecorder
	Dispatcher     *engine.Dispatcher
	CircuitBreaker *engine.CircuitBreaker
	RateLimiter    *engine.RateLimiter
	Hub            *ws.Hub
	Logger         *slog.Logger
	DefaultTimeout time.Duration
	BackoffBase    time.Duration
}

func NewDeliverer(cfg DelivererConfig) *Deliverer {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	return &Deliverer{
		// The client timeout is a backstop; each call gets a context
		// deadline from the job's own timeout.
		httpClient:     &http.Client{Timeout: cfg.DefaultTimeout},
		recorder:       cfg.Recorder,
		dispatcher:     cfg.Dispatcher,
		circuitBreaker: cfg.CircuitBreaker,
		rateLimiter:    cfg.RateLimiter,
		hub:            cfg.Hub,
		logger:         cfg.Logger,
		defaultTimeout: cfg.DefaultTimeout,
		backoffBase:    cfg.BackoffBase,
	}
}

// Deliver posts the job's envelope to the subscriber URL, signing it with
// HMAC-SHA256, and records the attempt.
func (d *Deliverer) Deliver(ctx context.Context, job engine.DeliveryJob) {
	if state, allowed := d.circuitBreaker.AllowRequest(ctx, job.SubscriptionID); !allowed {
		d.logger.Warn("delivery skipped, circuit open",
			"event_id", job.EventID,
			"subscription_id", job.SubscriptionID,
			"state", state,
		)
		d.finish(ctx, job, outcome{
			status: domain.AttemptSkipped,
			errMsg: "circuit breaker open",
		}, time.Now())
		return
	}

	if !d.rateLimiter.Allow(ctx, job.SubscriptionID, job.RateLimitPerSecond) {
		// Rate limited: push back without consuming an attempt.
		if err := d.dispatcher.Requeue(ctx, job, time.Now().Add(250*time.Millisecond)); err != nil {
			d.logger.Error("failed to requeue rate-limited job",
				"error", err,
				"event_id", job.EventID,
				"subscription_id", job.SubscriptionID,
			)
		}
		return
	}

	start := time.Now()

	timeout := d.defaultTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, job.SubscriberURL, bytes.NewReader(job.Payload))
	if err != nil {
		d.finish(ctx, job, outcome{
			status: domain.AttemptFailed,
			errMsg: fmt.Sprintf("failed to create request: %v", err),
		}, start)
		return
	}

	signature := computeHMAC(job.Payload, job.Secret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", job.TriggerEvent)
	req.Header.Set("X-Webhook-ID", job.EventID)
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", job.Attempt))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.finish(ctx, job, outcome{
			status: domain.AttemptFailed,
			errMsg: fmt.Sprintf("request failed: %v", err),
		}, start)
		return
	}
	defer resp.Body.Close()

	// Response snippet only, capped at 1KB
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	status := domain.AttemptSuccess
	errMsg := ""
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status = domain.AttemptFailed
		errMsg = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}

	d.finish(ctx, job, outcome{
		status:       status,
		statusCode:   &resp.StatusCode,
		responseBody: string(body),
		errMsg:       errMsg,
	}, start)
}

type outcome struct {
	status       string
	statusCode   *int
	responseBody string
	errMsg       string
}

// finish records the attempt, updates the circuit breaker, broadcasts to the
// live feed, and either schedules a retry or dead-letters the job.
func (d *Deliverer) finish(ctx context.Context, job engine.DeliveryJob, out outcome, start time.Time) {
	elapsed := time.Since(start).Milliseconds()

	var nextRetryAt *time.Time
	retrying := out.status != domain.AttemptSuccess && job.Attempt < job.MaxAttempts
	if retrying {
		at := time.Now().Add(d.backoff(job.Attempt))
		nextRetryAt = &at
	}

	err := d.recorder.RecordDeliveryAttempt(ctx, store.DeliveryAttemptRecord{
		EventID:        job.EventID,
		SubscriptionID: job.SubscriptionID,
		TriggerEvent:   job.TriggerEvent,
		AttemptNumber:  job.Attempt,
		Status:         out.status,
		HTTPStatusCode: out.statusCode,
		ResponseBody:   out.responseBody,
		ResponseTimeMs: int(elapsed),
		ErrorMessage:   out.errMsg,
		NextRetryAt:    nextRetryAt,
	})
	if err != nil {
		d.logger.Error("failed to record delivery attempt",
			"error", err,
			"event_id", job.EventID,
			"subscription_id", job.SubscriptionID,
		)
	}

	switch out.status {
	case domain.AttemptSuccess:
		d.circuitBreaker.RecordSuccess(ctx, job.SubscriptionID)
		d.logger.Info("delivery successful",
			"event_id", job.EventID,
			"subscription_id", job.SubscriptionID,
			"attempt", job.Attempt,
			"status_code", out.statusCode,
			"response_time_ms", elapsed,
		)
	case domain.AttemptFailed:
		d.circuitBreaker.RecordFailure(ctx, job.SubscriptionID)
		fallthrough
	default:
		d.logger.Warn("delivery failed",
			"event_id", job.EventID,
			"subscription_id", job.SubscriptionID,
			"attempt", job.Attempt,
			"status", out.status,
			"error", out.errMsg,
			"status_code", out.statusCode,
			"response_time_ms", elapsed,
		)
	}

	d.broadcast(job, out, elapsed, retrying)

	if out.status == domain.AttemptSuccess {
		return
	}

	if retrying {
		retry := job
		retry.Attempt++
		if err := d.dispatcher.Requeue(ctx, retry, *nextRetryAt); err != nil {
			d.logger.Error("failed to requeue retry",
				"error", err,
				"event_id", job.EventID,
				"subscription_id", job.SubscriptionID,
			)
		}
		return
	}

	err = d.recorder.InsertDeadLetter(ctx, store.DeadLetterRecord{
		EventID:        job.EventID,
		SubscriptionID: job.SubscriptionID,
		TotalAttempts:  job.Attempt,
		LastHTTPStatus: out.statusCode,
		LastError:      out.errMsg,
	})
	if err != nil {
		d.logger.Error("failed to insert dead letter",
			"error", err,
			"event_id", job.EventID,
			"subscription_id", job.SubscriptionID,
		)
	}
}

func (d *Deliverer) backoff(attempt int) time.Duration {
	backoff := d.backoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

func (d *Deliverer) broadcast(job engine.DeliveryJob, out outcome, elapsedMs int64, retrying bool) {
	if d.hub == nil {
		return
	}

	feedType := "delivery_success"
	switch {
	case retrying:
		feedType = "delivery_retrying"
	case out.status == domain.AttemptSkipped:
		feedType = "delivery_skipped"
	case out.status == domain.AttemptFailed:
		feedType = "delivery_dead_lettered"
	}

	d.hub.Broadcast(ws.DeliveryEvent{
		Type:           feedType,
		EventID:        job.EventID,
		SubscriptionID: job.SubscriptionID,
		SubscriberURL:  job.SubscriberURL,
		TriggerEvent:   job.TriggerEvent,
		Attempt:        job.Attempt,
		StatusCode:     out.statusCode,
		ResponseMs:     elapsedMs,
		Error:          out.errMsg,
		Timestamp:      time.Now().UTC(),
	})
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
