package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meetkit/booking-webhooks/internal/domain"
)

const DeliveryQueueKey = "delivery_queue"

// DeliveryJob is a single webhook delivery task queued in Redis. Payload
// holds the serialized envelope so every attempt posts identical bytes.
type DeliveryJob struct {
	EventID            string          `json:"event_id"`
	SubscriptionID     string          `json:"subscription_id"`
	SubscriberURL      string          `json:"subscriber_url"`
	Payload            json.RawMessage `json:"payload"`
	Secret             string          `json:"secret"`
	TriggerEvent       string          `json:"trigger_event"`
	Attempt            int             `json:"attempt"`
	MaxAttempts        int             `json:"max_attempts"`
	RateLimitPerSecond int             `json:"rate_limit_per_second"`
	TimeoutSeconds     int             `json:"timeout_seconds"`
}

// Dispatcher fans a domain event out to matching subscriptions by queuing
// one delivery job per subscription.
type Dispatcher struct {
	redisClient *redis.Client
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

func NewDispatcher(redisClient *redis.Client, maxAttempts int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		redisClient: redisClient,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Dispatch serializes the canonical envelope for the event and queues one
// delivery job for each active subscription whose event-type set contains
// the event's kind. The envelope's createdAt is stamped here, at dispatch
// time. Returns the number of deliveries queued.
func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.DomainEvent, subscriptions []domain.Subscription) (int, error) {
	envelope := domain.WebhookEnvelope{
		TriggerEvent: event.Trigger,
		CreatedAt:    d.now().UTC(),
		Payload:      event.Booking,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("serializing envelope for event %s: %w", event.ID, err)
	}

	matched := 0
	pipe := d.redisClient.Pipeline()

	for _, sub := range subscriptions {
		if !sub.WantsEvent(event.Trigger) {
			continue
		}

		job := DeliveryJob{
			EventID:            event.ID,
			SubscriptionID:     sub.ID,
			SubscriberURL:      sub.SubscriberURL,
			Payload:            body,
			Secret:             sub.Secret,
			TriggerEvent:       string(event.Trigger),
			Attempt:            1,
			MaxAttempts:        d.maxAttempts,
			RateLimitPerSecond: sub.RateLimitPerSecond,
			TimeoutSeconds:     sub.TimeoutSeconds,
		}

		jobBytes, err := json.Marshal(job)
		if err != nil {
			d.logger.Error("failed to marshal delivery job",
				"error", err,
				"event_id", event.ID,
				"subscription_id", sub.ID,
			)
			continue
		}

		pipe.ZAdd(ctx, DeliveryQueueKey, redis.Z{
			Score:  float64(d.now().UnixMicro()),
			Member: string(jobBytes),
		})
		matched++
	}

	if matched == 0 {
		d.logger.Info("no matching subscriptions",
			"event_id", event.ID,
			"trigger_event", event.Trigger,
		)
		return 0, nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queuing deliveries: %w", err)
	}

	d.logger.Info("dispatch complete",
		"event_id", event.ID,
		"trigger_event", event.Trigger,
		"deliveries_queued", matched,
	)

	return matched, nil
}

// Requeue schedules a retry of a failed job at the given time.
func (d *Dispatcher) Requeue(ctx context.Context, job DeliveryJob, at time.Time) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling retry job: %w", err)
	}

	err = d.redisClient.ZAdd(ctx, DeliveryQueueKey, redis.Z{
		Score:  float64(at.UnixMicro()),
		Member: string(jobBytes),
	}).Err()
	if err != nil {
		return fmt.Errorf("queuing retry: %w", err)
	}
	return nil
}

// QueueDepth returns the current number of jobs waiting in the delivery queue.
func (d *Dispatcher) QueueDepth(ctx context.Context) (int64, error) {
	return d.redisClient.ZCard(ctx, DeliveryQueueKey).Result()
}
