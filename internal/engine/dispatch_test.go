package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/meetkit/booking-webhooks/internal/domain"
)

func setupTestDispatcher(t *testing.T, maxAttempts int) (*Dispatcher, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewDispatcher(client, maxAttempts, logger), client
}

func testBooking() domain.BookingPayload {
	return domain.BookingPayload{
		Type:        "30min",
		Title:       "30min with Test Testson",
		Description: "",
		StartTime:   time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC),
		Organizer:   domain.Person{Name: "Pro Example", Email: "pro@example.com", TimeZone: "Europe/London"},
		Attendees: []domain.Person{
			{Name: "Test Testson", Email: "test@example.com", TimeZone: "Europe/London"},
		},
	}
}

func testEvent(t *testing.T) *domain.DomainEvent {
	t.Helper()
	event, err := domain.NewDomainEvent(domain.TriggerBookingCreated, testBooking())
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	return event
}

func activeSubscription(id string, eventTypes ...string) domain.Subscription {
	return domain.Subscription{
		ID:            id,
		SubscriberURL: "http://example.com/hooks/" + id,
		Secret:        "whsec_" + id,
		Active:        true,
		EventTypes:    eventTypes,
	}
}

func queuedJobs(t *testing.T, client *redis.Client) []DeliveryJob {
	t.Helper()
	members, err := client.ZRange(context.Background(), DeliveryQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("failed to read queue: %v", err)
	}

	jobs := make([]DeliveryJob, 0, len(members))
	for _, m := range members {
		var job DeliveryJob
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			t.Fatalf("failed to unmarshal queued job: %v", err)
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func TestDispatch_QueuesJobPerMatchingSubscription(t *testing.T) {
	d, client := setupTestDispatcher(t, 1)
	ctx := context.Background()

	subs := []domain.Subscription{
		activeSubscription("sub-1", "BOOKING_CREATED"),
		activeSubscription("sub-2", "BOOKING_CREATED", "BOOKING_CANCELLED"),
	}

	queued, err := d.Dispatch(ctx, testEvent(t), subs)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if queued != 2 {
		t.Errorf("expected 2 deliveries queued, got %d", queued)
	}

	jobs := queuedJobs(t, client)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs in queue, got %d", len(jobs))
	}

	seen := map[string]bool{}
	for _, job := range jobs {
		seen[job.SubscriptionID] = true
		if job.Attempt != 1 {
			t.Errorf("new job should start at attempt 1, got %d", job.Attempt)
		}
		if job.TriggerEvent != "BOOKING_CREATED" {
			t.Errorf("job trigger = %q, want BOOKING_CREATED", job.TriggerEvent)
		}
	}
	if !seen["sub-1"] || !seen["sub-2"] {
		t.Errorf("expected jobs for sub-1 and sub-2, got %v", seen)
	}
}

func TestDispatch_InactiveSubscriptionGetsNothing(t *testing.T) {
	d, client := setupTestDispatcher(t, 1)
	ctx := context.Background()

	inactive := activeSubscription("sub-off", "BOOKING_CREATED")
	inactive.Active = false

	queued, err := d.Dispatch(ctx, testEvent(t), []domain.Subscription{inactive})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if queued != 0 {
		t.Errorf("deactivated subscription should receive zero deliveries, got %d", queued)
	}

	if jobs := queuedJobs(t, client); len(jobs) != 0 {
		t.Errorf("queue should be empty, found %d jobs", len(jobs))
	}
}

func TestDispatch_EventTypeSetIsExactMembership(t *testing.T) {
	d, client := setupTestDispatcher(t, 1)
	ctx := context.Background()

	subs := []domain.Subscription{
		activeSubscription("sub-cancel-only", "BOOKING_CANCELLED"),
		activeSubscription("sub-created", "BOOKING_CREATED"),
	}

	queued, err := d.Dispatch(ctx, testEvent(t), subs)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if queued != 1 {
		t.Fatalf("expected 1 delivery queued, got %d", queued)
	}

	jobs := queuedJobs(t, client)
	if jobs[0].SubscriptionID != "sub-created" {
		t.Errorf("job queued for %q, want sub-created", jobs[0].SubscriptionID)
	}
}

func TestDispatch_EnvelopeShape(t *testing.T) {
	d, client := setupTestDispatcher(t, 1)
	ctx := context.Background()

	dispatchTime := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	d.now = func() time.Time { return dispatchTime }

	_, err := d.Dispatch(ctx, testEvent(t), []domain.Subscription{
		activeSubscription("sub-1", "BOOKING_CREATED"),
	})
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	jobs := queuedJobs(t, client)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}

	var envelope domain.WebhookEnvelope
	if err := json.Unmarshal(jobs[0].Payload, &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}

	if envelope.TriggerEvent != domain.TriggerBookingCreated {
		t.Errorf("triggerEvent = %q, want BOOKING_CREATED", envelope.TriggerEvent)
	}
	if envelope.Payload.Title != "30min with Test Testson" {
		t.Errorf("payload.title = %q", envelope.Payload.Title)
	}
	if envelope.Payload.Type != "30min" {
		t.Errorf("payload.type = %q, want 30min", envelope.Payload.Type)
	}
	if envelope.Payload.Description != "" {
		t.Errorf("payload.description should be empty, got %q", envelope.Payload.Description)
	}
	if len(envelope.Payload.Attendees) != 1 {
		t.Fatalf("expected 1 attendee, got %d", len(envelope.Payload.Attendees))
	}
	if envelope.Payload.Attendees[0].Email != "test@example.com" {
		t.Errorf("attendee email = %q", envelope.Payload.Attendees[0].Email)
	}
	if envelope.Payload.Organizer.Email != "pro@example.com" {
		t.Errorf("organizer email = %q", envelope.Payload.Organizer.Email)
	}

	// createdAt reflects dispatch time, not the booking's own times
	if !envelope.CreatedAt.Equal(dispatchTime) {
		t.Errorf("createdAt = %v, want dispatch time %v", envelope.CreatedAt, dispatchTime)
	}
}

func TestDispatch_SameEventProducesIdenticalBytes(t *testing.T) {
	d, client := setupTestDispatcher(t, 1)
	ctx := context.Background()

	d.now = func() time.Time { return time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC) }

	event := testEvent(t)
	subs := []domain.Subscription{
		activeSubscription("sub-a", "BOOKING_CREATED"),
		activeSubscription("sub-b", "BOOKING_CREATED"),
	}

	if _, err := d.Dispatch(ctx, event, subs); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	jobs := queuedJobs(t, client)
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if string(jobs[0].Payload) != string(jobs[1].Payload) {
		t.Error("every subscription should receive the same envelope bytes")
	}
}

func TestRequeue_SchedulesJobAtGivenTime(t *testing.T) {
	d, client := setupTestDispatcher(t, 3)
	ctx := context.Background()

	job := DeliveryJob{
		EventID:        "evt-1",
		SubscriptionID: "sub-1",
		SubscriberURL:  "http://example.com/hook",
		Payload:        json.RawMessage(`{}`),
		Attempt:        2,
		MaxAttempts:    3,
	}

	at := time.Now().Add(10 * time.Second)
	if err := d.Requeue(ctx, job, at); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}

	depth, err := d.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("queue depth failed: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected queue depth 1, got %d", depth)
	}

	scores, err := client.ZRangeWithScores(ctx, DeliveryQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatalf("failed to read scores: %v", err)
	}
	if int64(scores[0].Score) != at.UnixMicro() {
		t.Errorf("retry scheduled at score %f, want %d", scores[0].Score, at.UnixMicro())
	}
}

func TestQueueDepth_Empty(t *testing.T) {
	d, _ := setupTestDispatcher(t, 1)

	depth, err := d.QueueDepth(context.Background())
	if err != nil {
		t.Fatalf("queue depth failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected empty queue, got depth %d", depth)
	}
}
