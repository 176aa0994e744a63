package booking

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meetkit/booking-webhooks/internal/domain"
)

type stubSubscriptions struct {
	subs []domain.Subscription
	err  error
}

func (s *stubSubscriptions) ListActiveByEventType(_ context.Context, _ domain.TriggerEvent) ([]domain.Subscription, error) {
	return s.subs, s.err
}

type stubEventLog struct {
	inserted []*domain.DomainEvent
	err      error
}

func (l *stubEventLog) InsertEvent(_ context.Context, event *domain.DomainEvent) error {
	if l.err != nil {
		return l.err
	}
	l.inserted = append(l.inserted, event)
	return nil
}

type stubDispatcher struct {
	dispatched []*domain.DomainEvent
	queued     int
	err        error
}

func (d *stubDispatcher) Dispatch(_ context.Context, event *domain.DomainEvent, subs []domain.Subscription) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	d.dispatched = append(d.dispatched, event)
	return d.queued, nil
}

func validBooking() domain.BookingPayload {
	return domain.BookingPayload{
		Type:      "30min",
		Title:     "30min with Test Testson",
		StartTime: time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 9, 1, 14, 30, 0, 0, time.UTC),
		Organizer: domain.Person{Name: "Pro Example", Email: "pro@example.com", TimeZone: "Europe/London"},
		Attendees: []domain.Person{
			{Name: "Test Testson", Email: "test@example.com", TimeZone: "Europe/London"},
		},
	}
}

func newTestService(subs *stubSubscriptions, log *stubEventLog, d *stubDispatcher) *Service {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(subs, log, d, logger)
}

func TestBookingCreated_EmitsEventAndDispatches(t *testing.T) {
	subs := &stubSubscriptions{subs: []domain.Subscription{{ID: "sub-1", Active: true, EventTypes: []string{"BOOKING_CREATED"}}}}
	eventLog := &stubEventLog{}
	dispatcher := &stubDispatcher{queued: 1}

	svc := newTestService(subs, eventLog, dispatcher)

	event, queued, err := svc.BookingCreated(context.Background(), validBooking())
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.TriggerBookingCreated, event.Trigger)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, 1, queued)
	assert.Len(t, eventLog.inserted, 1)
	assert.Len(t, dispatcher.dispatched, 1)
}

func TestBookingRescheduledAndCancelled_UseTheirTriggers(t *testing.T) {
	subs := &stubSubscriptions{}
	eventLog := &stubEventLog{}
	dispatcher := &stubDispatcher{}
	svc := newTestService(subs, eventLog, dispatcher)
	ctx := context.Background()

	rescheduled, _, err := svc.BookingRescheduled(ctx, validBooking())
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerBookingRescheduled, rescheduled.Trigger)

	cancelled, _, err := svc.BookingCancelled(ctx, validBooking())
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerBookingCancelled, cancelled.Trigger)
}

func TestEmit_InvalidBookingRejectedBeforeDispatch(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.BookingPayload)
		wantErr error
	}{
		{
			name: "end before start",
			mutate: func(b *domain.BookingPayload) {
				b.EndTime = b.StartTime.Add(-time.Hour)
			},
			wantErr: domain.ErrInvalidTimeRange,
		},
		{
			name: "no attendees",
			mutate: func(b *domain.BookingPayload) {
				b.Attendees = nil
			},
			wantErr: domain.ErrNoAttendees,
		},
		{
			name: "missing organizer email",
			mutate: func(b *domain.BookingPayload) {
				b.Organizer.Email = ""
			},
			wantErr: domain.ErrNoOrganizer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eventLog := &stubEventLog{}
			dispatcher := &stubDispatcher{}
			svc := newTestService(&stubSubscriptions{}, eventLog, dispatcher)

			b := validBooking()
			tt.mutate(&b)

			_, _, err := svc.BookingCreated(context.Background(), b)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, eventLog.inserted, "invalid booking must not be logged")
			assert.Empty(t, dispatcher.dispatched, "invalid booking must not be dispatched")
		})
	}
}

func TestEmit_DispatchFailureDoesNotFailProducer(t *testing.T) {
	eventLog := &stubEventLog{}
	dispatcher := &stubDispatcher{err: errors.New("redis unavailable")}
	svc := newTestService(&stubSubscriptions{}, eventLog, dispatcher)

	event, queued, err := svc.BookingCreated(context.Background(), validBooking())

	require.NoError(t, err, "delivery failure must never reach the booking producer")
	require.NotNil(t, event)
	assert.Equal(t, 0, queued)
	assert.Len(t, eventLog.inserted, 1, "the event itself is still recorded")
}

func TestEmit_SubscriptionLookupFailureDoesNotFailProducer(t *testing.T) {
	subs := &stubSubscriptions{err: errors.New("postgres unavailable")}
	dispatcher := &stubDispatcher{}
	svc := newTestService(subs, &stubEventLog{}, dispatcher)

	event, queued, err := svc.BookingCreated(context.Background(), validBooking())

	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, 0, queued)
	assert.Empty(t, dispatcher.dispatched)
}

func TestEmit_EventLogFailureIsReturned(t *testing.T) {
	eventLog := &stubEventLog{err: errors.New("insert failed")}
	svc := newTestService(&stubSubscriptions{}, eventLog, &stubDispatcher{})

	_, _, err := svc.BookingCreated(context.Background(), validBooking())
	require.Error(t, err)
}
