// Package booking is the producer side: it turns booking changes into
// domain events and hands them to the dispatcher.
package booking

import (
	"context"
	"log/slog"

	"github.com/meetkit/booking-webhooks/internal/domain"
)

// SubscriptionSource supplies the subscriptions eligible for an event kind.
type SubscriptionSource interface {
	ListActiveByEventType(ctx context.Context, trigger domain.TriggerEvent) ([]domain.Subscription, error)
}

// EventLog persists emitted events.
type EventLog interface {
	InsertEvent(ctx context.Context, event *domain.DomainEvent) error
}

// EventDispatcher queues deliveries for an event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *domain.DomainEvent, subscriptions []domain.Subscription) (int, error)
}

// Service validates bookings and emits their events. Webhook delivery
// outcomes never affect the caller: once the booking itself is valid and
// logged, emission failures are logged and swallowed.
type Service struct {
	subscriptions SubscriptionSource
	events        EventLog
	dispatcher    EventDispatcher
	logger        *slog.Logger
}

func NewService(subs SubscriptionSource, events EventLog, dispatcher EventDispatcher, logger *slog.Logger) *Service {
	return &Service{
		subscriptions: subs,
		events:        events,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// BookingCreated emits a BOOKING_CREATED event for the booking.
func (s *Service) BookingCreated(ctx context.Context, b domain.BookingPayload) (*domain.DomainEvent, int, error) {
	return s.emit(ctx, domain.TriggerBookingCreated, b)
}

// BookingRescheduled emits a BOOKING_RESCHEDULED event for the booking.
func (s *Service) BookingRescheduled(ctx context.Context, b domain.BookingPayload) (*domain.DomainEvent, int, error) {
	return s.emit(ctx, domain.TriggerBookingRescheduled, b)
}

// BookingCancelled emits a BOOKING_CANCELLED event for the booking.
func (s *Service) BookingCancelled(ctx context.Context, b domain.BookingPayload) (*domain.DomainEvent, int, error) {
	return s.emit(ctx, domain.TriggerBookingCancelled, b)
}

// emit validates the booking, logs the event, and queues deliveries.
// Returns the event and the number of deliveries queued. Only validation
// and event-log failures are returned; dispatch failures are not.
func (s *Service) emit(ctx context.Context, trigger domain.TriggerEvent, b domain.BookingPayload) (*domain.DomainEvent, int, error) {
	event, err := domain.NewDomainEvent(trigger, b)
	if err != nil {
		return nil, 0, err
	}

	if err := s.events.InsertEvent(ctx, event); err != nil {
		return nil, 0, err
	}

	subs, err := s.subscriptions.ListActiveByEventType(ctx, trigger)
	if err != nil {
		s.logger.Error("failed to load subscriptions, event not delivered",
			"error", err,
			"event_id", event.ID,
			"trigger_event", trigger,
		)
		return event, 0, nil
	}

	queued, err := s.dispatcher.Dispatch(ctx, event, subs)
	if err != nil {
		s.logger.Error("dispatch failed, event logged but not delivered",
			"error", err,
			"event_id", event.ID,
			"trigger_event", trigger,
		)
		return event, 0, nil
	}

	return event, queued, nil
}
