package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TriggerEvent identifies the kind of booking occurrence an event carries.
// The string values are the wire-level discriminators and must never change.
type TriggerEvent string

const (
	TriggerBookingCreated     TriggerEvent = "BOOKING_CREATED"
	TriggerBookingRescheduled TriggerEvent = "BOOKING_RESCHEDULED"
	TriggerBookingCancelled   TriggerEvent = "BOOKING_CANCELLED"
)

// Valid reports whether t is a known trigger kind.
func (t TriggerEvent) Valid() bool {
	switch t {
	case TriggerBookingCreated, TriggerBookingRescheduled, TriggerBookingCancelled:
		return true
	}
	return false
}

// DomainEvent is a booking occurrence handed to the dispatcher by the
// producing side. The ID is assigned at construction, not by storage.
type DomainEvent struct {
	ID      string         `json:"id"`
	Trigger TriggerEvent   `json:"trigger"`
	Booking BookingPayload `json:"booking"`
}

// NewDomainEvent validates the booking and wraps it in an event.
func NewDomainEvent(trigger TriggerEvent, booking BookingPayload) (*DomainEvent, error) {
	if !trigger.Valid() {
		return nil, fmt.Errorf("unknown trigger event %q", trigger)
	}
	if err := booking.Validate(); err != nil {
		return nil, err
	}
	return &DomainEvent{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Booking: booking,
	}, nil
}

// EventLogEntry is a persisted domain event, as read back from storage.
type EventLogEntry struct {
	ID        string         `json:"id"`
	Trigger   TriggerEvent   `json:"trigger"`
	Booking   BookingPayload `json:"booking"`
	CreatedAt time.Time      `json:"created_at"`
}

// WebhookEnvelope is the canonical body posted to subscriber endpoints.
// CreatedAt reflects dispatch time, not the booking's creation time.
type WebhookEnvelope struct {
	TriggerEvent TriggerEvent   `json:"triggerEvent"`
	CreatedAt    time.Time      `json:"createdAt"`
	Payload      BookingPayload `json:"payload"`
}
