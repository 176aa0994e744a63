package domain

import (
	"errors"
	"time"
)

// Person is an organizer or attendee on a booking.
type Person struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TimeZone string `json:"timeZone"`
}

// BookingPayload is the kind-specific payload for booking triggers.
// Type carries the slot-duration identifier (e.g. "30min").
type BookingPayload struct {
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	Organizer   Person    `json:"organizer"`
	Attendees   []Person  `json:"attendees"`
}

var (
	ErrInvalidTimeRange = errors.New("startTime must be before endTime")
	ErrNoAttendees      = errors.New("booking requires at least one attendee")
	ErrNoOrganizer      = errors.New("organizer email is required")
)

// Validate enforces the structural invariants every dispatched booking holds.
func (b BookingPayload) Validate() error {
	if !b.StartTime.Before(b.EndTime) {
		return ErrInvalidTimeRange
	}
	if len(b.Attendees) == 0 {
		return ErrNoAttendees
	}
	if b.Organizer.Email == "" {
		return ErrNoOrganizer
	}
	return nil
}
