package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/meetkit/booking-webhooks/internal/booking"
	"github.com/meetkit/booking-webhooks/internal/domain"
)

type BookingHandler struct {
	bookings *booking.Service
}

func NewBookingHandler(b *booking.Service) *BookingHandler {
	return &BookingHandler{bookings: b}
}

type bookingEventResponse struct {
	EventID          string `json:"event_id"`
	TriggerEvent     string `json:"trigger_event"`
	DeliveriesQueued int    `json:"deliveries_queued"`
}

// Create accepts a booking and emits BOOKING_CREATED.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.emit(w, r, h.bookings.BookingCreated)
}

// Reschedule accepts the updated booking and emits BOOKING_RESCHEDULED.
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.emit(w, r, h.bookings.BookingRescheduled)
}

// Cancel accepts the cancelled booking and emits BOOKING_CANCELLED.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.emit(w, r, h.bookings.BookingCancelled)
}

func (h *BookingHandler) emit(w http.ResponseWriter, r *http.Request, emit func(context.Context, domain.BookingPayload) (*domain.DomainEvent, int, error)) {
	var b domain.BookingPayload
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	event, queued, err := emit(r.Context(), b)
	if err != nil {
		if isValidationError(err) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to record booking event")
		return
	}

	respondJSON(w, http.StatusCreated, bookingEventResponse{
		EventID:          event.ID,
		TriggerEvent:     string(event.Trigger),
		DeliveriesQueued: queued,
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrInvalidTimeRange) ||
		errors.Is(err, domain.ErrNoAttendees) ||
		errors.Is(err, domain.ErrNoOrganizer)
}
