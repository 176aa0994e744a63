package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meetkit/booking-webhooks/internal/booking"
	"github.com/meetkit/booking-webhooks/internal/engine"
	"github.com/meetkit/booking-webhooks/internal/store"
	ws "github.com/meetkit/booking-webhooks/internal/websocket"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, bookings *booking.Service, dispatcher *engine.Dispatcher, cb *engine.CircuitBreaker, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	subHandler := NewSubscriptionHandler(pgStore, cb)
	bookingHandler := NewBookingHandler(bookings)
	eventHandler := NewEventHandler(pgStore)
	deliveryHandler := NewDeliveryHandler(pgStore)
	dlqHandler := NewDeadLetterHandler(pgStore)
	metricsHandler := NewMetricsHandler(pgStore, dispatcher, hub)

	// Live delivery feed
	r.Get("/ws", hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
			r.Delete("/{id}", subHandler.Delete)
			r.Get("/{id}/health", subHandler.Health)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", bookingHandler.Create)
			r.Post("/reschedule", bookingHandler.Reschedule)
			r.Post("/cancel", bookingHandler.Cancel)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", eventHandler.List)
			r.Get("/{id}", eventHandler.Get)
		})

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/{id}", deliveryHandler.Get)
		})

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Post("/{id}/resolve", dlqHandler.Resolve)
		})

		r.Get("/metrics", metricsHandler.Metrics)
	})

	return r
}
