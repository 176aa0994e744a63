package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/meetkit/booking-webhooks/internal/domain"
	"github.com/meetkit/booking-webhooks/internal/engine"
	"github.com/meetkit/booking-webhooks/internal/store"
)

type SubscriptionHandler struct {
	store          *store.PostgresStore
	circuitBreaker *engine.CircuitBreaker
}

func NewSubscriptionHandler(s *store.PostgresStore, cb *engine.CircuitBreaker) *SubscriptionHandler {
	return &SubscriptionHandler{store: s, circuitBreaker: cb}
}

// validSubscriberURL reports whether raw is an absolute http(s) URL.
// Malformed URLs are rejected here, at creation time, not at dispatch.
func validSubscriberURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validEventTypes(types []string) bool {
	if len(types) == 0 {
		return false
	}
	for _, et := range types {
		if !domain.TriggerEvent(et).Valid() {
			return false
		}
	}
	return true
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !validSubscriberURL(req.SubscriberURL) {
		respondError(w, http.StatusBadRequest, "subscriber_url must be an absolute http(s) URL")
		return
	}
	if !validEventTypes(req.EventTypes) {
		respondError(w, http.StatusBadRequest, "event_types must contain at least one known trigger event")
		return
	}
	if req.RateLimitPerSecond < 0 || req.TimeoutSeconds < 0 {
		respondError(w, http.StatusBadRequest, "rate_limit_per_second and timeout_seconds must not be negative")
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, domain.CreateSubscriptionResponse{
		ID:            sub.ID,
		SubscriberURL: sub.SubscriberURL,
		Secret:        sub.Secret,
	})
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.ListSubscriptions(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	// Secrets are returned once, at creation
	for i := range subs {
		subs[i].Secret = ""
	}

	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	sub.Secret = ""
	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SubscriberURL != nil && !validSubscriberURL(*req.SubscriberURL) {
		respondError(w, http.StatusBadRequest, "subscriber_url must be an absolute http(s) URL")
		return
	}
	if req.EventTypes != nil && !validEventTypes(*req.EventTypes) {
		respondError(w, http.StatusBadRequest, "event_types must contain at least one known trigger event")
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	sub.Secret = ""
	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.store.DeleteSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) Health(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	type healthResponse struct {
		SubscriptionID string                     `json:"subscription_id"`
		SubscriberURL  string                     `json:"subscriber_url"`
		Active         bool                       `json:"active"`
		CircuitBreaker engine.CircuitBreakerState `json:"circuit_breaker"`
	}

	respondJSON(w, http.StatusOK, healthResponse{
		SubscriptionID: sub.ID,
		SubscriberURL:  sub.SubscriberURL,
		Active:         sub.Active,
		CircuitBreaker: h.circuitBreaker.GetState(r.Context(), id),
	})
}
