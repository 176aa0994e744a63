package api

import (
	"net/http"

	"github.com/meetkit/booking-webhooks/internal/engine"
	"github.com/meetkit/booking-webhooks/internal/store"
	ws "github.com/meetkit/booking-webhooks/internal/websocket"
)

type MetricsHandler struct {
	store      *store.PostgresStore
	dispatcher *engine.Dispatcher
	hub        *ws.Hub
}

func NewMetricsHandler(s *store.PostgresStore, d *engine.Dispatcher, hub *ws.Hub) *MetricsHandler {
	return &MetricsHandler{store: s, dispatcher: d, hub: hub}
}

// Metrics returns aggregated delivery statistics.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.GetDeliveryMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	queueDepth, err := h.dispatcher.QueueDepth(r.Context())
	if err != nil {
		queueDepth = 0
	}

	type metricsResponse struct {
		store.DeliveryMetrics
		QueueDepth  int64 `json:"queue_depth"`
		FeedClients int   `json:"feed_clients"`
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		DeliveryMetrics: *metrics,
		QueueDepth:      queueDepth,
		FeedClients:     h.hub.ClientCount(),
	})
}
