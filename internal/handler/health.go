package handler

import (
	"net/http"

	natsclient "github.com/capitalize-ai/oncall-dispatch/internal/nats"
	"github.com/capitalize-ai/oncall-dispatch/internal/registry"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	registry   *registry.Registry
}

// NewHealthHandler creates a new health handler. natsClient is nil when the
// audit stream is disabled.
func NewHealthHandler(natsClient *natsclient.Client, reg *registry.Registry) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		registry:   reg,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.registry.Snapshot().Version == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "workflows not loaded",
		})
		return
	}
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
