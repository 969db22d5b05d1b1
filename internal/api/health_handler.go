package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/atspro/task-service/internal/api/shared"
	"github.com/atspro/task-service/internal/redact"
)

// Pinger reports reachability of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports store and broker reachability. It is mounted
// outside the authenticated route group.
type HealthHandler struct {
	store  Pinger
	broker Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store, broker Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:  store,
		broker: broker,
		logger: logger,
	}
}

// Health handles GET /health. Either dependency being unreachable makes the
// service unhealthy (503): without the store nothing is durable, and
// without the broker nothing runs.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok", Broker: "ok"}
	status := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("store health check failed", "error", redact.Error(err))
		resp.Store = "unreachable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if err := h.broker.Ping(r.Context()); err != nil {
		h.logger.Error("broker health check failed", "error", redact.Error(err))
		resp.Broker = "unreachable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	shared.RespondWithJSON(w, r, status, resp)
}
