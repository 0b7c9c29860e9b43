package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the state of the database and the voice device.
type HealthHandler struct {
	repo    Pinger
	device  func() bool
	timeout time.Duration
}

// NewHealthHandler creates a health handler. device reports whether the
// voice device is registered.
func NewHealthHandler(repo Pinger, device func() bool) *HealthHandler {
	return &HealthHandler{repo: repo, device: device, timeout: 5 * time.Second}
}

// Health returns the health status of the API and its dependencies. An
// unregistered device degrades the report but keeps the status 200.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.device != nil && h.device() {
		checks["voice_device"] = "registered"
	} else {
		checks["voice_device"] = "offline"
		status = "degraded"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
