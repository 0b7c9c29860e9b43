package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calldesk/internal/domain"
)

const maxHistoryLimit = 200

// CallLister reads call history.
type CallLister interface {
	ListCallRecords(ctx context.Context, limit int) ([]*domain.CallRecord, error)
}

// CallsHandler serves local call history.
type CallsHandler struct {
	repo   CallLister
	logger *slog.Logger
}

// NewCallsHandler creates a call history handler.
func NewCallsHandler(repo CallLister, logger *slog.Logger) *CallsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallsHandler{repo: repo, logger: logger}
}

// RegisterRoutes registers history routes.
func (h *CallsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/calls", h.List)
}

// List returns recent calls, newest first.
func (h *CallsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recs, err := h.repo.ListCallRecords(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list calls", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	if recs == nil {
		recs = []*domain.CallRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"calls": recs})
}
