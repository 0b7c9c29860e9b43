package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calldesk/internal/domain"
)

// ContactStore is the contact half of store.Repository.
type ContactStore interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)
	UpsertContact(ctx context.Context, c *domain.Contact) error
	UpdateNotes(ctx context.Context, id, notes string) error
}

// ContactHandler serves contact notes and persists notes edited during calls.
type ContactHandler struct {
	repo   ContactStore
	logger *slog.Logger
}

// NewContactHandler creates a contact handler.
func NewContactHandler(repo ContactStore, logger *slog.Logger) *ContactHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactHandler{repo: repo, logger: logger}
}

// RegisterRoutes registers contact routes.
func (h *ContactHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/contacts/{id}", h.Get)
	r.Put("/api/contacts/{id}", h.Put)
}

// Get returns one contact.
func (h *ContactHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.repo.GetContact(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load contact", "contact_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load contact")
		return
	}
	if c == nil {
		Error(w, http.StatusNotFound, "contact not found")
		return
	}
	JSON(w, http.StatusOK, c)
}

// Put creates or replaces a contact.
func (h *ContactHandler) Put(w http.ResponseWriter, r *http.Request) {
	var c domain.Contact
	if err := decode(r, &c); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c.ID = chi.URLParam(r, "id")
	c.UpdatedAt = time.Now()
	if err := h.repo.UpsertContact(r.Context(), &c); err != nil {
		h.logger.Error("Failed to save contact", "contact_id", c.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save contact")
		return
	}
	JSON(w, http.StatusOK, c)
}

// PersistNotes is the orchestrator notes callback. The write runs in the
// background so typing never waits on the database.
func (h *ContactHandler) PersistNotes(contactID, notes string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateNotes(ctx, contactID, notes); err != nil {
			h.logger.Warn("Failed to persist contact notes", "contact_id", contactID, "error", err)
		}
	}()
}
