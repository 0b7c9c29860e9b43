package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calldesk/internal/call"
	"github.com/ashureev/calldesk/internal/telephony"
)

// Dialer is the slice of the telephony bridge the session API drives.
type Dialer interface {
	MakeCall(ctx context.Context, phone string) error
	HangUp()
	Status() telephony.Status
}

// SessionHandler exposes the call session over REST.
type SessionHandler struct {
	orch   *call.Orchestrator
	dialer Dialer
	logger *slog.Logger

	// dialLock rejects a second dial request while one is connecting.
	dialLock sync.Mutex
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(orch *call.Orchestrator, dialer Dialer, logger *slog.Logger) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{orch: orch, dialer: dialer, logger: logger}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/popup", h.OpenPopup)
		r.Delete("/popup", h.ClosePopup)
		r.Post("/popup/reopen", h.ReopenPopup)
		r.Post("/mini-player", h.OpenMiniPlayer)
		r.Delete("/mini-player", h.CloseMiniPlayer)
		r.Post("/call", h.Call)
		r.Post("/hangup", h.HangUp)
		r.Put("/notes", h.UpdateNotes)
	})
	r.Get("/api/device", h.Device)
}

type openRequest struct {
	PhoneNumber string `json:"phone_number"`
	ContactID   string `json:"contact_id"`
	Notes       string `json:"notes"`
}

// Get returns the current snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// OpenPopup opens the popup for a number.
func (h *SessionHandler) OpenPopup(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		Error(w, http.StatusBadRequest, "phone_number is required")
		return
	}
	if err := h.orch.OpenPopup(req.PhoneNumber); err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// OpenMiniPlayer opens the mini-player linked to a contact.
func (h *SessionHandler) OpenMiniPlayer(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhoneNumber == "" {
		Error(w, http.StatusBadRequest, "phone_number is required")
		return
	}
	if err := h.orch.OpenMiniPlayer(req.PhoneNumber, req.ContactID, req.Notes); err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// ClosePopup hides the popup.
func (h *SessionHandler) ClosePopup(w http.ResponseWriter, _ *http.Request) {
	h.orch.ClosePopup()
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// ReopenPopup shows both surfaces.
func (h *SessionHandler) ReopenPopup(w http.ResponseWriter, _ *http.Request) {
	h.orch.ReopenPopup()
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// CloseMiniPlayer discards an idle session.
func (h *SessionHandler) CloseMiniPlayer(w http.ResponseWriter, _ *http.Request) {
	if err := h.orch.CloseMiniPlayer(); err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// Call dials the number of the current session.
func (h *SessionHandler) Call(w http.ResponseWriter, r *http.Request) {
	if !h.dialLock.TryLock() {
		h.logger.Warn("Dial already in progress")
		Error(w, http.StatusConflict, call.ErrCallInProgress.Error())
		return
	}
	defer h.dialLock.Unlock()

	snap := h.orch.Snapshot()
	if snap.Session == nil {
		h.fail(w, call.ErrNoSession)
		return
	}

	// Detach from the request so a client timeout does not abort the dial.
	ctx := context.WithoutCancel(r.Context())
	if err := h.dialer.MakeCall(ctx, snap.Session.PhoneNumber); err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusAccepted, h.orch.Snapshot())
}

// HangUp ends the current call or session.
func (h *SessionHandler) HangUp(w http.ResponseWriter, _ *http.Request) {
	if !h.orch.HangUp() {
		// No surface is mounted to own the hook; go to the bridge directly.
		h.dialer.HangUp()
	}
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// UpdateNotes replaces the linked contact notes.
func (h *SessionHandler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.orch.UpdateNotes(req.Notes)
	JSON(w, http.StatusOK, h.orch.Snapshot())
}

// Device returns the voice device status.
func (h *SessionHandler) Device(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.dialer.Status())
}

// fail maps session and telephony errors to HTTP statuses.
func (h *SessionHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, call.ErrCallInProgress), errors.Is(err, telephony.ErrCallInProgress):
		Error(w, http.StatusConflict, call.ErrCallInProgress.Error())
	case errors.Is(err, call.ErrNoSession):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, telephony.ErrDialAbandoned):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, telephony.ErrNotInitialized), errors.Is(err, telephony.ErrDeviceOffline), errors.Is(err, telephony.ErrClosed):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Session request failed", "error", err)
		Error(w, http.StatusBadGateway, "call failed")
	}
}
