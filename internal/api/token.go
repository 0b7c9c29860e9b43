package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/calldesk/internal/identity"
)

// TokenIssuer signs voice access tokens.
type TokenIssuer interface {
	Issue(identity string) (string, error)
}

// TokenHandler serves the voice credential endpoint.
type TokenHandler struct {
	issuer TokenIssuer
	logger *slog.Logger
}

// NewTokenHandler creates a token handler. A nil issuer answers 503.
func NewTokenHandler(issuer TokenIssuer, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{issuer: issuer, logger: logger}
}

// RegisterRoutes registers the token route.
func (h *TokenHandler) RegisterRoutes(r chi.Router) {
	r.Get("/voice-token", h.Token)
}

// Token issues a token for ?identity=, or for a fresh device identity.
func (h *TokenHandler) Token(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil {
		Error(w, http.StatusServiceUnavailable, "voice tokens not configured")
		return
	}
	id, ok := identity.FromRequest(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid identity")
		return
	}

	tok, err := h.issuer.Issue(id)
	if err != nil {
		h.logger.Error("Failed to issue voice token", "identity", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.logger.Info("Voice token issued", "identity", id, "ip", identity.IPFromRequest(r))
	JSON(w, http.StatusOK, map[string]string{"token": tok, "identity": id})
}
