package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/secure-session-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-core/internal/http/response"
	"github.com/sandeepkv93/secure-session-core/internal/observability"
	"github.com/sandeepkv93/secure-session-core/internal/service"
)

type SessionHandler struct {
	sessions service.SessionLister
}

func NewSessionHandler(sessions service.SessionLister) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
		return
	}
	views, err := h.sessions.ListActiveSessions(r.Context(), principal.UserID, principal.TokenID)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, views)
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
		return
	}
	tokenID := chi.URLParam(r, "token_id")
	if tokenID == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid session id", nil)
		return
	}
	if err := h.sessions.RevokeSession(r.Context(), principal.UserID, tokenID); err != nil {
		if errors.Is(err, service.ErrUnknownSession) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "session not found", nil)
			return
		}
		response.Failure(w, r, err)
		return
	}
	observability.Audit(r, "session.revoke.single", "user_id", principal.UserID, "token_id", tokenID)
	response.JSON(w, r, http.StatusOK, map[string]any{"tokenId": tokenID, "status": "revoked"})
}

func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
		return
	}
	revoked, err := h.sessions.RevokeOtherSessions(r.Context(), principal.UserID, principal.TokenID)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": revoked})
}
