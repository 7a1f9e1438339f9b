package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sandeepkv93/secure-session-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-core/internal/http/response"
	"github.com/sandeepkv93/secure-session-core/internal/observability"
	"github.com/sandeepkv93/secure-session-core/internal/service"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
	DeviceID string `json:"deviceId" validate:"omitempty,max=128,printascii"`
}

type reissueRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type AuthHandler struct {
	sessions service.SessionManager
	users    service.UserLookup
	validate *validator.Validate
}

func NewAuthHandler(sessions service.SessionManager, users service.UserLookup) *AuthHandler {
	return &AuthHandler{sessions: sessions, users: users, validate: validator.New()}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_FAILED", "invalid login request", validationDetails(err))
		return
	}

	pair, err := h.sessions.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		observability.Audit(r, "auth.login", "outcome", string(service.ClassifyFailure(err)))
		response.Failure(w, r, err)
		return
	}
	observability.Audit(r, "auth.login", "outcome", "success")
	response.JSON(w, r, http.StatusOK, pair)
}

// Reissue reads the refresh token from the Authorization header, with or
// without the Bearer scheme, falling back to a JSON body.
func (h *AuthHandler) Reissue(w http.ResponseWriter, r *http.Request) {
	raw := refreshTokenFromHeader(r.Header.Get("Authorization"))
	if raw == "" && r.Body != nil {
		var req reissueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
			return
		}
		raw = strings.TrimSpace(req.RefreshToken)
	}
	if raw == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "refresh token required", nil)
		return
	}

	pair, err := h.sessions.Reissue(r.Context(), raw)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
		return
	}
	revoked, err := h.sessions.Logout(r.Context(), principal.UserID)
	if err != nil {
		response.Failure(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout", "user_id", principal.UserID, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": revoked})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "please re-authenticate", nil)
		return
	}
	if h.users == nil {
		response.JSON(w, r, http.StatusOK, map[string]any{"id": principal.UserID})
		return
	}
	u, err := h.users.FindByID(r.Context(), principal.UserID)
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, u)
}

func refreshTokenFromHeader(header string) string {
	if tok, ok := middleware.BearerToken(header); ok {
		return tok
	}
	header = strings.TrimSpace(header)
	if header == "" || strings.ContainsAny(header, " \t") {
		return ""
	}
	return header
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
