package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"identra.org/internal/audit"
	"identra.org/internal/identity"
)

type registerRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
	Email    string `json:"email"`
	Role     string `json:"role,omitempty"`
	Captcha  string `json:"captcha,omitempty"`
}

type loginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type unlockRequest struct {
	Handle string `json:"handle"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := a.captcha.Verify(r.Context(), req.Captcha, clientIP(r))
	if err != nil {
		writeError(w, r, http.StatusBadGateway, "captcha verification unavailable")
		return
	}
	if !ok {
		writeError(w, r, http.StatusBadRequest, "captcha verification failed")
		return
	}

	account, err := a.identity.Register(r.Context(), req.Handle, req.Password, req.Email, req.Role, clientIP(r))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     account.ID,
		"handle": account.Handle,
		"email":  account.Email,
	})
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	value := strings.TrimSpace(r.URL.Query().Get("token"))
	if value == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	if err := a.identity.ConfirmRegistration(r.Context(), value); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "confirmed"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.sessions.Login(r.Context(), req.Handle, req.Password, clientIP(r))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"handle": req.Handle,
		"ip":     clientIP(r),
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), req.RefreshToken, clientIP(r))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.refreshed", map[string]any{
		"ip": clientIP(r),
	})
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleUnlockRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req unlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Always 202: the response never says whether the handle exists.
	if err := a.identity.SendUnlockToken(r.Context(), req.Handle); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (a *API) handleUnlockConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	value := strings.TrimSpace(r.URL.Query().Get("token"))
	if value == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	if err := a.identity.ConfirmUnlock(r.Context(), value); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "unlocked"})
}

func (a *API) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req forgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.identity.SendPasswordResetLink(r.Context(), req.Email); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Token == "" {
		req.Token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if req.Token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	if err := a.identity.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeAuthError(w, r, "invalid_credentials", "invalid credentials")
	case errors.Is(err, identity.ErrNotConfirmed):
		writeAuthError(w, r, "not_confirmed", "account not confirmed")
	case errors.Is(err, identity.ErrLocked):
		writeAuthError(w, r, "locked", "account locked")
	case errors.Is(err, identity.ErrInvalidRefreshToken),
		errors.Is(err, identity.ErrRefreshExpired):
		writeAuthError(w, r, "invalid_refresh", "invalid or expired refresh token")
	case errors.Is(err, identity.ErrHandleTaken),
		errors.Is(err, identity.ErrEmailInUse):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrTokenExpired):
		writeError(w, r, http.StatusGone, "token expired")
	case errors.Is(err, identity.ErrTokenNotFound):
		writeError(w, r, http.StatusNotFound, "token not found")
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
