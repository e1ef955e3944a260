package api

import (
	"net/http"

	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/auth"
	"github.com/technosupport/alibi/internal/identity"
	"github.com/technosupport/alibi/internal/middleware"
	"github.com/technosupport/alibi/internal/ratelimit"
	"github.com/technosupport/alibi/internal/tokens"
)

// AuthHandler serves login, self-service and identity lookups.
type AuthHandler struct {
	Users     *identity.Store
	Tokens    *tokens.Manager
	Audit     *audit.Logger
	Limiter   ratelimit.LoginLimiter
	Blacklist auth.TokenBlacklist
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Role        string `json:"role"`
}

// Login exchanges username+password for a bearer token. Failures are
// audited as anonymous and count toward the lockout window.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_input", "username and password are required")
		return
	}

	allowed, err := h.Limiter.Allowed(r.Context(), req.Username)
	if err != nil {
		// Limiter backend down: fail closed on the lockout check.
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "login temporarily unavailable")
		return
	}
	if !allowed {
		h.Audit.Log("anonymous", audit.ActionLoginLockout, req.Username, nil)
		writeError(w, http.StatusUnauthorized, "auth_failed", "too many failed attempts, try again later")
		return
	}

	user, err := h.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		_ = h.Limiter.RecordFailure(r.Context(), req.Username)
		h.Audit.Log("anonymous", audit.ActionLoginFailure, req.Username, nil)
		writeError(w, http.StatusUnauthorized, "auth_failed", "invalid credentials")
		return
	}

	token, err := h.Tokens.Generate(user.Username, string(user.Role))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "token generation failed")
		return
	}

	_ = h.Limiter.Clear(r.Context(), req.Username)
	h.Audit.Log(user.Username, audit.ActionLoginSuccess, user.Username, nil)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		ExpiresIn:   h.Tokens.ExpiresIn(),
		Role:        string(user.Role),
	})
}

// Me returns the caller's username and role.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.GetAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_failed", "missing auth context")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username": ac.Username,
		"role":     string(ac.Role),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword rotates the caller's own password and revokes the token
// used to call it, forcing a fresh login.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, err := middleware.GetAuthContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "auth_failed", "missing auth context")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}

	if err := h.Users.ChangePassword(ac.Username, req.CurrentPassword, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}

	_ = h.Blacklist.Revoke(r.Context(), ac.TokenID, tokens.TokenTTL)
	h.Audit.Log(ac.Username, audit.ActionPasswordChange, ac.Username, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed, please log in again"})
}
