package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/identity"
	"github.com/technosupport/alibi/internal/middleware"
)

// UserHandler serves admin user management.
type UserHandler struct {
	Users *identity.Store
	Audit *audit.Logger
}

type userView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Enabled   bool      `json:"enabled"`
	CreatedTS time.Time `json:"created_ts"`
}

func toUserView(u identity.User) userView {
	return userView{
		Username:  u.Username,
		Role:      string(u.Role),
		Enabled:   u.Enabled,
		CreatedTS: u.CreatedTS,
	}
}

// List returns all users without password material.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users := h.Users.List()
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, toUserView(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Create adds a user.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}
	u, err := h.Users.Create(req.Username, req.Password, identity.Role(req.Role))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.Audit.Log(ac.Username, audit.ActionUserCreate, u.Username, map[string]string{"role": string(u.Role)})
	writeJSON(w, http.StatusCreated, toUserView(*u))
}

// Disable flips a user off; the auth middleware rechecks enabled state
// per request, so outstanding tokens stop working immediately.
func (h *UserHandler) Disable(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())
	username := chi.URLParam(r, "username")

	if err := h.Users.SetEnabled(username, false); err != nil {
		writeDomainError(w, err)
		return
	}
	h.Audit.Log(ac.Username, audit.ActionUserDisable, username, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// ResetPassword sets a user's password without the current one.
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())
	username := chi.URLParam(r, "username")

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}
	if err := h.Users.ResetPassword(username, req.NewPassword); err != nil {
		writeDomainError(w, err)
		return
	}
	h.Audit.Log(ac.Username, audit.ActionPasswordReset, username, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "password reset"})
}
