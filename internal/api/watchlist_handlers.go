package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/middleware"
	"github.com/technosupport/alibi/internal/watchlist"
)

// WatchlistHandler manages hotlist identifiers. Admin only.
type WatchlistHandler struct {
	Registry *watchlist.Registry
	Audit    *audit.Logger
	Clock    clock.Clock
}

// List returns all entries.
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.Registry.List()})
}

type watchlistAddRequest struct {
	Identifier string `json:"identifier"`
	Label      string `json:"label"`
	Reason     string `json:"reason"`
}

// Add registers an identifier. The reason is mandatory so the audit trail
// explains every hotlist membership.
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())

	var req watchlistAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusUnprocessableEntity, "bad_input", "reason is required")
		return
	}

	entry := watchlist.Entry{
		Identifier: req.Identifier,
		Label:      req.Label,
		Reason:     req.Reason,
		AddedBy:    ac.Username,
		AddedTS:    h.Clock.Now(),
	}
	if err := h.Registry.Add(entry); err != nil {
		if errors.Is(err, watchlist.ErrExists) {
			writeError(w, http.StatusConflict, "conflict", err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "bad_input", err.Error())
		return
	}
	h.Audit.Log(ac.Username, audit.ActionWatchlistAdd, watchlist.Normalize(req.Identifier),
		map[string]string{"reason": req.Reason})
	writeJSON(w, http.StatusCreated, entry)
}

// Remove deletes an identifier.
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())
	identifier := chi.URLParam(r, "identifier")

	if err := h.Registry.Remove(identifier); err != nil {
		if errors.Is(err, watchlist.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	h.Audit.Log(ac.Username, audit.ActionWatchlistRemove, watchlist.Normalize(identifier), nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
