package api

import (
	"net/http"

	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/middleware"
)

// SettingsHandler exposes the runtime tuning knobs. Reads are open to any
// authenticated role; writes are admin only (route table).
type SettingsHandler struct {
	Settings *config.SettingsStore
	Audit    *audit.Logger
}

// Get returns the current settings snapshot.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings.Snapshot())
}

// Put replaces the settings wholesale. Partial updates are deliberate
// non-support: the client sends back the full document it read.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())

	var next config.Settings
	if err := decodeJSON(r, &next); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}
	if err := h.Settings.Update(next); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "bad_input", err.Error())
		return
	}
	h.Audit.Log(ac.Username, audit.ActionSettingsUpdate, "", next)
	writeJSON(w, http.StatusOK, h.Settings.Snapshot())
}
