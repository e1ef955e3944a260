package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/technosupport/alibi/internal/identity"
	"github.com/technosupport/alibi/internal/ingest"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/store"
)

// errorBody is the uniform error envelope: stable code, variable text.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeDomainError maps sentinel errors onto the HTTP error contract.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidEvent), errors.Is(err, model.ErrInvalidDecision):
		writeError(w, http.StatusUnprocessableEntity, "bad_input", err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, identity.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ingest.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, identity.ErrUserExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, identity.ErrBadPassword), errors.Is(err, identity.ErrUserDisabled):
		writeError(w, http.StatusUnauthorized, "auth_failed", "invalid credentials")
	case errors.Is(err, store.ErrStorageUnavailable), errors.Is(err, ingest.ErrIngestionPartial):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", err.Error())
	default:
		writeError(w, http.StatusBadRequest, "bad_input", err.Error())
	}
}

// decodeJSON rejects bodies that do not parse into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
