package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/ingest"
	"github.com/technosupport/alibi/internal/middleware"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/store"
)

// maxEventBody caps webhook payloads. Detector events are small; anything
// bigger is a misconfigured sender.
const maxEventBody = 1 << 20

// IncidentHandler serves the webhook and the incident read/decision surface.
type IncidentHandler struct {
	Pipeline *ingest.Pipeline
	Store    *store.Store
	Clock    clock.Clock
	Audit    *audit.Logger
}

// IngestEvent receives one detector event on the webhook.
func (h *IncidentHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "unreadable request body")
		return
	}
	evt, err := model.ParseCameraEvent(raw)
	if err != nil {
		// Schema rejects never reach the pipeline, so the trail is
		// written here.
		h.Audit.Log(ac.Username, audit.ActionIngestRejected, "", map[string]string{"error": err.Error()})
		writeDomainError(w, err)
		return
	}

	summary, err := h.Pipeline.Ingest(r.Context(), evt, ac.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if summary.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, summary)
}

type incidentView struct {
	*model.Incident
	Metadata *model.IncidentMetadata `json:"_metadata,omitempty"`
}

// List returns latest incident versions, filtered by status/since/limit.
func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	var f store.ListFilter
	q := r.URL.Query()
	f.Status = model.IncidentStatus(q.Get("status"))
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_input", "since must be RFC3339")
			return
		}
		f.Since = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_input", "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	views := h.Store.ListIncidents(f)
	out := make([]incidentView, 0, len(views))
	for _, v := range views {
		out = append(out, incidentView{Incident: v.Incident, Metadata: v.Metadata})
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": out, "count": len(out)})
}

// Get returns one incident with its engine metadata.
func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, meta, err := h.Store.GetIncident(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incidentView{Incident: inc, Metadata: meta})
}

type decisionRequest struct {
	ActionTaken     string `json:"action_taken"`
	OperatorNotes   string `json:"operator_notes"`
	WasTruePositive *bool  `json:"was_true_positive"`
	DismissReason   string `json:"dismiss_reason"`
}

// Decision records an operator triage action against an incident.
func (h *IncidentHandler) Decision(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())
	id := chi.URLParam(r, "id")

	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}

	d := &model.Decision{
		IncidentID:       id,
		DecisionTS:       h.Clock.Now(),
		ActionTaken:      model.DecisionAction(req.ActionTaken),
		OperatorUsername: ac.Username,
		OperatorNotes:    req.OperatorNotes,
		WasTruePositive:  req.WasTruePositive,
		DismissReason:    model.DismissReason(req.DismissReason),
	}
	next, err := h.Pipeline.RecordDecision(d)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": next.IncidentID,
		"status":      next.Status,
		"version":     next.Version,
	})
}

type approveRequest struct {
	ApprovalNotes string `json:"approval_notes"`
}

// Approve authorizes a pending dispatch. Supervisor and above only; the
// route table enforces the role.
func (h *IncidentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.GetAuthContext(r.Context())
	id := chi.URLParam(r, "id")

	var req approveRequest
	if err := decodeJSON(r, &req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "bad_input", "invalid JSON body")
		return
	}

	next, err := h.Pipeline.Approve(id, ac.Username, req.ApprovalNotes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incident_id": next.IncidentID,
		"status":      next.Status,
		"version":     next.Version,
	})
}
