package api

import (
	"net/http"
	"time"

	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/report"
)

// ReportHandler serves shift report generation.
type ReportHandler struct {
	Builder *report.Builder
	Clock   clock.Clock
}

type shiftReportRequest struct {
	StartTS string `json:"start_ts"`
	EndTS   string `json:"end_ts"`
}

// Shift builds a report over the requested window. With no body it covers
// the last 8 hours.
func (h *ReportHandler) Shift(w http.ResponseWriter, r *http.Request) {
	var req shiftReportRequest
	_ = decodeJSON(r, &req)

	end := h.Clock.Now()
	start := end.Add(-8 * time.Hour)
	if req.StartTS != "" {
		ts, err := time.Parse(time.RFC3339, req.StartTS)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_input", "start_ts must be RFC3339")
			return
		}
		start = ts
	}
	if req.EndTS != "" {
		ts, err := time.Parse(time.RFC3339, req.EndTS)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_input", "end_ts must be RFC3339")
			return
		}
		end = ts
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "bad_input", "end_ts must be after start_ts")
		return
	}

	rep, err := h.Builder.Build(r.Context(), start, end)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
