package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// IncidentStatus values. Transitions happen only through operator decisions
// and supervisor approval; incidents are never deleted.
type IncidentStatus string

const (
	StatusNew                   IncidentStatus = "new"
	StatusTriage                IncidentStatus = "triage"
	StatusDismissed             IncidentStatus = "dismissed"
	StatusEscalated             IncidentStatus = "escalated"
	StatusDispatchPendingReview IncidentStatus = "dispatch_pending_review"
	StatusDispatchAuthorized    IncidentStatus = "dispatch_authorized"
	StatusClosed                IncidentStatus = "closed"
)

// ValidStatus reports whether s is a known incident status.
func ValidStatus(s IncidentStatus) bool {
	switch s {
	case StatusNew, StatusTriage, StatusDismissed, StatusEscalated,
		StatusDispatchPendingReview, StatusDispatchAuthorized, StatusClosed:
		return true
	}
	return false
}

// Incident is a grouped set of related camera events. Mutations are
// expressed as new versions appended to the incident log.
type Incident struct {
	IncidentID string         `json:"incident_id"`
	Status     IncidentStatus `json:"status"`
	CreatedTS  time.Time      `json:"created_ts"`
	UpdatedTS  time.Time      `json:"updated_ts"`
	Version    int            `json:"version"`
	Events     []CameraEvent  `json:"events"`
}

// NewIncidentID derives a stable id from the first event plus a short
// random suffix: camera|zone|floor(ts,1s)|hash.
func NewIncidentID(camera, zone string, ts time.Time, nonce string) string {
	base := fmt.Sprintf("%s|%s|%d|%s", camera, zone, ts.Truncate(time.Second).Unix(), nonce)
	sum := sha256.Sum256([]byte(base))
	return "inc_" + hex.EncodeToString(sum[:8])
}

// MaxSeverity is the max severity over the incident's events.
func (i *Incident) MaxSeverity() int {
	max := 0
	for _, e := range i.Events {
		if e.Severity > max {
			max = e.Severity
		}
	}
	return max
}

// AvgConfidence is the mean confidence over the incident's events.
func (i *Incident) AvgConfidence() float64 {
	if len(i.Events) == 0 {
		return 0
	}
	var sum float64
	for _, e := range i.Events {
		sum += e.Confidence
	}
	return sum / float64(len(i.Events))
}

// WatchlistMatchPresent reports whether any event claims a watchlist hit.
func (i *Incident) WatchlistMatchPresent() bool {
	for _, e := range i.Events {
		if e.WatchlistMatch() {
			return true
		}
	}
	return false
}

// HasEvidence reports whether any event carries a clip or snapshot ref.
func (i *Incident) HasEvidence() bool {
	for _, e := range i.Events {
		if e.HasEvidence() {
			return true
		}
	}
	return false
}

// LatestEventTS is the newest event timestamp, zero when empty.
func (i *Incident) LatestEventTS() time.Time {
	var latest time.Time
	for _, e := range i.Events {
		if e.TS.After(latest) {
			latest = e.TS
		}
	}
	return latest
}

// HasEventID reports whether event id is already attached. Used for
// replay idempotency.
func (i *Incident) HasEventID(id string) bool {
	for _, e := range i.Events {
		if e.EventID == id {
			return true
		}
	}
	return false
}

// EventTypes returns the distinct event types in first-seen order.
func (i *Incident) EventTypes() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range i.Events {
		if !seen[e.EventType] {
			seen[e.EventType] = true
			out = append(out, e.EventType)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand outside the store.
func (i *Incident) Clone() *Incident {
	out := *i
	out.Events = make([]CameraEvent, len(i.Events))
	copy(out.Events, i.Events)
	for n := range out.Events {
		if m := i.Events[n].Metadata; m != nil {
			cp := make(map[string]any, len(m))
			for k, v := range m {
				cp[k] = v
			}
			out.Events[n].Metadata = cp
		}
	}
	return &out
}
