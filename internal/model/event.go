package model

import (
	"errors"
	"fmt"
	"time"
)

// CameraEvent is a single observation from one camera at one moment.
// Immutable once ingested.
type CameraEvent struct {
	EventID     string         `json:"event_id"`
	CameraID    string         `json:"camera_id"`
	ZoneID      string         `json:"zone_id"`
	TS          time.Time      `json:"ts"`
	EventType   string         `json:"event_type"`
	Confidence  float64        `json:"confidence"`
	Severity    int            `json:"severity"`
	ClipURL     string         `json:"clip_url,omitempty"`
	SnapshotURL string         `json:"snapshot_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

var (
	ErrInvalidEvent = errors.New("invalid camera event")
)

// Validate enforces the hard ingest invariants. Failure rejects the event;
// values are never coerced.
func (e *CameraEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidEvent)
	}
	if e.CameraID == "" {
		return fmt.Errorf("%w: camera_id is required", ErrInvalidEvent)
	}
	if e.ZoneID == "" {
		return fmt.Errorf("%w: zone_id is required", ErrInvalidEvent)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("%w: ts is required", ErrInvalidEvent)
	}
	if e.EventType == "" {
		return fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidEvent, e.Confidence)
	}
	if e.Severity < 1 || e.Severity > 5 {
		return fmt.Errorf("%w: severity %d outside 1..5", ErrInvalidEvent, e.Severity)
	}
	return nil
}

// WatchlistMatch reports whether the event metadata claims a watchlist hit.
// The flag is a claim, not a fact; the plan layer forces human review on it.
func (e *CameraEvent) WatchlistMatch() bool {
	v, ok := e.Metadata["watchlist_match"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// PlateText returns the plate string from metadata, if present.
func (e *CameraEvent) PlateText() string {
	v, ok := e.Metadata["plate_text"]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// HasEvidence reports whether the event references any artifact.
func (e *CameraEvent) HasEvidence() bool {
	return e.ClipURL != "" || e.SnapshotURL != ""
}
