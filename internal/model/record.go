package model

import (
	"encoding/json"
	"time"
)

// RecordKind tags every persisted JSONL line.
type RecordKind string

const (
	KindEvent    RecordKind = "event"
	KindIncident RecordKind = "incident"
	KindDecision RecordKind = "decision"
	KindAudit    RecordKind = "audit"
)

// Record is the stored-record envelope. Payload stays raw so readers can
// round-trip lines byte-for-byte; Metadata is inline only for incidents.
type Record struct {
	RecordTS time.Time         `json:"record_ts"`
	Kind     RecordKind        `json:"kind"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata *IncidentMetadata `json:"_metadata,omitempty"`
}

// NewRecord marshals payload into a record envelope.
func NewRecord(ts time.Time, kind RecordKind, payload any) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Record{RecordTS: ts, Kind: kind, Payload: raw}, nil
}
