package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/model"
)

var ErrNotFound = errors.New("not_found")

// Store owns the three pipeline logs (events, incidents, decisions) plus the
// in-memory latest-wins incident index rebuilt on startup. The audit log has
// its own writer in internal/audit.
type Store struct {
	clk     clock.Clock
	dataDir string

	events    *appendLog
	incidents *appendLog
	decisions *appendLog

	mu        sync.RWMutex
	index     map[string]*indexEntry // incident_id -> latest
	seenEvent map[string]bool        // event_id -> stored in events.jsonl
}

type indexEntry struct {
	incident *model.Incident
	meta     *model.IncidentMetadata
}

// Open loads or creates the data directory and replays incidents.jsonl and
// events.jsonl into memory.
func Open(dataDir string, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", ErrStorageUnavailable, dataDir, err)
	}

	s := &Store{
		clk:       clk,
		dataDir:   dataDir,
		index:     make(map[string]*indexEntry),
		seenEvent: make(map[string]bool),
	}

	var err error
	if s.events, err = openAppendLog(filepath.Join(dataDir, "events.jsonl")); err != nil {
		return nil, err
	}
	if s.incidents, err = openAppendLog(filepath.Join(dataDir, "incidents.jsonl")); err != nil {
		return nil, err
	}
	if s.decisions, err = openAppendLog(filepath.Join(dataDir, "decisions.jsonl")); err != nil {
		return nil, err
	}

	if err := s.load(dataDir); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(dataDir string) error {
	// Events first: the id set keys replay idempotency.
	err := scanLog(filepath.Join(dataDir, "events.jsonl"), func(line int, rec *model.Record, raw []byte) {
		if rec == nil {
			log.Printf("events.jsonl line %d unreadable, skipping", line)
			return
		}
		var evt model.CameraEvent
		if err := json.Unmarshal(rec.Payload, &evt); err != nil {
			log.Printf("events.jsonl line %d bad payload: %v", line, err)
			return
		}
		s.seenEvent[evt.EventID] = true
	})
	if err != nil {
		return err
	}

	// Incidents: forward scan, highest version wins, record order breaks ties.
	err = scanLog(filepath.Join(dataDir, "incidents.jsonl"), func(line int, rec *model.Record, raw []byte) {
		if rec == nil {
			log.Printf("incidents.jsonl line %d unreadable, skipping", line)
			return
		}
		var inc model.Incident
		if err := json.Unmarshal(rec.Payload, &inc); err != nil {
			log.Printf("incidents.jsonl line %d bad payload: %v", line, err)
			return
		}
		if prev, ok := s.index[inc.IncidentID]; ok && prev.incident.Version > inc.Version {
			return
		}
		s.index[inc.IncidentID] = &indexEntry{incident: &inc, meta: rec.Metadata}
	})
	return err
}

// Close flushes and closes all writers.
func (s *Store) Close() error {
	var first error
	for _, l := range []*appendLog{s.events, s.incidents, s.decisions} {
		if err := l.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// --- events ---

// AppendEvent persists one camera event. A repeated event_id is a no-op
// (idempotent replay); the bool reports whether a line was written.
func (s *Store) AppendEvent(evt *model.CameraEvent) (bool, error) {
	s.mu.Lock()
	if s.seenEvent[evt.EventID] {
		s.mu.Unlock()
		return false, nil
	}
	s.seenEvent[evt.EventID] = true
	s.mu.Unlock()

	rec, err := model.NewRecord(s.clk.Now(), model.KindEvent, evt)
	if err != nil {
		return false, err
	}
	if err := s.events.append(rec); err != nil {
		s.mu.Lock()
		delete(s.seenEvent, evt.EventID)
		s.mu.Unlock()
		return false, err
	}
	return true, nil
}

// HasEvent reports whether the event id is already stored.
func (s *Store) HasEvent(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seenEvent[eventID]
}

// --- incidents ---

// AppendIncident writes a new incident version together with its engine
// metadata and updates the index in lock-step. The version counter is
// assigned here: prior+1.
func (s *Store) AppendIncident(inc *model.Incident, meta *model.IncidentMetadata) (*model.Incident, error) {
	if meta == nil || meta.Plan == nil || meta.Alert == nil || meta.Validation == nil {
		return nil, fmt.Errorf("incident %s: refusing to store without full metadata", inc.IncidentID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := inc.Clone()
	next.UpdatedTS = s.clk.Now()
	if prev, ok := s.index[next.IncidentID]; ok {
		next.Version = prev.incident.Version + 1
	} else {
		next.Version = 1
	}

	rec, err := model.NewRecord(next.UpdatedTS, model.KindIncident, next)
	if err != nil {
		return nil, err
	}
	rec.Metadata = meta
	if err := s.incidents.append(rec); err != nil {
		return nil, err
	}

	s.index[next.IncidentID] = &indexEntry{incident: next, meta: meta}
	return next.Clone(), nil
}

// UpdateIncidentStatus appends a status-only version, copying the prior
// metadata verbatim. The plan/alert/validation never disappear from a
// stored incident.
func (s *Store) UpdateIncidentStatus(id string, status model.IncidentStatus) (*model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: incident %s", ErrNotFound, id)
	}

	next := prev.incident.Clone()
	next.Status = status
	next.Version = prev.incident.Version + 1
	next.UpdatedTS = s.clk.Now()

	rec, err := model.NewRecord(next.UpdatedTS, model.KindIncident, next)
	if err != nil {
		return nil, err
	}
	rec.Metadata = prev.meta
	if err := s.incidents.append(rec); err != nil {
		return nil, err
	}

	s.index[id] = &indexEntry{incident: next, meta: prev.meta}
	return next.Clone(), nil
}

// GetIncident returns the latest version of one incident with its metadata.
func (s *Store) GetIncident(id string) (*model.Incident, *model.IncidentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: incident %s", ErrNotFound, id)
	}
	return e.incident.Clone(), e.meta, nil
}

// ListFilter narrows ListIncidents.
type ListFilter struct {
	Status model.IncidentStatus
	Since  time.Time
	Limit  int
}

// IncidentView pairs an incident with its stored metadata for listings.
type IncidentView struct {
	Incident *model.Incident
	Metadata *model.IncidentMetadata
}

// ListIncidents returns latest versions, newest-updated first.
func (s *Store) ListIncidents(f ListFilter) []IncidentView {
	s.mu.RLock()
	out := make([]IncidentView, 0, len(s.index))
	for _, e := range s.index {
		if f.Status != "" && e.incident.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && e.incident.UpdatedTS.Before(f.Since) {
			continue
		}
		out = append(out, IncidentView{Incident: e.incident.Clone(), Metadata: e.meta})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Incident, out[j].Incident
		if !a.UpdatedTS.Equal(b.UpdatedTS) {
			return a.UpdatedTS.After(b.UpdatedTS)
		}
		return a.IncidentID < b.IncidentID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// IncidentsByLocation returns latest incidents at camera+zone, most recent
// latest-event first with lexicographic id tie-break. This is the grouper's
// probe order.
func (s *Store) IncidentsByLocation(cameraID, zoneID string) []*model.Incident {
	s.mu.RLock()
	var out []*model.Incident
	for _, e := range s.index {
		if len(e.incident.Events) == 0 {
			continue
		}
		first := e.incident.Events[0]
		if first.CameraID == cameraID && first.ZoneID == zoneID {
			out = append(out, e.incident.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].LatestEventTS(), out[j].LatestEventTS()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].IncidentID < out[j].IncidentID
	})
	return out
}

// --- decisions ---

// AppendDecision persists one operator decision.
func (s *Store) AppendDecision(d *model.Decision) error {
	rec, err := model.NewRecord(s.clk.Now(), model.KindDecision, d)
	if err != nil {
		return err
	}
	return s.decisions.append(rec)
}

// ScanDecisions replays decisions.jsonl in file order. Used by the shift
// report; the decision set is not indexed in memory.
func (s *Store) ScanDecisions(fn func(*model.Decision)) error {
	return scanLog(filepath.Join(s.dataDir, "decisions.jsonl"), func(line int, rec *model.Record, raw []byte) {
		if rec == nil {
			log.Printf("decisions.jsonl line %d unreadable, skipping", line)
			return
		}
		var d model.Decision
		if err := json.Unmarshal(rec.Payload, &d); err != nil {
			log.Printf("decisions.jsonl line %d bad payload: %v", line, err)
			return
		}
		fn(&d)
	})
}
