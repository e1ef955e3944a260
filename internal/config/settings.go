package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Settings are the runtime-mutable options persisted in settings.json.
// They are read on the ingest hot path, so access goes through an immutable
// snapshot swapped under a lock.
type Settings struct {
	IncidentGrouping GroupingSettings            `json:"incident_grouping"`
	Thresholds       ThresholdSettings           `json:"thresholds"`
	Evidence         EvidenceSettings            `json:"evidence"`
	LLM              LLMSettings                 `json:"llm"`
	Detectors        map[string]DetectorDefaults `json:"detectors,omitempty"`
}

type GroupingSettings struct {
	DedupWindowSeconds   int                 `json:"dedup_window_seconds"`
	MergeWindowSeconds   int                 `json:"merge_window_seconds"`
	CompatibleEventTypes map[string][]string `json:"compatible_event_types"`
}

type ThresholdSettings struct {
	MinConfidenceForNotify float64 `json:"min_confidence_for_notify"`
	HighSeverityThreshold  int     `json:"high_severity_threshold"`
}

type EvidenceSettings struct {
	RetentionDays int `json:"retention_days"`
}

type LLMSettings struct {
	Enabled bool `json:"enabled"`
}

// DetectorDefaults hold per-event-type fallbacks applied when a replayed
// event omits severity. Trigger confidences differ per detector in the
// field, so they are settings, not constants.
type DetectorDefaults struct {
	DefaultSeverity   int     `json:"default_severity"`
	TriggerConfidence float64 `json:"trigger_confidence"`
}

// DefaultSettings returns the shipped defaults.
func DefaultSettings() Settings {
	return Settings{
		IncidentGrouping: GroupingSettings{
			DedupWindowSeconds: 30,
			MergeWindowSeconds: 300,
			CompatibleEventTypes: map[string][]string{
				"person_detected":     {"loitering", "line_crossing"},
				"loitering":           {"person_detected"},
				"line_crossing":       {"person_detected"},
				"vehicle_detected":    {"plate_read", "red_light_violation"},
				"plate_read":          {"vehicle_detected", "plate_mismatch"},
				"plate_mismatch":      {"plate_read"},
				"red_light_violation": {"vehicle_detected"},
			},
		},
		Thresholds: ThresholdSettings{
			MinConfidenceForNotify: 0.75,
			HighSeverityThreshold:  4,
		},
		Evidence: EvidenceSettings{RetentionDays: 30},
		Detectors: map[string]DetectorDefaults{
			"person_detected":     {DefaultSeverity: 2, TriggerConfidence: 0.50},
			"loitering":           {DefaultSeverity: 2, TriggerConfidence: 0.55},
			"vehicle_detected":    {DefaultSeverity: 1, TriggerConfidence: 0.50},
			"plate_read":          {DefaultSeverity: 1, TriggerConfidence: 0.60},
			"plate_mismatch":      {DefaultSeverity: 3, TriggerConfidence: 0.70},
			"red_light_violation": {DefaultSeverity: 3, TriggerConfidence: 0.65},
			"hotlist_match":       {DefaultSeverity: 4, TriggerConfidence: 0.70},
		},
	}
}

// Compatible reports whether incoming may merge into an incident that
// already holds existing. A type is always compatible with itself.
func (g GroupingSettings) Compatible(incoming, existing string) bool {
	if incoming == existing {
		return true
	}
	for _, t := range g.CompatibleEventTypes[incoming] {
		if t == existing {
			return true
		}
	}
	return false
}

// SettingsStore owns settings.json: load-or-create on start, snapshot reads,
// serialized updates, fsnotify hot reload. Modeled on the license watcher:
// external edits to the file take effect without a restart.
type SettingsStore struct {
	path string

	mu  sync.RWMutex
	cur Settings

	watcher *fsnotify.Watcher
}

// OpenSettings loads the settings file, writing defaults if absent.
func OpenSettings(path string) (*SettingsStore, error) {
	s := &SettingsStore{path: path, cur: DefaultSettings()}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.cur); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := s.persist(s.cur); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	return s, nil
}

// Snapshot returns a copy of the current settings.
func (s *SettingsStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Update validates, persists and swaps in new settings.
func (s *SettingsStore) Update(next Settings) error {
	if err := validateSettings(next); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(next); err != nil {
		return err
	}
	s.cur = next
	return nil
}

func validateSettings(s Settings) error {
	if s.IncidentGrouping.DedupWindowSeconds <= 0 {
		return fmt.Errorf("dedup_window_seconds must be positive")
	}
	if s.IncidentGrouping.MergeWindowSeconds < s.IncidentGrouping.DedupWindowSeconds {
		return fmt.Errorf("merge_window_seconds must be >= dedup_window_seconds")
	}
	if s.Thresholds.MinConfidenceForNotify < 0 || s.Thresholds.MinConfidenceForNotify > 1 {
		return fmt.Errorf("min_confidence_for_notify out of range")
	}
	if s.Thresholds.HighSeverityThreshold < 1 || s.Thresholds.HighSeverityThreshold > 5 {
		return fmt.Errorf("high_severity_threshold out of range")
	}
	return nil
}

func (s *SettingsStore) persist(v Settings) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Watch starts an fsnotify loop reloading the file on external writes.
// Returns immediately; the loop ends when ctx is cancelled.
func (s *SettingsStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return err
	}
	s.watcher = w

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.reload()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("settings watcher error: %v", err)
			}
		}
	}()
	return nil
}

func (s *SettingsStore) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		log.Printf("settings reload read failed: %v", err)
		return
	}
	next := DefaultSettings()
	if err := json.Unmarshal(data, &next); err != nil {
		log.Printf("settings reload parse failed: %v", err)
		return
	}
	if err := validateSettings(next); err != nil {
		log.Printf("settings reload rejected: %v", err)
		return
	}
	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	log.Printf("settings reloaded from %s", s.path)
}
