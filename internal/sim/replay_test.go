package sim_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/sim"
)

type captureIngestor struct {
	got  []*model.CameraEvent
	fail map[string]bool
}

func (c *captureIngestor) Ingest(_ context.Context, evt *model.CameraEvent, _ string) error {
	if c.fail[evt.EventID] {
		return context.DeadlineExceeded
	}
	c.got = append(c.got, evt)
	return nil
}

const replayInput = `{"event_id":"r1","camera_id":"cam_gate_1","zone_id":"zone_entry","ts":"2026-03-14T15:00:00Z","event_type":"person_detected","confidence":0.9,"severity":2}

not-json
{"event_id":"r2","camera_id":"cam_gate_1","zone_id":"zone_entry","ts":"2026-03-14T15:00:05Z","event_type":"person_detected","confidence":1.5,"severity":2}
{"event_id":"r3","camera_id":"cam_gate_1","zone_id":"zone_entry","ts":"2026-03-14T15:00:10Z","event_type":"loitering","confidence":0.8,"severity":2}
`

func TestReplayCollectsPerLineErrors(t *testing.T) {
	ing := &captureIngestor{}
	s := sim.New(ing, &clock.Fixed{T: time.Now()})

	res, err := s.Replay(context.Background(), strings.NewReader(replayInput), "admin")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	// Blank line is skipped entirely; the bad JSON line and the
	// out-of-range confidence line are errors; r1 and r3 ingest.
	if res.Total != 4 {
		t.Errorf("expected 4 counted lines, got %d", res.Total)
	}
	if res.Ingested != 2 {
		t.Errorf("expected 2 ingested, got %d", res.Ingested)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", res.Errors)
	}
	for _, e := range res.Errors {
		if !strings.HasPrefix(e, "line ") {
			t.Errorf("error must name its line: %q", e)
		}
	}

	if len(ing.got) != 2 || ing.got[0].EventID != "r1" || ing.got[1].EventID != "r3" {
		t.Errorf("valid lines must ingest in order, got %+v", ing.got)
	}
}

func TestReplayFillsOmittedSeverityFromDetectorDefaults(t *testing.T) {
	input := `{"event_id":"d1","camera_id":"cam_gate_1","zone_id":"zone_entry","ts":"2026-03-14T15:00:00Z","event_type":"plate_mismatch","confidence":0.9}
{"event_id":"d2","camera_id":"cam_gate_1","zone_id":"zone_entry","ts":"2026-03-14T15:00:05Z","event_type":"plate_mismatch","confidence":0.4}
{"event_id":"d3","camera_id":"cam_gate_1","zone_id":"zone_entry","ts":"2026-03-14T15:00:10Z","event_type":"person_detected","confidence":0.9,"severity":4}
`
	settings, err := config.OpenSettings(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}

	ing := &captureIngestor{}
	s := sim.New(ing, &clock.Fixed{T: time.Now()})
	s.Settings = settings

	res, err := s.Replay(context.Background(), strings.NewReader(input), "admin")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	// d1 gets the plate_mismatch default severity; d2 is below that
	// detector's trigger confidence; d3 keeps its explicit severity.
	if res.Ingested != 2 {
		t.Fatalf("expected 2 ingested, got %d (%v)", res.Ingested, res.Errors)
	}
	if len(ing.got) != 2 {
		t.Fatalf("got %d events", len(ing.got))
	}
	if got := ing.got[0].Severity; got != 3 {
		t.Errorf("d1 severity = %d, want detector default 3", got)
	}
	if got := ing.got[1].Severity; got != 4 {
		t.Errorf("d3 severity = %d, explicit value must win", got)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "trigger") {
		t.Errorf("d2 must fail the trigger gate: %v", res.Errors)
	}
}

func TestReplayOmittedSeverityRejectedWithoutDefaults(t *testing.T) {
	input := `{"event_id":"d1","camera_id":"cam_gate_1","zone_id":"zone_entry","ts":"2026-03-14T15:00:00Z","event_type":"person_detected","confidence":0.9}
`
	ing := &captureIngestor{}
	s := sim.New(ing, &clock.Fixed{T: time.Now()})

	res, err := s.Replay(context.Background(), strings.NewReader(input), "admin")
	if err != nil {
		t.Fatal(err)
	}
	if res.Ingested != 0 || len(res.Errors) != 1 {
		t.Errorf("severity must stay required without a defaults table: %+v", res)
	}
}

func TestReplayReportsIngestFailures(t *testing.T) {
	ing := &captureIngestor{fail: map[string]bool{"r1": true}}
	s := sim.New(ing, &clock.Fixed{T: time.Now()})

	res, err := s.Replay(context.Background(), strings.NewReader(replayInput), "admin")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Ingested != 1 {
		t.Errorf("expected 1 ingested, got %d", res.Ingested)
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "ingest") {
			found = true
		}
	}
	if !found {
		t.Errorf("ingest failure must surface in errors: %v", res.Errors)
	}
}
