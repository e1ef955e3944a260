package grouper_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/engine"
	"github.com/technosupport/alibi/internal/grouper"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/store"
)

var base = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) (*grouper.Grouper, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), &clock.Fixed{T: base})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	n := 0
	g := grouper.New(st, func() string {
		n++
		return fmt.Sprintf("n%04d", n)
	})
	return g, st
}

func event(id, eventType string, ts time.Time) *model.CameraEvent {
	return &model.CameraEvent{
		EventID:    id,
		CameraID:   "cam_gate_1",
		ZoneID:     "zone_entry",
		TS:         ts,
		EventType:  eventType,
		Confidence: 0.9,
		Severity:   2,
	}
}

// persist stores a routed incident so later probes can find it, the same
// order the ingest pipeline uses.
func persist(t *testing.T, st *store.Store, inc *model.Incident) {
	t.Helper()
	s := config.DefaultSettings()
	plan := engine.BuildIncidentPlan(inc, s)
	meta := &model.IncidentMetadata{
		Plan:       plan,
		Alert:      engine.NeutralFallbackAlert(plan),
		Validation: engine.ValidateIncidentPlan(plan, inc, s),
	}
	if _, err := st.AppendIncident(inc, meta); err != nil {
		t.Fatalf("append incident: %v", err)
	}
}

func TestSameTypeWithinDedupWindowAttaches(t *testing.T) {
	g, st := newHarness(t)
	s := config.DefaultSettings()

	first := g.Route(event("e1", "person_detected", base), s)
	if !first.Created {
		t.Fatal("first event must open an incident")
	}
	persist(t, st, first.Incident)

	second := g.Route(event("e2", "person_detected", base.Add(10*time.Second)), s)
	if second.Created {
		t.Fatal("second event within the dedup window must not open a new incident")
	}
	if second.Incident.IncidentID != first.Incident.IncidentID {
		t.Errorf("expected attach to %s, got %s", first.Incident.IncidentID, second.Incident.IncidentID)
	}
	if len(second.Incident.Events) != 2 {
		t.Errorf("expected 2 events, got %d", len(second.Incident.Events))
	}
}

func TestCompatibleTypeWithinMergeWindowAttaches(t *testing.T) {
	g, st := newHarness(t)
	s := config.DefaultSettings()

	first := g.Route(event("e1", "person_detected", base), s)
	persist(t, st, first.Incident)

	// Outside the 30s dedup window, inside the 300s merge window,
	// compatible type.
	res := g.Route(event("e2", "loitering", base.Add(2*time.Minute)), s)
	if res.Created {
		t.Fatal("compatible event within the merge window must merge")
	}
	if res.Incident.IncidentID != first.Incident.IncidentID {
		t.Errorf("merged into wrong incident")
	}
}

func TestIncompatibleTypeOpensNewIncident(t *testing.T) {
	g, st := newHarness(t)
	s := config.DefaultSettings()

	first := g.Route(event("e1", "person_detected", base), s)
	persist(t, st, first.Incident)

	res := g.Route(event("e2", "vehicle_detected", base.Add(time.Minute)), s)
	if !res.Created {
		t.Fatal("incompatible type must open a new incident")
	}
	if res.Incident.IncidentID == first.Incident.IncidentID {
		t.Error("new incident id must differ")
	}
}

func TestOutsideMergeWindowOpensNewIncident(t *testing.T) {
	g, st := newHarness(t)
	s := config.DefaultSettings()

	first := g.Route(event("e1", "person_detected", base), s)
	persist(t, st, first.Incident)

	res := g.Route(event("e2", "person_detected", base.Add(6*time.Minute)), s)
	if !res.Created {
		t.Fatal("event beyond the merge window must open a new incident")
	}
}

func TestDifferentLocationNeverGroups(t *testing.T) {
	g, st := newHarness(t)
	s := config.DefaultSettings()

	first := g.Route(event("e1", "person_detected", base), s)
	persist(t, st, first.Incident)

	other := event("e2", "person_detected", base.Add(5*time.Second))
	other.CameraID = "cam_gate_2"
	res := g.Route(other, s)
	if !res.Created {
		t.Fatal("a different camera must open its own incident")
	}
}

func TestExactReplayDoesNotAttach(t *testing.T) {
	g, st := newHarness(t)
	s := config.DefaultSettings()

	first := g.Route(event("e1", "person_detected", base), s)
	persist(t, st, first.Incident)

	replay := g.Route(event("e1", "person_detected", base), s)
	if replay.Created || replay.Attached {
		t.Fatalf("exact replay must neither create nor attach: %+v", replay)
	}
	if replay.Incident.IncidentID != first.Incident.IncidentID {
		t.Error("replay must resolve to the original incident")
	}
}

func TestIncidentIDIsDeterministic(t *testing.T) {
	a := model.NewIncidentID("cam_gate_1", "zone_entry", base, "nonce")
	b := model.NewIncidentID("cam_gate_1", "zone_entry", base, "nonce")
	if a != b {
		t.Fatalf("same inputs must derive the same id: %s vs %s", a, b)
	}
	c := model.NewIncidentID("cam_gate_1", "zone_entry", base, "other")
	if a == c {
		t.Error("different nonce must change the id")
	}
}
