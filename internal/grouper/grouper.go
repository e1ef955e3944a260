package grouper

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/model"
)

// IncidentIndex is the store-side view the grouper probes: latest incidents
// at one camera+zone, most recent latest-event first, id lexicographic on
// ties.
type IncidentIndex interface {
	IncidentsByLocation(cameraID, zoneID string) []*model.Incident
	GetIncident(id string) (*model.Incident, *model.IncidentMetadata, error)
}

// Result of routing one event.
type Result struct {
	Incident *model.Incident
	Created  bool // a new incident was opened
	Attached bool // the event was appended (false on exact replay)
}

// Grouper maps validated events onto new or existing incidents using the
// dedup and merge windows. An LRU keyed by camera|zone|type|ts-bucket short-
// circuits the common repeat case, same shape as the NVR poller's dedup.
type Grouper struct {
	index IncidentIndex
	nonce func() string

	recent *lru.Cache[string, string] // dedup key -> incident id
}

// New builds a grouper. nonce supplies the short random suffix for derived
// incident ids; inject a fixed one in tests.
func New(index IncidentIndex, nonce func() string) *Grouper {
	cache, _ := lru.New[string, string](4096)
	return &Grouper{index: index, nonce: nonce, recent: cache}
}

func dedupKey(cameraID, zoneID, eventType string, ts time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%d", cameraID, zoneID, eventType, ts.Truncate(time.Second).Unix())
}

// Route decides where evt belongs. Deterministic: dedup probe, then merge
// probe, then create. The returned incident includes the attached event but
// is not yet persisted; the pipeline stores it with fresh engine metadata.
func (g *Grouper) Route(evt *model.CameraEvent, s config.Settings) Result {
	dedupWindow := time.Duration(s.IncidentGrouping.DedupWindowSeconds) * time.Second
	mergeWindow := time.Duration(s.IncidentGrouping.MergeWindowSeconds) * time.Second

	// Fast path: an identical-key event was routed moments ago.
	if id, ok := g.recent.Get(dedupKey(evt.CameraID, evt.ZoneID, evt.EventType, evt.TS)); ok {
		if inc, _, err := g.index.GetIncident(id); err == nil {
			if g.withinWindowSameType(inc, evt, dedupWindow) {
				return g.attach(inc, evt)
			}
		}
	}

	candidates := g.index.IncidentsByLocation(evt.CameraID, evt.ZoneID)

	// Dedup probe: same type within the dedup window.
	for _, inc := range candidates {
		if !g.withinWindowSameType(inc, evt, dedupWindow) {
			continue
		}
		return g.attach(inc, evt)
	}

	// Merge probe: compatible type, latest event within the merge window.
	for _, inc := range candidates {
		if absDiff(inc.LatestEventTS(), evt.TS) > mergeWindow {
			continue
		}
		if !g.compatibleWith(inc, evt.EventType, s.IncidentGrouping) {
			continue
		}
		return g.attach(inc, evt)
	}

	// Create.
	inc := &model.Incident{
		IncidentID: model.NewIncidentID(evt.CameraID, evt.ZoneID, evt.TS, g.nonce()),
		Status:     model.StatusNew,
		CreatedTS:  evt.TS,
		Events:     []model.CameraEvent{*evt},
	}
	g.recent.Add(dedupKey(evt.CameraID, evt.ZoneID, evt.EventType, evt.TS), inc.IncidentID)
	return Result{Incident: inc, Created: true, Attached: true}
}

func (g *Grouper) attach(inc *model.Incident, evt *model.CameraEvent) Result {
	if inc.HasEventID(evt.EventID) {
		// Exact replay: same incident, nothing appended.
		return Result{Incident: inc, Attached: false}
	}
	out := inc.Clone()
	out.Events = append(out.Events, *evt)
	g.recent.Add(dedupKey(evt.CameraID, evt.ZoneID, evt.EventType, evt.TS), out.IncidentID)
	return Result{Incident: out, Attached: true}
}

func (g *Grouper) withinWindowSameType(inc *model.Incident, evt *model.CameraEvent, window time.Duration) bool {
	for _, e := range inc.Events {
		if e.EventType == evt.EventType && absDiff(e.TS, evt.TS) <= window {
			return true
		}
	}
	return false
}

func (g *Grouper) compatibleWith(inc *model.Incident, eventType string, gs config.GroupingSettings) bool {
	for _, t := range inc.EventTypes() {
		if gs.Compatible(eventType, t) {
			return true
		}
	}
	return false
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
