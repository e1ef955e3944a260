package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/technosupport/alibi/internal/engine"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/store"
)

// CountItem is one entry in a top-N breakdown.
type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// ShiftReport aggregates incidents and decisions over a time window.
type ShiftReport struct {
	StartTS time.Time `json:"start_ts"`
	EndTS   time.Time `json:"end_ts"`

	TotalIncidents int     `json:"total_incidents"`
	TotalDecisions int     `json:"total_decisions"`
	DismissedRate  float64 `json:"dismissed_rate"`
	EscalationRate float64 `json:"escalation_rate"`
	ConfirmedRate  float64 `json:"confirmed_rate"`

	// Seconds from incident creation to its first decision, averaged.
	AvgTimeToFirstDecisionSeconds float64 `json:"avg_time_to_first_decision_seconds"`

	TopCameras    []CountItem `json:"top_cameras"`
	TopZones      []CountItem `json:"top_zones"`
	RiskFlagCount []CountItem `json:"risk_flag_breakdown"`

	Narrative string `json:"narrative"`
}

const topN = 5

// Builder computes shift reports from the store.
type Builder struct {
	Store *store.Store
	// Generator optionally rewrites the narrative; output passes the same
	// accusatory-language gate as alerts.
	Generator  engine.Generator
	LLMTimeout time.Duration
}

// Build aggregates the window [start, end].
func (b *Builder) Build(ctx context.Context, start, end time.Time) (*ShiftReport, error) {
	rep := &ShiftReport{
		StartTS:       start,
		EndTS:         end,
		TopCameras:    []CountItem{},
		TopZones:      []CountItem{},
		RiskFlagCount: []CountItem{},
	}

	cameras := map[string]int{}
	zones := map[string]int{}
	flags := map[string]int{}
	created := map[string]time.Time{}

	for _, view := range b.Store.ListIncidents(store.ListFilter{}) {
		inc := view.Incident
		created[inc.IncidentID] = inc.CreatedTS
		if inc.UpdatedTS.Before(start) || inc.UpdatedTS.After(end) {
			continue
		}
		rep.TotalIncidents++
		if len(inc.Events) > 0 {
			cameras[inc.Events[0].CameraID]++
			zones[inc.Events[0].ZoneID]++
		}
		if view.Metadata != nil && view.Metadata.Plan != nil {
			for _, f := range view.Metadata.Plan.ActionRiskFlags {
				flags[f]++
			}
		}
	}

	var dismissed, escalated, confirmed int
	firstDecision := map[string]time.Time{}
	err := b.Store.ScanDecisions(func(d *model.Decision) {
		if _, seen := firstDecision[d.IncidentID]; !seen {
			firstDecision[d.IncidentID] = d.DecisionTS
		}
		if d.DecisionTS.Before(start) || d.DecisionTS.After(end) {
			return
		}
		rep.TotalDecisions++
		switch d.ActionTaken {
		case model.DecisionDismissed:
			dismissed++
		case model.DecisionEscalated:
			escalated++
		case model.DecisionConfirmed:
			confirmed++
		}
	})
	if err != nil {
		return nil, err
	}

	if rep.TotalDecisions > 0 {
		rep.DismissedRate = float64(dismissed) / float64(rep.TotalDecisions)
		rep.EscalationRate = float64(escalated) / float64(rep.TotalDecisions)
		rep.ConfirmedRate = float64(confirmed) / float64(rep.TotalDecisions)
	}

	var totalLatency time.Duration
	var latencyCount int
	for id, first := range firstDecision {
		c, ok := created[id]
		if !ok || first.Before(start) || first.After(end) {
			continue
		}
		totalLatency += first.Sub(c)
		latencyCount++
	}
	if latencyCount > 0 {
		rep.AvgTimeToFirstDecisionSeconds = totalLatency.Seconds() / float64(latencyCount)
	}

	rep.TopCameras = topCounts(cameras, topN)
	rep.TopZones = topCounts(zones, topN)
	rep.RiskFlagCount = topCounts(flags, len(flags))

	rep.Narrative = b.narrative(ctx, rep)
	return rep, nil
}

func (b *Builder) narrative(ctx context.Context, rep *ShiftReport) string {
	text := templateNarrative(rep)
	if b.Generator == nil {
		return text
	}

	timeout := b.LLMTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rewritten, err := b.Generator.Rewrite(cctx,
		"Rewrite this shift summary in neutral language. Never assert identity, guilt or enforcement as fact. Keep every number unchanged.",
		text)
	if err != nil || engine.FindAccusatory(rewritten) != "" {
		return text
	}
	return rewritten
}

func templateNarrative(rep *ShiftReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Shift window %s to %s: %d incident(s) updated, %d decision(s) recorded. ",
		rep.StartTS.Format(time.RFC3339), rep.EndTS.Format(time.RFC3339),
		rep.TotalIncidents, rep.TotalDecisions)
	if rep.TotalDecisions > 0 {
		fmt.Fprintf(&b, "Dismissal rate %.0f%%, escalation rate %.0f%%, confirmation rate %.0f%%. ",
			rep.DismissedRate*100, rep.EscalationRate*100, rep.ConfirmedRate*100)
	}
	if rep.AvgTimeToFirstDecisionSeconds > 0 {
		fmt.Fprintf(&b, "Average time to first decision was %.0f seconds. ", rep.AvgTimeToFirstDecisionSeconds)
	}
	if len(rep.TopCameras) > 0 {
		fmt.Fprintf(&b, "Busiest camera: %s (%d incidents).", rep.TopCameras[0].Key, rep.TopCameras[0].Count)
	}
	return strings.TrimSpace(b.String())
}

func topCounts(m map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(m))
	for k, v := range m {
		items = append(items, CountItem{Key: k, Count: v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Key < items[j].Key
	})
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return items
}
