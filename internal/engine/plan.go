package engine

import (
	"fmt"
	"strings"

	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/model"
)

// displayName renders an event type for operator prose. Hedged detector
// types are phrased as claims needing verification, never as facts.
func displayName(eventType string) string {
	switch eventType {
	case "hotlist_match":
		return "possible hotlist match"
	case "plate_mismatch":
		return "possible plate mismatch"
	default:
		return strings.ReplaceAll(eventType, "_", " ")
	}
}

// BuildIncidentPlan derives the plan from the incident's events under the
// current thresholds. Pure; re-run on every incident change.
func BuildIncidentPlan(inc *model.Incident, s config.Settings) *model.IncidentPlan {
	severity := inc.MaxSeverity()
	confidence := inc.AvgConfidence()
	watchlist := inc.WatchlistMatchPresent()

	plan := &model.IncidentPlan{
		Severity:        severity,
		Confidence:      confidence,
		ActionRiskFlags: []string{},
		EvidenceRefs:    []string{},
	}

	// Recommendation ladder: low confidence always wins, then the
	// approval-gated dispatch path, then plain notify.
	lowConfidence := confidence < s.Thresholds.MinConfidenceForNotify
	highSeverity := severity >= s.Thresholds.HighSeverityThreshold

	switch {
	case lowConfidence:
		plan.RecommendedNextStep = model.StepMonitor
	case highSeverity || watchlist:
		plan.RecommendedNextStep = model.StepDispatchPendingReview
	default:
		plan.RecommendedNextStep = model.StepNotify
	}
	plan.RequiresHumanApproval = plan.RecommendedNextStep == model.StepDispatchPendingReview

	if lowConfidence {
		plan.ActionRiskFlags = append(plan.ActionRiskFlags, model.FlagLowConfidence)
	}
	if highSeverity {
		plan.ActionRiskFlags = append(plan.ActionRiskFlags, model.FlagHighSeverity)
	}
	if watchlist {
		plan.ActionRiskFlags = append(plan.ActionRiskFlags, model.FlagWatchlistMatch)
	}
	if !inc.HasEvidence() {
		plan.ActionRiskFlags = append(plan.ActionRiskFlags, model.FlagNoEvidence)
	}

	for _, e := range inc.Events {
		if e.ClipURL != "" {
			plan.EvidenceRefs = append(plan.EvidenceRefs, e.ClipURL)
		}
		if e.SnapshotURL != "" {
			plan.EvidenceRefs = append(plan.EvidenceRefs, e.SnapshotURL)
		}
	}
	if len(plan.EvidenceRefs) == 0 && plan.RecommendedNextStep != model.StepMonitor {
		plan.EvidenceRefs = append(plan.EvidenceRefs, model.NoClipAvailable)
	}

	plan.Summary1Line = buildSummary(inc, severity, confidence)
	plan.UncertaintyNotes = buildUncertaintyNotes(plan, s)

	return plan
}

func buildSummary(inc *model.Incident, severity int, confidence float64) string {
	types := inc.EventTypes()
	names := make([]string, 0, len(types))
	hedged := false
	for _, t := range types {
		names = append(names, displayName(t))
		if requiresHedging(t) {
			hedged = true
		}
	}
	top := names
	if len(top) > 3 {
		top = top[:3]
	}
	s := fmt.Sprintf("%d event(s): %s (severity %d, confidence %.2f)",
		len(inc.Events), strings.Join(top, " + "), severity, confidence)
	if hedged {
		s += "; review to verify"
	}
	if len(s) > 200 {
		s = s[:197] + "..."
	}
	return s
}

func buildUncertaintyNotes(p *model.IncidentPlan, s config.Settings) string {
	var notes []string
	if p.HasFlag(model.FlagLowConfidence) {
		notes = append(notes, fmt.Sprintf("confidence %.2f is below the notify threshold %.2f",
			p.Confidence, s.Thresholds.MinConfidenceForNotify))
	}
	if p.HasFlag(model.FlagWatchlistMatch) {
		notes = append(notes, "watchlist match is an unverified claim and requires human review")
	}
	if p.HasFlag(model.FlagNoEvidence) {
		notes = append(notes, "no clip or snapshot is attached")
	}
	if len(notes) == 0 {
		return ""
	}
	return strings.Join(notes, "; ")
}
