package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/technosupport/alibi/internal/model"
)

// Generator is the optional prose rewriter (LLM). Implementations must
// respect ctx deadlines; output is always re-validated before use.
type Generator interface {
	Rewrite(ctx context.Context, prompt, draft string) (string, error)
}

const disclaimerText = "Automated assessment. Observations are unverified and require operator judgment before any action."

// NeutralFallbackBody replaces the alert body whenever validation fails.
const NeutralFallbackBody = "This incident requires manual review. The automated assessment did not pass safety validation; inspect the attached events and evidence directly."

// CompileAlert renders the operator-facing alert from a plan. The
// deterministic template always runs first; when gen is non-nil a rewrite
// pass may replace the body, gated by the same language rules.
func CompileAlert(ctx context.Context, plan *model.IncidentPlan, inc *model.Incident, gen Generator, timeout time.Duration) (*model.AlertMessage, []string) {
	alert := &model.AlertMessage{
		Title:           buildTitle(inc, plan),
		Body:            buildBody(inc, plan),
		OperatorActions: []model.OperatorAction{model.ActionConfirm, model.ActionDismiss, model.ActionEscalate, model.ActionClose, model.ActionApprove},
		EvidenceRefs:    append([]string{}, plan.EvidenceRefs...),
	}
	if len(plan.ActionRiskFlags) > 0 {
		alert.Disclaimer = disclaimerText
	}

	var warnings []string
	if gen != nil {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		rewritten, err := gen.Rewrite(cctx, rewritePrompt(inc, plan), alert.Body)
		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("%s: body rewrite skipped: %v", CodeLLMTimeout, err))
		case FindAccusatory(rewritten) != "":
			// Hard gate: generated prose never bypasses the language check.
			warnings = append(warnings, fmt.Sprintf("%s: rewrite contained forbidden phrasing, template kept", CodeLLMRejected))
		default:
			if res := ValidateAlertProse(&model.AlertMessage{Title: alert.Title, Body: rewritten}, inc); res.Passed {
				alert.Body = rewritten
			} else {
				warnings = append(warnings, fmt.Sprintf("%s: rewrite failed prose validation, template kept", CodeLLMRejected))
			}
		}
	}

	return alert, warnings
}

// NeutralFallbackAlert is stored when the plan or compiled alert fails
// validation. The incident still surfaces; it just stops recommending.
func NeutralFallbackAlert(plan *model.IncidentPlan) *model.AlertMessage {
	return &model.AlertMessage{
		Title:           "Incident requires manual review",
		Body:            NeutralFallbackBody,
		OperatorActions: []model.OperatorAction{model.ActionConfirm, model.ActionDismiss, model.ActionEscalate, model.ActionClose},
		EvidenceRefs:    append([]string{}, plan.EvidenceRefs...),
		Disclaimer:      disclaimerText,
	}
}

func buildTitle(inc *model.Incident, plan *model.IncidentPlan) string {
	types := inc.EventTypes()
	name := "activity"
	if len(types) > 0 {
		// Hedged detector types lead the title so the required phrasing is
		// present even in mixed incidents.
		name = displayName(types[0])
		for _, t := range types {
			if requiresHedging(t) {
				name = displayName(t)
				break
			}
		}
	}
	camera := ""
	if len(inc.Events) > 0 {
		camera = inc.Events[0].CameraID
	}
	return fmt.Sprintf("Severity %d: %s at %s", plan.Severity, name, camera)
}

func buildBody(inc *model.Incident, plan *model.IncidentPlan) string {
	var b strings.Builder

	camera, zone := "", ""
	if len(inc.Events) > 0 {
		camera, zone = inc.Events[0].CameraID, inc.Events[0].ZoneID
	}

	fmt.Fprintf(&b, "%s. ", plan.Summary1Line)
	fmt.Fprintf(&b, "Observed at camera %s, zone %s. ", camera, zone)

	switch plan.RecommendedNextStep {
	case model.StepMonitor:
		b.WriteString("Recommended next step: continue monitoring; confidence is below the notification threshold. ")
	case model.StepNotify:
		b.WriteString("Recommended next step: notify the responsible operator and review the referenced evidence. ")
	case model.StepDispatchPendingReview:
		b.WriteString("Recommended next step: dispatch pending review; a supervisor must approve before responders are sent. ")
	}

	if plan.HasFlag(model.FlagWatchlistMatch) {
		b.WriteString("A possible watchlist match was reported; verify the observation against the registry before acting. ")
	}
	if plan.UncertaintyNotes != "" {
		fmt.Fprintf(&b, "Notes: %s.", plan.UncertaintyNotes)
	}
	return strings.TrimSpace(b.String())
}

func rewritePrompt(inc *model.Incident, plan *model.IncidentPlan) string {
	return fmt.Sprintf(
		"Rewrite the following surveillance alert body in neutral, non-accusatory language. "+
			"Never assert identity, guilt or enforcement as fact. Keep all facts (%d events, severity %d, confidence %.2f) unchanged.",
		len(inc.Events), plan.Severity, plan.Confidence)
}
