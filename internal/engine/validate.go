package engine

import (
	"fmt"

	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/model"
)

// Stable violation / warning codes.
const (
	CodeAccusatoryLanguage = "accusatory_language"
	CodeMissingHedge       = "missing_hedge"
	CodeMissingMismatch    = "missing_mismatch_mention"
	CodeLowConfidenceGate  = "low_confidence_gate"
	CodeApprovalGate       = "approval_gate"
	CodeEvidenceGate       = "evidence_gate"
	CodeConfidenceMarginal = "confidence_marginal"
	CodeMixedEventTypes    = "mixed_event_types"
	CodeLLMTimeout         = "llm_timeout"
	CodeLLMRejected        = "llm_rejected"
)

// ValidateIncidentPlan enforces the hard safety rules. Any violation fails
// the plan; warnings are surfaced but non-blocking.
func ValidateIncidentPlan(plan *model.IncidentPlan, inc *model.Incident, s config.Settings) *model.ValidationResult {
	res := &model.ValidationResult{
		Violations: []string{},
		Warnings:   []string{},
	}

	checkProse(res, "summary_1line", plan.Summary1Line, inc)

	// Rule 2: low-confidence gate.
	if plan.Confidence < s.Thresholds.MinConfidenceForNotify && plan.RecommendedNextStep != model.StepMonitor {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"%s: confidence %.2f below %.2f but next step is %s",
			CodeLowConfidenceGate, plan.Confidence, s.Thresholds.MinConfidenceForNotify, plan.RecommendedNextStep))
	}

	// Rule 3: high-risk approval gate. High severity or a watchlist claim
	// must route through human approval, never auto-notify or auto-dispatch.
	highRisk := plan.Severity >= s.Thresholds.HighSeverityThreshold || inc.WatchlistMatchPresent()
	lowConfidence := plan.Confidence < s.Thresholds.MinConfidenceForNotify
	if highRisk && !lowConfidence {
		if !plan.RequiresHumanApproval || plan.RecommendedNextStep != model.StepDispatchPendingReview {
			res.Violations = append(res.Violations, fmt.Sprintf(
				"%s: high-risk incident must require human approval with next step %s",
				CodeApprovalGate, model.StepDispatchPendingReview))
		}
	}

	// Rule 4: evidence gate. Actionable plans must reference evidence or
	// carry the explicit no-clip token.
	if plan.RecommendedNextStep == model.StepNotify || plan.RecommendedNextStep == model.StepDispatchPendingReview {
		if len(plan.EvidenceRefs) == 0 {
			res.Violations = append(res.Violations, fmt.Sprintf(
				"%s: actionable plan has no evidence refs (URLs or %q)",
				CodeEvidenceGate, model.NoClipAvailable))
		}
	}

	// Warnings.
	margin := plan.Confidence - s.Thresholds.MinConfidenceForNotify
	if margin >= 0 && margin < 0.05 && plan.RecommendedNextStep != model.StepMonitor {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%s: confidence %.2f is within 0.05 of the notify threshold", CodeConfidenceMarginal, plan.Confidence))
	}
	if len(inc.EventTypes()) >= 4 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"%s: %d distinct event types grouped in one incident", CodeMixedEventTypes, len(inc.EventTypes())))
	}

	finalize(res)
	return res
}

// ValidateAlertProse re-checks compiled (possibly LLM-rewritten) title and
// body against the same language rules.
func ValidateAlertProse(alert *model.AlertMessage, inc *model.Incident) *model.ValidationResult {
	res := &model.ValidationResult{Violations: []string{}, Warnings: []string{}}
	checkProse(res, "title", alert.Title, inc)
	checkProse(res, "body", alert.Body, inc)
	finalize(res)
	return res
}

func checkProse(res *model.ValidationResult, field, text string, inc *model.Incident) {
	if hit := FindAccusatory(text); hit != "" {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"%s: %s contains forbidden phrase %q", CodeAccusatoryLanguage, field, hit))
	}

	needHedge, needMismatch := false, false
	for _, t := range inc.EventTypes() {
		if requiresHedging(t) {
			needHedge = true
		}
		if isMismatchType(t) {
			needMismatch = true
		}
	}
	if needHedge && !HasHedge(text) {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"%s: %s must hedge hotlist/mismatch observations (possible/appears/verify...)", CodeMissingHedge, field))
	}
	if needMismatch && !MentionsMismatch(text) {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"%s: %s must name the mismatch explicitly", CodeMissingMismatch, field))
	}
}

func finalize(res *model.ValidationResult) {
	switch {
	case len(res.Violations) > 0:
		res.Status = model.ValidationFailed
		res.Passed = false
	case len(res.Warnings) > 0:
		res.Status = model.ValidationWarning
		res.Passed = true
	default:
		res.Status = model.ValidationPassed
		res.Passed = true
	}
}

// MergeResults folds b's violations and warnings into a.
func MergeResults(a, b *model.ValidationResult) *model.ValidationResult {
	out := &model.ValidationResult{
		Violations: append(append([]string{}, a.Violations...), b.Violations...),
		Warnings:   append(append([]string{}, a.Warnings...), b.Warnings...),
	}
	finalize(out)
	return out
}
