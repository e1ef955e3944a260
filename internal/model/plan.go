package model

// NextStep is the engine's recommended operator action.
type NextStep string

const (
	StepMonitor               NextStep = "monitor"
	StepNotify                NextStep = "notify"
	StepDispatchPendingReview NextStep = "dispatch_pending_review"
)

// Risk flag codes carried on plans.
const (
	FlagLowConfidence  = "low_confidence"
	FlagHighSeverity   = "high_severity"
	FlagWatchlistMatch = "watchlist_match"
	FlagNoEvidence     = "no_evidence"
)

// NoClipAvailable is the literal evidence token used when an actionable
// plan has no artifact URL to reference.
const NoClipAvailable = "no_clip_available"

// IncidentPlan is the engine's structured recommendation, recomputed on
// every incident change.
type IncidentPlan struct {
	Summary1Line          string   `json:"summary_1line"`
	Severity              int      `json:"severity"`
	Confidence            float64  `json:"confidence"`
	RecommendedNextStep   NextStep `json:"recommended_next_step"`
	RequiresHumanApproval bool     `json:"requires_human_approval"`
	ActionRiskFlags       []string `json:"action_risk_flags"`
	EvidenceRefs          []string `json:"evidence_refs"`
	UncertaintyNotes      string   `json:"uncertainty_notes"`
}

// HasFlag reports whether the plan carries the given risk flag.
func (p *IncidentPlan) HasFlag(flag string) bool {
	for _, f := range p.ActionRiskFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// ValidationStatus values for hard-rule checks.
type ValidationStatus string

const (
	ValidationPassed  ValidationStatus = "passed"
	ValidationWarning ValidationStatus = "warning"
	ValidationFailed  ValidationStatus = "failed"
)

// ValidationResult reports hard-rule violations and advisory warnings.
// Violations and warnings are "code: human text" strings with stable codes.
type ValidationResult struct {
	Status     ValidationStatus `json:"status"`
	Passed     bool             `json:"passed"`
	Violations []string         `json:"violations"`
	Warnings   []string         `json:"warnings"`
}

// OperatorAction values selectable from an alert.
type OperatorAction string

const (
	ActionConfirm  OperatorAction = "confirm"
	ActionDismiss  OperatorAction = "dismiss"
	ActionEscalate OperatorAction = "escalate"
	ActionClose    OperatorAction = "close"
	ActionApprove  OperatorAction = "approve"
)

// AlertMessage is the neutral operator-facing rendering of a plan.
type AlertMessage struct {
	Title           string           `json:"title"`
	Body            string           `json:"body"`
	OperatorActions []OperatorAction `json:"operator_actions"`
	EvidenceRefs    []string         `json:"evidence_refs"`
	Disclaimer      string           `json:"disclaimer,omitempty"`
}

// IncidentMetadata is the engine output stored inline with every incident
// record. Never null on a stored incident.
type IncidentMetadata struct {
	Plan       *IncidentPlan     `json:"plan"`
	Alert      *AlertMessage     `json:"alert"`
	Validation *ValidationResult `json:"validation"`
}
