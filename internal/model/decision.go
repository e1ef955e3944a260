package model

import (
	"errors"
	"fmt"
	"time"
)

// DecisionAction values an operator may record against an incident.
type DecisionAction string

const (
	DecisionConfirmed DecisionAction = "confirmed"
	DecisionDismissed DecisionAction = "dismissed"
	DecisionEscalated DecisionAction = "escalated"
	DecisionClosed    DecisionAction = "closed"
	DecisionApproved  DecisionAction = "approved"
)

// DismissReason values; required when the action is dismissed.
type DismissReason string

const (
	ReasonFalsePositiveMotion DismissReason = "false_positive_motion"
	ReasonNormalBehavior      DismissReason = "normal_behavior"
	ReasonCameraFault         DismissReason = "camera_fault"
	ReasonWeather             DismissReason = "weather"
	ReasonUnknown             DismissReason = "unknown"
)

var ErrInvalidDecision = errors.New("invalid decision")

// Decision is one operator triage action on one incident.
type Decision struct {
	IncidentID       string         `json:"incident_id"`
	DecisionTS       time.Time      `json:"decision_ts"`
	ActionTaken      DecisionAction `json:"action_taken"`
	OperatorUsername string         `json:"operator_username"`
	OperatorNotes    string         `json:"operator_notes,omitempty"`
	WasTruePositive  *bool          `json:"was_true_positive,omitempty"`
	DismissReason    DismissReason  `json:"dismiss_reason,omitempty"`
}

// Validate enforces the decision schema, including the dismiss-reason rule.
func (d *Decision) Validate() error {
	switch d.ActionTaken {
	case DecisionConfirmed, DecisionDismissed, DecisionEscalated, DecisionClosed, DecisionApproved:
	default:
		return fmt.Errorf("%w: unknown action_taken %q", ErrInvalidDecision, d.ActionTaken)
	}
	if d.ActionTaken == DecisionDismissed {
		switch d.DismissReason {
		case ReasonFalsePositiveMotion, ReasonNormalBehavior, ReasonCameraFault, ReasonWeather, ReasonUnknown:
		case "":
			return fmt.Errorf("%w: dismiss_reason is required when dismissing", ErrInvalidDecision)
		default:
			return fmt.Errorf("%w: unknown dismiss_reason %q", ErrInvalidDecision, d.DismissReason)
		}
	} else if d.DismissReason != "" {
		return fmt.Errorf("%w: dismiss_reason only valid when dismissing", ErrInvalidDecision)
	}
	return nil
}

// StatusAfter maps a decision action to the resulting incident status.
func (d *Decision) StatusAfter() IncidentStatus {
	switch d.ActionTaken {
	case DecisionConfirmed:
		return StatusTriage
	case DecisionDismissed:
		return StatusDismissed
	case DecisionEscalated:
		return StatusEscalated
	case DecisionClosed:
		return StatusClosed
	case DecisionApproved:
		return StatusDispatchAuthorized
	}
	return StatusTriage
}
