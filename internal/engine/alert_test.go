package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/engine"
	"github.com/technosupport/alibi/internal/model"
)

// fakeGen returns a canned rewrite or error.
type fakeGen struct {
	out string
	err error
}

func (f *fakeGen) Rewrite(_ context.Context, _, _ string) (string, error) {
	return f.out, f.err
}

func TestCompileAlertTemplate(t *testing.T) {
	s := config.DefaultSettings()
	inc := makeIncident(makeEvent("person_detected", 0.90, 2))
	plan := engine.BuildIncidentPlan(inc, s)

	alert, warnings := engine.CompileAlert(context.Background(), plan, inc, nil, time.Second)

	if len(warnings) != 0 {
		t.Errorf("template-only compile should not warn: %v", warnings)
	}
	if !strings.HasPrefix(alert.Title, "Severity 2:") {
		t.Errorf("unexpected title %q", alert.Title)
	}
	if !strings.Contains(alert.Body, "notify the responsible operator") {
		t.Errorf("body must state the next step: %q", alert.Body)
	}
	if alert.Disclaimer == "" {
		t.Error("flagged plan must carry the disclaimer")
	}
	if len(alert.OperatorActions) == 0 {
		t.Error("alert must offer operator actions")
	}
}

func TestCompileAlertHedgedTitleForMixedIncident(t *testing.T) {
	s := config.DefaultSettings()
	read := makeEvent("plate_read", 0.90, 2)
	mismatch := makeEvent("plate_mismatch", 0.90, 3)
	inc := makeIncident(read, mismatch)
	plan := engine.BuildIncidentPlan(inc, s)

	alert, _ := engine.CompileAlert(context.Background(), plan, inc, nil, time.Second)

	res := engine.ValidateAlertProse(alert, inc)
	if !res.Passed {
		t.Fatalf("template alert for mismatch incident must pass prose rules: %v", res.Violations)
	}
	if !engine.MentionsMismatch(alert.Title) {
		t.Errorf("title should surface the mismatch claim: %q", alert.Title)
	}
}

func TestCompileAlertRewriteAccepted(t *testing.T) {
	s := config.DefaultSettings()
	inc := makeIncident(makeEvent("person_detected", 0.90, 2))
	plan := engine.BuildIncidentPlan(inc, s)
	gen := &fakeGen{out: "Activity observed at the entry gate; please review the footage before acting."}

	alert, warnings := engine.CompileAlert(context.Background(), plan, inc, gen, time.Second)

	if len(warnings) != 0 {
		t.Fatalf("clean rewrite should not warn: %v", warnings)
	}
	if alert.Body != gen.out {
		t.Errorf("rewrite should replace the body, got %q", alert.Body)
	}
}

func TestCompileAlertRewriteRejectedOnAccusatoryOutput(t *testing.T) {
	s := config.DefaultSettings()
	inc := makeIncident(makeEvent("person_detected", 0.90, 2))
	plan := engine.BuildIncidentPlan(inc, s)
	template, _ := engine.CompileAlert(context.Background(), plan, inc, nil, time.Second)

	gen := &fakeGen{out: "The intruder was identified as a known criminal."}
	alert, warnings := engine.CompileAlert(context.Background(), plan, inc, gen, time.Second)

	if alert.Body != template.Body {
		t.Errorf("rejected rewrite must keep the template body")
	}
	if len(warnings) != 1 || !strings.HasPrefix(warnings[0], engine.CodeLLMRejected) {
		t.Errorf("expected %s warning, got %v", engine.CodeLLMRejected, warnings)
	}
}

func TestCompileAlertRewriteErrorKeepsTemplate(t *testing.T) {
	s := config.DefaultSettings()
	inc := makeIncident(makeEvent("person_detected", 0.90, 2))
	plan := engine.BuildIncidentPlan(inc, s)

	gen := &fakeGen{err: errors.New("deadline exceeded")}
	alert, warnings := engine.CompileAlert(context.Background(), plan, inc, gen, time.Second)

	if alert.Body == "" {
		t.Fatal("template body must survive a generator error")
	}
	if len(warnings) != 1 || !strings.HasPrefix(warnings[0], engine.CodeLLMTimeout) {
		t.Errorf("expected %s warning, got %v", engine.CodeLLMTimeout, warnings)
	}
}

func TestNeutralFallbackAlertIsNeutral(t *testing.T) {
	s := config.DefaultSettings()
	inc := makeIncident(makeEvent("hotlist_match", 0.90, 4))
	plan := engine.BuildIncidentPlan(inc, s)

	alert := engine.NeutralFallbackAlert(plan)

	if hit := engine.FindAccusatory(alert.Body); hit != "" {
		t.Errorf("fallback body contains forbidden phrase %q", hit)
	}
	if alert.Disclaimer == "" {
		t.Error("fallback alert must carry the disclaimer")
	}
	for _, a := range alert.OperatorActions {
		if a == model.ActionApprove {
			t.Error("fallback alert must not offer the approve action")
		}
	}
	if len(alert.EvidenceRefs) != len(plan.EvidenceRefs) {
		t.Errorf("fallback must keep evidence refs: %v", alert.EvidenceRefs)
	}
}
