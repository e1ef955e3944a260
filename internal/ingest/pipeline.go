package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/engine"
	"github.com/technosupport/alibi/internal/grouper"
	"github.com/technosupport/alibi/internal/hub"
	"github.com/technosupport/alibi/internal/metrics"
	"github.com/technosupport/alibi/internal/mirror"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/store"
	"github.com/technosupport/alibi/internal/watchlist"
)

// ErrIngestionPartial marks a request where the event was persisted but a
// later stage failed. The pipeline never claims success it cannot back with
// a stored incident record.
var ErrIngestionPartial = errors.New("ingestion_partial")

// Summary is what the caller (HTTP or simulator) gets back.
type Summary struct {
	IncidentID       string                 `json:"incident_id"`
	Version          int                    `json:"version"`
	Status           model.IncidentStatus   `json:"status"`
	EventCount       int                    `json:"event_count"`
	Created          bool                   `json:"created"`
	Deduplicated     bool                   `json:"deduplicated"` // exact event replay, nothing changed
	NextStep         model.NextStep         `json:"recommended_next_step"`
	ValidationStatus model.ValidationStatus `json:"validation_status"`
}

// Pipeline is the single ingestion path shared by the webhook and the
// simulator. The group-store-publish section runs under one lock so no
// observer can see an incident record without its metadata or out of
// publish order.
type Pipeline struct {
	Store     *store.Store
	Grouper   *grouper.Grouper
	Settings  *config.SettingsStore
	Hub       *hub.Hub
	Mirror    *mirror.Publisher
	Audit     *audit.Logger
	Watchlist *watchlist.Registry
	Metrics   *metrics.Collector
	Clock     clock.Clock

	// Generator is nil when llm.enabled is false or no key is configured.
	Generator  engine.Generator
	LLMTimeout time.Duration

	mu sync.Mutex
}

// Ingest runs the full pipeline for one already-decoded event. Actor is the
// authenticated caller (or "simulator") for the audit trail.
func (p *Pipeline) Ingest(ctx context.Context, evt *model.CameraEvent, actor string) (*Summary, error) {
	if err := evt.Validate(); err != nil {
		p.Audit.Log(actor, audit.ActionIngestRejected, evt.EventID, map[string]string{"error": err.Error()})
		p.Metrics.EventRejected()
		return nil, err
	}

	p.enrichWatchlist(evt, actor)

	settings := p.Settings.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Step 2: persist the raw event. A repeated event_id writes nothing.
	appended, err := p.Store.AppendEvent(evt)
	if err != nil {
		p.Metrics.EventRejected()
		return nil, err
	}

	// Step 3: route to an incident.
	res := p.Grouper.Route(evt, settings)

	if !res.Attached && !res.Created {
		// Exact replay inside the dedup window: the stored incident already
		// holds this event. No new version, no publish.
		inc, meta, err := p.Store.GetIncident(res.Incident.IncidentID)
		if err != nil {
			return nil, err
		}
		return p.summarize(inc, meta, false, true), nil
	}
	if !appended && res.Attached {
		// The event line exists but the incident does not carry it (partial
		// prior ingest). Proceed so the incident catches up.
		log.Printf("ingest: event %s re-attached to incident %s", evt.EventID, res.Incident.IncidentID)
	}

	// Step 4: engine run.
	meta := p.runEngine(ctx, res.Incident, settings)
	promotePendingReview(res.Incident, meta)

	// Step 5: store the new incident version with its metadata.
	stored, err := p.Store.AppendIncident(res.Incident, meta)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrIngestionPartial, err)
		}
		return nil, err
	}

	// Step 6: fan out.
	p.Hub.PublishUpsert(stored.IncidentID, stored.Version, meta.Plan.Summary1Line, stored.UpdatedTS)
	if p.Mirror != nil {
		p.Mirror.Publish(hub.Message{
			Event:      hub.EventIncidentUpsert,
			IncidentID: stored.IncidentID,
			Version:    stored.Version,
			Summary:    meta.Plan.Summary1Line,
			UpdatedTS:  stored.UpdatedTS,
		})
	}

	p.Metrics.EventIngested(evt.EventType)
	if res.Created {
		p.Metrics.IncidentCreated()
	}

	return p.summarize(stored, meta, res.Created, false), nil
}

// runEngine builds, validates and compiles. Engine validation failure is a
// business outcome, not a request error: the incident is stored with the
// failed result and a neutral alert.
func (p *Pipeline) runEngine(ctx context.Context, inc *model.Incident, settings config.Settings) *model.IncidentMetadata {
	plan := engine.BuildIncidentPlan(inc, settings)
	validation := engine.ValidateIncidentPlan(plan, inc, settings)

	var gen engine.Generator
	if settings.LLM.Enabled {
		gen = p.Generator
	}
	alert, llmWarnings := engine.CompileAlert(ctx, plan, inc, gen, p.llmTimeout())
	validation.Warnings = append(validation.Warnings, llmWarnings...)

	proseCheck := engine.ValidateAlertProse(alert, inc)
	validation = engine.MergeResults(validation, proseCheck)

	if !validation.Passed {
		alert = engine.NeutralFallbackAlert(plan)
		p.Metrics.ValidationFailed()
	}

	return &model.IncidentMetadata{Plan: plan, Alert: alert, Validation: validation}
}

// Reevaluate re-runs the engine on the stored incident under current
// settings and publishes the new version. Used after settings updates.
func (p *Pipeline) Reevaluate(ctx context.Context, incidentID string) (*Summary, error) {
	settings := p.Settings.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()

	inc, _, err := p.Store.GetIncident(incidentID)
	if err != nil {
		return nil, err
	}
	meta := p.runEngine(ctx, inc, settings)
	promotePendingReview(inc, meta)
	stored, err := p.Store.AppendIncident(inc, meta)
	if err != nil {
		return nil, err
	}
	p.Hub.PublishUpsert(stored.IncidentID, stored.Version, meta.Plan.Summary1Line, stored.UpdatedTS)
	return p.summarize(stored, meta, false, false), nil
}

// promotePendingReview moves an undecided incident into the supervisor
// approval queue when its passing plan demands human approval. Decided
// incidents (dismissed, escalated, closed...) keep their operator-chosen
// status.
func promotePendingReview(inc *model.Incident, meta *model.IncidentMetadata) {
	if !meta.Validation.Passed || !meta.Plan.RequiresHumanApproval {
		return
	}
	if inc.Status == model.StatusNew || inc.Status == model.StatusTriage {
		inc.Status = model.StatusDispatchPendingReview
	}
}

// RecordDecision persists a decision, transitions the incident status (with
// prior metadata preserved) and publishes the change.
func (p *Pipeline) RecordDecision(d *model.Decision) (*model.Incident, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	inc, meta, err := p.Store.GetIncident(d.IncidentID)
	if err != nil {
		return nil, err
	}
	if err := p.Store.AppendDecision(d); err != nil {
		return nil, err
	}
	next, err := p.Store.UpdateIncidentStatus(inc.IncidentID, d.StatusAfter())
	if err != nil {
		return nil, err
	}

	summary := ""
	if meta != nil && meta.Plan != nil {
		summary = meta.Plan.Summary1Line
	}
	p.Hub.PublishUpsert(next.IncidentID, next.Version, summary, next.UpdatedTS)
	p.Audit.Log(d.OperatorUsername, audit.ActionDecisionRecorded, d.IncidentID, d)
	p.Metrics.DecisionRecorded(string(d.ActionTaken))
	return next, nil
}

// Approve moves dispatch_pending_review to dispatch_authorized.
func (p *Pipeline) Approve(incidentID, supervisor, notes string) (*model.Incident, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inc, meta, err := p.Store.GetIncident(incidentID)
	if err != nil {
		return nil, err
	}
	if inc.Status != model.StatusDispatchPendingReview {
		return nil, fmt.Errorf("%w: incident %s is %s, not %s",
			ErrConflict, incidentID, inc.Status, model.StatusDispatchPendingReview)
	}

	d := &model.Decision{
		IncidentID:       incidentID,
		DecisionTS:       p.Clock.Now(),
		ActionTaken:      model.DecisionApproved,
		OperatorUsername: supervisor,
		OperatorNotes:    notes,
	}
	if err := p.Store.AppendDecision(d); err != nil {
		return nil, err
	}
	next, err := p.Store.UpdateIncidentStatus(incidentID, model.StatusDispatchAuthorized)
	if err != nil {
		return nil, err
	}

	summary := ""
	if meta != nil && meta.Plan != nil {
		summary = meta.Plan.Summary1Line
	}
	p.Hub.PublishUpsert(next.IncidentID, next.Version, summary, next.UpdatedTS)
	p.Audit.Log(supervisor, audit.ActionApprovalGranted, incidentID, map[string]string{"notes": notes})
	return next, nil
}

// ErrConflict marks an invalid state transition (HTTP 409).
var ErrConflict = errors.New("conflict")

func (p *Pipeline) enrichWatchlist(evt *model.CameraEvent, actor string) {
	if p.Watchlist == nil {
		return
	}
	plate := evt.PlateText()
	if plate == "" {
		return
	}
	entry, ok := p.Watchlist.Match(plate)
	if !ok {
		return
	}
	if evt.Metadata == nil {
		evt.Metadata = map[string]any{}
	}
	evt.Metadata["watchlist_match"] = true
	evt.Metadata["watchlist_label"] = entry.Label
	p.Audit.Log(actor, audit.ActionWatchlistHit, evt.EventID, map[string]string{
		"identifier": entry.Identifier,
		"camera_id":  evt.CameraID,
	})
}

func (p *Pipeline) llmTimeout() time.Duration {
	if p.LLMTimeout <= 0 {
		return 3 * time.Second
	}
	return p.LLMTimeout
}

func (p *Pipeline) summarize(inc *model.Incident, meta *model.IncidentMetadata, created, deduped bool) *Summary {
	s := &Summary{
		IncidentID:   inc.IncidentID,
		Version:      inc.Version,
		Status:       inc.Status,
		EventCount:   len(inc.Events),
		Created:      created,
		Deduplicated: deduped,
	}
	if meta != nil && meta.Plan != nil {
		s.NextStep = meta.Plan.RecommendedNextStep
	}
	if meta != nil && meta.Validation != nil {
		s.ValidationStatus = meta.Validation.Status
	}
	return s
}
