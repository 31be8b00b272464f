// Package disagreement tracks divergence between generator and validator
// positions and drives each case to resolution or human escalation.
package disagreement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/model"
)

// ErrNotPending is returned when a transition is attempted on a disagreement
// that is not in a state allowing it.
var ErrNotPending = eris.New("disagreement: not in a transitionable state")

// Store is the persistence surface the handler needs.
type Store interface {
	CreateDisagreement(ctx context.Context, d *model.Disagreement) error
	UpdateDisagreement(ctx context.Context, d *model.Disagreement) error
	GetDisagreement(ctx context.Context, id string) (*model.Disagreement, error)
	ListDisagreements(ctx context.Context, filter model.DisagreementFilter) ([]model.Disagreement, error)
}

// ReviewQueue receives escalated disagreements. The pushed record must be
// complete and self-explanatory: positions, evidence, severity.
type ReviewQueue interface {
	Push(ctx context.Context, d *model.Disagreement) error
}

// EventRecorder accepts learning events emitted on resolution and escalation.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event model.LearningEvent) error
}

// Handler implements the disagreement state machine:
// detected → pending → {resolved | escalated}.
type Handler struct {
	cfg    config.DisagreementConfig
	store  Store
	queue  ReviewQueue
	events EventRecorder
	now    func() time.Time
}

// NewHandler creates a disagreement handler. All collaborators are required;
// construction fails fast rather than deferring a nil dereference to first use.
func NewHandler(cfg config.DisagreementConfig, store Store, queue ReviewQueue, events EventRecorder) (*Handler, error) {
	if store == nil {
		return nil, eris.New("disagreement: store is required")
	}
	if queue == nil {
		return nil, eris.New("disagreement: review queue is required")
	}
	if events == nil {
		return nil, eris.New("disagreement: event recorder is required")
	}
	return &Handler{cfg: cfg, store: store, queue: queue, events: events, now: time.Now}, nil
}

// WithNow sets a fixed time for testing.
func (h *Handler) WithNow(t time.Time) *Handler {
	h.now = func() time.Time { return t }
	return h
}

// Detect applies the documented trigger conditions to a failing node and, on
// a breach, creates a pending disagreement. Exactly three conditions trigger
// creation and no others:
//
//  1. generator-stated vs validator-computed confidence diverging by more
//     than the configured delta (0-1 scale),
//  2. issue severity at or above the configured threshold,
//  3. issue count above the configured limit.
//
// Critical severity escalates immediately, bypassing the pending grace
// period. Returns nil when no condition is met.
func (h *Handler) Detect(
	ctx context.Context,
	wf *model.ValidationWorkflow,
	node model.Node,
	factors model.ConfidenceFactors,
	issues []model.Issue,
	weights model.FactorWeights,
) (*model.Disagreement, error) {
	validatorConf := factors.Overall(weights) / 100
	maxSev := model.SeverityLow
	var evidence []string
	for _, issue := range issues {
		maxSev = model.MaxSeverity(maxSev, issue.Severity)
		evidence = append(evidence, issue.Description)
	}

	var dType model.DisagreementType
	switch {
	case node.GeneratorConfidence > 0 && math.Abs(node.GeneratorConfidence-validatorConf) > h.cfg.ConfidenceDelta:
		dType = model.DisagreementTypeConfidenceDelta
	case len(issues) > 0 && maxSev.AtLeast(h.cfg.SeverityThreshold):
		dType = model.DisagreementTypeSeverity
	case len(issues) > h.cfg.IssueCountThreshold:
		dType = model.DisagreementTypeIssueCount
	default:
		return nil, nil
	}

	now := h.now().UTC()
	d := &model.Disagreement{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		NodeID:     node.ID,
		Type:       dType,
		Status:     model.DisagreementStatusPending,
		Severity:   maxSev,
		Generator: model.Position{
			Confidence: node.GeneratorConfidence,
			Statement:  node.Content,
		},
		Validator: model.Position{
			Confidence: validatorConf,
			Statement:  fmt.Sprintf("weighted confidence %.1f with %d issues", factors.Overall(weights), len(issues)),
			Evidence:   evidence,
		},
		Issues:    issues,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateDisagreement(ctx, d); err != nil {
		return nil, eris.Wrap(err, "disagreement: create")
	}

	zap.L().Info("disagreement: detected",
		zap.String("id", d.ID),
		zap.String("workflow_id", wf.ID),
		zap.String("node_id", node.ID),
		zap.String("type", string(dType)),
		zap.String("severity", string(maxSev)),
	)

	if maxSev == model.SeverityCritical {
		if err := h.escalate(ctx, d, "critical severity at detection"); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Resolve transitions a pending or escalated disagreement to resolved. The
// explanation is mandatory, never optional. Escalated disagreements leave
// that state only through this call.
func (h *Handler) Resolve(ctx context.Context, id string, res model.Resolution) (*model.Disagreement, error) {
	if res.Explanation == "" {
		return nil, eris.New("disagreement: resolution explanation is required")
	}
	switch res.Method {
	case model.ResolutionAcceptGenerator, model.ResolutionAcceptValidator, model.ResolutionMerged, model.ResolutionManualOverride:
	default:
		return nil, eris.Errorf("disagreement: unknown resolution method %q", res.Method)
	}

	d, err := h.store.GetDisagreement(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "disagreement: get %s", id)
	}
	if d.Status == model.DisagreementStatusResolved {
		return nil, eris.Wrapf(ErrNotPending, "disagreement %s already resolved", id)
	}

	res.ResolvedAt = h.now().UTC()
	d.Resolution = &res
	d.Status = model.DisagreementStatusResolved
	d.UpdatedAt = res.ResolvedAt

	if err := h.store.UpdateDisagreement(ctx, d); err != nil {
		return nil, eris.Wrapf(err, "disagreement: update %s", id)
	}

	event := model.LearningEvent{
		ID:       uuid.New().String(),
		Type:     model.LearningEventDisagreementResolved,
		SourceID: d.ID,
		Category: string(res.Method),
		Data: map[string]any{
			"workflow_id":    d.WorkflowID,
			"node_id":        d.NodeID,
			"type":           string(d.Type),
			"severity":       string(d.Severity),
			"learning_notes": res.LearningNotes,
		},
		Impact:    resolutionImpact(res.Method),
		CreatedAt: res.ResolvedAt,
	}
	if err := h.events.RecordEvent(ctx, event); err != nil {
		zap.L().Warn("disagreement: failed to record resolution event", zap.Error(err))
	}

	zap.L().Info("disagreement: resolved",
		zap.String("id", d.ID),
		zap.String("method", string(res.Method)),
		zap.String("approver", res.Approver),
	)

	return d, nil
}

// Escalate moves a pending disagreement to escalated with an explicit reason
// and pushes the full record to the human-review queue.
func (h *Handler) Escalate(ctx context.Context, id, reason string) (*model.Disagreement, error) {
	if reason == "" {
		return nil, eris.New("disagreement: escalation reason is required")
	}

	d, err := h.store.GetDisagreement(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "disagreement: get %s", id)
	}
	if d.Status != model.DisagreementStatusPending {
		return nil, eris.Wrapf(ErrNotPending, "disagreement %s is %s", id, d.Status)
	}

	if err := h.escalate(ctx, d, reason); err != nil {
		return nil, err
	}
	return d, nil
}

// ExpirePending escalates pending disagreements older than the policy
// timeout. Returns the number escalated.
func (h *Handler) ExpirePending(ctx context.Context) (int, error) {
	if h.cfg.PendingTimeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().UTC().Add(-h.cfg.PendingTimeout)

	pending, err := h.store.ListDisagreements(ctx, model.DisagreementFilter{
		Status:        model.DisagreementStatusPending,
		CreatedBefore: cutoff,
	})
	if err != nil {
		return 0, eris.Wrap(err, "disagreement: list pending")
	}

	n := 0
	for i := range pending {
		if err := h.escalate(ctx, &pending[i], "resolution not supplied within policy"); err != nil {
			zap.L().Warn("disagreement: expire escalation failed",
				zap.String("id", pending[i].ID),
				zap.Error(err),
			)
			continue
		}
		n++
	}
	return n, nil
}

// List returns disagreements matching the filter. This is the operator-facing
// surface for human reviewers.
func (h *Handler) List(ctx context.Context, filter model.DisagreementFilter) ([]model.Disagreement, error) {
	return h.store.ListDisagreements(ctx, filter)
}

func (h *Handler) escalate(ctx context.Context, d *model.Disagreement, reason string) error {
	now := h.now().UTC()
	d.Status = model.DisagreementStatusEscalated
	d.EscalationReason = reason
	d.EscalatedAt = &now
	d.UpdatedAt = now

	if err := h.store.UpdateDisagreement(ctx, d); err != nil {
		return eris.Wrapf(err, "disagreement: escalate %s", d.ID)
	}
	if err := h.queue.Push(ctx, d); err != nil {
		// The record is persisted as escalated; queue delivery is retried by
		// the operator surface rather than rolled back here.
		zap.L().Error("disagreement: review queue push failed",
			zap.String("id", d.ID),
			zap.Error(err),
		)
	}

	event := model.LearningEvent{
		ID:       uuid.New().String(),
		Type:     model.LearningEventEscalation,
		SourceID: d.ID,
		Category: string(d.Type),
		Data: map[string]any{
			"workflow_id": d.WorkflowID,
			"node_id":     d.NodeID,
			"reason":      reason,
			"severity":    string(d.Severity),
		},
		Impact:    -0.5,
		CreatedAt: now,
	}
	if err := h.events.RecordEvent(ctx, event); err != nil {
		zap.L().Warn("disagreement: failed to record escalation event", zap.Error(err))
	}

	zap.L().Info("disagreement: escalated",
		zap.String("id", d.ID),
		zap.String("reason", reason),
	)
	return nil
}

// resolutionImpact maps a resolution method to a learning impact score.
// Validator-aligned outcomes reinforce the pipeline; overrides signal drift.
func resolutionImpact(method model.ResolutionMethod) float64 {
	switch method {
	case model.ResolutionAcceptValidator:
		return 0.6
	case model.ResolutionMerged:
		return 0.3
	case model.ResolutionAcceptGenerator:
		return -0.3
	case model.ResolutionManualOverride:
		return -0.6
	default:
		return 0
	}
}
