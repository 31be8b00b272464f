// Package workflow drives the validation state machine for one artifact:
// extract, score, feed back, await revision, re-evaluate, terminate. All
// progress is persisted, so a suspended workflow survives process restarts.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/disagreement"
	"github.com/sells-group/validation-cli/internal/extractor"
	"github.com/sells-group/validation-cli/internal/feedback"
	"github.com/sells-group/validation-cli/internal/metrics"
	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/reeval"
	"github.com/sells-group/validation-cli/internal/scorer"
)

// ErrNotResumable is returned when Resume or Cancel is attempted on a
// workflow whose status does not allow it.
var ErrNotResumable = eris.New("workflow: not in a resumable state")

// ErrCriticalUnaddressed is returned when a resubmission leaves a node with
// critical feedback byte-identical to the prior iteration.
var ErrCriticalUnaddressed = eris.New("workflow: critical feedback items not addressed")

// Store is the workflow persistence surface.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error
	UpdateWorkflow(ctx context.Context, wf *model.ValidationWorkflow) error
	GetWorkflow(ctx context.Context, id string) (*model.ValidationWorkflow, error)
	ListWorkflows(ctx context.Context, filter model.WorkflowFilter) ([]model.ValidationWorkflow, error)
}

// EventRecorder accepts the learning event emitted on each terminal
// transition.
type EventRecorder interface {
	RecordEvent(ctx context.Context, event model.LearningEvent) error
}

// Orchestrator coordinates one validation iteration at a time. It never
// holds state between calls; everything it needs to continue lives in the
// persisted workflow snapshot.
type Orchestrator struct {
	cfg           config.ValidationConfig
	store         Store
	scorer        *scorer.Scorer
	reeval        *reeval.Engine
	feedback      *feedback.Generator
	disagreements *disagreement.Handler
	events        EventRecorder
	now           func() time.Time
}

// New creates an orchestrator. All collaborators are required.
func New(
	cfg config.ValidationConfig,
	store Store,
	sc *scorer.Scorer,
	re *reeval.Engine,
	fb *feedback.Generator,
	dh *disagreement.Handler,
	events EventRecorder,
) (*Orchestrator, error) {
	if store == nil {
		return nil, eris.New("workflow: store is required")
	}
	if sc == nil {
		return nil, eris.New("workflow: scorer is required")
	}
	if re == nil {
		return nil, eris.New("workflow: re-evaluation engine is required")
	}
	if fb == nil {
		return nil, eris.New("workflow: feedback generator is required")
	}
	if dh == nil {
		return nil, eris.New("workflow: disagreement handler is required")
	}
	if events == nil {
		return nil, eris.New("workflow: event recorder is required")
	}
	return &Orchestrator{
		cfg:           cfg,
		store:         store,
		scorer:        sc,
		reeval:        re,
		feedback:      fb,
		disagreements: dh,
		events:        events,
		now:           time.Now,
	}, nil
}

// WithNow sets a fixed time for testing.
func (o *Orchestrator) WithNow(t time.Time) *Orchestrator {
	o.now = func() time.Time { return t }
	return o
}

// Start begins validation of a new artifact: decompose, score every node,
// and either approve or suspend awaiting revision. A malformed artifact is
// fatal and no workflow record is created.
func (o *Orchestrator) Start(ctx context.Context, artifact *extractor.Artifact) (*model.ValidationWorkflow, error) {
	ex, err := extractor.Extract(artifact)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	wf := &model.ValidationWorkflow{
		ID:            uuid.New().String(),
		ArtifactID:    artifact.ID,
		Status:        model.WorkflowStatusInProgress,
		Iteration:     1,
		MaxIterations: o.cfg.MaxIterations,
		Nodes:         ex.Nodes,
		Graph:         ex.Graph.Adjacency(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, eris.Wrap(err, "workflow: create")
	}
	metrics.RecordWorkflowStarted()

	zap.L().Info("workflow: started",
		zap.String("id", wf.ID),
		zap.String("artifact_id", wf.ArtifactID),
		zap.Int("nodes", len(wf.Nodes)),
	)

	start := o.now()
	scored, err := o.scorer.ScoreAll(ctx, wf.Nodes, ex.Graph, wf.Iteration)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: score iteration %d", wf.Iteration)
	}
	metrics.RecordIterationDuration(o.now().Sub(start).Seconds())

	if err := o.publishIteration(ctx, wf, scored.Scores, scored.Issues); err != nil {
		return nil, err
	}
	if err := o.decide(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// Resume continues a suspended workflow with the revised artifact. Only
// changed nodes and their transitive dependents are rescored; everything
// else carries its prior score. Every SweepEvery iterations a consistency
// sweep additionally rescores the carried set and reports regressions.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string, artifact *extractor.Artifact) (*model.ValidationWorkflow, error) {
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: get %s", workflowID)
	}
	if wf.Status != model.WorkflowStatusRequiresRevision {
		return nil, eris.Wrapf(ErrNotResumable, "workflow %s is %s", workflowID, wf.Status)
	}

	ex, err := extractor.Extract(artifact)
	if err != nil {
		return nil, err
	}
	if err := checkCriticalAddressed(wf, ex.Nodes); err != nil {
		return nil, err
	}
	prior := wf.CurrentScores()
	if prior == nil {
		return nil, eris.Errorf("workflow %s has no published iteration to resume from", workflowID)
	}

	wf.Iteration++
	runSweep := o.cfg.SweepEvery > 0 && wf.Iteration%o.cfg.SweepEvery == 0

	start := o.now()
	result, err := o.reeval.Reevaluate(ctx, wf.Nodes, ex.Nodes, ex.Graph, prior, wf.Iteration, runSweep)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: re-evaluate iteration %d", wf.Iteration)
	}
	metrics.RecordIterationDuration(o.now().Sub(start).Seconds())
	metrics.RecordNodesScored(result.Rescored, result.Carried)

	issues := result.Issues
	for _, reg := range result.Regressions {
		issues = append(issues, model.Issue{
			NodeID:      reg.NodeID,
			Category:    model.FactorConsistency,
			Severity:    model.SeverityMedium,
			Description: "cached confidence no longer matches current content; needs manual review",
			Evidence: []string{
				fmt.Sprintf("cached %.1f vs fresh %.1f", reg.CachedScore, reg.FreshScore),
			},
		})
	}

	wf.Nodes = ex.Nodes
	wf.Graph = ex.Graph.Adjacency()
	wf.Status = model.WorkflowStatusInProgress
	wf.SuspendedAt = nil
	wf.Plans = nil

	if err := o.publishIteration(ctx, wf, result.Scores, issues); err != nil {
		return nil, err
	}
	if err := o.decide(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// checkCriticalAddressed gates resubmission: a node whose feedback plan
// carries critical items must arrive with new content. Unchanged content
// would carry its failing score and burn an iteration for nothing.
func checkCriticalAddressed(wf *model.ValidationWorkflow, revised []model.Node) error {
	for _, plan := range wf.Plans {
		if !plan.HasCritical() {
			continue
		}
		prev := nodeByID(wf.Nodes, plan.NodeID)
		next := nodeByID(revised, plan.NodeID)
		if prev == nil || next == nil {
			continue
		}
		if prev.ContentHash == next.ContentHash {
			return eris.Wrapf(ErrCriticalUnaddressed, "node %s unchanged since iteration %d", plan.NodeID, plan.Iteration)
		}
	}
	return nil
}

// Cancel terminates a non-terminal workflow between iterations. Cancellation
// is an operator action, never something the pipeline does on its own.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID, reason string) (*model.ValidationWorkflow, error) {
	if reason == "" {
		return nil, eris.New("workflow: cancellation reason is required")
	}
	wf, err := o.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: get %s", workflowID)
	}
	if wf.Status.Terminal() {
		return nil, eris.Wrapf(ErrNotResumable, "workflow %s already %s", workflowID, wf.Status)
	}

	if err := o.finalize(ctx, wf, model.WorkflowStatusCancelled, reason); err != nil {
		return nil, err
	}
	return wf, nil
}

// Get returns a workflow by id.
func (o *Orchestrator) Get(ctx context.Context, workflowID string) (*model.ValidationWorkflow, error) {
	return o.store.GetWorkflow(ctx, workflowID)
}

// List returns workflows matching the filter.
func (o *Orchestrator) List(ctx context.Context, filter model.WorkflowFilter) ([]model.ValidationWorkflow, error) {
	return o.store.ListWorkflows(ctx, filter)
}

// ExpireRevisions escalates suspended workflows whose revision has not
// arrived within the policy timeout. Returns the number escalated.
func (o *Orchestrator) ExpireRevisions(ctx context.Context) (int, error) {
	if o.cfg.RevisionTimeout <= 0 {
		return 0, nil
	}
	cutoff := o.now().UTC().Add(-o.cfg.RevisionTimeout)

	suspended, err := o.store.ListWorkflows(ctx, model.WorkflowFilter{
		Status: model.WorkflowStatusRequiresRevision,
	})
	if err != nil {
		return 0, eris.Wrap(err, "workflow: list suspended")
	}

	n := 0
	for i := range suspended {
		wf := &suspended[i]
		if wf.SuspendedAt == nil || wf.SuspendedAt.After(cutoff) {
			continue
		}
		if err := o.finalize(ctx, wf, model.WorkflowStatusEscalated, "revision not supplied within policy"); err != nil {
			zap.L().Warn("workflow: revision expiry failed",
				zap.String("id", wf.ID),
				zap.Error(err),
			)
			continue
		}
		n++
	}
	return n, nil
}

// publishIteration appends the complete score snapshot for the current
// iteration and persists the workflow in one write, so readers see either
// the previous iteration or the full new one.
func (o *Orchestrator) publishIteration(
	ctx context.Context,
	wf *model.ValidationWorkflow,
	scores map[string]model.ConfidenceFactors,
	issues []model.Issue,
) error {
	now := o.now().UTC()
	wf.History = append(wf.History, model.IterationRecord{
		Iteration: wf.Iteration,
		Scores:    scores,
		Issues:    issues,
		ScoredAt:  now,
	})

	weights := o.scorer.Weights()
	var sum float64
	var failing []string
	for _, n := range wf.Nodes {
		f, ok := scores[n.ID]
		if !ok {
			continue
		}
		overall := f.Overall(weights)
		sum += overall
		metrics.RecordNodeConfidence(string(n.Type), overall)
		if !o.scorer.Passing(f) {
			failing = append(failing, n.ID)
		}
	}
	if len(wf.Nodes) > 0 {
		wf.FinalConfidence = sum / float64(len(wf.Nodes))
	}
	wf.FailingNodes = failing
	wf.UpdatedAt = now

	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return eris.Wrapf(err, "workflow: publish iteration %d", wf.Iteration)
	}

	zap.L().Info("workflow: iteration published",
		zap.String("id", wf.ID),
		zap.Int("iteration", wf.Iteration),
		zap.Float64("confidence", wf.FinalConfidence),
		zap.Int("failing", len(failing)),
	)
	return nil
}

// decide moves the workflow out of in_progress after an iteration publish:
// approve, suspend for revision, or exhaust into disagreement handling.
func (o *Orchestrator) decide(ctx context.Context, wf *model.ValidationWorkflow) error {
	if len(wf.FailingNodes) == 0 {
		return o.finalize(ctx, wf, model.WorkflowStatusApproved, "")
	}

	if wf.Iteration < wf.MaxIterations {
		return o.suspendForRevision(ctx, wf)
	}
	return o.exhaust(ctx, wf)
}

// suspendForRevision emits a feedback plan per failing node and parks the
// workflow until revised content arrives.
func (o *Orchestrator) suspendForRevision(ctx context.Context, wf *model.ValidationWorkflow) error {
	record := wf.CurrentScores()

	byNode := make(map[string][]model.Issue)
	for _, issue := range record.Issues {
		byNode[issue.NodeID] = append(byNode[issue.NodeID], issue)
	}

	wf.Plans = wf.Plans[:0]
	for _, id := range wf.FailingNodes {
		node := nodeByID(wf.Nodes, id)
		if node == nil {
			continue
		}
		wf.Plans = append(wf.Plans, o.feedback.Plan(*node, record.Scores[id], byNode[id]))
	}

	now := o.now().UTC()
	wf.Status = model.WorkflowStatusRequiresRevision
	wf.SuspendedAt = &now
	wf.UpdatedAt = now

	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return eris.Wrapf(err, "workflow: suspend %s", wf.ID)
	}

	zap.L().Info("workflow: awaiting revision",
		zap.String("id", wf.ID),
		zap.Int("iteration", wf.Iteration),
		zap.Int("plans", len(wf.Plans)),
	)
	return nil
}

// exhaust handles the final iteration still having failing nodes: each one
// is checked for a generator/validator disagreement. Any disagreement
// escalates the workflow to human review; none at all means the content is
// simply below the bar and is rejected.
func (o *Orchestrator) exhaust(ctx context.Context, wf *model.ValidationWorkflow) error {
	record := wf.CurrentScores()
	weights := o.scorer.Weights()

	byNode := make(map[string][]model.Issue)
	for _, issue := range record.Issues {
		byNode[issue.NodeID] = append(byNode[issue.NodeID], issue)
	}

	created := 0
	for _, id := range wf.FailingNodes {
		node := nodeByID(wf.Nodes, id)
		if node == nil {
			continue
		}
		d, err := o.disagreements.Detect(ctx, wf, *node, record.Scores[id], byNode[id], weights)
		if err != nil {
			return eris.Wrapf(err, "workflow: detect disagreement for node %s", id)
		}
		if d != nil {
			created++
			metrics.RecordDisagreement(string(d.Type))
		}
	}

	if created > 0 {
		metrics.RecordEscalation()
		return o.finalize(ctx, wf, model.WorkflowStatusEscalated, "iterations exhausted with open disagreements")
	}
	return o.finalize(ctx, wf, model.WorkflowStatusRejected, "iterations exhausted below confidence threshold")
}

// finalize writes a terminal status and records exactly one learning event
// for the transition.
func (o *Orchestrator) finalize(ctx context.Context, wf *model.ValidationWorkflow, status model.WorkflowStatus, reason string) error {
	now := o.now().UTC()
	wf.Status = status
	wf.StatusReason = reason
	wf.SuspendedAt = nil
	wf.CompletedAt = &now
	wf.UpdatedAt = now
	if status == model.WorkflowStatusApproved {
		wf.FailingNodes = nil
		wf.Plans = nil
	}

	if err := o.store.UpdateWorkflow(ctx, wf); err != nil {
		return eris.Wrapf(err, "workflow: finalize %s", wf.ID)
	}
	metrics.RecordWorkflowCompleted(string(status))

	event := model.LearningEvent{
		ID:       uuid.New().String(),
		Type:     model.LearningEventValidationOutcome,
		SourceID: wf.ID,
		Category: string(status),
		Data: map[string]any{
			"artifact_id":      wf.ArtifactID,
			"iterations":       wf.Iteration,
			"final_confidence": wf.FinalConfidence,
			"failing_nodes":    len(wf.FailingNodes),
			"reason":           reason,
		},
		Impact:    outcomeImpact(status, wf.Iteration),
		CreatedAt: now,
	}
	if status == model.WorkflowStatusCancelled {
		event.Type = model.LearningEventWorkflowCancelled
	}
	if err := o.events.RecordEvent(ctx, event); err != nil {
		zap.L().Warn("workflow: failed to record outcome event",
			zap.String("id", wf.ID),
			zap.Error(err),
		)
	}
	metrics.RecordLearningEvent(string(event.Type))

	zap.L().Info("workflow: terminal",
		zap.String("id", wf.ID),
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Float64("confidence", wf.FinalConfidence),
	)
	return nil
}

// outcomeImpact maps a terminal status to a learning impact score. Approval
// reinforces the current pipeline, strongest on a first-pass approval and
// divided by the number of iterations the content needed; rejection and
// escalation signal it is producing content the validator cannot pass.
func outcomeImpact(status model.WorkflowStatus, iteration int) float64 {
	switch status {
	case model.WorkflowStatusApproved:
		if iteration < 1 {
			iteration = 1
		}
		return 0.5 / float64(iteration)
	case model.WorkflowStatusRejected:
		return -0.5
	case model.WorkflowStatusEscalated:
		return -0.4
	case model.WorkflowStatusCancelled:
		return -0.1
	default:
		return 0
	}
}

func nodeByID(nodes []model.Node, id string) *model.Node {
	for i := range nodes {
		if nodes[i].ID == id {
			return &nodes[i]
		}
	}
	return nil
}

