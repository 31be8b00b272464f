package model

import "time"

// WorkflowStatus represents the current state of a validation workflow.
type WorkflowStatus string

const (
	WorkflowStatusInProgress       WorkflowStatus = "in_progress"
	WorkflowStatusApproved         WorkflowStatus = "approved"
	WorkflowStatusRequiresRevision WorkflowStatus = "requires_revision"
	WorkflowStatusEscalated        WorkflowStatus = "escalated"
	WorkflowStatusRejected         WorkflowStatus = "rejected"
	WorkflowStatusCancelled        WorkflowStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusApproved, WorkflowStatusEscalated, WorkflowStatusRejected, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// IterationRecord is the atomically-published snapshot of one iteration's
// node scores. Readers never observe a partially-written iteration.
type IterationRecord struct {
	Iteration int                          `json:"iteration"`
	Scores    map[string]ConfidenceFactors `json:"scores"` // node id → factors
	Issues    []Issue                      `json:"issues,omitempty"`
	ScoredAt  time.Time                    `json:"scored_at"`
}

// ValidationWorkflow is the aggregate root for one artifact's validation.
// Progress is a persisted state-machine snapshot, not an in-process object:
// the feedback/await-revision step may span process restarts.
type ValidationWorkflow struct {
	ID         string         `json:"id"`
	ArtifactID string         `json:"artifact_id"`
	Status     WorkflowStatus `json:"status"`

	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`

	Nodes []Node   `json:"nodes"`
	Graph Adjacency `json:"graph"`

	// History maps iteration → node scores. Append-only; the current
	// iteration's entry is always complete.
	History []IterationRecord `json:"history"`

	// FinalConfidence is the weighted mean of the current-iteration node
	// confidences, set on every iteration publish and frozen at termination.
	FinalConfidence float64 `json:"final_confidence"`

	// FailingNodes lists node ids below the pass condition at the current
	// iteration. Empty once approved.
	FailingNodes []string `json:"failing_nodes,omitempty"`

	// Plans holds the feedback plans emitted for the current iteration's
	// failing nodes while the workflow awaits revised content.
	Plans []FeedbackPlan `json:"plans,omitempty"`

	// StatusReason explains terminal and suspended states
	// (e.g. "revision timeout", "malformed artifact").
	StatusReason string `json:"status_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Adjacency records the dependency edges between nodes: node id → ids it
// depends on. Serialized with the workflow so a resume from another process
// rebuilds the same graph.
type Adjacency map[string][]string

// CurrentScores returns the latest iteration's score snapshot, or nil when
// no iteration has been published yet.
func (w *ValidationWorkflow) CurrentScores() *IterationRecord {
	if len(w.History) == 0 {
		return nil
	}
	return &w.History[len(w.History)-1]
}

// ScoreFor returns the factors for a node at a given iteration.
func (w *ValidationWorkflow) ScoreFor(iteration int, nodeID string) (ConfidenceFactors, bool) {
	for i := range w.History {
		if w.History[i].Iteration == iteration {
			f, ok := w.History[i].Scores[nodeID]
			return f, ok
		}
	}
	return ConfidenceFactors{}, false
}

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Status        WorkflowStatus `json:"status,omitempty"`
	ArtifactID    string         `json:"artifact_id,omitempty"`
	CreatedAfter  time.Time      `json:"created_after,omitempty"`
	CreatedBefore time.Time      `json:"created_before,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
}
