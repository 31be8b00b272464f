package model

import "time"

// LearningEventType classifies what produced a learning event.
type LearningEventType string

const (
	LearningEventValidationOutcome    LearningEventType = "validation_outcome"
	LearningEventDisagreementResolved LearningEventType = "disagreement_resolved"
	LearningEventWorkflowCancelled    LearningEventType = "workflow_cancelled"
	LearningEventEscalation           LearningEventType = "escalation"
)

// LearningEvent is an immutable record of a validation or disagreement
// outcome, consumed in batches by the learning engine.
type LearningEvent struct {
	ID        string            `json:"id"`
	Type      LearningEventType `json:"type"`
	SourceID  string            `json:"source_id"` // workflow or disagreement id
	Category  string            `json:"category"`  // factor name, resolution method, or outcome
	Data      map[string]any    `json:"data,omitempty"`
	Impact    float64           `json:"impact"` // -1.0 to 1.0
	CreatedAt time.Time         `json:"created_at"`
	Processed bool              `json:"processed"`
}

// Insight is an aggregate finding emitted when a cluster of learning events
// clears the configured count and impact thresholds. Insights recommend, they
// never change a model themselves.
type Insight struct {
	ID                string    `json:"id"`
	SourceType        string    `json:"source_type"`
	Category          string    `json:"category"`
	EventCount        int       `json:"event_count"`
	AvgImpact         float64   `json:"avg_impact"`
	Confidence        float64   `json:"confidence"`
	RecommendedAction string    `json:"recommended_action"`
	CreatedAt         time.Time `json:"created_at"`
}

// BatchResult summarizes one learning batch run.
type BatchResult struct {
	Processed         int       `json:"processed"`
	InsightsGenerated int       `json:"insights_generated"`
	Errors            int       `json:"errors"`
	NextBatchAt       time.Time `json:"next_batch_at"`
}

// RetrainingPriority orders retraining requests.
type RetrainingPriority string

const (
	RetrainingPriorityLow    RetrainingPriority = "low"
	RetrainingPriorityNormal RetrainingPriority = "normal"
	RetrainingPriorityHigh   RetrainingPriority = "high"
)

// RetrainingRequest records an explicit, rate-limited retraining trigger.
// Execution is delegated to an external training system.
type RetrainingRequest struct {
	ID              string             `json:"id"`
	TargetModel     string             `json:"target_model"`
	Priority        RetrainingPriority `json:"priority"`
	ValidationSplit float64            `json:"validation_split"`
	MaxEpochs       int                `json:"max_epochs"`
	InsightIDs      []string           `json:"insight_ids,omitempty"`
	RequestedAt     time.Time          `json:"requested_at"`
}

// LearningEventFilter specifies criteria for querying learning events.
type LearningEventFilter struct {
	Type          LearningEventType `json:"type,omitempty"`
	SourceID      string            `json:"source_id,omitempty"`
	Unprocessed   bool              `json:"unprocessed,omitempty"`
	CreatedAfter  time.Time         `json:"created_after,omitempty"`
	CreatedBefore time.Time         `json:"created_before,omitempty"`
	Limit         int               `json:"limit,omitempty"`
}
