package model

import "time"

// DisagreementStatus represents the state of a recorded disagreement.
type DisagreementStatus string

const (
	DisagreementStatusPending   DisagreementStatus = "pending"
	DisagreementStatusResolved  DisagreementStatus = "resolved"
	DisagreementStatusEscalated DisagreementStatus = "escalated"
)

// DisagreementType names the trigger condition that created a disagreement.
type DisagreementType string

const (
	DisagreementTypeConfidenceDelta DisagreementType = "confidence_delta"
	DisagreementTypeSeverity        DisagreementType = "severity_threshold"
	DisagreementTypeIssueCount      DisagreementType = "issue_count"
)

// ResolutionMethod names how a disagreement was settled.
type ResolutionMethod string

const (
	ResolutionAcceptGenerator ResolutionMethod = "accept_generator"
	ResolutionAcceptValidator ResolutionMethod = "accept_validator"
	ResolutionMerged          ResolutionMethod = "merged"
	ResolutionManualOverride  ResolutionMethod = "manual_override"
)

// Position captures one side's stance in a disagreement.
type Position struct {
	Confidence float64  `json:"confidence"` // 0.0-1.0
	Statement  string   `json:"statement"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Resolution records how a pending or escalated disagreement was settled.
// Explanation is mandatory, never optional.
type Resolution struct {
	Method        ResolutionMethod `json:"method"`
	FinalContent  string           `json:"final_content"`
	Explanation   string           `json:"explanation"`
	Approver      string           `json:"approver,omitempty"`
	LearningNotes string           `json:"learning_notes,omitempty"`
	ResolvedAt    time.Time        `json:"resolved_at"`
}

// Disagreement records a divergence between the generator's and validator's
// positions on a node that requires resolution or escalation.
type Disagreement struct {
	ID         string             `json:"id"`
	WorkflowID string             `json:"workflow_id"`
	NodeID     string             `json:"node_id"`
	Type       DisagreementType   `json:"type"`
	Status     DisagreementStatus `json:"status"`
	Severity   Severity           `json:"severity"`

	Generator Position `json:"generator"`
	Validator Position `json:"validator"`
	Issues    []Issue  `json:"issues,omitempty"`

	Resolution       *Resolution `json:"resolution,omitempty"`
	EscalationReason string      `json:"escalation_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
}

// DisagreementFilter specifies criteria for listing disagreements. This is
// the operator-facing surface for human reviewers.
type DisagreementFilter struct {
	Status        DisagreementStatus `json:"status,omitempty"`
	Severity      Severity           `json:"severity,omitempty"` // minimum severity
	Type          DisagreementType   `json:"type,omitempty"`
	WorkflowID    string             `json:"workflow_id,omitempty"`
	CreatedAfter  time.Time          `json:"created_after,omitempty"`
	CreatedBefore time.Time          `json:"created_before,omitempty"`
	Limit         int                `json:"limit,omitempty"`
	Offset        int                `json:"offset,omitempty"`
}
