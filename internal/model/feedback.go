package model

// Severity ranks how badly a factor misses its target.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for comparison. Unknown values rank lowest.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at or above the given severity.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Rank returns the numeric order of the severity (low=1 .. critical=4).
func (s Severity) Rank() int {
	return severityRank[s]
}

// EscalateOnce returns the next severity up; critical stays critical.
func (s Severity) EscalateOnce() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// MaxSeverity returns the most severe of the given values.
// When a node has multiple simultaneous floor violations, the most severe
// violation determines escalation severity. Policy choice, not accident.
func MaxSeverity(severities ...Severity) Severity {
	out := SeverityLow
	for _, s := range severities {
		if severityRank[s] > severityRank[out] {
			out = s
		}
	}
	return out
}

// Issue flags a factor score below its acceptability floor or otherwise
// problematic for a node.
type Issue struct {
	NodeID      string   `json:"node_id"`
	Category    Factor   `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
	Priority    int      `json:"priority"`

	// FloorViolation marks issues where the factor sits below its hard floor,
	// which escalates severity one level in the feedback plan.
	FloorViolation bool `json:"floor_violation,omitempty"`
}

// FeedbackItem is one actionable improvement derived from an Issue.
type FeedbackItem struct {
	NodeID          string   `json:"node_id"`
	Category        Factor   `json:"category"`
	Severity        Severity `json:"severity"`
	Issue           string   `json:"issue"`
	SuggestedAction string   `json:"suggested_action"`
	Evidence        []string `json:"evidence"`
	BeforeExample   string   `json:"before_example,omitempty"`
	AfterExample    string   `json:"after_example,omitempty"`
	ExpectedDelta   float64  `json:"expected_delta"`
	Priority        int      `json:"priority"`
}

// FeedbackPlan is the ordered improvement plan for one node.
// Items are ordered by severity (critical first), then expected delta.
type FeedbackPlan struct {
	NodeID    string         `json:"node_id"`
	Iteration int            `json:"iteration"`
	Items     []FeedbackItem `json:"items"`
}

// HasCritical reports whether the plan contains any critical item.
// Critical items must be addressed before the node is re-submitted.
func (p FeedbackPlan) HasCritical() bool {
	for _, item := range p.Items {
		if item.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
