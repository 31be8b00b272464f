// Package feedback turns scoring issues into ranked, actionable improvement
// plans for the generating model.
package feedback

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/model"
)

// Generator builds FeedbackPlans from a node's scoring issues. Only runs for
// nodes below the pass condition.
type Generator struct {
	weights model.FactorWeights
}

// NewGenerator creates a feedback generator using the given factor weights to
// estimate per-item confidence deltas.
func NewGenerator(weights model.FactorWeights) *Generator {
	return &Generator{weights: weights}
}

// Plan produces the ordered improvement plan for one failing node. Each item
// carries concrete evidence from the factor computation; there is no generic
// "improve clarity" without an example.
func (g *Generator) Plan(node model.Node, factors model.ConfidenceFactors, issues []model.Issue) model.FeedbackPlan {
	plan := model.FeedbackPlan{
		NodeID:    node.ID,
		Iteration: factors.Iteration,
	}

	for _, issue := range issues {
		item := model.FeedbackItem{
			NodeID:          node.ID,
			Category:        issue.Category,
			Severity:        issue.Severity,
			Issue:           issue.Description,
			SuggestedAction: suggestedAction(issue),
			Evidence:        issue.Evidence,
			ExpectedDelta:   g.expectedDelta(issue, factors),
		}
		if before, after := example(issue, node); before != "" {
			item.BeforeExample = before
			item.AfterExample = after
		}
		plan.Items = append(plan.Items, item)
	}

	// Critical first, then by expected confidence gain.
	sort.SliceStable(plan.Items, func(i, j int) bool {
		if plan.Items[i].Severity.Rank() != plan.Items[j].Severity.Rank() {
			return plan.Items[i].Severity.Rank() > plan.Items[j].Severity.Rank()
		}
		return plan.Items[i].ExpectedDelta > plan.Items[j].ExpectedDelta
	})
	for i := range plan.Items {
		plan.Items[i].Priority = i + 1
	}

	zap.L().Debug("feedback: plan generated",
		zap.String("node_id", node.ID),
		zap.Int("items", len(plan.Items)),
		zap.Bool("has_critical", plan.HasCritical()),
	)

	return plan
}

// expectedDelta estimates the overall confidence gain from fixing the issue:
// the factor's headroom to a healthy score, scaled by its weight.
func (g *Generator) expectedDelta(issue model.Issue, factors model.ConfidenceFactors) float64 {
	current := factors.Get(issue.Category)
	target := 90.0
	if current >= target {
		return 0
	}
	var weight float64
	switch issue.Category {
	case model.FactorAccuracy:
		weight = g.weights.Accuracy
	case model.FactorBias:
		weight = g.weights.Bias
	case model.FactorClarity:
		weight = g.weights.Clarity
	case model.FactorConsistency:
		weight = g.weights.Consistency
	case model.FactorCompliance:
		weight = g.weights.Compliance
	}
	return (target - current) * weight
}

// suggestedAction renders the category-specific fix instruction.
func suggestedAction(issue model.Issue) string {
	switch issue.Category {
	case model.FactorAccuracy:
		return "Verify each numeric claim against the declared source data and remove contradictory trend statements."
	case model.FactorBias:
		return "Rephrase or remove the flagged bias-indicator language; describe qualifications and outcomes neutrally."
	case model.FactorClarity:
		return "Shorten sentences, replace jargon with plain terms, and name the subject instead of opening with a pronoun."
	case model.FactorConsistency:
		return "Align this node's conclusion with the insight nodes it is based on, or revise the underlying insight."
	case model.FactorCompliance:
		return "Add the required disclosure language and remove any regulated-content phrasing."
	default:
		return "Review the flagged content against the evidence listed."
	}
}

// example builds a before/after pair for categories where a concrete rewrite
// can be shown from the evidence.
func example(issue model.Issue, node model.Node) (string, string) {
	if len(issue.Evidence) == 0 {
		return "", ""
	}
	switch issue.Category {
	case model.FactorBias:
		return fmt.Sprintf("%q", truncate(node.Content, 120)),
			"Same claim with the flagged phrase replaced by a neutral description of the relevant skill or outcome."
	case model.FactorCompliance:
		return fmt.Sprintf("%q", truncate(node.Content, 120)),
			"Same claim followed by the applicable disclosure sentence."
	default:
		return "", ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
