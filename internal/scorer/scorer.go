// Package scorer computes multi-factor confidence scores for extracted nodes.
package scorer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/extractor"
	"github.com/sells-group/validation-cli/internal/model"
)

// Evaluator is the optional external evaluation capability consulted by the
// accuracy and clarity sub-checks. A nil Evaluator means pure heuristics.
type Evaluator interface {
	Evaluate(ctx context.Context, content string, criteria string) (score float64, issues []string, err error)
}

// Scorer computes ConfidenceFactors for nodes.
type Scorer struct {
	cfg       config.ValidationConfig
	lex       *Lexicon
	evaluator Evaluator
	now       func() time.Time
}

// New creates a Scorer. The evaluator may be nil.
func New(cfg config.ValidationConfig, lex *Lexicon, evaluator Evaluator) (*Scorer, error) {
	if lex == nil {
		return nil, eris.New("scorer: lexicon is required")
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, eris.Wrap(err, "scorer: weights")
	}
	return &Scorer{cfg: cfg, lex: lex, evaluator: evaluator, now: time.Now}, nil
}

// WithNow sets a fixed time for testing.
func (s *Scorer) WithNow(t time.Time) *Scorer {
	s.now = func() time.Time { return t }
	return s
}

// Weights returns the configured factor weights.
func (s *Scorer) Weights() model.FactorWeights { return s.cfg.Weights }

// Floors returns the configured factor floors.
func (s *Scorer) Floors() model.FactorFloors { return s.cfg.Floors }

// Threshold returns the overall confidence threshold.
func (s *Scorer) Threshold() float64 { return s.cfg.ConfidenceThreshold }

// Score computes the five factor sub-scores for one node. related must hold
// the node's dependency closure; each related node's content feeds the
// consistency check. Returned issues flag factors below their floors and,
// when the overall score misses the threshold, the weak factors behind it.
func (s *Scorer) Score(ctx context.Context, node model.Node, related []model.Node, iteration int) (model.ConfidenceFactors, []model.Issue, error) {
	if err := ctx.Err(); err != nil {
		return model.ConfidenceFactors{}, nil, err
	}

	value := node.SourceData["value"]
	scale := node.SourceData["scale"]

	accuracy, accEv := scoreAccuracy(node, value, scale)
	bias, biasEv := scoreBias(node.Content, s.lex)
	clarity, clarEv := scoreClarity(node.Content, s.lex)
	consistency, consEv := scoreConsistency(node, related)
	compliance, compEv := scoreCompliance(node, s.lex)

	// Blend in the external evaluator for the judgment-heavy factors.
	if s.evaluator != nil {
		if provScore, provIssues, err := s.evaluator.Evaluate(ctx, node.Content, "factual accuracy and internal consistency"); err == nil {
			accuracy = (accuracy + provScore) / 2
			accEv = append(accEv, provIssues...)
		} else {
			zap.L().Warn("scorer: evaluator unavailable, using heuristics only",
				zap.String("node_id", node.ID),
				zap.Error(err),
			)
		}
	}

	factors := model.ConfidenceFactors{
		NodeID:      node.ID,
		Iteration:   iteration,
		Accuracy:    accuracy,
		Bias:        bias,
		Clarity:     clarity,
		Consistency: consistency,
		Compliance:  compliance,
		ComputedAt:  s.now().UTC(),
	}

	evidence := map[model.Factor][]string{
		model.FactorAccuracy:    accEv,
		model.FactorBias:        biasEv,
		model.FactorClarity:     clarEv,
		model.FactorConsistency: consEv,
		model.FactorCompliance:  compEv,
	}

	issues := s.buildIssues(node.ID, factors, evidence)
	return factors, issues, nil
}

// Passing applies the pass condition: overall confidence at or above the
// threshold and no factor below its floor. The floor rule is asymmetric on
// purpose: a catastrophic bias or compliance score fails the node even when
// strong accuracy carries the weighted average.
func (s *Scorer) Passing(f model.ConfidenceFactors) bool {
	if f.Overall(s.cfg.Weights) < s.cfg.ConfidenceThreshold {
		return false
	}
	return len(f.FloorViolations(s.cfg.Floors)) == 0
}

// buildIssues flags floor violations (severity escalated one level) and,
// when the weighted overall misses the threshold, the weak factors behind it.
func (s *Scorer) buildIssues(nodeID string, f model.ConfidenceFactors, evidence map[model.Factor][]string) []model.Issue {
	var issues []model.Issue
	overall := f.Overall(s.cfg.Weights)

	for _, name := range model.Factors {
		score := f.Get(name)
		floor := s.cfg.Floors.Get(name)

		switch {
		case score < floor:
			issues = append(issues, model.Issue{
				NodeID:         nodeID,
				Category:       name,
				Severity:       baseSeverity(floor - score).EscalateOnce(),
				Description:    fmt.Sprintf("%s score %.1f is below its floor of %.0f", name, score, floor),
				Evidence:       withScoreEvidence(evidence[name], name, score),
				FloorViolation: true,
			})
		case overall < s.cfg.ConfidenceThreshold && score < s.cfg.ConfidenceThreshold:
			issues = append(issues, model.Issue{
				NodeID:      nodeID,
				Category:    name,
				Severity:    baseSeverity(s.cfg.ConfidenceThreshold - score),
				Description: fmt.Sprintf("%s score %.1f drags overall confidence below %.0f", name, score, s.cfg.ConfidenceThreshold),
				Evidence:    withScoreEvidence(evidence[name], name, score),
			})
		}
	}

	// Priority ranks the most severe, furthest-below issues first.
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Severity.Rank() != issues[j].Severity.Rank() {
			return issues[i].Severity.Rank() > issues[j].Severity.Rank()
		}
		return f.Get(issues[i].Category) < f.Get(issues[j].Category)
	})
	for i := range issues {
		issues[i].Priority = i + 1
	}
	return issues
}

// ScoreResult holds the outcome of scoring a full node set.
type ScoreResult struct {
	Scores map[string]model.ConfidenceFactors
	Issues []model.Issue
}

// ScoreAll scores every node in topological waves: nodes with no unresolved
// dependency run concurrently under the configured worker ceiling; nodes
// depending on others wait for their dependencies' wave to finish.
func (s *Scorer) ScoreAll(ctx context.Context, nodes []model.Node, graph *extractor.Graph, iteration int) (*ScoreResult, error) {
	return s.ScoreSubset(ctx, nodes, nil, graph, iteration)
}

// ScoreSubset walks the full graph in topological waves but scores only the
// nodes in subset (nil means all). Nodes outside the subset still contribute
// to the consistency check's dependency closures, which is what lets the
// re-evaluation engine rescore an impact set against unchanged neighbors.
func (s *Scorer) ScoreSubset(ctx context.Context, nodes []model.Node, subset map[string]bool, graph *extractor.Graph, iteration int) (*ScoreResult, error) {
	layers, err := graph.Layers()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	result := &ScoreResult{Scores: make(map[string]model.ConfidenceFactors, len(nodes))}
	var mu sync.Mutex

	for _, layer := range layers {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.MaxConcurrentScores)

		for _, id := range layer {
			if subset != nil && !subset[id] {
				continue
			}
			node, ok := byID[id]
			if !ok {
				continue
			}
			g.Go(func() error {
				related := s.relatedNodes(node, graph, byID)
				factors, issues, scoreErr := s.Score(gCtx, node, related, iteration)
				if scoreErr != nil {
					return eris.Wrapf(scoreErr, "scorer: node %s", node.ID)
				}
				mu.Lock()
				result.Scores[node.ID] = factors
				result.Issues = append(result.Issues, issues...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	zap.L().Info("scorer: iteration scored",
		zap.Int("iteration", iteration),
		zap.Int("nodes", len(result.Scores)),
		zap.Int("issues", len(result.Issues)),
	)

	return result, nil
}

// relatedNodes resolves the node's dependency closure to concrete nodes.
func (s *Scorer) relatedNodes(node model.Node, graph *extractor.Graph, byID map[string]model.Node) []model.Node {
	closure := graph.DependencyClosure(node.ID)
	ids := make([]string, 0, len(closure))
	for id := range closure {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	related := make([]model.Node, 0, len(ids))
	for _, id := range ids {
		if dep, ok := byID[id]; ok {
			related = append(related, dep)
		}
	}
	return related
}

// baseSeverity maps a score's distance below its target to a severity.
func baseSeverity(distance float64) model.Severity {
	switch {
	case distance >= 40:
		return model.SeverityCritical
	case distance >= 25:
		return model.SeverityHigh
	case distance >= 10:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func withScoreEvidence(ev []string, name model.Factor, score float64) []string {
	return append(ev, fmt.Sprintf("%s factor computed at %.1f", name, score))
}
