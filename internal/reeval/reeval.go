// Package reeval recomputes confidence scores selectively after a content
// revision: only changed nodes and their transitive dependents are rescored.
package reeval

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/extractor"
	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/scorer"
)

// Regression flags a node whose cached score no longer matches what current
// content would score. Found by the periodic consistency sweep; routed to
// manual review instead of silently trusting the cache.
type Regression struct {
	NodeID      string  `json:"node_id"`
	CachedScore float64 `json:"cached_score"`
	FreshScore  float64 `json:"fresh_score"`
}

// Result is the outcome of a selective re-evaluation.
type Result struct {
	// Impacted holds the ids of changed nodes and their transitive dependents.
	Impacted map[string]bool

	// Scores is the complete score set for the new iteration: rescored values
	// for the impact set, carried prior values for everything else.
	Scores map[string]model.ConfidenceFactors

	// Issues covers the rescored nodes plus carried issues for untouched
	// failing nodes.
	Issues []model.Issue

	// Regressions from the consistency sweep, when one ran.
	Regressions []Regression

	Rescored int
	Carried  int
}

// Engine performs selective re-evaluation against a shared scorer.
type Engine struct {
	scorer *scorer.Scorer
}

// New creates a re-evaluation engine.
func New(sc *scorer.Scorer) (*Engine, error) {
	if sc == nil {
		return nil, eris.New("reeval: scorer is required")
	}
	return &Engine{scorer: sc}, nil
}

// Reevaluate diffs revised against previous nodes by content hash, computes
// the impact set, rescores only that set, and carries every other node's
// prior-iteration score unchanged. This selective recomputation is the key
// cost optimization of the pipeline.
//
// runSweep additionally rescores nodes outside the impact set and reports
// mismatches as Regressions without overwriting the carried values.
func (e *Engine) Reevaluate(
	ctx context.Context,
	previous, revised []model.Node,
	graph *extractor.Graph,
	prior *model.IterationRecord,
	iteration int,
	runSweep bool,
) (*Result, error) {
	if prior == nil {
		return nil, eris.New("reeval: prior iteration record is required")
	}

	// Cycles are rejected at extraction time; this is the defensive check.
	if _, err := graph.Layers(); err != nil {
		return nil, eris.Wrap(err, "reeval: graph")
	}

	prevHashes := make(map[string]string, len(previous))
	for _, n := range previous {
		prevHashes[n.ID] = n.ContentHash
	}

	changed := make(map[string]bool)
	for _, n := range revised {
		if prevHashes[n.ID] != n.ContentHash {
			changed[n.ID] = true
		}
	}

	impact := graph.DependentsClosure(changed)

	result := &Result{
		Impacted: impact,
		Scores:   make(map[string]model.ConfidenceFactors, len(revised)),
	}

	byID := make(map[string]model.Node, len(revised))
	for _, n := range revised {
		byID[n.ID] = n
	}

	var toScore []model.Node
	for _, n := range revised {
		if impact[n.ID] {
			toScore = append(toScore, n)
			continue
		}
		prev, ok := prior.Scores[n.ID]
		if !ok {
			// Node appeared without a content change being detected; score it.
			toScore = append(toScore, n)
			impact[n.ID] = true
			continue
		}
		result.Scores[n.ID] = prev
		result.Carried++
	}

	// Carry prior issues for the untouched nodes.
	for _, issue := range prior.Issues {
		if !impact[issue.NodeID] {
			if _, stillPresent := byID[issue.NodeID]; stillPresent {
				result.Issues = append(result.Issues, issue)
			}
		}
	}

	if len(toScore) > 0 {
		scored, err := e.scorer.ScoreSubset(ctx, revised, impact, graph, iteration)
		if err != nil {
			return nil, eris.Wrap(err, "reeval: rescore impact set")
		}
		for id, f := range scored.Scores {
			result.Scores[id] = f
		}
		result.Issues = append(result.Issues, scored.Issues...)
		result.Rescored = len(scored.Scores)
	}

	if runSweep {
		regressions, err := e.sweep(ctx, revised, graph, impact, prior, iteration)
		if err != nil {
			return nil, err
		}
		result.Regressions = regressions
	}

	zap.L().Info("reeval: selective re-evaluation complete",
		zap.Int("iteration", iteration),
		zap.Int("changed", len(changed)),
		zap.Int("rescored", result.Rescored),
		zap.Int("carried", result.Carried),
		zap.Int("regressions", len(result.Regressions)),
	)

	return result, nil
}

// sweep rescores nodes outside the impact set and compares against the cache.
// Runs periodically, not every iteration.
func (e *Engine) sweep(
	ctx context.Context,
	revised []model.Node,
	graph *extractor.Graph,
	impact map[string]bool,
	prior *model.IterationRecord,
	iteration int,
) ([]Regression, error) {
	outside := make(map[string]bool)
	for _, n := range revised {
		if !impact[n.ID] {
			outside[n.ID] = true
		}
	}
	if len(outside) == 0 {
		return nil, nil
	}

	scored, err := e.scorer.ScoreSubset(ctx, revised, outside, graph, iteration)
	if err != nil {
		return nil, eris.Wrap(err, "reeval: consistency sweep")
	}

	weights := e.scorer.Weights()
	var regressions []Regression
	for id, fresh := range scored.Scores {
		cached, ok := prior.Scores[id]
		if !ok {
			continue
		}
		cachedOverall := cached.Overall(weights)
		freshOverall := fresh.Overall(weights)
		if math.Abs(cachedOverall-freshOverall) > 0.5 {
			regressions = append(regressions, Regression{
				NodeID:      id,
				CachedScore: cachedOverall,
				FreshScore:  freshOverall,
			})
		}
	}

	if len(regressions) > 0 {
		zap.L().Warn("reeval: consistency sweep found cached-score regressions",
			zap.Int("count", len(regressions)),
		)
	}
	return regressions, nil
}

