package reeval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/extractor"
	"github.com/sells-group/validation-cli/internal/model"
	"github.com/sells-group/validation-cli/internal/scorer"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	lex, err := scorer.LoadLexicon("")
	require.NoError(t, err)
	sc, err := scorer.New(config.ValidationConfig{
		ConfidenceThreshold: 85,
		Weights:             model.DefaultWeights(),
		Floors:              model.DefaultFloors(),
		MaxConcurrentScores: 4,
	}, lex, nil)
	require.NoError(t, err)
	e, err := New(sc.WithNow(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return e
}

func node(id, content, hash string, deps ...string) model.Node {
	return model.Node{
		ID:          id,
		Type:        model.NodeTypeInsight,
		Content:     content,
		ContentHash: hash,
		DependsOn:   deps,
	}
}

func chainGraph() *extractor.Graph {
	return extractor.NewGraph(model.Adjacency{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})
}

func priorRecord(ids ...string) *model.IterationRecord {
	scores := make(map[string]model.ConfidenceFactors, len(ids))
	for _, id := range ids {
		scores[id] = model.ConfidenceFactors{
			NodeID: id, Iteration: 1,
			Accuracy: 90, Bias: 90, Clarity: 90, Consistency: 90, Compliance: 90,
		}
	}
	return &model.IterationRecord{Iteration: 1, Scores: scores}
}

func TestReevaluate_OnlyImpactSetRescored(t *testing.T) {
	e := testEngine(t)

	previous := []model.Node{
		node("a", "Baseline metrics hold steady.", "h-a"),
		node("b", "Scores improved against baseline.", "h-b", "a"),
		node("c", "Momentum should continue next quarter.", "h-c", "b"),
	}
	// Only b's content changed; c depends on b so both are in the impact set.
	revised := []model.Node{
		node("a", "Baseline metrics hold steady.", "h-a"),
		node("b", "Scores improved sharply against baseline.", "h-b2", "a"),
		node("c", "Momentum should continue next quarter.", "h-c", "b"),
	}

	result, err := e.Reevaluate(context.Background(), previous, revised, chainGraph(), priorRecord("a", "b", "c"), 2, false)
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"b": true, "c": true}, result.Impacted)
	assert.Equal(t, 2, result.Rescored)
	assert.Equal(t, 1, result.Carried)

	// Carried node keeps its prior iteration score.
	assert.Equal(t, 1, result.Scores["a"].Iteration)
	// Rescored nodes carry the new iteration.
	assert.Equal(t, 2, result.Scores["b"].Iteration)
	assert.Equal(t, 2, result.Scores["c"].Iteration)
	require.Len(t, result.Scores, 3)
}

func TestReevaluate_NoChangesCarriesEverything(t *testing.T) {
	e := testEngine(t)

	nodes := []model.Node{
		node("a", "Baseline metrics hold steady.", "h-a"),
		node("b", "Scores improved against baseline.", "h-b", "a"),
		node("c", "Momentum should continue next quarter.", "h-c", "b"),
	}

	result, err := e.Reevaluate(context.Background(), nodes, nodes, chainGraph(), priorRecord("a", "b", "c"), 2, false)
	require.NoError(t, err)

	assert.Empty(t, result.Impacted)
	assert.Zero(t, result.Rescored)
	assert.Equal(t, 3, result.Carried)
}

func TestReevaluate_CarriesPriorIssuesForUntouchedNodes(t *testing.T) {
	e := testEngine(t)

	nodes := []model.Node{
		node("a", "Baseline metrics hold steady.", "h-a"),
		node("b", "Scores improved against baseline.", "h-b", "a"),
		node("c", "Momentum should continue next quarter.", "h-c", "b"),
	}
	prior := priorRecord("a", "b", "c")
	prior.Issues = []model.Issue{
		{NodeID: "a", Category: model.FactorClarity, Severity: model.SeverityLow, Description: "long sentences"},
	}

	result, err := e.Reevaluate(context.Background(), nodes, nodes, chainGraph(), prior, 2, false)
	require.NoError(t, err)

	require.Len(t, result.Issues, 1)
	assert.Equal(t, "a", result.Issues[0].NodeID)
}

func TestReevaluate_NewNodeWithoutPriorScoreIsScored(t *testing.T) {
	e := testEngine(t)

	previous := []model.Node{
		node("a", "Baseline metrics hold steady.", "h-a"),
	}
	revised := []model.Node{
		node("a", "Baseline metrics hold steady.", "h-a"),
		node("b", "Scores improved against baseline.", "h-b", "a"),
	}
	graph := extractor.NewGraph(model.Adjacency{"a": nil, "b": {"a"}})

	// Prior record only knows a; b appeared in the revision.
	result, err := e.Reevaluate(context.Background(), previous, revised, graph, priorRecord("a"), 2, false)
	require.NoError(t, err)

	assert.Contains(t, result.Scores, "b")
	assert.Equal(t, 2, result.Scores["b"].Iteration)
	assert.True(t, result.Impacted["b"])
}

func TestReevaluate_SweepReportsRegressions(t *testing.T) {
	e := testEngine(t)

	nodes := []model.Node{
		node("a", "Baseline metrics hold steady.", "h-a"),
		node("b", "Scores improved against baseline.", "h-b", "a"),
	}
	graph := extractor.NewGraph(model.Adjacency{"a": nil, "b": {"a"}})

	// Cached scores far below what clean content scores fresh.
	prior := &model.IterationRecord{
		Iteration: 1,
		Scores: map[string]model.ConfidenceFactors{
			"a": {NodeID: "a", Iteration: 1, Accuracy: 50, Bias: 50, Clarity: 50, Consistency: 50, Compliance: 50},
			"b": {NodeID: "b", Iteration: 1, Accuracy: 50, Bias: 50, Clarity: 50, Consistency: 50, Compliance: 50},
		},
	}

	result, err := e.Reevaluate(context.Background(), nodes, nodes, graph, prior, 3, true)
	require.NoError(t, err)

	// Nothing changed, so scores are carried, but the sweep flags the drift.
	assert.Equal(t, 2, result.Carried)
	require.Len(t, result.Regressions, 2)
	for _, reg := range result.Regressions {
		assert.InDelta(t, 50.0, reg.CachedScore, 0.01)
		assert.Greater(t, reg.FreshScore, reg.CachedScore)
	}

	// Carried values stay untouched despite the regression report.
	assert.Equal(t, 1, result.Scores["a"].Iteration)
}

func TestReevaluate_RequiresPriorRecord(t *testing.T) {
	e := testEngine(t)
	_, err := e.Reevaluate(context.Background(), nil, nil, chainGraph(), nil, 2, false)
	require.Error(t, err)
}
