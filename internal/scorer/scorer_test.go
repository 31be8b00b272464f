package scorer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/validation-cli/internal/config"
	"github.com/sells-group/validation-cli/internal/extractor"
	"github.com/sells-group/validation-cli/internal/model"
)

func testConfig() config.ValidationConfig {
	return config.ValidationConfig{
		ConfidenceThreshold: 85,
		Weights:             model.DefaultWeights(),
		Floors:              model.DefaultFloors(),
		MaxIterations:       3,
		MaxConcurrentScores: 4,
	}
}

func testScorer(t *testing.T, ev Evaluator) *Scorer {
	t.Helper()
	lex, err := LoadLexicon("")
	require.NoError(t, err)
	s, err := New(testConfig(), lex, ev)
	require.NoError(t, err)
	return s.WithNow(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC))
}

func cleanNode(id string) model.Node {
	return model.Node{
		ID:      id,
		Type:    model.NodeTypeInsight,
		Content: "Communication scores improved from 74 to 82 over the quarter. The team review cites clearer status updates as the driver.",
	}
}

func TestScore_CleanContentPasses(t *testing.T) {
	s := testScorer(t, nil)

	factors, issues, err := s.Score(context.Background(), cleanNode("n1"), nil, 1)
	require.NoError(t, err)

	assert.True(t, s.Passing(factors))
	assert.Empty(t, issues)
	assert.Equal(t, 1, factors.Iteration)
	assert.Equal(t, "n1", factors.NodeID)
}

func TestScore_BiasIndicatorFailsFloor(t *testing.T) {
	s := testScorer(t, nil)

	node := cleanNode("n1")
	node.Content = "A young and energetic recent graduate preferred profile, typical for their age, would suit this role despite their background."

	factors, issues, err := s.Score(context.Background(), node, nil, 1)
	require.NoError(t, err)

	assert.Less(t, factors.Bias, 50.0)
	assert.False(t, s.Passing(factors))

	require.NotEmpty(t, issues)
	var biasIssue *model.Issue
	for i := range issues {
		if issues[i].Category == model.FactorBias {
			biasIssue = &issues[i]
		}
	}
	require.NotNil(t, biasIssue)
	assert.True(t, biasIssue.FloorViolation)
	// Floor violations escalate severity one level.
	assert.True(t, biasIssue.Severity.AtLeast(model.SeverityMedium))
}

func TestScore_RegulatedMarkerHitsCompliance(t *testing.T) {
	s := testScorer(t, nil)

	node := cleanNode("n1")
	node.Content = "This allocation offers guaranteed returns with a risk-free profile."

	factors, _, err := s.Score(context.Background(), node, nil, 1)
	require.NoError(t, err)

	assert.Equal(t, 0.0, factors.Compliance)
	assert.False(t, s.Passing(factors))
}

func TestScore_AccuracyPenalizesOutOfScaleValue(t *testing.T) {
	s := testScorer(t, nil)

	node := cleanNode("n1")
	node.Type = model.NodeTypeScoring
	node.SourceData = map[string]float64{"value": 130, "scale": 100}

	factors, _, err := s.Score(context.Background(), node, nil, 1)
	require.NoError(t, err)

	assert.LessOrEqual(t, factors.Accuracy, 40.0)
}

func TestScore_AccuracyPenalizesContradiction(t *testing.T) {
	s := testScorer(t, nil)

	node := cleanNode("n1")
	node.Content = "Results show strong growth this quarter. Results also show a steady decline this quarter."

	factors, _, err := s.Score(context.Background(), node, nil, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, factors.Accuracy, 75.0)
}

func TestScore_ConsistencyAgainstDependencies(t *testing.T) {
	s := testScorer(t, nil)

	node := cleanNode("rec")
	node.Content = "Expect continued decline and loss of momentum next quarter."
	dep := cleanNode("ins")
	dep.Content = "Metrics show sustained growth and improvement across the team."

	factors, _, err := s.Score(context.Background(), node, []model.Node{dep}, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, factors.Consistency, 70.0)

	// Aligned dependencies keep consistency intact.
	aligned := cleanNode("ins2")
	aligned.Content = "Momentum is weakening with a drop in throughput."
	factors, _, err = s.Score(context.Background(), node, []model.Node{aligned}, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, factors.Consistency)
}

// stubEvaluator implements Evaluator for blend tests.
type stubEvaluator struct {
	score  float64
	issues []string
	err    error
	calls  int
}

func (s *stubEvaluator) Evaluate(ctx context.Context, content, criteria string) (float64, []string, error) {
	s.calls++
	return s.score, s.issues, s.err
}

func TestScore_BlendsEvaluator(t *testing.T) {
	ev := &stubEvaluator{score: 60, issues: []string{"claim lacks citation"}}
	s := testScorer(t, ev)

	factors, _, err := s.Score(context.Background(), cleanNode("n1"), nil, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, ev.calls)
	// Heuristic 100 blended with evaluator 60.
	assert.Equal(t, 80.0, factors.Accuracy)
}

func TestScore_EvaluatorFailureFallsBackToHeuristics(t *testing.T) {
	ev := &stubEvaluator{err: errors.New("service unavailable")}
	s := testScorer(t, ev)

	factors, _, err := s.Score(context.Background(), cleanNode("n1"), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, factors.Accuracy)
}

func TestScoreAll_TopologicalWaves(t *testing.T) {
	s := testScorer(t, nil)

	nodes := []model.Node{
		cleanNode("a"),
		cleanNode("b"),
		cleanNode("c"),
	}
	nodes[1].DependsOn = []string{"a"}
	nodes[2].DependsOn = []string{"b"}

	graph := extractor.NewGraph(model.Adjacency{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})

	result, err := s.ScoreAll(context.Background(), nodes, graph, 1)
	require.NoError(t, err)

	require.Len(t, result.Scores, 3)
	for _, id := range []string{"a", "b", "c"} {
		assert.Contains(t, result.Scores, id)
	}
}

func TestScoreSubset_OnlyScoresSubset(t *testing.T) {
	s := testScorer(t, nil)

	nodes := []model.Node{cleanNode("a"), cleanNode("b")}
	graph := extractor.NewGraph(model.Adjacency{"a": nil, "b": nil})

	result, err := s.ScoreSubset(context.Background(), nodes, map[string]bool{"b": true}, graph, 2)
	require.NoError(t, err)

	assert.Len(t, result.Scores, 1)
	assert.Contains(t, result.Scores, "b")
	assert.Equal(t, 2, result.Scores["b"].Iteration)
}

func TestPassing_FloorBeatsWeightedAverage(t *testing.T) {
	s := testScorer(t, nil)

	f := model.ConfidenceFactors{
		Accuracy:    100,
		Bias:        45, // below the 50 floor
		Clarity:     100,
		Consistency: 100,
		Compliance:  100,
	}
	assert.GreaterOrEqual(t, f.Overall(s.Weights()), s.Threshold())
	assert.False(t, s.Passing(f))
}

func TestLoadLexicon_Default(t *testing.T) {
	lex, err := LoadLexicon("")
	require.NoError(t, err)
	assert.NotEmpty(t, lex.BiasIndicators)
	assert.NotEmpty(t, lex.JargonTerms)
	assert.NotEmpty(t, lex.DisclosureRules)
	assert.NotEmpty(t, lex.RegulatedMarkers)
}

func TestLoadLexicon_MissingFile(t *testing.T) {
	_, err := LoadLexicon("does/not/exist.yaml")
	require.Error(t, err)
}

// Raising any single factor, holding the others fixed, must never lower the
// overall confidence. Holds as long as every weight stays non-negative.
func TestOverall_MonotonicPerFactor(t *testing.T) {
	s := testScorer(t, nil)

	base := model.ConfidenceFactors{
		Accuracy:    55,
		Bias:        60,
		Clarity:     45,
		Consistency: 70,
		Compliance:  50,
	}

	set := func(f model.ConfidenceFactors, name model.Factor, v float64) model.ConfidenceFactors {
		switch name {
		case model.FactorAccuracy:
			f.Accuracy = v
		case model.FactorBias:
			f.Bias = v
		case model.FactorClarity:
			f.Clarity = v
		case model.FactorConsistency:
			f.Consistency = v
		case model.FactorCompliance:
			f.Compliance = v
		}
		return f
	}

	for _, name := range model.Factors {
		prev := base.Overall(s.Weights())
		for v := base.Get(name) + 5; v <= 100; v += 5 {
			cur := set(base, name, v).Overall(s.Weights())
			assert.GreaterOrEqual(t, cur, prev,
				"raising %s to %.0f lowered overall confidence", name, v)
			prev = cur
		}
	}
}
