package extractor

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/validation-cli/internal/model"
)

func sampleArtifact() *Artifact {
	return &Artifact{
		ID:   "q3-report",
		Kind: "assessment",
		Scores: []ScoreSection{
			{
				Key:        "communication",
				Label:      "Communication",
				Value:      82,
				Scale:      100,
				Narrative:  "Scored 82/100 based on peer review responses.",
				SourceData: map[string]float64{"peer_avg": 81.5},
				Confidence: 0.9,
			},
			{Key: "delivery", Label: "Delivery", Value: 74, Scale: 100},
		},
		Insights: []NarrativeSection{
			{Key: "ins-growth", Text: "Communication improved against the prior quarter.", BasedOn: []string{"communication"}, Confidence: 0.8},
		},
		Recommendations: []NarrativeSection{
			{Key: "rec-mentoring", Text: "Assign a delivery mentor for the next cycle.", BasedOn: []string{"delivery", "ins-growth"}},
		},
		Summary: &SummarySection{
			Text:       "Strong communication trajectory, delivery needs support.",
			References: []string{"ins-growth"},
		},
		GeneratorConfidence: 0.75,
	}
}

func TestExtract_NodesAndGraph(t *testing.T) {
	ex, err := Extract(sampleArtifact())
	require.NoError(t, err)

	// 2 scores + 1 insight + 1 recommendation + 1 summary.
	require.Len(t, ex.Nodes, 5)

	ins := ex.NodeByID("insight:ins-growth")
	require.NotNil(t, ins)
	assert.Equal(t, model.NodeTypeInsight, ins.Type)
	assert.Equal(t, []string{"scoring:communication"}, ins.DependsOn)

	rec := ex.NodeByID("recommendation:rec-mentoring")
	require.NotNil(t, rec)
	assert.ElementsMatch(t, []string{"scoring:delivery", "insight:ins-growth"}, rec.DependsOn)

	sum := ex.NodeByID("summary:summary")
	require.NotNil(t, sum)
	assert.Equal(t, []string{"insight:ins-growth"}, sum.DependsOn)
}

func TestExtract_Deterministic(t *testing.T) {
	first, err := Extract(sampleArtifact())
	require.NoError(t, err)
	second, err := Extract(sampleArtifact())
	require.NoError(t, err)

	require.Equal(t, len(first.Nodes), len(second.Nodes))
	for i := range first.Nodes {
		assert.Equal(t, first.Nodes[i].ID, second.Nodes[i].ID)
		assert.Equal(t, first.Nodes[i].ContentHash, second.Nodes[i].ContentHash)
	}
}

func TestExtract_HashChangesWithContent(t *testing.T) {
	base, err := Extract(sampleArtifact())
	require.NoError(t, err)

	revised := sampleArtifact()
	revised.Insights[0].Text = "Communication improved sharply against the prior quarter."
	after, err := Extract(revised)
	require.NoError(t, err)

	assert.NotEqual(t,
		base.NodeByID("insight:ins-growth").ContentHash,
		after.NodeByID("insight:ins-growth").ContentHash,
	)
	// Untouched nodes keep their hashes.
	assert.Equal(t,
		base.NodeByID("scoring:communication").ContentHash,
		after.NodeByID("scoring:communication").ContentHash,
	)
}

func TestExtract_CarriesGeneratorConfidence(t *testing.T) {
	ex, err := Extract(sampleArtifact())
	require.NoError(t, err)

	// delivery reported no confidence, so it inherits the artifact level.
	assert.Equal(t, 0.75, ex.NodeByID("scoring:delivery").GeneratorConfidence)
	// communication keeps its own.
	assert.Equal(t, 0.9, ex.NodeByID("scoring:communication").GeneratorConfidence)
}

func TestExtract_SourceDataIncludesDeclaredValue(t *testing.T) {
	ex, err := Extract(sampleArtifact())
	require.NoError(t, err)

	node := ex.NodeByID("scoring:communication")
	require.NotNil(t, node)
	assert.Equal(t, 82.0, node.SourceData["value"])
	assert.Equal(t, 100.0, node.SourceData["scale"])
	assert.Equal(t, 81.5, node.SourceData["peer_avg"])
}

func TestExtract_SummaryDefaultsToAllInsights(t *testing.T) {
	artifact := sampleArtifact()
	artifact.Summary.References = nil
	artifact.Insights = append(artifact.Insights, NarrativeSection{
		Key: "ins-delivery", Text: "Delivery lags the team median.", BasedOn: []string{"delivery"},
	})

	ex, err := Extract(artifact)
	require.NoError(t, err)

	sum := ex.NodeByID("summary:summary")
	require.NotNil(t, sum)
	assert.ElementsMatch(t, []string{"insight:ins-growth", "insight:ins-delivery"}, sum.DependsOn)
}

func TestExtract_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Artifact)
	}{
		{"nil summary", func(a *Artifact) { a.Summary = nil }},
		{"empty summary text", func(a *Artifact) { a.Summary.Text = "" }},
		{"no scores", func(a *Artifact) { a.Scores = nil }},
		{"unknown reference", func(a *Artifact) { a.Insights[0].BasedOn = []string{"nope"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artifact := sampleArtifact()
			tt.mutate(artifact)
			_, err := Extract(artifact)
			require.Error(t, err)
			assert.True(t, eris.Is(err, ErrMalformedArtifact))
		})
	}
}

func TestExtract_NilArtifact(t *testing.T) {
	_, err := Extract(nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrMalformedArtifact))
}
