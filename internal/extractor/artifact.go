package extractor

// Artifact is the typed record a generating model produces: scored claims,
// narrative insights, recommendations, a summary, and contextual metadata.
// The extractor decomposes it into independently validatable nodes.
type Artifact struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	Scores          []ScoreSection     `json:"scores"`
	Insights        []NarrativeSection `json:"insights"`
	Recommendations []NarrativeSection `json:"recommendations"`
	Summary         *SummarySection    `json:"summary"`
	Context         []NarrativeSection `json:"context,omitempty"`

	// GeneratorConfidence is the producing model's overall self-reported
	// confidence (0.0-1.0), from response metadata.
	GeneratorConfidence float64 `json:"generator_confidence,omitempty"`
}

// ScoreSection is a single scored claim with its declared source values.
type ScoreSection struct {
	Key        string             `json:"key"`
	Label      string             `json:"label"`
	Value      float64            `json:"value"`
	Scale      float64            `json:"scale"` // max of the scale, e.g. 100
	Narrative  string             `json:"narrative,omitempty"`
	SourceData map[string]float64 `json:"source_data,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
}

// NarrativeSection is a free-text claim (insight, recommendation, context)
// with references to the sections it is based on.
type NarrativeSection struct {
	Key        string  `json:"key"`
	Text       string  `json:"text"`
	BasedOn    []string `json:"based_on,omitempty"` // keys of sections this presupposes
	Confidence float64 `json:"confidence,omitempty"`
}

// SummarySection is the artifact-level summary. References name the insight
// keys the summary draws from; when empty, the summary is taken to depend on
// every insight.
type SummarySection struct {
	Text       string   `json:"text"`
	References []string `json:"references,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}
