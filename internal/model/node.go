package model

// NodeType classifies a validatable unit extracted from an artifact.
type NodeType string

const (
	NodeTypeScoring        NodeType = "scoring"
	NodeTypeInsight        NodeType = "insight"
	NodeTypeRecommendation NodeType = "recommendation"
	NodeTypeSummary        NodeType = "summary"
	NodeTypeContext        NodeType = "context"
)

// Node is a discrete, independently scorable unit of an artifact.
// Nodes are immutable: a revision produces a new Node with the same ID and a
// new ContentHash, never an in-place mutation.
type Node struct {
	ID          string   `json:"id"`
	Type        NodeType `json:"type"`
	Content     string   `json:"content"`
	ContentHash string   `json:"content_hash"`
	DependsOn   []string `json:"depends_on,omitempty"`

	// GeneratorConfidence is the producing model's self-reported confidence
	// (0.0-1.0), carried from artifact metadata. Used by disagreement
	// detection; zero means the generator reported nothing.
	GeneratorConfidence float64 `json:"generator_confidence,omitempty"`

	// SourceData holds declared numeric source values the accuracy check
	// verifies the content against (e.g., a score the narrative cites).
	SourceData map[string]float64 `json:"source_data,omitempty"`
}
