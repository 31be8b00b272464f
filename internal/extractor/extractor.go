// Package extractor decomposes generated artifacts into independently
// validatable nodes with a dependency graph between them.
package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/validation-cli/internal/model"
)

// ErrMalformedArtifact is returned when required structural sections are
// absent. Fatal: surfaced immediately, never retried.
var ErrMalformedArtifact = eris.New("extractor: malformed artifact")

// Extraction is the result of decomposing an artifact.
type Extraction struct {
	Nodes []model.Node
	Graph *Graph
}

// NodeByID returns the node with the given id, or nil.
func (e *Extraction) NodeByID(id string) *model.Node {
	for i := range e.Nodes {
		if e.Nodes[i].ID == id {
			return &e.Nodes[i]
		}
	}
	return nil
}

// Extract decomposes an artifact into one node per leaf-level claim plus the
// dependency graph. Deterministic: re-extracting an unchanged artifact yields
// identical node ids and content hashes, which is what makes selective
// re-evaluation possible.
func Extract(artifact *Artifact) (*Extraction, error) {
	if artifact == nil {
		return nil, eris.Wrap(ErrMalformedArtifact, "nil artifact")
	}
	if len(artifact.Scores) == 0 {
		return nil, eris.Wrap(ErrMalformedArtifact, "no score sections")
	}
	if artifact.Summary == nil || artifact.Summary.Text == "" {
		return nil, eris.Wrap(ErrMalformedArtifact, "no summary section")
	}

	var nodes []model.Node
	adj := model.Adjacency{}
	keyToID := make(map[string]string)

	add := func(n model.Node, deps []string) {
		n.ContentHash = contentHash(n)
		n.DependsOn = deps
		nodes = append(nodes, n)
		adj[n.ID] = deps
	}

	for _, s := range artifact.Scores {
		id := nodeID(model.NodeTypeScoring, s.Key)
		keyToID[s.Key] = id

		// The declared value and scale travel with the node so the accuracy
		// check can verify the claim without the original artifact.
		sd := make(map[string]float64, len(s.SourceData)+2)
		for k, v := range s.SourceData {
			sd[k] = v
		}
		sd["value"] = s.Value
		sd["scale"] = s.Scale

		add(model.Node{
			ID:                  id,
			Type:                model.NodeTypeScoring,
			Content:             scoreContent(s),
			GeneratorConfidence: s.Confidence,
			SourceData:          sd,
		}, nil)
	}

	for _, ins := range artifact.Insights {
		id := nodeID(model.NodeTypeInsight, ins.Key)
		keyToID[ins.Key] = id
		deps, err := resolveRefs(keyToID, ins.BasedOn, ins.Key)
		if err != nil {
			return nil, err
		}
		add(model.Node{
			ID:                  id,
			Type:                model.NodeTypeInsight,
			Content:             ins.Text,
			GeneratorConfidence: ins.Confidence,
		}, deps)
	}

	for _, rec := range artifact.Recommendations {
		id := nodeID(model.NodeTypeRecommendation, rec.Key)
		keyToID[rec.Key] = id
		deps, err := resolveRefs(keyToID, rec.BasedOn, rec.Key)
		if err != nil {
			return nil, err
		}
		add(model.Node{
			ID:                  id,
			Type:                model.NodeTypeRecommendation,
			Content:             rec.Text,
			GeneratorConfidence: rec.Confidence,
		}, deps)
	}

	for _, cx := range artifact.Context {
		id := nodeID(model.NodeTypeContext, cx.Key)
		keyToID[cx.Key] = id
		add(model.Node{
			ID:                  id,
			Type:                model.NodeTypeContext,
			Content:             cx.Text,
			GeneratorConfidence: cx.Confidence,
		}, nil)
	}

	// Summary last: it depends on the insights it references, or all insights
	// when references are omitted.
	var summaryDeps []string
	if len(artifact.Summary.References) > 0 {
		deps, err := resolveRefs(keyToID, artifact.Summary.References, "summary")
		if err != nil {
			return nil, err
		}
		summaryDeps = deps
	} else {
		for _, ins := range artifact.Insights {
			summaryDeps = append(summaryDeps, keyToID[ins.Key])
		}
	}
	add(model.Node{
		ID:                  nodeID(model.NodeTypeSummary, "summary"),
		Type:                model.NodeTypeSummary,
		Content:             artifact.Summary.Text,
		GeneratorConfidence: artifact.Summary.Confidence,
	}, summaryDeps)

	// Carry the artifact-level generator confidence to nodes that reported none.
	for i := range nodes {
		if nodes[i].GeneratorConfidence == 0 {
			nodes[i].GeneratorConfidence = artifact.GeneratorConfidence
		}
	}

	graph := NewGraph(adj)
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	zap.L().Debug("extractor: artifact decomposed",
		zap.String("artifact_id", artifact.ID),
		zap.Int("nodes", len(nodes)),
	)

	return &Extraction{Nodes: nodes, Graph: graph}, nil
}

func nodeID(t model.NodeType, key string) string {
	return string(t) + ":" + key
}

func resolveRefs(keyToID map[string]string, refs []string, from string) ([]string, error) {
	var deps []string
	for _, ref := range refs {
		id, ok := keyToID[ref]
		if !ok {
			return nil, eris.Wrapf(ErrMalformedArtifact, "section %s references unknown key %s", from, ref)
		}
		deps = append(deps, id)
	}
	return deps, nil
}

// scoreContent renders a scoring section as canonical node content so that
// the same claim always hashes identically.
func scoreContent(s ScoreSection) string {
	if s.Narrative != "" {
		return fmt.Sprintf("%s: %.2f/%.0f. %s", s.Label, s.Value, s.Scale, s.Narrative)
	}
	return fmt.Sprintf("%s: %.2f/%.0f", s.Label, s.Value, s.Scale)
}

// contentHash computes a stable hash over the node's type, content and
// declared source data. encoding/json sorts map keys, so the hash is
// deterministic for identical inputs.
func contentHash(n model.Node) string {
	payload := struct {
		Type       model.NodeType     `json:"type"`
		Content    string             `json:"content"`
		SourceData map[string]float64 `json:"source_data,omitempty"`
	}{n.Type, n.Content, n.SourceData}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
