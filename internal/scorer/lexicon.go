package scorer

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/validation-cli/internal/model"
)

//go:embed rules.yaml
var defaultRules []byte

// BiasIndicator is a maintained pattern that signals demographic,
// professional, or cultural bias in generated content.
type BiasIndicator struct {
	Term     string         `yaml:"term"`
	Category string         `yaml:"category"` // demographic, professional, cultural
	Severity model.Severity `yaml:"severity"`
}

// DisclosureRule requires a disclosure phrase whenever a trigger term appears
// in content of the given node types.
type DisclosureRule struct {
	Name       string   `yaml:"name"`
	Triggers   []string `yaml:"triggers"`
	Disclosure []string `yaml:"disclosure"` // any one of these satisfies the rule
	AppliesTo  []string `yaml:"applies_to"` // node types; empty = all
}

// RegulatedMarker is a phrase that must never appear in generated content.
type RegulatedMarker struct {
	Term     string         `yaml:"term"`
	Severity model.Severity `yaml:"severity"`
}

// Lexicon holds the rule sets the bias, clarity, and compliance checks
// pattern-match against.
type Lexicon struct {
	BiasIndicators   []BiasIndicator   `yaml:"bias_indicators"`
	JargonTerms      []string          `yaml:"jargon_terms"`
	DisclosureRules  []DisclosureRule  `yaml:"disclosure_rules"`
	RegulatedMarkers []RegulatedMarker `yaml:"regulated_markers"`
}

// LoadLexicon reads rule definitions from the given path, falling back to the
// embedded default rules when path is empty.
func LoadLexicon(path string) (*Lexicon, error) {
	raw := defaultRules
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "scorer: read lexicon %s", path)
		}
		raw = b
	}

	var lex Lexicon
	if err := yaml.Unmarshal(raw, &lex); err != nil {
		return nil, eris.Wrap(err, "scorer: parse lexicon")
	}
	if len(lex.BiasIndicators) == 0 {
		return nil, eris.New("scorer: lexicon has no bias indicators")
	}
	return &lex, nil
}

// appliesTo reports whether the rule covers the given node type.
func (r DisclosureRule) appliesTo(t model.NodeType) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, a := range r.AppliesTo {
		if strings.EqualFold(a, string(t)) {
			return true
		}
	}
	return false
}
