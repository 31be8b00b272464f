package scorer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/validation-cli/internal/model"
)

var (
	percentRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	sentenceRe = regexp.MustCompile(`[.!?]+\s+`)
)

var positiveTrendTerms = []string{"increase", "improve", "growth", "gain", "strengthen", "above average", "outperform"}
var negativeTrendTerms = []string{"decrease", "decline", "drop", "loss", "weaken", "below average", "underperform"}
var hedgeTerms = []string{"might", "possibly", "perhaps", "unclear", "uncertain", "may or may not"}

// scoreAccuracy checks statistical and factual plausibility against the
// node's declared source data: out-of-range values, internal contradictions,
// impossible percentages, hedging density.
func scoreAccuracy(node model.Node, sourceValue, sourceScale float64) (float64, []string) {
	score := 100.0
	var evidence []string
	content := strings.ToLower(node.Content)

	// Declared score outside its own scale.
	if sourceScale > 0 && (sourceValue < 0 || sourceValue > sourceScale) {
		score -= 60
		evidence = append(evidence, fmt.Sprintf("declared value %.2f is outside the 0-%.0f scale", sourceValue, sourceScale))
	}

	// Source data sanity: negative values where the artifact declared magnitudes.
	for key, v := range node.SourceData {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			score -= 40
			evidence = append(evidence, fmt.Sprintf("source value %q is not a finite number", key))
		}
	}

	// Percentages above 100 stated in prose.
	for _, m := range percentRe.FindAllStringSubmatch(content, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 100 {
			score -= 20
			evidence = append(evidence, fmt.Sprintf("implausible percentage %s%% in content", m[1]))
		}
	}

	// Internal contradiction: opposite trend claims in the same node.
	if containsAny(content, positiveTrendTerms) && containsAny(content, negativeTrendTerms) {
		score -= 25
		evidence = append(evidence, "content asserts both a positive and a negative trend")
	}

	// Hedging density.
	hedges := countMatches(content, hedgeTerms)
	if hedges > 1 {
		penalty := math.Min(float64(hedges-1)*5, 15)
		score -= penalty
		evidence = append(evidence, fmt.Sprintf("%d hedging phrases weaken the claim", hedges))
	}

	return clampScore(score), evidence
}

// scoreBias pattern-matches against the maintained bias indicator list and
// returns a penalty proportional to match count and severity.
func scoreBias(content string, lex *Lexicon) (float64, []string) {
	score := 100.0
	var evidence []string
	lower := strings.ToLower(content)

	for _, ind := range lex.BiasIndicators {
		if strings.Contains(lower, strings.ToLower(ind.Term)) {
			var penalty float64
			switch ind.Severity {
			case model.SeverityCritical:
				penalty = 35
			case model.SeverityHigh:
				penalty = 25
			case model.SeverityMedium:
				penalty = 15
			default:
				penalty = 8
			}
			score -= penalty
			evidence = append(evidence, fmt.Sprintf("%s bias indicator %q", ind.Category, ind.Term))
		}
	}

	return clampScore(score), evidence
}

// scoreClarity applies readability heuristics: sentence complexity, jargon
// density, ambiguous pronoun reference.
func scoreClarity(content string, lex *Lexicon) (float64, []string) {
	score := 100.0
	var evidence []string
	lower := strings.ToLower(content)

	sentences := splitSentences(content)
	words := len(strings.Fields(content))
	if words == 0 {
		return 0, []string{"content is empty"}
	}

	// Average sentence length.
	avgLen := float64(words) / float64(len(sentences))
	if avgLen > 35 {
		score -= 25
		evidence = append(evidence, fmt.Sprintf("average sentence length %.0f words", avgLen))
	} else if avgLen > 25 {
		score -= 10
		evidence = append(evidence, fmt.Sprintf("average sentence length %.0f words", avgLen))
	}

	// Jargon density.
	jargon := countMatches(lower, lex.JargonTerms)
	if jargon > 0 {
		density := float64(jargon) / float64(words) * 100
		penalty := math.Min(float64(jargon)*8, 30)
		score -= penalty
		evidence = append(evidence, fmt.Sprintf("%d jargon terms (%.1f%% of words)", jargon, density))
	}

	// Ambiguous pronoun openers: sentences after the first that lead with a
	// bare pronoun have no antecedent inside the node.
	ambiguous := 0
	for i, s := range sentences {
		if i == 0 {
			continue
		}
		first := strings.ToLower(firstWord(s))
		if first == "it" || first == "this" || first == "they" || first == "these" || first == "those" {
			ambiguous++
		}
	}
	if ambiguous > 1 {
		score -= math.Min(float64(ambiguous)*7, 20)
		evidence = append(evidence, fmt.Sprintf("%d sentences open with an ambiguous pronoun", ambiguous))
	}

	return clampScore(score), evidence
}

// scoreConsistency checks agreement between a node and the nodes in its
// dependency closure: a recommendation must not contradict the insight it is
// based on.
func scoreConsistency(node model.Node, related []model.Node) (float64, []string) {
	if len(related) == 0 {
		return 100, nil
	}

	score := 100.0
	var evidence []string
	polarity := trendPolarity(node.Content)

	for _, dep := range related {
		depPolarity := trendPolarity(dep.Content)
		if polarity != 0 && depPolarity != 0 && polarity != depPolarity {
			score -= 30
			evidence = append(evidence, fmt.Sprintf("trend direction contradicts dependency %s", dep.ID))
		}
	}

	return clampScore(score), evidence
}

// scoreCompliance checks required disclosures and regulated-content markers.
func scoreCompliance(node model.Node, lex *Lexicon) (float64, []string) {
	score := 100.0
	var evidence []string
	lower := strings.ToLower(node.Content)

	for _, marker := range lex.RegulatedMarkers {
		if strings.Contains(lower, strings.ToLower(marker.Term)) {
			var penalty float64
			switch marker.Severity {
			case model.SeverityCritical:
				penalty = 60
			case model.SeverityHigh:
				penalty = 40
			default:
				penalty = 20
			}
			score -= penalty
			evidence = append(evidence, fmt.Sprintf("regulated marker %q present", marker.Term))
		}
	}

	for _, rule := range lex.DisclosureRules {
		if !rule.appliesTo(node.Type) {
			continue
		}
		if !containsAny(lower, rule.Triggers) {
			continue
		}
		if !containsAny(lower, rule.Disclosure) {
			score -= 15
			evidence = append(evidence, fmt.Sprintf("missing %s disclosure", rule.Name))
		}
	}

	return clampScore(score), evidence
}

// trendPolarity returns +1 for net-positive trend language, -1 for
// net-negative, 0 for neutral or mixed-equal.
func trendPolarity(content string) int {
	lower := strings.ToLower(content)
	pos := countMatches(lower, positiveTrendTerms)
	neg := countMatches(lower, negativeTrendTerms)
	switch {
	case pos > neg:
		return 1
	case neg > pos:
		return -1
	default:
		return 0
	}
}

func splitSentences(content string) []string {
	parts := sentenceRe.Split(strings.TrimSpace(content), -1)
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{content}
	}
	return out
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ",.;:")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func countMatches(haystack string, needles []string) int {
	n := 0
	for _, needle := range needles {
		n += strings.Count(haystack, strings.ToLower(needle))
	}
	return n
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
