package model

import (
	"math"
	"time"

	"github.com/rotisserie/eris"
)

// Factor names the five confidence dimensions.
type Factor string

const (
	FactorAccuracy    Factor = "accuracy"
	FactorBias        Factor = "bias"
	FactorClarity     Factor = "clarity"
	FactorConsistency Factor = "consistency"
	FactorCompliance  Factor = "compliance"
)

// Factors lists the five dimensions in canonical order.
var Factors = []Factor{FactorAccuracy, FactorBias, FactorClarity, FactorConsistency, FactorCompliance}

// FactorWeights holds the per-factor weights used for the overall score.
// Weights must sum to 1.0.
type FactorWeights struct {
	Accuracy    float64 `json:"accuracy" mapstructure:"accuracy"`
	Bias        float64 `json:"bias" mapstructure:"bias"`
	Clarity     float64 `json:"clarity" mapstructure:"clarity"`
	Consistency float64 `json:"consistency" mapstructure:"consistency"`
	Compliance  float64 `json:"compliance" mapstructure:"compliance"`
}

// DefaultWeights returns the standard factor weighting.
func DefaultWeights() FactorWeights {
	return FactorWeights{
		Accuracy:    0.30,
		Bias:        0.25,
		Clarity:     0.20,
		Consistency: 0.15,
		Compliance:  0.10,
	}
}

// Validate checks that all weights are non-negative and sum to 1.0
// (within floating point tolerance).
func (w FactorWeights) Validate() error {
	for _, v := range []float64{w.Accuracy, w.Bias, w.Clarity, w.Consistency, w.Compliance} {
		if v < 0 {
			return eris.New("weights: negative factor weight")
		}
	}
	sum := w.Accuracy + w.Bias + w.Clarity + w.Consistency + w.Compliance
	if math.Abs(sum-1.0) > 1e-6 {
		return eris.Errorf("weights: must sum to 1.0, got %.4f", sum)
	}
	return nil
}

// ConfidenceFactors holds the five sub-scores (0-100) for one node at one
// iteration. Immutable once computed for a given (node id, iteration).
type ConfidenceFactors struct {
	NodeID      string    `json:"node_id"`
	Iteration   int       `json:"iteration"`
	Accuracy    float64   `json:"accuracy"`
	Bias        float64   `json:"bias"`
	Clarity     float64   `json:"clarity"`
	Consistency float64   `json:"consistency"`
	Compliance  float64   `json:"compliance"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Get returns the sub-score for the named factor.
func (f ConfidenceFactors) Get(name Factor) float64 {
	switch name {
	case FactorAccuracy:
		return f.Accuracy
	case FactorBias:
		return f.Bias
	case FactorClarity:
		return f.Clarity
	case FactorConsistency:
		return f.Consistency
	case FactorCompliance:
		return f.Compliance
	default:
		return 0
	}
}

// Overall computes the weighted confidence (0-100) under the given weights.
func (f ConfidenceFactors) Overall(w FactorWeights) float64 {
	total := f.Accuracy*w.Accuracy +
		f.Bias*w.Bias +
		f.Clarity*w.Clarity +
		f.Consistency*w.Consistency +
		f.Compliance*w.Compliance
	return math.Round(total*100) / 100
}

// FactorFloors holds per-factor minimums. A node fails when any factor sits
// below its floor, regardless of the weighted average; bias and compliance
// carry higher floors so they cannot be averaged away.
type FactorFloors struct {
	Accuracy    float64 `json:"accuracy" mapstructure:"accuracy"`
	Bias        float64 `json:"bias" mapstructure:"bias"`
	Clarity     float64 `json:"clarity" mapstructure:"clarity"`
	Consistency float64 `json:"consistency" mapstructure:"consistency"`
	Compliance  float64 `json:"compliance" mapstructure:"compliance"`
}

// DefaultFloors returns the standard per-factor floors.
func DefaultFloors() FactorFloors {
	return FactorFloors{
		Accuracy:    40,
		Bias:        50,
		Clarity:     40,
		Consistency: 40,
		Compliance:  50,
	}
}

// Get returns the floor for the named factor.
func (fl FactorFloors) Get(name Factor) float64 {
	switch name {
	case FactorAccuracy:
		return fl.Accuracy
	case FactorBias:
		return fl.Bias
	case FactorClarity:
		return fl.Clarity
	case FactorConsistency:
		return fl.Consistency
	case FactorCompliance:
		return fl.Compliance
	default:
		return 0
	}
}

// FloorViolations returns the factors sitting below their floors.
func (f ConfidenceFactors) FloorViolations(fl FactorFloors) []Factor {
	var out []Factor
	for _, name := range Factors {
		if f.Get(name) < fl.Get(name) {
			out = append(out, name)
		}
	}
	return out
}
