package service

import (
	"math"

	"github.com/sympfindx-diagnosis-server/internal/domain"
)

// ConfidenceWeights tunes how image and text confidence are blended.
type ConfidenceWeights struct {
	ImageWeight      float64
	TextWeight       float64
	ConsistencyBonus float64
	PenaltyThreshold float64
}

// DefaultConfidenceWeights returns the standard blend.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		ImageWeight:      0.7,
		TextWeight:       0.3,
		ConsistencyBonus: 0.1,
		PenaltyThreshold: 0.3,
	}
}

// WeightsFromConfig builds weights from pipeline configuration. A zero
// bonus or threshold is kept and switches that adjustment off.
func WeightsFromConfig(cfg domain.PipelineConfig) ConfidenceWeights {
	w := ConfidenceWeights{
		ImageWeight:      cfg.ImageWeight,
		TextWeight:       cfg.TextWeight,
		ConsistencyBonus: cfg.ConsistencyBonus,
		PenaltyThreshold: cfg.PenaltyThreshold,
	}
	return w.withDefaults()
}

// withDefaults replaces an all-zero value and any invalid field with the
// defaults.
func (w ConfidenceWeights) withDefaults() ConfidenceWeights {
	def := DefaultConfidenceWeights()
	if w == (ConfidenceWeights{}) {
		return def
	}
	if w.ImageWeight < 0 || w.TextWeight < 0 || w.ImageWeight+w.TextWeight == 0 {
		w.ImageWeight, w.TextWeight = def.ImageWeight, def.TextWeight
	}
	if w.ConsistencyBonus < 0 {
		w.ConsistencyBonus = def.ConsistencyBonus
	}
	if w.PenaltyThreshold < 0 {
		w.PenaltyThreshold = def.PenaltyThreshold
	}
	return w
}

const (
	neutralConsistency     = 0.5
	consistencyBonusCutoff = 0.7
	lowSignalPenalty       = 0.8
)

// CombineConfidence blends image confidence with the text analysis into a
// single value in [0,1].
func CombineConfidence(imageConfidence float64, text *domain.SymptomAnalysis, weights ConfidenceWeights) float64 {
	w := weights.withDefaults()
	total := w.ImageWeight + w.TextWeight
	imageWeight := w.ImageWeight / total
	textWeight := w.TextWeight / total

	textConfidence := text.TextConfidence()
	combined := imageConfidence*imageWeight + textConfidence*textWeight

	if ConsistencyScore(imageConfidence, text) > consistencyBonusCutoff {
		combined += w.ConsistencyBonus
	}

	if imageConfidence < w.PenaltyThreshold || textConfidence < w.PenaltyThreshold {
		combined *= lowSignalPenalty
	}

	return clamp(combined, 0, 1)
}

// ConsistencyScore measures agreement between image and text confidence.
// It is neutral (0.5) when the text matched no condition.
func ConsistencyScore(imageConfidence float64, text *domain.SymptomAnalysis) float64 {
	if !text.HasConditions() {
		return neutralConsistency
	}
	return math.Max(0, 1-2*math.Abs(imageConfidence-text.TextConfidence()))
}

// ConfidenceLevelFor bands a confidence value.
func ConfidenceLevelFor(confidence float64) domain.ConfidenceLevel {
	switch {
	case confidence >= 0.9:
		return domain.ConfidenceVeryHigh
	case confidence >= 0.8:
		return domain.ConfidenceHigh
	case confidence >= 0.7:
		return domain.ConfidenceModerate
	case confidence >= 0.5:
		return domain.ConfidenceLow
	default:
		return domain.ConfidenceVeryLow
	}
}

var confidenceExplanations = map[domain.ConfidenceLevel]string{
	domain.ConfidenceVeryHigh: "Very high confidence: Both image analysis and symptom description strongly indicate the same condition.",
	domain.ConfidenceHigh:     "High confidence: Strong agreement between image analysis and reported symptoms.",
	domain.ConfidenceModerate: "Moderate confidence: Good indicators present, but some uncertainty remains.",
	domain.ConfidenceLow:      "Low confidence: Limited or conflicting evidence. Professional consultation recommended.",
	domain.ConfidenceVeryLow:  "Very low confidence: Insufficient or unclear information for reliable assessment.",
}

// ExplainConfidence describes a blended confidence in plain language and
// calls out weak inputs.
func ExplainConfidence(confidence, imageConfidence float64, text *domain.SymptomAnalysis) string {
	explanation := confidenceExplanations[ConfidenceLevelFor(confidence)]
	if imageConfidence < 0.5 {
		explanation += " Image quality or features may be affecting analysis accuracy."
	}
	if !text.HasConditions() {
		explanation += " Symptom description did not match common eye condition patterns."
	}
	return explanation
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}
