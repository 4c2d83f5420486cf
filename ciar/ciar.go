// Package ciar implements the Certainty-Impact-Age-Recency scoring model
// used to decide which L1/L2 facts are worth promoting and which L3/L4
// entries have decayed past relevance. Pure functions only: every tier
// and engine calls Calculate with its own decay/recency constants rather
// than reaching for a shared global, so scoring stays unit-testable in
// isolation the way the teacher's caching.cosineSimilarity is a free
// function rather than a method with hidden state.
package ciar

import "math"

// Inputs holds the four raw signals a CIAR score is derived from.
type Inputs struct {
	// Certainty is the extractor's or synthesizer's confidence in the
	// fact, in [0, 1].
	Certainty float64
	// Impact is how consequential the fact is judged to be, in [0, 1].
	Impact float64
	// AgeDays is how long ago the fact was last written or confirmed.
	AgeDays float64
	// AccessCount is how many times the fact has been read since
	// creation.
	AccessCount int64
}

// Weights parameterizes the decay and recency-boost terms. Defaults
// match the substrate-wide constants (lambda=0.1/day, alpha=0.05/access)
// but engines may override them per tier.
type Weights struct {
	DecayLambda  float64
	RecencyAlpha float64
}

// DefaultWeights returns the substrate-wide default CIAR weights.
func DefaultWeights() Weights {
	return Weights{DecayLambda: 0.1, RecencyAlpha: 0.05}
}

// Score is the full breakdown of a CIAR calculation, useful both for the
// final clamped score and for explaining why a fact was or wasn't
// promoted.
type Score struct {
	AgeDecay     float64
	RecencyBoost float64
	Raw          float64
	Value        float64
}

// Calculate computes the CIAR score for in under w, clamped to [0, 1].
//
//	age_decay     = 2^(-lambda * age_days)
//	recency_boost = 1 + alpha * access_count
//	raw           = (certainty * impact) * age_decay * recency_boost
//	value         = clamp01(raw)
func Calculate(in Inputs, w Weights) Score {
	ageDecay := math.Pow(2, -w.DecayLambda*in.AgeDays)
	recencyBoost := 1 + w.RecencyAlpha*float64(in.AccessCount)
	raw := (in.Certainty * in.Impact) * ageDecay * recencyBoost

	return Score{
		AgeDecay:     ageDecay,
		RecencyBoost: recencyBoost,
		Raw:          raw,
		Value:        clamp01(raw),
	}
}

// MeetsThreshold reports whether score clears threshold, the comparison
// the Promotion engine runs after Calculate to decide L1→L2 eligibility.
func MeetsThreshold(score Score, threshold float64) bool {
	return score.Value >= threshold
}

// Verdict is Explain's recommendation: whether in clears threshold at
// all, and which tier a memory carrying this score belongs at. The
// banding is a heuristic over the distance from threshold to 1 — it
// does not gate any engine's actual cycle trigger (Consolidation and
// Distillation use their own cluster-size/episode-count triggers), it
// only gives callers (and operators reading telemetry) a human-facing
// answer to "how durable does this look".
type Verdict struct {
	Promotable      bool
	RecommendedTier string
}

// Explanation is the full breakdown Explain returns: the Score (so
// callers can see age_decay/recency_boost individually) plus the
// Verdict derived from it.
type Explanation struct {
	Score   Score
	Verdict Verdict
}

// Explain computes the same score Calculate does and additionally
// classifies it: Promotable reports whether it clears threshold;
// RecommendedTier bands the score above threshold into "L2"/"L3"/"L4"
// (a score below threshold recommends "L1", i.e. not promoted at all).
func Explain(in Inputs, w Weights, threshold float64) Explanation {
	score := Calculate(in, w)
	return Explanation{
		Score: score,
		Verdict: Verdict{
			Promotable:      MeetsThreshold(score, threshold),
			RecommendedTier: recommendedTier(score.Value, threshold),
		},
	}
}

// recommendedTier splits the [threshold, 1] range above the promotion
// threshold into three equal bands. A score at or above threshold but
// in the bottom band is durable enough for L2 only; the top band is
// confident enough to skip straight to the tiers Consolidation and
// Distillation would otherwise take further cycles to reach.
func recommendedTier(value, threshold float64) string {
	if value < threshold {
		return "L1"
	}
	span := 1 - threshold
	if span <= 0 {
		return "L4"
	}
	switch {
	case value < threshold+span/3:
		return "L2"
	case value < threshold+2*span/3:
		return "L3"
	default:
		return "L4"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
