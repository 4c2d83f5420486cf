package ciar

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculateZeroAgeZeroAccess(t *testing.T) {
	w := DefaultWeights()
	got := Calculate(Inputs{Certainty: 0.8, Impact: 0.5, AgeDays: 0, AccessCount: 0}, w)

	if !almostEqual(got.AgeDecay, 1.0) {
		t.Errorf("age_decay at zero age = %v, want 1.0", got.AgeDecay)
	}
	if !almostEqual(got.RecencyBoost, 1.0) {
		t.Errorf("recency_boost at zero access = %v, want 1.0", got.RecencyBoost)
	}
	wantRaw := 0.8 * 0.5
	if !almostEqual(got.Raw, wantRaw) {
		t.Errorf("raw = %v, want %v", got.Raw, wantRaw)
	}
}

func TestCalculateClampsToUnitInterval(t *testing.T) {
	w := DefaultWeights()
	got := Calculate(Inputs{Certainty: 1, Impact: 1, AgeDays: 0, AccessCount: 1000}, w)

	if got.Value != 1.0 {
		t.Errorf("Value = %v, want clamped to 1.0", got.Value)
	}
}

func TestCalculateDecaysWithAge(t *testing.T) {
	w := DefaultWeights()
	fresh := Calculate(Inputs{Certainty: 0.9, Impact: 0.9, AgeDays: 0}, w)
	old := Calculate(Inputs{Certainty: 0.9, Impact: 0.9, AgeDays: 30}, w)

	if old.Value >= fresh.Value {
		t.Errorf("expected older fact to score lower: fresh=%v old=%v", fresh.Value, old.Value)
	}
}

func TestCalculateRecencyBoostIncreasesScore(t *testing.T) {
	w := DefaultWeights()
	base := Calculate(Inputs{Certainty: 0.5, Impact: 0.5, AgeDays: 1, AccessCount: 0}, w)
	accessed := Calculate(Inputs{Certainty: 0.5, Impact: 0.5, AgeDays: 1, AccessCount: 20}, w)

	if accessed.Value <= base.Value {
		t.Errorf("expected higher access_count to boost score: base=%v accessed=%v", base.Value, accessed.Value)
	}
}

func TestMeetsThreshold(t *testing.T) {
	cases := []struct {
		value     float64
		threshold float64
		want      bool
	}{
		{0.6, 0.6, true},
		{0.59999, 0.6, false},
		{1.0, 0.6, true},
		{0.0, 0.6, false},
	}

	for _, c := range cases {
		got := MeetsThreshold(Score{Value: c.value}, c.threshold)
		if got != c.want {
			t.Errorf("MeetsThreshold(%v, %v) = %v, want %v", c.value, c.threshold, got, c.want)
		}
	}
}

func TestCalculateNegativeInputsNeverBelowZero(t *testing.T) {
	w := DefaultWeights()
	got := Calculate(Inputs{Certainty: -1, Impact: 1, AgeDays: 0}, w)
	if got.Value != 0 {
		t.Errorf("Value = %v, want 0 for negative raw product", got.Value)
	}
}

func TestExplainBelowThresholdRecommendsL1(t *testing.T) {
	w := DefaultWeights()
	got := Explain(Inputs{Certainty: 0.2, Impact: 0.2, AgeDays: 0}, w, 0.6)

	if got.Verdict.Promotable {
		t.Errorf("expected Promotable=false for a score below threshold, got score %v", got.Score.Value)
	}
	if got.Verdict.RecommendedTier != "L1" {
		t.Errorf("RecommendedTier = %q, want L1", got.Verdict.RecommendedTier)
	}
}

func TestExplainAtThresholdRecommendsL2(t *testing.T) {
	w := DefaultWeights()
	got := Explain(Inputs{Certainty: 0.774597, Impact: 0.774597, AgeDays: 0}, w, 0.6)

	if !got.Verdict.Promotable {
		t.Errorf("expected Promotable=true for a score at threshold, got score %v", got.Score.Value)
	}
	if got.Verdict.RecommendedTier != "L2" {
		t.Errorf("RecommendedTier = %q, want L2 just above threshold", got.Verdict.RecommendedTier)
	}
}

func TestExplainNearCertaintyRecommendsL4(t *testing.T) {
	w := DefaultWeights()
	got := Explain(Inputs{Certainty: 1, Impact: 1, AgeDays: 0, AccessCount: 0}, w, 0.6)

	if !got.Verdict.Promotable {
		t.Errorf("expected Promotable=true for a maximal score, got score %v", got.Score.Value)
	}
	if got.Verdict.RecommendedTier != "L4" {
		t.Errorf("RecommendedTier = %q, want L4 for a near-maximal score", got.Verdict.RecommendedTier)
	}
}

func TestExplainScoreMatchesCalculate(t *testing.T) {
	w := DefaultWeights()
	in := Inputs{Certainty: 0.7, Impact: 0.6, AgeDays: 3, AccessCount: 2}
	want := Calculate(in, w)
	got := Explain(in, w, 0.6)

	if got.Score != want {
		t.Errorf("Explain's Score = %+v, want it to match Calculate's %+v", got.Score, want)
	}
}
