package surface

import (
	"testing"
)

func TestNormalizeAndWeightScalesToWeightCeiling(t *testing.T) {
	results := []ScoredResult{
		{Content: "a", Score: 0.2},
		{Content: "b", Score: 0.8},
	}
	out := normalizeAndWeight(results, "L2", 0.3)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	for _, r := range out {
		if r.Score > 0.3+1e-9 {
			t.Fatalf("expected score to never exceed weight 0.3, got %v", r.Score)
		}
		if r.Tier != "L2" {
			t.Fatalf("expected tier L2, got %q", r.Tier)
		}
	}
	if out[1].Score <= out[0].Score {
		t.Fatalf("expected higher raw score to normalize higher: %+v", out)
	}
}

func TestNormalizeAndWeightHandlesZeroSpread(t *testing.T) {
	results := []ScoredResult{{Content: "a", Score: 0.5}, {Content: "b", Score: 0.5}}
	out := normalizeAndWeight(results, "L3", 0.5)
	for _, r := range out {
		if r.Score != 0.5 {
			t.Fatalf("expected full weight when all scores tie, got %v", r.Score)
		}
	}
}

func TestNormalizeAndWeightEmptyInputReturnsNil(t *testing.T) {
	if out := normalizeAndWeight(nil, "L4", 0.2); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}

func TestRenderContextTextEmptyWithoutTurnsOrFacts(t *testing.T) {
	text := renderContextText(nil, nil)
	if text != "" {
		t.Fatalf("expected empty text for no turns/facts, got %q", text)
	}
}
