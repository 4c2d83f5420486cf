package engines

import (
	"testing"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/ciar"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

func TestInflightKeyIsScopedPerSession(t *testing.T) {
	a := inflightKey("sess-1")
	b := inflightKey("sess-2")
	if a == b {
		t.Fatalf("expected distinct keys per session, both were %q", a)
	}
}

func TestNewPromotionEngineAppliesDefaults(t *testing.T) {
	e := NewPromotionEngine(nil, nil, nil, nil, nil, nil, zeroLogger(), 0, 0)
	if e.threshold != 0.6 {
		t.Fatalf("expected default threshold 0.6, got %v", e.threshold)
	}
	if e.batchSize != 15 {
		t.Fatalf("expected default batch size 15, got %d", e.batchSize)
	}
}

func TestPromotionRecoverInflightNoopsOnEmptyInput(t *testing.T) {
	e := NewPromotionEngine(nil, nil, nil, nil, nil, nil, zeroLogger(), 0, 0)
	if err := e.RecoverInflight(nil, "sess-1", nil); err != nil {
		t.Fatalf("expected no error for empty stale ids, got %v", err)
	}
}

func TestSourceURIForSegmentPicksFirstReferencedTurn(t *testing.T) {
	turns := []*models.Turn{
		{TurnID: "turn-0"},
		{TurnID: "turn-1"},
		{TurnID: "turn-2"},
	}
	segment := models.TopicSegment{TurnIndices: []int{1, 2}}

	got := sourceURIForSegment(turns, segment)
	if got != "turn-1" {
		t.Fatalf("expected turn-1, got %q", got)
	}
}

func TestSourceURIForSegmentFallsBackToFirstTurn(t *testing.T) {
	turns := []*models.Turn{{TurnID: "turn-0"}, {TurnID: "turn-1"}}
	segment := models.TopicSegment{TurnIndices: []int{99}}

	got := sourceURIForSegment(turns, segment)
	if got != "turn-0" {
		t.Fatalf("expected fallback to first turn, got %q", got)
	}
}

func TestSourceURIForSegmentEmptyTurnsReturnsEmpty(t *testing.T) {
	got := sourceURIForSegment(nil, models.TopicSegment{})
	if got != "" {
		t.Fatalf("expected empty string for no turns, got %q", got)
	}
}

// TestPreferenceSegmentClearsThresholdFillerDoesNot grounds the S1 seed
// scenario's CIAR-filtering half directly against the ciar package: a
// segment carrying a clear stated preference (high certainty, high
// impact) clears the 0.6 promotion threshold while a filler segment
// (low certainty, low impact, same age) does not.
func TestPreferenceSegmentClearsThresholdFillerDoesNot(t *testing.T) {
	weights := ciar.DefaultWeights()
	const threshold = 0.6

	preference := models.TopicSegment{Topic: "scheduling", Certainty: 0.9, Impact: 0.85}
	filler := models.TopicSegment{Topic: "small talk", Certainty: 0.2, Impact: 0.1}

	prefScore := ciar.Calculate(ciar.Inputs{Certainty: preference.Certainty, Impact: preference.Impact, AgeDays: 0, AccessCount: 0}, weights)
	fillerScore := ciar.Calculate(ciar.Inputs{Certainty: filler.Certainty, Impact: filler.Impact, AgeDays: 0, AccessCount: 0}, weights)

	if !ciar.MeetsThreshold(prefScore, threshold) {
		t.Fatalf("expected preference segment to clear threshold, got score %+v", prefScore)
	}
	if ciar.MeetsThreshold(fillerScore, threshold) {
		t.Fatalf("expected filler segment to be rejected, got score %+v", fillerScore)
	}
}
