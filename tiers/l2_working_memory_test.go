package tiers

import (
	"testing"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/ciar"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

func newTestFact(t *testing.T, certainty, impact float64) *models.Fact {
	t.Helper()
	score := ciar.Calculate(ciar.Inputs{Certainty: certainty, Impact: impact, AgeDays: 0, AccessCount: 0}, ciar.DefaultWeights())
	fact, err := models.NewFact("fact-1", "sess-1", "likes dark mode", models.FactTypePreference, models.CategoryPersonal,
		certainty, impact, score.AgeDecay, score.RecencyBoost, "turn-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error building fact: %v", err)
	}
	return fact
}

func TestFactToRecordRoundTripsThroughRecordToFact(t *testing.T) {
	fact := newTestFact(t, 0.9, 0.9)
	rec := factToRecord(fact)
	got, err := recordToFact(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FactID != fact.FactID || got.Content != fact.Content || got.FactType != fact.FactType {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, fact)
	}
	if got.CIARScore != fact.CIARScore {
		t.Fatalf("expected ciar_score %v, got %v", fact.CIARScore, got.CIARScore)
	}
}

func TestRecordToFactParsesNumericFieldsFromJSONFloats(t *testing.T) {
	rec := map[string]any{
		"fact_id":       "fact-1",
		"session_id":    "sess-1",
		"content":       "likes dark mode",
		"fact_type":     string(models.FactTypePreference),
		"category":      string(models.CategoryPersonal),
		"certainty":     float64(0.9),
		"impact":        float64(0.8),
		"age_decay":     float64(1.0),
		"recency_boost": float64(1.0),
		"source_uri":    "turn-1",
		"created_at":    "2026-07-29T10:00:00Z",
		"access_count":  float64(3),
	}
	fact, err := recordToFact(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fact.AccessCount != 3 {
		t.Fatalf("expected access_count 3, got %d", fact.AccessCount)
	}
}

func TestNewWorkingMemoryAppliesDefaults(t *testing.T) {
	wm := NewWorkingMemory(nil, nil, 0, 0)
	if wm.threshold != 0.6 {
		t.Fatalf("expected default threshold 0.6, got %v", wm.threshold)
	}
	if wm.ttl != 7*24*time.Hour {
		t.Fatalf("expected default ttl 7 days, got %v", wm.ttl)
	}
}
