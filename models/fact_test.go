package models

import (
	"testing"
	"time"
)

func TestNewFactComputesCIARScore(t *testing.T) {
	f, err := NewFact("f1", "s1", "user prefers dark mode", FactTypePreference, CategoryPersonal,
		0.9, 0.8, 1.0, 1.0, "turn:t1", time.Now())
	if err != nil {
		t.Fatalf("NewFact returned error: %v", err)
	}

	want := 0.9 * 0.8
	if abs(f.CIARScore-want) > 1e-9 {
		t.Errorf("CIARScore = %v, want %v", f.CIARScore, want)
	}
}

func TestNewFactRejectsInvalidCertainty(t *testing.T) {
	_, err := NewFact("f1", "s1", "x", FactTypeEvent, CategoryTechnical, 1.5, 0.5, 1.0, 1.0, "turn:t1", time.Now())
	if err == nil {
		t.Fatal("expected error for out-of-range certainty")
	}
}

func TestNewFactRejectsMissingSourceURI(t *testing.T) {
	_, err := NewFact("f1", "s1", "x", FactTypeEvent, CategoryTechnical, 0.5, 0.5, 1.0, 1.0, "", time.Now())
	if err == nil {
		t.Fatal("expected error for missing source_uri")
	}
}

func TestFactRecordAccessUpdatesRecencyAndCIAR(t *testing.T) {
	f, err := NewFact("f1", "s1", "x", FactTypeEvent, CategoryTechnical, 0.8, 0.8, 1.0, 1.0, "turn:t1", time.Now())
	if err != nil {
		t.Fatalf("NewFact: %v", err)
	}

	before := f.CIARScore
	f.RecordAccess(0.05, time.Now())

	if f.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", f.AccessCount)
	}
	if f.RecencyBoost != 1.05 {
		t.Errorf("RecencyBoost = %v, want 1.05", f.RecencyBoost)
	}
	if f.CIARScore <= before {
		t.Errorf("expected CIARScore to rise after access, before=%v after=%v", before, f.CIARScore)
	}
	if f.LastAccessed == nil {
		t.Error("LastAccessed should be set after RecordAccess")
	}
}

func TestFactRecomputeAgeDecayClampsFutureTimestamps(t *testing.T) {
	f, err := NewFact("f1", "s1", "x", FactTypeEvent, CategoryTechnical, 0.8, 0.8, 1.0, 1.0, "turn:t1", time.Now().Add(24*time.Hour))
	if err != nil {
		t.Fatalf("NewFact: %v", err)
	}

	f.RecomputeAgeDecay(0.1, time.Now())
	if f.AgeDecay != 1.0 {
		t.Errorf("AgeDecay = %v, want 1.0 for future-dated created_at clamped to age 0", f.AgeDecay)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
