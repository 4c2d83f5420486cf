package engines

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/ciar"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

func zeroLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func newConsolidationTestFact(t *testing.T, id string, createdAt time.Time) *models.Fact {
	t.Helper()
	score := ciar.Calculate(ciar.Inputs{Certainty: 0.8, Impact: 0.7, AgeDays: 0, AccessCount: 0}, ciar.DefaultWeights())
	fact, err := models.NewFact(id, "sess-1", "prefers dark mode", models.FactTypePreference, models.CategoryPersonal,
		0.8, 0.7, score.AgeDecay, score.RecencyBoost, "turn-1", createdAt)
	if err != nil {
		t.Fatalf("unexpected error building fact: %v", err)
	}
	return fact
}

func TestFactWindowSpansEarliestToLatest(t *testing.T) {
	base := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	facts := []*models.Fact{
		newConsolidationTestFact(t, "fact-1", base.Add(2*time.Hour)),
		newConsolidationTestFact(t, "fact-2", base),
		newConsolidationTestFact(t, "fact-3", base.Add(time.Hour)),
	}

	start, end := factWindow(facts)
	if !start.Equal(base) {
		t.Fatalf("expected window start %v, got %v", base, start)
	}
	if !end.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected window end %v, got %v", base.Add(2*time.Hour), end)
	}
}

func TestConcatenateFactContentsJoinsWithNewlines(t *testing.T) {
	facts := []*models.Fact{
		newConsolidationTestFact(t, "fact-1", time.Now().UTC()),
		newConsolidationTestFact(t, "fact-2", time.Now().UTC()),
	}
	got := concatenateFactContents(facts)
	want := "prefers dark mode\nprefers dark mode"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestConsolidatedSetKeyIsScopedPerSession(t *testing.T) {
	a := consolidatedSetKey("sess-1")
	b := consolidatedSetKey("sess-2")
	if a == b {
		t.Fatalf("expected distinct keys per session, both were %q", a)
	}
}

func TestRecoverInflightNoopsOnEmptyInput(t *testing.T) {
	e := NewConsolidationEngine(nil, nil, nil, nil, nil, zeroLogger(), 0, 0)
	if err := e.RecoverInflight(nil, "sess-1", nil); err != nil {
		t.Fatalf("expected no error for empty stale ids, got %v", err)
	}
}

func TestConsolidationInflightKeyIsScopedPerSession(t *testing.T) {
	a := consolidationInflightKey("sess-1")
	b := consolidationInflightKey("sess-2")
	if a == b {
		t.Fatalf("expected distinct keys per session, both were %q", a)
	}
	if a == consolidatedSetKey("sess-1") {
		t.Fatalf("expected in-flight key distinct from consolidated-set key")
	}
}

func TestNewConsolidationEngineAppliesDefaults(t *testing.T) {
	e := NewConsolidationEngine(nil, nil, nil, nil, nil, zeroLogger(), 0, 0)
	if e.pressureThresh != 50 {
		t.Fatalf("expected default pressure threshold 50, got %d", e.pressureThresh)
	}
	if e.windowDuration != 24*time.Hour {
		t.Fatalf("expected default window duration 24h, got %v", e.windowDuration)
	}
}
