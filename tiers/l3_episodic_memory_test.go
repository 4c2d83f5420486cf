package tiers

import (
	"testing"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

func newTestEpisode(t *testing.T, factValidTo *time.Time) *models.Episode {
	t.Helper()
	start := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	ep, err := models.NewEpisode("ep-1", "sess-1", "discussed deployment plan", []string{"fact-1", "fact-2"},
		[]float64{0.1, 0.2, 0.3}, start, end,
		[]models.Entity{{EntityID: "ent-1", Name: "staging", Type: "environment", Confidence: 0.9}},
		[]string{"deployment"}, 0.7, start)
	if err != nil {
		t.Fatalf("unexpected error building episode: %v", err)
	}
	ep.FactValidTo = factValidTo
	return ep
}

func TestEpisodeToVectorRecordCarriesEmbeddingAndSummary(t *testing.T) {
	ep := newTestEpisode(t, nil)
	rec := episodeToVectorRecord(ep)
	if rec["id"] != ep.EpisodeID {
		t.Fatalf("expected id %s, got %v", ep.EpisodeID, rec["id"])
	}
	if rec["content"] != ep.Summary {
		t.Fatalf("expected content %s, got %v", ep.Summary, rec["content"])
	}
	vec, ok := rec["vector"].([]float64)
	if !ok || len(vec) != 3 {
		t.Fatalf("expected 3-dimensional vector field, got %v", rec["vector"])
	}
}

func TestEpisodeToGraphRecordOmitsFactValidToWhenCurrentlyValid(t *testing.T) {
	ep := newTestEpisode(t, nil)
	rec := episodeToGraphRecord(ep)
	if rec["fact_valid_to"] != nil {
		t.Fatalf("expected nil fact_valid_to for a currently-valid episode, got %v", rec["fact_valid_to"])
	}
	entities, ok := rec["entities"].([]map[string]any)
	if !ok || len(entities) != 1 {
		t.Fatalf("expected one entity map, got %v", rec["entities"])
	}
	if entities[0]["entity_id"] != "ent-1" {
		t.Fatalf("expected entity_id ent-1, got %v", entities[0]["entity_id"])
	}
}

func TestEpisodeToGraphRecordFormatsFactValidToWhenSuperseded(t *testing.T) {
	supersededAt := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	ep := newTestEpisode(t, &supersededAt)
	rec := episodeToGraphRecord(ep)
	if rec["fact_valid_to"] != supersededAt.Format(time.RFC3339Nano) {
		t.Fatalf("expected formatted fact_valid_to, got %v", rec["fact_valid_to"])
	}
}

func TestRecordToEpisodeRejectsMissingEpisodeID(t *testing.T) {
	_, err := recordToEpisode(storageRecordWithoutEpisodeID())
	if err == nil {
		t.Fatal("expected an error for a record missing episode_id")
	}
}

func storageRecordWithoutEpisodeID() map[string]any {
	return map[string]any{"session_id": "sess-1"}
}

func TestRecordToEpisodeRebuildsFromGraphRecord(t *testing.T) {
	start := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	rec := map[string]any{
		"episode_id":        "ep-1",
		"session_id":        "sess-1",
		"summary":           "discussed deployment plan",
		"vector_id":         "ep-1",
		"time_window_start": start.Format(time.RFC3339Nano),
		"time_window_end":   end.Format(time.RFC3339Nano),
		"fact_valid_from":   start.Format(time.RFC3339Nano),
		"fact_valid_to":     nil,
		"topics":            []string{"deployment"},
		"importance":        0.7,
	}

	ep, err := recordToEpisode(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.EpisodeID != "ep-1" || ep.SessionID != "sess-1" {
		t.Fatalf("unexpected identity fields: %+v", ep)
	}
	if ep.FactValidTo != nil {
		t.Fatalf("expected nil FactValidTo for a currently-valid episode, got %v", ep.FactValidTo)
	}
	if len(ep.Topics) != 1 || ep.Topics[0] != "deployment" {
		t.Fatalf("expected topics [deployment], got %v", ep.Topics)
	}
	if !ep.TimeWindowStart.Equal(start) {
		t.Fatalf("expected TimeWindowStart %v, got %v", start, ep.TimeWindowStart)
	}
}

func TestRecordToEpisodeParsesFactValidToWhenSuperseded(t *testing.T) {
	supersededAt := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	rec := map[string]any{
		"episode_id":    "ep-1",
		"fact_valid_to": supersededAt.Format(time.RFC3339Nano),
	}

	ep, err := recordToEpisode(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.FactValidTo == nil || !ep.FactValidTo.Equal(supersededAt) {
		t.Fatalf("expected FactValidTo %v, got %v", supersededAt, ep.FactValidTo)
	}
}

func TestAsStringHandlesNonStringValues(t *testing.T) {
	if got := asString("hello"); got != "hello" {
		t.Fatalf("expected hello, got %q", got)
	}
	if got := asString(42); got != "" {
		t.Fatalf("expected empty string for non-string input, got %q", got)
	}
	if got := asString(nil); got != "" {
		t.Fatalf("expected empty string for nil input, got %q", got)
	}
}

func TestAsStringSliceHandlesBothShapes(t *testing.T) {
	fromTyped := asStringSlice([]string{"a", "b"})
	if len(fromTyped) != 2 || fromTyped[0] != "a" || fromTyped[1] != "b" {
		t.Fatalf("expected [a b] from []string, got %v", fromTyped)
	}

	fromAny := asStringSlice([]any{"c", "d", 5})
	if len(fromAny) != 2 || fromAny[0] != "c" || fromAny[1] != "d" {
		t.Fatalf("expected non-string entries dropped, got %v", fromAny)
	}

	if got := asStringSlice(nil); got != nil {
		t.Fatalf("expected nil for unrecognized input, got %v", got)
	}
}
