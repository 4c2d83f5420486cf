package tiers

import (
	"testing"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

func newTestKnowledgeDocument(t *testing.T) *models.KnowledgeDocument {
	t.Helper()
	doc, err := models.NewKnowledgeDocument("know-1", "Deployment runbook", "roll forward, never rollback",
		models.KnowledgeRule, "operational", []string{"deployment", "runbook"}, "engineering",
		[]string{"ep-1", "ep-2"}, 0.85, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error building document: %v", err)
	}
	return doc
}

func TestKnowledgeToRecordRoundTripsThroughRecordToKnowledge(t *testing.T) {
	doc := newTestKnowledgeDocument(t)
	rec := knowledgeToRecord(doc)

	// Simulate the JSON round trip through the FullText adapter: tags
	// and source_episode_ids come back as []any, not []string.
	rec["tags"] = anySlice(doc.TagList())
	rec["source_episode_ids"] = anySlice(doc.SourceEpisodeIDs)
	rec["provenance_links"] = anySlice(doc.ProvenanceLinks)

	got, err := recordToKnowledge(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.KnowledgeID != doc.KnowledgeID || got.Title != doc.Title || got.KnowledgeType != doc.KnowledgeType {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, doc)
	}
	if len(got.SourceEpisodeIDs) != 2 {
		t.Fatalf("expected 2 source_episode_ids, got %d", len(got.SourceEpisodeIDs))
	}
}

func TestToStringSliceHandlesAnySliceAndStringSlice(t *testing.T) {
	if got := toStringSlice(anySlice([]string{"a", "b"})); len(got) != 2 {
		t.Fatalf("expected 2 elements from []any, got %v", got)
	}
	if got := toStringSlice([]string{"a", "b"}); len(got) != 2 {
		t.Fatalf("expected 2 elements from []string, got %v", got)
	}
	if got := toStringSlice(nil); got != nil {
		t.Fatalf("expected nil for nil input, got %v", got)
	}
}

func anySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
