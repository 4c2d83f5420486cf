package engines

import (
	"testing"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
)

func TestRecordsToEpisodeSourcesExtractsIDAndContent(t *testing.T) {
	recs := []storage.Record{
		{"id": "ep-1", "content": "summary one"},
		{"id": "ep-2", "content": "summary two"},
	}
	sources := recordsToEpisodeSources(recs)
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].EpisodeID != "ep-1" || sources[0].Summary != "summary one" {
		t.Fatalf("unexpected source[0]: %+v", sources[0])
	}
}

func TestDistillationCacheKeyIsStableForSameSources(t *testing.T) {
	sources := []storage.Record{{"id": "ep-1", "content": "a"}, {"id": "ep-2", "content": "b"}}
	a := distillationCacheKey("sess-1", recordsToEpisodeSources(sources))
	b := distillationCacheKey("sess-1", recordsToEpisodeSources(sources))
	if a != b {
		t.Fatalf("expected stable cache key, got %q vs %q", a, b)
	}
}

func TestDistillationCacheKeyDiffersAcrossSessions(t *testing.T) {
	sources := recordsToEpisodeSources([]storage.Record{{"id": "ep-1", "content": "a"}})
	a := distillationCacheKey("sess-1", sources)
	b := distillationCacheKey("sess-2", sources)
	if a == b {
		t.Fatalf("expected distinct keys across sessions, both were %q", a)
	}
}

func TestDistillationRecoverInflightNoopsOnEmptyInput(t *testing.T) {
	e := NewDistillationEngine(nil, nil, nil, nil, nil, zeroLogger(), 0, 0)
	if err := e.RecoverInflight(nil, "sess-1", nil); err != nil {
		t.Fatalf("expected no error for empty stale keys, got %v", err)
	}
}

func TestDistillationInflightKeyIsScopedPerSession(t *testing.T) {
	a := distillationInflightKey("sess-1")
	b := distillationInflightKey("sess-2")
	if a == b {
		t.Fatalf("expected distinct keys per session, both were %q", a)
	}
}

func TestNewDistillationEngineAppliesDefaults(t *testing.T) {
	e := NewDistillationEngine(nil, nil, nil, nil, nil, zeroLogger(), 0, 0)
	if e.threshold != 5 {
		t.Fatalf("expected default episode threshold 5, got %d", e.threshold)
	}
	if e.cacheTTL != time.Hour {
		t.Fatalf("expected default cache ttl 1h, got %v", e.cacheTTL)
	}
}
