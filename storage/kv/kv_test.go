package kv

import (
	"testing"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
)

func TestMatchesFiltersEmptyFiltersAlwaysMatch(t *testing.T) {
	rec := storage.Record{"session_id": "s1"}
	if !matchesFilters(rec, nil) {
		t.Error("nil filters should match everything")
	}
}

func TestMatchesFiltersAllFieldsMustMatch(t *testing.T) {
	rec := storage.Record{"session_id": "s1", "fact_type": "event"}

	if !matchesFilters(rec, map[string]any{"session_id": "s1"}) {
		t.Error("expected single matching filter to pass")
	}
	if matchesFilters(rec, map[string]any{"session_id": "s2"}) {
		t.Error("expected mismatched filter to fail")
	}
	if matchesFilters(rec, map[string]any{"session_id": "s1", "fact_type": "preference"}) {
		t.Error("expected one mismatched field among several to fail the whole filter")
	}
}

func TestNewRejectsInvalidRedisURL(t *testing.T) {
	_, err := New("not a url \x00", 0)
	if err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}
