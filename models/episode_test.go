package models

import (
	"testing"
	"time"
)

func TestNewEpisodeRejectsEmptySourceFacts(t *testing.T) {
	now := time.Now()
	_, err := NewEpisode("e1", "s1", "summary", nil, []float64{0.1, 0.2}, now, now.Add(time.Hour), nil, nil, 0.5, now)
	if err == nil {
		t.Fatal("expected error for empty source_fact_ids")
	}
}

func TestNewEpisodeRejectsInvertedWindow(t *testing.T) {
	now := time.Now()
	_, err := NewEpisode("e1", "s1", "summary", []string{"f1"}, nil, now, now.Add(-time.Hour), nil, nil, 0.5, now)
	if err == nil {
		t.Fatal("expected error for time_window_end before time_window_start")
	}
}

func TestEpisodeValidAtNullFactValidTo(t *testing.T) {
	now := time.Now()
	ep, err := NewEpisode("e1", "s1", "summary", []string{"f1"}, nil, now, now.Add(time.Hour), nil, nil, 0.5, now)
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}

	if !ep.ValidAt(now.Add(48 * time.Hour)) {
		t.Error("episode with nil FactValidTo should remain valid far in the future")
	}
	if ep.ValidAt(now.Add(-time.Hour)) {
		t.Error("episode should not be valid before fact_valid_from")
	}
}

func TestEpisodeValidAtBoundedWindow(t *testing.T) {
	now := time.Now()
	ep, err := NewEpisode("e1", "s1", "summary", []string{"f1"}, nil, now, now.Add(time.Hour), nil, nil, 0.5, now)
	if err != nil {
		t.Fatalf("NewEpisode: %v", err)
	}
	expiry := now.Add(2 * time.Hour)
	ep.FactValidTo = &expiry

	if !ep.ValidAt(now.Add(time.Hour)) {
		t.Error("episode should be valid before fact_valid_to")
	}
	if ep.ValidAt(now.Add(3 * time.Hour)) {
		t.Error("episode should not be valid after fact_valid_to")
	}
}
