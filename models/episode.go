package models

import (
	"fmt"
	"time"
)

// Entity is a named thing mentioned within an Episode, cross-indexed as
// a graph node with a MENTIONS edge back to the episode.
type Entity struct {
	EntityID   string
	Name       string
	Type       string
	Confidence float64
}

// Episode is one L3 episodic-memory entry: a dual-indexed (Vector +
// Graph) summary of a cluster of Facts, bi-temporally scoped.
type Episode struct {
	EpisodeID       string
	SessionID       string
	Summary         string
	SourceFactIDs   []string
	FactCount       int
	Embedding       []float64
	TimeWindowStart time.Time
	TimeWindowEnd   time.Time
	FactValidFrom   time.Time
	FactValidTo     *time.Time // nil means "currently valid"
	Entities        []Entity
	Topics          []string
	Importance      float64
	AccessCount     int64
	CreatedAt       time.Time

	// VectorID is the Vector store's key for this episode's embedding.
	// Invariant: the pair (VectorID, EpisodeID) is consistent or both
	// are deleted together.
	VectorID string
}

// NewEpisode validates and constructs an Episode. sourceFactIDs must be
// non-empty: every source_fact_id must resolve to a Fact at creation
// time, enforced by the caller before invoking this constructor.
func NewEpisode(episodeID, sessionID, summary string, sourceFactIDs []string, embedding []float64,
	windowStart, windowEnd time.Time, entities []Entity, topics []string, importance float64,
	createdAt time.Time) (*Episode, error) {

	if episodeID == "" {
		return nil, fmt.Errorf("models: episode requires episode_id")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("models: episode requires session_id")
	}
	if summary == "" {
		return nil, fmt.Errorf("models: episode requires summary")
	}
	if len(sourceFactIDs) == 0 {
		return nil, fmt.Errorf("models: episode requires at least one source_fact_id")
	}
	if windowEnd.Before(windowStart) {
		return nil, fmt.Errorf("models: episode time_window_end before time_window_start")
	}
	if importance < 0 || importance > 1 {
		return nil, fmt.Errorf("models: importance %v out of [0,1]", importance)
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &Episode{
		EpisodeID:       episodeID,
		SessionID:       sessionID,
		Summary:         summary,
		SourceFactIDs:   sourceFactIDs,
		FactCount:       len(sourceFactIDs),
		Embedding:       embedding,
		TimeWindowStart: windowStart,
		TimeWindowEnd:   windowEnd,
		FactValidFrom:   windowStart,
		FactValidTo:     nil,
		Entities:        entities,
		Topics:          topics,
		Importance:      importance,
		CreatedAt:       createdAt,
	}, nil
}

// ValidAt reports whether the episode's fact snapshot was valid at t:
// fact_valid_from <= t AND (fact_valid_to IS NULL OR fact_valid_to > t).
func (e *Episode) ValidAt(t time.Time) bool {
	if t.Before(e.FactValidFrom) {
		return false
	}
	return e.FactValidTo == nil || t.Before(*e.FactValidTo)
}
