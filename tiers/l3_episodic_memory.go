package tiers

import (
	"context"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/graph"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/kv"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/vector"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
)

// danglingVectorSetKey is the global (untagged) set of episode ids whose
// Vector point was written but whose Graph write failed and whose
// immediate rollback also failed — the Wake-Up Sweep's L3 reconciliation
// case scans this set and retries the delete.
func danglingVectorSetKey() string {
	return "memory:dangling_vector_points"
}

// EpisodicMemory is L3: a dual-indexed tier, Vector for similarity
// search and Graph for entity/temporal traversal. Store is a two-step
// upsert across both backends. A Graph-write failure after a successful
// Vector write triggers an immediate rollback of the orphaned vector
// point; if that rollback call itself fails, the episode id is recorded
// in the dangling-vector set so the Wake-Up Sweep can retry the delete
// later — eventually consistent only on the rollback's own failure, not
// on every Graph failure.
type EpisodicMemory struct {
	vector   *vector.Adapter
	graph    *graph.Adapter
	kv       *kv.Adapter
	producer *telemetry.Producer
}

// NewEpisodicMemory constructs L3.
func NewEpisodicMemory(vectorAdapter *vector.Adapter, graphAdapter *graph.Adapter, kvAdapter *kv.Adapter, producer *telemetry.Producer) *EpisodicMemory {
	return &EpisodicMemory{vector: vectorAdapter, graph: graphAdapter, kv: kvAdapter, producer: producer}
}

func episodeToVectorRecord(ep *models.Episode) storage.Record {
	embedding := make([]float64, len(ep.Embedding))
	copy(embedding, ep.Embedding)
	return storage.Record{
		"id":         ep.EpisodeID,
		"vector":     embedding,
		"content":    ep.Summary,
		"session_id": ep.SessionID,
	}
}

func episodeToGraphRecord(ep *models.Episode) storage.Record {
	entities := make([]map[string]any, 0, len(ep.Entities))
	for _, e := range ep.Entities {
		entities = append(entities, map[string]any{
			"entity_id":  e.EntityID,
			"name":       e.Name,
			"type":       e.Type,
			"confidence": e.Confidence,
		})
	}

	var factValidTo any
	if ep.FactValidTo != nil {
		factValidTo = ep.FactValidTo.Format(time.RFC3339Nano)
	}

	return storage.Record{
		"episode_id":        ep.EpisodeID,
		"session_id":        ep.SessionID,
		"summary":           ep.Summary,
		"topics":            ep.Topics,
		"vector_id":         ep.VectorID,
		"time_window_start": ep.TimeWindowStart.Format(time.RFC3339Nano),
		"time_window_end":   ep.TimeWindowEnd.Format(time.RFC3339Nano),
		"fact_valid_from":   ep.FactValidFrom.Format(time.RFC3339Nano),
		"fact_valid_to":     factValidTo,
		"importance":        ep.Importance,
		"entities":          entities,
	}
}

// recordToEpisode rebuilds an Episode from a Graph node record. The
// Graph record carries no source_fact_ids or embedding — those live
// only in the paired Vector record — so this is a partial
// reconstruction good enough for a retrieve-by-id read; it builds the
// struct directly rather than through NewEpisode since the episode was
// already validated at Store time and revalidating an empty
// source-fact list here would reject every row.
func recordToEpisode(rec storage.Record) (*models.Episode, error) {
	episodeID, _ := rec["episode_id"].(string)
	if episodeID == "" {
		return nil, memerr.Wrap(memerr.ErrDataValidation, "l3: graph record missing episode_id")
	}

	var factValidTo *time.Time
	if raw, _ := rec["fact_valid_to"].(string); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			factValidTo = &t
		}
	}

	return &models.Episode{
		EpisodeID:       episodeID,
		SessionID:       asString(rec["session_id"]),
		Summary:         asString(rec["summary"]),
		VectorID:        asString(rec["vector_id"]),
		TimeWindowStart: asTime(rec["time_window_start"]),
		TimeWindowEnd:   asTime(rec["time_window_end"]),
		FactValidFrom:   asTime(rec["fact_valid_from"]),
		FactValidTo:     factValidTo,
		Topics:          asStringSlice(rec["topics"]),
		Importance:      asFloat(rec["importance"]),
	}, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Store upserts ep into Vector (embedding + summary) then Graph
// (Episode node + Entity nodes + MENTIONS edges). If the Graph write
// fails after the Vector write succeeds, the orphaned vector point is
// deleted immediately so the dual-index invariant never observes a
// vector point with no matching graph node. If that rollback delete
// itself fails, the episode id is recorded in the dangling-vector set
// for the Wake-Up Sweep to retry.
func (m *EpisodicMemory) Store(ctx context.Context, ep *models.Episode) error {
	ep.VectorID = ep.EpisodeID

	if _, err := m.vector.Store(ctx, episodeToVectorRecord(ep)); err != nil {
		m.emit(ctx, ep.SessionID, "store_vector", false)
		return err
	}

	if _, err := m.graph.Store(ctx, episodeToGraphRecord(ep)); err != nil {
		m.emit(ctx, ep.SessionID, "store_graph", false)
		if _, delErr := m.vector.Delete(ctx, ep.EpisodeID); delErr != nil {
			if m.kv != nil {
				if markErr := m.kv.AddToSet(ctx, danglingVectorSetKey(), ep.EpisodeID); markErr != nil {
					m.emit(ctx, ep.SessionID, "mark_dangling_vector_failed", false)
				}
			}
			return memerr.Wrap(memerr.ErrTransientBackend, "l3: episode %s vector write succeeded, graph write failed, and rollback delete also failed — needs reconciliation: %v", ep.EpisodeID, err)
		}
		m.emit(ctx, ep.SessionID, "rollback_vector", true)
		return memerr.Wrap(memerr.ErrTransientBackend, "l3: episode %s graph write failed, vector point rolled back: %v", ep.EpisodeID, err)
	}

	m.emit(ctx, ep.SessionID, "store", true)
	return nil
}

// PendingReconciliation returns the episode ids whose vector rollback
// previously failed, for the Wake-Up Sweep to retry.
func (m *EpisodicMemory) PendingReconciliation(ctx context.Context) ([]string, error) {
	if m.kv == nil {
		return nil, nil
	}
	return m.kv.SetMembers(ctx, danglingVectorSetKey())
}

// ReconcileDanglingVector retries the vector-point delete for episodeID
// and, on success, clears it from the dangling-vector set. Left in the
// set on another failure so the next sweep tries again.
func (m *EpisodicMemory) ReconcileDanglingVector(ctx context.Context, episodeID string) error {
	if _, err := m.vector.Delete(ctx, episodeID); err != nil {
		return err
	}
	if m.kv == nil {
		return nil
	}
	return m.kv.RemoveFromSet(ctx, danglingVectorSetKey(), episodeID)
}

// Retrieve fetches one episode by id from Graph — the "retrieve by
// episode_id (graph)" read every tier's contract requires and scenario
// S2 asserts directly.
func (m *EpisodicMemory) Retrieve(ctx context.Context, episodeID string) (*models.Episode, error) {
	rec, err := m.graph.Retrieve(ctx, episodeID)
	if err != nil {
		m.emit(ctx, "", "retrieve", false)
		return nil, err
	}
	ep, err := recordToEpisode(rec)
	if err != nil {
		m.emit(ctx, "", "retrieve", false)
		return nil, err
	}
	m.emit(ctx, ep.SessionID, "retrieve", true)
	return ep, nil
}

// SearchSimilar runs a Vector similarity search over embedding, scoped
// to sessionID when one is given; an empty sessionID searches across
// all sessions, the shape the hybrid cross-tier query needs.
func (m *EpisodicMemory) SearchSimilar(ctx context.Context, sessionID string, embedding []float64, limit int) ([]storage.Record, error) {
	var filters map[string]any
	if sessionID != "" {
		filters = map[string]any{"session_id": sessionID}
	}
	recs, err := m.vector.Search(ctx, storage.Query{
		VectorQuery: embedding,
		Filters:     filters,
		Limit:       limit,
	})
	m.emit(ctx, sessionID, "search_similar", err == nil)
	return recs, err
}

// QueryGraph executes a registered Cypher template against Graph —
// templateName must be one of the adapter's built-in, non-free-form
// templates (e.g. "episodes_by_entity", "currently_valid_episodes",
// "episodes_valid_at").
func (m *EpisodicMemory) QueryGraph(ctx context.Context, templateName string, params map[string]any, limit int) ([]storage.Record, error) {
	recs, err := m.graph.Search(ctx, storage.Query{GraphTemplate: templateName, Filters: params, Limit: limit})
	m.emit(ctx, "", "query_graph", err == nil)
	return recs, err
}

// QueryTemporal returns episodes valid at instant t for sessionID via
// the "episodes_valid_at" template, the bi-temporal point-in-time read.
func (m *EpisodicMemory) QueryTemporal(ctx context.Context, sessionID string, t time.Time, limit int) ([]storage.Record, error) {
	return m.QueryGraph(ctx, "episodes_valid_at", map[string]any{
		"session_id": sessionID,
		"as_of":      t.Format(time.RFC3339Nano),
	}, limit)
}

func (m *EpisodicMemory) Delete(ctx context.Context, episodeID string) error {
	_, vecErr := m.vector.Delete(ctx, episodeID)
	_, graphErr := m.graph.Delete(ctx, episodeID)
	if vecErr != nil {
		return vecErr
	}
	return graphErr
}

func (m *EpisodicMemory) HealthCheck(ctx context.Context) (storage.HealthResult, storage.HealthResult) {
	return m.vector.HealthCheck(ctx), m.graph.HealthCheck(ctx)
}

func (m *EpisodicMemory) Initialize(ctx context.Context) error {
	if err := m.vector.Connect(ctx); err != nil {
		return err
	}
	return m.graph.Connect(ctx)
}

func (m *EpisodicMemory) Cleanup(ctx context.Context) error {
	if err := m.vector.Disconnect(ctx); err != nil {
		return err
	}
	return m.graph.Disconnect(ctx)
}

func (m *EpisodicMemory) emit(ctx context.Context, sessionID, operation string, success bool) {
	if m.producer == nil {
		return
	}
	m.producer.Emit(ctx, models.NewTelemetryEvent(models.EventTierAccess, sessionID, "", "l3_episodic_memory", map[string]any{
		"operation": operation,
		"success":   success,
	}))
}
