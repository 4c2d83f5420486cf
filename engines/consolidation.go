package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/llmclient"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/namespace"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/kv"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/tiers"
)

var episodeSummarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string"},
		"topics": {"type": "array", "items": {"type": "string"}},
		"entities": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"entity_id": {"type": "string"},
					"name": {"type": "string"},
					"type": {"type": "string"},
					"confidence": {"type": "number"}
				},
				"required": ["name", "type", "confidence"]
			}
		},
		"importance": {"type": "number"}
	},
	"required": ["summary", "topics", "entities", "importance"]
}`)

type episodeSummaryResponse struct {
	Summary  string   `json:"summary"`
	Topics   []string `json:"topics"`
	Entities []struct {
		EntityID   string  `json:"entity_id"`
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	Importance float64 `json:"importance"`
}

func consolidatedSetKey(sessionID string) string {
	return namespace.Session(sessionID) + ":consolidated_facts"
}

func consolidationInflightKey(sessionID string) string {
	return namespace.Session(sessionID) + ":consolidation_inflight"
}

// ConsolidationEngine clusters recent L2 facts into a dual-indexed L3
// Episode, per spec §4.4.2. Clustering uses time-window bucketing only
// (the minimal required strategy; per SPEC_FULL §9 embedding
// sub-clustering is an unexercised open option in the source and is not
// implemented here).
type ConsolidationEngine struct {
	l2             *tiers.WorkingMemory
	l3             *tiers.EpisodicMemory
	client         *llmclient.Client
	kv             *kv.Adapter
	producer       *telemetry.Producer
	logger         zerolog.Logger
	pressureThresh int
	windowDuration time.Duration
}

// NewConsolidationEngine constructs the Consolidation engine.
// pressureThreshold defaults to 50, windowDuration to 24h, per spec.
func NewConsolidationEngine(l2 *tiers.WorkingMemory, l3 *tiers.EpisodicMemory, client *llmclient.Client, kvAdapter *kv.Adapter,
	producer *telemetry.Producer, logger zerolog.Logger, pressureThreshold int, windowDuration time.Duration) *ConsolidationEngine {
	if pressureThreshold <= 0 {
		pressureThreshold = 50
	}
	if windowDuration <= 0 {
		windowDuration = 24 * time.Hour
	}
	return &ConsolidationEngine{
		l2: l2, l3: l3, client: client, kv: kvAdapter, producer: producer,
		logger: logger.With().Str("component", "consolidation_engine").Logger(),
		pressureThresh: pressureThreshold, windowDuration: windowDuration,
	}
}

// RunCycle loads sessionID's unconsolidated facts within the current
// time window, clusters them into one episode, dual-indexes it, and
// marks the source facts consolidated. Idempotent: rerunning with the
// same facts already marked consolidated is a no-op (they are excluded
// from the next load), satisfying the "running consolidation twice
// produces exactly one episode" property.
func (e *ConsolidationEngine) RunCycle(ctx context.Context, sessionID string) (CycleResult, error) {
	var result CycleResult

	facts, err := e.loadUnconsolidatedFacts(ctx, sessionID)
	if err != nil {
		return result, err
	}
	if len(facts) == 0 {
		return result, nil
	}

	factIDs := make([]string, len(facts))
	for i, f := range facts {
		factIDs[i] = f.FactID
	}

	if err := e.kv.AddToSet(ctx, consolidationInflightKey(sessionID), factIDs...); err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to mark facts in-flight, a crash mid-cycle would go unrecovered")
	}
	defer e.kv.RemoveFromSet(ctx, consolidationInflightKey(sessionID), factIDs...)

	e.emit(ctx, sessionID, models.EventConsolidationStarted, map[string]any{"fact_count": len(facts)})

	windowStart, windowEnd := factWindow(facts)

	embedding, err := e.client.Embed(ctx, concatenateFactContents(facts))
	if err != nil {
		result.Failed = len(facts)
		e.emit(ctx, sessionID, models.EventConsolidationCompleted, map[string]any{"error": err.Error(), "stage": "embedding"})
		return result, nil
	}

	summary, topics, entities, importance, err := e.summarize(ctx, facts)
	if err != nil {
		result.Failed = len(facts)
		e.emit(ctx, sessionID, models.EventConsolidationCompleted, map[string]any{"error": err.Error(), "stage": "summarization"})
		return result, nil
	}

	episode, err := models.NewEpisode(uuid.NewString(), sessionID, summary, factIDs, embedding,
		windowStart, windowEnd, entities, topics, importance, time.Now().UTC())
	if err != nil {
		result.Failed = len(facts)
		return result, err
	}

	e.emit(ctx, sessionID, models.EventFactsClustered, map[string]any{"episode_id": episode.EpisodeID, "source_fact_ids": factIDs})

	if err := e.l3.Store(ctx, episode); err != nil {
		result.Failed = len(facts)
		e.emit(ctx, sessionID, models.EventConsolidationCompleted, map[string]any{"error": err.Error(), "stage": "store"})
		return result, nil
	}

	e.emit(ctx, sessionID, models.EventEpisodeCreated, map[string]any{"episode_id": episode.EpisodeID})

	if err := e.kv.AddToSet(ctx, consolidatedSetKey(sessionID), factIDs...); err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to mark facts consolidated, next cycle may reprocess them")
	}

	result.Succeeded = len(facts)
	e.emit(ctx, sessionID, models.EventConsolidationCompleted, map[string]any{"episode_id": episode.EpisodeID, "fact_count": len(facts)})
	return result, nil
}

// loadUnconsolidatedFacts queries L2 for sessionID's facts created within
// the last windowDuration and excludes any already recorded in the
// session's consolidated-facts set.
func (e *ConsolidationEngine) loadUnconsolidatedFacts(ctx context.Context, sessionID string) ([]*models.Fact, error) {
	consolidated, err := e.kv.SetMembers(ctx, consolidatedSetKey(sessionID))
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(consolidated))
	for _, id := range consolidated {
		done[id] = struct{}{}
	}

	facts, err := e.l2.Query(ctx, storage.Query{Filters: map[string]any{"session_id": sessionID}, Limit: 10000}, 0)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-e.windowDuration)
	out := make([]*models.Fact, 0, len(facts))
	for _, f := range facts {
		if f.CreatedAt.Before(cutoff) {
			continue
		}
		if _, ok := done[f.FactID]; ok {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func factWindow(facts []*models.Fact) (start, end time.Time) {
	start, end = facts[0].CreatedAt, facts[0].CreatedAt
	for _, f := range facts {
		if f.CreatedAt.Before(start) {
			start = f.CreatedAt
		}
		if f.CreatedAt.After(end) {
			end = f.CreatedAt
		}
	}
	return start, end
}

func concatenateFactContents(facts []*models.Fact) string {
	contents := make([]string, len(facts))
	for i, f := range facts {
		contents[i] = f.Content
	}
	return strings.Join(contents, "\n")
}

func (e *ConsolidationEngine) summarize(ctx context.Context, facts []*models.Fact) (summary string, topics []string, entities []models.Entity, importance float64, err error) {
	var sb strings.Builder
	sb.WriteString("Facts to consolidate into one episode summary:\n")
	for _, f := range facts {
		fmt.Fprintf(&sb, "- (%s) %s\n", f.FactType, f.Content)
	}

	result, err := e.client.Call(ctx, llmclient.TaskEpisodeSummary, sb.String(),
		llmclient.WithSystem("You summarize a cluster of memory facts into one episode for a long-term memory system. Respond only with the requested JSON."),
		llmclient.WithSchema(episodeSummarySchema))
	if err != nil {
		return "", nil, nil, 0, err
	}

	var parsed episodeSummaryResponse
	if err := json.Unmarshal(result.Object, &parsed); err != nil {
		return "", nil, nil, 0, memerr.Wrap(memerr.ErrLLMParse, "consolidation: unmarshal response: %v", err)
	}

	ents := make([]models.Entity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		entityID := e.EntityID
		if entityID == "" {
			entityID = uuid.NewString()
		}
		ents = append(ents, models.Entity{EntityID: entityID, Name: e.Name, Type: e.Type, Confidence: clamp01(e.Confidence)})
	}

	return parsed.Summary, parsed.Topics, ents, clamp01(parsed.Importance), nil
}

func (e *ConsolidationEngine) emit(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if e.producer == nil {
		return
	}
	e.producer.Emit(ctx, models.NewTelemetryEvent(eventType, sessionID, "consolidation", "", payload))
}

// InflightIDs returns the fact ids currently marked in-flight for
// sessionID, for the Wake-Up Sweep to inspect.
func (e *ConsolidationEngine) InflightIDs(ctx context.Context, sessionID string) ([]string, error) {
	return e.kv.SetMembers(ctx, consolidationInflightKey(sessionID))
}

// RecoverInflight is Consolidation's Wake-Up Sweep case: fact ids left
// in a session's in-flight set by a crash mid-cycle (after being read
// but before the episode write or the consolidated-set update
// completed) are cleared. They were never added to the consolidated
// set, so loadUnconsolidatedFacts picks them up again on its own —
// this only drops the stale in-flight marker so it stops shadowing
// them as "already being worked on".
func (e *ConsolidationEngine) RecoverInflight(ctx context.Context, sessionID string, staleFactIDs []string) error {
	if len(staleFactIDs) == 0 {
		return nil
	}
	return e.kv.RemoveFromSet(ctx, consolidationInflightKey(sessionID), staleFactIDs...)
}
