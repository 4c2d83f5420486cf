package engines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/namespace"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/kv"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/tiers"
)

const distillationCacheTTL = time.Hour

func distillationInflightKey(sessionID string) string {
	return namespace.Session(sessionID) + ":distillation_inflight"
}

// DistillationEngine synthesizes clusters of L3 episodes into L4
// KnowledgeDocuments, per spec §4.4.3.
type DistillationEngine struct {
	l3        *tiers.EpisodicMemory
	l4        *tiers.SemanticMemory
	synth     *KnowledgeSynthesizer
	kv        *kv.Adapter
	producer  *telemetry.Producer
	logger    zerolog.Logger
	threshold int
	cacheTTL  time.Duration
}

// NewDistillationEngine constructs the Distillation engine.
// episodeThreshold defaults to 5, cacheTTL to 1h, per spec.
func NewDistillationEngine(l3 *tiers.EpisodicMemory, l4 *tiers.SemanticMemory, synth *KnowledgeSynthesizer, kvAdapter *kv.Adapter,
	producer *telemetry.Producer, logger zerolog.Logger, episodeThreshold int, cacheTTL time.Duration) *DistillationEngine {
	if episodeThreshold <= 0 {
		episodeThreshold = 5
	}
	if cacheTTL <= 0 {
		cacheTTL = distillationCacheTTL
	}
	return &DistillationEngine{
		l3: l3, l4: l4, synth: synth, kv: kvAdapter, producer: producer,
		logger:    logger.With().Str("component", "distillation_engine").Logger(),
		threshold: episodeThreshold,
		cacheTTL:  cacheTTL,
	}
}

// RunCycle synthesizes knowledge from the episodes most similar to
// seedEmbedding within sessionID — the vector k-NN candidate-retrieval
// path. RunCycleForDomain is the other retrieval path spec §4.4.3
// allows: grouping currently-valid episodes by session via Graph
// instead of by embedding similarity.
func (e *DistillationEngine) RunCycle(ctx context.Context, sessionID string, seedEmbedding []float64, domain string) (CycleResult, error) {
	recs, err := e.l3.SearchSimilar(ctx, sessionID, seedEmbedding, e.threshold)
	if err != nil {
		return CycleResult{}, err
	}
	return e.synthesizeFromCandidates(ctx, sessionID, domain, recs)
}

// RunCycleForDomain retrieves candidate episodes via the Graph's
// currently_valid_episodes template for sessionID (the domain-tag
// grouping path) rather than vector similarity, then synthesizes
// exactly as RunCycle does.
func (e *DistillationEngine) RunCycleForDomain(ctx context.Context, sessionID, domain string) (CycleResult, error) {
	recs, err := e.l3.QueryGraph(ctx, "currently_valid_episodes", map[string]any{"session_id": sessionID}, e.threshold)
	if err != nil {
		return CycleResult{}, err
	}
	return e.synthesizeFromCandidates(ctx, sessionID, domain, recs)
}

func (e *DistillationEngine) synthesizeFromCandidates(ctx context.Context, sessionID, domain string, recs []storage.Record) (CycleResult, error) {
	var result CycleResult
	if len(recs) == 0 {
		return result, nil
	}

	sources := recordsToEpisodeSources(recs)
	cacheKey := distillationCacheKey(sessionID, sources)

	if cached, ok := e.lookupCache(ctx, cacheKey); ok {
		result.Succeeded = len(sources)
		e.emit(ctx, sessionID, models.EventDistillationCompleted, map[string]any{"knowledge_id": cached, "cache_hit": true})
		return result, nil
	}

	if err := e.kv.AddToSet(ctx, distillationInflightKey(sessionID), cacheKey); err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to mark distillation work in-flight, a crash mid-cycle would go unrecovered")
	}
	defer e.kv.RemoveFromSet(ctx, distillationInflightKey(sessionID), cacheKey)

	e.emit(ctx, sessionID, models.EventDistillationStarted, map[string]any{"episode_count": len(sources), "domain": domain})

	title, content, knowledgeType, category, tags, confidence, fellBack, err := e.synth.Synthesize(ctx, domain, sources)
	if err != nil {
		result.Failed = len(sources)
		e.emit(ctx, sessionID, models.EventDistillationCompleted, map[string]any{"error": err.Error(), "stage": "synthesis"})
		return result, nil
	}

	sourceEpisodeIDs := make([]string, len(sources))
	for i, src := range sources {
		sourceEpisodeIDs[i] = src.EpisodeID
	}

	conflicts, err := e.detectConflicts(ctx, category, tags, title)
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("conflict detection failed, proceeding without surfacing conflicts")
	}

	doc, err := models.NewKnowledgeDocument(uuid.NewString(), title, content, models.KnowledgeType(knowledgeType), category,
		tags, domain, sourceEpisodeIDs, confidence, time.Now().UTC())
	if err != nil {
		result.Failed = len(sources)
		return result, err
	}

	knowledgeID, err := e.l4.Store(ctx, doc)
	if err != nil {
		result.Failed = len(sources)
		e.emit(ctx, sessionID, models.EventDistillationCompleted, map[string]any{"error": err.Error(), "stage": "store"})
		return result, nil
	}

	e.cacheResult(ctx, cacheKey, knowledgeID)

	result.Succeeded = len(sources)
	e.emit(ctx, sessionID, models.EventKnowledgeCreated, map[string]any{
		"knowledge_id": knowledgeID, "fallback": fellBack, "conflicts": conflicts,
	})
	e.emit(ctx, sessionID, models.EventDistillationCompleted, map[string]any{"knowledge_id": knowledgeID, "fact_count": len(sources)})
	return result, nil
}

// detectConflicts runs an L4 full-text search for title within the same
// category and returns the matching knowledge_ids as candidate
// conflicts. Tags and confidence scores are not compared. Per
// spec, conflicts are surfaced via telemetry rather than suppressed or
// auto-merged — resolution is left to a downstream consumer.
func (e *DistillationEngine) detectConflicts(ctx context.Context, category string, tags []string, title string) ([]string, error) {
	existing, err := e.l4.Search(ctx, title, map[string]any{"category": category}, 0, 10)
	if err != nil {
		return nil, err
	}
	conflicts := make([]string, 0, len(existing))
	for _, doc := range existing {
		conflicts = append(conflicts, doc.KnowledgeID)
	}
	return conflicts, nil
}

// recordsToEpisodeSources accepts candidates from either retrieval
// path: Vector records key content under "id"/"content", Graph records
// (one plain node-property copy) key it under "episode_id"/"summary".
func recordsToEpisodeSources(recs []storage.Record) []episodeSource {
	out := make([]episodeSource, 0, len(recs))
	for _, rec := range recs {
		id, _ := rec["id"].(string)
		if id == "" {
			id, _ = rec["episode_id"].(string)
		}
		content, _ := rec["content"].(string)
		if content == "" {
			content, _ = rec["summary"].(string)
		}
		out = append(out, episodeSource{EpisodeID: id, Summary: content})
	}
	return out
}

func distillationCacheKey(sessionID string, sources []episodeSource) string {
	ids := make([]string, len(sources))
	for i, src := range sources {
		ids[i] = src.EpisodeID
	}
	return namespace.DistillationCacheKey(fmt.Sprintf("%s:%s", sessionID, strings.Join(ids, ",")))
}

func (e *DistillationEngine) lookupCache(ctx context.Context, cacheKey string) (string, bool) {
	rec, err := e.kv.Retrieve(ctx, cacheKey)
	if err != nil {
		return "", false
	}
	knowledgeID, _ := rec["knowledge_id"].(string)
	if knowledgeID == "" {
		return "", false
	}
	return knowledgeID, true
}

func (e *DistillationEngine) cacheResult(ctx context.Context, cacheKey, knowledgeID string) {
	if _, err := e.kv.StoreWithTTL(ctx, storage.Record{"id": cacheKey, "knowledge_id": knowledgeID}, e.cacheTTL); err != nil {
		e.logger.Warn().Err(err).Msg("failed to cache distillation result")
	}
}

func (e *DistillationEngine) emit(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if e.producer == nil {
		return
	}
	e.producer.Emit(ctx, models.NewTelemetryEvent(eventType, sessionID, "distillation", "", payload))
}

// InflightIDs returns the cache keys currently marked in-flight for
// sessionID, for the Wake-Up Sweep to inspect.
func (e *DistillationEngine) InflightIDs(ctx context.Context, sessionID string) ([]string, error) {
	return e.kv.SetMembers(ctx, distillationInflightKey(sessionID))
}

// RecoverInflight is Distillation's Wake-Up Sweep case: cache keys left
// in a session's in-flight set by a crash between synthesis and the
// cache write (or the L4 store and the cache write) are cleared so the
// next cycle for the same candidate set retries rather than sitting
// permanently marked as in-progress. A retry that re-synthesizes a
// document already stored surfaces as a detectConflicts hit on the
// next run rather than silently duplicating.
func (e *DistillationEngine) RecoverInflight(ctx context.Context, sessionID string, staleCacheKeys []string) error {
	if len(staleCacheKeys) == 0 {
		return nil
	}
	return e.kv.RemoveFromSet(ctx, distillationInflightKey(sessionID), staleCacheKeys...)
}
