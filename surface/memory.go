// Package surface implements the Unified Memory Surface: one facade
// struct, analogous to the teacher's main.go top-level wiring (config
// → logger → redis → providers → router, here: config → logger →
// adapters → tiers → engines → telemetry), that owns every tier and
// engine instance and exposes the substrate's single external API —
// ingest, hybrid query, context-block assembly, explicit lifecycle
// triggers, and tier-agnostic storage.
package surface

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/config"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/engines"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/llmclient"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/tiers"
)

// storeMemoryAutoThreshold is the spec's fixed content-length cutoff
// for store_memory's tier="auto" routing decision.
const storeMemoryAutoThreshold = 200

// Memory is the facade every caller outside this module talks to.
type Memory struct {
	l1 *tiers.ActiveContext
	l2 *tiers.WorkingMemory
	l3 *tiers.EpisodicMemory
	l4 *tiers.SemanticMemory

	promotion     *engines.PromotionEngine
	consolidation *engines.ConsolidationEngine
	distillation  *engines.DistillationEngine

	llmClient *llmclient.Client

	cfg    *config.Config
	logger zerolog.Logger
}

// New constructs the facade over already-connected tiers and engines.
// Wiring adapters and calling their constructors is the caller's
// responsibility (mirroring the teacher's main.go, which builds every
// dependency explicitly rather than hiding it behind a DI container).
func New(l1 *tiers.ActiveContext, l2 *tiers.WorkingMemory, l3 *tiers.EpisodicMemory, l4 *tiers.SemanticMemory,
	promotion *engines.PromotionEngine, consolidation *engines.ConsolidationEngine, distillation *engines.DistillationEngine,
	llmClient *llmclient.Client, cfg *config.Config, logger zerolog.Logger) *Memory {
	return &Memory{
		l1: l1, l2: l2, l3: l3, l4: l4,
		promotion: promotion, consolidation: consolidation, distillation: distillation,
		llmClient: llmClient,
		cfg:       cfg,
		logger:    logger.With().Str("component", "memory_surface").Logger(),
	}
}

// Ingest delegates to L1.Store — the sole entry point for new turns.
func (m *Memory) Ingest(ctx context.Context, turn *models.Turn) error {
	return m.l1.Store(ctx, turn)
}

// ScoredResult is one row of query_memory's merged, per-tier-normalized
// result set.
type ScoredResult struct {
	Content  string
	Tier     string
	Score    float64
	Metadata map[string]any
}

// QueryMemory runs a hybrid cross-tier search: L2/L3/L4 are queried in
// parallel in spirit (sequentially here, since each call is already
// backend-bound and independent), each tier's raw scores are min-max
// normalized to [0,1] in isolation, weighted by weights.Normalized(),
// and merged into one ranked list capped at limit.
func (m *Memory) QueryMemory(ctx context.Context, queryText string, limit int, weights models.SearchWeights) ([]ScoredResult, error) {
	w := weights.Normalized()

	l2Results, err := m.queryL2(ctx, queryText)
	if err != nil {
		m.logger.Warn().Err(err).Msg("l2 query failed, continuing with remaining tiers")
	}
	l3Results, err := m.queryL3(ctx, queryText)
	if err != nil {
		m.logger.Warn().Err(err).Msg("l3 query failed, continuing with remaining tiers")
	}
	l4Results, err := m.queryL4(ctx, queryText)
	if err != nil {
		m.logger.Warn().Err(err).Msg("l4 query failed, continuing with remaining tiers")
	}

	merged := make([]ScoredResult, 0, len(l2Results)+len(l3Results)+len(l4Results))
	merged = append(merged, normalizeAndWeight(l2Results, "L2", w.L2Weight)...)
	merged = append(merged, normalizeAndWeight(l3Results, "L3", w.L3Weight)...)
	merged = append(merged, normalizeAndWeight(l4Results, "L4", w.L4Weight)...)

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (m *Memory) queryL2(ctx context.Context, queryText string) ([]ScoredResult, error) {
	facts, err := m.l2.Query(ctx, storage.Query{Text: queryText, Limit: 50}, 0)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredResult, len(facts))
	for i, f := range facts {
		out[i] = ScoredResult{Content: f.Content, Tier: "L2", Score: f.CIARScore, Metadata: map[string]any{"fact_id": f.FactID}}
	}
	return out, nil
}

// queryL3 is L3's contribution to the hybrid query: vector similarity
// over episode embeddings, not a graph traversal. queryText is embedded
// through the same LLM client every engine uses, then fanned out
// through SearchSimilar; the vector backend's own distance metric is
// surfaced as the per-result score and normalized alongside L2/L4 by
// normalizeAndWeight.
func (m *Memory) queryL3(ctx context.Context, queryText string) ([]ScoredResult, error) {
	if queryText == "" {
		return nil, nil
	}
	embedding, err := m.llmClient.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	recs, err := m.l3.SearchSimilar(ctx, "", embedding, 50)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredResult, 0, len(recs))
	for _, rec := range recs {
		summary, _ := rec["content"].(string)
		score, _ := rec["score"].(float64)
		episodeID, _ := rec["id"].(string)
		out = append(out, ScoredResult{Content: summary, Tier: "L3", Score: score, Metadata: map[string]any{"episode_id": episodeID}})
	}
	return out, nil
}

func (m *Memory) queryL4(ctx context.Context, queryText string) ([]ScoredResult, error) {
	docs, err := m.l4.Search(ctx, queryText, nil, 0, 50)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredResult, len(docs))
	for i, d := range docs {
		out[i] = ScoredResult{Content: d.Content, Tier: "L4", Score: d.ConfidenceScore, Metadata: map[string]any{"knowledge_id": d.KnowledgeID}}
	}
	return out, nil
}

// normalizeAndWeight min-max normalizes results' scores within the tier
// (in isolation, per tier, as the spec requires) then multiplies by
// weight — so a tier's raw contribution can never exceed its weight.
func normalizeAndWeight(results []ScoredResult, tier string, weight float64) []ScoredResult {
	if len(results) == 0 {
		return nil
	}
	minScore, maxScore := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < minScore {
			minScore = r.Score
		}
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	spread := maxScore - minScore

	out := make([]ScoredResult, len(results))
	for i, r := range results {
		normalized := 1.0
		if spread > 0 {
			normalized = (r.Score - minScore) / spread
		}
		out[i] = ScoredResult{Content: r.Content, Tier: tier, Score: normalized * weight, Metadata: r.Metadata}
	}
	return out
}

// GetContextBlock assembles a prompt-ready ContextBlock from sessionID's
// last maxTurns L1 turns and up to maxFacts L2 facts with
// ciar_score >= minCIAR.
func (m *Memory) GetContextBlock(ctx context.Context, sessionID string, minCIAR float64, maxTurns, maxFacts int) (*models.ContextBlock, error) {
	turns, err := m.l1.Retrieve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	facts, err := m.l2.Query(ctx, storage.Query{Filters: map[string]any{"session_id": sessionID}, Limit: 1000}, minCIAR)
	if err != nil {
		return nil, err
	}
	if maxFacts > 0 && len(facts) > maxFacts {
		facts = facts[:maxFacts]
	}

	return models.NewContextBlock(turns, facts, renderContextText(turns, facts)), nil
}

func renderContextText(turns []*models.Turn, facts []*models.Fact) string {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	if len(facts) > 0 {
		sb.WriteString("Known facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&sb, "- %s\n", f.Content)
		}
	}
	return sb.String()
}

// RunPromotionCycle, RunConsolidationCycle, RunDistillationCycle are the
// facade's explicit lifecycle triggers — they bypass whatever idle-time
// or pressure-valve thresholds would normally gate a cycle.
func (m *Memory) RunPromotionCycle(ctx context.Context, sessionID string) (engines.CycleResult, error) {
	return m.promotion.RunCycle(ctx, sessionID)
}

func (m *Memory) RunConsolidationCycle(ctx context.Context, sessionID string) (engines.CycleResult, error) {
	if !m.cfg.EnableConsolidation {
		return engines.CycleResult{}, nil
	}
	return m.consolidation.RunCycle(ctx, sessionID)
}

func (m *Memory) RunDistillationCycle(ctx context.Context, sessionID string, seedEmbedding []float64, domain string) (engines.CycleResult, error) {
	if !m.cfg.EnableDistillation {
		return engines.CycleResult{}, nil
	}
	return m.distillation.RunCycle(ctx, sessionID, seedEmbedding, domain)
}

// StoreMemory stores content directly into tier L1, or, for
// tier == "auto", picks L1 for content under storeMemoryAutoThreshold
// characters and otherwise stores it as an L1 turn and immediately runs
// a Promotion cycle so it's eagerly considered for L2 rather than
// waiting on the idle-window trigger — "auto" never writes to L2
// directly since only Promotion assigns a CIAR score. tier == "L2" is
// rejected for the same reason.
func (m *Memory) StoreMemory(ctx context.Context, sessionID, content string, tier string, metadata map[string]any) error {
	switch tier {
	case "L1", "auto":
		turn, err := models.NewTurn(sessionID, uuid.NewString(), models.RoleUser, content, metadata, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := m.l1.Store(ctx, turn); err != nil {
			return err
		}
		if tier == "auto" && len(content) >= storeMemoryAutoThreshold {
			if _, err := m.RunPromotionCycle(ctx, sessionID); err != nil {
				m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("store_memory: eager promotion cycle failed, content remains queued for the next cycle")
			}
		}
		return nil
	case "L2":
		return memerr.Wrap(memerr.ErrDataValidation, "surface: store_memory tier=L2 requires a CIAR-scored Fact; use the Promotion engine instead of direct L2 writes")
	default:
		return memerr.Wrap(memerr.ErrDataValidation, "surface: store_memory: unknown tier %q", tier)
	}
}
