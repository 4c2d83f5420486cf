package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/ciar"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/config"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/engines"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/llmclient"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/logger"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/namespace"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/skills"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/fulltext"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/graph"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/kv"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/relational"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/vector"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/surface"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/tiers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Env)

	log.Info().Str("env", cfg.Env).Msg("memory substrate starting")

	ctx := context.Background()

	kvAdapter, err := kv.New(cfg.RedisURL, 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("kv adapter init failed")
	}
	if err := kvAdapter.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("kv adapter connect failed")
	}

	// L1/L2 write through to Relational unconditionally — it's their cold
	// store, not an optional add-on — so the adapter is always
	// constructed. EnableRelationalBackup is not read by this binary or by
	// the Wake-Up Sweep.
	relAdapter, err := relational.New(cfg.PostgresURL, "turns", 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("relational adapter init failed")
	}
	if err := relAdapter.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("relational adapter connect failed")
	}

	vectorAdapter, err := vector.New(cfg.VectorDBPath, cfg.EmbeddingDim)
	if err != nil {
		log.Fatal().Err(err).Msg("vector adapter init failed")
	}
	if err := vectorAdapter.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("vector adapter connect failed")
	}

	graphAdapter, err := graph.New(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("graph adapter init failed")
	}
	if err := graphAdapter.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("graph adapter connect failed")
	}

	ftAdapter, err := fulltext.New([]string{cfg.OpenSearchURL}, "", "", "knowledge", 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Msg("fulltext adapter init failed")
	}
	if err := ftAdapter.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("fulltext adapter connect failed")
	}

	producer := telemetry.NewProducer(kvAdapter.Client(), cfg.TelemetryStreamMaxLen, log)

	l1 := tiers.NewActiveContext(kvAdapter, relAdapter, producer, cfg.L1WindowSize, cfg.L1TTL)
	l2 := tiers.NewWorkingMemory(relAdapter, producer, cfg.PromotionThreshold, cfg.L2TTL)
	l3 := tiers.NewEpisodicMemory(vectorAdapter, graphAdapter, kvAdapter, producer)
	l4 := tiers.NewSemanticMemory(ftAdapter, producer)

	llmRegistry := llmclient.NewRegistry()
	limiters, breakers := registerLLMProviders(llmRegistry, cfg, log)
	llmClient := llmclient.NewClient(llmRegistry, cfg.LLMProviderOrder, limiters, breakers, cfg.LLMTimeout, log)

	segmenter := engines.NewTopicSegmenter(llmClient)
	extractor := engines.NewFactExtractor(llmClient, ciarWeights(cfg), cfg.EnableRuleFallback)
	promotion := engines.NewPromotionEngine(l1, l2, segmenter, extractor, kvAdapter, producer, log, cfg.PromotionThreshold, 0)

	consolidation := engines.NewConsolidationEngine(l2, l3, llmClient, kvAdapter, producer, log, 0, 0)

	synth := engines.NewKnowledgeSynthesizer(llmClient)
	distillation := engines.NewDistillationEngine(l3, l4, synth, kvAdapter, producer, log, 0, cfg.DistillationCacheTTL)

	mem := surface.New(l1, l2, l3, l4, promotion, consolidation, distillation, llmClient, cfg, log)

	skillRegistry := skills.NewRegistry()
	if err := skillRegistry.Load(cfg.SkillsDir); err != nil {
		log.Warn().Err(err).Str("dir", cfg.SkillsDir).Msg("skills load reported errors, continuing with what parsed")
	}
	log.Info().Int("skills", len(skillRegistry.GetAll())).Msg("skills registry loaded")

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go runWakeupSweep(sweepCtx, kvAdapter, promotion, l3, cfg.WakeupSweepIval, log)

	_ = mem // the Unified Memory Surface is the library's external API; this binary only keeps its background cycles alive

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	log.Info().Msg("memory substrate ready")
	<-done
	log.Info().Msg("shutdown signal received")
	sweepCancel()
}

// registerLLMProviders mirrors the teacher's registerProviders: each
// provider is registered only if its API key is present in the
// environment, so a deployment with one provider configured still
// starts cleanly. Every registered connector gets its own rate limiter
// and circuit breaker, keyed by provider name exactly as the Client
// expects.
func registerLLMProviders(registry *llmclient.Registry, cfg *config.Config, log zerolog.Logger) (map[string]*llmclient.RateLimiter, map[string]*llmclient.CircuitBreaker) {
	limiters := make(map[string]*llmclient.RateLimiter)
	breakers := make(map[string]*llmclient.CircuitBreaker)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		registry.Register(llmclient.NewOpenAIConnector(key, os.Getenv("OPENAI_BASE_URL"), cfg.LLMTimeout))
		limiters["openai"] = llmclient.NewRateLimiter(500)
		breakers["openai"] = llmclient.NewCircuitBreaker(5, 30*time.Second)
		log.Info().Msg("registered openai connector")
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		registry.Register(llmclient.NewAnthropicConnector(key, cfg.LLMTimeout))
		limiters["anthropic"] = llmclient.NewRateLimiter(500)
		breakers["anthropic"] = llmclient.NewCircuitBreaker(5, 30*time.Second)
		log.Info().Msg("registered anthropic connector")
	}

	if len(registry.List()) == 0 {
		log.Warn().Msg("no LLM provider API keys found in environment — LLM calls will fail until one is configured; only fact extraction and knowledge synthesis have rule-based fallbacks, topic segmentation has none")
	}

	return limiters, breakers
}

func ciarWeights(cfg *config.Config) ciar.Weights {
	weights := ciar.DefaultWeights()
	weights.DecayLambda = cfg.CIARDecayLambda
	weights.RecencyAlpha = cfg.CIARRecencyAlpha
	return weights
}

// runWakeupSweep periodically scans the dirty-session set populated by
// L1.Store and recovers any lifecycle-engine in-flight markers left
// behind by a crash mid-cycle, and retries any L3 vector points whose
// rollback delete previously failed.
func runWakeupSweep(ctx context.Context, kvAdapter *kv.Adapter, promotion *engines.PromotionEngine, l3 *tiers.EpisodicMemory, interval time.Duration, log zerolog.Logger) {
	sweepLog := logger.Component(log, "wakeup_sweep")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions, err := kvAdapter.SetMembers(ctx, namespace.SweepSetKey())
			if err != nil {
				sweepLog.Warn().Err(err).Msg("failed to list dirty sessions")
				continue
			}
			for _, sessionID := range sessions {
				stale, err := promotion.InflightIDs(ctx, sessionID)
				if err != nil {
					sweepLog.Warn().Err(err).Str("session_id", sessionID).Msg("failed to read promotion in-flight ids")
					continue
				}
				if len(stale) == 0 {
					continue
				}
				if err := promotion.RecoverInflight(ctx, sessionID, stale); err != nil {
					sweepLog.Warn().Err(err).Str("session_id", sessionID).Msg("failed to recover stale promotion in-flight ids")
					continue
				}
				sweepLog.Info().Str("session_id", sessionID).Int("count", len(stale)).Msg("recovered stale promotion in-flight turns")
			}

			danglingVectors, err := l3.PendingReconciliation(ctx)
			if err != nil {
				sweepLog.Warn().Err(err).Msg("failed to list dangling L3 vector points")
				continue
			}
			for _, episodeID := range danglingVectors {
				if err := l3.ReconcileDanglingVector(ctx, episodeID); err != nil {
					sweepLog.Warn().Err(err).Str("episode_id", episodeID).Msg("failed to reconcile dangling L3 vector point, will retry next sweep")
					continue
				}
				sweepLog.Info().Str("episode_id", episodeID).Msg("reconciled dangling L3 vector point")
			}
		}
	}
}
