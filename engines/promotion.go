package engines

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/ciar"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/namespace"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/kv"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/tiers"
)

// CycleResult is the uniform summary every lifecycle trigger returns:
// the facade surfaces these rather than letting one bad unit of work
// abort the whole batch.
type CycleResult struct {
	Succeeded int
	Failed    int
	Skipped   int
}

func inflightKey(sessionID string) string {
	return namespace.Session(sessionID) + ":promotion_inflight"
}

// PromotionEngine converts batches of L1 turns into CIAR-scored L2
// facts, per spec §4.4.1.
type PromotionEngine struct {
	l1        *tiers.ActiveContext
	l2        *tiers.WorkingMemory
	segmenter *TopicSegmenter
	extractor *FactExtractor
	kv        *kv.Adapter
	producer  *telemetry.Producer
	logger    zerolog.Logger
	threshold float64
	batchSize int
	weights   ciar.Weights
}

// NewPromotionEngine constructs the Promotion engine. batchThreshold
// defaults to 15 (the spec's 10-20 default range's midpoint).
func NewPromotionEngine(l1 *tiers.ActiveContext, l2 *tiers.WorkingMemory, segmenter *TopicSegmenter, extractor *FactExtractor,
	kvAdapter *kv.Adapter, producer *telemetry.Producer, logger zerolog.Logger, threshold float64, batchThreshold int) *PromotionEngine {
	if threshold <= 0 {
		threshold = 0.6
	}
	if batchThreshold <= 0 {
		batchThreshold = 15
	}
	return &PromotionEngine{
		l1:        l1,
		l2:        l2,
		segmenter: segmenter,
		extractor: extractor,
		kv:        kvAdapter,
		producer:  producer,
		logger:    logger.With().Str("component", "promotion_engine").Logger(),
		threshold: threshold,
		batchSize: batchThreshold,
		weights:   ciar.DefaultWeights(),
	}
}

// RunCycle executes one Promotion pass for sessionID: dequeue unpromoted
// turn ids, segment, pre-filter segments by CIAR, extract facts per
// surviving segment, admit facts that clear the promotion threshold.
// One bad segment or fact never aborts the whole batch — failures are
// counted in the returned CycleResult rather than propagated.
func (e *PromotionEngine) RunCycle(ctx context.Context, sessionID string) (CycleResult, error) {
	var result CycleResult

	turnIDs, err := e.kv.AtomicPromotion(ctx, namespace.FactBufferKey(sessionID), inflightKey(sessionID), e.batchSize)
	if err != nil {
		return result, err
	}
	if len(turnIDs) == 0 {
		return result, nil
	}
	defer e.kv.RemoveFromSet(ctx, inflightKey(sessionID), turnIDs...)

	turns, err := e.l1.RetrieveByIDs(ctx, sessionID, turnIDs)
	if err != nil {
		return result, err
	}
	if len(turns) == 0 {
		result.Skipped = len(turnIDs)
		return result, nil
	}

	batchStart := turns[0].CreatedAt
	for _, t := range turns {
		if t.CreatedAt.Before(batchStart) {
			batchStart = t.CreatedAt
		}
	}

	segments, err := e.segmenter.Segment(ctx, turns)
	if err != nil {
		e.emit(ctx, sessionID, models.EventSignificanceScored, map[string]any{"error": err.Error(), "stage": "segmentation"})
		result.Failed = len(turnIDs)
		return result, nil
	}

	for _, segment := range segments {
		explained := ciar.Explain(ciar.Inputs{
			Certainty:   segment.Certainty,
			Impact:      segment.Impact,
			AgeDays:     time.Since(batchStart).Hours() / 24,
			AccessCount: 0,
		}, e.weights, e.threshold)
		if !explained.Verdict.Promotable {
			e.emit(ctx, sessionID, models.EventSignificanceScored, map[string]any{
				"topic": segment.Topic, "ciar_score": explained.Score.Value, "recommended_tier": explained.Verdict.RecommendedTier,
			})
			result.Skipped++
			continue
		}

		sourceURI := sourceURIForSegment(turns, segment)
		facts, fellBack, err := e.extractor.Extract(ctx, sessionID, segment, sourceURI, batchStart)
		if err != nil {
			e.emit(ctx, sessionID, models.EventSignificanceScored, map[string]any{
				"error": err.Error(), "stage": "extraction", "topic": segment.Topic, "fallback": fellBack,
			})
			result.Failed++
			continue
		}

		for _, fact := range facts {
			e.emit(ctx, sessionID, models.EventSignificanceScored, map[string]any{
				"fact_id": fact.FactID, "ciar_score": fact.CIARScore, "fallback": fellBack,
			})
			if _, err := e.l2.Store(ctx, fact); err != nil {
				result.Skipped++
				continue
			}
			e.emit(ctx, sessionID, models.EventFactPromoted, map[string]any{"fact_id": fact.FactID, "fact_type": string(fact.FactType)})
			result.Succeeded++
		}
	}

	return result, nil
}

func sourceURIForSegment(turns []*models.Turn, segment models.TopicSegment) string {
	for _, idx := range segment.TurnIndices {
		if idx >= 0 && idx < len(turns) {
			return turns[idx].TurnID
		}
	}
	if len(turns) > 0 {
		return turns[0].TurnID
	}
	return ""
}

// InflightIDs returns the turn ids currently marked in-flight for
// sessionID, for the Wake-Up Sweep to inspect before deciding whether
// to call RecoverInflight.
func (e *PromotionEngine) InflightIDs(ctx context.Context, sessionID string) ([]string, error) {
	return e.kv.SetMembers(ctx, inflightKey(sessionID))
}

// RecoverInflight is the Promotion engine's Wake-Up Sweep case: any
// turn ids left in a session's in-flight set by a crash between
// AtomicPromotion and the deferred RemoveFromSet are requeued onto the
// fact buffer so the next RunCycle picks them up again.
func (e *PromotionEngine) RecoverInflight(ctx context.Context, sessionID string, staleIDs []string) error {
	if len(staleIDs) == 0 {
		return nil
	}
	for _, id := range staleIDs {
		if err := e.kv.Enqueue(ctx, namespace.FactBufferKey(sessionID), id); err != nil {
			return err
		}
	}
	return e.kv.RemoveFromSet(ctx, inflightKey(sessionID), staleIDs...)
}

func (e *PromotionEngine) emit(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if e.producer == nil {
		return
	}
	e.producer.Emit(ctx, models.NewTelemetryEvent(eventType, sessionID, "promotion", "", payload))
}
