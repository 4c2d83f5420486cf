package tiers

import (
	"context"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/ciar"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/relational"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
)

// WorkingMemory is L2: Relational-backed facts with full-text search and
// CIAR-gated admission. Retrieval updates access tracking; a failure to
// persist that update is logged and swallowed rather than surfaced,
// since the spec requires access-tracking to never mask a successful
// retrieval.
type WorkingMemory struct {
	relational *relational.Adapter
	producer   *telemetry.Producer
	threshold  float64
	weights    ciar.Weights
	ttl        time.Duration
}

// NewWorkingMemory constructs L2. threshold gates admission (default
// 0.6, the substrate-wide promotion threshold); ttl bounds retention
// (default 7 days): Query skips facts older than ttl. Retrieve by id
// does not check it.
func NewWorkingMemory(relAdapter *relational.Adapter, producer *telemetry.Producer, threshold float64, ttl time.Duration) *WorkingMemory {
	if threshold <= 0 {
		threshold = 0.6
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &WorkingMemory{relational: relAdapter, producer: producer, threshold: threshold, weights: ciar.DefaultWeights(), ttl: ttl}
}

func factToRecord(f *models.Fact) storage.Record {
	rec := storage.Record{
		"id":               f.FactID,
		"fact_id":          f.FactID,
		"session_id":       f.SessionID,
		"content":          f.Content,
		"fact_type":        string(f.FactType),
		"category":         string(f.Category),
		"certainty":        f.Certainty,
		"impact":           f.Impact,
		"access_count":     f.AccessCount,
		"created_at":       f.CreatedAt,
		"age_decay":        f.AgeDecay,
		"recency_boost":    f.RecencyBoost,
		"ciar_score":       f.CIARScore,
		"source_uri":       f.SourceURI,
		"topic_segment_id": f.TopicSegmentID,
		"topic_label":      f.TopicLabel,
		"justification":    f.Justification,
	}
	if f.LastAccessed != nil {
		rec["last_accessed"] = *f.LastAccessed
	}
	return rec
}

func recordToFact(rec storage.Record) (*models.Fact, error) {
	factID, _ := rec["fact_id"].(string)
	sessionID, _ := rec["session_id"].(string)
	content, _ := rec["content"].(string)
	factType, _ := rec["fact_type"].(string)
	category, _ := rec["category"].(string)
	certainty := asFloat(rec["certainty"])
	impact := asFloat(rec["impact"])
	ageDecay := asFloat(rec["age_decay"])
	recencyBoost := asFloat(rec["recency_boost"])
	sourceURI, _ := rec["source_uri"].(string)
	createdAt := asTime(rec["created_at"])

	fact, err := models.NewFact(factID, sessionID, content, models.FactType(factType), models.FactCategory(category),
		certainty, impact, ageDecay, recencyBoost, sourceURI, createdAt)
	if err != nil {
		return nil, err
	}

	fact.AccessCount = asInt64(rec["access_count"])
	fact.TopicSegmentID, _ = rec["topic_segment_id"].(string)
	fact.TopicLabel, _ = rec["topic_label"].(string)
	fact.Justification, _ = rec["justification"].(string)
	if rec["last_accessed"] != nil {
		lastAccessed := asTime(rec["last_accessed"])
		if !lastAccessed.IsZero() {
			fact.LastAccessed = &lastAccessed
		}
	}
	return fact, nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(time.RFC3339Nano, t)
		return parsed
	default:
		return time.Time{}
	}
}

// Store admits fact into L2 if its ciar_score clears the promotion
// threshold; below-threshold facts are rejected with ErrDataValidation
// rather than silently dropped, so the Promotion engine can distinguish
// "admitted" from "filtered out" in its telemetry.
func (w *WorkingMemory) Store(ctx context.Context, fact *models.Fact) (string, error) {
	if !ciar.MeetsThreshold(ciar.Score{Value: fact.CIARScore}, w.threshold) {
		w.emit(ctx, fact.SessionID, "store", false)
		return "", memerr.Wrap(memerr.ErrDataValidation, "l2: fact %s ciar_score %.3f below threshold %.3f", fact.FactID, fact.CIARScore, w.threshold)
	}

	id, err := w.relational.Store(ctx, factToRecord(fact))
	w.emit(ctx, fact.SessionID, "store", err == nil)
	return id, err
}

// Retrieve fetches one fact by id and records an access: last_accessed
// set to now, access_count incremented, recency_boost and ciar_score
// recomputed. The access-tracking write is best-effort — its failure is
// logged via telemetry but never returned to the caller, since the
// fact was already successfully read.
func (w *WorkingMemory) Retrieve(ctx context.Context, factID string) (*models.Fact, error) {
	rec, err := w.relational.Retrieve(ctx, factID)
	if err != nil {
		w.emit(ctx, "", "retrieve", false)
		return nil, err
	}

	fact, err := recordToFact(rec)
	if err != nil {
		w.emit(ctx, "", "retrieve", false)
		return nil, err
	}

	fact.RecordAccess(w.weights.RecencyAlpha, time.Now().UTC())
	if _, err := w.relational.Store(ctx, factToRecord(fact)); err != nil {
		w.emit(ctx, fact.SessionID, "access_tracking_failed", false)
	}

	w.emit(ctx, fact.SessionID, "retrieve", true)
	return fact, nil
}

// Query supports free-text search (q.Text) combined with structured
// filters (session_id, fact_type, category); min_ciar_score is applied
// in-process since it is a derived, not a stored, filter criterion the
// relational layer's equality-only matchesFilters cannot express.
func (w *WorkingMemory) Query(ctx context.Context, q storage.Query, minCIARScore float64) ([]*models.Fact, error) {
	var recs []storage.Record
	var err error
	if q.Text != "" {
		recs, err = w.relational.Search(ctx, q)
	} else {
		recs, err = w.relational.Scroll(ctx, q)
	}
	if err != nil {
		w.emit(ctx, "", "query", false)
		return nil, err
	}

	facts := make([]*models.Fact, 0, len(recs))
	for _, rec := range recs {
		fact, err := recordToFact(rec)
		if err != nil {
			continue
		}
		if fact.CIARScore < minCIARScore {
			continue
		}
		if w.ttl > 0 && time.Since(fact.CreatedAt) > w.ttl {
			continue
		}
		facts = append(facts, fact)
	}
	w.emit(ctx, "", "query", true)
	return facts, nil
}

// RecomputeAgeDecay is the L2 maintenance pass: reload, recompute
// age_decay (and therefore ciar_score) from the fact's age, and persist.
// Intended to run on a periodic schedule, not on every read, so stale
// scores don't silently accumulate between accesses.
func (w *WorkingMemory) RecomputeAgeDecay(ctx context.Context, factID string, now time.Time) error {
	rec, err := w.relational.Retrieve(ctx, factID)
	if err != nil {
		return err
	}
	fact, err := recordToFact(rec)
	if err != nil {
		return err
	}
	fact.RecomputeAgeDecay(w.weights.DecayLambda, now)
	_, err = w.relational.Store(ctx, factToRecord(fact))
	return err
}

func (w *WorkingMemory) Delete(ctx context.Context, factID string) (bool, error) {
	ok, err := w.relational.Delete(ctx, factID)
	w.emit(ctx, "", "delete", err == nil)
	return ok, err
}

func (w *WorkingMemory) HealthCheck(ctx context.Context) storage.HealthResult {
	return w.relational.HealthCheck(ctx)
}

func (w *WorkingMemory) Initialize(ctx context.Context) error {
	return w.relational.Connect(ctx)
}

func (w *WorkingMemory) Cleanup(ctx context.Context) error {
	return w.relational.Disconnect(ctx)
}

func (w *WorkingMemory) emit(ctx context.Context, sessionID, operation string, success bool) {
	if w.producer == nil {
		return
	}
	w.producer.Emit(ctx, models.NewTelemetryEvent(models.EventTierAccess, sessionID, "", "l2_working_memory", map[string]any{
		"operation": operation,
		"success":   success,
	}))
}
