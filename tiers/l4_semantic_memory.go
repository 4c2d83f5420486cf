package tiers

import (
	"context"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/storage/fulltext"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/telemetry"
)

// SemanticMemory is L4: the FullText-backed, faceted knowledge store.
// Deduplication is deliberately absent — overlapping documents coexist
// and surface as conflicts at query time, per the KnowledgeDocument
// invariant.
type SemanticMemory struct {
	fulltext *fulltext.Adapter
	producer *telemetry.Producer
}

// NewSemanticMemory constructs L4.
func NewSemanticMemory(ftAdapter *fulltext.Adapter, producer *telemetry.Producer) *SemanticMemory {
	return &SemanticMemory{fulltext: ftAdapter, producer: producer}
}

func knowledgeToRecord(d *models.KnowledgeDocument) storage.Record {
	return storage.Record{
		"id":                 d.KnowledgeID,
		"knowledge_id":       d.KnowledgeID,
		"title":              d.Title,
		"content":            d.Content,
		"knowledge_type":     string(d.KnowledgeType),
		"category":           d.Category,
		"tags":               d.TagList(),
		"domain":             d.Domain,
		"source_episode_ids": d.SourceEpisodeIDs,
		"confidence_score":   d.ConfidenceScore,
		"usefulness_score":   d.UsefulnessScore,
		"access_count":       d.AccessCount,
		"validation_count":   d.ValidationCount,
		"provenance_links":   d.ProvenanceLinks,
		"created_at":         d.CreatedAt,
	}
}

func recordToKnowledge(rec storage.Record) (*models.KnowledgeDocument, error) {
	knowledgeID, _ := rec["knowledge_id"].(string)
	title, _ := rec["title"].(string)
	content, _ := rec["content"].(string)
	knowledgeType, _ := rec["knowledge_type"].(string)
	category, _ := rec["category"].(string)
	domain, _ := rec["domain"].(string)
	confidence := asFloat(rec["confidence_score"])
	createdAt := asTime(rec["created_at"])

	tags := toStringSlice(rec["tags"])
	sourceEpisodeIDs := toStringSlice(rec["source_episode_ids"])

	doc, err := models.NewKnowledgeDocument(knowledgeID, title, content, models.KnowledgeType(knowledgeType), category,
		tags, domain, sourceEpisodeIDs, confidence, createdAt)
	if err != nil {
		return nil, err
	}

	doc.AccessCount = asInt64(rec["access_count"])
	doc.ValidationCount = asInt64(rec["validation_count"])
	doc.UsefulnessScore = asFloat(rec["usefulness_score"])
	if provenance := toStringSlice(rec["provenance_links"]); len(provenance) > 0 {
		doc.ProvenanceLinks = provenance
	}
	return doc, nil
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Store indexes doc. Provenance non-emptiness is already enforced by
// models.NewKnowledgeDocument, so Store here only needs to persist.
func (s *SemanticMemory) Store(ctx context.Context, doc *models.KnowledgeDocument) (string, error) {
	id, err := s.fulltext.Store(ctx, knowledgeToRecord(doc))
	s.emit(ctx, "store", err == nil)
	return id, err
}

// Search runs a faceted full-text query: free-text queryText combined
// with filters (knowledge_type, category, domain, tags); minConfidence
// is applied in-process since OpenSearch range filtering on a dynamic
// threshold is simpler expressed post-fetch for this tier's modest
// result sizes. Every result's access_count is incremented, best-effort.
func (s *SemanticMemory) Search(ctx context.Context, queryText string, filters map[string]any, minConfidence float64, limit int) ([]*models.KnowledgeDocument, error) {
	recs, err := s.fulltext.Search(ctx, storage.Query{Text: queryText, Filters: filters, Limit: limit})
	if err != nil {
		s.emit(ctx, "search", false)
		return nil, err
	}

	docs := make([]*models.KnowledgeDocument, 0, len(recs))
	for _, rec := range recs {
		doc, err := recordToKnowledge(rec)
		if err != nil {
			continue
		}
		if doc.ConfidenceScore < minConfidence {
			continue
		}
		doc.RecordAccess()
		if _, err := s.fulltext.Store(ctx, knowledgeToRecord(doc)); err != nil {
			s.emit(ctx, "access_tracking_failed", false)
		}
		docs = append(docs, doc)
	}
	s.emit(ctx, "search", true)
	return docs, nil
}

// UpdateUsefulness applies a feedback delta to doc's usefulness_score
// and persists the change.
func (s *SemanticMemory) UpdateUsefulness(ctx context.Context, knowledgeID string, delta float64) error {
	rec, err := s.fulltext.Retrieve(ctx, knowledgeID)
	if err != nil {
		return err
	}
	doc, err := recordToKnowledge(rec)
	if err != nil {
		return err
	}
	doc.UpdateUsefulness(delta)
	_, err = s.fulltext.Store(ctx, knowledgeToRecord(doc))
	s.emit(ctx, "update_usefulness", err == nil)
	return err
}

func (s *SemanticMemory) Delete(ctx context.Context, knowledgeID string) (bool, error) {
	ok, err := s.fulltext.Delete(ctx, knowledgeID)
	s.emit(ctx, "delete", err == nil)
	return ok, err
}

func (s *SemanticMemory) HealthCheck(ctx context.Context) storage.HealthResult {
	return s.fulltext.HealthCheck(ctx)
}

func (s *SemanticMemory) Initialize(ctx context.Context) error {
	return s.fulltext.Connect(ctx)
}

func (s *SemanticMemory) Cleanup(ctx context.Context) error {
	return s.fulltext.Disconnect(ctx)
}

func (s *SemanticMemory) emit(ctx context.Context, operation string, success bool) {
	if s.producer == nil {
		return
	}
	s.producer.Emit(ctx, models.NewTelemetryEvent(models.EventTierAccess, "", "", "l4_semantic_memory", map[string]any{
		"operation": operation,
		"success":   success,
	}))
}
