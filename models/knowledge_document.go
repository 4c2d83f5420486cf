package models

import (
	"fmt"
	"time"
)

// KnowledgeType classifies what kind of synthesized artifact a
// KnowledgeDocument is.
type KnowledgeType string

const (
	KnowledgeSummary        KnowledgeType = "summary"
	KnowledgeInsight        KnowledgeType = "insight"
	KnowledgePattern        KnowledgeType = "pattern"
	KnowledgeRecommendation KnowledgeType = "recommendation"
	KnowledgeRule           KnowledgeType = "rule"
)

func (t KnowledgeType) valid() bool {
	switch t {
	case KnowledgeSummary, KnowledgeInsight, KnowledgePattern, KnowledgeRecommendation, KnowledgeRule:
		return true
	default:
		return false
	}
}

// KnowledgeDocument is one L4 semantic-memory entry, synthesized by the
// Distillation engine from a cluster of Episodes. No deduplication is
// performed: overlapping documents may coexist and surface as conflicts
// at query time rather than being merged or suppressed.
type KnowledgeDocument struct {
	KnowledgeID      string
	Title            string
	Content          string
	KnowledgeType    KnowledgeType
	Category         string
	Tags             map[string]struct{}
	Domain           string
	SourceEpisodeIDs []string
	ConfidenceScore  float64
	UsefulnessScore  float64
	AccessCount      int64
	ValidationCount  int64
	ProvenanceLinks  []string
	CreatedAt        time.Time
}

// NewKnowledgeDocument validates and constructs a KnowledgeDocument.
// source_episode_ids must be non-empty per the provenance invariant.
func NewKnowledgeDocument(knowledgeID, title, content string, knowledgeType KnowledgeType, category string,
	tags []string, domain string, sourceEpisodeIDs []string, confidence float64, createdAt time.Time) (*KnowledgeDocument, error) {

	if knowledgeID == "" {
		return nil, fmt.Errorf("models: knowledge document requires knowledge_id")
	}
	if title == "" {
		return nil, fmt.Errorf("models: knowledge document requires title")
	}
	if content == "" {
		return nil, fmt.Errorf("models: knowledge document requires content")
	}
	if !knowledgeType.valid() {
		return nil, fmt.Errorf("models: invalid knowledge_type %q", knowledgeType)
	}
	if len(sourceEpisodeIDs) == 0 {
		return nil, fmt.Errorf("models: knowledge document requires non-empty source_episode_ids")
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("models: confidence_score %v out of [0,1]", confidence)
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tagSet := make(map[string]struct{}, len(tags))
	for _, tg := range tags {
		tagSet[tg] = struct{}{}
	}

	provenance := make([]string, len(sourceEpisodeIDs))
	copy(provenance, sourceEpisodeIDs)

	return &KnowledgeDocument{
		KnowledgeID:      knowledgeID,
		Title:            title,
		Content:          content,
		KnowledgeType:    knowledgeType,
		Category:         category,
		Tags:             tagSet,
		Domain:           domain,
		SourceEpisodeIDs: sourceEpisodeIDs,
		ConfidenceScore:  confidence,
		ProvenanceLinks:  provenance,
		CreatedAt:        createdAt,
	}, nil
}

// TagList returns Tags as a slice for callers that need one (e.g. facet
// indexing). The order follows map iteration and is not stable.
func (d *KnowledgeDocument) TagList() []string {
	out := make([]string, 0, len(d.Tags))
	for t := range d.Tags {
		out = append(out, t)
	}
	return out
}

// RecordAccess increments access_count, which the spec requires to be
// monotonically non-decreasing.
func (d *KnowledgeDocument) RecordAccess() {
	d.AccessCount++
}

// UpdateUsefulness applies caller feedback to future ranking.
func (d *KnowledgeDocument) UpdateUsefulness(delta float64) {
	d.UsefulnessScore = clamp01(d.UsefulnessScore + delta)
	d.ValidationCount++
}
