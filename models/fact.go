package models

import (
	"fmt"
	"math"
	"time"
)

// FactType classifies what kind of statement a Fact records.
type FactType string

const (
	FactTypePreference  FactType = "preference"
	FactTypeConstraint  FactType = "constraint"
	FactTypeEntity      FactType = "entity"
	FactTypeMention     FactType = "mention"
	FactTypeRelationship FactType = "relationship"
	FactTypeEvent       FactType = "event"
	FactTypeInstruction FactType = "instruction"
)

func (t FactType) valid() bool {
	switch t {
	case FactTypePreference, FactTypeConstraint, FactTypeEntity, FactTypeMention,
		FactTypeRelationship, FactTypeEvent, FactTypeInstruction:
		return true
	default:
		return false
	}
}

// FactCategory groups Facts by domain.
type FactCategory string

const (
	CategoryPersonal   FactCategory = "personal"
	CategoryBusiness   FactCategory = "business"
	CategoryTechnical  FactCategory = "technical"
	CategoryOperational FactCategory = "operational"
)

func (c FactCategory) valid() bool {
	switch c {
	case CategoryPersonal, CategoryBusiness, CategoryTechnical, CategoryOperational:
		return true
	default:
		return false
	}
}

// Fact is one L2 working-memory entry, derived from a batch of Turns by
// the Promotion engine.
type Fact struct {
	FactID         string
	SessionID      string
	Content        string
	FactType       FactType
	Category       FactCategory
	Certainty      float64
	Impact         float64
	AccessCount    int64
	CreatedAt      time.Time
	LastAccessed   *time.Time
	AgeDecay       float64
	RecencyBoost   float64
	CIARScore      float64
	SourceURI      string
	TopicSegmentID string
	TopicLabel     string
	Justification  string
}

// NewFact validates and constructs a Fact, recomputing ciar_score from
// its inputs rather than trusting a caller-supplied value, enforcing the
// invariant `ciar_score == clamp01((certainty * impact) * age_decay *
// recency_boost)`.
func NewFact(factID, sessionID, content string, factType FactType, category FactCategory,
	certainty, impact, ageDecay, recencyBoost float64, sourceURI string, createdAt time.Time) (*Fact, error) {

	if factID == "" {
		return nil, fmt.Errorf("models: fact requires fact_id")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("models: fact requires session_id")
	}
	if content == "" {
		return nil, fmt.Errorf("models: fact requires content")
	}
	if !factType.valid() {
		return nil, fmt.Errorf("models: invalid fact_type %q", factType)
	}
	if !category.valid() {
		return nil, fmt.Errorf("models: invalid category %q", category)
	}
	if certainty < 0 || certainty > 1 {
		return nil, fmt.Errorf("models: certainty %v out of [0,1]", certainty)
	}
	if impact < 0 || impact > 1 {
		return nil, fmt.Errorf("models: impact %v out of [0,1]", impact)
	}
	if recencyBoost < 1 {
		return nil, fmt.Errorf("models: recency_boost %v must be >= 1", recencyBoost)
	}
	if sourceURI == "" {
		return nil, fmt.Errorf("models: fact requires source_uri")
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	ciar := clamp01((certainty * impact) * ageDecay * recencyBoost)

	return &Fact{
		FactID:       factID,
		SessionID:    sessionID,
		Content:      content,
		FactType:     factType,
		Category:     category,
		Certainty:    certainty,
		Impact:       impact,
		CreatedAt:    createdAt,
		AgeDecay:     ageDecay,
		RecencyBoost: recencyBoost,
		CIARScore:    ciar,
		SourceURI:    sourceURI,
	}, nil
}

// RecordAccess updates access tracking per the L2 retrieve contract:
// last_accessed=now, access_count+=1, recency_boost recomputed with
// alpha, ciar_score recomputed. Failure to persist this mutation must
// never mask a successful retrieval — callers log-and-continue on the
// persistence error.
func (f *Fact) RecordAccess(alpha float64, now time.Time) {
	f.AccessCount++
	f.LastAccessed = &now
	f.RecencyBoost = 1 + alpha*float64(f.AccessCount)
	f.CIARScore = clamp01((f.Certainty * f.Impact) * f.AgeDecay * f.RecencyBoost)
}

// RecomputeAgeDecay applies the age-decay maintenance pass: age_decay =
// 2^(-lambda * max(0, age_days)); future-dated created_at clamps age to
// zero rather than producing a decay > 1.
func (f *Fact) RecomputeAgeDecay(lambda float64, now time.Time) {
	ageDays := now.Sub(f.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	f.AgeDecay = math.Pow(2, -lambda*ageDays)
	f.CIARScore = clamp01((f.Certainty * f.Impact) * f.AgeDecay * f.RecencyBoost)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
