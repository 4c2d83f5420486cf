package models

// TopicSegment is an ephemeral intermediate produced by the Promotion
// engine's TopicSegmenter sub-component and consumed only by the
// FactExtractor sub-component in the same pipeline run — it is never
// persisted to a tier.
type TopicSegment struct {
	Topic            string
	Summary          string
	KeyPoints        []string
	TurnIndices      []int
	Certainty        float64
	Impact           float64
	ParticipantCount int
	MessageCount     int
	TemporalContext  string
}
