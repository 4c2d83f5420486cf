package models

import "time"

// Known lifecycle telemetry event types. Consumers subscribe by
// event_type prefix, so these are plain string constants rather than a
// closed enum type.
const (
	EventTierAccess             = "tier_access"
	EventSignificanceScored     = "significance_scored"
	EventFactPromoted           = "fact_promoted"
	EventConsolidationStarted   = "consolidation_started"
	EventConsolidationCompleted = "consolidation_completed"
	EventFactsClustered         = "facts_clustered"
	EventEpisodeCreated         = "episode_created"
	EventDistillationStarted   = "distillation_started"
	EventDistillationCompleted = "distillation_completed"
	EventKnowledgeCreated       = "knowledge_created"
)

// TelemetryEvent is one entry on the lifecycle event stream.
type TelemetryEvent struct {
	EventType  string
	Timestamp  time.Time
	SessionID  string // optional, empty means not applicable
	EngineName string // optional
	TierName   string // optional
	Payload    map[string]any
}

// NewTelemetryEvent constructs an event with Timestamp defaulted to now.
func NewTelemetryEvent(eventType, sessionID, engineName, tierName string, payload map[string]any) TelemetryEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return TelemetryEvent{
		EventType:  eventType,
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
		EngineName: engineName,
		TierName:   tierName,
		Payload:    payload,
	}
}
