package telemetry

import "testing"

func TestParseEventRoundTrips(t *testing.T) {
	event, err := parseEvent(map[string]any{
		"event_type":  "fact_promoted",
		"timestamp":   "2026-07-29T10:00:00Z",
		"session_id":  "sess-1",
		"engine_name": "promotion",
		"tier_name":   "l2",
		"payload":     `{"fact_id":"f-1"}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.EventType != "fact_promoted" {
		t.Fatalf("expected event_type fact_promoted, got %s", event.EventType)
	}
	if event.SessionID != "sess-1" || event.EngineName != "promotion" || event.TierName != "l2" {
		t.Fatalf("unexpected scalar fields: %+v", event)
	}
	if event.Payload["fact_id"] != "f-1" {
		t.Fatalf("expected payload fact_id f-1, got %v", event.Payload["fact_id"])
	}
}

func TestParseEventRejectsMissingEventType(t *testing.T) {
	_, err := parseEvent(map[string]any{"timestamp": "2026-07-29T10:00:00Z"})
	if err == nil {
		t.Fatal("expected error for missing event_type")
	}
}

func TestParseEventDefaultsEmptyPayload(t *testing.T) {
	event, err := parseEvent(map[string]any{"event_type": "tier_access"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Payload == nil || len(event.Payload) != 0 {
		t.Fatalf("expected empty non-nil payload map, got %+v", event.Payload)
	}
}

func TestIsBusyGroupErr(t *testing.T) {
	if !isBusyGroupErr(errBusyGroup{}) {
		t.Fatal("expected BUSYGROUP-prefixed error to be detected")
	}
	if isBusyGroupErr(errOther{}) {
		t.Fatal("expected non-BUSYGROUP error to not match")
	}
}

type errBusyGroup struct{}

func (errBusyGroup) Error() string { return "BUSYGROUP Consumer Group name already exists" }

type errOther struct{}

func (errOther) Error() string { return "some other redis error" }
