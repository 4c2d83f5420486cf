package tiers

import (
	"testing"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

func TestRoleKeySeparatesUserAndAssistant(t *testing.T) {
	userKey := roleKey("sess-1", models.RoleUser)
	assistantKey := roleKey("sess-1", models.RoleAssistant)
	if userKey == assistantKey {
		t.Fatal("expected distinct KV keys per role to avoid id collisions")
	}
}

func TestTurnToRecordRoundTripsThroughRecordToTurn(t *testing.T) {
	createdAt := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	turn, err := models.NewTurn("sess-1", "turn-1", models.RoleUser, "hello", map[string]any{"k": "v"}, createdAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := turnToRecord(turn)
	got, err := recordToTurn(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.SessionID != turn.SessionID || got.TurnID != turn.TurnID || got.Role != turn.Role || got.Content != turn.Content {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, turn)
	}
	if !got.CreatedAt.Equal(turn.CreatedAt) {
		t.Fatalf("expected CreatedAt %v, got %v", turn.CreatedAt, got.CreatedAt)
	}
}

func TestRecordToTurnParsesStringTimestamp(t *testing.T) {
	rec := map[string]any{
		"session_id": "sess-1",
		"turn_id":    "turn-1",
		"role":       "user",
		"content":    "hello",
		"created_at": "2026-07-29T10:00:00Z",
	}

	turn, err := recordToTurn(rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.CreatedAt.IsZero() {
		t.Fatal("expected parsed created_at, got zero value")
	}
}

func TestNewActiveContextAppliesDefaults(t *testing.T) {
	ac := NewActiveContext(nil, nil, nil, 0, 0)
	if ac.window != 20 {
		t.Fatalf("expected default window 20, got %d", ac.window)
	}
	if ac.ttl != 24*time.Hour {
		t.Fatalf("expected default ttl 24h, got %v", ac.ttl)
	}
}
