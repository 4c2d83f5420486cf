package engines

import (
	"context"
	"testing"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

func TestSegmentStatsCountsParticipantsAndMessages(t *testing.T) {
	base := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	turns := []*models.Turn{
		{TurnID: "t0", Role: models.RoleUser, CreatedAt: base},
		{TurnID: "t1", Role: models.RoleAssistant, CreatedAt: base.Add(time.Minute)},
		{TurnID: "t2", Role: models.RoleUser, CreatedAt: base.Add(2 * time.Minute)},
	}

	participants, messages, temporal := segmentStats(turns, []int{0, 1, 2})
	if participants != 2 {
		t.Fatalf("expected 2 distinct roles, got %d", participants)
	}
	if messages != 3 {
		t.Fatalf("expected 3 messages, got %d", messages)
	}
	if temporal != "09:00:00 to 09:02:00" {
		t.Fatalf("unexpected temporal context: %q", temporal)
	}
}

func TestSegmentStatsIgnoresOutOfRangeIndices(t *testing.T) {
	turns := []*models.Turn{{TurnID: "t0", Role: models.RoleUser}}
	participants, messages, _ := segmentStats(turns, []int{-1, 0, 5})
	if participants != 1 || messages != 1 {
		t.Fatalf("expected out-of-range indices ignored, got participants=%d messages=%d", participants, messages)
	}
}

func TestSegmentPropagatesProviderFailure(t *testing.T) {
	client := newTestClient(t, &alwaysFailConnector{name: "primary"})
	segmenter := NewTopicSegmenter(client)

	_, err := segmenter.Segment(context.Background(), []*models.Turn{{TurnID: "t0", Role: models.RoleUser, Content: "hi"}})
	if err == nil {
		t.Fatal("expected error when the provider fails and segmentation has no fallback path")
	}
}

func TestClamp01BoundsValues(t *testing.T) {
	if clamp01(-0.5) != 0 {
		t.Fatal("expected negative values clamped to 0")
	}
	if clamp01(1.5) != 1 {
		t.Fatal("expected values above 1 clamped to 1")
	}
	if clamp01(0.42) != 0.42 {
		t.Fatal("expected in-range values unchanged")
	}
}
