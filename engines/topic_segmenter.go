// Package engines implements the three lifecycle engines (Promotion,
// Consolidation, Distillation) plus their reusable sub-components
// (TopicSegmenter, FactExtractor, KnowledgeSynthesizer), each wrapping
// an llmclient.Client call with native JSON-schema enforcement and,
// where the spec requires it, a deterministic rule-based fallback.
package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/llmclient"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

// topicSegmentationSchema is the native JSON schema handed to the LLM
// client for the topic_segmentation task — satisfies §7's requirement
// that schema enforcement be provider-side, not post-hoc text parsing.
var topicSegmentationSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"segments": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"topic": {"type": "string"},
					"summary": {"type": "string"},
					"key_points": {"type": "array", "items": {"type": "string"}},
					"turn_indices": {"type": "array", "items": {"type": "integer"}},
					"certainty": {"type": "number"},
					"impact": {"type": "number"}
				},
				"required": ["topic", "summary", "turn_indices", "certainty", "impact"]
			}
		}
	},
	"required": ["segments"]
}`)

type topicSegmentationResponse struct {
	Segments []struct {
		Topic       string   `json:"topic"`
		Summary     string   `json:"summary"`
		KeyPoints   []string `json:"key_points"`
		TurnIndices []int    `json:"turn_indices"`
		Certainty   float64  `json:"certainty"`
		Impact      float64  `json:"impact"`
	} `json:"segments"`
}

// TopicSegmenter is the Promotion engine's first sub-component: one LLM
// call over a batch of turns returns coherent topic segments that
// compress noise before fact extraction runs.
type TopicSegmenter struct {
	client *llmclient.Client
}

// NewTopicSegmenter constructs a TopicSegmenter over client.
func NewTopicSegmenter(client *llmclient.Client) *TopicSegmenter {
	return &TopicSegmenter{client: client}
}

// Segment calls the LLM once over turns and returns the resulting
// TopicSegments. Each segment's ParticipantCount/MessageCount are
// derived locally from the turns it references rather than asked of
// the LLM, since they are exact counts the prompt doesn't need to
// guess at.
func (s *TopicSegmenter) Segment(ctx context.Context, turns []*models.Turn) ([]models.TopicSegment, error) {
	prompt := buildSegmentationPrompt(turns)

	result, err := s.client.Call(ctx, llmclient.TaskTopicSegmentation, prompt,
		llmclient.WithSystem("You segment a conversation transcript into coherent topics for a memory system. Respond only with the requested JSON."),
		llmclient.WithSchema(topicSegmentationSchema))
	if err != nil {
		return nil, err
	}

	var parsed topicSegmentationResponse
	if err := json.Unmarshal(result.Object, &parsed); err != nil {
		return nil, memerr.Wrap(memerr.ErrLLMParse, "topic_segmenter: unmarshal response: %v", err)
	}

	segments := make([]models.TopicSegment, 0, len(parsed.Segments))
	for _, seg := range parsed.Segments {
		participants, messages, temporal := segmentStats(turns, seg.TurnIndices)
		segments = append(segments, models.TopicSegment{
			Topic:            seg.Topic,
			Summary:          seg.Summary,
			KeyPoints:        seg.KeyPoints,
			TurnIndices:      seg.TurnIndices,
			Certainty:        clamp01(seg.Certainty),
			Impact:           clamp01(seg.Impact),
			ParticipantCount: participants,
			MessageCount:     messages,
			TemporalContext:  temporal,
		})
	}
	return segments, nil
}

func buildSegmentationPrompt(turns []*models.Turn) string {
	var sb strings.Builder
	sb.WriteString("Conversation turns, indexed from 0:\n")
	for i, turn := range turns {
		fmt.Fprintf(&sb, "[%d] %s: %s\n", i, turn.Role, turn.Content)
	}
	return sb.String()
}

func segmentStats(turns []*models.Turn, indices []int) (participants, messages int, temporal string) {
	roles := make(map[models.Role]struct{})
	var first, last *models.Turn
	for _, idx := range indices {
		if idx < 0 || idx >= len(turns) {
			continue
		}
		turn := turns[idx]
		roles[turn.Role] = struct{}{}
		messages++
		if first == nil {
			first = turn
		}
		last = turn
	}
	if first != nil && last != nil {
		temporal = fmt.Sprintf("%s to %s", first.CreatedAt.Format("15:04:05"), last.CreatedAt.Format("15:04:05"))
	}
	return len(roles), messages, temporal
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
