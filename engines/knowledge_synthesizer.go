package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/llmclient"
	"github.com/maksim-tsi/yet-another-agents-memory-sub006/models"
)

var knowledgeSynthesisSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"content": {"type": "string"},
		"knowledge_type": {"type": "string", "enum": ["summary", "insight", "pattern", "recommendation", "rule"]},
		"category": {"type": "string"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"confidence_score": {"type": "number"}
	},
	"required": ["title", "content", "knowledge_type", "category", "confidence_score"]
}`)

type knowledgeSynthesisResponse struct {
	Title           string   `json:"title"`
	Content         string   `json:"content"`
	KnowledgeType   string   `json:"knowledge_type"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// episodeSource is the minimal shape KnowledgeSynthesizer needs from a
// candidate L3 episode — callers pass storage.Record fields through
// this instead of a full models.Episode, since Distillation's candidate
// episodes come back from Vector/Graph search as generic records.
type episodeSource struct {
	EpisodeID string
	Summary   string
}

// KnowledgeSynthesizer is the Distillation engine's sub-component: one
// schema-enforced LLM call over a cluster of episode summaries produces
// a candidate KnowledgeDocument. On LLM failure or parse failure, Synthesize
// falls back to a deterministic rule-based synthesis so Distillation
// never drops a cluster outright.
type KnowledgeSynthesizer struct {
	client *llmclient.Client
}

// NewKnowledgeSynthesizer constructs a KnowledgeSynthesizer over client.
func NewKnowledgeSynthesizer(client *llmclient.Client) *KnowledgeSynthesizer {
	return &KnowledgeSynthesizer{client: client}
}

// Synthesize calls the LLM over sources and returns the synthesized
// document fields plus fellBack reporting whether the rule-based path
// was used (mirroring FactExtractor.Extract's fellBack convention).
func (s *KnowledgeSynthesizer) Synthesize(ctx context.Context, domain string, sources []episodeSource) (title, content, knowledgeType, category string, tags []string, confidence float64, fellBack bool, err error) {
	result, llmErr := s.client.Call(ctx, llmclient.TaskKnowledgeSynthesis, buildSynthesisPrompt(domain, sources),
		llmclient.WithSystem("You synthesize durable knowledge from a cluster of memory episodes. Respond only with the requested JSON."),
		llmclient.WithSchema(knowledgeSynthesisSchema))
	if llmErr != nil {
		t, c, k, cat, tg, conf := ruleBasedSynthesis(sources)
		return t, c, k, cat, tg, conf, true, nil
	}

	var parsed knowledgeSynthesisResponse
	if err := json.Unmarshal(result.Object, &parsed); err != nil {
		t, c, k, cat, tg, conf := ruleBasedSynthesis(sources)
		return t, c, k, cat, tg, conf, true, nil
	}

	return parsed.Title, parsed.Content, parsed.KnowledgeType, parsed.Category, parsed.Tags, clamp01(parsed.ConfidenceScore), false, nil
}

func buildSynthesisPrompt(domain string, sources []episodeSource) string {
	var sb strings.Builder
	if domain != "" {
		fmt.Fprintf(&sb, "Domain: %s\n", domain)
	}
	sb.WriteString("Episode summaries to synthesize into one knowledge document:\n")
	for _, src := range sources {
		fmt.Fprintf(&sb, "- [%s] %s\n", src.EpisodeID, src.Summary)
	}
	return sb.String()
}

// ruleBasedSynthesis is the stdlib-only fallback: it has no
// example-repo grounding for the same reason FactExtractor.ruleBasedFact
// doesn't — the spec calls for a deterministic non-LLM path and no
// library in the pack does rule-based text synthesis. It concatenates
// episode summaries and derives a title from the first one, marking the
// confidence low enough it rarely outranks an LLM-synthesized document.
func ruleBasedSynthesis(sources []episodeSource) (title, content, knowledgeType, category string, tags []string, confidence float64) {
	var sb strings.Builder
	for i, src := range sources {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(src.Summary)
	}
	title = "Summary"
	if len(sources) > 0 {
		words := strings.Fields(sources[0].Summary)
		if len(words) > 8 {
			words = words[:8]
		}
		title = strings.Join(words, " ")
	}
	return title, sb.String(), string(models.KnowledgeSummary), "general", nil, 0.4
}
