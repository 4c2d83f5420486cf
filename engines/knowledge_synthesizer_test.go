package engines

import (
	"strings"
	"testing"
)

func TestRuleBasedSynthesisDerivesTitleFromFirstSummary(t *testing.T) {
	sources := []episodeSource{
		{EpisodeID: "ep-1", Summary: "the user prefers dark mode across all their devices and apps"},
		{EpisodeID: "ep-2", Summary: "the user asked about billing twice this month"},
	}
	title, content, knowledgeType, category, tags, confidence := ruleBasedSynthesis(sources)

	if title == "" {
		t.Fatal("expected a non-empty title")
	}
	if !strings.Contains(content, "dark mode") || !strings.Contains(content, "billing") {
		t.Fatalf("expected content to include both summaries, got %q", content)
	}
	if knowledgeType != "summary" {
		t.Fatalf("expected knowledge_type summary, got %q", knowledgeType)
	}
	if category != "general" {
		t.Fatalf("expected category general, got %q", category)
	}
	if tags != nil {
		t.Fatalf("expected no tags from rule-based fallback, got %v", tags)
	}
	if confidence != 0.4 {
		t.Fatalf("expected confidence 0.4, got %v", confidence)
	}
}

func TestBuildSynthesisPromptIncludesDomainWhenSet(t *testing.T) {
	sources := []episodeSource{{EpisodeID: "ep-1", Summary: "summary text"}}
	prompt := buildSynthesisPrompt("billing", sources)
	if !strings.Contains(prompt, "Domain: billing") {
		t.Fatalf("expected prompt to include domain line, got %q", prompt)
	}
	if !strings.Contains(prompt, "ep-1") {
		t.Fatalf("expected prompt to reference episode id, got %q", prompt)
	}
}
