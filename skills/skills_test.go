package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func TestLoadParsesFrontmatterAndBody(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "billing.md", "---\nname: billing\ndescription: billing support\nallowed_tools:\n  - search_invoices\n  - refund\n---\n# Billing skill\nHandles billing questions.\n")

	reg := NewRegistry()
	if err := reg.Load(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := reg.Get("billing")
	if !ok {
		t.Fatal("expected billing manifest to be loaded")
	}
	if m.Description != "billing support" {
		t.Fatalf("unexpected description: %q", m.Description)
	}
	if len(m.AllowedTools) != 2 {
		t.Fatalf("expected 2 allowed tools, got %d", len(m.AllowedTools))
	}
	if m.Body == "" {
		t.Fatal("expected non-empty body")
	}
}

func TestLoadSkipsMalformedManifestButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good.md", "---\nname: good\nallowed_tools:\n  - search\n---\nbody\n")
	writeManifest(t, dir, "bad.md", "no frontmatter here\n")

	reg := NewRegistry()
	err := reg.Load(dir)
	if err == nil {
		t.Fatal("expected an error reporting the malformed manifest")
	}
	if _, ok := reg.Get("good"); !ok {
		t.Fatal("expected the well-formed manifest to still load")
	}
}

func TestFilterToolsReturnsNilForUnknownSkill(t *testing.T) {
	reg := NewRegistry()
	if out := reg.FilterTools("nonexistent", []string{"a", "b"}); out != nil {
		t.Fatalf("expected nil for unknown skill, got %v", out)
	}
}

func TestFilterToolsRestrictsToAllowedSet(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "billing.md", "---\nname: billing\nallowed_tools:\n  - search_invoices\n---\nbody\n")

	reg := NewRegistry()
	if err := reg.Load(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := reg.FilterTools("billing", []string{"search_invoices", "delete_account"})
	if len(got) != 1 || got[0] != "search_invoices" {
		t.Fatalf("expected only search_invoices to survive, got %v", got)
	}
}
