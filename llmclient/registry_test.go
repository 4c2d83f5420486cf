package llmclient

import (
	"context"
	"testing"
)

type stubConnector struct{ name string }

func (s *stubConnector) Name() string { return s.name }
func (s *stubConnector) Call(ctx context.Context, opts CallOptions, task Task, prompt string) (*Result, error) {
	return &Result{Text: "stub", Provider: s.name}, nil
}
func (s *stubConnector) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubConnector{name: "openai"})

	conn, ok := r.Get("openai")
	if !ok {
		t.Fatal("expected registered connector to be found")
	}
	if conn.Name() != "openai" {
		t.Fatalf("expected name openai, got %s", conn.Name())
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing connector lookup to fail")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubConnector{name: "openai"})
	r.Register(&stubConnector{name: "anthropic"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("expected 2 registered names, got %d", len(names))
	}
}
