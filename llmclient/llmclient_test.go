package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type failingConnector struct{ name string }

func (f *failingConnector) Name() string { return f.name }
func (f *failingConnector) Call(ctx context.Context, opts CallOptions, task Task, prompt string) (*Result, error) {
	return nil, errors.New("boom")
}
func (f *failingConnector) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("boom")
}

func TestClientCallFallsBackOnFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&failingConnector{name: "primary"})
	registry.Register(&stubConnector{name: "secondary"})

	client := NewClient(registry, []string{"primary", "secondary"}, nil, nil, 5*time.Second, zerolog.Nop())

	result, err := client.Call(context.Background(), TaskFactExtraction, "hello")
	if err != nil {
		t.Fatalf("expected fallback to secondary to succeed, got %v", err)
	}
	if result.Provider != "secondary" {
		t.Fatalf("expected result from secondary provider, got %s", result.Provider)
	}
}

func TestClientCallAllProvidersFail(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&failingConnector{name: "only"})

	client := NewClient(registry, []string{"only"}, nil, nil, 5*time.Second, zerolog.Nop())

	_, err := client.Call(context.Background(), TaskFactExtraction, "hello")
	if err == nil {
		t.Fatal("expected error when every provider fails")
	}
}

func TestClientCallSkipsOpenCircuit(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubConnector{name: "blocked"})
	registry.Register(&stubConnector{name: "ok"})

	breaker := NewCircuitBreaker(1, time.Hour)
	breaker.RecordFailure()

	client := NewClient(registry, []string{"blocked", "ok"}, nil, map[string]*CircuitBreaker{"blocked": breaker}, 5*time.Second, zerolog.Nop())

	result, err := client.Call(context.Background(), TaskFactExtraction, "hello")
	if err != nil {
		t.Fatalf("expected call to succeed via the open circuit's sibling provider, got %v", err)
	}
	if result.Provider != "ok" {
		t.Fatalf("expected result from provider 'ok', got %s", result.Provider)
	}
}

func TestClientEmbedUsesProviderOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubConnector{name: "openai"})

	client := NewClient(registry, []string{"openai"}, nil, nil, 5*time.Second, zerolog.Nop())

	vec, err := client.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) == 0 {
		t.Fatal("expected non-empty embedding vector")
	}
}
