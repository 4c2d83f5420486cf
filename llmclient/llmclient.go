// Package llmclient is the multi-provider LLM client contract: a
// task-oriented Call/Embed surface backed by the teacher's
// provider.Registry + connection-pooling pattern, with per-provider rate
// limiting and circuit breaking, and an ordered fallback chain across
// providers. JSON-schema-enforced calls return a validated object, never
// a freeform string parsed after the fact.
package llmclient

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
)

// Task names the five fixed call sites the engines issue. A Client never
// accepts an arbitrary task string for routing decisions — it switches
// model/provider defaults on these five.
type Task string

const (
	TaskFactExtraction      Task = "fact_extraction"
	TaskTopicSegmentation   Task = "topic_segmentation"
	TaskEpisodeSummary      Task = "episode_summarization"
	TaskKnowledgeSynthesis  Task = "knowledge_synthesis"
	TaskEmbedding           Task = "embedding"
)

// Result is what Call returns: either free text, or — when a schema was
// requested — a validated JSON object in Object, as raw JSON bytes for
// the caller to unmarshal.
type Result struct {
	Text     string
	Object   json.RawMessage
	Provider string
	Model    string
	Usage    Usage
}

// Usage mirrors the teacher's provider.Usage token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CallOptions configures one Call invocation.
type CallOptions struct {
	System      string
	Schema      json.RawMessage // JSON Schema; when set, the provider call enforces it natively.
	Temperature *float64
	MaxTokens   *int
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

// WithSystem sets the system instruction.
func WithSystem(system string) CallOption {
	return func(o *CallOptions) { o.System = system }
}

// WithSchema requests native provider-side JSON schema enforcement.
// schema must be a valid JSON Schema document.
func WithSchema(schema json.RawMessage) CallOption {
	return func(o *CallOptions) { o.Schema = schema }
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = &n }
}

// Connector is the interface every concrete provider integration
// implements — the Provider interface generalized from HTTP chat/
// embeddings endpoints to this package's task-oriented Call/Embed shape.
type Connector interface {
	Name() string
	Call(ctx context.Context, opts CallOptions, task Task, prompt string) (*Result, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Client is the unified LLM client contract exposed to engines:
// Client.Call(ctx, task, prompt, opts...) and Client.Embed(ctx, text).
// It walks ProviderOrder, skipping any provider whose circuit breaker is
// open or whose rate limiter denies the call, and returns the first
// success — the teacher's ConnectionPool "try healthy members in order"
// idiom generalized from HTTP backends to LLM providers.
type Client struct {
	registry       *Registry
	providerOrder  []string
	limiters       map[string]*RateLimiter
	breakers       map[string]*CircuitBreaker
	defaultTimeout time.Duration
	logger         zerolog.Logger
}

// NewClient wires a Client from an already-populated Registry, the order
// in which providers are attempted, per-provider rate limiters and
// circuit breakers (typically one of each per provider, constructed by
// the caller from config), and a default per-call timeout.
func NewClient(registry *Registry, providerOrder []string, limiters map[string]*RateLimiter, breakers map[string]*CircuitBreaker, defaultTimeout time.Duration, logger zerolog.Logger) *Client {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Client{
		registry:       registry,
		providerOrder:  providerOrder,
		limiters:       limiters,
		breakers:       breakers,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Call issues a task-oriented LLM call, trying providers in
// ProviderOrder until one succeeds or all are exhausted.
func (c *Client) Call(ctx context.Context, task Task, prompt string, opts ...CallOption) (*Result, error) {
	var options CallOptions
	for _, opt := range opts {
		opt(&options)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.defaultTimeout)
	defer cancel()

	var lastErr error
	for _, name := range c.providerOrder {
		conn, ok := c.registry.Get(name)
		if !ok {
			continue
		}

		if breaker, ok := c.breakers[name]; ok && !breaker.Allow() {
			c.logger.Debug().Str("provider", name).Msg("circuit open, skipping")
			lastErr = memerr.Wrap(memerr.ErrCircuitOpen, "llmclient: provider %s circuit open", name)
			continue
		}
		if limiter, ok := c.limiters[name]; ok && !limiter.Allow() {
			c.logger.Debug().Str("provider", name).Msg("rate limited, skipping")
			lastErr = memerr.Wrap(memerr.ErrRateLimited, "llmclient: provider %s rate limited", name)
			continue
		}

		result, err := conn.Call(callCtx, options, task, prompt)
		if err != nil {
			lastErr = memerr.Wrap(memerr.ErrTransientBackend, "llmclient: provider %s: %v", name, err)
			if breaker, ok := c.breakers[name]; ok {
				breaker.RecordFailure()
			}
			continue
		}

		if breaker, ok := c.breakers[name]; ok {
			breaker.RecordSuccess()
		}
		if options.Schema != nil && len(result.Object) == 0 {
			lastErr = memerr.Wrap(memerr.ErrLLMParse, "llmclient: provider %s returned no structured object for schema-enforced call", name)
			continue
		}
		return result, nil
	}

	if lastErr == nil {
		lastErr = memerr.Wrap(memerr.ErrConfiguration, "llmclient: no providers configured")
	}
	return nil, lastErr
}

// Embed produces an embedding vector, trying providers in order the same
// way Call does, since embedding-capable providers are a subset of
// chat-capable ones and may fail independently.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.defaultTimeout)
	defer cancel()

	var lastErr error
	for _, name := range c.providerOrder {
		conn, ok := c.registry.Get(name)
		if !ok {
			continue
		}
		if breaker, ok := c.breakers[name]; ok && !breaker.Allow() {
			lastErr = memerr.Wrap(memerr.ErrCircuitOpen, "llmclient: provider %s circuit open", name)
			continue
		}
		if limiter, ok := c.limiters[name]; ok && !limiter.Allow() {
			lastErr = memerr.Wrap(memerr.ErrRateLimited, "llmclient: provider %s rate limited", name)
			continue
		}

		vec, err := conn.Embed(callCtx, text)
		if err != nil {
			lastErr = memerr.Wrap(memerr.ErrTransientBackend, "llmclient: provider %s embed: %v", name, err)
			if breaker, ok := c.breakers[name]; ok {
				breaker.RecordFailure()
			}
			continue
		}
		if breaker, ok := c.breakers[name]; ok {
			breaker.RecordSuccess()
		}
		return vec, nil
	}

	if lastErr == nil {
		lastErr = memerr.Wrap(memerr.ErrConfiguration, "llmclient: no providers configured")
	}
	return nil, lastErr
}
