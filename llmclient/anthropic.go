package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/maksim-tsi/yet-another-agents-memory-sub006/memerr"
)

const (
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

var anthropicTaskModels = map[Task]string{
	TaskFactExtraction:     "claude-haiku-4-5",
	TaskTopicSegmentation:  "claude-haiku-4-5",
	TaskEpisodeSummary:     "claude-haiku-4-5",
	TaskKnowledgeSynthesis: "claude-sonnet-4-5",
}

// AnthropicConnector implements Connector against the Anthropic Messages
// API, carried over from the teacher's AnthropicProvider (x-api-key auth,
// anthropic-version header, messages request shape). Anthropic has no
// response_format option, so schema enforcement is expressed the way its
// own API supports structured output: a single forced tool call whose
// input_schema is the requested schema, read back from the tool_use
// block instead of parsed out of freeform text.
type AnthropicConnector struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicConnector constructs a connector against apiKey.
func NewAnthropicConnector(apiKey string, timeout time.Duration) *AnthropicConnector {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicConnector{
		apiKey:  apiKey,
		baseURL: anthropicBaseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *AnthropicConnector) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	Messages    []anthropicMessage   `json:"messages"`
	System      string               `json:"system,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *AnthropicConnector) Call(ctx context.Context, opts CallOptions, task Task, prompt string) (*Result, error) {
	model := anthropicTaskModels[task]
	if model == "" {
		model = "claude-haiku-4-5"
	}

	maxTokens := 1024
	if opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	req := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		System:      opts.System,
		Temperature: opts.Temperature,
	}
	const toolName = "emit_structured_result"
	if opts.Schema != nil {
		req.Tools = []anthropicTool{{
			Name:        toolName,
			Description: "Emit the result for task " + string(task) + " conforming to the required schema.",
			InputSchema: opts.Schema,
		}}
		req.ToolChoice = &anthropicToolChoice{Type: "tool", Name: toolName}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrDataValidation, "anthropic: marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "anthropic: create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "anthropic: request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, memerr.Wrap(memerr.ErrRateLimited, "anthropic: rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "anthropic: status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, memerr.Wrap(memerr.ErrLLMParse, "anthropic: decode response: %v", err)
	}

	result := &Result{
		Provider: c.Name(),
		Model:    chatResp.Model,
		Usage: Usage{
			PromptTokens:     chatResp.Usage.InputTokens,
			CompletionTokens: chatResp.Usage.OutputTokens,
			TotalTokens:      chatResp.Usage.InputTokens + chatResp.Usage.OutputTokens,
		},
	}

	for _, block := range chatResp.Content {
		switch block.Type {
		case "tool_use":
			if block.Name == toolName {
				result.Object = block.Input
			}
		case "text":
			result.Text += block.Text
		}
	}
	if opts.Schema != nil && len(result.Object) == 0 {
		return nil, memerr.Wrap(memerr.ErrLLMParse, "anthropic: expected tool_use block, got none")
	}
	return result, nil
}

// Embed is unsupported — Anthropic does not offer an embeddings
// endpoint; callers relying on embeddings must order a connector that
// does (e.g. OpenAI) ahead of Anthropic in ProviderOrder.
func (c *AnthropicConnector) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, memerr.Wrap(memerr.ErrConfiguration, "anthropic: embeddings not supported by this provider")
}
