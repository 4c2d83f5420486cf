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

const openAIBaseURL = "https://api.openai.com/v1"

// openAITaskModels maps each Task to its default chat/embedding model,
// mirroring the teacher's per-task-via-model-name routing in
// provider.DetectProvider generalized one level further: here a single
// connector picks its own default model per task rather than per
// provider family.
var openAITaskModels = map[Task]string{
	TaskFactExtraction:     "gpt-4o-mini",
	TaskTopicSegmentation:  "gpt-4o-mini",
	TaskEpisodeSummary:     "gpt-4o-mini",
	TaskKnowledgeSynthesis: "gpt-4o",
	TaskEmbedding:          "text-embedding-3-small",
}

// OpenAIConnector implements Connector against the OpenAI-compatible
// chat-completions and embeddings APIs, carried over from the teacher's
// OpenAIProvider (same transport pooling, same header/error-body
// handling) and adapted from streaming chat-completion semantics to this
// package's single-shot task-oriented Call/Embed.
type OpenAIConnector struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIConnector constructs a connector against apiKey, defaulting
// baseURL to the public OpenAI API when empty (so an OpenAI-compatible
// self-hosted gateway can be substituted without a code change).
func NewOpenAIConnector(apiKey, baseURL string, timeout time.Duration) *OpenAIConnector {
	if baseURL == "" {
		baseURL = openAIBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIConnector{
		apiKey:  apiKey,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *OpenAIConnector) Name() string { return "openai" }

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type       string                    `json:"type"`
	JSONSchema *openAIResponseJSONSchema `json:"json_schema,omitempty"`
}

type openAIResponseJSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIChatMessage   `json:"messages"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Call issues a chat completion. When opts.Schema is set, the request
// uses response_format={"type":"json_schema",...} — OpenAI's native
// structured-output enforcement — rather than prompting for JSON and
// parsing freeform text, per spec §7's "native JSON schema enforcement"
// requirement.
func (c *OpenAIConnector) Call(ctx context.Context, opts CallOptions, task Task, prompt string) (*Result, error) {
	model := openAITaskModels[task]
	if model == "" {
		model = "gpt-4o-mini"
	}

	messages := make([]openAIChatMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, openAIChatMessage{Role: "system", Content: opts.System})
	}
	messages = append(messages, openAIChatMessage{Role: "user", Content: prompt})

	req := openAIChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.Schema != nil {
		req.ResponseFormat = &openAIResponseFormat{
			Type: "json_schema",
			JSONSchema: &openAIResponseJSONSchema{
				Name:   string(task),
				Strict: true,
				Schema: opts.Schema,
			},
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrDataValidation, "openai: marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "openai: create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "openai: request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, memerr.Wrap(memerr.ErrRateLimited, "openai: rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "openai: status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, memerr.Wrap(memerr.ErrLLMParse, "openai: decode response: %v", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, memerr.Wrap(memerr.ErrLLMParse, "openai: empty choices")
	}

	content := chatResp.Choices[0].Message.Content
	result := &Result{
		Provider: c.Name(),
		Model:    chatResp.Model,
		Usage: Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}
	if opts.Schema != nil {
		if !json.Valid([]byte(content)) {
			return nil, memerr.Wrap(memerr.ErrLLMParse, "openai: schema-enforced response was not valid JSON")
		}
		result.Object = json.RawMessage(content)
	} else {
		result.Text = content
	}
	return result, nil
}

type openAIEmbeddingsRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *OpenAIConnector) Embed(ctx context.Context, text string) ([]float64, error) {
	req := openAIEmbeddingsRequest{Model: openAITaskModels[TaskEmbedding], Input: text}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrDataValidation, "openai: marshal embeddings request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrConfiguration, "openai: create embeddings request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "openai: embeddings request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, memerr.Wrap(memerr.ErrTransientBackend, "openai: embeddings status %d: %s", resp.StatusCode, string(respBody))
	}

	var embResp openAIEmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, memerr.Wrap(memerr.ErrLLMParse, "openai: decode embeddings response: %v", err)
	}
	if len(embResp.Data) == 0 {
		return nil, memerr.Wrap(memerr.ErrLLMParse, "openai: empty embeddings data")
	}
	return embResp.Data[0].Embedding, nil
}
