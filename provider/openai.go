package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sidekick/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient speaks the OpenAI-compatible chat-completions API. Streaming
// responses arrive as server-sent events terminated by a [DONE] sentinel.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	temperature float64
	maxTokens   int
	retries     int
	httpClient  *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg config.LLMProviderConfig) *OpenAIClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retries:     cfg.MaxRetries,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type openAIRequest struct {
	Model           string         `json:"model"`
	Messages        []Message      `json:"messages"`
	Stream          bool           `json:"stream"`
	Temperature     float64        `json:"temperature,omitempty"`
	MaxTokens       int            `json:"max_tokens,omitempty"`
	TopP            float64        `json:"top_p,omitempty"`
	PresencePenalty float64        `json:"presence_penalty,omitempty"`
	StreamOptions   *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Stream posts a streaming completion and decodes SSE data lines.
func (c *OpenAIClient) Stream(ctx context.Context, req ChatRequest, onDelta func(string)) (string, Usage, error) {
	body := openAIRequest{
		Model:           req.Model,
		Messages:        req.Messages,
		Stream:          true,
		Temperature:     c.pickTemperature(req.Temperature),
		MaxTokens:       c.pickMaxTokens(req.MaxTokens),
		TopP:            req.TopP,
		PresencePenalty: req.PresencePenalty,
		StreamOptions:   &streamOptions{IncludeUsage: true},
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", Usage{}, err
	}
	defer resp.Body.Close()

	var content strings.Builder
	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Usage *openAIUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // tolerate malformed keep-alive frames
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			content.WriteString(chunk.Choices[0].Delta.Content)
			if onDelta != nil {
				onDelta(chunk.Choices[0].Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return content.String(), usage, ctx.Err()
		}
		return content.String(), usage, fmt.Errorf("read stream: %w", err)
	}
	return content.String(), usage, nil
}

// Generate runs a non-streaming single-prompt completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	body := openAIRequest{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if v, ok := options["temperature"].(float64); ok {
		body.Temperature = v
	}
	if v, ok := options["max_tokens"].(int); ok {
		body.MaxTokens = v
	}

	resp, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

// post sends a JSON request with bearer auth, retrying transport failures.
func (c *OpenAIClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request: %w", err)
		} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(b))
		} else {
			return resp, nil
		}

		if attempt < tries-1 {
			select {
			case <-time.After(300 * time.Millisecond << attempt):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *OpenAIClient) pickTemperature(v float64) float64 {
	if v != 0 {
		return v
	}
	return c.temperature
}

func (c *OpenAIClient) pickMaxTokens(v int) int {
	if v != 0 {
		return v
	}
	return c.maxTokens
}
