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

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient speaks the Ollama chat API. Streaming responses arrive as
// newline-delimited JSON objects terminated by a done:true frame.
type OllamaClient struct {
	baseURL     string
	temperature float64
	httpClient  *http.Client
}

// NewOllamaClient creates a client for a local or remote Ollama daemon.
func NewOllamaClient(cfg config.LLMProviderConfig) *OllamaClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return &OllamaClient{
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	PromptEvalCount int64 `json:"prompt_eval_count"`
	EvalCount       int64 `json:"eval_count"`
}

// Stream posts a streaming chat request and decodes NDJSON frames.
func (c *OllamaClient) Stream(ctx context.Context, req ChatRequest, onDelta func(string)) (string, Usage, error) {
	options := map[string]interface{}{}
	if t := req.Temperature; t != 0 {
		options["temperature"] = t
	} else if c.temperature != 0 {
		options["temperature"] = c.temperature
	}
	if req.MaxTokens != 0 {
		options["num_predict"] = req.MaxTokens
	}
	body := ollamaChatRequest{Model: req.Model, Messages: req.Messages, Stream: true, Options: options}

	resp, err := c.post(ctx, "/api/chat", body)
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
		if line == "" {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if onDelta != nil {
				onDelta(chunk.Message.Content)
			}
		}
		if chunk.Done {
			usage.InputTokens = chunk.PromptEvalCount
			usage.OutputTokens = chunk.EvalCount
			break
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
func (c *OllamaClient) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	opts := map[string]interface{}{}
	if v, ok := options["temperature"].(float64); ok {
		opts["temperature"] = v
	} else if c.temperature != 0 {
		opts["temperature"] = c.temperature
	}
	if v, ok := options["max_tokens"].(int); ok {
		opts["num_predict"] = v
	}
	body := ollamaChatRequest{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   false,
		Options:  opts,
	}

	resp, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatChunk
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return out.Message.Content, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}
