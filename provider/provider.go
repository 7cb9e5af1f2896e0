// Package provider resolves configured LLM backends behind one interface.
package provider

import (
	"context"
	"errors"
	"fmt"

	"sidekick/config"
)

// Message is one entry in a chat-completions conversation.
type Message struct {
	Role       string `json:"role"` // system, user, assistant, tool
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ChatRequest describes one completion call.
type ChatRequest struct {
	Model           string
	Messages        []Message
	Temperature     float64
	MaxTokens       int
	TopP            float64
	PresencePenalty float64
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Provider is the contract every LLM backend satisfies.
type Provider interface {
	// Stream runs a streaming completion, invoking onDelta for each content
	// fragment, and returns the full accumulated text.
	Stream(ctx context.Context, req ChatRequest, onDelta func(delta string)) (string, Usage, error)

	// Generate runs a non-streaming completion for a single prompt.
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
}

// ErrUnsupportedProvider is returned for unknown provider types.
var ErrUnsupportedProvider = errors.New("unsupported LLM provider")

// New creates a provider from a single provider configuration.
func New(cfg config.LLMProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai", "":
		return NewOpenAIClient(cfg), nil
	case "ollama":
		return NewOllamaClient(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Type)
	}
}

// Registry holds the providers built from configuration, keyed by name.
type Registry struct {
	providers map[string]Provider
	routing   config.LLMRoutingConfig
}

// NewRegistry builds every configured provider.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider), routing: cfg.Routing}
	for name, pc := range cfg.Providers {
		p, err := New(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		r.providers[name] = p
	}
	if len(r.providers) == 0 {
		return nil, errors.New("no LLM providers configured")
	}
	return r, nil
}

// Get returns a provider by name, or any provider when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		for _, p := range r.providers {
			return p, nil
		}
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Routing exposes the model routing table.
func (r *Registry) Routing() config.LLMRoutingConfig { return r.routing }
