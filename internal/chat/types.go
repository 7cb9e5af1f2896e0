// Package chat owns the conversation data model and the streaming turn
// controller that drives LLM completions and tool-call follow-ups.
package chat

import (
	"context"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// TurnStatus tracks a turn through its lifecycle.
type TurnStatus string

const (
	StatusStreaming           TurnStatus = "streaming"
	StatusComplete            TurnStatus = "complete"
	StatusError               TurnStatus = "error"
	StatusCancelled           TurnStatus = "cancelled"
	StatusAwaitingToolResults TurnStatus = "awaiting_tool_results"
)

// Conversation is a thread of turns.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ToolCall is a structured action request attached to an assistant turn.
// Arguments holds the raw JSON argument text exactly as the model emitted it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResult is the dispatcher's answer for one tool call. Result is always
// a plain string, even when the tool failed.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Result     string `json:"result"`
}

// GenerationMetrics records what one completion cost.
type GenerationMetrics struct {
	Model        string        `json:"model,omitempty"`
	InputTokens  int64         `json:"input_tokens,omitempty"`
	OutputTokens int64         `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// MessageTurn is one message within a conversation.
type MessageTurn struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           Role              `json:"role"`
	Status         TurnStatus        `json:"status"`
	Content        string            `json:"content"`
	ToolCalls      []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID     string            `json:"tool_call_id,omitempty"`
	Name           string            `json:"name,omitempty"`
	Metrics        GenerationMetrics `json:"metrics,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Storage persists conversations and turns. The postgres store implements
// it; tests substitute fakes.
type Storage interface {
	SaveTurn(ctx context.Context, turn MessageTurn) error
	ListTurns(ctx context.Context, conversationID string, limit int) ([]MessageTurn, error)
	TouchConversation(ctx context.Context, conversationID string) error
}

// Dispatcher executes one tool call. Implementations never return an error;
// failures are folded into the result string.
type Dispatcher interface {
	Dispatch(ctx context.Context, call ToolCall) ToolResult
}

// TurnListener observes turn mutations, e.g. to relay them to a client.
type TurnListener func(turn MessageTurn)
