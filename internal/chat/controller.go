package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sidekick/config"
	"sidekick/internal/telemetry"
	"sidekick/provider"
)

// ContextGatherer contributes one block of system-prompt context for a send,
// e.g. retrieved notes or working-memory summaries. Gatherers must not fail
// the send; they return empty on error.
type ContextGatherer func(ctx context.Context, conversationID, userMessage string) string

// cancellationMarker is appended to a stopped turn's partial content.
const cancellationMarker = "\n\n[Generation stopped by user]"

// defaultMaxToolRounds bounds recursive tool-call follow-ups. The model
// deciding to stop is not a bound; this is.
const defaultMaxToolRounds = 8

// Controller owns one in-flight send per instance. Starting a new send
// cancels the previous one, and a call-id guard keeps the previous send's
// late callbacks from mutating turn state.
type Controller struct {
	cfg       config.ChatConfig
	llm       provider.Provider
	model     string
	storage   Storage
	tools     Dispatcher
	gatherers []ContextGatherer
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	callID atomic.Int64

	mu       sync.Mutex
	cancel   context.CancelFunc
	listener *listenerEntry
}

// listenerEntry wraps a TurnListener so a stale remover can tell whether the
// installed listener is still its own.
type listenerEntry struct {
	fn TurnListener
}

// NewController assembles a turn controller.
func NewController(cfg config.ChatConfig, llm provider.Provider, model string, storage Storage, tools Dispatcher, tele *telemetry.Telemetry) *Controller {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	return &Controller{
		cfg:       cfg,
		llm:       llm,
		model:     model,
		storage:   storage,
		tools:     tools,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
}

// AddContextGatherer registers a context source consulted on every send.
func (c *Controller) AddContextGatherer(g ContextGatherer) {
	c.gatherers = append(c.gatherers, g)
}

// SetListener installs the turn observer and returns its remover. Only the
// current call's updates reach the listener. The remover clears the listener
// only if it is still the one this call installed, so a superseded request
// unwinding late cannot drop its replacement's listener.
func (c *Controller) SetListener(l TurnListener) (remove func()) {
	entry := &listenerEntry{fn: l}
	c.mu.Lock()
	c.listener = entry
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		if c.listener == entry {
			c.listener = nil
		}
		c.mu.Unlock()
	}
}

// Stop cancels the in-flight send, if any. The active turn finalizes as
// cancelled with its partial content preserved.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// current reports whether id is still the live call.
func (c *Controller) current(id int64) bool {
	return c.callID.Load() == id
}

// emit relays a turn snapshot to the listener when the call is still live.
func (c *Controller) emit(id int64, turn MessageTurn) {
	if !c.current(id) {
		return
	}
	c.mu.Lock()
	entry := c.listener
	c.mu.Unlock()
	if entry != nil && entry.fn != nil {
		entry.fn(turn)
	}
}

// save persists a turn when the call is still live. Persistence failures are
// logged, not fatal; the conversation continues in memory.
func (c *Controller) save(ctx context.Context, id int64, turn MessageTurn) {
	if !c.current(id) {
		return
	}
	if err := c.storage.SaveTurn(ctx, turn); err != nil {
		c.logger.Printf("save turn %s: %v", turn.ID, err)
	}
}

// Send runs one user message through the completion/tool loop and returns
// the final assistant turn. Any in-flight send is cancelled first.
func (c *Controller) Send(ctx context.Context, conversationID, userMessage string) (MessageTurn, error) {
	id := c.callID.Add(1)

	cctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel() // single-flight: abort the previous send
	}
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		if c.current(id) {
			c.cancel = nil
		}
		c.mu.Unlock()
	}()

	now := time.Now().UTC()
	userTurn := MessageTurn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Status:         StatusComplete,
		Content:        userMessage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c.save(cctx, id, userTurn)
	c.emit(id, userTurn)

	messages, err := c.buildMessages(cctx, conversationID, userMessage, userTurn.ID)
	if err != nil {
		return MessageTurn{}, err
	}

	final := c.completionLoop(cctx, id, conversationID, messages)
	if c.current(id) {
		if err := c.storage.TouchConversation(cctx, conversationID); err != nil {
			c.logger.Printf("touch conversation %s: %v", conversationID, err)
		}
	}
	return final, nil
}

// buildMessages assembles the system prompt and recent history. The current
// user turn is already persisted, so history skips it; it is appended last.
func (c *Controller) buildMessages(ctx context.Context, conversationID, userMessage, currentTurnID string) ([]provider.Message, error) {
	persona := c.cfg.Persona
	if persona == "" {
		persona = "You are a helpful assistant."
	}
	var system strings.Builder
	system.WriteString(persona)
	for _, gather := range c.gatherers {
		if block := strings.TrimSpace(gather(ctx, conversationID, userMessage)); block != "" {
			system.WriteString("\n\n")
			system.WriteString(block)
		}
	}

	messages := []provider.Message{{Role: "system", Content: system.String()}}

	history, err := c.storage.ListTurns(ctx, conversationID, c.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	for _, turn := range history {
		if turn.ID == currentTurnID {
			continue
		}
		switch turn.Role {
		case RoleUser, RoleAssistant:
			if turn.Content != "" && turn.Status != StatusStreaming {
				messages = append(messages, provider.Message{Role: string(turn.Role), Content: turn.Content})
			}
		case RoleTool:
			messages = append(messages, provider.Message{
				Role: "tool", Content: turn.Content, Name: turn.Name, ToolCallID: turn.ToolCallID,
			})
		}
	}
	messages = append(messages, provider.Message{Role: "user", Content: userMessage})
	return messages, nil
}

// completionLoop streams completions and follows tool calls until the model
// emits a final answer, the round budget is exhausted, or the send is
// cancelled or fails.
func (c *Controller) completionLoop(ctx context.Context, id int64, conversationID string, messages []provider.Message) MessageTurn {
	for round := 0; ; round++ {
		turn := c.newStreamingTurn(conversationID)
		c.save(ctx, id, turn)
		c.emit(id, turn)

		start := time.Now()
		full, usage, err := c.llm.Stream(ctx, provider.ChatRequest{Model: c.model, Messages: messages}, func(delta string) {
			if !c.current(id) {
				return // stale callback from a superseded send
			}
			turn.Content += delta
			turn.UpdatedAt = time.Now().UTC()
			c.emit(id, turn)
		})

		turn.Metrics = GenerationMetrics{
			Model:        c.model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			Duration:     time.Since(start),
		}
		if c.telemetry != nil {
			c.telemetry.RecordLLMRequest(c.model, usage.InputTokens, usage.OutputTokens, turn.Metrics.Duration)
		}

		if err != nil {
			return c.finalizeFailure(id, turn, err)
		}
		turn.Content = full

		call, isToolCall := detectWithinBudget(full, round, c.cfg.MaxToolRounds, c.logger)
		if !isToolCall {
			turn.Status = StatusComplete
			turn.UpdatedAt = time.Now().UTC()
			c.save(ctx, id, turn)
			c.emit(id, turn)
			c.recordTurn("complete")
			return turn
		}

		toolCall := ToolCall{ID: uuid.NewString(), Name: call.Name, Arguments: call.RawArguments}
		turn.Status = StatusAwaitingToolResults
		turn.ToolCalls = []ToolCall{toolCall}
		turn.UpdatedAt = time.Now().UTC()
		c.save(ctx, id, turn)
		c.emit(id, turn)

		result := c.tools.Dispatch(ctx, toolCall)

		toolTurn := c.newToolTurn(conversationID, result)
		c.save(ctx, id, toolTurn)
		c.emit(id, toolTurn)

		turn.Status = StatusComplete
		turn.UpdatedAt = time.Now().UTC()
		c.save(ctx, id, turn)

		messages = append(messages,
			provider.Message{Role: "assistant", Content: full},
			provider.Message{Role: "tool", Content: result.Result, Name: result.Name, ToolCallID: result.ToolCallID},
		)
	}
}

// detectWithinBudget runs tool-call detection unless the round budget is
// spent, in which case the text is treated as a final answer.
func detectWithinBudget(text string, round, maxRounds int, logger *log.Logger) (*DetectedToolCall, bool) {
	call, ok := DetectToolCall(text)
	if !ok {
		return nil, false
	}
	if round >= maxRounds {
		logger.Printf("tool round limit (%d) reached; treating output as final answer", maxRounds)
		return nil, false
	}
	return call, true
}

// finalizeFailure closes a turn after a stream error, distinguishing
// cancellation from failure.
func (c *Controller) finalizeFailure(id int64, turn MessageTurn, err error) MessageTurn {
	turn.UpdatedAt = time.Now().UTC()
	if errors.Is(err, context.Canceled) {
		turn.Status = StatusCancelled
		turn.Content += cancellationMarker
		c.recordTurn("cancelled")
	} else {
		turn.Status = StatusError
		turn.Content = fmt.Sprintf("Error: %v", err)
		c.recordTurn("error")
		c.logger.Printf("stream failed: %v", err)
	}
	// A cancelled turn still persists; use a fresh context since ctx is the
	// one that was cancelled.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.save(saveCtx, id, turn)
	c.emit(id, turn)
	return turn
}

func (c *Controller) newStreamingTurn(conversationID string) MessageTurn {
	now := time.Now().UTC()
	return MessageTurn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Status:         StatusStreaming,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (c *Controller) newToolTurn(conversationID string, result ToolResult) MessageTurn {
	now := time.Now().UTC()
	return MessageTurn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           RoleTool,
		Status:         StatusComplete,
		Content:        result.Result,
		ToolCallID:     result.ToolCallID,
		Name:           result.Name,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (c *Controller) recordTurn(status string) {
	if c.telemetry != nil {
		c.telemetry.RecordTurn(status)
	}
}
