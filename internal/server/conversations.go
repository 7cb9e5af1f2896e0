package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"sidekick/config"
	"sidekick/internal/chat"
	"sidekick/internal/memory"
	"sidekick/internal/store"
	"sidekick/internal/telemetry"
	"sidekick/provider"
)

// ConversationsHandler owns conversation CRUD and the chat endpoints. One
// turn controller exists per conversation so the single-flight guard applies
// per thread, not per process.
type ConversationsHandler struct {
	cfg       *config.Config
	store     *store.Store
	llm       provider.Provider
	tools     chat.Dispatcher
	retriever *memory.Retriever
	working   *memory.WorkingMemory
	telemetry *telemetry.Telemetry

	mu          sync.Mutex
	controllers map[string]*chat.Controller
}

func NewConversationsHandler(cfg *config.Config, st *store.Store, llm provider.Provider, tools chat.Dispatcher, retriever *memory.Retriever, working *memory.WorkingMemory, tele *telemetry.Telemetry) *ConversationsHandler {
	return &ConversationsHandler{
		cfg:         cfg,
		store:       st,
		llm:         llm,
		tools:       tools,
		retriever:   retriever,
		working:     working,
		telemetry:   tele,
		controllers: make(map[string]*chat.Controller),
	}
}

func (h *ConversationsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/turns", h.turns)
	g.POST("/:id/messages", h.send)
	g.POST("/:id/stop", h.stop)
}

// controller returns the conversation's turn controller, creating it on
// first use with the context gatherers wired.
func (h *ConversationsHandler) controller(conversationID string) *chat.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ctrl, ok := h.controllers[conversationID]; ok {
		return ctrl
	}

	model := h.cfg.LLM.Routing.Chat
	if model == "" {
		model = h.cfg.LLM.Routing.Fallback
	}
	ctrl := chat.NewController(h.cfg.Chat, h.llm, model, h.store, h.tools, h.telemetry)

	if h.cfg.Chat.RAGEnabled && h.retriever != nil {
		ctrl.AddContextGatherer(h.gatherRetrieved)
	}
	if h.working != nil {
		ctrl.AddContextGatherer(h.gatherSummaries)
	}

	h.controllers[conversationID] = ctrl
	return ctrl
}

func (h *ConversationsHandler) gatherRetrieved(ctx context.Context, _ string, userMessage string) string {
	matches, err := h.retriever.Retrieve(ctx, userMessage, 0)
	if err != nil || len(matches) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Relevant saved notes and history:\n")
	for _, m := range matches {
		fmt.Fprintf(&sb, "- (%s) %s: %s\n", m.Chunk.Source, m.Chunk.Title, m.Chunk.Text)
	}
	return sb.String()
}

func (h *ConversationsHandler) gatherSummaries(ctx context.Context, conversationID, _ string) string {
	entries, err := h.working.Recent(ctx, conversationID, 10)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return "Recent conversation summaries:\n" + strings.Join(entries, "\n")
}

func (h *ConversationsHandler) list(c echo.Context) error {
	convs, err := h.store.ListConversations(c.Request().Context(), c.Get("user_id").(string))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	return c.JSON(http.StatusOK, convs)
}

func (h *ConversationsHandler) create(c echo.Context) error {
	var req CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.store.CreateConversation(c.Request().Context(), c.Get("user_id").(string), req.Title)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, conv)
}

// owned loads a conversation and verifies the caller owns it.
func (h *ConversationsHandler) owned(c echo.Context) (chat.Conversation, error) {
	conv, err := h.store.GetConversation(c.Request().Context(), c.Param("id"))
	if err == store.ErrNotFound {
		return chat.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	if err != nil {
		return chat.Conversation{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if conv.UserID != c.Get("user_id").(string) {
		return chat.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return conv, nil
}

func (h *ConversationsHandler) get(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *ConversationsHandler) delete(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.store.DeleteConversation(c.Request().Context(), conv.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.mu.Lock()
	delete(h.controllers, conv.ID)
	h.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (h *ConversationsHandler) turns(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	turns, err := h.store.ListTurns(c.Request().Context(), conv.ID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if turns == nil {
		turns = []chat.MessageTurn{}
	}
	return c.JSON(http.StatusOK, turns)
}

// send runs one message through the turn controller. With streaming enabled
// the response is server-sent events, one event per turn mutation, ending
// with a "done" event carrying the final turn.
func (h *ConversationsHandler) send(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	ctrl := h.controller(conv.ID)

	wantStream := h.cfg.Server.StreamEnabled && c.QueryParam("stream") != "false"
	if !wantStream {
		final, err := ctrl.Send(c.Request().Context(), conv.ID, req.Content)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, final)
	}

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	var streamMu sync.Mutex
	writeEvent := func(event string, payload interface{}) {
		streamMu.Lock()
		defer streamMu.Unlock()
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if event != "" {
			fmt.Fprintf(res, "event: %s\n", event)
		}
		fmt.Fprintf(res, "data: %s\n\n", data)
		res.Flush()
	}

	removeListener := ctrl.SetListener(func(turn chat.MessageTurn) { writeEvent("turn", turn) })
	defer removeListener()

	final, err := ctrl.Send(c.Request().Context(), conv.ID, req.Content)
	if err != nil {
		writeEvent("error", map[string]string{"error": err.Error()})
		return nil
	}
	writeEvent("done", final)
	return nil
}

// stop cancels the in-flight send, if any. The active turn finalizes as
// cancelled.
func (h *ConversationsHandler) stop(c echo.Context) error {
	conv, err := h.owned(c)
	if err != nil {
		return err
	}
	h.mu.Lock()
	ctrl, ok := h.controllers[conv.ID]
	h.mu.Unlock()
	if ok {
		ctrl.Stop()
	}
	return c.NoContent(http.StatusAccepted)
}
