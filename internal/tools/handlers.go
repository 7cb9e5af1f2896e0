package tools

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"sidekick/internal/memory"
	"sidekick/internal/plan"
	"sidekick/internal/search"
	"sidekick/internal/store"
)

// NoteStore is the slice of the store the note tool needs.
type NoteStore interface {
	SaveNote(ctx context.Context, note store.Note) error
}

// Indexer feeds saved notes into the retrieval index.
type Indexer interface {
	IndexDocument(ctx context.Context, source, sourceID, title, text string) (int, error)
}

// SummaryMemory appends conversation summaries to working memory.
type SummaryMemory interface {
	Append(ctx context.Context, conversationID, summary string) error
}

// Searcher is the slice of the search aggregator the search tools need.
type Searcher interface {
	Search(ctx context.Context, q search.Query) string
	SearchBatch(ctx context.Context, queries []search.Query) []string
}

// KnowledgeRetriever queries the memory index.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]memory.Match, error)
}

// --- argument coercion helpers ---

// stringArg returns the first non-empty string value among keys.
func stringArg(args map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// normalizeTags accepts a string, a list, or nothing, and always returns a
// non-nil slice.
func normalizeTags(raw interface{}) []string {
	tags := []string{}
	switch v := raw.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tags = append(tags, part)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				tags = append(tags, strings.TrimSpace(s))
			}
		}
	}
	return tags
}

// --- note.save ---

type noteSaver struct {
	notes   NoteStore
	indexer Indexer
	logger  *log.Logger
}

// NewNoteSaver persists notes and indexes them for retrieval. indexer may be
// nil when retrieval is disabled.
func NewNoteSaver(notes NoteStore, indexer Indexer) Handler {
	return &noteSaver{
		notes:   notes,
		indexer: indexer,
		logger:  log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
	}
}

func (n *noteSaver) Name() string { return "note.save" }
func (n *noteSaver) Description() string {
	return "Save a note for later. Arguments: content (required), title, tags (string or list)."
}

func (n *noteSaver) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	content := stringArg(args, "content", "text")
	if content == "" {
		return "", fmt.Errorf("note content is required")
	}
	title := stringArg(args, "title")
	if title == "" {
		title = fmt.Sprintf("Note from AI - %s", time.Now().UTC().Format("2006-01-02 15:04:05"))
	}
	note := store.Note{
		ID:      uuid.NewString(),
		Title:   title,
		Content: content,
		Tags:    normalizeTags(args["tags"]),
	}
	if err := n.notes.SaveNote(ctx, note); err != nil {
		return "", fmt.Errorf("save note: %w", err)
	}
	if n.indexer != nil {
		if _, err := n.indexer.IndexDocument(ctx, "note", note.ID, note.Title, note.Content); err != nil {
			n.logger.Printf("index note %s: %v", note.ID, err)
		}
	}
	return fmt.Sprintf("Note saved: %q", title), nil
}

// --- memory.update ---

type memoryUpdater struct {
	memory SummaryMemory
}

// NewMemoryUpdater appends timestamped summaries to working memory.
func NewMemoryUpdater(mem SummaryMemory) Handler {
	return &memoryUpdater{memory: mem}
}

func (m *memoryUpdater) Name() string { return "memory.update" }
func (m *memoryUpdater) Description() string {
	return "Record a short summary of the conversation so far. Arguments: summary (required), conversation_id."
}

func (m *memoryUpdater) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	summary := stringArg(args, "summary", "content")
	if summary == "" {
		return "", fmt.Errorf("summary is required")
	}
	conversationID := stringArg(args, "conversation_id")
	if conversationID == "" {
		conversationID = "global"
	}
	if err := m.memory.Append(ctx, conversationID, summary); err != nil {
		return "", err
	}
	return "Memory updated.", nil
}

// --- web_search / wikipedia_search ---

type webSearch struct {
	searcher Searcher
}

// NewWebSearch searches the web through the aggregator's fallback chain.
func NewWebSearch(searcher Searcher) Handler {
	return &webSearch{searcher: searcher}
}

func (w *webSearch) Name() string { return "web_search" }
func (w *webSearch) Description() string {
	return "Search the web. Arguments: query (or queries: a list of strings), engine (duckduckgo, google, brave, google_cse)."
}

func (w *webSearch) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	engine := search.Engine(stringArg(args, "engine"))

	if raw, ok := args["queries"].([]interface{}); ok && len(raw) > 0 {
		var queries []search.Query
		for _, item := range raw {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				queries = append(queries, search.Query{Engine: engine, Query: strings.TrimSpace(s)})
			}
		}
		if len(queries) == 0 {
			return "", fmt.Errorf("queries must contain at least one non-empty string")
		}
		return strings.Join(w.searcher.SearchBatch(ctx, queries), "\n\n---\n\n"), nil
	}

	query := stringArg(args, "query", "q")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return w.searcher.Search(ctx, search.Query{Engine: engine, Query: query}), nil
}

type wikipediaSearch struct {
	searcher Searcher
}

// NewWikipediaSearch searches wikipedia only.
func NewWikipediaSearch(searcher Searcher) Handler {
	return &wikipediaSearch{searcher: searcher}
}

func (w *wikipediaSearch) Name() string { return "wikipedia_search" }
func (w *wikipediaSearch) Description() string {
	return "Search Wikipedia. Arguments: query (required)."
}

func (w *wikipediaSearch) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query", "q")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return w.searcher.Search(ctx, search.Query{Engine: search.EngineWikipedia, Query: query}), nil
}

// --- retriever ---

type retrieverTool struct {
	retriever KnowledgeRetriever
}

// NewRetrieverTool surfaces saved notes and history by full-text search.
func NewRetrieverTool(r KnowledgeRetriever) Handler {
	return &retrieverTool{retriever: r}
}

func (r *retrieverTool) Name() string { return "retriever" }
func (r *retrieverTool) Description() string {
	return "Look up saved notes and past conversation content. Arguments: query (required), top_k."
}

func (r *retrieverTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query := stringArg(args, "query", "q")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	matches, err := r.retriever.Retrieve(ctx, query, intArg(args, "top_k", 0))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No relevant memory found for %q.", query), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Retrieved %d memory fragments for %q:\n", len(matches), query)
	for i, m := range matches {
		fmt.Fprintf(&sb, "\n[%d] (%s) %s\n%s\n", i+1, m.Chunk.Source, m.Chunk.Title, m.Chunk.Text)
	}
	return sb.String(), nil
}

// --- prompt_optimizer ---

type promptOptimizer struct {
	llm   plan.Generator
	model string
}

// NewPromptOptimizer rewrites a rough prompt into a sharper one using the
// utility model.
func NewPromptOptimizer(llm plan.Generator, model string) Handler {
	return &promptOptimizer{llm: llm, model: model}
}

func (p *promptOptimizer) Name() string { return "prompt_optimizer" }
func (p *promptOptimizer) Description() string {
	return "Rewrite a prompt to be clearer and more specific. Arguments: prompt (required)."
}

func (p *promptOptimizer) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	prompt := stringArg(args, "prompt", "text")
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}
	meta := fmt.Sprintf(`Rewrite the following prompt so it is clear, specific, and self-contained.
Keep the author's intent. Respond with only the rewritten prompt.

PROMPT:
%s`, prompt)
	out, err := p.llm.Generate(ctx, meta, p.model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  800,
	})
	if err != nil {
		return "", fmt.Errorf("optimize prompt: %w", err)
	}
	return strings.TrimSpace(out), nil
}
