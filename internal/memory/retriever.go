// Package memory provides the assistant's recall: a BM25 index over saved
// notes and conversation history, and a redis-backed working memory.
package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve"

	"sidekick/config"
)

// Chunk is one indexed fragment of a note or turn.
type Chunk struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"` // note, turn
	SourceID   string    `json:"source_id"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	ChunkIndex int       `json:"chunk_index"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Match is one retrieval hit.
type Match struct {
	Chunk Chunk
	Score float64
}

// Retriever maintains a BM25 full-text index over assistant memory.
type Retriever struct {
	index  bleve.Index
	cfg    config.RetrieverConfig
	logger *log.Logger
}

// NewRetriever opens (or creates) the index. An empty index path yields an
// in-memory index that does not survive restarts.
func NewRetriever(cfg config.RetrieverConfig) (*Retriever, error) {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 5
	}

	var index bleve.Index
	var err error
	if cfg.IndexPath == "" {
		index, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else if _, statErr := os.Stat(cfg.IndexPath); statErr == nil {
		index, err = bleve.Open(cfg.IndexPath)
	} else {
		index, err = bleve.New(cfg.IndexPath, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open retriever index: %w", err)
	}

	return &Retriever{
		index:  index,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[RETRIEVER] ", log.LstdFlags),
	}, nil
}

// IndexDocument chunks and indexes one document. Existing chunks for the
// same content hash are overwritten, which makes re-indexing idempotent.
func (r *Retriever) IndexDocument(ctx context.Context, source, sourceID, title, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}
	hash := sha1Hex(text)
	now := time.Now()
	chunks := makeChunks(text, r.cfg.ChunkSize, r.cfg.Overlap)
	for i, part := range chunks {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		chunk := Chunk{
			ID:         fmt.Sprintf("%s#%03d", hash, i),
			Source:     source,
			SourceID:   sourceID,
			Title:      title,
			Text:       part,
			ChunkIndex: i,
			IndexedAt:  now,
		}
		if err := r.index.Index(chunk.ID, chunk); err != nil {
			return i, fmt.Errorf("index chunk %s: %w", chunk.ID, err)
		}
	}
	return len(chunks), nil
}

// Retrieve returns the best-matching chunks for a query.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, topK, 0, false)
	req.Fields = []string{"source", "source_id", "title", "text"}

	res, err := r.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	var matches []Match
	for _, hit := range res.Hits {
		chunk := Chunk{ID: hit.ID}
		if v, ok := hit.Fields["source"].(string); ok {
			chunk.Source = v
		}
		if v, ok := hit.Fields["source_id"].(string); ok {
			chunk.SourceID = v
		}
		if v, ok := hit.Fields["title"].(string); ok {
			chunk.Title = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			chunk.Text = v
		}
		matches = append(matches, Match{Chunk: chunk, Score: hit.Score})
	}
	return matches, nil
}

// Close releases the underlying index.
func (r *Retriever) Close() error { return r.index.Close() }

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func makeChunks(text string, approx, overlap int) []string {
	if len(text) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(text); {
		end := start + approx
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		start = end - overlap
	}
	return chunks
}
