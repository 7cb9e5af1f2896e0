// Package store persists users, conversations, turns and notes in postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"sidekick/internal/chat"
)

// Store wraps the postgres connection.
type Store struct {
	DB *sql.DB
}

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// NewWithDSN opens and verifies a postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// --- users ---

// CreateUser inserts a user with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, created_at)
VALUES ($1,$2,$3,NOW())
`, uuid.NewString(), strings.ToLower(email), passwordHash)
	return err
}

// GetUserByEmail returns the user id and password hash for login checks.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx, `
SELECT id, password_hash FROM users WHERE email = $1
`, strings.ToLower(email)).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return id, hash, err
}

// --- conversations ---

// CreateConversation inserts a conversation and returns it.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (chat.Conversation, error) {
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO conversations (id, user_id, title, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
`, conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation loads one conversation.
func (s *Store) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var conv chat.Conversation
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = $1
`, id).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, ErrNotFound
	}
	return conv, err
}

// ListConversations returns a user's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, title, created_at, updated_at
FROM conversations WHERE user_id = $1 ORDER BY updated_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Conversation
	for rows.Next() {
		var conv chat.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its turns.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return err
}

// TouchConversation bumps the updated_at timestamp.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, id)
	return err
}

// --- turns ---

// SaveTurn upserts a turn by id. Turns are created in "streaming" status and
// mutated in place as chunks arrive, so upsert is the natural write.
func (s *Store) SaveTurn(ctx context.Context, turn chat.MessageTurn) error {
	toolCalls, err := json.Marshal(turn.ToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO turns (id, conversation_id, role, status, content, tool_calls, tool_call_id, name,
                   model, input_tokens, output_tokens, duration_ms, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW())
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  content = EXCLUDED.content,
  tool_calls = EXCLUDED.tool_calls,
  model = EXCLUDED.model,
  input_tokens = EXCLUDED.input_tokens,
  output_tokens = EXCLUDED.output_tokens,
  duration_ms = EXCLUDED.duration_ms,
  updated_at = NOW();
`, turn.ID, turn.ConversationID, string(turn.Role), string(turn.Status), turn.Content, toolCalls,
		turn.ToolCallID, turn.Name, turn.Metrics.Model, turn.Metrics.InputTokens, turn.Metrics.OutputTokens,
		turn.Metrics.Duration.Milliseconds(), turn.CreatedAt)
	return err
}

// ListTurns returns the most recent turns of a conversation in chronological
// order. limit <= 0 returns everything.
func (s *Store) ListTurns(ctx context.Context, conversationID string, limit int) ([]chat.MessageTurn, error) {
	query := `
SELECT id, conversation_id, role, status, content, tool_calls, tool_call_id, name,
       model, input_tokens, output_tokens, duration_ms, created_at, updated_at
FROM turns WHERE conversation_id = $1 ORDER BY created_at DESC
`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.MessageTurn
	for rows.Next() {
		var t chat.MessageTurn
		var toolCalls []byte
		var durationMS int64
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Role, &t.Status, &t.Content, &toolCalls,
			&t.ToolCallID, &t.Name, &t.Metrics.Model, &t.Metrics.InputTokens, &t.Metrics.OutputTokens,
			&durationMS, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Metrics.Duration = time.Duration(durationMS) * time.Millisecond
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for turn %s: %w", t.ID, err)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneTurns deletes turns older than the cutoff. Used by the retention
// sweeper.
func (s *Store) PruneTurns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM turns WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- notes ---

// Note is a piece of knowledge the assistant chose to keep.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveNote inserts a note.
func (s *Store) SaveNote(ctx context.Context, note Note) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO notes (id, title, content, tags, created_at)
VALUES ($1,$2,$3,$4,NOW())
`, note.ID, note.Title, note.Content, pq.Array(note.Tags))
	return err
}

// ListNotes returns notes, most recent first.
func (s *Store) ListNotes(ctx context.Context, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, content, tags, created_at FROM notes ORDER BY created_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, pq.Array(&n.Tags), &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
