package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"sidekick/internal/chat"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	cleanup := func() { db.Close() }
	return &Store{DB: db}, mock, cleanup
}

func TestSaveTurnMarshalsToolCalls(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	turn := chat.MessageTurn{
		ID:             "turn-1",
		ConversationID: "conv-1",
		Role:           chat.RoleAssistant,
		Status:         chat.StatusComplete,
		Content:        "calling a tool",
		ToolCalls:      []chat.ToolCall{{ID: "tc-1", Name: "web_search", Arguments: `{"query":"go"}`}},
		Metrics:        chat.GenerationMetrics{Model: "gpt-test", InputTokens: 10, OutputTokens: 4, Duration: 1500 * time.Millisecond},
		CreatedAt:      time.Now().UTC(),
	}
	encoded, _ := json.Marshal(turn.ToolCalls)

	mock.ExpectExec(`INSERT INTO turns`).
		WithArgs(turn.ID, turn.ConversationID, "assistant", "complete", turn.Content, encoded,
			"", "", "gpt-test", int64(10), int64(4), int64(1500), turn.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveTurn(context.Background(), turn); err != nil {
		t.Fatalf("SaveTurn: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListTurnsReturnsChronologicalOrder(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	cols := []string{"id", "conversation_id", "role", "status", "content", "tool_calls", "tool_call_id", "name",
		"model", "input_tokens", "output_tokens", "duration_ms", "created_at", "updated_at"}
	now := time.Now().UTC()
	// store returns newest first; ListTurns must flip to chronological
	rows := sqlmock.NewRows(cols).
		AddRow("t2", "conv-1", "assistant", "complete", "second", []byte("[]"), "", "", "", int64(0), int64(0), int64(0), now, now).
		AddRow("t1", "conv-1", "user", "complete", "first", []byte("[]"), "", "", "", int64(0), int64(0), int64(0), now.Add(-time.Minute), now)

	mock.ExpectQuery(`FROM turns WHERE conversation_id`).
		WithArgs("conv-1", 10).
		WillReturnRows(rows)

	turns, err := st.ListTurns(context.Background(), "conv-1", 10)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Content != "first" || turns[1].Content != "second" {
		t.Fatalf("turns not chronological: %q then %q", turns[0].Content, turns[1].Content)
	}
}

func TestListTurnsDecodesToolCalls(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	toolCalls := []byte(`[{"id":"tc-1","name":"web_search","arguments":"{\"query\":\"go\"}"}]`)
	cols := []string{"id", "conversation_id", "role", "status", "content", "tool_calls", "tool_call_id", "name",
		"model", "input_tokens", "output_tokens", "duration_ms", "created_at", "updated_at"}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(cols).
		AddRow("t1", "conv-1", "assistant", "complete", "x", toolCalls, "", "", "", int64(0), int64(0), int64(2500), now, now)

	mock.ExpectQuery(`FROM turns WHERE conversation_id`).
		WithArgs("conv-1").
		WillReturnRows(rows)

	turns, err := st.ListTurns(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns[0].ToolCalls) != 1 || turns[0].ToolCalls[0].Name != "web_search" {
		t.Fatalf("tool calls not decoded: %+v", turns[0].ToolCalls)
	}
	if turns[0].Metrics.Duration != 2500*time.Millisecond {
		t.Fatalf("duration not restored: %v", turns[0].Metrics.Duration)
	}
}

func TestPruneTurns(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	cutoff := time.Now().UTC().AddDate(0, 0, -90)
	mock.ExpectExec(`DELETE FROM turns WHERE created_at`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := st.PruneTurns(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PruneTurns: %v", err)
	}
	if n != 42 {
		t.Fatalf("expected 42 pruned, got %d", n)
	}
}

func TestGetUserByEmailNotFound(t *testing.T) {
	st, mock, cleanup := setupStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT id, password_hash FROM users`).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}))

	_, _, err := st.GetUserByEmail(context.Background(), "NOBODY@example.com")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
