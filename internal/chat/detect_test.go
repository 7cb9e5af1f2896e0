package chat

import "testing"

func TestDetectToolCall(t *testing.T) {
	call, ok := DetectToolCall(`{"tool_name": "web_search", "tool_arguments": {"query": "go"}}`)
	if !ok {
		t.Fatalf("expected tool call detected")
	}
	if call.Name != "web_search" {
		t.Fatalf("unexpected name %q", call.Name)
	}
	if call.Arguments["query"] != "go" {
		t.Fatalf("unexpected arguments %v", call.Arguments)
	}
	if call.RawArguments == "" {
		t.Fatalf("raw arguments should round-trip")
	}
}

func TestDetectToolCallAlias(t *testing.T) {
	call, ok := DetectToolCall(`{"name": "note.save", "arguments": {"content": "hi"}}`)
	if !ok {
		t.Fatalf("expected alias form detected")
	}
	if call.Name != "note.save" {
		t.Fatalf("unexpected name %q", call.Name)
	}
}

func TestDetectToolCallFenced(t *testing.T) {
	text := "```json\n{\"tool_name\": \"fetcher\", \"tool_arguments\": {\"url\": \"https://example.com\"}}\n```"
	if _, ok := DetectToolCall(text); !ok {
		t.Fatalf("expected fenced tool call detected")
	}
}

func TestDetectToolCallRejectsNonObjectArguments(t *testing.T) {
	if _, ok := DetectToolCall(`{"tool_name": "x", "tool_arguments": "not an object"}`); ok {
		t.Fatalf("string arguments must not be a tool call")
	}
	if _, ok := DetectToolCall(`{"tool_name": "x"}`); ok {
		t.Fatalf("missing arguments must not be a tool call")
	}
}

func TestDetectToolCallRejectsPlainText(t *testing.T) {
	if _, ok := DetectToolCall("The capital of France is Paris."); ok {
		t.Fatalf("plain text must not be a tool call")
	}
	if _, ok := DetectToolCall(`{"answer": 42}`); ok {
		t.Fatalf("arbitrary JSON must not be a tool call")
	}
}
