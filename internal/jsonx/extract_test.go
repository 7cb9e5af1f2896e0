package jsonx

import (
	"errors"
	"testing"
)

func TestExtractObjectDirect(t *testing.T) {
	obj, err := ExtractObject(`{"a": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["a"] != float64(1) {
		t.Fatalf("expected a=1, got %v", obj["a"])
	}
}

func TestExtractObjectJSONFence(t *testing.T) {
	obj, err := ExtractObject("Here is the result:\n```json\n{\"a\": 1}\n```\nDone.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["a"] != float64(1) {
		t.Fatalf("expected a=1, got %v", obj["a"])
	}
}

func TestExtractObjectGenericFence(t *testing.T) {
	obj, err := ExtractObject("```\n{\"key\": \"value\"}\n```")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["key"] != "value" {
		t.Fatalf("expected key=value, got %v", obj["key"])
	}
}

func TestExtractObjectEmbeddedInProse(t *testing.T) {
	obj, err := ExtractObject(`noise before {"a": 1} noise after`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["a"] != float64(1) {
		t.Fatalf("expected a=1, got %v", obj["a"])
	}
}

func TestExtractObjectRepairsBareKeysAndSingleQuotes(t *testing.T) {
	obj, err := ExtractObject(`{tool_name: 'web_search', tool_arguments: {query: 'go testing'}}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj["tool_name"] != "web_search" {
		t.Fatalf("expected tool_name=web_search, got %v", obj["tool_name"])
	}
	args, ok := obj["tool_arguments"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested object, got %T", obj["tool_arguments"])
	}
	if args["query"] != "go testing" {
		t.Fatalf("expected query substituted, got %v", args["query"])
	}
}

func TestExtractObjectNotJSON(t *testing.T) {
	if _, err := ExtractObject("not json"); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
	if _, err := ExtractObject(""); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON for empty input, got %v", err)
	}
}

func TestExtractObjectArrayIsNotAnObject(t *testing.T) {
	if _, err := ExtractObject(`[1, 2, 3]`); err == nil {
		t.Fatalf("expected error for top-level array")
	}
}

func TestExtractInto(t *testing.T) {
	var out struct {
		Steps []struct {
			ToolName string `json:"tool_name"`
		} `json:"steps"`
	}
	raw := "```json\n{\"steps\":[{\"tool_name\":\"web_search\"}]}\n```"
	if err := ExtractInto(raw, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Steps) != 1 || out.Steps[0].ToolName != "web_search" {
		t.Fatalf("unexpected decode result: %+v", out)
	}
}
