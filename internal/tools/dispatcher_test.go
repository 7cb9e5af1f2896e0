package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"sidekick/internal/chat"
)

type stubHandler struct {
	name    string
	execute func(ctx context.Context, args map[string]interface{}) (string, error)
}

func (h *stubHandler) Name() string        { return h.name }
func (h *stubHandler) Description() string { return "stub" }
func (h *stubHandler) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return h.execute(ctx, args)
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(nil)
	res := d.Dispatch(context.Background(), chat.ToolCall{ID: "c1", Name: "nope", Arguments: "{}"})
	if res.Result != "Error: Unknown tool 'nope'" {
		t.Fatalf("unexpected result: %q", res.Result)
	}
	if res.ToolCallID != "c1" || res.Name != "nope" {
		t.Fatalf("identity fields not preserved: %+v", res)
	}
}

func TestDispatchParseFailure(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "echo", execute: func(_ context.Context, args map[string]interface{}) (string, error) {
		return "ok", nil
	}})
	res := d.Dispatch(context.Background(), chat.ToolCall{Name: "echo", Arguments: "certainly not json"})
	if !strings.HasPrefix(res.Result, "Error: Could not parse arguments for tool echo") {
		t.Fatalf("unexpected result: %q", res.Result)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "boom", execute: func(context.Context, map[string]interface{}) (string, error) {
		return "", fmt.Errorf("backend unavailable")
	}})
	res := d.Dispatch(context.Background(), chat.ToolCall{Name: "boom", Arguments: "{}"})
	if res.Result != "Error executing tool boom: backend unavailable" {
		t.Fatalf("unexpected result: %q", res.Result)
	}
}

func TestDispatchHandlerPanic(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "panics", execute: func(context.Context, map[string]interface{}) (string, error) {
		panic("nil map write")
	}})
	res := d.Dispatch(context.Background(), chat.ToolCall{Name: "panics", Arguments: "{}"})
	if res.Result != "Error executing tool panics: nil map write" {
		t.Fatalf("panic must fold into a result string, got %q", res.Result)
	}
}

func TestDispatchRecoversArgumentsFromFence(t *testing.T) {
	var got map[string]interface{}
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "echo", execute: func(_ context.Context, args map[string]interface{}) (string, error) {
		got = args
		return "ok", nil
	}})
	res := d.Dispatch(context.Background(), chat.ToolCall{Name: "echo", Arguments: "```json\n{\"q\": \"x\"}\n```"})
	if res.Result != "ok" {
		t.Fatalf("unexpected result: %q", res.Result)
	}
	if got["q"] != "x" {
		t.Fatalf("fenced arguments not parsed: %v", got)
	}
}

func TestDispatchEmptyArgumentsIsParseFailure(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "noargs", execute: func(context.Context, map[string]interface{}) (string, error) {
		t.Fatalf("handler must not run without arguments")
		return "", nil
	}})
	for _, raw := range []string{"", "  ", "\n\t"} {
		res := d.Dispatch(context.Background(), chat.ToolCall{Name: "noargs", Arguments: raw})
		if res.Result != "Error: Could not parse arguments for tool noargs: empty arguments" {
			t.Fatalf("unexpected result for %q: %q", raw, res.Result)
		}
	}
}

func TestDispatchEmptyObjectArguments(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "noargs", execute: func(_ context.Context, args map[string]interface{}) (string, error) {
		if args == nil {
			return "", fmt.Errorf("args must never be nil")
		}
		return "fine", nil
	}})
	res := d.Dispatch(context.Background(), chat.ToolCall{Name: "noargs", Arguments: "{}"})
	if res.Result != "fine" {
		t.Fatalf("unexpected result: %q", res.Result)
	}
}

func TestRunMatchesDispatchSemantics(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "echo", execute: func(_ context.Context, args map[string]interface{}) (string, error) {
		return fmt.Sprintf("%v", args["q"]), nil
	}})
	if out := d.Run(context.Background(), "echo", map[string]interface{}{"q": "x"}); out != "x" {
		t.Fatalf("unexpected run output: %q", out)
	}
	if out := d.Run(context.Background(), "missing", nil); out != "Error: Unknown tool 'missing'" {
		t.Fatalf("unexpected run output: %q", out)
	}
}

func TestAliasResolvesButStaysOutOfSpecs(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&stubHandler{name: "note.save", execute: func(context.Context, map[string]interface{}) (string, error) {
		return "saved", nil
	}})
	d.Alias("save_note", "note.save")

	res := d.Dispatch(context.Background(), chat.ToolCall{Name: "save_note", Arguments: "{}"})
	if res.Result != "saved" {
		t.Fatalf("alias did not resolve: %q", res.Result)
	}

	specs := d.Specs()
	if len(specs) != 1 || specs[0].Name != "note.save" {
		t.Fatalf("specs should list canonical names only: %+v", specs)
	}
}

func TestSpecsExcludesNamed(t *testing.T) {
	d := NewDispatcher(nil)
	for _, name := range []string{"web_search", "planner", "executor", "smart_dispatcher"} {
		name := name
		d.Register(&stubHandler{name: name, execute: func(context.Context, map[string]interface{}) (string, error) {
			return "", nil
		}})
	}
	specs := d.Specs(planToolNames...)
	if len(specs) != 1 || specs[0].Name != "web_search" {
		t.Fatalf("plan tools must be excluded from the allow-list: %+v", specs)
	}
}
