package chat

import (
	"encoding/json"

	"sidekick/internal/jsonx"
)

// DetectedToolCall is a tool request recovered from model output.
type DetectedToolCall struct {
	Name         string
	Arguments    map[string]interface{}
	RawArguments string
}

// DetectToolCall decides whether model output is a tool call rather than a
// final answer. It accepts {"tool_name","tool_arguments"} and the
// {"name","arguments"} alias, with or without markdown fences; the arguments
// field must be an object. Anything else is treated as plain text.
func DetectToolCall(text string) (*DetectedToolCall, bool) {
	obj, err := jsonx.ExtractObject(text)
	if err != nil {
		return nil, false
	}

	name, _ := obj["tool_name"].(string)
	argsAny, hasArgs := obj["tool_arguments"]
	if name == "" {
		name, _ = obj["name"].(string)
		argsAny, hasArgs = obj["arguments"]
	}
	if name == "" || !hasArgs {
		return nil, false
	}
	args, ok := argsAny.(map[string]interface{})
	if !ok {
		return nil, false
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, false
	}
	return &DetectedToolCall{Name: name, Arguments: args, RawArguments: string(raw)}, true
}
