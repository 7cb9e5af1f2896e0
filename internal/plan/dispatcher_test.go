package plan

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// scriptedLLM returns canned responses in order.
type scriptedLLM struct {
	responses []string
	prompts   []string
	err       error
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, _ string, _ map[string]interface{}) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("no more scripted responses")
	}
	out := s.responses[0]
	s.responses = s.responses[1:]
	return out, nil
}

func newTestDispatcher(llm *scriptedLLM, runner ToolRunner, attempts int) *SmartDispatcher {
	planner := NewPlanner(llm, "test-model", []ToolSpec{
		{Name: "web_search", Description: "search"},
		{Name: "note.save", Description: "save"},
	})
	return NewSmartDispatcher(planner, NewExecutor(runner), attempts, nil)
}

func TestSmartDispatcherHappyPath(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"tool_name":"web_search","tool_arguments":{"query":"go"}}]}`,
	}}
	runner := &recordingRunner{results: map[string]string{"web_search": "found it"}}

	out := newTestDispatcher(llm, runner, 2).Run(context.Background(), "find go docs")
	if out != "found it" {
		t.Fatalf("expected executor output, got %q", out)
	}
}

func TestSmartDispatcherRepairsInvalidPlan(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"tool_name":"time_travel","tool_arguments":{}}]}`,
		`{"steps":[{"tool_name":"web_search","tool_arguments":{"query":"go"}}]}`,
	}}
	runner := &recordingRunner{results: map[string]string{"web_search": "repaired"}}

	out := newTestDispatcher(llm, runner, 2).Run(context.Background(), "task")
	if out != "repaired" {
		t.Fatalf("expected success on second attempt, got %q", out)
	}
	if len(llm.prompts) != 2 {
		t.Fatalf("expected 2 planner attempts, got %d", len(llm.prompts))
	}
	if !strings.Contains(llm.prompts[1], "time_travel") {
		t.Fatalf("second prompt should carry feedback naming the bad tool:\n%s", llm.prompts[1])
	}
	if !strings.Contains(llm.prompts[1], "PREVIOUS ATTEMPT FAILED") {
		t.Fatalf("second prompt should carry the failure block:\n%s", llm.prompts[1])
	}
}

func TestSmartDispatcherExhaustion(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		`{"steps":[{"tool_name":"bad_one","tool_arguments":{}}]}`,
		`{"steps":[{"tool_name":"bad_two","tool_arguments":{}}]}`,
	}}
	out := newTestDispatcher(llm, &recordingRunner{}, 2).Run(context.Background(), "task")

	if !strings.HasPrefix(out, "Error: could not produce a valid plan after 2 attempts.") {
		t.Fatalf("unexpected exhaustion message: %q", out)
	}
	if !strings.Contains(out, "bad_two") {
		t.Fatalf("exhaustion message should carry the last failure: %q", out)
	}
}

func TestSmartDispatcherUnparseablePlan(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"I refuse to emit JSON.",
		`{"steps":[{"tool_name":"web_search","tool_arguments":{"query":"x"}}]}`,
	}}
	runner := &recordingRunner{results: map[string]string{"web_search": "ok"}}

	out := newTestDispatcher(llm, runner, 2).Run(context.Background(), "task")
	if out != "ok" {
		t.Fatalf("expected recovery after parse failure, got %q", out)
	}
}

func TestSmartDispatcherNeverErrorsOnLLMFailure(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("provider down")}
	out := newTestDispatcher(llm, &recordingRunner{}, 2).Run(context.Background(), "task")
	if !strings.HasPrefix(out, "Error: could not produce a valid plan") {
		t.Fatalf("expected descriptive failure string, got %q", out)
	}
}
