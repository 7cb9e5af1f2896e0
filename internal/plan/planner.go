package plan

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Generator is the slice of the LLM provider the planner needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
}

// ToolSpec describes one tool the planner may use.
type ToolSpec struct {
	Name        string
	Description string
}

// Planner prompts the LLM for a step-by-step tool plan.
type Planner struct {
	llm    Generator
	model  string
	tools  []ToolSpec
	logger *log.Logger
}

// NewPlanner creates a planner restricted to the given tools. The caller is
// responsible for excluding the plan-engine tools themselves from the list
// so a plan can never recurse into planning.
func NewPlanner(llm Generator, model string, tools []ToolSpec) *Planner {
	return &Planner{
		llm:    llm,
		model:  model,
		tools:  tools,
		logger: log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// AllowedTools returns the names the validator should accept.
func (p *Planner) AllowedTools() []string {
	names := make([]string, len(p.tools))
	for i, t := range p.tools {
		names[i] = t.Name
	}
	return names
}

// Plan asks the LLM for a plan. feedback carries the previous attempt's
// validation failure, empty on the first attempt.
func (p *Planner) Plan(ctx context.Context, task, feedback string) (string, error) {
	prompt := p.buildPrompt(task, feedback)
	response, err := p.llm.Generate(ctx, prompt, p.model, map[string]interface{}{
		"temperature": 0.2, // planning should be deterministic-ish
		"max_tokens":  1500,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate plan: %w", err)
	}
	return response, nil
}

func (p *Planner) buildPrompt(task, feedback string) string {
	var toolList strings.Builder
	for _, t := range p.tools {
		fmt.Fprintf(&toolList, "- %s: %s\n", t.Name, t.Description)
	}

	feedbackBlock := ""
	if feedback != "" {
		feedbackBlock = fmt.Sprintf("\nPREVIOUS ATTEMPT FAILED:\n%s\n", feedback)
	}

	return fmt.Sprintf(`You are a planning agent that breaks a task into tool invocations.%s

TASK: %s

AVAILABLE TOOLS (use ONLY these tool names):
%s
DATA FLOW:
The result of step N is available to later steps as the placeholder
"$context.step_N_result". Use it inside tool_arguments wherever a later step
needs an earlier step's output. Steps are numbered from 1.

OUTPUT FORMAT (JSON, no other text):
{
  "steps": [
    {
      "tool_name": "tool_from_the_list",
      "tool_arguments": {"arg": "value or $context.step_1_result"}
    }
  ]
}

Keep the plan as short as the task allows.`, feedbackBlock, task, toolList.String())
}
