package plan

import (
	"context"
	"fmt"
	"log"
)

// ToolRunner executes one named tool. Implementations fold failures into the
// returned string and never error.
type ToolRunner interface {
	Run(ctx context.Context, name string, args map[string]interface{}) string
}

// Executor iterates a validated plan's steps in order, threading results
// through the execution context.
type Executor struct {
	runner ToolRunner
	logger *log.Logger
}

// NewExecutor creates an executor dispatching through runner.
func NewExecutor(runner ToolRunner) *Executor {
	return &Executor{
		runner: runner,
		logger: log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// Run executes every step and returns the last step's result. Malformed
// steps are skipped with a note; an empty or fully-skipped plan yields a
// "no final result" message.
func (e *Executor) Run(ctx context.Context, p Plan) string {
	ec := ExecutionContext{}
	var lastResult string
	produced := false

	for i, step := range p.Steps {
		if step.ToolName == "" || step.ToolArguments == nil {
			e.logger.Printf("skipping malformed step %d (missing tool_name or tool_arguments)", i+1)
			continue
		}
		args, _ := Substitute(step.ToolArguments, ec).(map[string]interface{})
		result := e.runner.Run(ctx, step.ToolName, args)
		ec[fmt.Sprintf("step_%d_result", i+1)] = result
		lastResult = result
		produced = true
	}

	if !produced {
		return "Plan executed but produced no final result."
	}
	return lastResult
}
