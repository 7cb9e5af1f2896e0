// Package plan turns a task description into a validated multi-step tool
// plan and executes it with cross-step data threading.
package plan

import (
	"fmt"
	"regexp"
	"strings"

	"sidekick/internal/jsonx"
)

// Step is one tool invocation in a plan.
type Step struct {
	ToolName      string                 `json:"tool_name"`
	ToolArguments map[string]interface{} `json:"tool_arguments"`
}

// Plan is an ordered list of steps.
type Plan struct {
	Steps []Step `json:"steps"`
}

// ExecutionContext maps "step_N_result" to a prior step's output. Values may
// be any JSON type; placeholder substitution preserves them when a string is
// entirely a placeholder.
type ExecutionContext map[string]interface{}

// ParsePlan recovers a plan from raw planner output, tolerating markdown
// fences and surrounding prose.
func ParsePlan(raw string) (Plan, error) {
	var p Plan
	if err := jsonx.ExtractInto(raw, &p); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	return p, nil
}

// ValidationError reports steps whose tool is not in the allow-list.
type ValidationError struct {
	Offending []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan uses unknown tools: %s", strings.Join(e.Offending, ", "))
}

// Feedback renders the error as corrective guidance for the next planner
// attempt.
func (e *ValidationError) Feedback() string {
	return fmt.Sprintf("The previous plan was invalid: the tool(s) %s do not exist. Only use tools from the provided list.",
		strings.Join(e.Offending, ", "))
}

// Validate rejects a plan when any step names a tool outside the allow-list.
// One bad step invalidates the whole plan.
func Validate(p Plan, allowed []string) *ValidationError {
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	var offending []string
	seen := map[string]bool{}
	for _, step := range p.Steps {
		if step.ToolName == "" {
			continue // executor skips these
		}
		if !allowedSet[step.ToolName] && !seen[step.ToolName] {
			seen[step.ToolName] = true
			offending = append(offending, fmt.Sprintf("%q", step.ToolName))
		}
	}
	if len(offending) > 0 {
		return &ValidationError{Offending: offending}
	}
	return nil
}

var (
	wholePlaceholderRe = regexp.MustCompile(`^\$context\.(step_\d+_result)$`)
	placeholderRe      = regexp.MustCompile(`\$context\.(step_\d+_result)`)
)

// Substitute walks a step's arguments and resolves $context.step_N_result
// placeholders. A string that is entirely a placeholder is replaced by the
// stored value verbatim, preserving non-string types; a placeholder embedded
// in a longer string is replaced textually. Placeholders whose step has not
// produced a result yet are left untouched — presence is what matters, so an
// empty-string result still substitutes.
func Substitute(value interface{}, ec ExecutionContext) interface{} {
	switch v := value.(type) {
	case string:
		if m := wholePlaceholderRe.FindStringSubmatch(v); m != nil {
			if stored, ok := ec[m[1]]; ok {
				return stored
			}
			return v
		}
		return placeholderRe.ReplaceAllStringFunc(v, func(match string) string {
			key := strings.TrimPrefix(match, "$context.")
			if stored, ok := ec[key]; ok {
				return fmt.Sprintf("%v", stored)
			}
			return match
		})
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = Substitute(item, ec)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = Substitute(item, ec)
		}
		return out
	default:
		return value
	}
}
