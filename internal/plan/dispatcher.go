package plan

import (
	"context"
	"fmt"
	"log"

	"sidekick/internal/telemetry"
)

// DefaultMaxAttempts bounds the plan/validate repair loop.
const DefaultMaxAttempts = 2

// SmartDispatcher drives the plan engine end to end: PLANNING → VALIDATING
// (with feedback repair, bounded attempts) → EXECUTING. It never returns an
// error; exhaustion produces a descriptive string.
type SmartDispatcher struct {
	planner     *Planner
	executor    *Executor
	maxAttempts int
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewSmartDispatcher wires a planner and executor together.
func NewSmartDispatcher(planner *Planner, executor *Executor, maxAttempts int, tele *telemetry.Telemetry) *SmartDispatcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &SmartDispatcher{
		planner:     planner,
		executor:    executor,
		maxAttempts: maxAttempts,
		telemetry:   tele,
		logger:      log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
	}
}

// Run plans, validates and executes a task, returning the final result
// string or a descriptive failure.
func (d *SmartDispatcher) Run(ctx context.Context, task string) string {
	allowed := d.planner.AllowedTools()
	feedback := ""
	var lastFailure string

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		raw, err := d.planner.Plan(ctx, task, feedback)
		if err != nil {
			lastFailure = fmt.Sprintf("planning failed: %v", err)
			d.recordAttempt("llm_error")
			continue
		}

		p, err := ParsePlan(raw)
		if err != nil {
			lastFailure = fmt.Sprintf("plan was not valid JSON: %v", err)
			feedback = "The previous response was not a valid JSON plan. Respond with only the JSON object."
			d.recordAttempt("parse_error")
			continue
		}

		if verr := Validate(p, allowed); verr != nil {
			lastFailure = verr.Error()
			feedback = verr.Feedback()
			d.logger.Printf("attempt %d rejected: %v", attempt, verr)
			d.recordAttempt("invalid")
			continue
		}

		d.recordAttempt("valid")
		d.logger.Printf("executing plan with %d steps (attempt %d)", len(p.Steps), attempt)
		return d.executor.Run(ctx, p)
	}

	return fmt.Sprintf("Error: could not produce a valid plan after %d attempts. Last failure: %s", d.maxAttempts, lastFailure)
}

func (d *SmartDispatcher) recordAttempt(outcome string) {
	if d.telemetry != nil {
		d.telemetry.RecordPlanAttempt(outcome)
	}
}
