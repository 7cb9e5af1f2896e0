// Package tools maps tool names to handlers and normalizes every outcome —
// success or failure — into a plain result string.
package tools

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"sidekick/internal/chat"
	"sidekick/internal/jsonx"
	"sidekick/internal/plan"
	"sidekick/internal/telemetry"
)

// Handler implements one tool.
type Handler interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Dispatcher routes tool calls to handlers. Dispatch never returns an error
// and never panics across its boundary, so the turn controller can always
// feed a plain string back to the model.
type Dispatcher struct {
	handlers  map[string]Handler
	aliases   map[string]Handler
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(tele *telemetry.Telemetry) *Dispatcher {
	return &Dispatcher{
		handlers:  make(map[string]Handler),
		aliases:   make(map[string]Handler),
		telemetry: tele,
		logger:    log.New(log.Writer(), "[TOOLS] ", log.LstdFlags),
	}
}

// Register adds a handler, replacing any previous one with the same name.
func (d *Dispatcher) Register(h Handler) {
	d.handlers[h.Name()] = h
}

// Alias makes an already-registered handler reachable under a second name.
// Aliases resolve on dispatch but do not appear in Specs, so the planner only
// ever sees canonical names.
func (d *Dispatcher) Alias(alias, canonical string) {
	if h, ok := d.handlers[canonical]; ok {
		d.aliases[alias] = h
	}
}

func (d *Dispatcher) lookup(name string) (Handler, bool) {
	if h, ok := d.handlers[name]; ok {
		return h, true
	}
	h, ok := d.aliases[name]
	return h, ok
}

// Dispatch executes one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, call chat.ToolCall) chat.ToolResult {
	result := chat.ToolResult{ToolCallID: call.ID, Name: call.Name}

	h, ok := d.lookup(call.Name)
	if !ok {
		result.Result = fmt.Sprintf("Error: Unknown tool '%s'", call.Name)
		d.record(call.Name, false)
		return result
	}

	if strings.TrimSpace(call.Arguments) == "" {
		result.Result = fmt.Sprintf("Error: Could not parse arguments for tool %s: empty arguments", call.Name)
		d.record(call.Name, false)
		return result
	}
	args, err := jsonx.ExtractObject(call.Arguments)
	if err != nil {
		result.Result = fmt.Sprintf("Error: Could not parse arguments for tool %s: %v", call.Name, err)
		d.record(call.Name, false)
		return result
	}

	result.Result = d.execute(ctx, h, args)
	d.record(call.Name, !strings.HasPrefix(result.Result, "Error"))
	return result
}

// Run implements plan.ToolRunner so plan steps execute through the same
// normalization.
func (d *Dispatcher) Run(ctx context.Context, name string, args map[string]interface{}) string {
	h, ok := d.lookup(name)
	if !ok {
		d.record(name, false)
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
	out := d.execute(ctx, h, args)
	d.record(name, !strings.HasPrefix(out, "Error"))
	return out
}

// execute invokes the handler, converting errors and panics into strings.
func (d *Dispatcher) execute(ctx context.Context, h Handler, args map[string]interface{}) (out string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("tool %s panicked: %v", h.Name(), r)
			out = fmt.Sprintf("Error executing tool %s: %v", h.Name(), r)
		}
	}()

	result, err := h.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("Error executing tool %s: %v", h.Name(), err)
	}
	return result
}

// Specs returns planner tool specs for every registered handler except the
// excluded names. The plan engine excludes itself to prevent recursive
// planning.
func (d *Dispatcher) Specs(exclude ...string) []plan.ToolSpec {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}
	var specs []plan.ToolSpec
	for name, h := range d.handlers {
		if excluded[name] {
			continue
		}
		specs = append(specs, plan.ToolSpec{Name: name, Description: h.Description()})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

func (d *Dispatcher) record(name string, success bool) {
	if d.telemetry != nil {
		d.telemetry.RecordToolExecution(name, success)
	}
}
