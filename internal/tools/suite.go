package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"sidekick/config"
	"sidekick/internal/plan"
	"sidekick/internal/telemetry"
)

// planToolNames are excluded from the planner allow-list so a plan can never
// contain a step that plans.
var planToolNames = []string{"planner", "executor", "smart_dispatcher"}

// Deps carries the collaborators the tool suite is built from. Nil entries
// simply leave the corresponding tools unregistered.
type Deps struct {
	Notes     NoteStore
	Indexer   Indexer
	Memory    SummaryMemory
	Searcher  Searcher
	Retriever KnowledgeRetriever
	LLM       plan.Generator
}

// NewSuite builds a dispatcher with the full tool set registered, including
// the plan engine, which runs its steps back through the same dispatcher.
func NewSuite(cfg *config.Config, deps Deps, tele *telemetry.Telemetry) *Dispatcher {
	d := NewDispatcher(tele)

	if deps.Notes != nil {
		d.Register(NewNoteSaver(deps.Notes, deps.Indexer))
		d.Alias("save_note", "note.save")
	}
	if deps.Memory != nil {
		d.Register(NewMemoryUpdater(deps.Memory))
		d.Alias("update_memory", "memory.update")
	}
	if deps.Searcher != nil {
		d.Register(NewWebSearch(deps.Searcher))
		d.Register(NewWikipediaSearch(deps.Searcher))
	}
	if deps.Retriever != nil {
		d.Register(NewRetrieverTool(deps.Retriever))
	}
	d.Register(NewFetcher(cfg.Fetcher, cfg.Search.UserAgent))

	if deps.LLM != nil {
		utilityModel := cfg.LLM.Routing.Utility
		if utilityModel == "" {
			utilityModel = cfg.LLM.Routing.Chat
		}
		d.Register(NewPromptOptimizer(deps.LLM, utilityModel))

		planningModel := cfg.LLM.Routing.Planning
		if planningModel == "" {
			planningModel = cfg.LLM.Routing.Chat
		}
		// Specs is taken before the plan tools register, and excludes them
		// again by name in case registration order ever changes.
		specs := d.Specs(planToolNames...)
		planner := plan.NewPlanner(deps.LLM, planningModel, specs)
		executor := plan.NewExecutor(d)
		smart := plan.NewSmartDispatcher(planner, executor, plan.DefaultMaxAttempts, tele)

		d.Register(&plannerTool{planner: planner})
		d.Register(&executorTool{executor: executor, allowed: planner.AllowedTools()})
		d.Register(&smartDispatcherTool{smart: smart})
	}

	return d
}

// --- planner ---

type plannerTool struct {
	planner *plan.Planner
}

func (p *plannerTool) Name() string { return "planner" }
func (p *plannerTool) Description() string {
	return "Produce a JSON tool plan for a task. Arguments: task (required)."
}

func (p *plannerTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	task := stringArg(args, "task", "query")
	if task == "" {
		return "", fmt.Errorf("task is required")
	}
	return p.planner.Plan(ctx, task, stringArg(args, "feedback"))
}

// --- executor ---

type executorTool struct {
	executor *plan.Executor
	allowed  []string
}

func (e *executorTool) Name() string { return "executor" }
func (e *executorTool) Description() string {
	return "Execute a previously produced JSON plan. Arguments: plan (object or JSON string)."
}

func (e *executorTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	var raw string
	switch v := args["plan"].(type) {
	case string:
		raw = v
	case map[string]interface{}:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode plan: %w", err)
		}
		raw = string(encoded)
	default:
		return "", fmt.Errorf("plan is required")
	}

	p, err := plan.ParsePlan(raw)
	if err != nil {
		return "", fmt.Errorf("parse plan: %w", err)
	}
	if verr := plan.Validate(p, e.allowed); verr != nil {
		return "", verr
	}
	return e.executor.Run(ctx, p), nil
}

// --- smart_dispatcher ---

type smartDispatcherTool struct {
	smart *plan.SmartDispatcher
}

func (s *smartDispatcherTool) Name() string { return "smart_dispatcher" }
func (s *smartDispatcherTool) Description() string {
	return "Plan and execute a multi-step task in one call. Arguments: task (required)."
}

func (s *smartDispatcherTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	task := stringArg(args, "task", "query")
	if task == "" {
		return "", fmt.Errorf("task is required")
	}
	return s.smart.Run(ctx, task), nil
}
