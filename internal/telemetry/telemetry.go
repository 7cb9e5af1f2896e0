// Package telemetry provides monitoring for turns, tools, search and LLM usage.
package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sidekick/config"
)

// Telemetry aggregates prometheus metrics and periodic log summaries.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	turnsTotal     *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	searchAttempts *prometheus.CounterVec
	planAttempts   *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec

	mu          sync.Mutex
	turnCount   int64
	toolCount   int64
	searchCount int64
}

var (
	registerOnce sync.Once
	shared       struct {
		turnsTotal     *prometheus.CounterVec
		toolExecutions *prometheus.CounterVec
		searchAttempts *prometheus.CounterVec
		planAttempts   *prometheus.CounterVec
		llmTokens      *prometheus.CounterVec
		llmDuration    *prometheus.HistogramVec
	}
)

// NewTelemetry creates a telemetry instance. Metric collectors are registered
// once per process; instances share them.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	registerOnce.Do(func() {
		shared.turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_turns_total",
			Help: "Finalized message turns by status.",
		}, []string{"status"})
		shared.toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_tool_executions_total",
			Help: "Tool dispatches by tool name and outcome.",
		}, []string{"tool", "outcome"})
		shared.searchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_search_attempts_total",
			Help: "Search engine attempts by engine and outcome.",
		}, []string{"engine", "outcome"})
		shared.planAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_plan_attempts_total",
			Help: "Planner attempts by outcome.",
		}, []string{"outcome"})
		shared.llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sidekick_llm_tokens_total",
			Help: "LLM tokens by model and direction.",
		}, []string{"model", "direction"})
		shared.llmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sidekick_llm_request_duration_seconds",
			Help:    "LLM request latency by model.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"model"})
	})

	return &Telemetry{
		config:         cfg,
		logger:         log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		turnsTotal:     shared.turnsTotal,
		toolExecutions: shared.toolExecutions,
		searchAttempts: shared.searchAttempts,
		planAttempts:   shared.planAttempts,
		llmTokens:      shared.llmTokens,
		llmDuration:    shared.llmDuration,
	}
}

// RecordTurn counts a finalized turn.
func (t *Telemetry) RecordTurn(status string) {
	if !t.config.Enabled {
		return
	}
	t.turnsTotal.WithLabelValues(status).Inc()
	t.mu.Lock()
	t.turnCount++
	t.mu.Unlock()
}

// RecordToolExecution counts a tool dispatch.
func (t *Telemetry) RecordToolExecution(tool string, success bool) {
	if !t.config.Enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	t.toolExecutions.WithLabelValues(tool, outcome).Inc()
	t.mu.Lock()
	t.toolCount++
	t.mu.Unlock()
}

// RecordSearchAttempt counts one engine attempt.
func (t *Telemetry) RecordSearchAttempt(engine string, success bool) {
	if !t.config.Enabled {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	t.searchAttempts.WithLabelValues(engine, outcome).Inc()
	t.mu.Lock()
	t.searchCount++
	t.mu.Unlock()
}

// RecordPlanAttempt counts a planner attempt.
func (t *Telemetry) RecordPlanAttempt(outcome string) {
	if !t.config.Enabled {
		return
	}
	t.planAttempts.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records token usage and latency for one completion.
func (t *Telemetry) RecordLLMRequest(model string, inputTokens, outputTokens int64, d time.Duration) {
	if !t.config.Enabled {
		return
	}
	t.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	t.llmDuration.WithLabelValues(model).Observe(d.Seconds())
}

// StartPeriodicLogs emits a summary line every interval until stop is closed.
func (t *Telemetry) StartPeriodicLogs(interval time.Duration, stop <-chan struct{}) {
	if !t.config.Enabled || !t.config.PeriodicLogs {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				t.logger.Printf("turns=%d tools=%d search_attempts=%d", t.turnCount, t.toolCount, t.searchCount)
				t.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}
