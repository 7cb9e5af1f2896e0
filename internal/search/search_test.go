package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sidekick/config"
)

// stubAdapter scripts one engine's behavior and records attempts.
type stubAdapter struct {
	engine  Engine
	results []Result
	err     error
	failFor map[string]bool // queries that always fail

	mu       sync.Mutex
	attempts []string
}

func (s *stubAdapter) Name() Engine { return s.engine }

func (s *stubAdapter) Search(_ context.Context, query string, _ int) ([]Result, error) {
	s.mu.Lock()
	s.attempts = append(s.attempts, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.failFor[query] {
		return nil, fmt.Errorf("engine unavailable")
	}
	return s.results, nil
}

func (s *stubAdapter) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		MaxResults:     5,
		EngineAttempts: 2,
		SearchTimeout:  time.Second,
		ScrapeTimeout:  time.Second,
	}
}

func newTestAggregator(cfg config.SearchConfig, adapters map[Engine]adapter) *Aggregator {
	return newWithAdapters(cfg, nil, adapters, nil)
}

func TestSearchBatchNeverRejects(t *testing.T) {
	google := &stubAdapter{
		engine:  EngineGoogle,
		results: []Result{{Title: "Result B", URL: "https://example.com/b", Snippet: "about b"}},
		failFor: map[string]bool{"a": true},
	}
	agg := newTestAggregator(testConfig(), map[Engine]adapter{EngineGoogle: google})

	sections := agg.SearchBatch(context.Background(), []Query{{Query: "a"}, {Query: "b"}})
	if len(sections) != 2 {
		t.Fatalf("batch must always yield N sections, got %d", len(sections))
	}
	if !strings.HasPrefix(sections[0], `Error performing web search for "a"`) {
		t.Fatalf("failed query should yield an inline error string: %q", sections[0])
	}
	if !strings.Contains(sections[1], "Result B") {
		t.Fatalf("successful query lost its results: %q", sections[1])
	}
}

func TestFallbackOrderAndRetry(t *testing.T) {
	google := &stubAdapter{engine: EngineGoogle, err: fmt.Errorf("blocked")}
	ddg := &stubAdapter{engine: EngineDuckDuckGo, results: []Result{{Title: "hit", URL: "https://x"}}}
	agg := newTestAggregator(testConfig(), map[Engine]adapter{
		EngineGoogle:     google,
		EngineDuckDuckGo: ddg,
	})

	out := agg.Search(context.Background(), Query{Query: "go"})
	if !strings.Contains(out, "hit") {
		t.Fatalf("fallback engine's results missing: %q", out)
	}
	if google.attemptCount() != 2 {
		t.Fatalf("expected 2 attempts on the first engine, got %d", google.attemptCount())
	}
	if ddg.attemptCount() != 1 {
		t.Fatalf("expected 1 attempt on the fallback, got %d", ddg.attemptCount())
	}
}

func TestRequestedEngineComesFirst(t *testing.T) {
	brave := &stubAdapter{engine: EngineBrave, results: []Result{{Title: "brave hit", URL: "https://x"}}}
	google := &stubAdapter{engine: EngineGoogle, results: []Result{{Title: "google hit", URL: "https://y"}}}
	agg := newTestAggregator(testConfig(), map[Engine]adapter{
		EngineBrave:  brave,
		EngineGoogle: google,
	})

	out := agg.Search(context.Background(), Query{Engine: EngineBrave, Query: "go"})
	if !strings.Contains(out, "brave hit") {
		t.Fatalf("requested engine not honored: %q", out)
	}
	if google.attemptCount() != 0 {
		t.Fatalf("fallback engines must not run when the first succeeds")
	}
}

func TestResolveOrderWithCSECredentials(t *testing.T) {
	cfg := testConfig()
	cfg.GoogleCSEKey = "k"
	cfg.GoogleCSECX = "cx"
	agg := newTestAggregator(cfg, nil)

	order := agg.resolveOrder("")
	want := []Engine{EngineGoogleCSE, EngineGoogle, EngineDuckDuckGo, EngineBrave}
	if len(order) != len(want) {
		t.Fatalf("order mismatch: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order mismatch at %d: %v", i, order)
		}
	}
}

func TestResolveOrderWithoutCSECredentials(t *testing.T) {
	agg := newTestAggregator(testConfig(), nil)
	order := agg.resolveOrder("")
	want := []Engine{EngineGoogle, EngineDuckDuckGo, EngineBrave}
	if len(order) != len(want) {
		t.Fatalf("order mismatch: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order mismatch at %d: %v", i, order)
		}
	}
}

func TestSearchCancellation(t *testing.T) {
	google := &stubAdapter{engine: EngineGoogle, err: fmt.Errorf("unreachable")}
	agg := newTestAggregator(testConfig(), map[Engine]adapter{EngineGoogle: google})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := agg.Search(ctx, Query{Query: "go"})
	if !strings.HasPrefix(out, `Error performing web search for "go"`) {
		t.Fatalf("cancelled search should yield an error string: %q", out)
	}
	if google.attemptCount() != 0 {
		t.Fatalf("no attempts should run after cancellation, got %d", google.attemptCount())
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	agg := newTestAggregator(testConfig(), nil)
	out := agg.Search(context.Background(), Query{Query: "   "})
	if !strings.HasPrefix(out, "Error performing web search") {
		t.Fatalf("empty query should fail descriptively: %q", out)
	}
}

func TestComposeNotesUnvisitedResults(t *testing.T) {
	cfg := testConfig()
	cfg.VisitLimit = 1
	google := &stubAdapter{engine: EngineGoogle, results: []Result{
		{Title: "one", URL: "https://1"},
		{Title: "two", URL: "https://2"},
		{Title: "three", URL: "https://3"},
	}}
	agg := newTestAggregator(cfg, map[Engine]adapter{EngineGoogle: google})

	out := agg.Search(context.Background(), Query{Query: "go"})
	if !strings.Contains(out, "(2 additional results were found but not visited)") {
		t.Fatalf("unvisited note missing: %q", out)
	}
}
