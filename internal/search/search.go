// Package search aggregates multiple web search engines with fallback
// ordering, retry, and concurrent page scraping.
package search

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"sidekick/config"
	"sidekick/internal/telemetry"
)

// Query pairs a query string with an optional engine preference.
type Query struct {
	Engine Engine `json:"engine,omitempty"`
	Query  string `json:"query"`
}

// Aggregator resolves queries against search engines. It never returns an
// error from its public entry points; failures become descriptive strings so
// callers can feed them straight back to the model.
type Aggregator struct {
	cfg       config.SearchConfig
	scraper   *Scraper
	adapters  map[Engine]adapter
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New builds an aggregator with all engine adapters wired.
func New(cfg config.SearchConfig, tele *telemetry.Telemetry) *Aggregator {
	client := &http.Client{}
	f := fetcher{client: client, userAgent: cfg.UserAgent}
	adapters := map[Engine]adapter{
		EngineDuckDuckGo: duckDuckGo{fetcher: f},
		EngineGoogle:     google{fetcher: f},
		EngineBrave:      brave{fetcher: f},
		EngineGoogleCSE:  googleCSE{fetcher: f, key: cfg.GoogleCSEKey, cx: cfg.GoogleCSECX},
		EngineWikipedia:  wikipedia{fetcher: f},
	}
	return newWithAdapters(cfg, tele, adapters, NewScraper(client, cfg.UserAgent, cfg.CharLimit))
}

func newWithAdapters(cfg config.SearchConfig, tele *telemetry.Telemetry, adapters map[Engine]adapter, scraper *Scraper) *Aggregator {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 8
	}
	if cfg.EngineAttempts <= 0 {
		cfg.EngineAttempts = 2
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = defaultSearchTimeout
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = defaultScrapeTimeout
	}
	return &Aggregator{
		cfg:       cfg,
		scraper:   scraper,
		adapters:  adapters,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

const (
	defaultSearchTimeout = 15 * time.Second
	defaultScrapeTimeout = 12 * time.Second
)

// Search resolves one query into a combined search+content text block.
// Engine failures fall through the resolved order; total exhaustion yields an
// error string rather than an error.
func (a *Aggregator) Search(ctx context.Context, q Query) string {
	text, err := a.runQuery(ctx, q)
	if err != nil {
		a.logger.Printf("query %q failed: %v", q.Query, err)
		return fmt.Sprintf("Error performing web search for %q: %v", q.Query, err)
	}
	return text
}

// SearchBatch resolves queries concurrently. One query's failure never
// aborts the others; the result always has len(queries) sections.
func (a *Aggregator) SearchBatch(ctx context.Context, queries []Query) []string {
	sections := make([]string, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			sections[i] = a.Search(ctx, q)
		}(i, q)
	}
	wg.Wait()
	return sections
}

// resolveOrder computes the engine fallback chain for a query.
func (a *Aggregator) resolveOrder(requested Engine) []Engine {
	var order []Engine
	seen := map[Engine]bool{}
	push := func(e Engine) {
		if e != "" && !seen[e] {
			seen[e] = true
			order = append(order, e)
		}
	}
	push(requested)
	push(Engine(a.cfg.DefaultEngine))
	if a.cfg.GoogleCSEKey != "" && a.cfg.GoogleCSECX != "" {
		push(EngineGoogleCSE)
	}
	for _, e := range []Engine{EngineGoogle, EngineDuckDuckGo, EngineBrave} {
		push(e)
	}
	return order
}

func (a *Aggregator) runQuery(ctx context.Context, q Query) (string, error) {
	if strings.TrimSpace(q.Query) == "" {
		return "", fmt.Errorf("empty query")
	}

	var lastErr error
	for _, engine := range a.resolveOrder(q.Engine) {
		ad, ok := a.adapters[engine]
		if !ok {
			continue
		}
		for attempt := 0; attempt < a.cfg.EngineAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			results, err := a.searchOnce(ctx, ad, q.Query)
			if a.telemetry != nil {
				a.telemetry.RecordSearchAttempt(string(engine), err == nil)
			}
			if err != nil {
				lastErr = fmt.Errorf("%s: %w", engine, err)
				continue
			}
			if len(results) == 0 {
				lastErr = fmt.Errorf("%s: no results", engine)
				continue
			}
			a.visitTopResults(ctx, results)
			return a.compose(q.Query, engine, results), nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no engines available")
	}
	return "", lastErr
}

// searchOnce runs a single engine attempt under the search timeout.
func (a *Aggregator) searchOnce(ctx context.Context, ad adapter, query string) ([]Result, error) {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.SearchTimeout)
	defer cancel()
	return ad.Search(cctx, query, a.cfg.MaxResults)
}

// visitTopResults scrapes up to VisitLimit result pages concurrently. Scrape
// failures leave Content empty; they never fail the query.
func (a *Aggregator) visitTopResults(ctx context.Context, results []Result) {
	limit := a.cfg.VisitLimit
	if limit <= 0 || a.scraper == nil {
		return
	}
	if limit > len(results) {
		limit = len(results)
	}
	var wg sync.WaitGroup
	for i := 0; i < limit; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, a.cfg.ScrapeTimeout)
			defer cancel()
			content, err := a.scraper.Scrape(cctx, results[i].URL)
			if err != nil {
				a.logger.Printf("scrape %s: %v", results[i].URL, err)
				return
			}
			results[i].Content = content
		}(i)
	}
	wg.Wait()
}

// compose renders one combined text block for a query.
func (a *Aggregator) compose(query string, engine Engine, results []Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q (engine: %s):\n", query, engine)
	visited := a.cfg.VisitLimit
	for i, r := range results {
		fmt.Fprintf(&sb, "\n[%d] %s\nURL: %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "Snippet: %s\n", r.Snippet)
		}
		if r.Content != "" {
			fmt.Fprintf(&sb, "Content: %s\n", r.Content)
		}
	}
	if visited > 0 && len(results) > visited {
		fmt.Fprintf(&sb, "\n(%d additional results were found but not visited)\n", len(results)-visited)
	}
	return sb.String()
}
