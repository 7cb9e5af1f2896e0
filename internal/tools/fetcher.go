package tools

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"

	"sidekick/config"
	"sidekick/internal/search"
)

// fetchTool scrapes one URL to plain text. Mode "http" uses the shared
// scraper; mode "render" drives headless chrome for javascript-heavy pages.
type fetchTool struct {
	cfg     config.FetcherConfig
	scraper *search.Scraper
	logger  *log.Logger
}

// NewFetcher creates the single-URL fetch tool.
func NewFetcher(cfg config.FetcherConfig, userAgent string) Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &fetchTool{
		cfg:     cfg,
		scraper: search.NewScraper(&http.Client{}, userAgent, cfg.MaxChars),
		logger:  log.New(log.Writer(), "[FETCH] ", log.LstdFlags),
	}
}

func (f *fetchTool) Name() string { return "fetcher" }
func (f *fetchTool) Description() string {
	return "Fetch one web page and return its readable text. Arguments: url (required)."
}

func (f *fetchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	pageURL := stringArg(args, "url", "link")
	if pageURL == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return "", fmt.Errorf("url must be http or https")
	}

	cctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	if f.cfg.Mode == "render" {
		return f.render(cctx, pageURL)
	}
	return f.scraper.Scrape(cctx, pageURL)
}

// render loads the page in headless chrome and extracts the article text
// from the rendered DOM.
func (f *fetchTool) render(ctx context.Context, pageURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}

	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", pageURL, err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", fmt.Errorf("no readable content at %s", pageURL)
	}
	return clipRunes(text, f.cfg.MaxChars), nil
}

// clipRunes truncates s to at most limit bytes on a rune boundary, marking
// the cut with an ellipsis. limit <= 0 means no limit.
func clipRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}
