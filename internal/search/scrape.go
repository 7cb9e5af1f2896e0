package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Scraper fetches a page and reduces it to plain text.
type Scraper struct {
	client    *http.Client
	userAgent string
	maxChars  int
}

// NewScraper creates a page scraper with a per-page character budget.
func NewScraper(client *http.Client, userAgent string, maxChars int) *Scraper {
	if maxChars <= 0 {
		maxChars = 4000
	}
	return &Scraper{client: client, userAgent: userAgent, maxChars: maxChars}
}

// Scrape fetches pageURL and extracts readable text. Readability is tried
// first; when it yields nothing the DOM is pruned by hand.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %s", pageURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pageURL, err)
	}

	parsedURL, _ := url.Parse(pageURL)
	if article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL); err == nil {
		if text := strings.TrimSpace(article.TextContent); text != "" {
			return s.truncate(text), nil
		}
	}

	text, err := extractText(string(body))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return s.truncate(text), nil
}

func (s *Scraper) truncate(text string) string {
	if len(text) > s.maxChars {
		return runeCut(text, s.maxChars) + "..."
	}
	return text
}

// runeCut shortens s to at most limit bytes without splitting a rune.
func runeCut(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// strippedTags are removed from the DOM before text extraction.
var strippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"nav": true, "header": true, "footer": true, "aside": true,
	"form": true, "svg": true, "button": true,
}

// contentSelectors are tried in order; the first non-empty match wins.
var contentSelectors = []func(*html.Node) bool{
	func(n *html.Node) bool { return n.Data == "main" },
	func(n *html.Node) bool { return n.Data == "article" },
	func(n *html.Node) bool {
		v := attr(n, "id") + " " + attr(n, "class")
		return strings.Contains(v, "content") || strings.Contains(v, "post-body")
	},
	func(n *html.Node) bool { return n.Data == "body" },
}

// extractText parses HTML and returns the text of the most content-like
// region, with boilerplate elements pruned.
func extractText(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}
	prune(doc)

	for _, match := range contentSelectors {
		if node := findNode(doc, match); node != nil {
			if text := collapseWhitespace(textOf(node)); text != "" {
				return text, nil
			}
		}
	}
	return collapseWhitespace(textOf(doc)), nil
}

func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && (strippedTags[c.Data] || isAdBlock(c)) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func isAdBlock(n *html.Node) bool {
	v := attr(n, "id") + " " + attr(n, "class")
	return strings.Contains(v, "advert") || strings.Contains(v, "sponsored") ||
		strings.Contains(v, "cookie-banner") || strings.Contains(v, "sidebar")
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
