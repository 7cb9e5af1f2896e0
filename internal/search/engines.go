package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Engine identifies a search backend.
type Engine string

const (
	EngineDuckDuckGo Engine = "duckduckgo"
	EngineGoogle     Engine = "google"
	EngineBrave      Engine = "brave"
	EngineGoogleCSE  Engine = "google_cse"
	EngineWikipedia  Engine = "wikipedia"
)

// Result is one search hit, optionally enriched with scraped page content.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Content string `json:"content,omitempty"`
}

// adapter is implemented per engine. Adapters only return title/snippet/url;
// page content is the aggregator's business.
type adapter interface {
	Name() Engine
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

type fetcher struct {
	client    *http.Client
	userAgent string
}

func (f fetcher) get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %s: %s", resp.Status, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// --- DuckDuckGo (HTML SERP) ---

type duckDuckGo struct {
	fetcher
	baseURL string
}

func (duckDuckGo) Name() Engine { return EngineDuckDuckGo }

func (d duckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	base := d.baseURL
	if base == "" {
		base = "https://html.duckduckgo.com/html/"
	}
	body, err := d.get(ctx, base+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, a := range findAll(doc, func(n *html.Node) bool {
		return n.Data == "a" && hasClass(n, "result__a")
	}) {
		if len(results) >= limit {
			break
		}
		link := decodeDuckDuckGoLink(attr(a, "href"))
		if link == "" {
			continue
		}
		results = append(results, Result{Title: collapseWhitespace(textOf(a)), URL: link})
	}
	for i, sn := range findAll(doc, func(n *html.Node) bool { return hasClass(n, "result__snippet") }) {
		if i >= len(results) {
			break
		}
		results[i].Snippet = collapseWhitespace(textOf(sn))
	}
	return results, nil
}

// decodeDuckDuckGoLink unwraps the /l/?uddg= redirect.
func decodeDuckDuckGoLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.Contains(href, "uddg=") {
		if u, err := url.Parse(href); err == nil {
			if target := u.Query().Get("uddg"); target != "" {
				return target
			}
		}
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

// --- Google (HTML SERP) ---

type google struct {
	fetcher
	baseURL string
}

func (google) Name() Engine { return EngineGoogle }

func (g google) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	base := g.baseURL
	if base == "" {
		base = "https://www.google.com/search"
	}
	body, err := g.get(ctx, fmt.Sprintf("%s?q=%s&num=%d&hl=en", base, url.QueryEscape(query), limit+2), nil)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var results []Result
	seen := map[string]bool{}
	// Organic results are anchors wrapping an h3 heading.
	for _, a := range findAll(doc, func(n *html.Node) bool {
		return n.Data == "a" && findNode(n, func(c *html.Node) bool { return c.Data == "h3" }) != nil
	}) {
		if len(results) >= limit {
			break
		}
		link := cleanGoogleLink(attr(a, "href"))
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		h3 := findNode(a, func(c *html.Node) bool { return c.Data == "h3" })
		results = append(results, Result{
			Title:   collapseWhitespace(textOf(h3)),
			URL:     link,
			Snippet: siblingSnippet(a),
		})
	}
	return results, nil
}

func cleanGoogleLink(href string) string {
	if strings.HasPrefix(href, "/url?") {
		if u, err := url.Parse(href); err == nil {
			href = u.Query().Get("q")
		}
	}
	if !strings.HasPrefix(href, "http") {
		return ""
	}
	return href
}

// siblingSnippet grabs nearby description text for a result anchor.
func siblingSnippet(a *html.Node) string {
	container := a
	for i := 0; i < 3 && container.Parent != nil; i++ {
		container = container.Parent
	}
	text := collapseWhitespace(textOf(container))
	title := collapseWhitespace(textOf(a))
	text = strings.TrimSpace(strings.TrimPrefix(text, title))
	return runeCut(text, 300)
}

// --- Brave (HTML SERP) ---

type brave struct {
	fetcher
	baseURL string
}

func (brave) Name() Engine { return EngineBrave }

func (b brave) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	base := b.baseURL
	if base == "" {
		base = "https://search.brave.com/search"
	}
	body, err := b.get(ctx, base+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, node := range findAll(doc, func(n *html.Node) bool { return hasClass(n, "snippet") }) {
		if len(results) >= limit {
			break
		}
		a := findNode(node, func(c *html.Node) bool {
			return c.Data == "a" && strings.HasPrefix(attr(c, "href"), "http")
		})
		if a == nil {
			continue
		}
		title := node
		if t := findNode(node, func(c *html.Node) bool { return hasClass(c, "title") }); t != nil {
			title = t
		}
		snippet := ""
		if d := findNode(node, func(c *html.Node) bool { return hasClass(c, "snippet-description") }); d != nil {
			snippet = collapseWhitespace(textOf(d))
		}
		results = append(results, Result{
			Title:   collapseWhitespace(textOf(title)),
			URL:     attr(a, "href"),
			Snippet: snippet,
		})
	}
	return results, nil
}

// --- Google Custom Search (JSON API) ---

type googleCSE struct {
	fetcher
	baseURL string
	key     string
	cx      string
}

func (googleCSE) Name() Engine { return EngineGoogleCSE }

func (g googleCSE) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if g.key == "" || g.cx == "" {
		return nil, fmt.Errorf("google custom search requires key and cx")
	}
	base := g.baseURL
	if base == "" {
		base = "https://www.googleapis.com/customsearch/v1"
	}
	if limit > 10 {
		limit = 10 // API maximum per request
	}
	u := fmt.Sprintf("%s?key=%s&cx=%s&q=%s&num=%d", base, url.QueryEscape(g.key), url.QueryEscape(g.cx), url.QueryEscape(query), limit)
	body, err := g.get(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Items []struct {
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
			Link    string `json:"link"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	var results []Result
	for _, it := range raw.Items {
		results = append(results, Result{Title: it.Title, Snippet: it.Snippet, URL: it.Link})
	}
	return results, nil
}

// --- Wikipedia (JSON API) ---

type wikipedia struct {
	fetcher
	baseURL string
}

func (wikipedia) Name() Engine { return EngineWikipedia }

var tagRe = regexp.MustCompile(`<[^>]+>`)

func (w wikipedia) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	base := w.baseURL
	if base == "" {
		base = "https://en.wikipedia.org/w/api.php"
	}
	u := fmt.Sprintf("%s?action=query&list=search&srsearch=%s&srlimit=%d&format=json", base, url.QueryEscape(query), limit)
	body, err := w.get(ctx, u, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	var raw struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	var results []Result
	for _, it := range raw.Query.Search {
		results = append(results, Result{
			Title:   it.Title,
			Snippet: tagRe.ReplaceAllString(it.Snippet, ""),
			URL:     "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(it.Title, " ", "_")),
		})
	}
	return results, nil
}

// --- node helpers shared with the scraper ---

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}
