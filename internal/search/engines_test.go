package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const ddgSERP = `<html><body>
<div class="result">
  <a class="result__a" href="/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F">Go Documentation</a>
  <div class="result__snippet">Official Go docs.</div>
</div>
<div class="result">
  <a class="result__a" href="//example.com/page">Example</a>
  <div class="result__snippet">Second snippet.</div>
</div>
</body></html>`

func TestDuckDuckGoParsesSERP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "go docs" {
			t.Errorf("query not forwarded: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(ddgSERP))
	}))
	defer srv.Close()

	d := duckDuckGo{fetcher: fetcher{client: srv.Client(), userAgent: "test"}, baseURL: srv.URL}
	results, err := d.Search(context.Background(), "go docs", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].URL != "https://go.dev/doc/" {
		t.Fatalf("uddg redirect not decoded: %q", results[0].URL)
	}
	if results[0].Title != "Go Documentation" || results[0].Snippet != "Official Go docs." {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[1].URL != "https://example.com/page" {
		t.Fatalf("protocol-relative link not normalized: %q", results[1].URL)
	}
}

func TestDuckDuckGoRespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ddgSERP))
	}))
	defer srv.Close()

	d := duckDuckGo{fetcher: fetcher{client: srv.Client(), userAgent: "test"}, baseURL: srv.URL}
	results, err := d.Search(context.Background(), "go", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("limit not respected: %d results", len(results))
	}
}

func TestWikipediaParsesAPIResponse(t *testing.T) {
	payload := `{"query":{"search":[{"title":"Go (programming language)","snippet":"<span>Go</span> is a language"}]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("srsearch") != "golang" {
			t.Errorf("query not forwarded: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	wp := wikipedia{fetcher: fetcher{client: srv.Client(), userAgent: "test"}, baseURL: srv.URL}
	results, err := wp.Search(context.Background(), "golang", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Snippet != "Go is a language" {
		t.Fatalf("snippet HTML not stripped: %q", results[0].Snippet)
	}
	if results[0].URL != "https://en.wikipedia.org/wiki/Go_%28programming_language%29" {
		t.Fatalf("article URL malformed: %q", results[0].URL)
	}
}

func TestGoogleCSERequiresCredentials(t *testing.T) {
	g := googleCSE{fetcher: fetcher{client: http.DefaultClient, userAgent: "test"}}
	if _, err := g.Search(context.Background(), "go", 5); err == nil {
		t.Fatalf("expected error without key/cx")
	}
}

func TestGoogleCSEParsesItems(t *testing.T) {
	payload := `{"items":[{"title":"Go","snippet":"The Go language","link":"https://go.dev"}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" || r.URL.Query().Get("cx") != "c" {
			t.Errorf("credentials not forwarded: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	g := googleCSE{fetcher: fetcher{client: srv.Client(), userAgent: "test"}, baseURL: srv.URL, key: "k", cx: "c"}
	results, err := g.Search(context.Background(), "go", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://go.dev" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestCleanGoogleLink(t *testing.T) {
	cases := map[string]string{
		"/url?q=https://go.dev/doc&sa=U": "https://go.dev/doc",
		"https://example.com":            "https://example.com",
		"/relative/path":                 "",
		"javascript:void(0)":             "",
	}
	for in, want := range cases {
		if got := cleanGoogleLink(in); got != want {
			t.Fatalf("cleanGoogleLink(%q) = %q, want %q", in, got, want)
		}
	}
}
