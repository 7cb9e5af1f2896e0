package tools

import (
	"testing"
	"unicode/utf8"
)

func TestClipRunes(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"héllo world", 3, "hé..."},
		{"héllo world", 0, "héllo world"},
		{"short", 100, "short"},
		{"日本語のテキスト", 7, "日本..."},
	}
	for _, c := range cases {
		got := clipRunes(c.in, c.limit)
		if got != c.want {
			t.Fatalf("clipRunes(%q, %d) = %q, want %q", c.in, c.limit, got, c.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("clipRunes(%q, %d) invalid UTF-8: %q", c.in, c.limit, got)
		}
	}
}
