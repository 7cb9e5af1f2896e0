// Package jsonx extracts JSON objects from LLM output, which frequently
// arrives wrapped in markdown fences, prose, or slightly malformed syntax.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no strategy can recover a JSON object.
var ErrNoJSON = errors.New("no JSON object found in text")

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedAnyRe   = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	bareKeyRe     = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)(\s*:)`)
	singleQuoteRe = regexp.MustCompile(`'([^']*)'`)
)

// ExtractObject recovers a JSON object from raw model output. Strategies are
// tried in order and the first successful parse wins:
//  1. the text parses directly
//  2. the contents of a ```json fence
//  3. the contents of a generic ``` fence
//  4. the substring between the first '{' and the last '}', repaired as a
//     last resort by quoting bare keys and normalizing single quotes
func ExtractObject(text string) (map[string]interface{}, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoJSON
	}

	if obj, err := parseObject(text); err == nil {
		return obj, nil
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if obj, err := parseObject(m[1]); err == nil {
			return obj, nil
		}
	}

	if m := fencedAnyRe.FindStringSubmatch(text); m != nil {
		if obj, err := parseObject(m[1]); err == nil {
			return obj, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		candidate := text[start : end+1]
		if obj, err := parseObject(candidate); err == nil {
			return obj, nil
		}
		if obj, err := parseObject(repair(candidate)); err == nil {
			return obj, nil
		}
	}

	return nil, ErrNoJSON
}

// ExtractInto unmarshals the extracted object into out.
func ExtractInto(text string, out interface{}) error {
	obj, err := ExtractObject(text)
	if err != nil {
		return err
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("re-encode extracted object: %w", err)
	}
	return json.Unmarshal(b, out)
}

func parseObject(s string) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNoJSON
	}
	return obj, nil
}

// repair quotes bare keys and converts single-quoted values so that
// near-JSON emitted by smaller models still parses.
func repair(s string) string {
	s = bareKeyRe.ReplaceAllString(s, `$1"$2"$3`)
	s = singleQuoteRe.ReplaceAllString(s, `"$1"`)
	return s
}
