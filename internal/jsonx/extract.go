// Package jsonx recovers JSON objects embedded in free-form model
// output. Small backends frequently wrap their JSON in Markdown fences
// or surround it with prose; extraction strips the fences and scans
// for the first balanced object instead of trusting the whole body.
package jsonx

import (
	"encoding/json"
	"strings"
)

// Extract returns the first balanced JSON object found in raw, or nil
// when none parses. It never returns an error: callers fall back to
// schema defaults on nil.
func Extract(raw string) map[string]any {
	var out map[string]any
	if !ExtractInto(raw, &out) {
		return nil
	}
	return out
}

// ExtractInto unmarshals the first balanced JSON object in raw into v.
// Reports whether a parseable object was found.
func ExtractInto(raw string, v any) bool {
	span := objectSpan(stripFences(raw))
	if span == "" {
		return false
	}
	return json.Unmarshal([]byte(span), v) == nil
}

// stripFences removes Markdown code fence lines (``` or ```json) so a
// fenced object scans the same as a bare one.
func stripFences(raw string) string {
	if !strings.Contains(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// objectSpan returns the first brace-balanced {...} span, tracking
// string literals and escapes so braces inside values do not count.
func objectSpan(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
