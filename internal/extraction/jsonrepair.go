package extraction

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// trailingCommaRe matches a comma immediately before a closing brace or
// bracket, ignoring intervening whitespace.
var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// repairJSON runs the spec §4.5 Stage 2/3 JSON-repair pass over raw model
// output: strip markdown fences, take the first balanced `{`...`}` or
// `[`...`]` span, repair trailing commas, and validate the result. ok is
// false when no recoverable JSON value could be found — the stage's
// fallback, not an error, since a malformed LLM response is an expected
// occurrence rather than a programming bug.
func repairJSON(raw string) (repaired string, ok bool) {
	s := stripCodeFences(raw)
	span, found := balancedSpan(s)
	if !found {
		return "", false
	}
	span = trailingCommaRe.ReplaceAllString(span, "$1")
	if !gjson.Valid(span) {
		return "", false
	}
	return span, true
}

// stripCodeFences removes a leading/trailing ``` or ```json fence if present.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && strings.TrimSpace(s[:nl]) != "" {
		// Leading fence carried a language tag (```json) — drop that line.
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// balancedSpan returns the substring starting at the first '{' or '[' in s
// and extending through its matching close, honoring string quoting and
// backslash escapes so braces inside string values don't confuse the scan.
// found is false if s contains no opening bracket or it is never closed.
func balancedSpan(s string) (span string, found bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	open := rune(s[start])
	close := byte('}')
	if open == '[' {
		close = ']'
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
		case byte(open):
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
