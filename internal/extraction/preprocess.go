package extraction

import (
	"context"
	"regexp"
	"strings"
)

// codeBlockRe strips fenced code blocks (```...```), which carry no
// extractable facts about the user.
var codeBlockRe = regexp.MustCompile("(?s)```.*?```")

// injectionPrefixRe matches a leading extraction-directive phrase an
// utterance might use to try to steer what gets stored, e.g. "remember
// that X" or "store the fact that X" — spec §4.5 Stage 1's sanitization
// rule. Matching is case-insensitive and anchored to the start of the text.
var injectionPrefixRe = regexp.MustCompile(`(?i)^\s*(remember that|store the fact that|please remember|note that)\s*`)

var whitespaceRunRe = regexp.MustCompile(`\s+`)

// Preprocess implements Stage 1: strip code blocks, normalize whitespace,
// and strip a leading extraction-directive phrase. It never returns an
// error from the substance of its own logic; only a nil or empty RawText
// triggers the documented fallback.
func Preprocess(_ context.Context, d *Draft) (*Draft, error) {
	if strings.TrimSpace(d.RawText) == "" {
		d.addTag("preprocess_failed")
		d.CleanedText = d.RawText
		return d, errf("preprocess", errEmptyUtterance)
	}

	cleaned := codeBlockRe.ReplaceAllString(d.RawText, "")
	cleaned = injectionPrefixRe.ReplaceAllString(cleaned, "")
	cleaned = whitespaceRunRe.ReplaceAllString(strings.TrimSpace(cleaned), " ")
	d.CleanedText = cleaned
	return d, nil
}

var errEmptyUtterance = fallbackError("utterance is empty after trimming")

// fallbackError is a plain sentinel-style error for stage fallbacks that
// carry no underlying cause to wrap.
type fallbackError string

func (e fallbackError) Error() string { return string(e) }
