// Package sanitizer normalizes and bounds untrusted text before it is
// persisted. It does not try to preserve markup: every tag is dropped.
package sanitizer

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxLength is used when a caller passes a non-positive maxLength
const DefaultMaxLength = 200

// deniedChars are removed after tag stripping
const deniedChars = `<>"'&`

var (
	// scriptBlockRegex matches script and style blocks including their content
	scriptBlockRegex = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)\s*>`)
	// tagRegex matches any remaining tag-like substring
	tagRegex = regexp.MustCompile(`<[^>]*>`)
)

// TextSanitizer bounds untrusted text fields
type TextSanitizer interface {
	// Sanitize strips tags and denied characters, trims and truncates to maxLength runes
	Sanitize(text string, maxLength int) string
}

// DefaultTextSanitizer implements TextSanitizer using bluemonday's strict policy
type DefaultTextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer creates a sanitizer that drops all markup
func NewTextSanitizer() *DefaultTextSanitizer {
	return &DefaultTextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

var defaultSanitizer = NewTextSanitizer()

// Sanitize runs the package default sanitizer
func Sanitize(text string, maxLength int) string {
	return defaultSanitizer.Sanitize(text, maxLength)
}

// Sanitize strips tag-like substrings and the characters <>"'&, trims
// whitespace and truncates to maxLength runes. It never fails.
func (s *DefaultTextSanitizer) Sanitize(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if text == "" {
		return ""
	}
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}

	result := scriptBlockRegex.ReplaceAllString(text, "")

	// bluemonday escapes the text it keeps; decode so that the denylist
	// below sees real characters instead of entities.
	result = s.policy.Sanitize(result)
	result = html.UnescapeString(result)

	// Entities such as &lt;b&gt; decode back into tags.
	result = tagRegex.ReplaceAllString(result, "")

	result = strings.Map(func(r rune) rune {
		if strings.ContainsRune(deniedChars, r) {
			return -1
		}
		return r
	}, result)

	result = strings.TrimSpace(result)
	return Truncate(result, maxLength)
}

// Truncate cuts text to at most maxLength runes, trimming any trailing
// whitespace left at the cut
func Truncate(text string, maxLength int) string {
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxLength]))
}
