// Package sanitizer strips markup from free-text fields before they are stored.
package sanitizer

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer reduces user-entered text to plain text
type TextSanitizer interface {
	// Text strips tags, unescapes entities, drops control characters and
	// truncates to maxRunes (0 means no limit)
	Text(s string, maxRunes int) string
	// Line is Text with all whitespace runs collapsed to single spaces
	Line(s string, maxRunes int) string
}

// StrictSanitizer implements TextSanitizer with bluemonday's strict policy
type StrictSanitizer struct {
	policy *bluemonday.Policy
}

// New creates a sanitizer that allows no HTML at all
func New() *StrictSanitizer {
	return &StrictSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *StrictSanitizer) Text(in string, maxRunes int) string {
	return truncate(s.plain(in), maxRunes)
}

func (s *StrictSanitizer) Line(in string, maxRunes int) string {
	return truncate(strings.Join(strings.Fields(s.plain(in)), " "), maxRunes)
}

func (s *StrictSanitizer) plain(in string) string {
	if in == "" {
		return ""
	}

	// bluemonday escapes what it keeps; stored values are plain text
	out := html.UnescapeString(s.policy.Sanitize(in))

	out = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		}
		return r
	}, out)
	return strings.TrimSpace(out)
}

func truncate(s string, maxRunes int) string {
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		return strings.TrimSpace(string([]rune(s)[:maxRunes]))
	}
	return s
}
