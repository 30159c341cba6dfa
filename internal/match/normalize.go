// Package match implements contact normalization, similarity scoring, and
// duplicate-confidence calculation.
package match

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// NormalizePhone reduces a phone number to its comparable digit string.
// All non-digit characters are stripped, then country-code variance is
// removed: a 12-digit number starting with "91" loses the calling code, an
// 11-digit number starting with "0" loses the trunk prefix.
func NormalizePhone(raw string) string {
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		return digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return digits[1:]
	}
	return digits
}

// NormalizeEmail lowercases and trims an email address for comparison.
func NormalizeEmail(raw string) string {
	if raw == "" {
		return ""
	}
	return lower.String(strings.TrimSpace(raw))
}
