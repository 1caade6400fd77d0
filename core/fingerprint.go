package core

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// NormalizeRule collapses runs of whitespace outside single-quoted literals to
// one space and trims the ends. Text inside quotes is kept verbatim.
func NormalizeRule(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inQuote := false
	pendingSpace := false
	for _, r := range text {
		if !inQuote && unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		if r == '\'' {
			inQuote = !inQuote
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Fingerprint returns a 16 character hex digest of the normalized rule text.
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(NormalizeRule(text)))
}
