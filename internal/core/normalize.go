package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHeader folds a header for matching: diacritics are removed, letters
// are lower-cased and everything that is not a letter or digit is dropped.
// "Target Amount (€)" and "target_amount" both become "targetamount".
func NormalizeHeader(s string) string {
	// Transformers carry state, so each call builds its own chain.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// enumKey folds an enum spelling: case, spaces, hyphens and underscores are ignored.
func enumKey(s string) string {
	return NormalizeHeader(s)
}
