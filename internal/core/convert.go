package core

// convert.go parses the messy reality of user-provided cells: currency
// symbols and thousands separators in amounts, accounting parentheses, a
// handful of date layouts and free-form enum spellings.

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a plain number after cleanup.
// Matches integers, decimals, and scientific notation. NaN and Inf never match.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

const isoDate = "2006-01-02"

// dateLayouts are tried in order: ISO, US with slashes, EU with dashes.
// The separators differ, so a value can only ever match one family.
var dateLayouts = []string{
	isoDate,
	"1/2/2006",
	"2-1-2006",
}

// DateFormatsHint lists the accepted date formats for messages.
const DateFormatsHint = "YYYY-MM-DD, MM/DD/YYYY or DD-MM-YYYY"

// ParseDate parses an ISO, US or EU date. Out-of-range days and months are rejected.
func ParseDate(s string) (time.Time, error) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("invalid date: empty value")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use %s", s, DateFormatsHint)
}

// currencySymbols are stripped before parsing amounts.
var currencySymbols = []string{"$", "€", "£", "¥", "₹", "₩"}

// ParseAmount converts a cell to a decimal.
// Handles currency symbols, thousands separators, and accounting format
// (parentheses for negative).
func ParseAmount(s string) (decimal.Decimal, error) {
	raw := s
	s = CleanCell(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("invalid number: empty value")
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	for _, sym := range currencySymbols {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q", raw)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return d, nil
}

// MatchEnum returns the canonical value whose name or alias matches s,
// ignoring case, spaces, hyphens and underscores.
func MatchEnum(s string, values []EnumValue) (string, bool) {
	key := enumKey(s)
	if key == "" {
		return "", false
	}
	for _, v := range values {
		if enumKey(v.Value) == key {
			return v.Value, true
		}
	}
	for _, v := range values {
		for _, a := range v.Aliases {
			if enumKey(a) == key {
				return v.Value, true
			}
		}
	}
	return "", false
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace and the Excel formula prefix (="...").
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(s)
}
