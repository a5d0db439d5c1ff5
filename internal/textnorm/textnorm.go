// Package textnorm normalizes free-text keys (locations, vocabulary labels)
// before equality comparison.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Key returns the comparison key for s: NFKC-normalized, case-folded, trimmed,
// with internal whitespace runs collapsed to a single space.
//
// "Room  1" and "room 1" share a key; "room1" does not.
func Key(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s) // Casers are stateful; one per call
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Equal reports whether a and b normalize to the same non-empty key.
func Equal(a, b string) bool {
	ka := Key(a)
	return ka != "" && ka == Key(b)
}
