// Package keyword normalizes chat text and matches it against trigger keywords.
//
// Normalization lower-cases, removes diacritics and trims surrounding whitespace,
// so "Asesoría" and "asesoria" compare equal.
package keyword

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MatchKind reports how a message matched a keyword list.
type MatchKind int

const (
	// MatchNone means no keyword matched.
	MatchNone MatchKind = iota
	// MatchExact means the normalized message equals a normalized keyword.
	MatchExact
	// MatchPartial means one side contains the other.
	MatchPartial
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchPartial:
		return "partial"
	default:
		return "none"
	}
}

// Normalize lower-cases s, strips combining marks after NFD decomposition and trims whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		// transform only fails on malformed chains; fall back to the lower-cased input
		out = strings.ToLower(s)
	}
	return strings.TrimSpace(out)
}

// Matches reports whether message matches any of the keywords.
func Matches(message string, keywords []string) bool {
	kind, _ := Match(message, keywords)
	return kind != MatchNone
}

// Match runs an exact pass over all keywords first, then a bidirectional containment pass.
// It returns the kind of match and the original keyword that matched.
// Empty keywords are ignored and an empty message matches nothing.
func Match(message string, keywords []string) (MatchKind, string) {
	msg := Normalize(message)
	if msg == "" || len(keywords) == 0 {
		return MatchNone, ""
	}

	normalized := make([]string, len(keywords))
	for i, kw := range keywords {
		normalized[i] = Normalize(kw)
	}

	for i, kw := range normalized {
		if kw != "" && kw == msg {
			return MatchExact, keywords[i]
		}
	}
	for i, kw := range normalized {
		if kw == "" {
			continue
		}
		if strings.Contains(msg, kw) || strings.Contains(kw, msg) {
			return MatchPartial, keywords[i]
		}
	}
	return MatchNone, ""
}

// Equal reports whether a and b are the same after normalization.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// ContainsAny reports whether the normalized message contains any normalized keyword.
// Unlike Match it never matches when the message is a fragment of the keyword.
func ContainsAny(message string, keywords []string) bool {
	msg := Normalize(message)
	if msg == "" {
		return false
	}
	for _, kw := range keywords {
		if n := Normalize(kw); n != "" && strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
