package refdata

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fuzzyLengthBound caps how much longer a query may be than a
// candidate for the containment tier to accept it. It keeps a short
// name from spuriously matching a longer name that merely contains it:
// "Para" never matches "Hariharpara".
const fuzzyLengthBound = 3

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds a reference name for comparison: lower case,
// diacritics removed, punctuation and whitespace dropped. Names from
// the authority and names in the cache are not guaranteed to match
// byte for byte, so every non-exact tier compares normalized forms.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, s)
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

// FuzzyContains is the last-resort lookup tier. The candidate matches
// only if, after normalization, it is contained in the query, the
// query is at least as long, and the length difference stays within
// fuzzyLengthBound. Lengths are rune counts: Bengali and Devanagari
// letters survive folding and must not shrink the bound by their
// UTF-8 width.
func FuzzyContains(query, candidate string) bool {
	q := Normalize(query)
	c := Normalize(candidate)
	if q == "" || c == "" {
		return false
	}
	qn, cn := utf8.RuneCountInString(q), utf8.RuneCountInString(c)
	if qn < cn || qn-cn > fuzzyLengthBound {
		return false
	}
	return strings.Contains(q, c)
}

// findMatch runs the lookup tiers over a candidate set: exact key,
// exact name, normalized name, then fuzzy containment. Among fuzzy
// candidates the one closest in length to the query wins.
func findMatch(entries []Entry, query string) (Entry, bool) {
	for _, e := range entries {
		if e.Key == query || e.Name == query {
			return e, true
		}
	}

	nq := Normalize(query)
	for _, e := range entries {
		if Normalize(e.Name) == nq {
			return e, true
		}
	}

	var best Entry
	bestDiff := -1
	for _, e := range entries {
		if !FuzzyContains(query, e.Name) {
			continue
		}
		diff := utf8.RuneCountInString(nq) - utf8.RuneCountInString(Normalize(e.Name))
		if bestDiff < 0 || diff < bestDiff {
			best = e
			bestDiff = diff
		}
	}
	return best, bestDiff >= 0
}
