package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Apostrophes are dropped so that "Earth's" and "Earths" collide.
func isApostrophe(r rune) bool {
	return r == '\'' || r == '’' || r == '`'
}

// punctToSpace turns punctuation and symbols into word breaks.
func punctToSpace(r rune) rune {
	if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsControl(r) {
		return ' '
	}
	return r
}

// NormalizeTopicKey derives the dedup key for a topic: NFKC, case folded,
// punctuation stripped and whitespace collapsed. Model phrasing such as
// "Solar Eclipse, 2024!" and "solar  eclipse 2024" yields the same key.
func NormalizeTopicKey(topic string) string {
	t := transform.Chain(norm.NFKC, cases.Fold(),
		runes.Remove(runes.Predicate(isApostrophe)), runes.Map(punctToSpace), norm.NFC)
	key, _, err := transform.String(t, topic)
	if err != nil {
		key = strings.ToLower(topic)
	}
	return strings.Join(strings.Fields(key), " ")
}
