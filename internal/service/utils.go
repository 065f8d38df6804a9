package service

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// sanitizeUTF8 removes invalid UTF-8 sequences from string
// This prevents database encoding errors when saving text
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var result strings.Builder
	result.Grow(len(s))

	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			// Invalid UTF-8 sequence, skip this byte
			s = s[1:]
			continue
		}
		result.WriteRune(r)
		s = s[size:]
	}

	return result.String()
}

// cleanText makes model or user text safe to store and compare.
func cleanText(s string) string {
	s = norm.NFC.String(sanitizeUTF8(s))
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// collapseSpaces joins all whitespace-separated fields with a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
