package domain

import "strings"

// Tokenize splits text on whitespace, keeps only ASCII alphanumeric runes
// per token, lowercases, and drops tokens that go empty after filtering.
// BM25 and the inverted index both call this so a term is guaranteed to
// match itself.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	var b strings.Builder
	for _, field := range fields {
		b.Reset()
		for _, r := range field {
			switch {
			case r >= 'a' && r <= 'z':
				b.WriteRune(r)
			case r >= 'A' && r <= 'Z':
				b.WriteRune(r - 'A' + 'a')
			case r >= '0' && r <= '9':
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
		}
	}
	return tokens
}
