package database

import "strings"

// Tokenize decomposes text into the single-character n-gram tokens the
// Search family indexes (spec section 3's "substring n-gram token",
// instantiated at n=1): every rune at every offset is indexed,
// including spaces and punctuation, so the exact character stream is
// preserved and family.MatchSubstring can answer an arbitrary-length
// substring query by chaining consecutive character positions. Exported
// so pkg/engine can derive the same tokens when overlaying the Buffer's
// writes onto a Search read.
func Tokenize(text string) []string {
	runes := []rune(strings.ToLower(text))
	tokens := make([]string, len(runes))
	for i, r := range runes {
		tokens[i] = string(r)
	}
	return tokens
}
