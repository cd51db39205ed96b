package family

import "strings"

// MatchSubstring answers a literal substring query against a
// single-character n-gram index (spec section 3's "substring n-gram
// token", instantiated at n=1): query is decomposed into its
// constituent runes and lookup(char) returns every currently-present
// Position for that single-character token. A match requires, for
// every record, a run of Positions at consecutive offsets covering the
// whole query — the classic n-gram-index substring reconstruction,
// generalized to any query length from a single indexing grain. The
// returned Position.Index is the offset of the match's first
// character. Returns (nil, nil) for an empty query.
func MatchSubstring(query string, lookup func(char string) ([]Position, error)) ([]Position, error) {
	runes := []rune(strings.ToLower(query))
	if len(runes) == 0 {
		return nil, nil
	}

	candidates, err := lookup(string(runes[0]))
	if err != nil {
		return nil, err
	}

	for k := 1; k < len(runes) && len(candidates) > 0; k++ {
		next, err := lookup(string(runes[k]))
		if err != nil {
			return nil, err
		}
		shifted := make(map[Position]bool, len(next))
		for _, p := range next {
			shifted[Position{Record: p.Record, Index: p.Index - k}] = true
		}

		filtered := candidates[:0]
		for _, c := range candidates {
			if shifted[c] {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	return candidates, nil
}
