package names

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Distance returns the Levenshtein edit distance between a and b: the minimum
// number of single-rune insertions, deletions or substitutions. It is
// case-sensitive and expects already-normalized input.
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// Similarity returns 1 - Distance(a, b)/max(len(a), len(b)), in [0, 1].
// Two empty strings are identical (1.0); an empty string against a
// non-empty one scores 0.
func Similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if l := utf8.RuneCountInString(b); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1 - float64(Distance(a, b))/float64(maxLen)
}
