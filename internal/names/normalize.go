// Package names reconciles team and league names that independent sources
// spell differently. A Normalizer reduces a raw display name to a canonical
// token sequence; Similarity scores two canonical strings by edit distance;
// a Matcher combines both under a threshold to decide whether two raw names
// denote the same entity.
//
// Matching is deliberately not transitive: Matches(a, b) and Matches(b, c)
// do not imply Matches(a, c). Callers that cluster names must define their
// own tie-break instead of assuming an equivalence relation.
package names

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultAbbreviations maps common football shorthands to their expansions.
var DefaultAbbreviations = map[string]string{
	"utd":    "united",
	"man":    "manchester",
	"cfc":    "chelsea",
	"lfc":    "liverpool",
	"ars":    "arsenal",
	"mci":    "manchester city",
	"tot":    "tottenham",
	"rm":     "real madrid",
	"bar":    "barcelona",
	"atm":    "atletico madrid",
	"fcb":    "bayern munich",
	"psg":    "paris saint germain",
	"juv":    "juventus",
	"int":    "inter milan",
	"mil":    "ac milan",
	"nap":    "napoli",
	"bvb":    "borussia dortmund",
	"wolves": "wolverhampton",
	"epl":    "premier league",
	"laliga": "la liga",
	"ucl":    "champions league",
	"uel":    "europa league",
}

// DefaultStopWords are generic club suffixes and prefixes dropped before
// comparison. Removing them is lossy: two clubs that differ only by one of
// these tokens normalize to the same string.
var DefaultStopWords = []string{"fc", "sc", "club", "st", "bc", "cf", "afc", "fk", "sk", "cd"}

// Normalizer canonicalizes raw names. It is immutable after construction
// and safe for concurrent use.
type Normalizer struct {
	abbreviations map[string][]string
	stopWords     map[string]struct{}
}

// NewNormalizer builds a Normalizer from an abbreviation table and a stop-word set.
// Keys, stop words and expansion tokens must already be canonical
// (lowercase ASCII letters and digits). An expansion may not contain a token that
// is itself an abbreviation key or a stop word, which keeps Normalize idempotent.
func NewNormalizer(abbreviations map[string]string, stopWords []string) (*Normalizer, error) {
	n := &Normalizer{
		abbreviations: make(map[string][]string, len(abbreviations)),
		stopWords:     make(map[string]struct{}, len(stopWords)),
	}

	for _, w := range stopWords {
		if !isCanonicalToken(w) {
			return nil, fmt.Errorf("stop word %q is not a canonical token", w)
		}
		n.stopWords[w] = struct{}{}
	}

	for key, expansion := range abbreviations {
		if !isCanonicalToken(key) {
			return nil, fmt.Errorf("abbreviation %q is not a canonical token", key)
		}
		if _, stop := n.stopWords[key]; stop {
			return nil, fmt.Errorf("abbreviation %q is also a stop word", key)
		}
		tokens := strings.Fields(expansion)
		if len(tokens) == 0 {
			return nil, fmt.Errorf("abbreviation %q has an empty expansion", key)
		}
		n.abbreviations[key] = tokens
	}

	for key, tokens := range n.abbreviations {
		for _, tok := range tokens {
			if !isCanonicalToken(tok) {
				return nil, fmt.Errorf("expansion of %q contains non-canonical token %q", key, tok)
			}
			if _, ok := n.abbreviations[tok]; ok {
				return nil, fmt.Errorf("expansion of %q contains abbreviation %q", key, tok)
			}
			if _, ok := n.stopWords[tok]; ok {
				return nil, fmt.Errorf("expansion of %q contains stop word %q", key, tok)
			}
		}
	}

	return n, nil
}

var defaultNormalizer = mustNormalizer(DefaultAbbreviations, DefaultStopWords)

func mustNormalizer(abbreviations map[string]string, stopWords []string) *Normalizer {
	n, err := NewNormalizer(abbreviations, stopWords)
	if err != nil {
		panic(err)
	}
	return n
}

// DefaultNormalizer returns the Normalizer built from the built-in tables.
func DefaultNormalizer() *Normalizer {
	return defaultNormalizer
}

// WithExtensions returns a new Normalizer whose tables are this one's plus
// the given entries. Extra abbreviations override built-in ones with the same key.
func (n *Normalizer) WithExtensions(abbreviations map[string]string, stopWords []string) (*Normalizer, error) {
	merged := make(map[string]string, len(n.abbreviations)+len(abbreviations))
	for k, v := range n.abbreviations {
		merged[k] = strings.Join(v, " ")
	}
	for k, v := range abbreviations {
		merged[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(v)
	}

	stops := n.StopWords()
	for _, w := range stopWords {
		stops = append(stops, strings.ToLower(strings.TrimSpace(w)))
	}
	return NewNormalizer(merged, stops)
}

// StopWords returns the stop-word set in sorted order.
func (n *Normalizer) StopWords() []string {
	out := make([]string, 0, len(n.stopWords))
	for w := range n.stopWords {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Normalize reduces a raw name to its canonical form.
// All-stop-word and empty inputs yield "".
func (n *Normalizer) Normalize(raw string) string {
	s := strings.ToLower(raw)
	s = foldDiacritics(s)

	s = strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == '_' || r == '/':
			return ' '
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			return r
		default:
			// replace rather than delete so adjacent words stay apart
			return ' '
		}
	}, s)

	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if expansion, ok := n.abbreviations[f]; ok {
			tokens = append(tokens, expansion...)
			continue
		}
		tokens = append(tokens, f)
	}

	kept := tokens[:0]
	for _, t := range tokens {
		if _, stop := n.stopWords[t]; stop {
			continue
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}

// Normalize canonicalizes raw with the default tables.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// foldDiacritics strips combining marks so "atlético" becomes "atletico".
// Runes without a decomposition are left alone and later replaced by a space.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func isCanonicalToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
