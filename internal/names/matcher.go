package names

import "fmt"

// DefaultThreshold is the similarity cutoff used when none is configured.
const DefaultThreshold = 0.8

// Matcher decides whether two raw names denote the same entity
type Matcher struct {
	normalizer *Normalizer
	threshold  float64
}

// NewMatcher creates a Matcher. A nil normalizer selects the default tables.
func NewMatcher(n *Normalizer, threshold float64) (*Matcher, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("invalid threshold %v: must be between 0 and 1", threshold)
	}
	if n == nil {
		n = defaultNormalizer
	}
	return &Matcher{normalizer: n, threshold: threshold}, nil
}

var defaultMatcher = &Matcher{normalizer: defaultNormalizer, threshold: DefaultThreshold}

// DefaultMatcher returns the Matcher built from the built-in tables and DefaultThreshold.
func DefaultMatcher() *Matcher {
	return defaultMatcher
}

// Threshold returns the configured similarity cutoff.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Normalizer returns the Normalizer used by the matcher.
func (m *Matcher) Normalizer() *Normalizer {
	return m.normalizer
}

// Matches normalizes both names and reports whether their similarity
// reaches the threshold.
func (m *Matcher) Matches(a, b string) bool {
	return m.MatchesNormalized(m.normalizer.Normalize(a), m.normalizer.Normalize(b))
}

// MatchesNormalized compares two strings that are already canonical.
// Because Normalize is idempotent this gives the same answer as Matches.
func (m *Matcher) MatchesNormalized(a, b string) bool {
	return matchCanonical(a, b, m.threshold)
}

// Match reports whether a and b match under threshold using the default tables.
func Match(a, b string, threshold float64) bool {
	return matchCanonical(Normalize(a), Normalize(b), threshold)
}

// matchCanonical applies the threshold. An empty canonical name only ever
// matches another empty one, whatever the threshold.
func matchCanonical(a, b string, threshold float64) bool {
	if (a == "") != (b == "") {
		return false
	}
	return Similarity(a, b) >= threshold
}
