package monitor

import (
	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// Signature returns the canonical identity string of a record:
// "<home> vs <away>", plus " in <league>" when leagues are included and the
// league is neither empty nor a generic placeholder.
func (m *Monitor) Signature(r models.MatchRecord) string {
	n := m.matcher.Normalizer()
	sig := n.Normalize(r.Home) + " vs " + n.Normalize(r.Away)
	if m.opts.IncludeLeague {
		league := n.Normalize(r.League)
		if league != "" && !m.genericLeagues[league] {
			sig += " in " + league
		}
	}
	return sig
}

// Group clusters records into one group per fixture. Each record joins the
// first key, in creation order, whose similarity to the record signature
// reaches the threshold; otherwise its signature becomes a new key.
// Every input record ends up in exactly one group, and the same input
// order always yields the same groups.
// Records without a kickoff still group so their source counts toward the
// fixture; Detect excludes them from the time comparison.
func (m *Monitor) Group(records []models.MatchRecord) []models.MatchGroup {
	var keys []string
	groups := make(map[string]*models.MatchGroup)

	for _, r := range records {
		sig := m.Signature(r)

		key := ""
		found := false
		for _, k := range keys {
			if m.matcher.MatchesNormalized(sig, k) {
				key = k
				found = true
				break
			}
		}
		if !found {
			key = sig
			keys = append(keys, key)
			groups[key] = &models.MatchGroup{Key: key}
		}

		g := groups[key]
		g.Records = append(g.Records, r)
	}

	result := make([]models.MatchGroup, 0, len(keys))
	for _, k := range keys {
		result = append(result, *groups[k])
	}
	return result
}
