// Package models defines the core domain entities for kickoffwatch.
// These models represent fixture listings scraped from independent sources,
// clusters of listings that describe the same fixture, and detected kickoff
// time discrepancies. All models are value objects that live for one
// processing cycle; validation guards the boundaries where data enters.
//
// Terminology:
//   - Source: a betting or scores site that publishes fixtures independently.
//   - Fixture: a single real-world scheduled football match.
//   - Group: the records from different sources believed to be one fixture.
package models

import (
	"errors"
	"strings"
	"time"
)

// TimeOfDayLayout is the HH:MM layout used to compare kickoff times.
const TimeOfDayLayout = "15:04"

// MatchRecord is one fixture listing as published by a single source.
// KickoffTime is expressed in the shared reference timezone; conversion from
// a source's own offset happens before records reach grouping.
type MatchRecord struct {
	Home        string    `json:"home"`
	Away        string    `json:"away"`
	League      string    `json:"league"`
	KickoffTime time.Time `json:"kickoff_time"` // zero when the source time could not be parsed
	Source      string    `json:"source"`
	OddsHome    *float64  `json:"odds_home,omitempty"`
	OddsDraw    *float64  `json:"odds_draw,omitempty"` // may be absent without invalidating the record
	OddsAway    *float64  `json:"odds_away,omitempty"`
}

// Validate checks the fields a record needs to take part in grouping.
// A missing kickoff time is not an error: such records are grouped but
// excluded from time comparison.
func (r *MatchRecord) Validate() error {
	if strings.TrimSpace(r.Home) == "" {
		return errors.New("home team must not be empty")
	}
	if strings.TrimSpace(r.Away) == "" {
		return errors.New("away team must not be empty")
	}
	if strings.TrimSpace(r.Source) == "" {
		return errors.New("source must not be empty")
	}
	return nil
}

// HasKickoff reports whether the record carries a usable kickoff time.
func (r *MatchRecord) HasKickoff() bool {
	return !r.KickoffTime.IsZero()
}

// TimeOfDay returns the kickoff as HH:MM, or "" when it is unknown.
func (r *MatchRecord) TimeOfDay() string {
	if !r.HasKickoff() {
		return ""
	}
	return r.KickoffTime.Format(TimeOfDayLayout)
}

// MinutesSinceMidnight returns the kickoff time of day in minutes.
// The calendar date is ignored.
func (r *MatchRecord) MinutesSinceMidnight() int {
	return r.KickoffTime.Hour()*60 + r.KickoffTime.Minute()
}

// MatchGroup is a non-empty, append-ordered set of records believed to
// describe the same fixture. Key is the canonical signature of the record
// that created the group; it labels the group but is not a unique identity.
type MatchGroup struct {
	Key     string        `json:"key"`
	Records []MatchRecord `json:"records"`
}

// Representative returns the first record appended to the group.
func (g *MatchGroup) Representative() MatchRecord {
	return g.Records[0]
}

// Sources returns the distinct sources in the group in first-seen order.
func (g *MatchGroup) Sources() []string {
	seen := make(map[string]bool, len(g.Records))
	var out []string
	for _, r := range g.Records {
		if !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r.Source)
		}
	}
	return out
}
