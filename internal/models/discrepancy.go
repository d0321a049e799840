package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// SourceTime is the kickoff time of day one source reported for a group
type SourceTime struct {
	Source string `json:"source"`
	Time   string `json:"time"`
}

// Outlier is a source whose kickoff time deviates from the group majority.
// Odds are carried so stale prices from that source can be inspected.
type Outlier struct {
	Source     string   `json:"source"`
	Time       string   `json:"time"`
	GapMinutes int      `json:"gap_minutes"`
	OddsHome   *float64 `json:"odds_home,omitempty"`
	OddsDraw   *float64 `json:"odds_draw,omitempty"`
	OddsAway   *float64 `json:"odds_away,omitempty"`
}

// DiscrepancyReport describes one group whose sources disagree on kickoff time
type DiscrepancyReport struct {
	ID            string       `json:"id"`
	MatchKey      string       `json:"match_key"`
	Home          string       `json:"home"`
	Away          string       `json:"away"`
	League        string       `json:"league"`
	KickoffDate   string       `json:"kickoff_date"`
	MajorityTime  string       `json:"majority_time"`
	ReportedTimes []SourceTime `json:"reported_times"`
	Outliers      []Outlier    `json:"outliers"`
	MaxGapMinutes int          `json:"max_gap_minutes"`
	DetectedAt    time.Time    `json:"detected_at"`
}

// Validate checks that all report fields are valid
func (d *DiscrepancyReport) Validate() error {
	if d.ID == "" {
		return errors.New("report ID must not be empty")
	}
	if d.MatchKey == "" {
		return errors.New("match key must not be empty")
	}
	if d.Home == "" || d.Away == "" {
		return errors.New("home and away must not be empty")
	}
	if d.MajorityTime == "" {
		return errors.New("majority time must not be empty")
	}
	if len(d.Outliers) == 0 {
		return errors.New("report must contain at least one outlier")
	}
	maxGap := 0
	for _, o := range d.Outliers {
		if o.Source == "" {
			return errors.New("outlier source must not be empty")
		}
		if o.GapMinutes <= 0 {
			return errors.New("outlier gap must be positive")
		}
		if o.GapMinutes > maxGap {
			maxGap = o.GapMinutes
		}
	}
	if d.MaxGapMinutes < maxGap {
		return errors.New("max gap must be >= every outlier gap")
	}
	if d.DetectedAt.IsZero() {
		return errors.New("detected at must be set")
	}
	return nil
}

// OutlierSources returns the outlier source names in report order.
func (d *DiscrepancyReport) OutlierSources() []string {
	out := make([]string, len(d.Outliers))
	for i, o := range d.Outliers {
		out[i] = o.Source
	}
	return out
}

// Fingerprint identifies the disagreement itself rather than the report
// instance, so the same stale time seen on consecutive cycles maps to the
// same value. It changes when an outlier's reported time or the majority moves.
func (d *DiscrepancyReport) Fingerprint() string {
	parts := make([]string, 0, len(d.Outliers))
	for _, o := range d.Outliers {
		parts = append(parts, o.Source+"@"+o.Time)
	}
	sort.Strings(parts)
	return d.MatchKey + "|" + d.KickoffDate + "|" + d.MajorityTime + "|" + strings.Join(parts, ",")
}
