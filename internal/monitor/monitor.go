// Package monitor clusters fixture listings from independent sources and
// detects sources that publish a different kickoff time from the rest.
//
// A cycle runs three stages over one fully materialized batch:
//
//	Screen -> Group -> Detect
//
// Screen drops records that cannot take part (missing names, kickoff too close).
// Group clusters records greedily: each record joins the first existing group
// whose key fuzzy-matches its signature, otherwise it starts a new group.
// Because fuzzy matching is not transitive the result depends on input order;
// this is the intended behaviour, not a defect to be fixed by closure.
// Detect compares per-source kickoff times within each group against the
// majority time of day and reports the sources that deviate.
//
// Group and Detect keep no state between calls. The only state a Monitor
// carries is the alert history used by FilterAlreadyAlerted, which is not
// safe for concurrent use.
package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/kickoffwatch/internal/logger"
	"github.com/rewired-gh/kickoffwatch/internal/models"
	"github.com/rewired-gh/kickoffwatch/internal/names"
)

// DefaultToleranceMinutes is the minimum kickoff gap reported as a discrepancy.
const DefaultToleranceMinutes = 2.0

var (
	// ErrInvalidRecord marks a record that is missing required fields.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrKickoffTooSoon marks a record whose fixture starts inside the lead time.
	ErrKickoffTooSoon = errors.New("kickoff inside minimum lead time")
)

// Options configures grouping and detection
type Options struct {
	// ToleranceMinutes is the smallest gap from the majority time that
	// flags a source as an outlier.
	ToleranceMinutes float64
	// IncludeLeague appends the normalized league to each record signature.
	IncludeLeague bool
	// GenericLeagues are placeholder league names ignored by IncludeLeague.
	GenericLeagues []string
	// MinLeadTime drops fixtures that kick off sooner than now+MinLeadTime.
	// Zero disables the filter.
	MinLeadTime time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		ToleranceMinutes: DefaultToleranceMinutes,
		GenericLeagues:   []string{"football", "soccer"},
		MinLeadTime:      15 * time.Minute,
	}
}

// alertRecord tracks a previously sent alert for de-duplication.
type alertRecord struct {
	SentAt time.Time
}

// Monitor handles grouping and kickoff discrepancy detection
type Monitor struct {
	matcher        *names.Matcher
	opts           Options
	genericLeagues map[string]bool
	alerted        map[string]alertRecord // key = report fingerprint
}

// New creates a new Monitor. A nil matcher uses the default tables and threshold.
func New(matcher *names.Matcher, opts Options) *Monitor {
	if matcher == nil {
		matcher = names.DefaultMatcher()
	}
	generic := make(map[string]bool, len(opts.GenericLeagues))
	for _, l := range opts.GenericLeagues {
		generic[matcher.Normalizer().Normalize(l)] = true
	}
	return &Monitor{
		matcher:        matcher,
		opts:           opts,
		genericLeagues: generic,
		alerted:        make(map[string]alertRecord),
	}
}

// ScreenError represents a record dropped before grouping
type ScreenError struct {
	Index  int
	Source string
	Err    error
}

func (e ScreenError) Error() string {
	return fmt.Sprintf("record %d from %s dropped: %v", e.Index, e.Source, e.Err)
}

func (e ScreenError) Unwrap() error {
	return e.Err
}

// Screen drops records that cannot be grouped or that start too soon to be
// worth comparing. Dropping is never fatal; the reasons are returned.
func (m *Monitor) Screen(records []models.MatchRecord, now time.Time) ([]models.MatchRecord, []ScreenError) {
	kept := make([]models.MatchRecord, 0, len(records))
	var dropped []ScreenError

	cutoff := now.Add(m.opts.MinLeadTime)
	for i, r := range records {
		if err := r.Validate(); err != nil {
			dropped = append(dropped, ScreenError{Index: i, Source: r.Source, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, err)})
			continue
		}
		if m.opts.MinLeadTime > 0 && r.HasKickoff() && r.KickoffTime.Before(cutoff) {
			dropped = append(dropped, ScreenError{Index: i, Source: r.Source, Err: ErrKickoffTooSoon})
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

// Result summarizes one Screen -> Group -> Detect pass
type Result struct {
	Input        int
	Dropped      []ScreenError
	Groups       []models.MatchGroup
	MultiSource  int // groups observed by at least two sources
	Reports      []models.DiscrepancyReport
	MissingTimes int // grouped records without a usable kickoff
}

// Run screens, groups and analyzes one batch.
func (m *Monitor) Run(records []models.MatchRecord, now time.Time) Result {
	kept, dropped := m.Screen(records, now)
	groups := m.Group(kept)
	reports := m.Detect(groups, now)

	res := Result{
		Input:   len(records),
		Dropped: dropped,
		Groups:  groups,
		Reports: reports,
	}
	for _, g := range groups {
		if len(g.Sources()) >= 2 {
			res.MultiSource++
		}
		for _, r := range g.Records {
			if !r.HasKickoff() {
				res.MissingTimes++
			}
		}
	}

	logger.Debug("Run: input=%d dropped=%d groups=%d multi_source=%d missing_times=%d reports=%d",
		res.Input, len(res.Dropped), len(res.Groups), res.MultiSource, res.MissingTimes, len(res.Reports))
	return res
}

// FilterAlreadyAlerted removes reports whose disagreement was already alerted
// within cooldown. Returns a non-nil slice.
func (m *Monitor) FilterAlreadyAlerted(reports []models.DiscrepancyReport, cooldown time.Duration, now time.Time) []models.DiscrepancyReport {
	for fp, rec := range m.alerted {
		if now.Sub(rec.SentAt) >= cooldown {
			delete(m.alerted, fp)
		}
	}

	result := make([]models.DiscrepancyReport, 0, len(reports))
	for _, r := range reports {
		if _, seen := m.alerted[r.Fingerprint()]; seen {
			continue
		}
		result = append(result, r)
	}
	return result
}

// RecordAlerted records the given reports as alerted at now.
// Call this after a successful notification.
func (m *Monitor) RecordAlerted(reports []models.DiscrepancyReport, now time.Time) {
	for _, r := range reports {
		m.alerted[r.Fingerprint()] = alertRecord{SentAt: now}
	}
}
