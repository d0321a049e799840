package monitor

import (
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// sourceKickoff is the kickoff one source reported within a group.
type sourceKickoff struct {
	record  models.MatchRecord
	tod     string
	minutes int
}

// Detect reports, for every group seen by at least two sources, the sources
// whose kickoff time of day differs from the majority by at least the
// tolerance. Groups with unanimous times produce no report.
//
// Gaps are computed on time of day only: 23:55 against 00:05 is a 1430
// minute gap, not 10. Inputs are expected to fall on the same service day.
func (m *Monitor) Detect(groups []models.MatchGroup, now time.Time) []models.DiscrepancyReport {
	var reports []models.DiscrepancyReport
	for _, g := range groups {
		if len(g.Records) < 2 {
			continue
		}
		if report, ok := m.detectGroup(g, now); ok {
			reports = append(reports, report)
		}
	}
	return reports
}

func (m *Monitor) detectGroup(g models.MatchGroup, now time.Time) (models.DiscrepancyReport, bool) {
	perSource := kickoffsBySource(g)
	if len(perSource) < 2 {
		return models.DiscrepancyReport{}, false
	}

	majority := majorityKickoff(perSource)

	minMinutes, maxMinutes := perSource[0].minutes, perSource[0].minutes
	reported := make([]models.SourceTime, 0, len(perSource))
	var outliers []models.Outlier
	for _, sk := range perSource {
		reported = append(reported, models.SourceTime{Source: sk.record.Source, Time: sk.tod})
		if sk.minutes < minMinutes {
			minMinutes = sk.minutes
		}
		if sk.minutes > maxMinutes {
			maxMinutes = sk.minutes
		}

		gap := absInt(sk.minutes - majority.minutes)
		if gap > 0 && float64(gap) >= m.opts.ToleranceMinutes {
			outliers = append(outliers, models.Outlier{
				Source:     sk.record.Source,
				Time:       sk.tod,
				GapMinutes: gap,
				OddsHome:   sk.record.OddsHome,
				OddsDraw:   sk.record.OddsDraw,
				OddsAway:   sk.record.OddsAway,
			})
		}
	}
	if len(outliers) == 0 {
		return models.DiscrepancyReport{}, false
	}

	rep := g.Representative()
	dated := rep
	if !dated.HasKickoff() {
		dated = perSource[0].record
	}

	return models.DiscrepancyReport{
		ID:            uuid.New().String(),
		MatchKey:      g.Key,
		Home:          rep.Home,
		Away:          rep.Away,
		League:        rep.League,
		KickoffDate:   dated.KickoffTime.Format("2006-01-02"),
		MajorityTime:  majority.tod,
		ReportedTimes: reported,
		Outliers:      outliers,
		MaxGapMinutes: maxMinutes - minMinutes,
		DetectedAt:    now,
	}, true
}

// kickoffsBySource keeps the first record with a usable kickoff per source,
// in the order sources first appear in the group. Records without a kickoff
// do not count as a source's time.
func kickoffsBySource(g models.MatchGroup) []sourceKickoff {
	seen := make(map[string]bool, len(g.Records))
	var out []sourceKickoff
	for _, r := range g.Records {
		if !r.HasKickoff() || seen[r.Source] {
			continue
		}
		seen[r.Source] = true
		out = append(out, sourceKickoff{
			record:  r,
			tod:     r.TimeOfDay(),
			minutes: r.MinutesSinceMidnight(),
		})
	}
	return out
}

// majorityKickoff returns the most frequent time of day. Ties go to the value
// seen first.
func majorityKickoff(perSource []sourceKickoff) sourceKickoff {
	counts := make(map[string]int, len(perSource))
	var order []sourceKickoff
	for _, sk := range perSource {
		if counts[sk.tod] == 0 {
			order = append(order, sk)
		}
		counts[sk.tod]++
	}

	best := order[0]
	for _, sk := range order[1:] {
		if counts[sk.tod] > counts[best.tod] {
			best = sk
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
