package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/kickoffwatch/internal/models"
	"github.com/rewired-gh/kickoffwatch/internal/names"
)

var serviceDay = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

// rec builds a record kicking off at hhmm on the test service day.
// An empty hhmm leaves the kickoff unknown.
func rec(home, away, source, hhmm string) models.MatchRecord {
	r := models.MatchRecord{Home: home, Away: away, League: "Football", Source: source}
	if hhmm != "" {
		tod, err := time.Parse("15:04", hhmm)
		if err != nil {
			panic(err)
		}
		r.KickoffTime = serviceDay.Add(time.Duration(tod.Hour())*time.Hour + time.Duration(tod.Minute())*time.Minute)
	}
	return r
}

func newMonitor(t *testing.T, tolerance float64) *Monitor {
	t.Helper()
	matcher, err := names.NewMatcher(nil, 0.8)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.ToleranceMinutes = tolerance
	return New(matcher, opts)
}

func detectedAt() time.Time {
	return serviceDay.Add(6 * time.Hour)
}

// ─── Grouping ────────────────────────────────────────────────────────────────

func TestGroup_SameFixtureDifferentSpelling(t *testing.T) {
	m := newMonitor(t, 2)
	records := []models.MatchRecord{
		rec("Team A", "Team B", "Bookie1", "20:00"),
		rec("Team A", "Team B FC", "Bookie2", "20:00"),
	}

	groups := m.Group(records)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Records, 2)
	assert.Equal(t, "team a vs team b", groups[0].Key)

	assert.Empty(t, m.Detect(groups, detectedAt()), "unanimous kickoff must not be reported")
}

func TestGroup_AbbreviationsAndDistinctFixtures(t *testing.T) {
	m := newMonitor(t, 2)
	records := []models.MatchRecord{
		rec("Man Utd", "Liverpool FC", "Odibets", "17:30"),
		rec("Arsenal", "Chelsea", "Odibets", "20:00"),
		rec("Manchester United", "Liverpool", "Betika", "17:30"),
		rec("Arsenal FC", "CFC", "Betika", "20:00"),
		rec("Gor Mahia", "AFC Leopards", "Betika", "15:00"),
	}

	groups := m.Group(records)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"Odibets", "Betika"}, groups[0].Sources())
	assert.Equal(t, []string{"Odibets", "Betika"}, groups[1].Sources())
	assert.Len(t, groups[2].Records, 1)
}

func TestGroup_Completeness(t *testing.T) {
	m := newMonitor(t, 2)
	records := []models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		rec("Team C", "Team D", "S1", "18:00"),
		rec("Team A", "Team B", "S2", "20:00"),
		rec("Totally Different", "Opponents United", "S2", "21:00"),
		rec("Team C", "Team D", "S3", ""),
		rec("FC", "Club", "S3", "12:00"),
	}

	groups := m.Group(records)

	total := 0
	for _, g := range groups {
		require.NotEmpty(t, g.Records)
		total += len(g.Records)
	}
	assert.Equal(t, len(records), total, "every record must land in exactly one group")
}

func TestGroup_Deterministic(t *testing.T) {
	m := newMonitor(t, 2)
	records := []models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		rec("Team C", "Team D", "S1", "18:00"),
		rec("Team A", "Team B FC", "S2", "20:00"),
		rec("Team C", "Team D", "S2", "18:05"),
	}

	first := m.Group(records)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.Group(records))
	}
}

func TestGroup_FirstMatchingKeyWins(t *testing.T) {
	m := newMonitor(t, 2)
	// A~B and B~C but not A~C: membership depends on arrival order.
	a := rec("abcdefghijklmnop", "qrstuvwxyz", "S1", "20:00")
	b := rec("1234efghijklmnop", "qrstuvwxyz", "S2", "20:00")
	c := rec("12345678ijklmnop", "qrstuvwxyz", "S3", "20:00")

	groups := m.Group([]models.MatchRecord{a, c, b})
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"S1", "S2"}, groups[0].Sources())
	assert.Equal(t, []string{"S3"}, groups[1].Sources())

	groups = m.Group([]models.MatchRecord{b, a, c})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"S2", "S1", "S3"}, groups[0].Sources())
}

func TestNew_NilMatcherUsesDefaults(t *testing.T) {
	m := New(nil, DefaultOptions())
	assert.Same(t, names.DefaultMatcher(), m.matcher)

	groups := m.Group([]models.MatchRecord{
		rec("Man Utd", "Liverpool FC", "S1", "17:30"),
		rec("Manchester United", "Liverpool", "S2", "17:30"),
	})
	assert.Len(t, groups, 1)
}

func TestSignature_League(t *testing.T) {
	matcher, err := names.NewMatcher(nil, 0.8)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.IncludeLeague = true
	m := New(matcher, opts)

	r := rec("Man Utd", "Liverpool", "S1", "20:00")
	r.League = "EPL"
	assert.Equal(t, "manchester united vs liverpool in premier league", m.Signature(r))

	r.League = "Football"
	assert.Equal(t, "manchester united vs liverpool", m.Signature(r))

	r.League = ""
	assert.Equal(t, "manchester united vs liverpool", m.Signature(r))

	plain := newMonitor(t, 2)
	r.League = "EPL"
	assert.Equal(t, "manchester united vs liverpool", plain.Signature(r))
}

// ─── Detection ───────────────────────────────────────────────────────────────

func TestDetect_TwoSourcesDisagree(t *testing.T) {
	m := newMonitor(t, 2)
	groups := m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "Bookie1", "20:00"),
		rec("Team A", "Team B FC", "Bookie2", "20:30"),
	})

	reports := m.Detect(groups, detectedAt())
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, "20:00", r.MajorityTime)
	require.Len(t, r.Outliers, 1)
	assert.Equal(t, "Bookie2", r.Outliers[0].Source)
	assert.Equal(t, "20:30", r.Outliers[0].Time)
	assert.Equal(t, 30, r.Outliers[0].GapMinutes)
	assert.Equal(t, "Team A", r.Home)
	assert.Equal(t, "Team B", r.Away)
	assert.Equal(t, "2026-10-18", r.KickoffDate)
	assert.Equal(t, 30, r.MaxGapMinutes)
	assert.Equal(t, []models.SourceTime{{Source: "Bookie1", Time: "20:00"}, {Source: "Bookie2", Time: "20:30"}}, r.ReportedTimes)
	assert.NoError(t, r.Validate())
}

func TestDetect_MajorityOfThree(t *testing.T) {
	m := newMonitor(t, 2)
	groups := m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", "19:00"),
		rec("Team A", "Team B", "S2", "19:00"),
		rec("Team A", "Team B", "S3", "19:05"),
	})

	reports := m.Detect(groups, detectedAt())
	require.Len(t, reports, 1)
	assert.Equal(t, "19:00", reports[0].MajorityTime)
	require.Len(t, reports[0].Outliers, 1)
	assert.Equal(t, "S3", reports[0].Outliers[0].Source)
	assert.Equal(t, 5, reports[0].Outliers[0].GapMinutes)
}

func TestDetect_SingleMemberGroupNeverReported(t *testing.T) {
	m := newMonitor(t, 0)
	groups := m.Group([]models.MatchRecord{rec("Team A", "Team B", "S1", "03:17")})
	require.Len(t, groups, 1)
	assert.Empty(t, m.Detect(groups, detectedAt()))
}

func TestDetect_TieGoesToFirstSeen(t *testing.T) {
	m := newMonitor(t, 2)
	groups := m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:30"),
		rec("Team A", "Team B", "S2", "20:00"),
	})

	reports := m.Detect(groups, detectedAt())
	require.Len(t, reports, 1)
	assert.Equal(t, "20:30", reports[0].MajorityTime)
	assert.Equal(t, []string{"S2"}, reports[0].OutlierSources())
}

func TestDetect_BelowTolerance(t *testing.T) {
	m := newMonitor(t, 2)
	groups := m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		rec("Team A", "Team B", "S2", "20:01"),
	})
	assert.Empty(t, m.Detect(groups, detectedAt()))

	groups = m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		rec("Team A", "Team B", "S2", "20:02"),
	})
	assert.Len(t, m.Detect(groups, detectedAt()), 1, "gap equal to tolerance is reported")
}

func TestDetect_DuplicateSourceKeepsFirst(t *testing.T) {
	m := newMonitor(t, 2)
	groups := m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		rec("Team A", "Team B", "S1", "21:00"),
		rec("Team A", "Team B", "S2", "20:00"),
	})
	require.Len(t, groups, 1)
	assert.Empty(t, m.Detect(groups, detectedAt()))
}

func TestDetect_MissingKickoffExcluded(t *testing.T) {
	m := newMonitor(t, 2)

	groups := m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		rec("Team A", "Team B", "S2", ""),
	})
	require.Len(t, groups, 1)
	assert.Empty(t, m.Detect(groups, detectedAt()), "one usable time is not a comparison")

	groups = m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", ""),
		rec("Team A", "Team B", "S2", "20:00"),
		rec("Team A", "Team B", "S3", "20:10"),
	})
	reports := m.Detect(groups, detectedAt())
	require.Len(t, reports, 1)
	assert.Equal(t, "20:00", reports[0].MajorityTime)
	assert.Equal(t, []string{"S3"}, reports[0].OutlierSources())
	assert.Equal(t, "2026-10-18", reports[0].KickoffDate)
	assert.Len(t, reports[0].ReportedTimes, 2)
}

func TestDetect_MidnightGapIsNotWrapped(t *testing.T) {
	m := newMonitor(t, 2)
	late := rec("Team A", "Team B", "S1", "23:55")
	early := rec("Team A", "Team B", "S2", "00:05")
	early.KickoffTime = early.KickoffTime.Add(24 * time.Hour)

	reports := m.Detect(m.Group([]models.MatchRecord{late, early}), detectedAt())
	require.Len(t, reports, 1)
	assert.Equal(t, 1430, reports[0].Outliers[0].GapMinutes)
}

func TestDetect_OutlierCarriesOdds(t *testing.T) {
	m := newMonitor(t, 2)
	home, away := 2.1, 3.4
	stale := rec("Team A", "Team B", "S2", "21:00")
	stale.OddsHome = &home
	stale.OddsAway = &away

	reports := m.Detect(m.Group([]models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		stale,
		rec("Team A", "Team B", "S3", "20:00"),
	}), detectedAt())
	require.Len(t, reports, 1)
	o := reports[0].Outliers[0]
	require.NotNil(t, o.OddsHome)
	assert.Equal(t, 2.1, *o.OddsHome)
	assert.Nil(t, o.OddsDraw)
	assert.Equal(t, 3.4, *o.OddsAway)
}

func TestDetect_ToleranceMonotonic(t *testing.T) {
	records := []models.MatchRecord{
		rec("Team A", "Team B", "S1", "20:00"),
		rec("Team A", "Team B", "S2", "20:03"),
		rec("Team A", "Team B", "S3", "20:00"),
		rec("Team A", "Team B", "S4", "20:45"),
		rec("Team C", "Team D", "S1", "18:00"),
		rec("Team C", "Team D", "S2", "18:10"),
		rec("Team E", "Team F", "S1", "13:00"),
		rec("Team E", "Team F", "S2", "13:01"),
		rec("Team E", "Team F", "S3", "15:00"),
	}

	countOutliers := func(tolerance float64) int {
		m := newMonitor(t, tolerance)
		n := 0
		for _, r := range m.Detect(m.Group(records), detectedAt()) {
			n += len(r.Outliers)
		}
		return n
	}

	prev := countOutliers(0)
	for _, tol := range []float64{0.5, 1, 2, 3, 5, 10, 45, 60, 120, 1440} {
		cur := countOutliers(tol)
		assert.LessOrEqual(t, cur, prev, "tolerance %v", tol)
		prev = cur
	}
	assert.Equal(t, 0, countOutliers(1440))
}

// ─── Screening and Run ───────────────────────────────────────────────────────

func TestScreen(t *testing.T) {
	m := newMonitor(t, 2)
	now := serviceDay.Add(19*time.Hour + 50*time.Minute)

	records := []models.MatchRecord{
		rec("Team A", "Team B", "S1", "21:00"),
		rec("", "Team B", "S2", "21:00"),
		rec("Team A", "Team B", "S3", "20:00"), // inside 15m lead time
		rec("Team A", "Team B", "S4", ""),
		rec("Team A", "Team B", "", "21:00"),
	}

	kept, dropped := m.Screen(records, now)
	require.Len(t, kept, 2)
	assert.Equal(t, "S1", kept[0].Source)
	assert.Equal(t, "S4", kept[1].Source)

	require.Len(t, dropped, 3)
	assert.True(t, errors.Is(dropped[0], ErrInvalidRecord))
	assert.Equal(t, 1, dropped[0].Index)
	assert.True(t, errors.Is(dropped[1], ErrKickoffTooSoon))
	assert.True(t, errors.Is(dropped[2], ErrInvalidRecord))
}

func TestRun(t *testing.T) {
	m := newMonitor(t, 2)
	now := serviceDay.Add(8 * time.Hour)

	res := m.Run([]models.MatchRecord{
		rec("Man Utd", "Liverpool", "Odibets", "17:30"),
		rec("Manchester United", "Liverpool FC", "Betika", "18:00"),
		rec("Manchester United", "Liverpool", "Mozzartbet", "17:30"),
		rec("Arsenal", "Chelsea", "Betika", ""),
		rec("", "Nobody", "Betika", "12:00"),
	}, now)

	assert.Equal(t, 5, res.Input)
	assert.Len(t, res.Dropped, 1)
	assert.Len(t, res.Groups, 2)
	assert.Equal(t, 1, res.MultiSource)
	assert.Equal(t, 1, res.MissingTimes)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "17:30", res.Reports[0].MajorityTime)
	assert.Equal(t, []string{"Betika"}, res.Reports[0].OutlierSources())
}

// ─── Alert de-duplication ────────────────────────────────────────────────────

func TestFilterAlreadyAlerted(t *testing.T) {
	m := newMonitor(t, 2)
	now := detectedAt()

	detect := func(stale string) []models.DiscrepancyReport {
		return m.Detect(m.Group([]models.MatchRecord{
			rec("Team A", "Team B", "S1", "20:00"),
			rec("Team A", "Team B", "S2", stale),
			rec("Team A", "Team B", "S3", "20:00"),
		}), now)
	}

	first := detect("20:30")
	require.Len(t, first, 1)
	assert.Len(t, m.FilterAlreadyAlerted(first, time.Hour, now), 1)

	m.RecordAlerted(first, now)

	// same disagreement on the next cycle, new report ID
	again := detect("20:30")
	assert.NotEqual(t, first[0].ID, again[0].ID)
	assert.Empty(t, m.FilterAlreadyAlerted(again, time.Hour, now.Add(5*time.Minute)))

	// the stale source moved to another wrong time
	moved := detect("20:45")
	assert.Len(t, m.FilterAlreadyAlerted(moved, time.Hour, now.Add(5*time.Minute)), 1)

	// cooldown expired
	assert.Len(t, m.FilterAlreadyAlerted(again, time.Hour, now.Add(2*time.Hour)), 1)
}

func TestFilterAlreadyAlerted_NeverNil(t *testing.T) {
	m := newMonitor(t, 2)
	result := m.FilterAlreadyAlerted(nil, time.Hour, detectedAt())
	assert.NotNil(t, result)
	assert.Empty(t, result)
}
