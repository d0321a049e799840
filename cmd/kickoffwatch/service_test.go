package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/kickoffwatch/internal/config"
	"github.com/rewired-gh/kickoffwatch/internal/feed"
	"github.com/rewired-gh/kickoffwatch/internal/metrics"
	"github.com/rewired-gh/kickoffwatch/internal/models"
	"github.com/rewired-gh/kickoffwatch/internal/monitor"
	"github.com/rewired-gh/kickoffwatch/internal/notify"
	"github.com/rewired-gh/kickoffwatch/internal/schedule"
	"github.com/rewired-gh/kickoffwatch/internal/storage"
)

type recordingNotifier struct {
	batches [][]models.DiscrepancyReport
}

func (r *recordingNotifier) Name() string { return "recorder" }

func (r *recordingNotifier) Notify(_ context.Context, reports []models.DiscrepancyReport) error {
	r.batches = append(r.batches, reports)
	return nil
}

func serveJSON(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(t *testing.T, sources []feed.Source) (*service, *recordingNotifier, *prometheus.Registry) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Monitor: config.MonitorConfig{AlertCooldown: 6 * time.Hour, Timezone: "UTC"},
		Storage: config.StorageConfig{Retention: 168 * time.Hour},
		Export: config.ExportConfig{
			Enabled: true,
			CSVPath: filepath.Join(dir, "matches_with_varying_times.csv"),
			JSONDir: dir,
		},
	}

	store, err := storage.New(storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rec := &recordingNotifier{}
	reg := prometheus.NewRegistry()

	return &service{
		cfg:     cfg,
		feed:    feed.NewClient(feed.Options{Timeout: 5 * time.Second, MaxRetries: 1, Concurrency: 2, Reference: time.UTC}),
		sources: sources,
		planner: schedule.NewPlanner(schedule.Options{
			MinInterval:      time.Minute,
			MaxInterval:      30 * time.Minute,
			FallbackInterval: 20 * time.Minute,
			BackoffBase:      2 * time.Minute,
			BackoffMax:       time.Hour,
		}),
		mon:      monitor.New(nil, monitor.DefaultOptions()),
		store:    store,
		notifier: notify.NewFanout(rec),
		metrics:  metrics.New(reg),
	}, rec, reg
}

func TestRunCycle_DetectsPersistsAndNotifiesOnce(t *testing.T) {
	odibets := serveJSON(t, `[
		{"home": "Man Utd", "away": "Liverpool FC", "league": "EPL", "kickoff": "2026-10-18T17:30:00Z"},
		{"home": "Arsenal", "away": "Chelsea", "league": "EPL", "kickoff": "2026-10-18T20:00:00Z"}
	]`)
	betika := serveJSON(t, `[
		{"home": "Manchester United", "away": "Liverpool", "league": "Premier League", "kickoff": "2026-10-18T18:00:00Z", "odds_home": 2.2},
		{"home": "Arsenal FC", "away": "CFC", "league": "Premier League", "kickoff": "2026-10-18T20:00:00Z"}
	]`)
	mozzart := serveJSON(t, `[
		{"home": "Man United", "away": "Liverpool", "league": "England", "kickoff": "2026-10-18T17:30:00Z"}
	]`)

	svc, rec, _ := newTestService(t, []feed.Source{
		{Name: "Odibets", URL: odibets.URL},
		{Name: "Betika", URL: betika.URL},
		{Name: "Mozzartbet", URL: mozzart.URL},
	})
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	res, err := svc.runCycle(ctx, now)
	require.NoError(t, err)
	assert.Len(t, res.records, 5)
	require.Len(t, res.reports, 1)
	assert.Equal(t, []string{"Betika"}, res.reports[0].OutlierSources())
	assert.Equal(t, 1, res.alerted)

	require.Len(t, rec.batches, 1)
	assert.Equal(t, "Man Utd", rec.batches[0][0].Home)

	n, err := svc.store.CountReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(svc.cfg.Export.CSVPath)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(svc.cfg.Export.JSONDir, "discrepancies_20261018_090000.json"))
	assert.NoError(t, err)

	// same conflict on the next cycle is stored but not alerted again
	res, err = svc.runCycle(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Len(t, res.reports, 1)
	assert.Zero(t, res.alerted)
	assert.Len(t, rec.batches, 1)

	n, err = svc.store.CountReports(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.ReportsDetected))
	assert.Equal(t, 2.0, testutil.ToFloat64(svc.metrics.OutliersBySource.WithLabelValues("Betika")))
}

func TestRunCycle_FailingSourceBacksOff(t *testing.T) {
	good := serveJSON(t, `[{"home": "A", "away": "B", "kickoff": "2026-10-18T20:00:00Z"}]`)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	svc, _, _ := newTestService(t, []feed.Source{
		{Name: "good", URL: good.URL},
		{Name: "bad", URL: bad.URL},
	})
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	res, err := svc.runCycle(context.Background(), now)
	require.NoError(t, err, "one failing source does not fail the cycle")
	assert.Len(t, res.records, 1)
	assert.True(t, svc.planner.ShouldSkip("bad", now.Add(time.Minute)))
	assert.False(t, svc.planner.ShouldSkip("good", now.Add(time.Minute)))
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.SourceFailures.WithLabelValues("bad")))
}

func TestRunCycle_AllSourcesFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	svc, _, _ := newTestService(t, []feed.Source{
		{Name: "s1", URL: bad.URL},
		{Name: "s2", URL: bad.URL},
	})
	now := time.Now()

	_, err := svc.runCycle(context.Background(), now)
	require.Error(t, err)

	_, err = svc.runCycle(context.Background(), now.Add(time.Second))
	assert.ErrorContains(t, err, "backing off")
}
