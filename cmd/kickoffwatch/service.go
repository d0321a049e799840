package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/kickoffwatch/internal/config"
	"github.com/rewired-gh/kickoffwatch/internal/export"
	"github.com/rewired-gh/kickoffwatch/internal/feed"
	"github.com/rewired-gh/kickoffwatch/internal/logger"
	"github.com/rewired-gh/kickoffwatch/internal/metrics"
	"github.com/rewired-gh/kickoffwatch/internal/models"
	"github.com/rewired-gh/kickoffwatch/internal/monitor"
	"github.com/rewired-gh/kickoffwatch/internal/notify"
	"github.com/rewired-gh/kickoffwatch/internal/schedule"
	"github.com/rewired-gh/kickoffwatch/internal/storage"
)

// service wires one monitoring cycle together
type service struct {
	cfg      *config.Config
	feed     *feed.Client
	sources  []feed.Source
	planner  *schedule.Planner
	mon      *monitor.Monitor
	store    *storage.Storage
	notifier *notify.Fanout
	metrics  *metrics.Metrics
}

// cycleResult is what the scheduler needs from a finished cycle
type cycleResult struct {
	records []models.MatchRecord
	reports []models.DiscrepancyReport
	alerted int
}

// feedSources converts configured sources, loading their timezones
func feedSources(cfg *config.Config) ([]feed.Source, error) {
	var out []feed.Source
	for _, sc := range cfg.EnabledSources() {
		src := feed.Source{Name: sc.Name, URL: sc.URL}
		if sc.Timezone != "" {
			loc, err := time.LoadLocation(sc.Timezone)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Name, err)
			}
			src.Location = loc
		}
		out = append(out, src)
	}
	return out, nil
}

// runCycle fetches every due source, detects discrepancies, persists them and
// notifies about the ones not alerted within the cooldown.
func (s *service) runCycle(ctx context.Context, now time.Time) (cycleResult, error) {
	startTime := time.Now()
	logger.Info("Starting monitoring cycle")

	var due []feed.Source
	for _, src := range s.sources {
		if s.planner.ShouldSkip(src.Name, now) {
			logger.Info("Skipping source %s, backing off for %v", src.Name, s.planner.Backoff(src.Name))
			continue
		}
		due = append(due, src)
	}
	if len(due) == 0 {
		return cycleResult{}, errors.New("every source is backing off")
	}
	if len(due) < 2 {
		logger.Warn("Only %d source due this cycle, no comparison possible", len(due))
	}

	// Fetch
	batch, failed := s.feed.FetchAll(ctx, due)
	failedNames := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedNames[f.Source] = true
		s.planner.RecordFailure(f.Source, now)
		s.metrics.SourceFailures.WithLabelValues(f.Source).Inc()
		logger.Warn("Failed to fetch %v", f)
	}
	if len(failed) == len(due) {
		return cycleResult{}, fmt.Errorf("all %d sources failed: %w", len(due), failed[0])
	}

	perSource := make(map[string]int)
	for _, r := range batch {
		perSource[r.Source]++
	}
	for _, src := range due {
		if failedNames[src.Name] {
			continue
		}
		s.planner.RecordSuccess(src.Name)
		s.metrics.RecordsFetched.WithLabelValues(src.Name).Add(float64(perSource[src.Name]))
	}
	logger.Info("Fetched %d fixtures from %d sources (%d failed)", len(batch), len(due)-len(failed), len(failed))

	// Detect
	res := s.mon.Run(batch, now)
	for _, d := range res.Dropped {
		reason := "invalid"
		if errors.Is(d, monitor.ErrKickoffTooSoon) {
			reason = "kickoff_too_soon"
		}
		s.metrics.RecordsDropped.WithLabelValues(reason).Inc()
		logger.Debug("Dropped %v", d)
	}
	s.metrics.Groups.Set(float64(len(res.Groups)))
	s.metrics.MultiSourceGroups.Set(float64(res.MultiSource))
	s.metrics.ReportsDetected.Add(float64(len(res.Reports)))

	logger.Info("Grouped %d fixtures into %d matches (%d seen by 2+ sources), %d conflicts",
		len(batch)-len(res.Dropped), len(res.Groups), res.MultiSource, len(res.Reports))

	for _, r := range res.Reports {
		for _, o := range r.Outliers {
			s.metrics.OutliersBySource.WithLabelValues(o.Source).Inc()
		}
		logger.Info("Conflict: %s vs %s on %s, majority %s, outliers %v (max gap %dm)",
			r.Home, r.Away, r.KickoffDate, r.MajorityTime, r.OutlierSources(), r.MaxGapMinutes)
	}

	result := cycleResult{records: batch, reports: res.Reports}

	// Persist
	if err := s.store.SaveReports(ctx, res.Reports); err != nil {
		logger.Error("Failed to save reports: %v", err)
	}

	if s.cfg.Export.Enabled && len(res.Reports) > 0 {
		if s.cfg.Export.CSVPath != "" {
			if err := export.WriteCSV(s.cfg.Export.CSVPath, res.Reports); err != nil {
				logger.Warn("Failed to append CSV log: %v", err)
			}
		}
		if s.cfg.Export.JSONDir != "" {
			path, err := export.WriteJSON(s.cfg.Export.JSONDir, res.Reports, now)
			if err != nil {
				logger.Warn("Failed to write JSON snapshot: %v", err)
			} else {
				logger.Debug("Saved %d conflicts to %s", len(res.Reports), path)
			}
		}
	}

	// Notify
	fresh := s.mon.FilterAlreadyAlerted(res.Reports, s.cfg.Monitor.AlertCooldown, now)
	if len(fresh) > 0 && s.notifier.Len() > 0 {
		if err := s.notifier.Notify(ctx, fresh); err != nil {
			logger.Error("Failed to notify about %d conflicts: %v", len(fresh), err)
		} else {
			logger.Info("Sent %d new conflicts to %v", len(fresh), s.notifier.Names())
			s.mon.RecordAlerted(fresh, now)
			result.alerted = len(fresh)
		}
	} else if len(res.Reports) > 0 {
		logger.Debug("No new conflicts to notify (%d already alerted)", len(res.Reports)-len(fresh))
	}

	duration := time.Since(startTime)
	s.metrics.CycleDuration.Observe(duration.Seconds())
	s.metrics.LastCycleSuccess.SetToCurrentTime()
	logger.Info("Monitoring cycle completed in %v", duration)

	return result, nil
}

// prune removes reports older than the retention window
func (s *service) prune(ctx context.Context, now time.Time) {
	removed, err := s.store.Prune(ctx, now.Add(-s.cfg.Storage.Retention))
	if err != nil {
		logger.Warn("Failed to prune old reports: %v", err)
		return
	}
	if removed > 0 {
		logger.Info("Pruned %d reports older than %v", removed, s.cfg.Storage.Retention)
	}
}

// logSourceReliability logs how often each source disagreed over the retention window
func (s *service) logSourceReliability(ctx context.Context, now time.Time) {
	counts, err := s.store.OutlierCountsBySource(ctx, now.Add(-s.cfg.Storage.Retention))
	if err != nil {
		logger.Warn("Failed to load outlier counts: %v", err)
		return
	}
	for _, src := range s.sources {
		logger.Debug("Source %s was an outlier %d times in the last %v", src.Name, counts[src.Name], s.cfg.Storage.Retention)
	}
}
