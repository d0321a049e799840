// Package storage persists discrepancy reports in SQLite.
//
// The schema is owned by embedded goose migrations that run on New. Reports
// and their outliers are written in one transaction per batch, so a reader
// never sees a report without its outliers. Old reports are pruned by age.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/kickoffwatch/internal/logger"
	"github.com/rewired-gh/kickoffwatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Storage persists discrepancy reports
type Storage struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies migrations.
func New(path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: SQLite serializes writers anyway and ":memory:" is per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// gooseLogger routes migration output through the application logger
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	logger.Debug(strings.TrimSuffix(format, "\n"), v...)
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	logger.Fatal(strings.TrimSuffix(format, "\n"), v...)
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveReports stores reports and their outliers atomically
func (s *Storage) SaveReports(ctx context.Context, reports []models.DiscrepancyReport) error {
	if len(reports) == 0 {
		return nil
	}
	for i := range reports {
		if err := reports[i].Validate(); err != nil {
			return fmt.Errorf("invalid report %s: %w", reports[i].ID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range reports {
		reported, err := json.Marshal(r.ReportedTimes)
		if err != nil {
			return fmt.Errorf("failed to marshal reported times: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO reports (id, match_key, home, away, league, kickoff_date, majority_time, reported_times, max_gap_minutes, detected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.MatchKey, r.Home, r.Away, r.League, r.KickoffDate, r.MajorityTime,
			string(reported), r.MaxGapMinutes, r.DetectedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to insert report %s: %w", r.ID, err)
		}

		for pos, o := range r.Outliers {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO outliers (report_id, position, source, time, gap_minutes, odds_home, odds_draw, odds_away)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, pos, o.Source, o.Time, o.GapMinutes,
				nullFloat(o.OddsHome), nullFloat(o.OddsDraw), nullFloat(o.OddsAway),
			); err != nil {
				return fmt.Errorf("failed to insert outlier for report %s: %w", r.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reports: %w", err)
	}
	return nil
}

// ListReports returns reports detected at or after since, newest first.
// A limit <= 0 returns every match.
func (s *Storage) ListReports(ctx context.Context, since time.Time, limit int) ([]models.DiscrepancyReport, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, match_key, home, away, league, kickoff_date, majority_time, reported_times, max_gap_minutes, detected_at
  FROM reports
 WHERE detected_at >= ?
 ORDER BY detected_at DESC, id
 LIMIT ?`, since.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}

	var reports []models.DiscrepancyReport
	index := make(map[string]int)
	for rows.Next() {
		var (
			r          models.DiscrepancyReport
			reported   string
			detectedAt int64
		)
		if err := rows.Scan(&r.ID, &r.MatchKey, &r.Home, &r.Away, &r.League, &r.KickoffDate,
			&r.MajorityTime, &reported, &r.MaxGapMinutes, &detectedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		if err := json.Unmarshal([]byte(reported), &r.ReportedTimes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode reported times of %s: %w", r.ID, err)
		}
		r.DetectedAt = time.Unix(0, detectedAt)
		index[r.ID] = len(reports)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(reports) == 0 {
		return reports, nil
	}
	if err := s.attachOutliers(ctx, reports, index); err != nil {
		return nil, err
	}
	return reports, nil
}

func (s *Storage) attachOutliers(ctx context.Context, reports []models.DiscrepancyReport, index map[string]int) error {
	placeholders := make([]string, len(reports))
	args := make([]interface{}, len(reports))
	for i, r := range reports {
		placeholders[i] = "?"
		args[i] = r.ID
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT report_id, source, time, gap_minutes, odds_home, odds_draw, odds_away
  FROM outliers
 WHERE report_id IN (`+strings.Join(placeholders, ",")+`)
 ORDER BY report_id, position`, args...)
	if err != nil {
		return fmt.Errorf("failed to query outliers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			reportID            string
			o                   models.Outlier
			home, draw, awayOdd sql.NullFloat64
		)
		if err := rows.Scan(&reportID, &o.Source, &o.Time, &o.GapMinutes, &home, &draw, &awayOdd); err != nil {
			return fmt.Errorf("failed to scan outlier: %w", err)
		}
		o.OddsHome = floatPtr(home)
		o.OddsDraw = floatPtr(draw)
		o.OddsAway = floatPtr(awayOdd)

		i := index[reportID]
		reports[i].Outliers = append(reports[i].Outliers, o)
	}
	return rows.Err()
}

// CountReports returns the number of stored reports
func (s *Storage) CountReports(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reports: %w", err)
	}
	return n, nil
}

// OutlierCountsBySource returns how often each source was an outlier in
// reports detected at or after since.
func (s *Storage) OutlierCountsBySource(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT o.source, COUNT(*)
  FROM outliers o
  JOIN reports r ON r.id = o.report_id
 WHERE r.detected_at >= ?
 GROUP BY o.source`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query outlier counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outlier count: %w", err)
		}
		out[source] = n
	}
	return out, rows.Err()
}

// Prune deletes reports detected before olderThan and returns how many were removed
func (s *Storage) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := olderThan.UnixNano()
	if _, err := tx.ExecContext(ctx, `
DELETE FROM outliers
 WHERE report_id IN (SELECT id FROM reports WHERE detected_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune outliers: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE detected_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return n, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
