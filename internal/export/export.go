// Package export writes discrepancy reports to flat files for offline review:
// a running CSV log with one row per outlier, and one JSON snapshot per cycle.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// CSVHeader is the column layout of the CSV log
var CSVHeader = []string{
	"detected_at",
	"match_key",
	"home",
	"away",
	"league",
	"kickoff_date",
	"majority_time",
	"source",
	"source_time",
	"gap_minutes",
	"max_gap_minutes",
	"odds_home",
	"odds_draw",
	"odds_away",
}

// JSONFileLayout is the timestamp layout of per-cycle JSON file names
const JSONFileLayout = "20060102_150405"

// WriteCSV appends one row per outlier to the CSV file at path. The header is
// written only when the file is new or empty.
func WriteCSV(path string, reports []models.DiscrepancyReport) error {
	if len(reports) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat csv file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}

	for _, r := range reports {
		for _, o := range r.Outliers {
			row := []string{
				r.DetectedAt.Format(time.RFC3339),
				r.MatchKey,
				r.Home,
				r.Away,
				r.League,
				r.KickoffDate,
				r.MajorityTime,
				o.Source,
				o.Time,
				strconv.Itoa(o.GapMinutes),
				strconv.Itoa(r.MaxGapMinutes),
				formatOdds(o.OddsHome),
				formatOdds(o.OddsDraw),
				formatOdds(o.OddsAway),
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write csv row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// WriteJSON writes reports to discrepancies_<timestamp>.json in dir and
// returns the file path. Nothing is written for an empty batch.
func WriteJSON(dir string, reports []models.DiscrepancyReport, now time.Time) (string, error) {
	if len(reports) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal reports: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("discrepancies_%s.json", now.Format(JSONFileLayout)))

	// atomic write: temp file then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}
	return path, nil
}

func formatOdds(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
