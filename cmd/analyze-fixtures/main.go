package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rewired-gh/kickoffwatch/internal/config"
	"github.com/rewired-gh/kickoffwatch/internal/feed"
	"github.com/rewired-gh/kickoffwatch/internal/logger"
	"github.com/rewired-gh/kickoffwatch/internal/models"
	"github.com/rewired-gh/kickoffwatch/internal/monitor"
	"github.com/rewired-gh/kickoffwatch/internal/names"
)

var (
	inputPath     = flag.String("input", "", "JSON file with a batch of match records (reads stdin when \"-\")")
	configPath    = flag.String("config", "", "Fetch a live batch from the sources in this configuration file instead")
	threshold     = flag.Float64("threshold", names.DefaultThreshold, "Fuzzy match threshold")
	tolerance     = flag.Float64("tolerance", monitor.DefaultToleranceMinutes, "Kickoff tolerance in minutes")
	includeLeague = flag.Bool("include-league", false, "Include the league in match signatures")
	sweep         = flag.Bool("sweep", false, "Print group and conflict counts across thresholds and tolerances")
	asJSON        = flag.Bool("json", false, "Print reports as JSON")
	timezone      = flag.String("timezone", "", "Reference timezone for -input batches (defaults to UTC)")
)

var (
	sweepThresholds = []float64{0.7, 0.75, 0.8, 0.85, 0.9, 0.95}
	sweepTolerances = []float64{0, 2, 5, 15, 30, 60}
)

func main() {
	flag.Parse()
	logger.Init("warn", "text")
	defer logger.Sync()

	records, err := loadBatch()
	if err != nil {
		log.Fatalf("Failed to load batch: %v", err)
	}

	if *sweep {
		runSweep(os.Stdout, records)
		return
	}

	matcher, err := names.NewMatcher(nil, *threshold)
	if err != nil {
		log.Fatalf("Invalid threshold: %v", err)
	}
	opts := monitor.DefaultOptions()
	opts.ToleranceMinutes = *tolerance
	opts.IncludeLeague = *includeLeague

	res := analyze(matcher, opts, records)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Reports); err != nil {
			log.Fatalf("Failed to encode reports: %v", err)
		}
		return
	}
	printSummary(os.Stdout, res)
}

func loadBatch() ([]models.MatchRecord, error) {
	if *configPath != "" {
		return fetchLive(*configPath)
	}

	loc := time.UTC
	if *timezone != "" {
		var err error
		if loc, err = time.LoadLocation(*timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}

	switch *inputPath {
	case "":
		return nil, fmt.Errorf("either -input or -config is required")
	case "-":
		return decodeBatch(os.Stdin, loc)
	default:
		f, err := os.Open(*inputPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return decodeBatch(f, loc)
	}
}

// batchRecord is one record of an input batch. The kickoff stays a string so
// a single malformed time only loses that record's kickoff.
type batchRecord struct {
	Home        string   `json:"home"`
	Away        string   `json:"away"`
	League      string   `json:"league"`
	KickoffTime string   `json:"kickoff_time"`
	Source      string   `json:"source"`
	OddsHome    *float64 `json:"odds_home,omitempty"`
	OddsDraw    *float64 `json:"odds_draw,omitempty"`
	OddsAway    *float64 `json:"odds_away,omitempty"`
}

// decodeBatch reads a JSON array of records and converts every kickoff to loc.
// Kickoffs without an offset are read as loc; unparsable ones stay zero.
func decodeBatch(r io.Reader, loc *time.Location) ([]models.MatchRecord, error) {
	var batch []batchRecord
	if err := json.NewDecoder(r).Decode(&batch); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	records := make([]models.MatchRecord, 0, len(batch))
	for _, b := range batch {
		kickoff, ok := feed.ParseKickoff(b.KickoffTime, loc)
		if ok {
			kickoff = kickoff.In(loc)
		} else {
			fmt.Fprintf(os.Stderr, "warning: unparsable kickoff %q for %s vs %s (%s)\n", b.KickoffTime, b.Home, b.Away, b.Source)
		}
		records = append(records, models.MatchRecord{
			Home:        strings.TrimSpace(b.Home),
			Away:        strings.TrimSpace(b.Away),
			League:      strings.TrimSpace(b.League),
			KickoffTime: kickoff,
			Source:      strings.TrimSpace(b.Source),
			OddsHome:    b.OddsHome,
			OddsDraw:    b.OddsDraw,
			OddsAway:    b.OddsAway,
		})
	}
	return records, nil
}

// analyze runs the monitor over a whole batch without the lead-time filter
func analyze(matcher *names.Matcher, opts monitor.Options, records []models.MatchRecord) monitor.Result {
	opts.MinLeadTime = 0
	return monitor.New(matcher, opts).Run(records, time.Now())
}

func fetchLive(path string) ([]models.MatchRecord, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var sources []feed.Source
	for _, sc := range cfg.EnabledSources() {
		src := feed.Source{Name: sc.Name, URL: sc.URL}
		if sc.Timezone != "" {
			if src.Location, err = time.LoadLocation(sc.Timezone); err != nil {
				return nil, err
			}
		}
		sources = append(sources, src)
	}

	client := feed.NewClient(feed.Options{
		Timeout:        cfg.Feed.Timeout,
		MaxRetries:     cfg.Feed.MaxRetries,
		RetryDelayBase: cfg.Feed.RetryDelayBase,
		Concurrency:    cfg.Feed.Concurrency,
		Reference:      cfg.Location(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	records, failed := client.FetchAll(ctx, sources)
	for _, f := range failed {
		fmt.Fprintf(os.Stderr, "warning: %v\n", f)
	}
	return records, nil
}

func printSummary(w io.Writer, res monitor.Result) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, "KICKOFF TIME ANALYSIS")
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "Records: %d (dropped %d, missing kickoff %d)\n", res.Input, len(res.Dropped), res.MissingTimes)
	fmt.Fprintf(w, "Matches: %d (%d seen by 2+ sources)\n", len(res.Groups), res.MultiSource)
	fmt.Fprintf(w, "Conflicts: %d\n\n", len(res.Reports))

	for i, r := range res.Reports {
		fmt.Fprintf(w, "%d. %s vs %s", i+1, r.Home, r.Away)
		if r.League != "" {
			fmt.Fprintf(w, " [%s]", r.League)
		}
		fmt.Fprintf(w, "\n   %s, majority %s, spread %dm\n", r.KickoffDate, r.MajorityTime, r.MaxGapMinutes)
		for _, st := range r.ReportedTimes {
			marker := " "
			for _, o := range r.Outliers {
				if o.Source == st.Source {
					marker = "!"
				}
			}
			fmt.Fprintf(w, "   %s %-20s %s\n", marker, st.Source, st.Time)
		}
	}
}

func runSweep(w io.Writer, records []models.MatchRecord) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintln(w, "THRESHOLD / TOLERANCE SWEEP (groups, multi-source groups, conflicts)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintf(w, "%-10s", "threshold")
	for _, tol := range sweepTolerances {
		fmt.Fprintf(w, "%16s", fmt.Sprintf("tol=%gm", tol))
	}
	fmt.Fprintln(w)

	for _, th := range sweepThresholds {
		matcher, err := names.NewMatcher(nil, th)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "%-10.2f", th)
		for _, tol := range sweepTolerances {
			opts := monitor.DefaultOptions()
			opts.ToleranceMinutes = tol
			opts.IncludeLeague = *includeLeague
			res := analyze(matcher, opts, records)
			fmt.Fprintf(w, "%16s", fmt.Sprintf("%d/%d/%d", len(res.Groups), res.MultiSource, len(res.Reports)))
		}
		fmt.Fprintln(w)
	}
}
