// Package feed fetches fixture listings from independent sources. Each source
// serves a JSON array of fixtures; the client converts kickoff times into the
// shared reference timezone and tags every record with its source name.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/kickoffwatch/internal/logger"
	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// localLayouts are accepted for kickoffs without an explicit offset.
// They are interpreted in the source's own timezone.
var localLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Source is one fixture feed
type Source struct {
	Name     string
	URL      string
	Location *time.Location // timezone of offset-less kickoffs; nil means the reference zone
}

// Fixture is one entry of a source feed
type Fixture struct {
	Home     string   `json:"home"`
	Away     string   `json:"away"`
	League   string   `json:"league"`
	Kickoff  string   `json:"kickoff"`
	OddsHome *float64 `json:"odds_home"`
	OddsDraw *float64 `json:"odds_draw"`
	OddsAway *float64 `json:"odds_away"`
}

// SourceError represents a source that could not be fetched in a batch
type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}

// Options configures a Client
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	Concurrency    int
	Reference      *time.Location
}

// Client fetches fixture feeds over HTTP
type Client struct {
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
	concurrency    int
	reference      *time.Location
}

// NewClient creates a new feed client
func NewClient(opts Options) *Client {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Reference == nil {
		opts.Reference = time.UTC
	}
	return &Client{
		httpClient:     &http.Client{Timeout: opts.Timeout},
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
		concurrency:    opts.Concurrency,
		reference:      opts.Reference,
	}
}

// FetchSource retrieves and converts the fixtures of one source
func (c *Client) FetchSource(ctx context.Context, src Source) ([]models.MatchRecord, error) {
	resp, err := c.doRequest(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fixtures: %w", err)
	}
	defer resp.Body.Close()

	var fixtures []Fixture
	if err := json.NewDecoder(resp.Body).Decode(&fixtures); err != nil {
		return nil, fmt.Errorf("failed to decode fixtures: %w", err)
	}

	loc := src.Location
	if loc == nil {
		loc = c.reference
	}

	records := make([]models.MatchRecord, 0, len(fixtures))
	unparsed := 0
	for _, f := range fixtures {
		kickoff, ok := ParseKickoff(f.Kickoff, loc)
		if ok {
			kickoff = kickoff.In(c.reference)
		} else {
			unparsed++
			logger.Debug("feed %s: unparsable kickoff %q for %s vs %s", src.Name, f.Kickoff, f.Home, f.Away)
		}

		records = append(records, models.MatchRecord{
			Home:        strings.TrimSpace(f.Home),
			Away:        strings.TrimSpace(f.Away),
			League:      strings.TrimSpace(f.League),
			KickoffTime: kickoff,
			Source:      src.Name,
			OddsHome:    cleanOdds(f.OddsHome),
			OddsDraw:    cleanOdds(f.OddsDraw),
			OddsAway:    cleanOdds(f.OddsAway),
		})
	}

	if unparsed > 0 {
		logger.Warn("feed %s: %d of %d fixtures have no usable kickoff", src.Name, unparsed, len(fixtures))
	}
	return records, nil
}

// FetchAll fetches every source concurrently and returns one batch in source
// order. A failing source is reported in the error slice and contributes no
// records; it never aborts the batch.
func (c *Client) FetchAll(ctx context.Context, sources []Source) ([]models.MatchRecord, []SourceError) {
	results := make([][]models.MatchRecord, len(sources))

	var (
		mu     sync.Mutex
		failed []SourceError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			records, err := c.FetchSource(gctx, src)
			if err != nil {
				mu.Lock()
				failed = append(failed, SourceError{Source: src.Name, Err: err})
				mu.Unlock()
				return nil
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	var batch []models.MatchRecord
	for _, records := range results {
		batch = append(batch, records...)
	}

	// report failures in source order, not completion order
	ordered := make([]SourceError, 0, len(failed))
	for _, src := range sources {
		for _, f := range failed {
			if f.Source == src.Name {
				ordered = append(ordered, f)
			}
		}
	}
	return batch, ordered
}

// ParseKickoff parses a feed kickoff. RFC3339 values carry their own offset;
// the local layouts are read in loc.
func ParseKickoff(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cleanOdds drops decimal odds that cannot be real prices
func cleanOdds(v *float64) *float64 {
	if v == nil || *v <= 1.0 {
		return nil
	}
	odds := *v
	return &odds
}

// doRequest performs HTTP request with retry logic
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i) * c.retryDelayBase):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
