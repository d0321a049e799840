// Package schedule decides how often sources are polled. The cadence tightens
// as the soonest upcoming kickoff approaches, and sources that keep failing are
// backed off exponentially so one broken feed does not cost every cycle.
package schedule

import (
	"sync"
	"time"

	"github.com/rewired-gh/kickoffwatch/internal/models"
)

// band maps a lead time to the poll interval used while the soonest kickoff
// is at least that far away.
type band struct {
	lead     time.Duration
	interval time.Duration
}

var bands = []band{
	{24 * time.Hour, 120 * time.Minute},
	{6 * time.Hour, 30 * time.Minute},
	{2 * time.Hour, 15 * time.Minute},
	{30 * time.Minute, 5 * time.Minute},
	{0, 2 * time.Minute},
}

// Options configures a Planner
type Options struct {
	MinInterval      time.Duration
	MaxInterval      time.Duration
	FallbackInterval time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

type sourceState struct {
	failures  int
	lastError time.Time
}

// Planner tracks poll cadence and per-source failure backoff.
// It is safe for concurrent use.
type Planner struct {
	opts Options

	mu      sync.Mutex
	sources map[string]*sourceState
}

// NewPlanner creates a new Planner
func NewPlanner(opts Options) *Planner {
	return &Planner{
		opts:    opts,
		sources: make(map[string]*sourceState),
	}
}

// NextInterval returns how long to wait before the next cycle, based on the
// soonest kickoff after now. Without any future kickoff the fallback is used.
func (p *Planner) NextInterval(records []models.MatchRecord, now time.Time) time.Duration {
	var soonest time.Duration
	found := false
	for _, r := range records {
		if !r.HasKickoff() {
			continue
		}
		lead := r.KickoffTime.Sub(now)
		if lead <= 0 {
			continue
		}
		if !found || lead < soonest {
			soonest = lead
			found = true
		}
	}

	if !found {
		return p.clamp(p.opts.FallbackInterval)
	}
	return p.clamp(IntervalFor(soonest))
}

// IntervalFor returns the unclamped poll interval for a kickoff lead time.
func IntervalFor(lead time.Duration) time.Duration {
	for _, b := range bands {
		if lead > b.lead {
			return b.interval
		}
	}
	return bands[len(bands)-1].interval
}

func (p *Planner) clamp(d time.Duration) time.Duration {
	if p.opts.MinInterval > 0 && d < p.opts.MinInterval {
		return p.opts.MinInterval
	}
	if p.opts.MaxInterval > 0 && d > p.opts.MaxInterval {
		return p.opts.MaxInterval
	}
	return d
}

// RecordFailure notes a failed fetch of source at now.
func (p *Planner) RecordFailure(source string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sources[source]
	if !ok {
		st = &sourceState{}
		p.sources[source] = st
	}
	st.failures++
	st.lastError = now
}

// RecordSuccess clears the failure history of source.
func (p *Planner) RecordSuccess(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sources, source)
}

// Backoff returns the current backoff of source, zero when it is healthy.
func (p *Planner) Backoff(source string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sources[source]
	if !ok || st.failures == 0 {
		return 0
	}
	return p.backoff(st.failures)
}

// ShouldSkip reports whether source is still inside its backoff window at now.
func (p *Planner) ShouldSkip(source string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.sources[source]
	if !ok || st.failures == 0 {
		return false
	}
	return now.Before(st.lastError.Add(p.backoff(st.failures)))
}

// backoff is base * 2^(failures-1), capped at BackoffMax.
func (p *Planner) backoff(failures int) time.Duration {
	d := p.opts.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if p.opts.BackoffMax > 0 && d >= p.opts.BackoffMax {
			return p.opts.BackoffMax
		}
	}
	if p.opts.BackoffMax > 0 && d > p.opts.BackoffMax {
		return p.opts.BackoffMax
	}
	return d
}
