// Package traffic keeps short sliding windows of upstream call outcomes and
// webhook rate-limit denials. /health reads them to decide whether the bot is
// degraded.
package traffic

import (
	"sync"
	"time"
)

// Retention bounds how far back outcomes are kept.
const Retention = 5 * time.Minute

var defaultTracker = NewTracker()

// RecordUpstream records the final outcome of one upstream fetch for the
// process-wide tracker. A nil err is a success.
func RecordUpstream(upstream string, err error) {
	defaultTracker.RecordUpstream(upstream, err)
}

// RecordDenied records one webhook request refused by the rate limiter.
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// ErrorRate returns (errors, total) for upstream outcomes within window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// DenialCount returns rate-limit denials within window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// Reset clears the process-wide tracker. For tests.
func Reset() {
	defaultTracker.Reset()
}

type outcome struct {
	at       time.Time
	upstream string
	failed   bool
}

// Tracker holds timestamped outcomes. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	outcomes []outcome
	denials  []time.Time
	now      func() time.Time
}

// NewTracker creates an empty Tracker on the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// WithClock replaces the clock. For tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
	return t
}

func (t *Tracker) RecordUpstream(upstream string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.outcomes = append(t.outcomes, outcome{at: now, upstream: upstream, failed: err != nil})
	t.pruneLocked(now)
}

func (t *Tracker) RecordDenied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.denials = append(t.denials, now)
	t.pruneLocked(now)
}

// ErrorRate returns failed and total upstream outcomes within window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	for _, o := range t.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		total++
		if o.failed {
			errors++
		}
	}
	return errors, total
}

// UpstreamErrorRate is ErrorRate restricted to one upstream.
func (t *Tracker) UpstreamErrorRate(upstream string, window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	for _, o := range t.outcomes {
		if o.upstream != upstream || o.at.Before(cutoff) {
			continue
		}
		total++
		if o.failed {
			errors++
		}
	}
	return errors, total
}

func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, at := range t.denials {
		if !at.Before(cutoff) {
			n++
		}
	}
	return n
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = nil
	t.denials = nil
}

// pruneLocked drops entries older than Retention. Entries are appended in time
// order, so only a prefix is ever removed. Caller holds t.mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-Retention)
	i := 0
	for i < len(t.outcomes) && t.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.outcomes = append(t.outcomes[:0], t.outcomes[i:]...)
	}
	j := 0
	for j < len(t.denials) && t.denials[j].Before(cutoff) {
		j++
	}
	if j > 0 {
		t.denials = append(t.denials[:0], t.denials[j:]...)
	}
}
