package health

import (
	"sync"
	"time"
)

// retention bounds how long outcome timestamps are kept. It must exceed every
// window the monitor evaluates.
const retention = 30 * time.Minute

// Tracker maintains sliding windows of request outcome timestamps. It feeds the
// overloaded (requests, denials), degraded (error rate) and idle (activity) checks.
type Tracker struct {
	mu           sync.Mutex
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
	activeTimes  []time.Time
	now          func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// RecordSuccess records a request that completed without a server-side failure.
func (t *Tracker) RecordSuccess() { t.recordN(&t.successTimes, 1) }

// RecordError records a request that failed (upstream error, timeout, 5xx).
func (t *Tracker) RecordError() { t.recordN(&t.errorTimes, 1) }

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() { t.recordN(&t.deniedTimes, 1) }

// RecordActivity records analyst traffic that counts toward idle detection
// (uploads, analysis views). Health probes and metrics scrapes are not activity.
func (t *Tracker) RecordActivity() { t.recordN(&t.activeTimes, 1) }

// RecordSuccessN records n successes at once. For synthetic load injection.
func (t *Tracker) RecordSuccessN(n int) { t.recordN(&t.successTimes, n) }

// RecordErrorN records n errors at once. For synthetic error injection.
func (t *Tracker) RecordErrorN(n int) { t.recordN(&t.errorTimes, n) }

// RecordActivityN records n activity events at once.
func (t *Tracker) RecordActivityN(n int) { t.recordN(&t.activeTimes, n) }

func (t *Tracker) recordN(slice *[]time.Time, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		*slice = append(*slice, now)
	}
	t.pruneLocked(now)
}

// RequestCount returns successes, errors and denials within window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countSince(t.successTimes, cutoff) +
		countSince(t.errorTimes, cutoff) +
		countSince(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.now().Add(-window))
}

// ErrorRate returns (errors, total) within window. Denials are excluded from total.
func (t *Tracker) ErrorRate(window time.Duration) (errs, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errs = countSince(t.errorTimes, cutoff)
	return errs, errs + countSince(t.successTimes, cutoff)
}

// ActivityCount returns analyst activity within window.
func (t *Tracker) ActivityCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.activeTimes, t.now().Add(-window))
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
	t.activeTimes = nil
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must hold mu.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
	prune(&t.activeTimes)
}
