package engine

import (
	"sort"
	"sync"
	"time"
)

// RateWindow is the sliding window the limiter counts calls over.
const RateWindow = time.Minute

// RateLimiter counts upstream calls over a sliding 60-second window.
// All methods prune expired entries and read or append under one lock.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	clock    func() time.Time
	calls    []time.Time
	rejected int64
}

// NewRateLimiter allows maxCallsPerMinute calls per window. A nil clock uses time.Now.
func NewRateLimiter(maxCallsPerMinute int, clock func() time.Time) *RateLimiter {
	if maxCallsPerMinute < 0 {
		maxCallsPerMinute = 0
	}
	return &RateLimiter{limit: maxCallsPerMinute, clock: clock}
}

// Limit returns the configured calls per minute.
func (r *RateLimiter) Limit() int {
	if r == nil {
		return 0
	}
	return r.limit
}

// CanMakeCall reports whether another call fits in the current window.
// A nil limiter never blocks.
func (r *RateLimiter) CanMakeCall() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.calls) < r.limit
}

// LogCall records a call at the current time.
func (r *RateLimiter) LogCall() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.prune(now)
	r.calls = append(r.calls, now)
}

// TryAcquire checks and records a call atomically. It returns false without
// consuming a slot when the window is full.
func (r *RateLimiter) TryAcquire() bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.prune(now)
	if len(r.calls) >= r.limit {
		r.rejected++
		return false
	}
	r.calls = append(r.calls, now)
	return true
}

// RemainingCalls returns max(0, limit - recent calls).
func (r *RateLimiter) RemainingCalls() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	remaining := r.limit - len(r.calls)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RetryAfter returns how long until the oldest call leaves the window, or zero
// when a call is allowed now.
func (r *RateLimiter) RetryAfter() time.Duration {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.prune(now)
	if len(r.calls) < r.limit || len(r.calls) == 0 {
		return 0
	}
	return r.calls[0].Add(RateWindow).Sub(now)
}

// Rejected returns how many TryAcquire calls were refused.
func (r *RateLimiter) Rejected() int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejected
}

// Snapshot returns a copy of the live call log.
func (r *RateLimiter) Snapshot() []time.Time {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	out := make([]time.Time, len(r.calls))
	copy(out, r.calls)
	return out
}

// Restore replaces the call log, typically with a persisted snapshot.
func (r *RateLimiter) Restore(calls []time.Time) {
	if r == nil {
		return
	}
	sorted := make([]time.Time, len(calls))
	copy(sorted, calls)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = sorted
	r.prune(r.now())
}

// prune drops calls older than the window. Caller holds r.mu.
func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-RateWindow)
	idx := 0
	for idx < len(r.calls) && !r.calls[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.calls = append(r.calls[:0], r.calls[idx:]...)
	}
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.clock != nil {
		return r.clock()
	}
	return time.Now().UTC()
}
