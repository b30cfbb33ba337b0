// Package ratelimit provides the in-memory submission limiter for form
// handlers. The window counts successful sends only, so a rejected or
// honeypotted request never consumes quota.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for form submissions.
const (
	// DefaultLimit is the maximum successful submissions per source IP
	// within the window.
	DefaultLimit = 10
	// DefaultWindow is the rolling measurement window.
	DefaultWindow = time.Hour
	// DefaultSweepInterval is how often idle IPs are evicted.
	DefaultSweepInterval = 10 * time.Minute
)

// SubmissionLimiter tracks successful submissions per key (source IP) over
// a rolling window. Thread-safe. Includes background sweeping to prevent
// unbounded growth from one-shot visitors.
type SubmissionLimiter struct {
	mu      sync.Mutex
	sent    map[string][]time.Time
	limit   int
	window  time.Duration
	sweepIv time.Duration
	clock   clockwork.Clock

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewSubmissionLimiter creates a limiter with the given per-window limit.
// Zero values fall back to the defaults.
func NewSubmissionLimiter(limit int, window time.Duration, clock clockwork.Clock) *SubmissionLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SubmissionLimiter{
		sent:     make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		sweepIv:  DefaultSweepInterval,
		clock:    clock,
		stopChan: make(chan struct{}),
	}
}

// Allow reports whether the key has quota left. It prunes expired entries
// but does not consume quota; call Record after the send succeeds.
func (l *SubmissionLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(key)) < l.limit
}

// Record consumes one unit of quota for the key.
func (l *SubmissionLimiter) Record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent[key] = append(l.prune(key), l.clock.Now())
}

// prune drops timestamps outside the window. Caller holds the lock.
func (l *SubmissionLimiter) prune(key string) []time.Time {
	cutoff := l.clock.Now().Add(-l.window)
	stamps := l.sent[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.sent, key)
		return nil
	}
	l.sent[key] = kept
	return kept
}

// StartSweep starts the background eviction goroutine. It stops when ctx
// is cancelled or Stop is called.
func (l *SubmissionLimiter) StartSweep(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := l.clock.NewTicker(l.sweepIv)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.Chan():
				l.sweep()
			}
		}
	}()
}

// sweep evicts keys whose entries have all expired.
func (l *SubmissionLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.window)
	swept := 0
	for key, stamps := range l.sent {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.sent, key)
			swept++
		}
	}
	if swept > 0 {
		slog.Debug("submission limiter sweep completed",
			"swept_keys", swept,
			"remaining_keys", len(l.sent))
	}
}

// Stop gracefully stops the sweep goroutine and waits for it to exit.
// Safe to call multiple times.
func (l *SubmissionLimiter) Stop() {
	l.once.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}

// Size returns the number of tracked keys, for tests and monitoring.
func (l *SubmissionLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}
