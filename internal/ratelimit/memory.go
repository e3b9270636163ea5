package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	// DefaultSweepProbability is the chance that a Check also sweeps idle keys.
	DefaultSweepProbability = 0.01
	// DefaultIdleTTL is how long a key may go unused before a sweep drops it.
	DefaultIdleTTL = time.Hour
)

// MemoryLimiter keeps per-key timestamp lists in process memory. It is safe
// for concurrent use and only correct for a single replica.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	sweepProbability float64
	idleTTL          time.Duration

	now    func() time.Time
	random func() float64
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithSweep sets the sweep probability and idle TTL.
func WithSweep(probability float64, idleTTL time.Duration) MemoryOption {
	return func(m *MemoryLimiter) {
		if probability >= 0 {
			m.sweepProbability = probability
		}
		if idleTTL > 0 {
			m.idleTTL = idleTTL
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) { m.now = now }
}

func withRandom(random func() float64) MemoryOption {
	return func(m *MemoryLimiter) { m.random = random }
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		windows:          make(map[string][]time.Time),
		sweepProbability: DefaultSweepProbability,
		idleTTL:          DefaultIdleTTL,
		now:              time.Now,
		random:           rand.Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check prunes timestamps outside the window, rejects once limit are live and
// otherwise records now.
func (m *MemoryLimiter) Check(_ context.Context, key string, window time.Duration, limit int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stamps := m.windows[key]

	// Timestamps are appended in order, so the live ones are a suffix.
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= window {
		i++
	}
	live := stamps[i:]

	var d Decision
	if len(live) >= limit {
		d = Decision{Allowed: false, Count: len(live), RetryAfter: live[0].Add(window).Sub(now)}
	} else {
		live = append(live, now)
		d = Decision{Allowed: true, Count: len(live)}
	}
	if len(live) == 0 {
		delete(m.windows, key)
	} else {
		m.windows[key] = live
	}

	if m.sweepProbability > 0 && m.random() < m.sweepProbability {
		m.sweepLocked(now)
	}
	return d, nil
}

// Sweep drops keys whose newest timestamp is older than the idle TTL and
// returns how many were removed.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

func (m *MemoryLimiter) sweepLocked(now time.Time) int {
	removed := 0
	for key, stamps := range m.windows {
		if len(stamps) == 0 || now.Sub(stamps[len(stamps)-1]) > m.idleTTL {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
