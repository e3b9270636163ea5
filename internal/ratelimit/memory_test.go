package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryLimiter_WindowBoundary(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(WithClock(clock.Now), WithSweep(0, 0))
	ctx := context.Background()

	d, err := l.Check(ctx, "k", time.Second, 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	clock.Advance(300 * time.Millisecond)
	d, _ = l.Check(ctx, "k", time.Second, 2)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Count)

	clock.Advance(300 * time.Millisecond)
	d, _ = l.Check(ctx, "k", time.Second, 2)
	assert.False(t, d.Allowed, "third request inside the window is rejected")
	assert.Equal(t, 400*time.Millisecond, d.RetryAfter)

	// Past the full window of the first two requests.
	clock.Advance(time.Second + time.Millisecond)
	d, _ = l.Check(ctx, "k", time.Second, 2)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestMemoryLimiter_RejectionNotRecorded(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(WithClock(clock.Now), WithSweep(0, 0))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Check(ctx, "k", time.Second, 1)
		clock.Advance(100 * time.Millisecond)
	}
	// Only the first request was recorded, so the window reopens one
	// second after it.
	clock.Advance(800 * time.Millisecond)
	d, _ := l.Check(ctx, "k", time.Second, 1)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(WithSweep(0, 0))
	ctx := context.Background()

	d, _ := l.Check(ctx, "a", time.Minute, 1)
	assert.True(t, d.Allowed)
	d, _ = l.Check(ctx, "a", time.Minute, 1)
	assert.False(t, d.Allowed)
	d, _ = l.Check(ctx, "b", time.Minute, 1)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(WithClock(clock.Now), WithSweep(0, time.Hour))
	ctx := context.Background()

	_, _ = l.Check(ctx, "old", time.Minute, 10)
	clock.Advance(2 * time.Hour)
	_, _ = l.Check(ctx, "fresh", time.Minute, 10)
	require.Equal(t, 2, l.Len())

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_ProbabilisticSweep(t *testing.T) {
	clock := newFakeClock()
	l := NewMemoryLimiter(
		WithClock(clock.Now),
		WithSweep(0.5, time.Hour),
		withRandom(func() float64 { return 0.1 }),
	)
	ctx := context.Background()

	_, _ = l.Check(ctx, "old", 24*time.Hour, 10)
	clock.Advance(90 * time.Minute)
	_, _ = l.Check(ctx, "fresh", time.Minute, 10)

	assert.Equal(t, 1, l.Len(), "idle key dropped by the sweep triggered on check")
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l := NewMemoryLimiter(WithSweep(0, 0))
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "shared", time.Minute, 10)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), allowed.Load())
}

func TestCheckMany_StopsAtFirstViolation(t *testing.T) {
	l := NewMemoryLimiter(WithSweep(0, 0))
	ctx := context.Background()
	rules := []Rule{
		{Suffix: "s", Window: time.Second, Max: 1, Message: "per second"},
		{Suffix: "m", Window: time.Minute, Max: 5, Message: "per minute"},
	}

	require.NoError(t, CheckMany(ctx, l, "ip:1.2.3.4", rules))

	err := CheckMany(ctx, l, "ip:1.2.3.4", rules)
	require.Error(t, err)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "per second", le.Message)
	assert.Equal(t, "ip:1.2.3.4:s", le.Key)
	assert.Greater(t, le.RetryAfter, time.Duration(0))
}

func TestCheckMany_DefaultMessage(t *testing.T) {
	l := NewMemoryLimiter(WithSweep(0, 0))
	ctx := context.Background()
	rules := []Rule{{Suffix: "m", Window: time.Minute, Max: 1}}

	require.NoError(t, CheckMany(ctx, l, "k", rules))
	err := CheckMany(ctx, l, "k", rules)
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "too many requests", le.Message)
}

type errLimiter struct{ err error }

func (e errLimiter) Check(context.Context, string, time.Duration, int) (Decision, error) {
	return Decision{}, e.err
}

func TestCheckMany_BackendError(t *testing.T) {
	err := CheckMany(context.Background(), errLimiter{fmt.Errorf("dial tcp: refused")}, "k",
		[]Rule{{Suffix: "s", Window: time.Second, Max: 1}})
	require.Error(t, err)
	var le *LimitError
	assert.False(t, errors.As(err, &le))
	assert.Contains(t, err.Error(), "check k:s")
}
