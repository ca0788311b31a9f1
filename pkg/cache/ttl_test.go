package cache

import (
	"context"
	"errors"
	"sync"
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
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func TestTTLCache_ExpiresAfterTTL(t *testing.T) {
	c := New[string, string]()

	c.Set("k", "v", 50*time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
	st := c.Analytics().Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Zero(t, c.Len(), "expired entry is removed by the miss")
}

func TestTTLCache_SetOverwritesAndResetsExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New[string, int](WithClock(clock.Now))

	c.Set("k", 1, time.Second)
	clock.Advance(900 * time.Millisecond)
	c.Set("k", 2, time.Second)
	clock.Advance(900 * time.Millisecond)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	clock.Advance(100 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "expiry is exclusive")
}

func TestTTLCache_NonPositiveTTLDeletes(t *testing.T) {
	c := New[string, int]()
	c.Set("k", 1, time.Minute)
	c.Set("k", 2, 0)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLCache_DeleteAndClear(t *testing.T) {
	a := NewAnalytics()
	c := New[string, int](WithAnalytics(a))

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Get("a")

	c.Delete("a")
	c.Delete("missing")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Zero(t, c.Len())

	st := a.Stats()
	assert.Equal(t, uint64(1), st.Hits, "Clear keeps analytics")
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), a.Report().Deletes)
}

func TestTTLCache_SharedAnalytics(t *testing.T) {
	a := NewAnalytics()
	awin := New[string, int](WithAnalytics(a), WithNamespace("awin"))
	godaddy := New[string, int](WithAnalytics(a), WithNamespace("godaddy"))

	awin.Set("x", 1, time.Minute)
	awin.Get("x")
	godaddy.Get("y")

	st := a.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Same(t, awin.Analytics(), godaddy.Analytics())
}

func TestTTLCache_GetOrLoad(t *testing.T) {
	clock := newFakeClock()
	c := New[string, string](WithClock(clock.Now))
	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		clock.Advance(20 * time.Millisecond)
		return "fresh", nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	v, err = c.GetOrLoad(context.Background(), "k", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, 1, calls)

	assert.Equal(t, 20*time.Millisecond, c.Analytics().Report().AvgLoadLatency)
}

func TestTTLCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := New[string, string]()
	boom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "k", time.Minute, func(context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Len())
}

func TestTTLCache_Sweep(t *testing.T) {
	clock := newFakeClock()
	c := New[int, int](WithClock(clock.Now))
	for i := range 10 {
		c.Set(i, i, time.Duration(i+1)*time.Second)
	}

	clock.Advance(5 * time.Second)
	assert.Equal(t, 5, c.Sweep())
	assert.Equal(t, 5, c.Len())
	assert.Zero(t, c.Sweep())
}

func TestTTLCache_Sweeper(t *testing.T) {
	c := New[string, int]()
	c.Set("k", 1, 5*time.Millisecond)

	c.StartSweeper(2 * time.Millisecond)
	c.StartSweeper(2 * time.Millisecond)
	defer c.Close()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)

	c.Close()
	c.Close()
}

func TestTTLCache_Concurrent(t *testing.T) {
	c := New[int, int]()
	var wg sync.WaitGroup
	for g := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				k := (g*7 + i) % 32
				c.Set(k, i, time.Millisecond*time.Duration(1+i%3))
				c.Get(k)
				if i%50 == 0 {
					c.Sweep()
				}
			}
		}()
	}
	wg.Wait()

	st := c.Analytics().Stats()
	assert.Equal(t, uint64(16*200), st.Hits+st.Misses)
}
