package respcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihulabs/mihu/pkg/conversation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(clock *fakeClock, maxEntries int) *Cache {
	opts := Options{Logger: zerolog.Nop(), MaxEntries: maxEntries}
	if clock != nil {
		opts.Now = clock.Now
	}
	return New(opts)
}

func fp(sessionID, message string) Fingerprint {
	return NewFingerprint(sessionID, nil, message)
}

func TestSetAndGet(t *testing.T) {
	cache := newTestCache(nil, 0)

	key := fp("s1", "what is go")
	require.True(t, cache.Set(key, "A programming language.", CategoryGeneral))

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, "A programming language.", got)
}

func TestGetMiss(t *testing.T) {
	cache := newTestCache(nil, 0)

	_, ok := cache.Get(fp("s1", "never cached"))
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(clock, 0)

	key := fp("s1", "what's the weather in oslo")
	cache.Set(key, "Sunny, 22C.", CategoryWeather)

	clock.Advance(29 * time.Minute)
	_, ok := cache.Get(key)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = cache.Get(key)
	assert.False(t, ok)

	// Expired entry was evicted on read, not just hidden.
	assert.Equal(t, 0, cache.Stats().TotalLiveKeys)
}

func TestCategoryTTLs(t *testing.T) {
	tests := []struct {
		category Category
		want     time.Duration
	}{
		{CategoryWeather, 30 * time.Minute},
		{CategoryNews, time.Hour},
		{CategoryGeneral, time.Hour},
		{CategoryCode, 2 * time.Hour},
		{Category("mystery"), time.Hour},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.category.TTL(), "category %q", tc.category)
	}
}

func TestCategorizeMessage(t *testing.T) {
	tests := []struct {
		message string
		want    Category
	}{
		{"what's the weather in Berlin?", CategoryWeather},
		{"any news about the election?", CategoryNews},
		{"why does my code not compile?", CategoryCode},
		{"tell me a joke", CategoryGeneral},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CategorizeMessage(tc.message), "message %q", tc.message)
	}
}

func TestCapacityEvictsOldestFirst(t *testing.T) {
	cache := newTestCache(nil, 3)

	first := fp("s1", "q-0")
	cache.Set(first, "a-0", CategoryGeneral)
	for i := 1; i < 3; i++ {
		cache.Set(fp("s1", fmt.Sprintf("q-%d", i)), fmt.Sprintf("a-%d", i), CategoryGeneral)
	}

	cache.Set(fp("s1", "q-3"), "a-3", CategoryGeneral)

	_, ok := cache.Get(first)
	assert.False(t, ok, "oldest entry should have been evicted")
	assert.Equal(t, 3, cache.Stats().TotalLiveKeys)
}

func TestOverwriteMovesToBackOfEvictionOrder(t *testing.T) {
	cache := newTestCache(nil, 2)

	a := fp("s1", "q-a")
	b := fp("s1", "q-b")
	cache.Set(a, "1", CategoryGeneral)
	cache.Set(b, "2", CategoryGeneral)
	cache.Set(a, "1-again", CategoryGeneral)

	cache.Set(fp("s1", "q-c"), "3", CategoryGeneral)

	_, ok := cache.Get(b)
	assert.False(t, ok, "b became the oldest after a was rewritten")
	got, ok := cache.Get(a)
	require.True(t, ok)
	assert.Equal(t, "1-again", got)
}

func TestDelete(t *testing.T) {
	cache := newTestCache(nil, 0)

	key := fp("s1", "delete me")
	cache.Set(key, "gone soon", CategoryGeneral)

	assert.True(t, cache.Delete(key.Key))
	assert.False(t, cache.Delete(key.Key))

	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestDeleteByMessageClearsAllVariants(t *testing.T) {
	cache := newTestCache(nil, 0)

	history := []conversation.Message{
		{Role: conversation.RoleUser, Content: "earlier turn"},
	}
	// Same question asked in two sessions with different context.
	one := NewFingerprint("s1", nil, "What is the capital of France?")
	two := NewFingerprint("s2", history, "what is the capital of france?  ")
	require.NotEqual(t, one.Key, two.Key)
	require.Equal(t, one.MessageKey, two.MessageKey)

	cache.Set(one, "Paris.", CategoryGeneral)
	cache.Set(two, "Paris.", CategoryGeneral)

	assert.True(t, cache.DeleteByMessage("WHAT IS THE CAPITAL OF FRANCE?"))

	_, ok := cache.Get(one)
	assert.False(t, ok)
	_, ok = cache.Get(two)
	assert.False(t, ok)
	assert.False(t, cache.DeleteByMessage("what is the capital of france?"))
}

func TestClearKeepsCounters(t *testing.T) {
	cache := newTestCache(nil, 0)

	key := fp("s1", "hello")
	cache.Set(key, "hi", CategoryGeneral)
	cache.Get(key)
	cache.Clear()

	stats := cache.Stats()
	assert.Equal(t, 0, stats.TotalLiveKeys)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestStatsHitRate(t *testing.T) {
	cache := newTestCache(nil, 0)

	assert.Equal(t, 0.0, cache.Stats().HitRate)

	key := fp("s1", "hello")
	cache.Set(key, "hi", CategoryGeneral)
	cache.Get(key)
	cache.Get(fp("s1", "miss"))

	assert.InDelta(t, 0.5, cache.Stats().HitRate, 1e-9)
}

func TestInfo(t *testing.T) {
	cache := newTestCache(nil, 42)
	cache.Set(fp("s1", "hello"), "hi", CategoryGeneral)

	info := cache.Info()
	assert.Equal(t, 1, info.Keys)
	assert.Equal(t, 42, info.MaxEntries)
	assert.Equal(t, time.Hour, info.DefaultTTL)
	assert.Equal(t, int64(1), info.Stats.Sets)
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(clock, 0)

	cache.Set(fp("s1", "what's the weather"), "Sunny.", CategoryWeather)
	cache.Set(fp("s1", "explain this code"), "It loops.", CategoryCode)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, cache.Sweep())
	assert.Equal(t, 1, cache.Stats().TotalLiveKeys)
}

func TestConcurrentAccess(t *testing.T) {
	cache := newTestCache(nil, 100)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fp("shared", fmt.Sprintf("q-%d-%d", g, i))
				cache.Set(key, "v", CategoryGeneral)
				cache.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 100, cache.Stats().TotalLiveKeys)
}
