package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for expiry tests.
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

func newTestStore(clock *fakeClock) *Store {
	opts := Options{Logger: zerolog.Nop()}
	if clock != nil {
		opts.Now = clock.Now
	}
	return New(opts)
}

func TestAppendAndContext(t *testing.T) {
	store := newTestStore(nil)

	store.Append("s1", RoleUser, "hello")
	store.Append("s1", RoleAssistant, "hi there")

	msgs := store.Context("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.False(t, msgs[0].Timestamp.IsZero())
}

func TestContextUnknownSession(t *testing.T) {
	store := newTestStore(nil)
	assert.Empty(t, store.Context("never-seen"))
}

func TestContextReturnsCopy(t *testing.T) {
	store := newTestStore(nil)
	store.Append("s1", RoleUser, "original")

	msgs := store.Context("s1")
	msgs[0].Content = "mutated"

	again := store.Context("s1")
	assert.Equal(t, "original", again[0].Content)
}

func TestHistoryBound(t *testing.T) {
	store := newTestStore(nil)

	for i := 0; i < DefaultMaxHistory+5; i++ {
		store.Append("s1", RoleUser, fmt.Sprintf("msg-%d", i))
	}

	msgs := store.Context("s1")
	require.Len(t, msgs, DefaultMaxHistory)
	// Oldest five dropped, relative order preserved.
	assert.Equal(t, "msg-5", msgs[0].Content)
	assert.Equal(t, fmt.Sprintf("msg-%d", DefaultMaxHistory+4), msgs[len(msgs)-1].Content)
}

func TestIdleExpiryLazyEviction(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	store.Append("s1", RoleUser, "hello")
	clock.Advance(DefaultIdleTimeout + time.Second)

	assert.Empty(t, store.Context("s1"))
	// Physically removed, not just hidden.
	assert.Equal(t, 0, store.Stats().TotalSessions)
}

func TestAppendRevivesWithFreshHistoryAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	store.Append("s1", RoleUser, "old")
	clock.Advance(DefaultIdleTimeout + time.Second)
	require.Empty(t, store.Context("s1"))

	store.Append("s1", RoleUser, "new")
	msgs := store.Context("s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "new", msgs[0].Content)
}

func TestSweep(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	store.Append("old", RoleUser, "hello")
	clock.Advance(DefaultIdleTimeout + time.Second)
	store.Append("fresh", RoleUser, "hi")

	removed := store.Sweep()
	assert.Equal(t, 1, removed)

	stats := store.Stats()
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveSessions)
}

func TestClearAndClearAll(t *testing.T) {
	store := newTestStore(nil)
	store.Append("s1", RoleUser, "a")
	store.Append("s2", RoleUser, "b")

	store.Clear("s1")
	assert.Empty(t, store.Context("s1"))
	assert.Len(t, store.Context("s2"), 1)

	store.ClearAll()
	assert.Equal(t, 0, store.Stats().TotalSessions)
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(clock)

	store.Append("idle", RoleUser, "hello")
	clock.Advance(DefaultIdleTimeout + time.Second)
	store.Append("live", RoleUser, "one")
	store.Append("live", RoleAssistant, "two")

	stats := store.Stats()
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 2, stats.TotalMessages)
}

func TestAppendMessageToolMetadata(t *testing.T) {
	store := newTestStore(nil)
	store.AppendMessage("s1", Message{
		Role:       RoleTool,
		Content:    "Sunny, 22C",
		ToolCallID: "call_1",
		ToolName:   "webSearch",
	})

	msgs := store.Context("s1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "call_1", msgs[0].ToolCallID)
	assert.Equal(t, "webSearch", msgs[0].ToolName)
}

func TestInvalidRoleDropped(t *testing.T) {
	store := newTestStore(nil)
	store.AppendMessage("s1", Message{Role: Role("wizard"), Content: "zap"})
	assert.Empty(t, store.Context("s1"))
}

func TestConcurrentAppendsSameSession(t *testing.T) {
	store := New(Options{Logger: zerolog.Nop(), MaxHistory: 1000})

	const goroutines = 10
	const perGoroutine = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				store.Append("shared", RoleUser, fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, goroutines*perGoroutine, store.Len("shared"))
}

func TestConcurrentContextAndAppendOnExpiredSession(t *testing.T) {
	// A nanosecond timeout makes every Context hit the expiry re-check
	// while appends keep reviving the session; the race detector flags
	// any unsynchronized lastActivity access.
	store := New(Options{Logger: zerolog.Nop(), IdleTimeout: time.Nanosecond})

	const goroutines = 4
	const iterations = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				store.Append("contested", RoleUser, "ping")
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				store.Context("contested")
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Stats().TotalSessions, 1)
}
