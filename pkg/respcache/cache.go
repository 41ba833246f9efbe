// Package respcache short-circuits repeated identical conversational
// turns so the agent can answer without a model call. Entries expire by
// category TTL and the cache is capacity-bounded with FIFO eviction:
// when a set would exceed capacity, the oldest-inserted entry is removed
// first. That policy is predictable and matches the insertion-ordered
// bookkeeping below.
package respcache

import (
	"strings"
	"sync"
	"time"

	"github.com/mihulabs/mihu/internal/observability"
	"github.com/rs/zerolog"
)

// Category classifies a reply for TTL selection.
type Category string

const (
	CategoryGeneral Category = "general"
	CategoryCode    Category = "code"
	CategoryNews    Category = "news"
	CategoryWeather Category = "weather"
)

// TTL returns the category's time-to-live. Unrecognized categories get
// the general TTL.
func (c Category) TTL() time.Duration {
	switch c {
	case CategoryWeather:
		return 30 * time.Minute
	case CategoryNews:
		return time.Hour
	case CategoryCode:
		return 2 * time.Hour
	default:
		return time.Hour
	}
}

// CategorizeMessage picks a TTL category from the user's message text.
func CategorizeMessage(text string) Category {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "weather", "temperature", "forecast", "rain", "sunny"):
		return CategoryWeather
	case containsAny(lower, "news", "headline", "latest", "today", "current events"):
		return CategoryNews
	case containsAny(lower, "code", "function", "program", "bug", "error", "compile"):
		return CategoryCode
	default:
		return CategoryGeneral
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Stats reports cache counters since construction.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Deletes       int64   `json:"deletes"`
	TotalLiveKeys int     `json:"total_live_keys"`
	HitRate       float64 `json:"hit_rate"`
}

// Info describes the cache's configuration alongside its stats.
type Info struct {
	Keys       int           `json:"keys"`
	MaxEntries int           `json:"max_entries"`
	DefaultTTL time.Duration `json:"default_ttl"`
	Stats      Stats         `json:"stats"`
}

type entry struct {
	key        string
	messageKey string
	value      string
	category   Category
	createdAt  time.Time
	ttl        time.Duration
}

// Options configures a Cache.
type Options struct {
	MaxEntries int
	Logger     zerolog.Logger
	Now        func() time.Time
}

const DefaultMaxEntries = 1000

// Cache is the process-wide response cache.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	// order holds keys in insertion order for FIFO capacity eviction.
	order []string
	// byMessage indexes full keys by their coarse message key so the
	// admin delete can clear every trajectory variant of one message.
	byMessage map[string]map[string]struct{}

	hits    int64
	misses  int64
	sets    int64
	deletes int64

	maxEntries int
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a response cache.
func New(opts Options) *Cache {
	observability.EnsureRegistered()

	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Cache{
		entries:    make(map[string]*entry),
		byMessage:  make(map[string]map[string]struct{}),
		maxEntries: opts.MaxEntries,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

func (c *Cache) live(e *entry, now time.Time) bool {
	return now.Before(e.createdAt.Add(e.ttl))
}

// Get returns the cached reply for a fingerprint. An expired entry
// behaves as absent and is evicted on read.
func (c *Cache) Get(fp Fingerprint) (string, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp.Key]
	if ok && !c.live(e, now) {
		c.removeLocked(e.key)
		ok = false
	}
	if !ok {
		c.misses++
		observability.RecordCacheLookup(false)
		c.logger.Debug().Str("key", fp.Key).Msg("Cache miss")
		return "", false
	}

	c.hits++
	observability.RecordCacheLookup(true)
	c.logger.Debug().Str("key", fp.Key).Msg("Cache hit")
	return e.value, true
}

// Set stores a reply under the fingerprint with the category's TTL.
// Returns false only when the value could not be stored.
func (c *Cache) Set(fp Fingerprint, value string, category Category) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Overwrites re-enter at the back of the FIFO order.
	if _, exists := c.entries[fp.Key]; exists {
		c.removeLocked(fp.Key)
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.oldestLocked()
		if oldest == "" {
			return false
		}
		c.removeLocked(oldest)
		observability.RecordCacheEviction()
		c.logger.Debug().Str("key", oldest).Msg("Evicted oldest cache entry")
	}

	c.entries[fp.Key] = &entry{
		key:        fp.Key,
		messageKey: fp.MessageKey,
		value:      value,
		category:   category,
		createdAt:  now,
		ttl:        category.TTL(),
	}
	c.order = append(c.order, fp.Key)
	if fp.MessageKey != "" {
		keys, ok := c.byMessage[fp.MessageKey]
		if !ok {
			keys = make(map[string]struct{})
			c.byMessage[fp.MessageKey] = keys
		}
		keys[fp.Key] = struct{}{}
	}

	c.sets++
	observability.RecordCacheSet(len(c.entries))
	c.logger.Debug().
		Str("key", fp.Key).
		Str("category", string(category)).
		Dur("ttl", category.TTL()).
		Msg("Cache set")
	return true
}

// Delete removes the entry for a full fingerprint key.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.removeLocked(key)
	c.deletes++
	c.logger.Debug().Str("key", key).Msg("Cache delete")
	return true
}

// DeleteByMessage removes every entry whose coarse message key matches
// the raw message text. This is the manual-administration path: it
// clears all trajectory variants of one question at once.
func (c *Cache) DeleteByMessage(rawMessage string) bool {
	msgKey := MessageFingerprint(rawMessage)

	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byMessage[msgKey]
	if !ok || len(keys) == 0 {
		return false
	}
	for key := range keys {
		c.removeLocked(key)
		c.deletes++
	}
	c.logger.Info().Str("message_key", msgKey).Msg("Cache entries deleted by message")
	return true
}

// Clear removes all entries. Counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.order = nil
	c.byMessage = make(map[string]map[string]struct{})
	c.mu.Unlock()

	observability.SetCacheEntries(0)
	c.logger.Info().Msg("Cache cleared")
}

// Stats returns counters and the live-entry count. Hit rate is 0 when
// no lookups have happened.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	liveKeys := 0
	for _, e := range c.entries {
		if c.live(e, now) {
			liveKeys++
		}
	}

	stats := Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Sets:          c.sets,
		Deletes:       c.deletes,
		TotalLiveKeys: liveKeys,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Info returns configuration plus stats.
func (c *Cache) Info() Info {
	stats := c.Stats()
	return Info{
		Keys:       stats.TotalLiveKeys,
		MaxEntries: c.maxEntries,
		DefaultTTL: CategoryGeneral.TTL(),
		Stats:      stats,
	}
}

// Sweep removes TTL-expired entries and returns how many were deleted.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var expired []string
	for key, e := range c.entries {
		if !c.live(e, now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeLocked(key)
	}
	liveEntries := len(c.entries)
	c.mu.Unlock()

	if len(expired) > 0 {
		c.logger.Info().Int("removed", len(expired)).Msg("Swept expired cache entries")
	}
	observability.SetCacheEntries(liveEntries)
	observability.RecordSweep("cache", len(expired))
	return len(expired)
}

// removeLocked deletes an entry and its bookkeeping. Caller holds c.mu.
func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)

	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	if keys, ok := c.byMessage[e.messageKey]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byMessage, e.messageKey)
		}
	}
}

// oldestLocked returns the earliest-inserted key. Caller holds c.mu.
func (c *Cache) oldestLocked() string {
	if len(c.order) == 0 {
		return ""
	}
	return c.order[0]
}
