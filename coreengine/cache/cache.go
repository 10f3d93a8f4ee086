// Package cache provides the process-wide response cache for model calls.
//
// Entries are keyed by a SHA-256 digest of the canonical JSON encoding of the
// call inputs, expire after a TTL on read, and are evicted oldest-first in a
// single batch when the cache grows past its capacity.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/outreach/coreengine/envelope"
	"github.com/jeeves-cluster-organization/outreach/coreengine/llm"
	"github.com/jeeves-cluster-organization/outreach/coreengine/observability"
)

// Defaults match config.DefaultOutreachConfig.
const (
	DefaultTTL        = 300 * time.Second
	DefaultMaxEntries = 1000
	DefaultEvictBatch = 200
)

// Entry is one cached response.
type Entry struct {
	Key       string
	Value     string
	CreatedAt time.Time
}

// Options configures a ResponseCache. Zero values take the defaults.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	EvictBatch int
	Now        func() time.Time
}

// ResponseCache is safe for concurrent use.
type ResponseCache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	evictBatch int
	now        func() time.Time
}

// NewResponseCache creates an empty cache.
func NewResponseCache(opts Options) *ResponseCache {
	c := &ResponseCache{
		entries:    make(map[string]*Entry),
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		evictBatch: opts.EvictBatch,
		now:        opts.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultMaxEntries
	}
	if c.evictBatch <= 0 {
		c.evictBatch = DefaultEvictBatch
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type keyMaterial struct {
	Model        string             `json:"model"`
	Shape        llm.Shape          `json:"shape"`
	Conversation []envelope.Message `json:"conversation"`
	Extra        map[string]any     `json:"extra"`
}

// Key derives the cache key. encoding/json sorts map keys, so equal inputs
// always produce the same digest.
func Key(model string, shape llm.Shape, conversation []envelope.Message, extra map[string]any) (string, error) {
	data, err := json.Marshal(keyMaterial{
		Model:        model,
		Shape:        shape,
		Conversation: conversation,
		Extra:        extra,
	})
	if err != nil {
		return "", fmt.Errorf("cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Get returns the cached value. Expired entries are removed on read.
func (c *ResponseCache) Get(model string, shape llm.Shape, conversation []envelope.Message, extra map[string]any) (string, bool) {
	key, err := Key(model, shape, conversation, extra)
	if err != nil {
		return "", false
	}
	return c.get(key)
}

func (c *ResponseCache) get(key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		observability.RecordCacheLookup("miss")
		return "", false
	}

	if c.now().Sub(entry.CreatedAt) > c.ttl {
		c.mu.Lock()
		if current, still := c.entries[key]; still && current == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		observability.RecordCacheLookup("expired")
		return "", false
	}

	observability.RecordCacheLookup("hit")
	return entry.Value, true
}

// Set stores a value.
func (c *ResponseCache) Set(model string, shape llm.Shape, conversation []envelope.Message, extra map[string]any, value string) {
	key, err := Key(model, shape, conversation, extra)
	if err != nil {
		return
	}
	c.set(key, value)
}

func (c *ResponseCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry{Key: key, Value: value, CreatedAt: c.now()}
	if len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

// evictOldestLocked drops the evictBatch oldest entries by insertion time.
func (c *ResponseCache) evictOldestLocked() {
	all := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	n := c.evictBatch
	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(c.entries, e.Key)
	}
	observability.RecordCacheEvictions(n)
}

// Len returns the number of stored entries, including expired ones not yet read.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PurgeExpired removes entries older than the TTL and returns how many.
func (c *ResponseCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	for key, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, key)
			purged++
		}
	}
	return purged
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}
