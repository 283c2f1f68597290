// Package narrative holds provider-independent pieces of the narrative
// client: the response cache and upstream error classification.
package narrative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/couchcryptid/heat-risk-explainer/internal/domain"
	"github.com/couchcryptid/heat-risk-explainer/internal/observability"
)

// CachedNarrator wraps a Narrator with an in-memory LRU cache keyed by model
// and prompt. Errors and short-circuited requests are never cached.
type CachedNarrator struct {
	inner   domain.Narrator
	model   string
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedNarrator creates a cache decorator around a narrator.
func NewCachedNarrator(inner domain.Narrator, model string, maxEntries int, metrics *observability.Metrics) *CachedNarrator {
	return &CachedNarrator{
		inner:   inner,
		model:   model,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedNarrator) Generate(ctx context.Context, req domain.NarrativeRequest) (string, error) {
	if req.ShortCircuit {
		return req.Text, nil
	}

	key := cacheKey(c.model, req.Text)
	if text, ok := c.cache.get(key); ok {
		c.metrics.NarrativeCache.WithLabelValues("hit").Inc()
		return text, nil
	}
	c.metrics.NarrativeCache.WithLabelValues("miss").Inc()

	text, err := c.inner.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	c.cache.put(key, text)
	return text, nil
}

// Len returns the number of cached narratives.
func (c *CachedNarrator) Len() int {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	return len(c.cache.entries)
}

func cacheKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

// lruCache is a thread-safe LRU cache of narrative text.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value string
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(maxEntries, 1),
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.touch(e)
	return e.value, true
}

func (c *lruCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.touch(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	for len(c.entries) > c.maxEntries {
		oldest := c.tail
		c.unlink(oldest)
		delete(c.entries, oldest.key)
	}
}

func (c *lruCache) touch(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
