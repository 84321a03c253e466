package academy

import (
	"sync"
	"time"
)

// DefaultCacheTTL is how long a cached read stays valid.
const DefaultCacheTTL = 5 * time.Minute

type ttlEntry[V any] struct {
	data     V
	storedAt time.Time
}

// ttlCache maps keys to values that expire ttl after they were stored. It
// has its own lock so invalidation never waits on a store operation.
// Every invalidation bumps gen; fill only caches a value read from storage
// when no invalidation happened since the read began.
type ttlCache[K comparable, V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[K]ttlEntry[V]
	gen     uint64
}

func newTTLCache[K comparable, V any](ttl time.Duration, now func() time.Time) *ttlCache[K, V] {
	return &ttlCache[K, V]{ttl: ttl, now: now, entries: make(map[K]ttlEntry[V])}
}

func (c *ttlCache[K, V]) get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.data, true
}

func (c *ttlCache[K, V]) set(key K, v V) {
	c.mu.Lock()
	c.entries[key] = ttlEntry[V]{data: v, storedAt: c.now()}
	c.mu.Unlock()
}

// generation returns a token to pass to fill after reading storage.
func (c *ttlCache[K, V]) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// fill stores v unless the cache was invalidated after gen was taken. It
// reports whether v was stored.
func (c *ttlCache[K, V]) fill(key K, v V, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.entries[key] = ttlEntry[V]{data: v, storedAt: c.now()}
	return true
}

func (c *ttlCache[K, V]) delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gen++
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) clear() {
	c.mu.Lock()
	clear(c.entries)
	c.gen++
	c.mu.Unlock()
}
