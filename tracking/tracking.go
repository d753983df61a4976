// Package tracking implements the client-side caching layer described in
// spec.md §4.7: an LRU cache bound to one connection's server-assisted
// invalidation stream.
package tracking

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/synnergy/redisx/conn"
	"github.com/synnergy/redisx/event"
	"github.com/synnergy/redisx/resp"
)

// invalidationToken is the push frame's first element for a tracking
// invalidation message, per the RESP3 CLIENT TRACKING protocol.
const invalidationToken = "invalidate"

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no TTL
}

// Config configures a Cache.
type Config struct {
	MaxEntries int
	TTL        time.Duration // 0 disables the TTL safety net
	Mode       conn.TrackingMode
	Prefixes   []string // Broadcast mode only
	Dispatcher *event.Dispatcher
}

// Cache is an LRU client-side cache tracking a single connection's reads.
// A lost connection drops the whole cache: the server's tracking table
// for that client is gone, so every cached entry is potentially stale.
type Cache struct {
	cfg Config
	mu  sync.Mutex
	lru *lru.Cache[string, cacheEntry]
}

// New builds a Cache and subscribes it to cfg.Dispatcher's Disconnected
// events (if a dispatcher is given) so the cache clears itself the
// moment the owning connection drops.
func New(cfg Config) (*Cache, error) {
	l, err := lru.New[string, cacheEntry](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{cfg: cfg, lru: l}
	if cfg.Dispatcher != nil {
		cfg.Dispatcher.Subscribe(event.Disconnected, func(event.Event) {
			c.Clear()
		})
	}
	return c, nil
}

// Get returns the cached value for key, or (nil, false) on a miss or an
// expired entry.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Insert records value as the cached result for key.
func (c *Cache) Insert(key string, value []byte) {
	e := cacheEntry{value: value}
	if c.cfg.TTL > 0 {
		e.expiresAt = time.Now().Add(c.cfg.TTL)
	}
	c.mu.Lock()
	c.lru.Add(key, e)
	c.mu.Unlock()
}

// Invalidate drops key from the cache.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Clear empties the cache, e.g. on connection loss.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Len reports the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// HandlePush applies a single push frame to the cache if it is a
// tracking invalidation message, and reports whether it was one. A null
// key list (full flush, sent when the server's tracking table overflows)
// clears the whole cache; otherwise each listed key is evicted.
func (c *Cache) HandlePush(v resp.Value) bool {
	if v.Kind != resp.KindPush || len(v.Arr) < 1 {
		return false
	}
	if string(v.Arr[0].Bytes) != invalidationToken {
		return false
	}
	if len(v.Arr) < 2 || v.Arr[1].Null {
		c.Clear()
		return true
	}
	for _, k := range v.Arr[1].Arr {
		c.Invalidate(string(k.Bytes))
	}
	return true
}

// Drain pulls every push frame queued on conn since the last round-trip
// and applies the tracking invalidations among them. Call this after
// each command executed on the tracked connection.
func (c *Cache) Drain(conn *conn.Connection) {
	for _, v := range conn.DrainPushes() {
		c.HandlePush(v)
	}
}
