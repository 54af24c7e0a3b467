package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 4096

type item[V any] struct {
	value     V
	expiresAt time.Time
	timer     *clock.Timer
}

// SimpleCache is a size bounded TTL cache. Every entry owns a timer that removes it once the TTL
// passes, and Get never returns an entry past its deadline even if the timer has not fired yet.
type SimpleCache[K comparable, V any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clock.Clock
	items *lru.Cache[K, *item[V]]
}

func (c *SimpleCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, found := c.items.Get(key)
	if !found || !c.clock.Now().Before(it.expiresAt) {
		return value, false
	}

	return it.value, true
}

// Set stores value and restarts its TTL.
func (c *SimpleCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, found := c.items.Peek(key); found {
		old.timer.Stop()
	}

	c.items.Add(key, c.newItem(key, value))
}

// Add stores value only when key has no live entry. A live entry keeps its original deadline.
func (c *SimpleCache[K, V]) Add(key K, value V) (added bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, found := c.items.Peek(key); found {
		if c.clock.Now().Before(old.expiresAt) {
			return false
		}
		old.timer.Stop()
	}

	c.items.Add(key, c.newItem(key, value))

	return true
}

func (c *SimpleCache[K, V]) Release(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, found := c.items.Peek(key); found {
		old.timer.Stop()
		c.items.Remove(key)
	}
}

func (c *SimpleCache[K, V]) Len() int {
	return c.items.Len()
}

func (c *SimpleCache[K, V]) newItem(key K, value V) *item[V] {
	it := &item[V]{
		value:     value,
		expiresAt: c.clock.Now().Add(c.ttl),
	}

	it.timer = c.clock.AfterFunc(c.ttl, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if cur, found := c.items.Peek(key); found && cur == it {
			c.items.Remove(key)
		}
	})

	return it
}

func NewSimpleCache[K comparable, V any](ttl time.Duration) *SimpleCache[K, V] {
	return NewSimpleCacheWithClock[K, V](ttl, DefaultCacheSize, clock.New())
}

func NewSimpleCacheWithClock[K comparable, V any](ttl time.Duration, size int, clk clock.Clock) *SimpleCache[K, V] {
	if size <= 0 {
		size = DefaultCacheSize
	}

	items, err := lru.NewWithEvict[K, *item[V]](size, func(_ K, it *item[V]) {
		it.timer.Stop()
	})
	if err != nil {
		// only possible for a non-positive size
		panic(err)
	}

	return &SimpleCache[K, V]{
		ttl:   ttl,
		clock: clk,
		items: items,
	}
}
