package cache

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// DefaultSize bounds the query cache when no size is configured.
const DefaultSize = 512

type item struct {
	value    interface{}
	storedAt time.Time
}

// Cache holds backend query results keyed by a query key such as
// "transaction/list/<workspace>". Invalidation matches key fragments.
type Cache struct {
	lru *lru.Cache
	now func() time.Time
}

func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating query cache of size %d", size)
	}
	return &Cache{lru: l, now: time.Now}, nil
}

// Key joins query key parts.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

func (c *Cache) Set(key string, value interface{}) {
	c.lru.Add(key, item{value: value, storedAt: c.now()})
}

func (c *Cache) Get(key string) (interface{}, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.(item).value, true
}

// Fresh returns the value only if it was stored within maxAge.
func (c *Cache) Fresh(key string, maxAge time.Duration) (interface{}, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	it := v.(item)
	if c.now().Sub(it.storedAt) > maxAge {
		return nil, false
	}
	return it.value, true
}

// InvalidatePrefix removes every entry whose key contains one of fragments
// and returns how many were removed.
func (c *Cache) InvalidatePrefix(fragments ...string) int {
	n := 0
	for _, k := range c.lru.Keys() {
		key, ok := k.(string)
		if !ok {
			continue
		}
		for _, f := range fragments {
			if f != "" && strings.Contains(key, f) {
				if c.lru.Remove(key) {
					n++
				}
				break
			}
		}
	}
	return n
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops everything, used on logout.
func (c *Cache) Purge() {
	c.lru.Purge()
}
