package service

import (
	"time"

	"ruleengine/metrics"
	"ruleengine/rules"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultTreeCacheSize = 1024
	defaultTreeCacheTTL  = 10 * time.Minute
)

// TreeCache is the in-process cache of parsed trees.
// Keys are rule fingerprints for ad hoc text and rule cache keys for stored rules.
// Trees are never mutated after parsing, so cached values are shared freely.
type TreeCache struct {
	lru *expirable.LRU[string, rules.Node]
}

// NewTreeCache creates a cache holding at most size trees for ttl each.
// Non-positive arguments fall back to the defaults.
func NewTreeCache(size int, ttl time.Duration) *TreeCache {
	if size <= 0 {
		size = defaultTreeCacheSize
	}
	if ttl <= 0 {
		ttl = defaultTreeCacheTTL
	}
	return &TreeCache{lru: expirable.NewLRU[string, rules.Node](size, nil, ttl)}
}

// Get returns the tree stored under key
func (c *TreeCache) Get(key string) (rules.Node, bool) {
	node, ok := c.lru.Get(key)
	if ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
	} else {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
	}
	return node, ok
}

// Add stores a tree under key
func (c *TreeCache) Add(key string, node rules.Node) {
	if node == nil {
		return
	}
	c.lru.Add(key, node)
}

// Remove evicts key
func (c *TreeCache) Remove(key string) {
	c.lru.Remove(key)
}

// Len returns the number of cached trees
func (c *TreeCache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache
func (c *TreeCache) Purge() {
	c.lru.Purge()
}
