package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// LastCloseCache is a sharded cache of the newest close per ticker. The price
// simulator writes through on every generated bar; the portfolio calculator
// reads it to avoid hitting the bar store on the hot valuation path.
type LastCloseCache struct {
	shards [numShards]*closeShard
}

type closeShard struct {
	mu    sync.RWMutex
	items map[string]closeEntry
}

type closeEntry struct {
	close     float64
	updatedAt time.Time
}

// NewLastCloseCache creates an empty cache.
func NewLastCloseCache() *LastCloseCache {
	c := &LastCloseCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &closeShard{
			items: make(map[string]closeEntry),
		}
	}
	return c
}

func (c *LastCloseCache) getShard(key string) *closeShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the latest close for a ticker.
func (c *LastCloseCache) Set(ticker string, close float64) {
	shard := c.getShard(ticker)
	shard.mu.Lock()
	shard.items[ticker] = closeEntry{
		close:     close,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Get retrieves the latest close for a ticker.
func (c *LastCloseCache) Get(ticker string) (float64, bool) {
	shard := c.getShard(ticker)
	shard.mu.RLock()
	entry, ok := shard.items[ticker]
	shard.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return entry.close, true
}

// Snapshot returns a copy of all cached closes.
func (c *LastCloseCache) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for k, v := range shard.items {
			out[k] = v.close
		}
		shard.mu.RUnlock()
	}
	return out
}

// Len returns the number of cached tickers.
func (c *LastCloseCache) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.items)
		shard.mu.RUnlock()
	}
	return n
}
