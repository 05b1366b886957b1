// Package cache provides a thread-safe, sharded LRU cache.
//
// Entries carry a weight (for decoded images, their size in bytes) and
// each shard evicts least recently used entries once its total weight
// exceeds the shard capacity.
package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Default configuration constants.
const (
	// DefaultShardCount is the number of shards for reduced lock contention.
	// Must be a power of 2 for fast modulo via bitwise AND.
	DefaultShardCount = 16

	// DefaultCapacity is the default weight budget per shard. With the
	// default weigher every entry weighs 1.
	DefaultCapacity = 256

	// shardMask is used for fast shard selection (DefaultShardCount - 1).
	shardMask = DefaultShardCount - 1
)

// Hasher is a function that computes a hash for a key.
// Used by ShardedCache for shard selection.
type Hasher[K any] func(K) uint64

// Weigher returns the cost of keeping a value in the cache.
type Weigher[V any] func(V) int64

// StringHasher computes FNV-1a hash of a string key.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv.Write never returns an error
	return h.Sum64()
}

// ShardedCache is a thread-safe, weight-bounded LRU cache split into
// DefaultShardCount shards.
//
// Each shard has its own lock and its own share of the capacity, so the
// total budget is capacity * DefaultShardCount. A value heavier than the
// shard capacity is still stored, alone in its shard.
type ShardedCache[K comparable, V any] struct {
	shards   [DefaultShardCount]*shard[K, V]
	hasher   Hasher[K]
	weigher  Weigher[V]
	capacity int64 // per shard

	// Statistics (atomic for lock-free reads)
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// shard is a single shard of the cache.
type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	lru     *lruList[K]
	weight  int64
}

// entry holds a cached value with its LRU node.
type entry[K comparable, V any] struct {
	value  V
	weight int64
	node   *lruNode[K]
}

// NewSharded creates a cache with the given weight budget per shard.
//
// hasher selects the shard of a key; use StringHasher for
// common key types. weigher may be nil, in which case every entry weighs
// 1 and capacity bounds the entry count. If capacity <= 0,
// DefaultCapacity is used.
func NewSharded[K comparable, V any](capacity int64, hasher Hasher[K], weigher Weigher[V]) *ShardedCache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if weigher == nil {
		weigher = func(V) int64 { return 1 }
	}

	c := &ShardedCache[K, V]{
		hasher:   hasher,
		weigher:  weigher,
		capacity: capacity,
	}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{
			entries: make(map[K]*entry[K, V]),
			lru:     newLRUList[K](),
		}
	}
	return c
}

// New creates a cache of about capacity entries in total, keyed by string.
func New[V any](capacity int) *ShardedCache[string, V] {
	perShard := (int64(capacity) + DefaultShardCount - 1) / DefaultShardCount
	return NewSharded[string, V](perShard, StringHasher, nil)
}

// getShard returns the shard for a given key.
func (c *ShardedCache[K, V]) getShard(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get retrieves a cached value by key and marks it recently used.
// Returns (value, true) if found, (zero, false) otherwise.
func (c *ShardedCache[K, V]) Get(key K) (V, bool) {
	s := c.getShard(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.MoveToFront(e.node)
	value := e.value
	s.mu.Unlock()

	c.hits.Add(1)
	return value, true
}

// Set stores a value, replacing any previous value for key, and evicts
// least recently used entries until the shard fits its budget.
//
// The value is stored as-is (not copied). Callers should not modify it
// after caching.
func (c *ShardedCache[K, V]) Set(key K, value V) {
	s := c.getShard(key)
	w := c.weigher(value)

	s.mu.Lock()
	defer s.mu.Unlock()
	c.insertLocked(s, key, value, w)
}

// insertLocked adds or replaces key. s.mu must be held.
func (c *ShardedCache[K, V]) insertLocked(s *shard[K, V], key K, value V, w int64) {
	if e, ok := s.entries[key]; ok {
		s.weight += w - e.weight
		e.value, e.weight = value, w
		s.lru.MoveToFront(e.node)
	} else {
		s.entries[key] = &entry[K, V]{value: value, weight: w, node: s.lru.PushFront(key)}
		s.weight += w
	}

	// Never evict the entry just inserted.
	for s.weight > c.capacity && s.lru.Len() > 1 {
		oldest, ok := s.lru.RemoveOldest()
		if !ok {
			break
		}
		s.weight -= s.entries[oldest].weight
		delete(s.entries, oldest)
		c.evictions.Add(1)
	}
}

// GetOrCreate returns a cached value or creates it using the provided
// function. create runs with the shard lock held, so concurrent callers
// for one key create the value once; keep it fast.
func (c *ShardedCache[K, V]) GetOrCreate(key K, create func() V) V {
	s := c.getShard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.lru.MoveToFront(e.node)
		c.hits.Add(1)
		return e.value
	}
	c.misses.Add(1)

	value := create()
	c.insertLocked(s, key, value, c.weigher(value))
	return value
}

// Delete removes an entry from the cache.
// Returns true if the entry was found and removed.
func (c *ShardedCache[K, V]) Delete(key K) bool {
	s := c.getShard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.lru.Remove(e.node)
	s.weight -= e.weight
	delete(s.entries, key)
	return true
}

// Clear removes all entries from the cache.
func (c *ShardedCache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[K]*entry[K, V])
		s.lru.Clear()
		s.weight = 0
		s.mu.Unlock()
	}
}

// Len returns the total number of entries across all shards.
func (c *ShardedCache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Weight returns the total weight of all entries.
func (c *ShardedCache[K, V]) Weight() int64 {
	var total int64
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.weight
		s.mu.Unlock()
	}
	return total
}

// Capacity returns the per-shard weight budget.
func (c *ShardedCache[K, V]) Capacity() int64 {
	return c.capacity
}

// TotalCapacity returns the weight budget across all shards.
func (c *ShardedCache[K, V]) TotalCapacity() int64 {
	return c.capacity * DefaultShardCount
}

// Stats returns current cache statistics.
func (c *ShardedCache[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Len:           c.Len(),
		Weight:        c.Weight(),
		TotalCapacity: c.TotalCapacity(),
		Hits:          hits,
		Misses:        misses,
		HitRate:       hitRate,
		Evictions:     c.evictions.Load(),
	}
}

// ResetStats resets all statistics counters to zero.
func (c *ShardedCache[K, V]) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}
