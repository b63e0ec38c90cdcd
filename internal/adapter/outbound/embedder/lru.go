package embedder

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// cacheShards bounds lock contention on the hot cache-lookup path; entries
// are distributed across shards by an xxhash of the cache key so the
// cryptographic SHA-256 key the caller computes stays untouched while the
// per-shard lock stays cheap to acquire.
const cacheShards = 8

// lruCache is a fixed-capacity, thread-safe LRU keyed by the SHA-256 hex
// digest of the source text, sharded for concurrent access.
type lruCache struct {
	shards [cacheShards]*lruShard
}

type lruShard struct {
	capacity int
	mu       sync.Mutex
	ll       *list.List
	items    map[string]*list.Element
}

type lruEntry struct {
	key string
	val []float32
}

func newLRUCache(capacity int) *lruCache {
	c := &lruCache{}
	perShard := capacity/cacheShards + 1
	for i := range c.shards {
		c.shards[i] = &lruShard{
			capacity: perShard,
			ll:       list.New(),
			items:    make(map[string]*list.Element, perShard),
		}
	}
	return c
}

func (c *lruCache) shardFor(key string) *lruShard {
	return c.shards[xxhash.Sum64String(key)%cacheShards]
}

func (c *lruCache) get(key string) ([]float32, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	s.ll.MoveToFront(el)
	return el.Value.(*lruEntry).val, true
}

func (c *lruCache) put(key string, val []float32) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		el.Value.(*lruEntry).val = val
		s.ll.MoveToFront(el)
		return
	}
	el := s.ll.PushFront(&lruEntry{key: key, val: val})
	s.items[key] = el
	if s.ll.Len() > s.capacity {
		oldest := s.ll.Back()
		if oldest != nil {
			s.ll.Remove(oldest)
			delete(s.items, oldest.Value.(*lruEntry).key)
		}
	}
}
