package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/docurag/docurag/pkg/types"
)

// EmbeddingCache is an LRU map from content hash to embedding. Chunks
// re-ingested after a watcher event or a registry re-upload hit the
// cache instead of the provider, which matters most on rate-limited
// backends.
type EmbeddingCache struct {
	mu      sync.Mutex
	items   map[string]*cacheNode
	head    *cacheNode
	tail    *cacheNode
	maxSize int

	hits   int64
	misses int64
}

type cacheNode struct {
	key    string
	vector types.Vector
	prev   *cacheNode
	next   *cacheNode
}

// CacheStats is a snapshot of cache effectiveness.
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewEmbeddingCache builds a cache holding up to maxSize vectors. A
// non-positive size disables caching; Get always misses and Set drops.
func NewEmbeddingCache(maxSize int) *EmbeddingCache {
	c := &EmbeddingCache{
		items:   make(map[string]*cacheNode),
		maxSize: maxSize,
		head:    &cacheNode{},
		tail:    &cacheNode{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// CacheKey derives the cache key for a text under a given embedding
// model. The model participates so switching models never serves stale
// vectors.
func CacheKey(text, model string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached vector and whether it was present.
func (c *EmbeddingCache) Get(key string) (types.Vector, bool) {
	if c == nil || c.maxSize <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.moveToHead(node)
	c.hits++
	return node.vector, true
}

// Set stores a vector, evicting the least recently used entry when the
// cache is full.
func (c *EmbeddingCache) Set(key string, vector types.Vector) {
	if c == nil || c.maxSize <= 0 || len(vector) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if node, ok := c.items[key]; ok {
		node.vector = vector
		c.moveToHead(node)
		return
	}

	node := &cacheNode{key: key, vector: vector}
	c.addToHead(node)
	c.items[key] = node

	for len(c.items) > c.maxSize {
		tail := c.tail.prev
		if tail == c.head {
			break
		}
		c.removeNode(tail)
		delete(c.items, tail.key)
	}
}

// Clear drops every entry but keeps hit/miss counters.
func (c *EmbeddingCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*cacheNode)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Stats returns a snapshot of the cache counters.
func (c *EmbeddingCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CacheStats{
		Size:    len(c.items),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *EmbeddingCache) addToHead(node *cacheNode) {
	node.prev = c.head
	node.next = c.head.next
	c.head.next.prev = node
	c.head.next = node
}

func (c *EmbeddingCache) removeNode(node *cacheNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (c *EmbeddingCache) moveToHead(node *cacheNode) {
	c.removeNode(node)
	c.addToHead(node)
}
