package embedding

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

type cacheKey [sha256.Size]byte

type cacheEntry struct {
	key cacheKey
	vec []float32
}

// EmbeddingCache is a least-recently-used cache of embeddings keyed by the sha256 of the text, so
// long chunks cost 32 bytes of key each. Values are copied in and out; callers may mutate them.
type EmbeddingCache struct {
	// Get reorders the list, so reads take the lock exclusively.
	mu       sync.Mutex
	capacity int
	items    map[cacheKey]*list.Element
	order    *list.List // front is most recently used
}

// NewEmbeddingCache creates a cache holding up to capacity embeddings. capacity <= 0 disables it.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		items:    make(map[cacheKey]*list.Element),
		order:    list.New(),
	}
}

func (c *EmbeddingCache) Get(text string) ([]float32, bool) {
	key := sha256.Sum256([]byte(text))
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return append([]float32(nil), elem.Value.(*cacheEntry).vec...), true
}

func (c *EmbeddingCache) Set(text string, vec []float32) {
	if c.capacity <= 0 {
		return
	}
	key := sha256.Sum256([]byte(text))
	vec = append([]float32(nil), vec...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).vec = vec
		c.order.MoveToFront(elem)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, vec: vec})
	for c.order.Len() > c.capacity {
		oldest := c.order.Remove(c.order.Back()).(*cacheEntry)
		delete(c.items, oldest.key)
	}
}

func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
