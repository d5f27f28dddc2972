package embedder

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DefaultCacheCap is the default maximum number of cached embeddings.
const DefaultCacheCap = 10000

// Cache is an in-memory content-addressed embedding cache. Keys are the
// SHA-256 of the chunk text, so identical content never pays for a second
// provider call regardless of which document it appears in. Safe for
// concurrent use.
type Cache struct {
	// mu protects entries and the counters.
	mu sync.Mutex
	// entries maps content hash to embedding vector.
	entries map[string][]float32
	// cap is the maximum number of entries before eviction kicks in.
	cap int
	// hits counts successful lookups.
	hits uint64
	// misses counts failed lookups.
	misses uint64
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	// Entries is the current number of cached embeddings.
	Entries int `json:"entries"`
	// Hits is the number of lookups served from the cache.
	Hits uint64 `json:"hits"`
	// Misses is the number of lookups that fell through to the provider.
	Misses uint64 `json:"misses"`
	// HitRate is Hits / (Hits + Misses), or 0 before any lookup.
	HitRate float64 `json:"hit_rate"`
}

// NewCache constructs a Cache holding at most cap entries. Non-positive cap
// falls back to DefaultCacheCap.
func NewCache(cap int) *Cache {
	if cap <= 0 {
		cap = DefaultCacheCap
	}
	return &Cache{
		entries: make(map[string][]float32),
		cap:     cap,
	}
}

// CacheKey returns the cache key for the given content.
func CacheKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached embedding for content, if present.
func (c *Cache) Get(content string) ([]float32, bool) {
	key := CacheKey(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores the embedding for content, evicting an arbitrary entry first
// when the cache is full.
func (c *Cache) Put(content string, embedding []float32) {
	key := CacheKey(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.cap {
		// Map iteration order is randomized, so this evicts a random entry.
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = embedding
}

// Len returns the current number of cached embeddings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
