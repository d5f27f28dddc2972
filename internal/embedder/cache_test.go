package embedder

import (
	"fmt"
	"testing"
)

func TestCache_GetPut(t *testing.T) {
	t.Parallel()

	c := NewCache(10)

	if _, ok := c.Get("hello"); ok {
		t.Fatal("Get on empty cache reported a hit")
	}

	c.Put("hello", []float32{1, 2, 3})
	v, ok := c.Get("hello")
	if !ok {
		t.Fatal("Get after Put reported a miss")
	}
	if len(v) != 3 || v[0] != 1 {
		t.Fatalf("Get returned %v, want [1 2 3]", v)
	}
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := NewCache(10)
	c.Get("a")
	c.Put("a", []float32{1})
	c.Get("a")
	c.Get("a")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Fatalf("stats = %d hits, %d misses, want 2 hits, 1 miss", s.Hits, s.Misses)
	}
	if s.Entries != 1 {
		t.Fatalf("entries = %d, want 1", s.Entries)
	}
	want := 2.0 / 3.0
	if s.HitRate < want-0.001 || s.HitRate > want+0.001 {
		t.Fatalf("hit rate = %f, want %f", s.HitRate, want)
	}
}

func TestCache_EvictsAtCap(t *testing.T) {
	t.Parallel()

	c := NewCache(5)
	for i := range 8 {
		c.Put(fmt.Sprintf("text-%d", i), []float32{float32(i)})
	}
	if got := c.Len(); got != 5 {
		t.Fatalf("Len = %d, want 5", got)
	}
}

func TestCache_PutExistingDoesNotEvict(t *testing.T) {
	t.Parallel()

	c := NewCache(2)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("a", []float32{3})

	if got := c.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
	if v, ok := c.Get("b"); !ok || v[0] != 2 {
		t.Fatalf("entry b lost after re-put of a: %v %v", v, ok)
	}
}

func TestCacheKey_DistinctContent(t *testing.T) {
	t.Parallel()

	if CacheKey("alpha") == CacheKey("beta") {
		t.Fatal("distinct content produced the same key")
	}
	if CacheKey("alpha") != CacheKey("alpha") {
		t.Fatal("identical content produced different keys")
	}
}
