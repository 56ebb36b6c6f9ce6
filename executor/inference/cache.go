package inference

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheEntries bounds the cache when no size is given.
const DefaultCacheEntries = 1 << 20

type cacheEntry struct {
	key    string
	policy []float32
	value  float32
}

type CacheStats struct {
	Hits   int64
	Misses int64
}

// Cache memoizes an inner predictor by the exact feature bytes. Concurrent
// misses on the same features share one inner call. Errors are not cached.
type Cache struct {
	inner Predictor
	cache *ristretto.Cache[string, cacheEntry]
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache holds at most maxEntries results.
func NewCache(inner Predictor, maxEntries int64) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, cacheEntry]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{inner: inner, cache: c}, nil
}

func featureKey(features []float32) string {
	buf := make([]byte, 0, len(features)*4)
	for _, f := range features {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return string(buf)
}

func (c *Cache) Predict(features []float32) ([]float32, float32, error) {
	key := featureKey(features)
	// The entry carries its key so a hash collision reads as a miss.
	if e, ok := c.cache.Get(key); ok && e.key == key {
		c.hits.Add(1)
		return cloneFloats(e.policy), e.value, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (any, error) {
		policy, value, err := c.inner.Predict(features)
		if err != nil {
			return nil, err
		}
		e := cacheEntry{key: key, policy: cloneFloats(policy), value: value}
		c.cache.Set(key, e, 1)
		return e, nil
	})
	if err != nil {
		return nil, 0, err
	}
	e := v.(cacheEntry)
	return cloneFloats(e.policy), e.value, nil
}

// Wait blocks until pending writes are visible to Get.
func (c *Cache) Wait() { c.cache.Wait() }

func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *Cache) Close() { c.cache.Close() }

func cloneFloats(s []float32) []float32 {
	out := make([]float32, len(s))
	copy(out, s)
	return out
}
