package firewall

import (
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/algorand-firewall-service/internal/model"
)

// cachedKey is one validated key record plus its IP allowlist, cached
// together so a cache hit needs no store reads at all.
type cachedKey struct {
	record    model.APIKey
	allowlist []string
}

// keyCache is a short-TTL L1 over the KV store for key records. Writes that
// change a record invalidate the local entry; other replicas converge within
// the TTL, which bounds cross-process staleness.
type keyCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

func newKeyCache(ttl time.Duration) (*keyCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000, // ~10x expected live keys
		MaxCost:     10_000,  // one unit per record
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &keyCache{cache: cache, ttl: ttl}, nil
}

func (c *keyCache) get(keyHash string) (*cachedKey, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(keyHash)
	if !ok {
		return nil, false
	}
	entry, ok := v.(*cachedKey)
	return entry, ok
}

func (c *keyCache) set(keyHash string, entry *cachedKey) {
	if c == nil {
		return
	}
	c.cache.SetWithTTL(keyHash, entry, 1, c.ttl)
}

func (c *keyCache) del(keyHash string) {
	if c == nil {
		return
	}
	c.cache.Del(keyHash)
}

func (c *keyCache) close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
