package substrate

import (
	lru "github.com/hashicorp/golang-lru"
)

// hashCache maps recent block heights to their hashes.
// The block subscription primes it so signing never waits for chain_getBlockHash.
type hashCache struct {
	cache *lru.Cache
}

func newHashCache(size int) (*hashCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &hashCache{cache: cache}, nil
}

func (c *hashCache) Get(height uint64) ([]byte, bool) {
	if hash, ok := c.cache.Get(height); ok {
		// SAFETY: type assertion will never panic as we insert only []byte values.
		return hash.([]byte), true
	}
	return nil, false
}

func (c *hashCache) Add(height uint64, hash []byte) {
	if len(hash) == 0 {
		return
	}
	c.cache.Add(height, hash)
}
