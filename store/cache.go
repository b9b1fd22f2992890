package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/willf/bloom"

	"github.com/fahertym/coopledger/types"
)

// blockCache fronts block reads with an LRU keyed by shard and index. The
// bloom filter short-circuits lookups for blocks that were never cached, so
// cold misses skip the LRU entirely.
type blockCache struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, *types.Block]
	filter *bloom.BloomFilter
}

func newBlockCache(size int, expectedItems uint, falsePositiveRate float64) (*blockCache, error) {
	c, err := lru.New[string, *types.Block](size)
	if err != nil {
		return nil, err
	}
	return &blockCache{
		cache:  c,
		filter: bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}, nil
}

func (c *blockCache) get(key string) (*types.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filter.TestString(key) {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *blockCache) add(key string, block *types.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.AddString(key)
	c.cache.Add(key, block)
}
