package cache

import (
	"context"
	"sync"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/metrics"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/restoration"
)

// LookupCache memoizes resolved order references in front of the storefront
// client. Resolutions are immutable (an order reference never remaps), so
// entries never expire. Misses are not cached; a reference unknown now may
// resolve once the order syncs.
type LookupCache struct {
	mu    sync.RWMutex
	cache map[string]*restoration.OrderInfo
	next  restoration.OrderLookup
}

func NewLookupCache(next restoration.OrderLookup) *LookupCache {
	return &LookupCache{
		cache: make(map[string]*restoration.OrderInfo),
		next:  next,
	}
}

func (c *LookupCache) LookupOrder(ctx context.Context, reference string) (*restoration.OrderInfo, error) {
	c.mu.RLock()
	info, found := c.cache[reference]
	c.mu.RUnlock()
	if found {
		infoCopy := *info
		return &infoCopy, nil
	}

	info, err := c.next.LookupOrder(ctx, reference)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[reference] = info
	metrics.OrderLookupCacheItems.Set(float64(len(c.cache)))
	c.mu.Unlock()

	infoCopy := *info
	return &infoCopy, nil
}
