package local

import (
	"context"
	"strings"
	"sync"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches"
)

// BasicCache is an in-process gofetchcache.Store.
type BasicCache struct {
	cache map[string]gofetchcache.Entry

	lock sync.RWMutex
}

func (bc *BasicCache) Get(_ context.Context, key string) (*gofetchcache.Entry, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	val, found := bc.cache[key]
	if !found {
		return nil, caches.ErrNoCacheItem
	}

	return &val, nil
}

func (bc *BasicCache) Set(_ context.Context, key string, item *gofetchcache.Entry) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.cache[key] = *item

	return nil
}

func (bc *BasicCache) Delete(_ context.Context, key string) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	delete(bc.cache, key)

	return nil
}

func (bc *BasicCache) DeleteWhere(_ context.Context, substr string) (int, error) {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	removed := 0
	for key := range bc.cache {
		if strings.Contains(key, substr) {
			delete(bc.cache, key)
			removed++
		}
	}

	return removed, nil
}

func (bc *BasicCache) Clear(_ context.Context) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.cache = make(map[string]gofetchcache.Entry)

	return nil
}

func (bc *BasicCache) Stats(_ context.Context) (gofetchcache.StoreStats, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	stats := gofetchcache.StoreStats{Entries: len(bc.cache)}
	for _, e := range bc.cache {
		if stats.Oldest.IsZero() || e.FetchedAt.Before(stats.Oldest) {
			stats.Oldest = e.FetchedAt
		}
		if e.FetchedAt.After(stats.Newest) {
			stats.Newest = e.FetchedAt
		}
	}

	return stats, nil
}

func NewBasicCache() *BasicCache {
	return &BasicCache{
		cache: make(map[string]gofetchcache.Entry),
	}
}
