package gofetchcache

import (
	"context"
	"time"
)

// Entry is a stored fetch result. Freshness is not part of the entry: it is
// derived from FetchedAt and the Fetcher's TTL at read time.
type Entry struct {
	Value     any
	FetchedAt time.Time
}

// StoreStats is a point-in-time view of a Store. Oldest and Newest are zero
// when the store is empty.
type StoreStats struct {
	Entries int
	Oldest  time.Time
	Newest  time.Time
}

// Store holds entries by key. Implementations return caches.ErrNoCacheItem
// from Get when no entry exists, and must never drop entries on their own
// account of staleness.
type Store interface {
	Get(ctx context.Context, k string) (*Entry, error)
	Set(ctx context.Context, k string, v *Entry) error
	Delete(ctx context.Context, k string) error
	// DeleteWhere removes every entry whose key contains substr and reports
	// how many were removed.
	DeleteWhere(ctx context.Context, substr string) (int, error)
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (StoreStats, error)
}
