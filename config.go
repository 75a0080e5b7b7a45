package gofetchcache

import "time"

const (
	// DefaultTTL is how long a fetched value is served from cache.
	DefaultTTL = 30 * time.Second

	// DefaultBatchDelay is how long Batch waits before draining a group.
	DefaultBatchDelay = 200 * time.Millisecond

	// DefaultUnwrapField is the envelope field unwrapped from response bodies.
	DefaultUnwrapField = "data"
)

type Config struct {
	// TTL applies uniformly to every entry. An entry is fresh while
	// now - FetchedAt < TTL. Zero means DefaultTTL.
	TTL time.Duration

	// BatchDelay is the window Batch collects calls for a group before running
	// them. Zero means DefaultBatchDelay.
	BatchDelay time.Duration

	// UnwrapField names the field unwrapped one level from a JSON object body
	// before it is cached, e.g. {"data": [...]} caches [...]. Bodies without
	// the field are cached verbatim. Empty disables unwrapping.
	UnwrapField string

	// StrictInvalidation stops a fetch from repopulating the cache when an
	// invalidation covering its key happened while it was in flight. The
	// waiters still receive the fetched value.
	StrictInvalidation bool

	// FetchTimeout bounds the shared transport call. Zero means no timeout.
	FetchTimeout time.Duration
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		TTL:         DefaultTTL,
		BatchDelay:  DefaultBatchDelay,
		UnwrapField: DefaultUnwrapField,
	}
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	return c
}
