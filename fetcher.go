package gofetchcache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dgduncan/go-fetch-cache/caches"
)

var (
	// ErrNoTransport is returned on a cache miss when no transport was given.
	ErrNoTransport = errors.New("no transport configured")
)

// Stats is a diagnostic snapshot of a Fetcher.
type Stats struct {
	Entries  int       `json:"entries"`   // stored entries, fresh or stale
	InFlight int       `json:"in_flight"` // keys with a fetch pending or running
	Batched  int       `json:"batched"`   // calls waiting in batch queues
	Oldest   time.Time `json:"oldest"`    // zero when empty
	Newest   time.Time `json:"newest"`    // zero when empty
}

// Fetcher sits between callers and a backend. It serves fresh cached values,
// coalesces concurrent misses for the same key into one transport call and
// lets mutation call sites invalidate entries.
//
// An invalidation does not affect fetches already in flight: unless
// StrictInvalidation is set, such a fetch still stores its result when it
// completes, even though the data was requested before the invalidation.
type Fetcher struct {
	store     Store
	transport Transport
	logger    *slog.Logger
	now       func() time.Time

	c Config

	group singleflight.Group

	mu            sync.Mutex
	waiters       map[string]int
	flights       map[string]*flight
	running       int
	epoch         uint64
	invalidations []invalidation
	batches       map[string]*batch
}

type flight struct {
	started uint64
}

type invalidation struct {
	epoch   uint64
	pattern string
	exact   bool
	all     bool
}

func (i invalidation) covers(key string) bool {
	switch {
	case i.all:
		return true
	case i.exact:
		return key == i.pattern
	default:
		return strings.Contains(key, i.pattern)
	}
}

// Fetch is FetchWith using the Fetcher's own transport.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string, params map[string]any) (any, error) {
	return f.FetchWith(ctx, endpoint, params, f.transport)
}

// FetchWith returns the value for a GET of endpoint with params.
//
// The process follows these steps:
// 1. Returns the cached value if a fresh entry exists
// 2. Joins the in-flight fetch for the same key if there is one
// 3. Otherwise calls t, caches the (unwrapped) result and hands it to every
// waiter. A failure is handed to every waiter and nothing is cached.
//
// When several callers share a fetch, the transport of the one that started
// it is used. Cancelling ctx abandons the wait but not the shared fetch.
func (f *Fetcher) FetchWith(ctx context.Context, endpoint string, params map[string]any, t Transport) (any, error) {
	key := caches.Key(endpoint, params)

	v, err := f.Get(ctx, key)
	if err == nil { // cache hit
		f.logger.DebugContext(ctx, "cache item found", "key", key)
		return v, nil
	}
	if !isMiss(err) {
		f.logger.WarnContext(ctx, "error reading cache, treating as miss", "key", key, "error", err)
	}

	if t == nil {
		return nil, ErrNoTransport
	}

	target := caches.URL(endpoint, params)

	f.mu.Lock()
	f.waiters[key]++
	ch := f.group.DoChan(key, func() (any, error) {
		return f.fetch(ctx, key, target, t)
	})
	f.mu.Unlock()
	defer f.release(key)

	select {
	case res := <-ch:
		if res.Shared {
			f.logger.DebugContext(ctx, "joined in-flight request", "key", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fetcher) fetch(ctx context.Context, key, target string, t Transport) (any, error) {
	ctx = context.WithoutCancel(ctx)
	logger := f.logger.With("flight_id", uuid.NewString(), "key", key)

	fl := f.beginFlight(key)
	defer f.endFlight(key, fl)

	// a flight that settled between the caller's miss and this one may
	// already have stored the value
	if v, err := f.Get(ctx, key); err == nil {
		logger.DebugContext(ctx, "cache item stored by previous request")
		return v, nil
	}

	if f.c.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.c.FetchTimeout)
		defer cancel()
	}

	logger.DebugContext(ctx, "cache item not found, fetching", "url", target)
	body, err := t.Get(ctx, target)
	if err != nil {
		logger.DebugContext(ctx, "fetch failed", "url", target, "error", err)
		return nil, err
	}

	v := f.unwrap(body)

	if f.c.StrictInvalidation && f.invalidatedSince(key, fl.started) {
		logger.DebugContext(ctx, "key invalidated during fetch, not caching response")
		return v, nil
	}

	if err := f.store.Set(ctx, key, &Entry{Value: v, FetchedAt: f.now().UTC()}); err != nil {
		logger.WarnContext(ctx, "error caching response", "error", err)
		return v, nil
	}

	// an invalidation landing between the check above and the write has
	// already run its delete, so the write has to be undone here
	if f.c.StrictInvalidation && f.invalidatedSince(key, fl.started) {
		logger.DebugContext(ctx, "key invalidated while caching response, removing it")
		if err := f.store.Delete(ctx, key); err != nil {
			logger.WarnContext(ctx, "error removing invalidated response", "error", err)
		}
	}

	return v, nil
}

func (f *Fetcher) unwrap(body any) any {
	if f.c.UnwrapField == "" {
		return body
	}
	if m, ok := body.(map[string]any); ok {
		if v, found := m[f.c.UnwrapField]; found {
			return v
		}
	}
	return body
}

// Get returns the cached value for key. It returns caches.ErrNoCacheItem when
// no entry exists and caches.ErrCacheItemExpired when the entry is stale. The
// stale entry is left in place.
func (f *Fetcher) Get(ctx context.Context, key string) (any, error) {
	e, err := f.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if f.now().Sub(e.FetchedAt) >= f.c.TTL {
		return nil, caches.ErrCacheItemExpired
	}

	return e.Value, nil
}

// Set stores value under key stamped with the current time, replacing any
// previous entry.
func (f *Fetcher) Set(ctx context.Context, key string, value any) error {
	return f.store.Set(ctx, key, &Entry{Value: value, FetchedAt: f.now().UTC()})
}

// Delete removes the entry for key, if any.
func (f *Fetcher) Delete(ctx context.Context, key string) error {
	f.record(invalidation{pattern: key, exact: true})
	return f.store.Delete(ctx, key)
}

// DeleteWhere removes every entry whose key contains substr.
func (f *Fetcher) DeleteWhere(ctx context.Context, substr string) (int, error) {
	f.record(invalidation{pattern: substr})
	return f.store.DeleteWhere(ctx, substr)
}

// Invalidate drops every cached entry whose key contains pattern, e.g.
// "/boards/123" after a board mutation, and reports how many were dropped.
func (f *Fetcher) Invalidate(ctx context.Context, pattern string) (int, error) {
	f.record(invalidation{pattern: pattern})

	n, err := f.store.DeleteWhere(ctx, pattern)
	if err != nil {
		return n, err
	}

	f.logger.DebugContext(ctx, "invalidated cache items", "pattern", pattern, "removed", n)
	return n, nil
}

// InvalidateAll drops every cached entry. See ClearAll.
func (f *Fetcher) InvalidateAll(ctx context.Context) error {
	return f.ClearAll(ctx)
}

// ClearAll empties the store, forgets every pending request and rejects
// every queued batch call with ErrBatchCleared. Callers already waiting on a
// forgotten request still receive its result, but later calls start afresh.
func (f *Fetcher) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recordLocked(invalidation{all: true})

	for key := range f.waiters {
		f.group.Forget(key)
	}
	for key := range f.flights {
		f.group.Forget(key)
	}
	f.flights = make(map[string]*flight)

	for group, b := range f.batches {
		b.cancel(ErrBatchCleared)
		delete(f.batches, group)
	}

	if err := f.store.Clear(ctx); err != nil {
		return err
	}

	f.logger.DebugContext(ctx, "cleared cache")
	return nil
}

// Stats returns a snapshot of the store and of the request tables.
func (f *Fetcher) Stats(ctx context.Context) (Stats, error) {
	ss, err := f.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	batched := 0
	for _, b := range f.batches {
		batched += len(b.calls)
	}

	// a key is in flight from DoChan until its fetch ends, even when every
	// waiter gave up or ClearAll dropped it from flights
	inFlight := len(f.flights)
	for key := range f.waiters {
		if _, ok := f.flights[key]; !ok {
			inFlight++
		}
	}

	return Stats{
		Entries:  ss.Entries,
		InFlight: inFlight,
		Batched:  batched,
		Oldest:   ss.Oldest,
		Newest:   ss.Newest,
	}, nil
}

func (f *Fetcher) release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waiters[key]--
	if f.waiters[key] <= 0 {
		delete(f.waiters, key)
	}
}

func (f *Fetcher) beginFlight(key string) *flight {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl := &flight{started: f.epoch}
	f.flights[key] = fl
	f.running++
	return fl
}

func (f *Fetcher) endFlight(key string, fl *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flights[key] == fl {
		delete(f.flights, key)
	}
	f.running--
	if f.running == 0 {
		f.invalidations = nil
	}
}

func (f *Fetcher) record(i invalidation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordLocked(i)
}

// recordLocked advances the epoch and keeps the invalidation only while some
// fetch could still be affected by it. Must be called with mu held.
func (f *Fetcher) recordLocked(i invalidation) {
	f.epoch++
	if f.running == 0 {
		return
	}
	i.epoch = f.epoch
	f.invalidations = append(f.invalidations, i)
}

func (f *Fetcher) invalidatedSince(key string, started uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, i := range f.invalidations {
		if i.epoch > started && i.covers(key) {
			return true
		}
	}
	return false
}

func isMiss(err error) bool {
	return errors.Is(err, caches.ErrNoCacheItem) || errors.Is(err, caches.ErrCacheItemExpired)
}

// New creates a Fetcher serving values from store and fetching misses through
// transport. transport may be nil when every call goes through FetchWith.
//
// If opts is nil, DefaultConfig is used; zero durations in opts fall back to
// their defaults. If 'now' is nil, time.Now is used. If 'logger' is nil, a
// no-op logger writing to io.Discard is used.
func New(
	store Store,
	transport Transport,
	opts *Config,
	now func() time.Time,
	logger *slog.Logger,
) (*Fetcher, error) {
	if store == nil {
		return nil, caches.ValidationError{Reason: "nil store"}
	}

	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := Config{}
	if opts == nil {
		c = DefaultConfig()
	} else {
		c = opts.withDefaults()
	}

	return &Fetcher{
		store:     store,
		transport: transport,
		logger:    logger,
		now:       nowFunc,
		c:         c,
		waiters:   make(map[string]int),
		flights:   make(map[string]*flight),
		batches:   make(map[string]*batch),
	}, nil
}
