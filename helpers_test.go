package gofetchcache_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches/local"
)

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testTime()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// blockingTransport holds every Get until release is closed.
type blockingTransport struct {
	calls   atomic.Int32
	release chan struct{}

	value any
	err   error
}

func newBlockingTransport(value any, err error) *blockingTransport {
	return &blockingTransport{release: make(chan struct{}), value: value, err: err}
}

func (b *blockingTransport) Get(_ context.Context, _ string) (any, error) {
	b.calls.Add(1)
	<-b.release
	return b.value, b.err
}

func (b *blockingTransport) Release() {
	close(b.release)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFetcher(t *testing.T, transport gofetchcache.Transport, opts *gofetchcache.Config, clock *testClock) *gofetchcache.Fetcher {
	t.Helper()

	var now func() time.Time
	if clock != nil {
		now = clock.Now
	}

	f, err := gofetchcache.New(local.NewBasicCache(), transport, opts, now, discardLogger())
	require.NoError(t, err)
	return f
}

// hookStore runs the optional hooks before delegating to a BasicCache.
type hookStore struct {
	*local.BasicCache

	beforeGet func(ctx context.Context, key string) error
	beforeSet func(ctx context.Context, key string)
}

func newHookStore() *hookStore {
	return &hookStore{BasicCache: local.NewBasicCache()}
}

func (s *hookStore) Get(ctx context.Context, key string) (*gofetchcache.Entry, error) {
	if s.beforeGet != nil {
		if err := s.beforeGet(ctx, key); err != nil {
			return nil, err
		}
	}
	return s.BasicCache.Get(ctx, key)
}

func (s *hookStore) Set(ctx context.Context, key string, item *gofetchcache.Entry) error {
	if s.beforeSet != nil {
		s.beforeSet(ctx, key)
	}
	return s.BasicCache.Set(ctx, key, item)
}
