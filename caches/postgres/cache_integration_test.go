//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches"
)

func setup(t *testing.T) *Cache {
	t.Helper()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgresql://localhost:5455/postgresDB?user=postgresUser&password=postgresPW&sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	c, err := New(context.Background(), db, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := c.Clear(context.Background()); err != nil {
			t.Log(err)
		}
		db.Close()
	})

	return c
}

func TestStoreIntegration(t *testing.T) {
	ctx := context.Background()
	c := setup(t)

	fetchedAt := time.Now().UTC().Truncate(time.Microsecond)
	for _, k := range []string{"/boards/1-{}", "/boards/2-{}", "/users/1-{}"} {
		require.NoError(t, c.Set(ctx, k, &gofetchcache.Entry{
			Value:     map[string]any{"key": k},
			FetchedAt: fetchedAt,
		}))
	}

	got, err := c.Get(ctx, "/boards/1-{}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "/boards/1-{}"}, got.Value)
	assert.True(t, fetchedAt.Equal(got.FetchedAt))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)

	n, err := c.DeleteWhere(ctx, "/boards")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = c.Get(ctx, "/boards/2-{}")
	assert.ErrorIs(t, err, caches.ErrNoCacheItem)
}
