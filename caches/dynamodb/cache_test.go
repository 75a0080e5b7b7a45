//go:build !integration

package dynamodb

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches"
)

// fakeAPI keeps items in memory. Scan returns a single page and honours the
// contains filter used by Cache.
type fakeAPI struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	batchCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(t map[string]types.AttributeValue) string {
	if s, ok := t[attrKey].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	substr := ""
	if v, ok := in.ExpressionAttributeValues[":substr"].(*types.AttributeValueMemberS); ok {
		substr = v.Value
	}

	out := &dynamodb.ScanOutput{}
	for k, item := range f.items {
		if strings.Contains(k, substr) {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCalls++
	for _, reqs := range in.RequestItems {
		for _, r := range reqs {
			if r.DeleteRequest != nil {
				delete(f.items, keyOf(r.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

func TestNewDynamoDBCache(t *testing.T) {
	fake := newFakeAPI()

	tests := []struct {
		name          string
		client        API
		config        *Config
		expectedCache *Cache
		expectedErr   error
	}{
		{
			name:   "nil client returns error",
			client: nil,
			config: &Config{
				Table:          "test-table",
				ItemExpiration: time.Hour,
			},
			expectedErr: caches.ErrValidation,
		},
		{
			name:        "missing table returns error",
			client:      fake,
			config:      &Config{},
			expectedErr: caches.ErrValidation,
		},
		{
			name:   "zero item expiration uses default",
			client: fake,
			config: &Config{
				Table:          "test-table",
				ItemExpiration: 0,
			},
			expectedCache: &Cache{
				table:      "test-table",
				expiration: caches.DefaultItemExpiration,
			},
		},
		{
			name:   "custom item expiration",
			client: fake,
			config: &Config{
				Table:          "test-table",
				ItemExpiration: time.Hour,
			},
			expectedCache: &Cache{
				table:      "test-table",
				expiration: time.Hour,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, err := New(context.Background(), tt.client, tt.config)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, cache)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedCache.table, cache.table)
			assert.Equal(t, tt.expectedCache.expiration, cache.expiration)
		})
	}
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAPI()
	c, err := New(ctx, fake, &Config{Table: "test", DeleteExpiredItems: true, ItemExpiration: time.Hour})
	require.NoError(t, err)

	_, err = c.Get(ctx, "/boards/1-{}")
	require.ErrorIs(t, err, caches.ErrNoCacheItem)

	require.NoError(t, c.Set(ctx, "/boards/1-{}", &gofetchcache.Entry{
		Value:     map[string]any{"name": "board"},
		FetchedAt: testTime(),
	}))

	got, err := c.Get(ctx, "/boards/1-{}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "board"}, got.Value)
	assert.True(t, testTime().Equal(got.FetchedAt))

	var stored cacheItem
	require.NoError(t, attributevalue.UnmarshalMap(fake.items["/boards/1-{}"], &stored))
	assert.Equal(t, testTime().Add(time.Hour).Unix(), stored.ExpiredAt)

	require.NoError(t, c.Delete(ctx, "/boards/1-{}"))
	_, err = c.Get(ctx, "/boards/1-{}")
	assert.ErrorIs(t, err, caches.ErrNoCacheItem)
}

func TestDeleteWhereBatches(t *testing.T) {
	ctx := context.Background()
	fake := newFakeAPI()
	c, err := New(ctx, fake, &Config{Table: "test"})
	require.NoError(t, err)

	// 30 board keys need two BatchWriteItem calls
	for i := range 30 {
		k := "/boards/" + strconv.Itoa(i) + "-{}"
		require.NoError(t, c.Set(ctx, k, &gofetchcache.Entry{Value: i, FetchedAt: testTime()}))
	}
	require.NoError(t, c.Set(ctx, "/users/1-{}", &gofetchcache.Entry{Value: "u", FetchedAt: testTime()}))

	n, err := c.DeleteWhere(ctx, "/boards")
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	assert.Equal(t, 2, fake.batchCalls)

	remaining := make([]string, 0, len(fake.items))
	for k := range fake.items {
		remaining = append(remaining, k)
	}
	sort.Strings(remaining)
	assert.Equal(t, []string{"/users/1-{}"}, remaining)
}

func TestStatsAndClear(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, newFakeAPI(), &Config{Table: "test"})
	require.NoError(t, err)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, gofetchcache.StoreStats{}, stats)

	require.NoError(t, c.Set(ctx, "a", &gofetchcache.Entry{FetchedAt: testTime()}))
	require.NoError(t, c.Set(ctx, "b", &gofetchcache.Entry{FetchedAt: testTime().Add(time.Minute)}))

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.True(t, testTime().Equal(stats.Oldest))
	assert.True(t, testTime().Add(time.Minute).Equal(stats.Newest))

	require.NoError(t, c.Clear(ctx))
	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)
}
