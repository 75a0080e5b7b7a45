// Package sqlite implements gofetchcache.Store on SQLite through
// modernc.org/sqlite. Values are stored as JSON text, so they come back as
// their JSON-decoded shape.
//
// An in-memory database only lives as long as its connection; open ":memory:"
// databases with db.SetMaxOpenConns(1).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed fetch_by_key.sql
	queryFetchByKey string
	//go:embed upsert_item.sql
	queryUpsertItem string
	//go:embed delete_item.sql
	queryDeleteItem string
	//go:embed delete_matching.sql
	queryDeleteMatching string
	//go:embed delete_all.sql
	queryDeleteAll string
	//go:embed stats.sql
	queryStats string
)

type Cache struct {
	db *sql.DB
}

func (c *Cache) Get(ctx context.Context, k string) (*gofetchcache.Entry, error) {
	var (
		value     string
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx, queryFetchByKey, k).Scan(&value, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, caches.ErrNoCacheItem
	}
	if err != nil {
		return nil, err
	}

	e := gofetchcache.Entry{FetchedAt: time.Unix(0, fetchedAt).UTC()}
	if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
		return nil, err
	}

	return &e, nil
}

func (c *Cache) Set(ctx context.Context, k string, v *gofetchcache.Entry) error {
	b, err := json.Marshal(v.Value)
	if err != nil {
		return err
	}

	_, err = c.db.ExecContext(ctx, queryUpsertItem, k, string(b), v.FetchedAt.UnixNano())
	return err
}

func (c *Cache) Delete(ctx context.Context, k string) error {
	_, err := c.db.ExecContext(ctx, queryDeleteItem, k)
	return err
}

func (c *Cache) DeleteWhere(ctx context.Context, substr string) (int, error) {
	res, err := c.db.ExecContext(ctx, queryDeleteMatching, substr)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, queryDeleteAll)
	return err
}

func (c *Cache) Stats(ctx context.Context) (gofetchcache.StoreStats, error) {
	var (
		count          int
		oldest, newest sql.NullInt64
	)
	if err := c.db.QueryRowContext(ctx, queryStats).Scan(&count, &oldest, &newest); err != nil {
		return gofetchcache.StoreStats{}, err
	}

	stats := gofetchcache.StoreStats{Entries: count}
	if oldest.Valid {
		stats.Oldest = time.Unix(0, oldest.Int64).UTC()
	}
	if newest.Valid {
		stats.Newest = time.Unix(0, newest.Int64).UTC()
	}

	return stats, nil
}

// New verifies the connection and creates the fetch_cache table if needed.
func New(ctx context.Context, db *sql.DB) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil database"}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if _, err := db.ExecContext(ctx, queryCreateTable); err != nil {
		return nil, err
	}

	return &Cache{db: db}, nil
}
