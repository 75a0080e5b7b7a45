package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed delete_expired.sql
	queryDeleteExpired string
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

// Config defines the configuration options for the PostgreSQL cache implementation.
type Config struct {
	// DeleteExpiredItems enables a background task removing rows older than
	// ItemExpiration. The Fetcher never serves such rows anyway when its TTL is
	// shorter; this only bounds table growth.
	DeleteExpiredItems bool

	// ExpiredTaskTimer defines the interval at which the cleanup task runs.
	// Shorter durations may impact database performance.
	ExpiredTaskTimer time.Duration

	// ItemExpiration defines how long rows are retained.
	ItemExpiration time.Duration

	Logger *slog.Logger
}

// Cache implements gofetchcache.Store using PostgreSQL as the storage backend.
// Values are stored as JSONB and come back in their JSON-decoded shape.
type Cache struct {
	db *sql.DB

	now func() time.Time
}

// Get retrieves an entry by its key.
// Returns caches.ErrNoCacheItem if the row doesn't exist.
func (p *Cache) Get(ctx context.Context, k string) (*gofetchcache.Entry, error) {
	var (
		value     []byte
		fetchedAt time.Time
	)
	err := p.db.QueryRowContext(ctx, queryFetchByKey, k).Scan(&value, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, caches.ErrNoCacheItem
	}
	if err != nil {
		return nil, err
	}

	e := gofetchcache.Entry{FetchedAt: fetchedAt.UTC()}
	if err := json.Unmarshal(value, &e.Value); err != nil {
		return nil, err
	}

	return &e, nil
}

// Set inserts or replaces the row for k.
func (p *Cache) Set(ctx context.Context, k string, v *gofetchcache.Entry) error {
	b, err := json.Marshal(v.Value)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, queryUpsertItem, k, string(b), v.FetchedAt.UTC())
	return err
}

func (p *Cache) Delete(ctx context.Context, k string) error {
	_, err := p.db.ExecContext(ctx, queryDeleteItem, k)
	return err
}

// DeleteWhere removes every row whose key contains substr.
func (p *Cache) DeleteWhere(ctx context.Context, substr string) (int, error) {
	res, err := p.db.ExecContext(ctx, queryDeleteMatching, substr)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	return int(n), err
}

func (p *Cache) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, queryDeleteAll)
	return err
}

func (p *Cache) Stats(ctx context.Context) (gofetchcache.StoreStats, error) {
	var (
		count          int
		oldest, newest sql.NullTime
	)
	if err := p.db.QueryRowContext(ctx, queryStats).Scan(&count, &oldest, &newest); err != nil {
		return gofetchcache.StoreStats{}, err
	}

	stats := gofetchcache.StoreStats{Entries: count}
	if oldest.Valid {
		stats.Oldest = oldest.Time.UTC()
	}
	if newest.Valid {
		stats.Newest = newest.Time.UTC()
	}

	return stats, nil
}

func createTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, queryCreateTable)
	return err
}

func deleteExpiredItems(ctx context.Context, db *sql.DB, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, queryDeleteExpired, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func expiredTask(ctx context.Context, db *sql.DB, every, retain time.Duration, now func() time.Time, logger *slog.Logger) {
	t := time.NewTimer(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "stopping expired item task")
			return
		case <-t.C:
			n, err := deleteExpiredItems(ctx, db, now().UTC().Add(-retain))
			if err != nil {
				logger.WarnContext(ctx, "error deleting expired items", "error", err)
			} else {
				logger.DebugContext(ctx, "deleted expired items", "count", n)
			}
			_ = t.Reset(every)
		}
	}
}

// New creates a new PostgreSQL cache instance with the provided configuration.
// It verifies the database connection, creates the necessary table structure, and
// optionally starts the cleanup task, which runs until ctx is done.
//
// Returns an error if:
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB, config *Config) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil database"}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	c := &Cache{
		db: db,

		now: time.Now,
	}

	if config != nil && config.DeleteExpiredItems {
		every := config.ExpiredTaskTimer
		if every <= 0 {
			every = caches.DefaultExpiredTaskTimer
		}
		retain := config.ItemExpiration
		if retain <= 0 {
			retain = caches.DefaultItemExpiration
		}
		logger := config.Logger
		if logger == nil {
			logger = slog.Default()
		}
		go expiredTask(ctx, db, every, retain, c.now, logger)
	}

	return c, nil
}
