package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches/dynamodb"
	"github.com/dgduncan/go-fetch-cache/caches/local"
	"github.com/dgduncan/go-fetch-cache/caches/postgres"
	"github.com/dgduncan/go-fetch-cache/caches/sqlite"
)

const (
	storeMemory   = "memory"
	storeSQLite   = "sqlite"
	storePostgres = "postgres"
	storeDynamoDB = "dynamodb"

	defaultSQLiteDSN = "fetchcache.db"
)

// openStore builds the configured store. The returned close func releases
// any connection it opened.
func openStore(ctx context.Context, sc storeConfig, logger *slog.Logger) (gofetchcache.Store, func() error, error) {
	noop := func() error { return nil }

	switch sc.Kind {
	case "", storeMemory:
		return local.NewBasicCache(), noop, nil

	case storeSQLite:
		dsn := sc.DSN
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		db, err := sql.Open(sqlite.DriverName, dsn)
		if err != nil {
			return nil, nil, err
		}
		if dsn == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		s, err := sqlite.New(ctx, db)
		if err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}
		return s, db.Close, nil

	case storePostgres:
		if sc.DSN == "" {
			return nil, nil, fmt.Errorf("postgres store needs a dsn")
		}
		db, err := sql.Open("postgres", sc.DSN)
		if err != nil {
			return nil, nil, err
		}
		s, err := postgres.New(ctx, db, &postgres.Config{Logger: logger})
		if err != nil {
			return nil, nil, errors.Join(err, db.Close())
		}
		return s, db.Close, nil

	case storeDynamoDB:
		return openDynamoDB(ctx, sc)

	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", sc.Kind)
	}
}

func openDynamoDB(ctx context.Context, sc storeConfig) (gofetchcache.Store, func() error, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if sc.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(sc.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, nil, err
	}

	client := awsdynamodb.NewFromConfig(cfg, func(o *awsdynamodb.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
	})

	s, err := dynamodb.New(ctx, client, &dynamodb.Config{Table: sc.Table})
	if err != nil {
		return nil, nil, err
	}

	if err := dynamodb.EnsureTable(ctx, client, sc.Table, 0); err != nil {
		return nil, nil, err
	}

	return s, func() error { return nil }, nil
}
