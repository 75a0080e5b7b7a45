package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	gofetchcache "github.com/dgduncan/go-fetch-cache"
	"github.com/dgduncan/go-fetch-cache/caches"
)

const (
	attrKey       = "cache_key"
	attrFetchedAt = "fetched_at"

	// maxBatchWrite is the BatchWriteItem request limit.
	maxBatchWrite = 25

	// maxUnprocessedRetries bounds resubmission of unprocessed deletes.
	maxUnprocessedRetries = 5
)

// API is the subset of *dynamodb.Client used by Cache.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Config defines the configuration options for the DynamoDB cache implementation.
type Config struct {
	DeleteExpiredItems bool // Controls if the expired_at TTL property is put in the database to allow automatic deletion of expired items

	ItemExpiration time.Duration // How long an item stays in the table when DeleteExpiredItems is set. Independent of the Fetcher's TTL.
	Table          string
}

// Cache implements gofetchcache.Store using Amazon DynamoDB as the storage
// backend. The table is hashed on the string attribute cache_key; values are
// stored as JSON strings.
type Cache struct {
	client API

	table         string
	expiration    time.Duration
	deleteExpired bool
}

type cacheItem struct {
	Key       string `json:"cache_key" dynamodbav:"cache_key"`
	Value     string `json:"value" dynamodbav:"value"`
	FetchedAt int64  `json:"fetched_at" dynamodbav:"fetched_at"`
	ExpiredAt int64  `json:"expired_at,omitempty" dynamodbav:"expired_at,omitempty"`
}

// Get retrieves an entry from DynamoDB by its key.
func (c *Cache) Get(ctx context.Context, k string) (*gofetchcache.Entry, error) {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key: map[string]types.AttributeValue{
			attrKey: key,
		},
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	e := gofetchcache.Entry{FetchedAt: time.Unix(0, item.FetchedAt).UTC()}
	if err := json.Unmarshal([]byte(item.Value), &e.Value); err != nil {
		return nil, err
	}

	return &e, nil
}

// Set stores the entry under k, replacing any previous item.
func (c *Cache) Set(ctx context.Context, k string, v *gofetchcache.Entry) error {
	b, err := json.Marshal(v.Value)
	if err != nil {
		return err
	}

	i := cacheItem{
		Key:       k,
		Value:     string(b),
		FetchedAt: v.FetchedAt.UnixNano(),
	}
	if c.deleteExpired {
		i.ExpiredAt = v.FetchedAt.Add(c.expiration).Unix()
	}

	av, err := attributevalue.MarshalMap(i)
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	return err
}

func (c *Cache) Delete(ctx context.Context, k string) error {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key: map[string]types.AttributeValue{
			attrKey: key,
		},
	})
	return err
}

// DeleteWhere scans for keys containing substr and deletes them in batches.
func (c *Cache) DeleteWhere(ctx context.Context, substr string) (int, error) {
	input := &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		ProjectionExpression: aws.String(attrKey),
	}
	if substr != "" {
		input.FilterExpression = aws.String("contains(" + attrKey + ", :substr)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":substr": &types.AttributeValueMemberS{Value: substr},
		}
	}

	keys, err := c.scanKeys(ctx, input)
	if err != nil {
		return 0, err
	}

	return c.deleteKeys(ctx, keys)
}

func (c *Cache) Clear(ctx context.Context) error {
	_, err := c.DeleteWhere(ctx, "")
	return err
}

func (c *Cache) Stats(ctx context.Context) (gofetchcache.StoreStats, error) {
	var stats gofetchcache.StoreStats

	p := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		ProjectionExpression: aws.String(attrFetchedAt),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return gofetchcache.StoreStats{}, err
		}

		for _, av := range page.Items {
			var item cacheItem
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return gofetchcache.StoreStats{}, err
			}

			fetchedAt := time.Unix(0, item.FetchedAt).UTC()
			stats.Entries++
			if stats.Oldest.IsZero() || fetchedAt.Before(stats.Oldest) {
				stats.Oldest = fetchedAt
			}
			if fetchedAt.After(stats.Newest) {
				stats.Newest = fetchedAt
			}
		}
	}

	return stats, nil
}

func (c *Cache) scanKeys(ctx context.Context, input *dynamodb.ScanInput) ([]types.AttributeValue, error) {
	var keys []types.AttributeValue

	p := dynamodb.NewScanPaginator(c.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if k, ok := item[attrKey]; ok {
				keys = append(keys, k)
			}
		}
	}

	return keys, nil
}

func (c *Cache) deleteKeys(ctx context.Context, keys []types.AttributeValue) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{attrKey: k},
				},
			})
		}

		pending := map[string][]types.WriteRequest{c.table: requests}
		for attempt := 0; len(pending[c.table]) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return deleted, fmt.Errorf("%d deletes left unprocessed in table %s", len(pending[c.table]), c.table)
			}

			out, err := c.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return deleted, err
			}

			deleted += len(pending[c.table]) - len(out.UnprocessedItems[c.table])
			pending = out.UnprocessedItems
			if pending == nil {
				break
			}
		}
	}

	return deleted, nil
}

// New creates a new DynamoDB cache instance with the provided configuration.
// It validates the configuration and sets default values where appropriate.
// Returns an error if the client is nil or if the configuration is invalid.
func New(_ context.Context, client API, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "missing table",
		}
	}

	var itemExpiration time.Duration
	if config.ItemExpiration == 0 {
		itemExpiration = caches.DefaultItemExpiration
	} else {
		itemExpiration = config.ItemExpiration
	}

	return &Cache{
		client: client,

		table:         config.Table,
		expiration:    itemExpiration,
		deleteExpired: config.DeleteExpiredItems,
	}, nil
}
