package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultTableWait bounds how long EnsureTable waits for a table to become active.
const DefaultTableWait = 2 * time.Minute

// TableCreator is implemented by *dynamodb.Client.
type TableCreator interface {
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// TableManager is implemented by *dynamodb.Client.
type TableManager interface {
	TableCreator
	dynamodb.DescribeTableAPIClient
}

// CreateTable creates a table with the key schema Cache expects.
func CreateTable(ctx context.Context, client TableCreator, table string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String(attrKey),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String(attrKey),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	return err
}

// EnsureTable creates table unless it already exists and waits up to maxWait
// for it to become ACTIVE. A zero maxWait means DefaultTableWait.
func EnsureTable(
	ctx context.Context,
	client TableManager,
	table string,
	maxWait time.Duration,
	optFns ...func(*dynamodb.TableExistsWaiterOptions),
) error {
	if err := CreateTable(ctx, client, table); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return err
		}
	}

	if maxWait <= 0 {
		maxWait = DefaultTableWait
	}

	return dynamodb.NewTableExistsWaiter(client, optFns...).Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, maxWait)
}
