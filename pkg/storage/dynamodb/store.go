package dynamodb

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/community-lending/pkg/storage"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the Store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Tables names every table the Store writes to.
type Tables struct {
	Items         string
	Users         string
	Counters      string
	ExchangeCache string
	Transactions  string
}

// Store implements the Storage interface using AWS DynamoDB.
type Store struct {
	Client                 DynamoDBAPI
	ItemsTableName         string
	UsersTableName         string
	CountersTableName      string
	ExchangeCacheTableName string
	TransactionsTableName  string
	BatchSize              int
}

// New creates a new Store.
func New(client DynamoDBAPI, tables Tables, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = storage.DefaultCounterBatchSize
	}
	return &Store{
		Client:                 client,
		ItemsTableName:         tables.Items,
		UsersTableName:         tables.Users,
		CountersTableName:      tables.Counters,
		ExchangeCacheTableName: tables.ExchangeCache,
		TransactionsTableName:  tables.Transactions,
		BatchSize:              batchSize,
	}
}

// Make sure we conform to the interface
var _ storage.Storage = (*Store)(nil)

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close(ctx context.Context) error {
	return nil
}

func (s *Store) batchSize() int {
	if s.BatchSize <= 0 {
		return storage.DefaultCounterBatchSize
	}
	return s.BatchSize
}

const (
	conditionalCheckFailed = "ConditionalCheckFailed"

	// timeLayout matches how attributevalue marshals time.Time.
	timeLayout = time.RFC3339Nano
)

// cancellationReasons returns the per-operation reasons of a cancelled TransactWriteItems call.
func cancellationReasons(err error) ([]types.CancellationReason, bool) {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		return tce.CancellationReasons, true
	}
	return nil, false
}

// failedCondition reports whether the operation at index failed its condition.
func failedCondition(reasons []types.CancellationReason, index int) bool {
	if index >= len(reasons) {
		return false
	}
	code := reasons[index].Code
	return code != nil && *code == conditionalCheckFailed
}

func isConditionFailed(err error) (*types.ConditionalCheckFailedException, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf, true
	}
	return nil, false
}

func timestamp() time.Time {
	return time.Now().UTC()
}
