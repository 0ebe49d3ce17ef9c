package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/chris/community-lending/pkg/storage/dynamodb/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCounterBatchCommit(t *testing.T) {
	t.Run("Builds One Write Per Row", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		store.BatchSize = 20

		var captured *dynamodb.TransactWriteItemsInput
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { captured = args.Get(1).(*dynamodb.TransactWriteItemsInput) }).
			Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		batch := store.NewCounterBatch()
		batch.Increment(models.GlobalScope, "Books", 1)
		batch.Decrement(models.UserScope("u1"), "Tools", 1)
		batch.Set(models.RecommendedScope, "Garden", 3)
		batch.Set(models.RecommendedScope, "Kitchen", 0)

		require.NoError(t, batch.Commit(context.Background()))
		require.Len(t, captured.TransactItems, 4)

		assert.Equal(t, "SET last_updated = :now ADD #count :delta", *captured.TransactItems[0].Update.UpdateExpression)
		assert.Equal(t, "#count > :amount", *captured.TransactItems[1].Update.ConditionExpression)
		assert.NotNil(t, captured.TransactItems[2].Put)
		assert.NotNil(t, captured.TransactItems[3].Delete)
		assert.Equal(t, 0, batch.Len())
		mockClient.AssertExpectations(t)
	})

	t.Run("Repeated Row Goes To Next Transaction", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		store.BatchSize = 20

		var captured []*dynamodb.TransactWriteItemsInput
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				captured = append(captured, args.Get(1).(*dynamodb.TransactWriteItemsInput))
			}).
			Return(&dynamodb.TransactWriteItemsOutput{}, nil).Twice()

		batch := store.NewCounterBatch()
		batch.Decrement(models.GlobalScope, "Books", 1)
		batch.Increment(models.GlobalScope, "Books", 1)

		require.NoError(t, batch.Commit(context.Background()))
		require.Len(t, captured, 2)
		require.Len(t, captured[0].TransactItems, 1)
		require.Len(t, captured[1].TransactItems, 1)
		assert.Equal(t, "#count > :amount", *captured[0].TransactItems[0].Update.ConditionExpression)
		assert.Equal(t, "SET last_updated = :now ADD #count :delta", *captured[1].TransactItems[0].Update.UpdateExpression)
		mockClient.AssertExpectations(t)
	})

	t.Run("Failed Decrement Flips To Delete", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			return in.TransactItems[1].Update != nil
		})).Return(nil, cancelled("None", conditionalCheckFailed)).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			del := in.TransactItems[1].Delete
			return del != nil && *del.ConditionExpression == "attribute_not_exists(#count) OR #count <= :amount"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		batch := store.NewCounterBatch()
		batch.Increment(models.GlobalScope, "Books", 1)
		batch.Decrement(models.GlobalScope, "Tools", 1)

		assert.NoError(t, batch.Commit(context.Background()))
		mockClient.AssertExpectations(t)
	})

	t.Run("Unflippable Failure Returns Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled("TransactionConflict")).Once()

		batch := store.NewCounterBatch()
		batch.Increment(models.GlobalScope, "Books", 1)

		err := batch.Commit(context.Background())
		assert.Error(t, err)
		assert.NotErrorIs(t, err, storage.ErrPartialBatch)
		assert.Contains(t, err.Error(), "failed to commit counter batch")
		mockClient.AssertExpectations(t)
	})

	t.Run("Later Chunk Failure Is Partial", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)
		store.BatchSize = 2

		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

		batch := store.NewCounterBatch()
		for i := 0; i < 3; i++ {
			batch.Increment(models.GlobalScope, fmt.Sprintf("cat-%d", i), 1)
		}

		err := batch.Commit(context.Background())

		var pbe *storage.PartialBatchError
		require.ErrorAs(t, err, &pbe)
		assert.Equal(t, 2, pbe.Committed)
		assert.Equal(t, 3, pbe.Total)
		mockClient.AssertExpectations(t)
	})

	t.Run("Empty Batch Writes Nothing", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		assert.NoError(t, store.NewCounterBatch().Commit(context.Background()))
		mockClient.AssertNotCalled(t, "TransactWriteItems", mock.Anything, mock.Anything)
	})
}

func TestTopCounters(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	store := newTestStore(mockClient)

	rowAV, _ := attributevalue.MarshalMap(models.CategoryCounter{Scope: models.GlobalScope, Category: "Books", Count: 7, LastUpdated: time.Unix(1700000000, 0)})
	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return *in.IndexName == counterRecencyIndex && !*in.ScanIndexForward && *in.Limit == 5
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{rowAV}}, nil).Once()

	counters, err := store.TopCounters(context.Background(), models.GlobalScope, storage.OrderByRecency, 5)

	assert.NoError(t, err)
	if assert.Len(t, counters, 1) {
		assert.Equal(t, int64(7), counters[0].Count)
		assert.Equal(t, int64(1700000000), counters[0].LastUpdated.Unix())
	}
	mockClient.AssertExpectations(t)
}

func TestGetCounterNotFound(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	store := newTestStore(mockClient)

	mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	_, err := store.GetCounter(context.Background(), models.GlobalScope, "Books")

	assert.ErrorIs(t, err, storage.ErrNotFound)
	mockClient.AssertExpectations(t)
}
