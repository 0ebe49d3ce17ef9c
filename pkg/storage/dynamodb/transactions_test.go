package dynamodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
	"github.com/chris/community-lending/pkg/storage/dynamodb/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestStore(client DynamoDBAPI) *Store {
	return New(client, Tables{
		Items:         "items",
		Users:         "users",
		Counters:      "counters",
		ExchangeCache: "exchange_cache",
		Transactions:  "transactions",
	}, 2)
}

func cancelled(codes ...string) error {
	reasons := make([]types.CancellationReason, len(codes))
	for i, code := range codes {
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	return &types.TransactionCanceledException{CancellationReasons: reasons}
}

func TestCreateTransaction(t *testing.T) {
	tx := &models.Transaction{
		Id:          uuid.New().String(),
		ItemId:      "item-1",
		RequestorId: "user-2",
		Status:      models.PENDING,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			if len(in.TransactItems) != 2 {
				return false
			}
			maxAV := in.TransactItems[0].Update.ExpressionAttributeValues[":max"].(*types.AttributeValueMemberN)
			return *in.TransactItems[0].Update.TableName == "items" &&
				maxAV.Value == "2" &&
				*in.TransactItems[1].Put.TableName == "transactions"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		err := store.CreateTransaction(context.Background(), tx, 2)

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Capacity Exceeded", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		itemAV, _ := attributevalue.MarshalMap(models.Item{Id: "item-1", OpenTransactions: 2})
		txErr := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String(conditionalCheckFailed), Item: itemAV},
			{Code: aws.String("None")},
		}}
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, txErr).Once()

		err := store.CreateTransaction(context.Background(), tx, 2)

		assert.ErrorIs(t, err, storage.ErrCapacityExceeded)
		mockClient.AssertExpectations(t)
	})

	t.Run("Item Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled(conditionalCheckFailed, "None")).Once()

		err := store.CreateTransaction(context.Background(), tx, 2)

		assert.ErrorIs(t, err, storage.ErrNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("Duplicate Id", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled("None", conditionalCheckFailed)).Once()

		err := store.CreateTransaction(context.Background(), tx, 2)

		assert.ErrorIs(t, err, storage.ErrConflict)
		mockClient.AssertExpectations(t)
	})

	t.Run("Client Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

		err := store.CreateTransaction(context.Background(), tx, 2)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to execute transaction")
		mockClient.AssertExpectations(t)
	})
}

func TestGetTransaction(t *testing.T) {
	txID := uuid.New().String()

	t.Run("Success", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		expected := &models.Transaction{Id: txID, ItemId: "item-1", RequestorId: "user-2", Status: models.APPROVED}
		txAV, _ := attributevalue.MarshalMap(expected)
		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: txAV}, nil)

		tx, err := store.GetTransaction(context.Background(), txID)

		assert.NoError(t, err)
		assert.Equal(t, expected.Status, tx.Status)
		assert.Equal(t, expected.ItemId, tx.ItemId)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: nil}, nil)

		tx, err := store.GetTransaction(context.Background(), txID)

		assert.Nil(t, tx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("DynamoDB Error", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("get item failed"))

		tx, err := store.GetTransaction(context.Background(), txID)

		assert.Nil(t, tx)
		assert.Contains(t, err.Error(), "failed to get transaction from DynamoDB")
		mockClient.AssertExpectations(t)
	})
}

func TestUpdateTransactionStatus(t *testing.T) {
	newTx := func() *models.Transaction {
		return &models.Transaction{Id: "tx-1", ItemId: "item-1", RequestorId: "user-2", Status: models.PENDING, UpdatedAt: time.Now()}
	}

	t.Run("Non Terminal Uses Single Update", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			from := in.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberS)
			to := in.ExpressionAttributeValues[":to"].(*types.AttributeValueMemberS)
			return *in.TableName == "transactions" && from.Value == "PENDING" && to.Value == "APPROVED"
		})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

		tx := newTx()
		err := store.UpdateTransactionStatus(context.Background(), tx, models.PENDING, models.APPROVED)

		assert.NoError(t, err)
		assert.Equal(t, models.APPROVED, tx.Status)
		mockClient.AssertExpectations(t)
	})

	t.Run("Stale Status", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		storedAV, _ := attributevalue.MarshalMap(models.Transaction{Id: "tx-1", Status: models.CANCELLED})
		mockClient.On("UpdateItem", mock.Anything, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{Item: storedAV}).Once()

		err := store.UpdateTransactionStatus(context.Background(), newTx(), models.PENDING, models.APPROVED)

		assert.ErrorIs(t, err, storage.ErrInvalidStateTransition)
		mockClient.AssertExpectations(t)
	})

	t.Run("Missing Transaction", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("UpdateItem", mock.Anything, mock.Anything).
			Return(nil, &types.ConditionalCheckFailedException{}).Once()

		err := store.UpdateTransactionStatus(context.Background(), newTx(), models.PENDING, models.APPROVED)

		assert.ErrorIs(t, err, storage.ErrNotFound)
		mockClient.AssertExpectations(t)
	})

	t.Run("Terminal Releases Slot", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			return len(in.TransactItems) == 2 &&
				*in.TransactItems[1].Update.TableName == "items" &&
				*in.TransactItems[1].Update.UpdateExpression == "ADD open_transactions :dec"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		tx := newTx()
		err := store.UpdateTransactionStatus(context.Background(), tx, models.PENDING, models.CANCELLED)

		assert.NoError(t, err)
		assert.Equal(t, models.CANCELLED, tx.Status)
		mockClient.AssertExpectations(t)
	})

	t.Run("Terminal With Drifted Counter Falls Back", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, cancelled("None", conditionalCheckFailed)).Once()
		mockClient.On("UpdateItem", mock.Anything, mock.AnythingOfType("*dynamodb.UpdateItemInput")).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

		tx := newTx()
		err := store.UpdateTransactionStatus(context.Background(), tx, models.PENDING, models.CANCELLED)

		assert.NoError(t, err)
		assert.Equal(t, models.CANCELLED, tx.Status)
		mockClient.AssertExpectations(t)
	})

	t.Run("Terminal With Stale Status", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		storedAV, _ := attributevalue.MarshalMap(models.Transaction{Id: "tx-1", Status: models.COMPLETED})
		txErr := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String(conditionalCheckFailed), Item: storedAV},
			{Code: aws.String("None")},
		}}
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, txErr).Once()

		err := store.UpdateTransactionStatus(context.Background(), newTx(), models.TRANSFERRED, models.CANCELLED)

		assert.ErrorIs(t, err, storage.ErrInvalidStateTransition)
		mockClient.AssertExpectations(t)
	})
}

func TestCompleteTransaction(t *testing.T) {
	tx := &models.Transaction{Id: "tx-1", ItemId: "item-1", RequestorId: "user-2", Status: models.TRANSFERRED, UpdatedAt: time.Now()}
	loc := models.Location{Lat: 52.52, Lng: 13.405}

	t.Run("Hands Over To Borrower", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		holder := "user-2"
		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			itemUpdate := in.TransactItems[1].Update
			holderAV, ok := itemUpdate.ExpressionAttributeValues[":holder"].(*types.AttributeValueMemberS)
			return ok && holderAV.Value == "user-2" &&
				*itemUpdate.UpdateExpression == "SET #location = :location, geohash = :geohash, updated_at = :now, holder_id = :holder ADD open_transactions :dec"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		txCopy := *tx
		err := store.CompleteTransaction(context.Background(), &txCopy, models.ItemHandover{HolderId: &holder, Location: loc, Geohash: "u33dc0cpke"})

		assert.NoError(t, err)
		assert.Equal(t, models.COMPLETED, txCopy.Status)
		mockClient.AssertExpectations(t)
	})

	t.Run("Return To Owner Removes Holder", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		mockClient.On("TransactWriteItems", mock.Anything, mock.MatchedBy(func(in *dynamodb.TransactWriteItemsInput) bool {
			expr := *in.TransactItems[1].Update.UpdateExpression
			return expr == "SET #location = :location, geohash = :geohash, updated_at = :now ADD open_transactions :dec REMOVE holder_id"
		})).Return(&dynamodb.TransactWriteItemsOutput{}, nil).Once()

		txCopy := *tx
		err := store.CompleteTransaction(context.Background(), &txCopy, models.ItemHandover{Location: loc, Geohash: "u33dc0cpke"})

		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Not Transferred", func(t *testing.T) {
		mockClient := new(mocks.DynamoDBAPI)
		store := newTestStore(mockClient)

		storedAV, _ := attributevalue.MarshalMap(models.Transaction{Id: "tx-1", Status: models.APPROVED})
		txErr := &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String(conditionalCheckFailed), Item: storedAV},
			{Code: aws.String("None")},
		}}
		mockClient.On("TransactWriteItems", mock.Anything, mock.Anything).Return(nil, txErr).Once()

		txCopy := *tx
		err := store.CompleteTransaction(context.Background(), &txCopy, models.ItemHandover{Location: loc})

		assert.ErrorIs(t, err, storage.ErrInvalidStateTransition)
		assert.Equal(t, models.TRANSFERRED, txCopy.Status)
		mockClient.AssertExpectations(t)
	})
}

func TestListTransactionsByItem(t *testing.T) {
	mockClient := new(mocks.DynamoDBAPI)
	store := newTestStore(mockClient)

	older := models.Transaction{Id: "tx-1", ItemId: "item-1", CreatedAt: time.Now().Add(-time.Hour)}
	newer := models.Transaction{Id: "tx-2", ItemId: "item-1", CreatedAt: time.Now()}
	newerAV, _ := attributevalue.MarshalMap(newer)
	olderAV, _ := attributevalue.MarshalMap(older)

	// Two pages, returned newest first.
	mockClient.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{
		Items:            []map[string]types.AttributeValue{newerAV},
		LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "tx-2"}},
	}, nil).Once()
	mockClient.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return in.ExclusiveStartKey != nil
	}), mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{olderAV}}, nil).Once()

	txs, err := store.ListTransactionsByItem(context.Background(), "item-1")

	assert.NoError(t, err)
	if assert.Len(t, txs, 2) {
		assert.Equal(t, "tx-1", txs[0].Id)
		assert.Equal(t, "tx-2", txs[1].Id)
	}
	mockClient.AssertExpectations(t)
}
