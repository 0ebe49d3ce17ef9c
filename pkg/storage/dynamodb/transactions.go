package dynamodb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
)

const (
	txItemIndex      = "item_id-index"
	txRequestorIndex = "requestor_id-index"
)

// CreateTransaction atomically reserves one of the item's open slots and creates
// the transaction record.
func (s *Store) CreateTransaction(ctx context.Context, tx *models.Transaction, maxOpen int) error {
	txAV, err := attributevalue.MarshalMap(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				// Operation 1: Take an open slot on the item.
				Update: &types.Update{
					TableName:           aws.String(s.ItemsTableName),
					Key:                 stringKey("id", tx.ItemId),
					UpdateExpression:    aws.String("SET open_transactions = if_not_exists(open_transactions, :zero) + :one"),
					ConditionExpression: aws.String("attribute_exists(id) AND (attribute_not_exists(open_transactions) OR open_transactions < :max)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":zero": &types.AttributeValueMemberN{Value: "0"},
						":one":  &types.AttributeValueMemberN{Value: "1"},
						":max":  &types.AttributeValueMemberN{Value: strconv.Itoa(maxOpen)},
					},
					ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
				},
			},
			{
				// Operation 2: Create the new transaction record.
				Put: &types.Put{
					TableName:           aws.String(s.TransactionsTableName),
					Item:                txAV,
					ConditionExpression: aws.String("attribute_not_exists(id)"),
				},
			},
		},
	}

	_, err = s.Client.TransactWriteItems(ctx, input)
	if err != nil {
		if reasons, ok := cancellationReasons(err); ok {
			switch {
			case failedCondition(reasons, 0) && reasons[0].Item == nil:
				return fmt.Errorf("item with ID %s: %w", tx.ItemId, storage.ErrNotFound)
			case failedCondition(reasons, 0):
				return storage.ErrCapacityExceeded
			case failedCondition(reasons, 1):
				return fmt.Errorf("transaction %s already exists: %w", tx.Id, storage.ErrConflict)
			}
		}
		return fmt.Errorf("failed to execute transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction from DynamoDB by its ID.
func (s *Store) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.TransactionsTableName),
		Key:       stringKey("id", txID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction from DynamoDB: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("transaction with ID %s: %w", txID, storage.ErrNotFound)
	}

	var tx models.Transaction
	if err := attributevalue.UnmarshalMap(result.Item, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// ListTransactionsByItem queries the item index.
func (s *Store) ListTransactionsByItem(ctx context.Context, itemID string) ([]models.Transaction, error) {
	txs, err := s.queryTransactions(ctx, txItemIndex, "item_id", itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by item: %w", err)
	}
	return txs, nil
}

// ListTransactionsByRequestor queries the requestor index.
func (s *Store) ListTransactionsByRequestor(ctx context.Context, requestorID string) ([]models.Transaction, error) {
	txs, err := s.queryTransactions(ctx, txRequestorIndex, "requestor_id", requestorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions by requestor: %w", err)
	}
	return txs, nil
}

// UpdateTransactionStatus moves a transaction between statuses with a condition on
// the current one. Terminal targets release the item's open slot in the same write.
func (s *Store) UpdateTransactionStatus(ctx context.Context, tx *models.Transaction, from, to models.TransactionStatus) error {
	update := s.statusUpdate(tx, from, to)
	if !to.IsTerminal() {
		if err := s.applyStatusUpdate(ctx, tx.Id, update); err != nil {
			return err
		}
		tx.Status = to
		return nil
	}

	release := &types.Update{
		TableName:           aws.String(s.ItemsTableName),
		Key:                 stringKey("id", tx.ItemId),
		UpdateExpression:    aws.String("ADD open_transactions :dec"),
		ConditionExpression: aws.String("open_transactions > :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":dec":  &types.AttributeValueMemberN{Value: "-1"},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	}
	_, err := s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Update: update}, {Update: release}},
	})
	if err != nil {
		reasons, ok := cancellationReasons(err)
		if !ok {
			return fmt.Errorf("failed to update transaction status: %w", err)
		}
		switch {
		case failedCondition(reasons, 0) && reasons[0].Item == nil:
			return fmt.Errorf("transaction with ID %s: %w", tx.Id, storage.ErrNotFound)
		case failedCondition(reasons, 0):
			return storage.ErrInvalidStateTransition
		case failedCondition(reasons, 1):
			// The item's slot count already sits at zero; finish the transition alone.
			slog.Warn("open transaction count already released", "transaction_id", tx.Id, "item_id", tx.ItemId)
			if err := s.applyStatusUpdate(ctx, tx.Id, update); err != nil {
				return err
			}
			tx.Status = to
			return nil
		}
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	tx.Status = to
	return nil
}

// CompleteTransaction moves tx from TRANSFERRED to COMPLETED and hands the item
// over to the requestor in one TransactWriteItems call.
func (s *Store) CompleteTransaction(ctx context.Context, tx *models.Transaction, handover models.ItemHandover) error {
	locationAV, err := attributevalue.Marshal(handover.Location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	values := map[string]types.AttributeValue{
		":location": locationAV,
		":geohash":  &types.AttributeValueMemberS{Value: handover.Geohash},
		":now":      &types.AttributeValueMemberS{Value: tx.UpdatedAt.UTC().Format(timeLayout)},
		":dec":      &types.AttributeValueMemberN{Value: "-1"},
	}
	expr := "SET #location = :location, geohash = :geohash, updated_at = :now"
	if handover.HolderId != nil {
		expr += ", holder_id = :holder"
		values[":holder"] = &types.AttributeValueMemberS{Value: *handover.HolderId}
	}
	expr += " ADD open_transactions :dec"
	if handover.HolderId == nil {
		// Back with the owner: drop off the sparse holder index.
		expr += " REMOVE holder_id"
	}

	input := &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: s.statusUpdate(tx, models.TRANSFERRED, models.COMPLETED)},
			{
				Update: &types.Update{
					TableName:                 aws.String(s.ItemsTableName),
					Key:                       stringKey("id", tx.ItemId),
					UpdateExpression:          aws.String(expr),
					ConditionExpression:       aws.String("attribute_exists(id)"),
					ExpressionAttributeNames:  map[string]string{"#location": "location"},
					ExpressionAttributeValues: values,
				},
			},
		},
	}

	if _, err := s.Client.TransactWriteItems(ctx, input); err != nil {
		if reasons, ok := cancellationReasons(err); ok {
			switch {
			case failedCondition(reasons, 0) && reasons[0].Item == nil:
				return fmt.Errorf("transaction with ID %s: %w", tx.Id, storage.ErrNotFound)
			case failedCondition(reasons, 0):
				return storage.ErrInvalidStateTransition
			case failedCondition(reasons, 1):
				return fmt.Errorf("item with ID %s: %w", tx.ItemId, storage.ErrNotFound)
			}
		}
		return fmt.Errorf("failed to complete transaction: %w", err)
	}
	tx.Status = models.COMPLETED
	return nil
}

// statusUpdate builds the conditional status write shared by every transition.
func (s *Store) statusUpdate(tx *models.Transaction, from, to models.TransactionStatus) *types.Update {
	return &types.Update{
		TableName:           aws.String(s.TransactionsTableName),
		Key:                 stringKey("id", tx.Id),
		UpdateExpression:    aws.String("SET #status = :to, updated_at = :now"),
		ConditionExpression: aws.String("#status = :from"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":from": &types.AttributeValueMemberS{Value: string(from)},
			":to":   &types.AttributeValueMemberS{Value: string(to)},
			":now":  &types.AttributeValueMemberS{Value: tx.UpdatedAt.UTC().Format(timeLayout)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
}

func (s *Store) applyStatusUpdate(ctx context.Context, txID string, update *types.Update) error {
	_, err := s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           update.TableName,
		Key:                                 update.Key,
		UpdateExpression:                    update.UpdateExpression,
		ConditionExpression:                 update.ConditionExpression,
		ExpressionAttributeNames:            update.ExpressionAttributeNames,
		ExpressionAttributeValues:           update.ExpressionAttributeValues,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if ccf, ok := isConditionFailed(err); ok {
			if ccf.Item == nil {
				return fmt.Errorf("transaction with ID %s: %w", txID, storage.ErrNotFound)
			}
			return storage.ErrInvalidStateTransition
		}
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

func (s *Store) queryTransactions(ctx context.Context, index, attr, value string) ([]models.Transaction, error) {
	raw, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.TransactionsTableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(attr + " = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		return nil, err
	}
	var txs []models.Transaction
	if err := attributevalue.UnmarshalListOfMaps(raw, &txs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transactions: %w", err)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs, nil
}
