package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
)

const (
	counterCountIndex   = "scope-count-index"
	counterRecencyIndex = "scope-last_updated-index"

	// maxCounterAttempts bounds how often a chunk is resubmitted after flipping
	// decrements between update and delete form.
	maxCounterAttempts = 5
)

// CounterBatch commits coalesced counter operations with TransactWriteItems,
// one transaction per chunk.
type CounterBatch struct {
	storage.CounterOps
	store *Store
}

var _ storage.CounterBatch = (*CounterBatch)(nil)

// NewCounterBatch starts an empty batch.
func (s *Store) NewCounterBatch() storage.CounterBatch {
	return &CounterBatch{store: s}
}

// counterWrite is one pending op. A decrement starts as a guarded ADD and is
// flipped to a guarded delete when the row turns out to be too small.
type counterWrite struct {
	op       storage.CounterOp
	asDelete bool
}

// Commit writes the batch chunk by chunk.
func (b *CounterBatch) Commit(ctx context.Context) error {
	ops := b.Ops()
	committed := 0
	for _, chunk := range storage.ChunkOps(ops, b.store.batchSize()) {
		if err := b.store.commitCounterChunk(ctx, chunk); err != nil {
			if committed > 0 {
				return &storage.PartialBatchError{Committed: committed, Total: len(ops), Err: err}
			}
			return fmt.Errorf("failed to commit counter batch: %w", err)
		}
		committed += len(chunk)
	}
	b.Reset()
	return nil
}

func (s *Store) commitCounterChunk(ctx context.Context, chunk []storage.CounterOp) error {
	writes := make([]counterWrite, len(chunk))
	for i, op := range chunk {
		writes[i] = counterWrite{op: op}
	}

	var lastErr error
	for attempt := 0; attempt < maxCounterAttempts; attempt++ {
		now := timestamp()
		items := make([]types.TransactWriteItem, 0, len(writes))
		for _, w := range writes {
			item, err := s.counterWriteItem(w, now)
			if err != nil {
				return err
			}
			items = append(items, item)
		}

		_, err := s.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err == nil {
			return nil
		}
		lastErr = err

		reasons, ok := cancellationReasons(err)
		if !ok {
			return fmt.Errorf("failed to write counters: %w", err)
		}
		flipped := false
		for i := range writes {
			if failedCondition(reasons, i) && writes[i].op.Delta < 0 && !writes[i].op.Overwrite {
				writes[i].asDelete = !writes[i].asDelete
				flipped = true
			}
		}
		if !flipped {
			return fmt.Errorf("failed to write counters: %w", err)
		}
	}
	return fmt.Errorf("counter chunk did not settle after %d attempts: %w", maxCounterAttempts, lastErr)
}

func (s *Store) counterWriteItem(w counterWrite, now time.Time) (types.TransactWriteItem, error) {
	op := w.op
	key := counterKeyAttr(op.Scope, op.Category)
	table := aws.String(s.CountersTableName)
	names := map[string]string{"#count": "count"}

	switch {
	case op.Overwrite && op.Value > 0:
		row, err := attributevalue.MarshalMap(models.CategoryCounter{
			Scope:       op.Scope,
			Category:    op.Category,
			Count:       op.Value,
			LastUpdated: now,
		})
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("failed to marshal counter: %w", err)
		}
		return types.TransactWriteItem{Put: &types.Put{TableName: table, Item: row}}, nil

	case op.Overwrite:
		return types.TransactWriteItem{Delete: &types.Delete{TableName: table, Key: key}}, nil

	case op.Delta > 0:
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                table,
			Key:                      key,
			UpdateExpression:         aws.String("SET last_updated = :now ADD #count :delta"),
			ExpressionAttributeNames: names,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now":   unixAttr(now),
				":delta": numberAttr(op.Delta),
			},
		}}, nil

	case w.asDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                table,
			Key:                      key,
			ConditionExpression:      aws.String("attribute_not_exists(#count) OR #count <= :amount"),
			ExpressionAttributeNames: names,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":amount": numberAttr(op.Amount()),
			},
		}}, nil

	default:
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                table,
			Key:                      key,
			UpdateExpression:         aws.String("SET last_updated = :now ADD #count :neg"),
			ConditionExpression:      aws.String("#count > :amount"),
			ExpressionAttributeNames: names,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now":    unixAttr(now),
				":neg":    numberAttr(op.Delta),
				":amount": numberAttr(op.Amount()),
			},
		}}, nil
	}
}

// GetCounter retrieves a single counter row.
func (s *Store) GetCounter(ctx context.Context, scope models.Scope, category string) (*models.CategoryCounter, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.CountersTableName),
		Key:       counterKeyAttr(scope, category),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get counter from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("counter %s/%s: %w", scope, category, storage.ErrNotFound)
	}

	var counter models.CategoryCounter
	if err := attributevalue.UnmarshalMap(result.Item, &counter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal counter: %w", err)
	}
	return &counter, nil
}

// ListCounters retrieves every counter of a scope.
func (s *Store) ListCounters(ctx context.Context, scope models.Scope) ([]models.CategoryCounter, error) {
	raw, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.CountersTableName),
		KeyConditionExpression: aws.String("#scope = :scope"),
		ExpressionAttributeNames: map[string]string{
			"#scope": "scope",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":scope": &types.AttributeValueMemberS{Value: string(scope)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	var counters []models.CategoryCounter
	if err := attributevalue.UnmarshalListOfMaps(raw, &counters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal counters: %w", err)
	}
	return counters, nil
}

// TopCounters reads one page of a local secondary index in descending order.
func (s *Store) TopCounters(ctx context.Context, scope models.Scope, order storage.CounterOrder, limit int32) ([]models.CategoryCounter, error) {
	index := counterCountIndex
	if order == storage.OrderByRecency {
		index = counterRecencyIndex
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.CountersTableName),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#scope = :scope"),
		ScanIndexForward:       aws.Bool(false),
		ExpressionAttributeNames: map[string]string{
			"#scope": "scope",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":scope": &types.AttributeValueMemberS{Value: string(scope)},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query top counters: %w", err)
	}
	var counters []models.CategoryCounter
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &counters); err != nil {
		return nil, fmt.Errorf("failed to unmarshal counters: %w", err)
	}
	return counters, nil
}

func counterKeyAttr(scope models.Scope, category string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"scope":    &types.AttributeValueMemberS{Value: string(scope)},
		"category": &types.AttributeValueMemberS{Value: category},
	}
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
