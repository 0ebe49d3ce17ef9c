package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
)

const (
	// maxBatchWrite is DynamoDB's per-request limit for BatchWriteItem.
	maxBatchWrite = 25

	maxUnprocessedRetries = 5
)

// PutCacheEntries upserts entries with BatchWriteItem.
func (s *Store) PutCacheEntries(ctx context.Context, entries []models.ExchangeCacheEntry) error {
	requests := make([]types.WriteRequest, 0, len(entries))
	for i := range entries {
		entryAV, err := attributevalue.MarshalMap(entries[i])
		if err != nil {
			return fmt.Errorf("failed to marshal cache entry: %w", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: entryAV}})
	}
	if err := s.batchWrite(ctx, s.ExchangeCacheTableName, requests); err != nil {
		return fmt.Errorf("failed to put cache entries: %w", err)
	}
	return nil
}

// DeleteCacheEntries removes items from an exchange point's cache.
func (s *Store) DeleteCacheEntries(ctx context.Context, exchangePointID string, itemIDs []string) error {
	requests := make([]types.WriteRequest, 0, len(itemIDs))
	for _, id := range dedupe(itemIDs) {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{
				"exchange_point_id": &types.AttributeValueMemberS{Value: exchangePointID},
				"item_id":           &types.AttributeValueMemberS{Value: id},
			},
		}})
	}
	if err := s.batchWrite(ctx, s.ExchangeCacheTableName, requests); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

// ListCacheEntries retrieves every entry cached for an exchange point.
func (s *Store) ListCacheEntries(ctx context.Context, exchangePointID string) ([]models.ExchangeCacheEntry, error) {
	raw, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ExchangeCacheTableName),
		KeyConditionExpression: aws.String("exchange_point_id = :ep"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ep": &types.AttributeValueMemberS{Value: exchangePointID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query cache entries: %w", err)
	}
	var entries []models.ExchangeCacheEntry
	if err := attributevalue.UnmarshalListOfMaps(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entries: %w", err)
	}
	return entries, nil
}

// batchWrite sends requests in groups of 25 and resubmits unprocessed items.
func (s *Store) batchWrite(ctx context.Context, table string, requests []types.WriteRequest) error {
	for _, chunk := range storage.Chunk(requests, maxBatchWrite) {
		pending := map[string][]types.WriteRequest{table: chunk}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt == maxUnprocessedRetries {
				return fmt.Errorf("%d writes still unprocessed after %d attempts", len(pending[table]), attempt)
			}
			result, err := s.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			pending = result.UnprocessedItems
		}
	}
	return nil
}
