package dynamodb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
)

const (
	itemGeoIndex    = "geo-index"
	itemOwnerIndex  = "owner_id-index"
	itemHolderIndex = "holder_id-index"
	itemRecentIndex = "recent-index"
)

// CreateItem stores a new item record.
func (s *Store) CreateItem(ctx context.Context, item *models.Item) error {
	item.GeoPK = models.ItemGeoPartition
	itemAV, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.ItemsTableName),
		Item:                itemAV,
		ConditionExpression: aws.String("attribute_not_exists(id)"), // Prevent overwriting existing items.
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return fmt.Errorf("item %s already exists: %w", item.Id, storage.ErrConflict)
		}
		return fmt.Errorf("failed to create item in DynamoDB: %w", err)
	}
	return nil
}

// GetItem retrieves an item from DynamoDB by its ID.
func (s *Store) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.ItemsTableName),
		Key:       stringKey("id", itemID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item from DynamoDB: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("item with ID %s: %w", itemID, storage.ErrNotFound)
	}

	var item models.Item
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

// GetItemsByIDs reads items in chunks of storage.MaxItemsPerRead, retrying unprocessed keys.
func (s *Store) GetItemsByIDs(ctx context.Context, ids []string) ([]models.Item, error) {
	var items []models.Item
	for _, chunk := range storage.Chunk(dedupe(ids), storage.MaxItemsPerRead) {
		keys := make([]map[string]types.AttributeValue, 0, len(chunk))
		for _, id := range chunk {
			keys = append(keys, stringKey("id", id))
		}

		request := map[string]types.KeysAndAttributes{
			s.ItemsTableName: {Keys: keys},
		}
		for len(request) > 0 {
			result, err := s.Client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: request})
			if err != nil {
				return nil, fmt.Errorf("failed to batch get items: %w", err)
			}
			var page []models.Item
			if err := attributevalue.UnmarshalListOfMaps(result.Responses[s.ItemsTableName], &page); err != nil {
				return nil, fmt.Errorf("failed to unmarshal items: %w", err)
			}
			items = append(items, page...)
			request = result.UnprocessedKeys
		}
	}
	return items, nil
}

// ListItemsByOwner queries the owner index.
func (s *Store) ListItemsByOwner(ctx context.Context, ownerID string) ([]models.Item, error) {
	items, err := s.queryItems(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ItemsTableName),
		IndexName:              aws.String(itemOwnerIndex),
		KeyConditionExpression: aws.String("owner_id = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query items by owner: %w", err)
	}
	return items, nil
}

// ListItemsByHolder queries the sparse holder index.
func (s *Store) ListItemsByHolder(ctx context.Context, holderID string) ([]models.Item, error) {
	items, err := s.queryItems(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.ItemsTableName),
		IndexName:              aws.String(itemHolderIndex),
		KeyConditionExpression: aws.String("holder_id = :holder"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":holder": &types.AttributeValueMemberS{Value: holderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query items by holder: %w", err)
	}
	return items, nil
}

// QueryItemsByGeohash runs one BETWEEN query on the geo index, pushing the filter down.
func (s *Store) QueryItemsByGeohash(ctx context.Context, r geo.Range, filter models.ItemFilter) ([]models.Item, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.ItemsTableName),
		IndexName:              aws.String(itemGeoIndex),
		KeyConditionExpression: aws.String("geo_pk = :pk AND geohash BETWEEN :low AND :high"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: models.ItemGeoPartition},
			":low":  &types.AttributeValueMemberS{Value: r.Low},
			":high": &types.AttributeValueMemberS{Value: r.High},
		},
	}
	applyItemFilter(input, filter)

	items, err := s.queryItems(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query items by geohash: %w", err)
	}
	return items, nil
}

// ListRecentItems walks the created_at index newest first until limit matches are read.
func (s *Store) ListRecentItems(ctx context.Context, filter models.ItemFilter, limit int) ([]models.Item, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.ItemsTableName),
		IndexName:              aws.String(itemRecentIndex),
		KeyConditionExpression: aws.String("geo_pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: models.ItemGeoPartition},
		},
		ScanIndexForward: aws.Bool(false),
	}
	applyItemFilter(input, filter)

	var items []models.Item
	paginator := dynamodb.NewQueryPaginator(s.Client, input)
	for paginator.HasMorePages() && (limit <= 0 || len(items) < limit) {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query recent items: %w", err)
		}
		var batch []models.Item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items: %w", err)
		}
		items = append(items, batch...)
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// UpdateItemFields overwrites the caller-editable attributes without touching open_transactions.
func (s *Store) UpdateItemFields(ctx context.Context, item *models.Item) error {
	values := map[string]types.AttributeValue{
		":title":      &types.AttributeValueMemberS{Value: item.Title},
		":status":     &types.AttributeValueMemberS{Value: string(item.Status)},
		":updated_at": &types.AttributeValueMemberS{Value: item.UpdatedAt.UTC().Format(timeLayout)},
	}
	set := []string{"title = :title", "#status = :status", "updated_at = :updated_at"}
	var remove []string

	if item.Description != "" {
		set = append(set, "description = :description")
		values[":description"] = &types.AttributeValueMemberS{Value: item.Description}
	} else {
		remove = append(remove, "description")
	}
	if len(item.Categories) > 0 {
		categoriesAV, err := attributevalue.Marshal(item.Categories)
		if err != nil {
			return fmt.Errorf("failed to marshal categories: %w", err)
		}
		set = append(set, "categories = :categories")
		values[":categories"] = categoriesAV
	} else {
		remove = append(remove, "categories")
	}

	expr := "SET " + strings.Join(set, ", ")
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}

	_, err := s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.ItemsTableName),
		Key:                       stringKey("id", item.Id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return fmt.Errorf("item with ID %s: %w", item.Id, storage.ErrNotFound)
		}
		return fmt.Errorf("failed to update item in DynamoDB: %w", err)
	}
	return nil
}

// SetItemLocation moves an item.
func (s *Store) SetItemLocation(ctx context.Context, itemID string, loc models.Location, geohash string) error {
	locationAV, err := attributevalue.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.ItemsTableName),
		Key:                 stringKey("id", itemID),
		UpdateExpression:    aws.String("SET #location = :location, geohash = :geohash, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#location": "location",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":location": locationAV,
			":geohash":  &types.AttributeValueMemberS{Value: geohash},
			":now":      &types.AttributeValueMemberS{Value: timestamp().Format(timeLayout)},
		},
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return fmt.Errorf("item with ID %s: %w", itemID, storage.ErrNotFound)
		}
		return fmt.Errorf("failed to set item location in DynamoDB: %w", err)
	}
	return nil
}

// DeleteItem removes an item unless it still has open transactions.
func (s *Store) DeleteItem(ctx context.Context, itemID string) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.ItemsTableName),
		Key:                 stringKey("id", itemID),
		ConditionExpression: aws.String("attribute_exists(id) AND (attribute_not_exists(open_transactions) OR open_transactions <= :zero)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if ccf, ok := isConditionFailed(err); ok {
			if ccf.Item == nil {
				return fmt.Errorf("item with ID %s: %w", itemID, storage.ErrNotFound)
			}
			return fmt.Errorf("item %s has open transactions: %w", itemID, storage.ErrConflict)
		}
		return fmt.Errorf("failed to delete item from DynamoDB: %w", err)
	}
	return nil
}

func (s *Store) queryItems(ctx context.Context, input *dynamodb.QueryInput) ([]models.Item, error) {
	raw, err := s.queryAll(ctx, input)
	if err != nil {
		return nil, err
	}
	var items []models.Item
	if err := attributevalue.UnmarshalListOfMaps(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items: %w", err)
	}
	return items, nil
}

// applyItemFilter translates an ItemFilter into a FilterExpression.
func applyItemFilter(input *dynamodb.QueryInput, filter models.ItemFilter) {
	var clauses []string
	if len(filter.Statuses) > 0 {
		names := make([]string, 0, len(filter.Statuses))
		for i, status := range filter.Statuses {
			name := fmt.Sprintf(":s%d", i)
			names = append(names, name)
			input.ExpressionAttributeValues[name] = &types.AttributeValueMemberS{Value: string(status)}
		}
		clauses = append(clauses, "#status IN ("+strings.Join(names, ", ")+")")
		if input.ExpressionAttributeNames == nil {
			input.ExpressionAttributeNames = map[string]string{}
		}
		input.ExpressionAttributeNames["#status"] = "status"
	}
	if len(filter.Categories) > 0 {
		parts := make([]string, 0, len(filter.Categories))
		for i, category := range filter.Categories {
			name := fmt.Sprintf(":c%d", i)
			parts = append(parts, "contains(categories, "+name+")")
			input.ExpressionAttributeValues[name] = &types.AttributeValueMemberS{Value: category}
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	if len(clauses) > 0 {
		input.FilterExpression = aws.String(strings.Join(clauses, " AND "))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
