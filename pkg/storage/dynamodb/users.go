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
	"github.com/chris/community-lending/pkg/geo"
	"github.com/chris/community-lending/pkg/models"
	"github.com/chris/community-lending/pkg/storage"
)

const (
	userGeoIndex    = "geo-index"
	userLedgerIndex = "ledger_state-index"
	userRoleIndex   = "role-index"
)

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.Geohash != "" {
		user.GeoPK = models.UserGeoPartition
	}
	userAV, err := attributevalue.MarshalMap(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.UsersTableName),
		Item:                userAV,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if _, ok := isConditionFailed(err); ok {
			return fmt.Errorf("user %s already exists: %w", user.Id, storage.ErrConflict)
		}
		return fmt.Errorf("failed to create user in DynamoDB: %w", err)
	}
	return nil
}

// GetUser retrieves a user from DynamoDB by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.UsersTableName),
		Key:       stringKey("id", userID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user from DynamoDB: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("user with ID %s: %w", userID, storage.ErrNotFound)
	}

	var user models.User
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

// UpdateUserProfile overwrites name, email and role.
func (s *Store) UpdateUserProfile(ctx context.Context, user *models.User) error {
	return s.updateUser(ctx, user.Id, &dynamodb.UpdateItemInput{
		UpdateExpression: aws.String("SET #name = :name, email = :email, #role = :role, updated_at = :now"),
		ExpressionAttributeNames: map[string]string{
			"#name": "name",
			"#role": "role",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":  &types.AttributeValueMemberS{Value: user.Name},
			":email": &types.AttributeValueMemberS{Value: user.Email},
			":role":  &types.AttributeValueMemberS{Value: string(user.Role)},
		},
	})
}

// UpdateUserLocation stores the location and puts the user on the geo index.
func (s *Store) UpdateUserLocation(ctx context.Context, userID string, loc models.Location, geohash string) error {
	locationAV, err := attributevalue.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	return s.updateUser(ctx, userID, &dynamodb.UpdateItemInput{
		UpdateExpression: aws.String("SET #location = :location, geohash = :geohash, geo_pk = :pk, updated_at = :now"),
		ExpressionAttributeNames: map[string]string{
			"#location": "location",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":location": locationAV,
			":geohash":  &types.AttributeValueMemberS{Value: geohash},
			":pk":       &types.AttributeValueMemberS{Value: models.UserGeoPartition},
		},
	})
}

// SetExchangePoints replaces the nominated exchange point list.
func (s *Store) SetExchangePoints(ctx context.Context, userID string, exchangePointIDs []string) error {
	if len(exchangePointIDs) == 0 {
		return s.updateUser(ctx, userID, &dynamodb.UpdateItemInput{
			UpdateExpression:          aws.String("SET updated_at = :now REMOVE exchange_points"),
			ExpressionAttributeValues: map[string]types.AttributeValue{},
		})
	}
	idsAV, err := attributevalue.Marshal(exchangePointIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange points: %w", err)
	}
	return s.updateUser(ctx, userID, &dynamodb.UpdateItemInput{
		UpdateExpression: aws.String("SET exchange_points = :ids, updated_at = :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ids": idsAV,
		},
	})
}

// QueryUsersByGeohash runs one BETWEEN query on the users geo index.
func (s *Store) QueryUsersByGeohash(ctx context.Context, r geo.Range) ([]models.User, error) {
	raw, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.UsersTableName),
		IndexName:              aws.String(userGeoIndex),
		KeyConditionExpression: aws.String("geo_pk = :pk AND geohash BETWEEN :low AND :high"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: models.UserGeoPartition},
			":low":  &types.AttributeValueMemberS{Value: r.Low},
			":high": &types.AttributeValueMemberS{Value: r.High},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query users by geohash: %w", err)
	}
	var users []models.User
	if err := attributevalue.UnmarshalListOfMaps(raw, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	return users, nil
}

// ListUsersByRole queries the role index, newest first.
func (s *Store) ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	raw, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.UsersTableName),
		IndexName:                aws.String(userRoleIndex),
		KeyConditionExpression:   aws.String("#role = :role"),
		ExpressionAttributeNames: map[string]string{"#role": "role"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":role": &types.AttributeValueMemberS{Value: string(role)},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query users by role: %w", err)
	}
	var users []models.User
	if err := attributevalue.UnmarshalListOfMaps(raw, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	return users, nil
}

// TransitionLedgerState is a conditional update on ledger_state. A takeover of an
// INITIALIZING ledger additionally requires the stored lease to have expired.
func (s *Store) TransitionLedgerState(ctx context.Context, userID string, from, to models.LedgerState, leaseUntil time.Time) error {
	now := timestamp()
	condition := "attribute_exists(id) AND "
	values := map[string]types.AttributeValue{
		":from":  &types.AttributeValueMemberS{Value: string(from)},
		":to":    &types.AttributeValueMemberS{Value: string(to)},
		":lease": unixAttr(leaseUntil),
		":now":   &types.AttributeValueMemberS{Value: now.Format(timeLayout)},
	}
	if from == models.LedgerUninitialized {
		// Users created before ledgers existed carry no ledger_state at all.
		condition += "(attribute_not_exists(ledger_state) OR ledger_state = :from)"
	} else {
		condition += "ledger_state = :from"
	}
	if from == models.LedgerInitializing && to == models.LedgerInitializing {
		condition += " AND ledger_lease_until < :epoch"
		values[":epoch"] = unixAttr(now)
	}

	_, err := s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.UsersTableName),
		Key:                                 stringKey("id", userID),
		UpdateExpression:                    aws.String("SET ledger_state = :to, ledger_lease_until = :lease, updated_at = :now"),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		if ccf, ok := isConditionFailed(err); ok {
			if ccf.Item == nil {
				return fmt.Errorf("user with ID %s: %w", userID, storage.ErrNotFound)
			}
			return fmt.Errorf("ledger of user %s is not %s: %w", userID, from, storage.ErrConditionFailed)
		}
		return fmt.Errorf("failed to transition ledger state: %w", err)
	}
	return nil
}

// ListStaleLedgers queries the sparse ledger_state index for expired leases.
func (s *Store) ListStaleLedgers(ctx context.Context, before time.Time) ([]models.User, error) {
	raw, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.UsersTableName),
		IndexName:              aws.String(userLedgerIndex),
		KeyConditionExpression: aws.String("ledger_state = :state AND ledger_lease_until < :before"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":state":  &types.AttributeValueMemberS{Value: string(models.LedgerInitializing)},
			":before": unixAttr(before),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query stale ledgers: %w", err)
	}
	var users []models.User
	if err := attributevalue.UnmarshalListOfMaps(raw, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal users: %w", err)
	}
	return users, nil
}

// updateUser fills in the table, key, existence condition and :now.
func (s *Store) updateUser(ctx context.Context, userID string, input *dynamodb.UpdateItemInput) error {
	input.TableName = aws.String(s.UsersTableName)
	input.Key = stringKey("id", userID)
	input.ConditionExpression = aws.String("attribute_exists(id)")
	input.ExpressionAttributeValues[":now"] = &types.AttributeValueMemberS{Value: timestamp().Format(timeLayout)}

	if _, err := s.Client.UpdateItem(ctx, input); err != nil {
		if _, ok := isConditionFailed(err); ok {
			return fmt.Errorf("user with ID %s: %w", userID, storage.ErrNotFound)
		}
		return fmt.Errorf("failed to update user in DynamoDB: %w", err)
	}
	return nil
}

// unixAttr encodes t the way the unixtime struct tag does.
func unixAttr(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}
