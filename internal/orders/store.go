package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
)

// ErrStatusMismatch means the conditional status transition lost to a
// concurrent writer or the order was not in the expected status.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put writes an order record. Orders originate in an upstream service; this
// exists for seeding and tests.
func (s *Store) Put(ctx context.Context, o Order) error {
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put order: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found or
// owned by another tenant.
func (s *Store) Get(ctx context.Context, tenantID, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	if o.TenantID != tenantID {
		return nil, nil
	}
	return &o, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns ErrStatusMismatch if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc()
	updateExpr := "SET #s = :new, updated_at = :ua"
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         &updateExpr,
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// SetStatus writes the status unconditionally. The worker uses it when
// syncing fulfillment state derived from terminal delivery stages, where
// the previous order status is not a precondition.
func (s *Store) SetStatus(ctx context.Context, orderID, newStatus string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new": &types.AttributeValueMemberS{Value: newStatus},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
