package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
)

// Store encapsulates idempotency operations against DynamoDB. It protects
// POST /deliveries against duplicate submissions: the first request claims
// the key, duplicates replay the stored response.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// ErrConditionFailed indicates a conditional write failed (e.g., attribute_not_exists)
var ErrConditionFailed = errors.New("conditional check failed")

// recordKey scopes an idempotency key to its tenant. The same raw key
// used by two tenants names two independent records, so replay can never
// cross a tenant boundary.
func recordKey(tenantID, key string) string {
	return tenantID + "/" + key
}

// CreateIfNotExists creates an idempotency record with status IN_PROGRESS if the key does not exist.
// Returns (created=true, nil) if successfully created.
// Returns (created=false, nil) if the record already exists (caller should Get to inspect).
// Returns (created=false, err) on other errors.
func (s *Store) CreateIfNotExists(ctx context.Context, tenantID, key, deliveryID string) (bool, error) {
	now := s.nowFunc()
	rec := IdempotencyRecord{
		IdempotencyKey: recordKey(tenantID, key),
		TenantID:       tenantID,
		Status:         StatusInProgress,
		DeliveryID:     deliveryID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
		// Only create when attribute_not_exists(idempotency_key)
		ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		// detect conditional check failure
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}

	return true, nil
}

// Get retrieves a tenant's idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, tenantID, key string) (*IdempotencyRecord, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: recordKey(tenantID, key)},
		},
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores a small response body & status
// for replay to duplicate submissions.
func (s *Store) MarkDone(ctx context.Context, tenantID, key, responseBody string, responseStatus int) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: recordKey(tenantID, key)},
		},
		UpdateExpression: awsString("SET #s = :done, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":rb":   &types.AttributeValueMemberS{Value: responseBody},
			":rs":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", responseStatus)},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed marks the idempotency record as FAILED and optionally stores a note.
func (s *Store) MarkFailed(ctx context.Context, tenantID, key, note string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: recordKey(tenantID, key)},
		},
		UpdateExpression: awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

// Helper
func awsString(s string) *string { return &s }
