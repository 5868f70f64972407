package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsDynamo "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
	"github.com/rbhatta/go-delivery-trackflow/internal/idempotency"
	"github.com/rbhatta/go-delivery-trackflow/internal/orders"
)

// --- mock implementation ---

type mockDynamo struct {
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{
			"idempotency": {},
			"orders":      {},
		},
	}
}

func pkOf(attrs map[string]types.AttributeValue) string {
	for _, name := range []string{"order_id", "idempotency_key"} {
		if v, ok := attrs[name]; ok {
			return v.(*types.AttributeValueMemberS).Value
		}
	}
	return ""
}

func (m *mockDynamo) PutItem(ctx context.Context, in *awsDynamo.PutItemInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.PutItemOutput, error) {
	m.tables[*in.TableName][pkOf(in.Item)] = in.Item
	return &awsDynamo.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *awsDynamo.GetItemInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.GetItemOutput, error) {
	item, ok := m.tables[*in.TableName][pkOf(in.Key)]
	if !ok {
		return &awsDynamo.GetItemOutput{}, nil
	}
	return &awsDynamo.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *awsDynamo.UpdateItemInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.UpdateItemOutput, error) {
	k := pkOf(in.Key)
	item, ok := m.tables[*in.TableName][k]
	if !ok {
		if in.ConditionExpression != nil {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item = map[string]types.AttributeValue{}
		for name, v := range in.Key {
			item[name] = v
		}
	}
	if in.ConditionExpression != nil && *in.ConditionExpression == "#s = :expected" {
		curr, ok := item["status"].(*types.AttributeValueMemberS)
		if !ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
		expected := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
		if curr.Value != expected {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	// apply the store update expressions attribute by attribute
	for placeholder, attr := range map[string]string{
		":new":  "status",
		":done": "status",
		":rb":   "response_body",
		":rs":   "response_status",
		":ua":   "updated_at",
	} {
		if v, ok := in.ExpressionAttributeValues[placeholder]; ok {
			item[attr] = v
		}
	}
	m.tables[*in.TableName][k] = item
	return &awsDynamo.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *awsDynamo.TransactWriteItemsInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.TransactWriteItemsOutput, error) {
	return &awsDynamo.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, in *awsDynamo.ScanInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.ScanOutput, error) {
	return &awsDynamo.ScanOutput{}, nil
}

// --- test helpers ---

func newTestProcessor(mock *mockDynamo) *Processor {
	clients := &aws.AWSClients{DynamoDB: mock}
	return NewProcessor(clients, "idempotency", "orders")
}

func seedOrder(t *testing.T, mock *mockDynamo, orderID, status string) {
	t.Helper()
	item, err := attributevalue.MarshalMap(orders.Order{
		OrderID:   orderID,
		TenantID:  "tenant-a",
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal order: %v", err)
	}
	mock.tables["orders"][orderID] = item
}

func orderStatus(t *testing.T, mock *mockDynamo, orderID string) string {
	t.Helper()
	item, ok := mock.tables["orders"][orderID]
	if !ok {
		t.Fatalf("order %s not in mock", orderID)
	}
	return item["status"].(*types.AttributeValueMemberS).Value
}

func sqsEvent(t *testing.T, ev deliveries.StageEvent) events.SQSEvent {
	t.Helper()
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return events.SQSEvent{Records: []events.SQSMessage{{Body: string(body)}}}
}

// --- test cases ---

func TestAssigned_MovesPendingToProcessing(t *testing.T) {
	mock := newMockDynamo()
	seedOrder(t, mock, "o1", orders.StatusPending)

	rec, _ := attributevalue.MarshalMap(idempotency.IdempotencyRecord{
		IdempotencyKey: "tenant-a/k1",
		TenantID:       "tenant-a",
		Status:         idempotency.StatusInProgress,
		DeliveryID:     "dl-1",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	})
	mock.tables["idempotency"]["tenant-a/k1"] = rec

	p := newTestProcessor(mock)
	err := p.Handle(context.Background(), sqsEvent(t, deliveries.StageEvent{
		DeliveryID:     "dl-1",
		OrderID:        "o1",
		TenantID:       "tenant-a",
		Stage:          deliveries.StageAssigned,
		PartnerID:      "p-1",
		IdempotencyKey: "k1",
	}))
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}

	if got := orderStatus(t, mock, "o1"); got != orders.StatusProcessing {
		t.Fatalf("order status = %s, want processing", got)
	}
	idemItem := mock.tables["idempotency"]["tenant-a/k1"]
	if got := idemItem["status"].(*types.AttributeValueMemberS).Value; got != idempotency.StatusDone {
		t.Fatalf("idempotency status = %s, want DONE", got)
	}
}

func TestAssigned_ReplayIsNoOp(t *testing.T) {
	mock := newMockDynamo()
	seedOrder(t, mock, "o1", orders.StatusConfirmed)

	p := newTestProcessor(mock)
	err := p.Handle(context.Background(), sqsEvent(t, deliveries.StageEvent{
		DeliveryID: "dl-1",
		OrderID:    "o1",
		TenantID:   "tenant-a",
		Stage:      deliveries.StageAssigned,
	}))
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if got := orderStatus(t, mock, "o1"); got != orders.StatusConfirmed {
		t.Fatalf("order status = %s, want confirmed (untouched)", got)
	}
}

func TestFulfillmentSync(t *testing.T) {
	cases := []struct {
		stage deliveries.StageType
		want  string
	}{
		{deliveries.StageInTransit, orders.StatusShipped},
		{deliveries.StageDelivered, orders.StatusDelivered},
		{deliveries.StageCancelled, orders.StatusCancelled},
		{deliveries.StageFailed, orders.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(string(tc.stage), func(t *testing.T) {
			mock := newMockDynamo()
			seedOrder(t, mock, "o1", orders.StatusProcessing)

			p := newTestProcessor(mock)
			err := p.Handle(context.Background(), sqsEvent(t, deliveries.StageEvent{
				DeliveryID: "dl-1",
				OrderID:    "o1",
				TenantID:   "tenant-a",
				Stage:      tc.stage,
			}))
			if err != nil {
				t.Fatalf("unexpected worker error: %v", err)
			}
			if got := orderStatus(t, mock, "o1"); got != tc.want {
				t.Fatalf("order status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAtPickup_DoesNotMoveOrder(t *testing.T) {
	mock := newMockDynamo()
	seedOrder(t, mock, "o1", orders.StatusProcessing)

	p := newTestProcessor(mock)
	err := p.Handle(context.Background(), sqsEvent(t, deliveries.StageEvent{
		DeliveryID: "dl-1",
		OrderID:    "o1",
		TenantID:   "tenant-a",
		Stage:      deliveries.StageAtPickup,
	}))
	if err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if got := orderStatus(t, mock, "o1"); got != orders.StatusProcessing {
		t.Fatalf("order status = %s, want processing", got)
	}
}

func TestMissingOrder_FailsForRetry(t *testing.T) {
	mock := newMockDynamo()
	p := newTestProcessor(mock)

	err := p.Handle(context.Background(), sqsEvent(t, deliveries.StageEvent{
		DeliveryID: "dl-1",
		OrderID:    "missing",
		TenantID:   "tenant-a",
		Stage:      deliveries.StageDelivered,
	}))
	if err == nil {
		t.Fatal("expected error for missing order")
	}
}

func TestInvalidBody_FailsForRetry(t *testing.T) {
	mock := newMockDynamo()
	p := newTestProcessor(mock)

	ev := events.SQSEvent{Records: []events.SQSMessage{{Body: "not json{"}}}
	if err := p.Handle(context.Background(), ev); err == nil {
		t.Fatal("expected error for invalid body")
	}
}

func TestUnknownStage_Dropped(t *testing.T) {
	mock := newMockDynamo()
	seedOrder(t, mock, "o1", orders.StatusProcessing)

	p := newTestProcessor(mock)
	err := p.Handle(context.Background(), sqsEvent(t, deliveries.StageEvent{
		DeliveryID: "dl-1",
		OrderID:    "o1",
		TenantID:   "tenant-a",
		Stage:      "teleported",
	}))
	if err != nil {
		t.Fatalf("unknown stage should be dropped, got %v", err)
	}
	if got := orderStatus(t, mock, "o1"); got != orders.StatusProcessing {
		t.Fatalf("order status = %s, want processing (untouched)", got)
	}
}
