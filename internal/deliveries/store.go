package deliveries

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
)

// Sentinel errors surfaced by the store.
var (
	// ErrOrderAlreadyAssigned means a delivery already exists for the order;
	// a delivery is created exactly once per order.
	ErrOrderAlreadyAssigned = errors.New("delivery already exists for order")
	// ErrStageConflict means the compare-and-swap on current_stage lost to a
	// concurrent append.
	ErrStageConflict = errors.New("current stage changed concurrently")
	// ErrInvalidTransition means the requested stage is not reachable from
	// the delivery's current stage.
	ErrInvalidTransition = errors.New("invalid stage transition")
)

const defaultListLimit = 50

// Store encapsulates operations on the deliveries table plus the per-order
// lock table that enforces one delivery per order.
type Store struct {
	client     aws.DynamoDBAPI
	tableName  string
	locksTable string
	nowFunc    func() time.Time
	newID      func() string
}

// NewStore creates a deliveries Store. locksTable holds one record per
// order_id and backs the create-once guarantee.
func NewStore(client aws.DynamoDBAPI, tableName, locksTable string) *Store {
	return &Store{
		client:     client,
		tableName:  tableName,
		locksTable: locksTable,
		nowFunc:    time.Now,
		newID:      uuid.NewString,
	}
}

// orderLock is the per-order uniqueness record.
type orderLock struct {
	OrderID    string    `dynamodbav:"order_id"` // PK
	TenantID   string    `dynamodbav:"tenant_id"`
	DeliveryID string    `dynamodbav:"delivery_id"`
	CreatedAt  time.Time `dynamodbav:"created_at"`
}

// Create atomically writes the order lock (with attribute_not_exists) and
// the delivery record via TransactWriteItems. The delivery starts with a
// single assigned stage and a generated pickup point for the partner.
func (s *Store) Create(ctx context.Context, tenantID, orderID, partnerID string, estimated *time.Time) (*Delivery, error) {
	now := s.nowFunc().UTC()
	d := &Delivery{
		ID:       s.newID(),
		TenantID: tenantID,
		OrderID:  orderID,
		PickupPoints: []PickupPoint{
			{PartnerID: partnerID, Timestamp: now},
		},
		Stages: []Stage{
			{PartnerID: partnerID, Stage: StageAssigned, Timestamp: now},
		},
		CurrentStage:          StageAssigned,
		EstimatedDeliveryTime: estimated,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	lockMap, err := attributevalue.MarshalMap(orderLock{
		OrderID:    orderID,
		TenantID:   tenantID,
		DeliveryID: d.ID,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order lock: %w", err)
	}

	deliveryMap, err := attributevalue.MarshalMap(d)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery: %w", err)
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &s.locksTable,
					Item:                lockMap,
					ConditionExpression: awsString("attribute_not_exists(order_id)"),
				},
			},
			{
				Put: &types.Put{
					TableName: &s.tableName,
					Item:      deliveryMap,
				},
			},
		},
	}

	if _, err := s.client.TransactWriteItems(ctx, input); err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return nil, ErrOrderAlreadyAssigned
		}
		return nil, fmt.Errorf("transact write: %w", err)
	}
	return d, nil
}

// Get fetches a delivery by id. Returns (nil, nil) when absent or when the
// record belongs to a different tenant.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Delivery, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"delivery_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var d Delivery
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("unmarshal delivery: %w", err)
	}
	if d.TenantID != tenantID {
		return nil, nil
	}
	return &d, nil
}

// GetByOrder resolves the order lock record to a delivery id and fetches
// the delivery. Returns (nil, nil) when no delivery exists for the order.
func (s *Store) GetByOrder(ctx context.Context, tenantID, orderID string) (*Delivery, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.locksTable,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get order lock: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var lock orderLock
	if err := attributevalue.UnmarshalMap(out.Item, &lock); err != nil {
		return nil, fmt.Errorf("unmarshal order lock: %w", err)
	}
	if lock.TenantID != tenantID {
		return nil, nil
	}
	return s.Get(ctx, tenantID, lock.DeliveryID)
}

// AppendStage appends st to the delivery's stage history with a
// compare-and-swap on current_stage. expected is the stage the caller last
// observed; a concurrent append surfaces as ErrStageConflict. The server's
// post-append record is returned (ReturnValues ALL_NEW), never a locally
// synthesized merge.
func (s *Store) AppendStage(ctx context.Context, tenantID, deliveryID string, expected StageType, st Stage) (*Delivery, error) {
	if !st.Stage.Valid() {
		return nil, ErrInvalidTransition
	}
	if !CanTransition(expected, st.Stage) {
		return nil, ErrInvalidTransition
	}

	now := s.nowFunc().UTC()
	if st.Timestamp.IsZero() {
		st.Timestamp = now
	}

	stageAV, err := attributevalue.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal stage: %w", err)
	}

	updateExpr := "SET stages = list_append(stages, :s), current_stage = :new, updated_at = :ua"
	exprValues := map[string]types.AttributeValue{
		":s":        &types.AttributeValueMemberL{Value: []types.AttributeValue{stageAV}},
		":new":      &types.AttributeValueMemberS{Value: string(st.Stage)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":tid":      &types.AttributeValueMemberS{Value: tenantID},
	}
	if st.Stage == StageDelivered {
		updateExpr += ", actual_delivery_time = :adt"
		exprValues[":adt"] = &types.AttributeValueMemberS{Value: st.Timestamp.Format(time.RFC3339Nano)}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"delivery_id": &types.AttributeValueMemberS{Value: deliveryID},
		},
		UpdateExpression:          &updateExpr,
		ConditionExpression:       awsString("current_stage = :expected AND tenant_id = :tid"),
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil, ErrStageConflict
		}
		return nil, fmt.Errorf("append stage: %w", err)
	}

	var d Delivery
	if err := attributevalue.UnmarshalMap(out.Attributes, &d); err != nil {
		return nil, fmt.Errorf("unmarshal delivery: %w", err)
	}
	return &d, nil
}

// AppendPickupPoint appends a handoff record. Unlike stages there is no
// ordering invariant to guard, only tenant ownership.
func (s *Store) AppendPickupPoint(ctx context.Context, tenantID, deliveryID string, pp PickupPoint) (*Delivery, error) {
	now := s.nowFunc().UTC()
	if pp.Timestamp.IsZero() {
		pp.Timestamp = now
	}

	ppAV, err := attributevalue.Marshal(pp)
	if err != nil {
		return nil, fmt.Errorf("marshal pickup point: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"delivery_id": &types.AttributeValueMemberS{Value: deliveryID},
		},
		UpdateExpression:    awsString("SET pickup_points = list_append(pickup_points, :p), updated_at = :ua"),
		ConditionExpression: awsString("tenant_id = :tid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":   &types.AttributeValueMemberL{Value: []types.AttributeValue{ppAV}},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			":tid": &types.AttributeValueMemberS{Value: tenantID},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil, nil
		}
		return nil, fmt.Errorf("append pickup point: %w", err)
	}

	var d Delivery
	if err := attributevalue.UnmarshalMap(out.Attributes, &d); err != nil {
		return nil, fmt.Errorf("unmarshal delivery: %w", err)
	}
	return &d, nil
}

// List scans the deliveries table and filters in memory. Tenant fleets are
// small enough that a filtered scan beats maintaining GSIs per filter
// combination.
func (s *Store) List(ctx context.Context, tenantID string, f ListFilter) (*ListResponse, error) {
	var items []Delivery
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan deliveries: %w", err)
		}
		var page []Delivery
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal deliveries: %w", err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	matched := make([]Delivery, 0, len(items))
	for _, d := range items {
		if matchesFilter(&d, tenantID, f) {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	skip := f.Skip
	if skip < 0 {
		skip = 0
	}

	total := len(matched)
	if skip > total {
		skip = total
	}
	end := skip + limit
	if end > total {
		end = total
	}

	return &ListResponse{
		Items: matched[skip:end],
		Total: total,
		Skip:  skip,
		Limit: limit,
	}, nil
}

func matchesFilter(d *Delivery, tenantID string, f ListFilter) bool {
	if d.TenantID != tenantID {
		return false
	}
	if f.OrderID != "" && d.OrderID != f.OrderID {
		return false
	}
	if f.Status != "" && string(d.DerivedCurrentStage()) != f.Status {
		return false
	}
	if f.Stage != "" {
		found := false
		for _, st := range d.Stages {
			if string(st.Stage) == f.Stage {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.PartnerID != "" {
		found := false
		for _, st := range d.Stages {
			if st.PartnerID == f.PartnerID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(d.ID), q) && !strings.Contains(strings.ToLower(d.OrderID), q) {
			return false
		}
	}
	return true
}

func awsString(s string) *string { return &s }
