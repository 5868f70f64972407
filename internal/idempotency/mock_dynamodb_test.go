package idempotency

import (
	"context"
	"errors"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a very small in-memory mock for PutItem/GetItem/UpdateItem
// used in unit tests. Intentionally minimal.
type simpleMock struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	getCalls    int
	updateCalls int
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	// implement ConditionExpression: attribute_not_exists(idempotency_key)
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(idempotency_key)" {
		keyAttr := params.Item["idempotency_key"]
		if keyAttr == nil {
			return nil, errors.New("missing key")
		}
		k := keyAttr.(*types.AttributeValueMemberS).Value
		if _, ok := m.table[k]; ok {
			// simulate conditional failure
			return nil, &types.ConditionalCheckFailedException{}
		}
		m.table[k] = params.Item
		return &dyn.PutItemOutput{}, nil
	}
	// otherwise simple put (overwrite)
	if params.Item == nil {
		return nil, errors.New("nil item")
	}
	k := params.Item["idempotency_key"].(*types.AttributeValueMemberS).Value
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	keyAttr := params.Key["idempotency_key"]
	if keyAttr == nil {
		return nil, errors.New("missing key")
	}
	k := keyAttr.(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	keyAttr := params.Key["idempotency_key"]
	if keyAttr == nil {
		return nil, errors.New("missing key")
	}
	k := keyAttr.(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if !ok {
		return nil, errors.New("item not found")
	}
	// naive update: supports the MarkDone / MarkFailed expressions
	if v, ok := params.ExpressionAttributeValues[":rb"]; ok {
		item["response_body"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":rs"]; ok {
		item["response_status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":n"]; ok {
		item["note"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":done"]; ok {
		item["status"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":failed"]; ok {
		item["status"] = v
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *simpleMock) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not supported by idempotency mock")
}

func (m *simpleMock) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	return nil, errors.New("not supported by idempotency mock")
}
