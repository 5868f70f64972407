package deliveries

import (
	"context"
	"fmt"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory stand-in supporting the operations and the
// exact expressions the deliveries Store issues.
// It stores items per table in a nested map: table -> pkValue -> item map.
// Keys resolve per table: an order-lock record carries both order_id and
// delivery_id, so the key attribute cannot be guessed from the item alone.
type mockDynamo struct {
	mu     sync.Mutex
	keys   map[string]string // table -> key attribute
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		keys: map[string]string{
			testTable: "delivery_id",
			testLocks: "order_id",
		},
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func (m *mockDynamo) ensureTable(tbl string) {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
}

// pkOf resolves the primary key value of an item or key map for a table.
func (m *mockDynamo) pkOf(table string, attrs map[string]types.AttributeValue) (string, error) {
	name, ok := m.keys[table]
	if !ok {
		return "", fmt.Errorf("unknown table %q", table)
	}
	v, ok := attrs[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing key attribute %q for table %q", name, table)
	}
	return v.Value, nil
}

func strAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := m.pkOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && strings.HasPrefix(*params.ConditionExpression, "attribute_not_exists") {
		if _, exists := m.tables[table][pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.tables[table][pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := m.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := m.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.tables[table][pk]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}

	if params.ConditionExpression != nil {
		cond := *params.ConditionExpression
		if strings.Contains(cond, "current_stage = :expected") {
			expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
			if strAttr(item, "current_stage") != expected {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
		if strings.Contains(cond, "tenant_id = :tid") {
			tid := params.ExpressionAttributeValues[":tid"].(*types.AttributeValueMemberS).Value
			if strAttr(item, "tenant_id") != tid {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}

	expr := ""
	if params.UpdateExpression != nil {
		expr = *params.UpdateExpression
	}
	if strings.Contains(expr, "list_append(stages") {
		appendList(item, "stages", params.ExpressionAttributeValues[":s"])
	}
	if strings.Contains(expr, "list_append(pickup_points") {
		appendList(item, "pickup_points", params.ExpressionAttributeValues[":p"])
	}
	if v, ok := params.ExpressionAttributeValues[":new"]; ok {
		item["current_stage"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":adt"]; ok {
		item["actual_delivery_time"] = v
	}

	m.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func appendList(item map[string]types.AttributeValue, name string, v types.AttributeValue) {
	add, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return
	}
	current, ok := item[name].(*types.AttributeValueMemberL)
	if !ok {
		current = &types.AttributeValueMemberL{}
	}
	merged := append(append([]types.AttributeValue{}, current.Value...), add.Value...)
	item[name] = &types.AttributeValueMemberL{Value: merged}
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// First pass: verify condition expressions.
	for _, it := range params.TransactItems {
		p := it.Put
		if p == nil {
			continue
		}
		if p.ConditionExpression != nil && strings.HasPrefix(*p.ConditionExpression, "attribute_not_exists") {
			table := *p.TableName
			m.ensureTable(table)
			pk, err := m.pkOf(table, p.Item)
			if err != nil {
				return nil, err
			}
			if _, exists := m.tables[table][pk]; exists {
				return nil, &types.TransactionCanceledException{}
			}
		}
	}
	// Second pass: apply all puts.
	for _, it := range params.TransactItems {
		p := it.Put
		if p == nil {
			continue
		}
		table := *p.TableName
		m.ensureTable(table)
		pk, err := m.pkOf(table, p.Item)
		if err != nil {
			return nil, err
		}
		m.tables[table][pk] = p.Item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	out := &dyn.ScanOutput{}
	for _, item := range m.tables[table] {
		out.Items = append(out.Items, item)
	}
	return out, nil
}
