package partners

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
)

// Store encapsulates operations on the partners table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a partners Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put upserts a partner record. Used by seeding and admin tooling; the
// delivery subsystem itself only reads partners.
func (s *Store) Put(ctx context.Context, p *Partner) error {
	now := s.nowFunc().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal partner: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put partner: %w", err)
	}
	return nil
}

// Get fetches a partner by id. Returns (nil, nil) when absent or owned by
// another tenant.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*Partner, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"partner_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get partner: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Partner
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal partner: %w", err)
	}
	if p.TenantID != tenantID {
		return nil, nil
	}
	return &p, nil
}

// List scans the partners table and applies the dialog filters in memory.
// Results are name-sorted for stable rendering.
func (s *Store) List(ctx context.Context, tenantID string, f ListFilter) ([]Partner, error) {
	var all []Partner
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:         &s.tableName,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("scan partners: %w", err)
		}
		var page []Partner
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal partners: %w", err)
		}
		all = append(all, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	matched := make([]Partner, 0, len(all))
	for _, p := range all {
		if p.TenantID != tenantID {
			continue
		}
		if f.Type != "" && p.Type != f.Type {
			continue
		}
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		if f.AvailableOnly && !p.IsAvailable {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched, nil
}
