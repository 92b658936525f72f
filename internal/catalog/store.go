// Package catalog is the read side of the product collection: a snapshot
// store plus a read-through cache. Reads are treated as possibly stale
// everywhere; nothing in this package is authoritative for stock.
package catalog

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

// Snapshot is the catalog view the pricing engine consumes.
type Snapshot interface {
	// Product returns (nil, nil) when the id does not resolve.
	Product(ctx context.Context, id string) (*Product, error)
	// Products returns the resolvable subset keyed by product id.
	Products(ctx context.Context, ids []string) (map[string]*Product, error)
}

// Store reads products straight from the products table.
type Store struct {
	client awsx.DynamoDBAPI
	table  string
}

func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

func (s *Store) Product(ctx context.Context, id string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

func (s *Store) Products(ctx context.Context, ids []string) (map[string]*Product, error) {
	result := make(map[string]*Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: id},
		})
	}

	out, err := s.client.BatchGetItem(ctx, &dyn.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			s.table: {Keys: keys},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("batch get products: %w", err)
	}
	for _, item := range out.Responses[s.table] {
		var p Product
		if err := attributevalue.UnmarshalMap(item, &p); err != nil {
			return nil, fmt.Errorf("unmarshal product: %w", err)
		}
		cp := p
		result[p.ProductID] = &cp
	}
	return result, nil
}
