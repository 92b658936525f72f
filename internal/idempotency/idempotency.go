// Package idempotency deduplicates checkout requests. A client retrying a
// checkout with the same Idempotency-Key gets the original order back
// instead of a second order. Records expire after a retention window via
// the table's TTL attribute.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

// Record statuses. The record and its order commit in one transaction, so a
// claimed key either has its order (DONE after the write-back) or the
// checkout is still in flight; there is no failed state to release.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// DefaultTTL is how long a checkout key stays claimed.
const DefaultTTL = 48 * time.Hour

// ErrKeyConflict means the key exists but belongs to a different buyer.
var ErrKeyConflict = errors.New("idempotency key claimed by another buyer")

// Record is one claimed checkout key.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	BuyerID        string    `dynamodbav:"buyer_id"`
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // epoch seconds, table TTL
}

// Store owns the idempotency table.
type Store struct {
	client  awsx.DynamoDBAPI
	table   string
	ttl     time.Duration
	nowFunc func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table, ttl: DefaultTTL, nowFunc: time.Now}
}

// Table returns the table name for callers composing transactions.
func (s *Store) Table() string { return s.table }

// NewRecord builds an in-progress record for a fresh checkout attempt.
func (s *Store) NewRecord(key, buyerID string) Record {
	now := s.nowFunc()
	return Record{
		IdempotencyKey: key,
		BuyerID:        buyerID,
		Status:         StatusInProgress,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl).Unix(),
	}
}

// Get returns (nil, nil) when the key was never claimed.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return &rec, nil
}

// MarkDone records the order the key produced.
func (s *Store) MarkDone(ctx context.Context, key, orderID string) error {
	update := "SET #st = :st, #oid = :oid"
	names := map[string]string{"#st": "status", "#oid": "order_id"}
	values := map[string]types.AttributeValue{
		":st":  &types.AttributeValueMemberS{Value: StatusDone},
		":oid": &types.AttributeValueMemberS{Value: orderID},
	}
	cond := "attribute_exists(idempotency_key)"
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:          &update,
		ConditionExpression:       &cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("update idempotency record: %w", err)
	}
	return nil
}
