// Package ownership records permanent product ownership granted on
// delivery. Records are append-only; a grant for the same
// {transaction, product} pair is idempotent.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

type Record struct {
	OwnershipKey  string    `dynamodbav:"ownership_key"` // transactionID#productID
	UserID        string    `dynamodbav:"user_id"`
	ProductID     string    `dynamodbav:"product_id"`
	TransactionID string    `dynamodbav:"transaction_id"`
	AcquiredVia   string    `dynamodbav:"acquired_via"`
	GrantedAt     time.Time `dynamodbav:"granted_at"`
}

type Store struct {
	client  awsx.DynamoDBAPI
	table   string
	nowFunc func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table, nowFunc: time.Now}
}

// Grant appends an ownership record. Calling it twice for the same
// transaction and product succeeds without writing a second record.
func (s *Store) Grant(ctx context.Context, userID, productID, transactionID, acquiredVia string) error {
	rec := Record{
		OwnershipKey:  transactionID + "#" + productID,
		UserID:        userID,
		ProductID:     productID,
		TransactionID: transactionID,
		AcquiredVia:   acquiredVia,
		GrantedAt:     s.nowFunc(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal ownership: %w", err)
	}
	cond := "attribute_not_exists(ownership_key)"
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.table,
		Item:                item,
		ConditionExpression: &cond,
	})
	if err == nil {
		return nil
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil
	}
	var api smithy.APIError
	if errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException" {
		return nil
	}
	return fmt.Errorf("put ownership: %w", err)
}
