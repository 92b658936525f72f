// Package ledger is the per-user cashback point balance. It is mutated only
// by the order state machine (debit on payment evidence, refund on
// cancellation, award on delivery); client requests never touch it directly.
package ledger

import (
	"context"
	"errors"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

var ErrInsufficientBalance = errors.New("insufficient cashback balance")

// Store holds point balances keyed by user id.
type Store struct {
	client awsx.DynamoDBAPI
	table  string
}

func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

// GetBalance returns the current balance; users with no ledger row have 0.
func (s *Store) GetBalance(ctx context.Context, userID string) (int, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	n, ok := out.Item["points"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, nil
	}
	var points int
	if _, err := fmt.Sscanf(n.Value, "%d", &points); err != nil {
		return 0, fmt.Errorf("parse balance: %w", err)
	}
	return points, nil
}

// Debit atomically subtracts points, re-validated against the current
// balance, not any earlier read.
func (s *Store) Debit(ctx context.Context, userID string, points int) error {
	entry := s.DebitEntry(userID, points)
	return awsx.ExecTransact(ctx, s.client, []awsx.TransactEntry{entry})
}

// Credit atomically adds points, creating the ledger row when absent.
func (s *Store) Credit(ctx context.Context, userID string, points int) error {
	entry := s.CreditEntry(userID, points)
	return awsx.ExecTransact(ctx, s.client, []awsx.TransactEntry{entry})
}

// DebitEntry builds the conditional debit as a transaction entry so the
// state machine can pair it with an order-document idempotency gate.
func (s *Store) DebitEntry(userID string, points int) awsx.TransactEntry {
	update := "SET #p = #p - :n"
	cond := "#p >= :n"
	return awsx.TransactEntry{
		Item: types.TransactWriteItem{
			Update: &types.Update{
				TableName: &s.table,
				Key: map[string]types.AttributeValue{
					"user_id": &types.AttributeValueMemberS{Value: userID},
				},
				UpdateExpression:         &update,
				ConditionExpression:      &cond,
				ExpressionAttributeNames: map[string]string{"#p": "points"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":n": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", points)},
				},
			},
		},
		ConditionFail: ErrInsufficientBalance,
	}
}

// CreditEntry builds the unconditional credit as a transaction entry.
func (s *Store) CreditEntry(userID string, points int) awsx.TransactEntry {
	update := "SET #p = if_not_exists(#p, :zero) + :n"
	return awsx.TransactEntry{
		Item: types.TransactWriteItem{
			Update: &types.Update{
				TableName: &s.table,
				Key: map[string]types.AttributeValue{
					"user_id": &types.AttributeValueMemberS{Value: userID},
				},
				UpdateExpression:         &update,
				ExpressionAttributeNames: map[string]string{"#p": "points"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":zero": &types.AttributeValueMemberN{Value: "0"},
					":n":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", points)},
				},
			},
		},
	}
}
