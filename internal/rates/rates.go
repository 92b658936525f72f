// Package rates supplies the exchange rate between the home currency and the
// display currency. The rate is read once per pricing operation and
// snapshotted onto the order; it is never recomputed for an existing order.
package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
)

// Provider returns the current home-units-per-display-unit rate.
type Provider interface {
	GetRate(ctx context.Context, home, display money.Currency) (money.Amount, error)
}

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Store reads the rate from the settings table.
type Store struct {
	client awsx.DynamoDBAPI
	table  string
}

func NewStore(client awsx.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table}
}

const rateKey = "exchange_rate_egp_usd"

func (s *Store) GetRate(ctx context.Context, home, display money.Currency) (money.Amount, error) {
	if home == display {
		return money.FromInt(1), nil
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key: map[string]types.AttributeValue{
			"setting_key": &types.AttributeValueMemberS{Value: rateKey},
		},
	})
	if err != nil {
		return money.Zero(), fmt.Errorf("get rate: %w", err)
	}
	if len(out.Item) == 0 {
		return money.Zero(), ErrRateUnavailable
	}
	n, ok := out.Item["value"].(*types.AttributeValueMemberN)
	if !ok {
		return money.Zero(), ErrRateUnavailable
	}
	rate, err := money.FromString(n.Value)
	if err != nil {
		return money.Zero(), fmt.Errorf("parse rate: %w", err)
	}
	if !rate.IsPositive() {
		return money.Zero(), ErrRateUnavailable
	}
	return rate, nil
}

// Static is a fixed-rate provider for tests and local runs.
type Static struct {
	Rate money.Amount
}

func (s Static) GetRate(ctx context.Context, home, display money.Currency) (money.Amount, error) {
	if home == display {
		return money.FromInt(1), nil
	}
	return s.Rate, nil
}
