// Package coupon is the coupon directory and its one-time redemption
// records. Redemptions are insert-only: a conditional put on the
// {buyer, coupon} pair is the final line of defense against double use.
package coupon

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
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
)

// Scope names the subset of an order a coupon applies to.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeUser     Scope = "user"
	ScopeProduct  Scope = "product"
	ScopeCategory Scope = "category"
)

// Kind distinguishes percentage coupons from fixed-amount ones.
type Kind string

const (
	KindPercent Kind = "percent"
	KindFixed   Kind = "fixed"
)

// Coupon as stored in the directory. Amount is a percentage for KindPercent
// and a home-currency value for KindFixed. TargetID carries the user,
// product or category id for scoped coupons.
type Coupon struct {
	Code      string       `dynamodbav:"code"`
	CouponID  string       `dynamodbav:"coupon_id"`
	Scope     Scope        `dynamodbav:"scope"`
	TargetID  string       `dynamodbav:"target_id,omitempty"`
	Kind      Kind         `dynamodbav:"kind"`
	Amount    money.Amount `dynamodbav:"amount"`
	ExpiresAt time.Time    `dynamodbav:"expires_at"`
}

// Snapshot is the frozen view of a coupon written onto an order at quote
// time. Coupon terms cannot change retroactively for that order.
type Snapshot struct {
	CouponID string       `dynamodbav:"coupon_id" json:"coupon_id"`
	Scope    Scope        `dynamodbav:"scope" json:"scope"`
	Kind     Kind         `dynamodbav:"kind" json:"kind"`
	Amount   money.Amount `dynamodbav:"amount" json:"amount"`
}

type redemption struct {
	RedemptionKey string    `dynamodbav:"redemption_key"` // buyerID#couponID
	BuyerID       string    `dynamodbav:"buyer_id"`
	CouponID      string    `dynamodbav:"coupon_id"`
	OrderID       string    `dynamodbav:"order_id"`
	RedeemedAt    time.Time `dynamodbav:"redeemed_at"`
}

// ErrAlreadyRedeemed reports that a different order already holds the
// {buyer, coupon} redemption.
var ErrAlreadyRedeemed = errors.New("coupon already redeemed by this buyer")

// Store reads coupons and writes redemption records.
type Store struct {
	client           awsx.DynamoDBAPI
	couponsTable     string
	redemptionsTable string
	nowFunc          func() time.Time
}

func NewStore(client awsx.DynamoDBAPI, couponsTable, redemptionsTable string) *Store {
	return &Store{
		client:           client,
		couponsTable:     couponsTable,
		redemptionsTable: redemptionsTable,
		nowFunc:          time.Now,
	}
}

// FindByCode returns (nil, nil) when the code does not resolve.
func (s *Store) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.couponsTable,
		Key: map[string]types.AttributeValue{
			"code": &types.AttributeValueMemberS{Value: code},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Coupon
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal coupon: %w", err)
	}
	return &c, nil
}

func redemptionKey(buyerID, couponID string) string {
	return buyerID + "#" + couponID
}

// HasRedemption is the advisory quote-time check. The authoritative check is
// the conditional insert in Redeem.
func (s *Store) HasRedemption(ctx context.Context, buyerID, couponID string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.redemptionsTable,
		Key: map[string]types.AttributeValue{
			"redemption_key": &types.AttributeValueMemberS{Value: redemptionKey(buyerID, couponID)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("get redemption: %w", err)
	}
	return len(out.Item) > 0, nil
}

// Redeem atomically inserts the one-time redemption record on behalf of
// orderID. When the record already exists it is only an error if a different
// order holds it; a retry of the same transition is a no-op.
func (s *Store) Redeem(ctx context.Context, buyerID, couponID, orderID string) error {
	rec := redemption{
		RedemptionKey: redemptionKey(buyerID, couponID),
		BuyerID:       buyerID,
		CouponID:      couponID,
		OrderID:       orderID,
		RedeemedAt:    s.nowFunc(),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal redemption: %w", err)
	}

	cond := "attribute_not_exists(redemption_key)"
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.redemptionsTable,
		Item:                item,
		ConditionExpression: &cond,
	})
	if err == nil {
		return nil
	}

	if !isConditionalFail(err) {
		return fmt.Errorf("put redemption: %w", err)
	}

	// Lost the insert: idempotent retry only if this order already owns it.
	out, getErr := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.redemptionsTable,
		Key: map[string]types.AttributeValue{
			"redemption_key": &types.AttributeValueMemberS{Value: rec.RedemptionKey},
		},
	})
	if getErr != nil {
		return fmt.Errorf("get redemption after conflict: %w", getErr)
	}
	var existing redemption
	if err := attributevalue.UnmarshalMap(out.Item, &existing); err != nil {
		return fmt.Errorf("unmarshal redemption: %w", err)
	}
	if existing.OrderID == orderID {
		return nil
	}
	return ErrAlreadyRedeemed
}

func isConditionalFail(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var api smithy.APIError
	return errors.As(err, &api) && api.ErrorCode() == "ConditionalCheckFailedException"
}
