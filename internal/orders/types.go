package orders

import (
	"time"

	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
	"github.com/mohamedayman517/mangastore-orderflow/internal/secrets"
)

// Order states. An order is created unconfirmed and only ever moves through
// the state machine's defined transitions; Delivered, Rejected and Canceled
// are terminal. Viewed is an audit marker appended to the history without
// replacing the current state.
const (
	StatusUnconfirmed = "unconfirmed"
	StatusToPay       = "ToPay"
	StatusPreparing   = "Preparing"
	StatusDelivered   = "Delivered"
	StatusRejected    = "Rejected"
	StatusCanceled    = "Canceled"
	StatusViewed      = "Viewed"
)

// Line-item fulfillment statuses.
const (
	FulfillmentPending     = "pending"
	FulfillmentProvisioned = "provisioned"
	FulfillmentFailed      = "failed"
)

// StatusEvent is one entry of the append-only status history.
type StatusEvent struct {
	State     string    `dynamodbav:"state" json:"state"`
	Message   string    `dynamodbav:"message,omitempty" json:"message,omitempty"`
	Actor     string    `dynamodbav:"actor,omitempty" json:"actor,omitempty"`
	Timestamp time.Time `dynamodbav:"timestamp" json:"timestamp"`
}

// CustomerField is the buyer-supplied value some products require
// (player id, account email, region).
type CustomerField struct {
	Label string `dynamodbav:"label" json:"label"`
	Value string `dynamodbav:"value" json:"value"`
}

// Fulfillment is the per-line-item external provisioning sub-state.
type Fulfillment struct {
	Vendor          string `dynamodbav:"vendor" json:"vendor"`
	DenominationID  string `dynamodbav:"denomination_id,omitempty" json:"denomination_id,omitempty"`
	Status          string `dynamodbav:"status" json:"status"`
	ProviderOrderID string `dynamodbav:"provider_order_id,omitempty" json:"provider_order_id,omitempty"`
	Attempts        int    `dynamodbav:"attempts" json:"attempts"`
	LastError       string `dynamodbav:"last_error,omitempty" json:"last_error,omitempty"`
}

// LineItem is one product/quantity entry. Everything except Fulfillment and
// Proof is immutable after creation.
type LineItem struct {
	ProductID     string                   `dynamodbav:"product_id" json:"product_id"`
	Name          string                   `dynamodbav:"name,omitempty" json:"name,omitempty"`
	Quantity      int                      `dynamodbav:"quantity" json:"quantity"`
	UnitPrice     money.Amount             `dynamodbav:"unit_price" json:"unit_price"`
	CustomerField *CustomerField           `dynamodbav:"customer_field,omitempty" json:"customer_field,omitempty"`
	Fulfillment   *Fulfillment             `dynamodbav:"fulfillment,omitempty" json:"fulfillment,omitempty"`
	Proof         []secrets.EncryptedField `dynamodbav:"proof,omitempty" json:"proof,omitempty"`
}

// CashbackRedemption snapshots a point redemption on the order. Amount is in
// the home currency. Debited and Refunded are idempotency gates with a
// single writer each: the state machine.
type CashbackRedemption struct {
	RequestedPoints int          `dynamodbav:"requested_points" json:"requested_points"`
	AppliedPoints   int          `dynamodbav:"applied_points" json:"applied_points"`
	Amount          money.Amount `dynamodbav:"amount" json:"amount"`
	Debited         bool         `dynamodbav:"debited" json:"debited"`
	Refunded        bool         `dynamodbav:"refunded" json:"refunded"`
}

// Order is the aggregate root persisted in the orders table. All monetary
// snapshots are in the display currency unless noted otherwise and are
// computed exactly once at quote time.
type Order struct {
	OrderID       string          `dynamodbav:"order_id"` // PK
	BuyerID       string          `dynamodbav:"buyer_id"`
	Currency      money.Currency  `dynamodbav:"currency"`
	ExchangeRate  money.Amount    `dynamodbav:"exchange_rate"` // EGP per USD, quote-time snapshot
	PaymentMethod string          `dynamodbav:"payment_method"`
	Items         []LineItem      `dynamodbav:"items"`
	Coupon        *coupon.Snapshot `dynamodbav:"coupon,omitempty"`
	Cashback      *CashbackRedemption `dynamodbav:"cashback,omitempty"`

	Subtotal       money.Amount `dynamodbav:"subtotal"`
	CouponDiscount money.Amount `dynamodbav:"coupon_discount"`
	CashbackAmount money.Amount `dynamodbav:"cashback_amount"` // display currency
	TaxAmount      money.Amount `dynamodbav:"tax_amount"`
	TotalPrice     money.Amount `dynamodbav:"total_price"`

	CurrentStatus string        `dynamodbav:"current_status"`
	StatusHistory []StatusEvent `dynamodbav:"status_history"`

	// Idempotency gates, each settable exactly once by the state machine.
	CashbackAwarded         bool `dynamodbav:"cashback_awarded"`
	ReferralCashbackAwarded bool `dynamodbav:"referral_cashback_awarded"`
	OwnershipGranted        bool `dynamodbav:"ownership_granted"`

	IsGift        bool   `dynamodbav:"is_gift"`
	GiftRecipient string `dynamodbav:"gift_recipient,omitempty"`
	ReferralEmail string `dynamodbav:"referral_email,omitempty"`
	PaymentProof  string `dynamodbav:"payment_proof,omitempty"` // image key or URL

	ExpiresAt time.Time `dynamodbav:"expires_at"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
}

// HistoryContains reports whether the history records the given state.
func (o *Order) HistoryContains(state string) bool {
	for _, e := range o.StatusHistory {
		if e.State == state {
			return true
		}
	}
	return false
}

// Expired reports whether an unconfirmed order has passed its payment
// window. Expiry is a read-time check: no background sweep exists, the order
// is simply refused at the next transition attempt.
func (o *Order) Expired(now time.Time) bool {
	return o.CurrentStatus == StatusUnconfirmed && now.After(o.ExpiresAt)
}

// Terminal reports whether the current state admits no further
// state-changing transitions.
func (o *Order) Terminal() bool {
	switch o.CurrentStatus {
	case StatusDelivered, StatusRejected, StatusCanceled:
		return true
	}
	return false
}
