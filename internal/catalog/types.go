package catalog

import (
	"time"

	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
)

// FieldRequirementKind tags whether a product needs a buyer-supplied field
// (player id, account email, region) before it can be fulfilled.
type FieldRequirementKind int

const (
	NoExtraField FieldRequirementKind = iota
	RequiresCustomerField
)

// FieldRequirement describes the per-product customer field contract.
type FieldRequirement struct {
	Kind  FieldRequirementKind `dynamodbav:"kind"`
	Label string               `dynamodbav:"label,omitempty"`
}

// FulfillmentSpec maps a product to an external voucher provider
// denomination. Nil on a product means manual fulfillment.
type FulfillmentSpec struct {
	Vendor         string `dynamodbav:"vendor"`
	DenominationID string `dynamodbav:"denomination_id"`
}

// Product is the catalog snapshot view of one sellable item. Prices are in
// the home currency. Stock here is advisory only; authoritative stock checks
// happen at transition time against the live item.
type Product struct {
	ProductID     string           `dynamodbav:"product_id"`
	Name          string           `dynamodbav:"name,omitempty"`
	CategoryID    string           `dynamodbav:"category_id,omitempty"`
	Price         money.Amount     `dynamodbav:"price"`
	Stock         int              `dynamodbav:"stock"`
	Discount      money.Amount     `dynamodbav:"discount,omitempty"`
	DiscountFrom  time.Time        `dynamodbav:"discount_from,omitempty"`
	DiscountUntil time.Time        `dynamodbav:"discount_until,omitempty"`
	Field         FieldRequirement `dynamodbav:"field"`
	Fulfillment   *FulfillmentSpec `dynamodbav:"fulfillment,omitempty"`
}

// ActivePrice returns the home-currency unit price at the given instant,
// applying the discount when its window covers now.
func (p *Product) ActivePrice(now time.Time) money.Amount {
	if p.Discount.IsPositive() &&
		!p.DiscountFrom.IsZero() && !p.DiscountUntil.IsZero() &&
		!now.Before(p.DiscountFrom) && now.Before(p.DiscountUntil) {
		return p.Price.Sub(p.Discount).FloorToZero()
	}
	return p.Price
}
