package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
)

// TaxKind distinguishes flat-fee methods from percentage ones.
type TaxKind int

const (
	TaxFlat TaxKind = iota
	TaxPercent
)

// TaxRule is a payment method's tax entry. Flat fees are in the home
// currency and convert to display by dividing by the exchange rate;
// percentages apply directly to the display-currency taxable amount.
type TaxRule struct {
	Kind    TaxKind
	Flat    money.Amount    // home currency, TaxFlat only
	Percent decimal.Decimal // TaxPercent only
}

// The payment method set is fixed; its tax and fee rules are data.
var paymentMethods = map[string]TaxRule{
	"instapay":      {Kind: TaxFlat, Flat: money.Zero()},
	"vodafone_cash": {Kind: TaxFlat, Flat: money.FromInt(5)},
	"card":          {Kind: TaxPercent, Percent: decimal.NewFromInt(1)},
	"paypal":        {Kind: TaxPercent, Percent: decimal.RequireFromString("4.5")},
}

// TaxRuleFor looks up a payment method's tax rule.
func TaxRuleFor(method string) (TaxRule, bool) {
	r, ok := paymentMethods[method]
	return r, ok
}

// IsPaymentMethod reports whether the method exists in the tax table.
func IsPaymentMethod(method string) bool {
	_, ok := paymentMethods[method]
	return ok
}

// Tax computes the display-currency tax for the given taxable remainder
// (subtotal minus coupon discount minus cashback amount).
func (r TaxRule) Tax(taxable money.Amount, display money.Currency, rate money.Amount) money.Amount {
	switch r.Kind {
	case TaxFlat:
		return money.ToDisplay(r.Flat, display, rate)
	default:
		return taxable.Mul(money.FromDecimal(r.Percent)).DivInt(100)
	}
}
