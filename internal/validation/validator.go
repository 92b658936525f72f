package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
	"github.com/mohamedayman517/mangastore-orderflow/internal/pricing"
)

// New returns a configured validator with custom struct-level validation
// registered for checkout requests.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(checkoutStructValidation, CheckoutRequest{})
	return v
}

// checkoutStructValidation covers the cross-field rules a tag cannot
// express: the payment method must exist in the tax table, cashback points
// come in multiples of 10, and a gift needs a recipient.
func checkoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CheckoutRequest)

	if req.PaymentMethod != "" && !pricing.IsPaymentMethod(req.PaymentMethod) {
		sl.ReportError(req.PaymentMethod, "payment_method", "PaymentMethod", "payment_method", "")
	}
	if req.CashbackPoints > 0 && req.CashbackPoints%money.PointsPerUnit != 0 {
		sl.ReportError(req.CashbackPoints, "cashback_points", "CashbackPoints", "multiple_of_ten", "")
	}
	if req.IsGift && req.GiftRecipient == "" {
		sl.ReportError(req.GiftRecipient, "gift_recipient", "GiftRecipient", "required_for_gift", "")
	}
}
