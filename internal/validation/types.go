package validation

// CartItem is a single checkout line.
type CartItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	// CustomerField carries the buyer-supplied value some products require
	// (player id, account email). Presence is enforced per product by the
	// pricing engine, not here.
	CustomerFieldLabel string `json:"customer_field_label,omitempty"`
	CustomerFieldValue string `json:"customer_field_value,omitempty"`
}

// CheckoutRequest is the payload for POST /checkout.
type CheckoutRequest struct {
	Items          []CartItem `json:"items" validate:"required,min=1,dive"`
	Currency       string     `json:"currency" validate:"required,oneof=EGP USD"`
	PaymentMethod  string     `json:"payment_method" validate:"required"`
	CouponCode     string     `json:"coupon_code,omitempty"`
	CashbackPoints int        `json:"cashback_points,omitempty" validate:"omitempty,min=1"`
	IsGift         bool       `json:"is_gift,omitempty"`
	GiftRecipient  string     `json:"gift_recipient,omitempty"`
	ReferralEmail  string     `json:"referral_email,omitempty" validate:"omitempty,email"`
}

// PaymentEvidenceRequest is the payload for POST /orders/:id/evidence.
type PaymentEvidenceRequest struct {
	ProofURL string `json:"proof_url" validate:"required"`
}

// ReasonRequest carries the free-text reason for cancel/reject.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}
