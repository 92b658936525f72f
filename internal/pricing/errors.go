package pricing

import (
	"fmt"
	"strings"
)

// Validation errors carry every offending item, not just the first, so the
// caller can correct the whole cart in one pass.

// ProductNotFoundError lists cart product ids that did not resolve in the
// catalog snapshot.
type ProductNotFoundError struct {
	ProductIDs []string
}

func (e *ProductNotFoundError) Error() string {
	return "products not found: " + strings.Join(e.ProductIDs, ", ")
}

// InsufficientItem is one line whose requested quantity exceeds stock.
type InsufficientItem struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockUnavailableError lists every out-of-stock and insufficient-stock item.
type StockUnavailableError struct {
	OutOfStock   []string
	Insufficient []InsufficientItem
}

func (e *StockUnavailableError) Error() string {
	var parts []string
	if len(e.OutOfStock) > 0 {
		parts = append(parts, "out of stock: "+strings.Join(e.OutOfStock, ", "))
	}
	for _, it := range e.Insufficient {
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", it.ProductID, it.Requested, it.Available))
	}
	return "stock unavailable: " + strings.Join(parts, "; ")
}

// MissingCustomerFieldError lists products whose required customer field was
// absent or blank.
type MissingCustomerFieldError struct {
	ProductIDs []string
}

func (e *MissingCustomerFieldError) Error() string {
	return "missing customer field for: " + strings.Join(e.ProductIDs, ", ")
}

// Coupon rejection codes.
const (
	CouponNotFound        = "not_found"
	CouponExpired         = "expired"
	CouponWrongScope      = "wrong_scope"
	CouponAlreadyRedeemed = "already_redeemed"
)

type CouponInvalidError struct {
	Code string
}

func (e *CouponInvalidError) Error() string {
	return "coupon invalid: " + e.Code
}

// Cashback rejection codes.
const (
	CashbackNotPositive         = "not_positive"
	CashbackNotMultipleOfTen    = "not_multiple_of_ten"
	CashbackInsufficientBalance = "insufficient_balance"
)

type CashbackInvalidError struct {
	Code    string
	Balance int
}

func (e *CashbackInvalidError) Error() string {
	return "cashback invalid: " + e.Code
}

// UnknownPaymentMethodError rejects a method absent from the tax table.
type UnknownPaymentMethodError struct {
	Method string
}

func (e *UnknownPaymentMethodError) Error() string {
	return "unknown payment method: " + e.Method
}
