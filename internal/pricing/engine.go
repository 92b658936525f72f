// Package pricing turns a cart into a priced, persisted order. The
// computation is deterministic given the catalog snapshot and a single
// exchange-rate read; every computed value is frozen onto the order. The
// canonical order of operations is coupon discount, then cashback clamp,
// then tax on the remainder.
package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohamedayman517/mangastore-orderflow/internal/catalog"
	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ledger"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/rates"
)

// DefaultExpiry is the payment window for unconfirmed orders.
const DefaultExpiry = 30 * time.Minute

// CartItem is one requested line.
type CartItem struct {
	ProductID     string
	Quantity      int
	CustomerField *orders.CustomerField
}

// CheckoutInput is the full pricing request.
type CheckoutInput struct {
	BuyerID        string
	Items          []CartItem
	Currency       money.Currency
	PaymentMethod  string
	CouponCode     string
	CashbackPoints int
	IsGift         bool
	GiftRecipient  string
	ReferralEmail  string
}

// Engine validates carts and produces priced orders.
type Engine struct {
	catalog catalog.Snapshot
	coupons *coupon.Store
	ledger  *ledger.Store
	rates   rates.Provider
	orders  *orders.Store
	expiry  time.Duration
	nowFunc func() time.Time
}

// Config groups the engine's collaborators.
type Config struct {
	Catalog catalog.Snapshot
	Coupons *coupon.Store
	Ledger  *ledger.Store
	Rates   rates.Provider
	Orders  *orders.Store
	Expiry  time.Duration
	Now     func() time.Time
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		catalog: cfg.Catalog,
		coupons: cfg.Coupons,
		ledger:  cfg.Ledger,
		rates:   cfg.Rates,
		orders:  cfg.Orders,
		expiry:  cfg.Expiry,
		nowFunc: cfg.Now,
	}
	if e.expiry == 0 {
		e.expiry = DefaultExpiry
	}
	if e.nowFunc == nil {
		e.nowFunc = time.Now
	}
	return e
}

// Quote validates the cart and computes the priced order without
// persisting it. No partial order is ever created: any validation failure
// returns before a document exists.
func (e *Engine) Quote(ctx context.Context, in CheckoutInput) (*orders.Order, error) {
	now := e.nowFunc()

	rule, ok := TaxRuleFor(in.PaymentMethod)
	if !ok {
		return nil, &UnknownPaymentMethodError{Method: in.PaymentMethod}
	}

	products, err := e.resolveProducts(ctx, in.Items)
	if err != nil {
		return nil, err
	}
	if err := checkStock(in.Items, products); err != nil {
		return nil, err
	}
	if err := checkCustomerFields(in.Items, products); err != nil {
		return nil, err
	}

	// One rate read per pricing operation, snapshotted onto the order.
	rate, err := e.rates.GetRate(ctx, money.EGP, in.Currency)
	if err != nil {
		return nil, fmt.Errorf("exchange rate: %w", err)
	}

	items := make([]orders.LineItem, 0, len(in.Items))
	subtotal := money.Zero()
	for _, ci := range in.Items {
		p := products[ci.ProductID]
		unit := money.ToDisplay(p.ActivePrice(now), in.Currency, rate)
		line := orders.LineItem{
			ProductID:     ci.ProductID,
			Name:          p.Name,
			Quantity:      ci.Quantity,
			UnitPrice:     unit,
			CustomerField: ci.CustomerField,
		}
		if p.Fulfillment != nil {
			line.Fulfillment = &orders.Fulfillment{
				Vendor:         p.Fulfillment.Vendor,
				DenominationID: p.Fulfillment.DenominationID,
				Status:         orders.FulfillmentPending,
			}
		}
		items = append(items, line)
		subtotal = subtotal.Add(unit.MulInt(int64(ci.Quantity)))
	}

	couponDiscount := money.Zero()
	var couponSnap *coupon.Snapshot
	if in.CouponCode != "" {
		couponSnap, couponDiscount, err = e.applyCoupon(ctx, in, products, items, subtotal, rate, now)
		if err != nil {
			return nil, err
		}
	}

	cashbackAmount := money.Zero()
	var redemption *orders.CashbackRedemption
	if in.CashbackPoints != 0 {
		redemption, cashbackAmount, err = e.applyCashback(ctx, in, subtotal.Sub(couponDiscount), rate)
		if err != nil {
			return nil, err
		}
	}

	taxable := subtotal.Sub(couponDiscount).Sub(cashbackAmount).FloorToZero()
	tax := rule.Tax(taxable, in.Currency, rate)
	total := taxable.Add(tax)

	o := &orders.Order{
		OrderID:        uuid.NewString(),
		BuyerID:        in.BuyerID,
		Currency:       in.Currency,
		ExchangeRate:   rate,
		PaymentMethod:  in.PaymentMethod,
		Items:          items,
		Coupon:         couponSnap,
		Cashback:       redemption,
		Subtotal:       subtotal,
		CouponDiscount: couponDiscount,
		CashbackAmount: cashbackAmount,
		TaxAmount:      tax,
		TotalPrice:     total,
		CurrentStatus:  orders.StatusUnconfirmed,
		StatusHistory: []orders.StatusEvent{
			{State: orders.StatusUnconfirmed, Message: "order created", Actor: in.BuyerID, Timestamp: now},
		},
		IsGift:        in.IsGift,
		GiftRecipient: in.GiftRecipient,
		ReferralEmail: in.ReferralEmail,
		ExpiresAt:     now.Add(e.expiry),
		CreatedAt:     now,
	}
	return o, nil
}

// Checkout quotes and persists the order in its unconfirmed state.
func (e *Engine) Checkout(ctx context.Context, in CheckoutInput) (*orders.Order, error) {
	o, err := e.Quote(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := e.orders.Create(ctx, *o); err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Engine) resolveProducts(ctx context.Context, items []CartItem) (map[string]*catalog.Product, error) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := e.catalog.Products(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve products: %w", err)
	}
	var missing []string
	for _, it := range items {
		if products[it.ProductID] == nil {
			missing = append(missing, it.ProductID)
		}
	}
	if len(missing) > 0 {
		return nil, &ProductNotFoundError{ProductIDs: missing}
	}
	return products, nil
}

// checkStock collects every offending product against the snapshot,
// summing quantities when the cart lists a product on several lines. This is
// the advisory check; the authoritative one happens at the ToPay transition
// against live stock.
func checkStock(items []CartItem, products map[string]*catalog.Product) error {
	requested := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		if _, seen := requested[it.ProductID]; !seen {
			order = append(order, it.ProductID)
		}
		requested[it.ProductID] += it.Quantity
	}

	stockErr := &StockUnavailableError{}
	for _, id := range order {
		p := products[id]
		switch {
		case p.Stock <= 0:
			stockErr.OutOfStock = append(stockErr.OutOfStock, id)
		case requested[id] > p.Stock:
			stockErr.Insufficient = append(stockErr.Insufficient, InsufficientItem{
				ProductID: id,
				Requested: requested[id],
				Available: p.Stock,
			})
		}
	}
	if len(stockErr.OutOfStock) > 0 || len(stockErr.Insufficient) > 0 {
		return stockErr
	}
	return nil
}

func checkCustomerFields(items []CartItem, products map[string]*catalog.Product) error {
	var missing []string
	for _, it := range items {
		p := products[it.ProductID]
		if p.Field.Kind != catalog.RequiresCustomerField {
			continue
		}
		if it.CustomerField == nil || strings.TrimSpace(it.CustomerField.Value) == "" {
			missing = append(missing, it.ProductID)
		}
	}
	if len(missing) > 0 {
		return &MissingCustomerFieldError{ProductIDs: missing}
	}
	return nil
}

// applyCoupon resolves and validates the coupon, returning its frozen
// snapshot and the display-currency discount. Scoped coupons restrict the
// eligible subtotal to matching line items; the discount is computed
// against that restricted subtotal, never the whole cart.
func (e *Engine) applyCoupon(
	ctx context.Context,
	in CheckoutInput,
	products map[string]*catalog.Product,
	items []orders.LineItem,
	subtotal money.Amount,
	rate money.Amount,
	now time.Time,
) (*coupon.Snapshot, money.Amount, error) {
	c, err := e.coupons.FindByCode(ctx, in.CouponCode)
	if err != nil {
		return nil, money.Zero(), fmt.Errorf("find coupon: %w", err)
	}
	if c == nil {
		return nil, money.Zero(), &CouponInvalidError{Code: CouponNotFound}
	}
	if now.After(c.ExpiresAt) {
		return nil, money.Zero(), &CouponInvalidError{Code: CouponExpired}
	}

	redeemed, err := e.coupons.HasRedemption(ctx, in.BuyerID, c.CouponID)
	if err != nil {
		return nil, money.Zero(), fmt.Errorf("check redemption: %w", err)
	}
	if redeemed {
		return nil, money.Zero(), &CouponInvalidError{Code: CouponAlreadyRedeemed}
	}

	eligible := subtotal
	switch c.Scope {
	case coupon.ScopeUser:
		if c.TargetID != in.BuyerID {
			return nil, money.Zero(), &CouponInvalidError{Code: CouponWrongScope}
		}
	case coupon.ScopeProduct:
		eligible = money.Zero()
		for _, li := range items {
			if li.ProductID == c.TargetID {
				eligible = eligible.Add(li.UnitPrice.MulInt(int64(li.Quantity)))
			}
		}
	case coupon.ScopeCategory:
		eligible = money.Zero()
		for _, li := range items {
			if products[li.ProductID].CategoryID == c.TargetID {
				eligible = eligible.Add(li.UnitPrice.MulInt(int64(li.Quantity)))
			}
		}
	}

	var discount money.Amount
	if c.Kind == coupon.KindPercent {
		discount = eligible.Mul(c.Amount).DivInt(100)
	} else {
		// Fixed amounts are in the home currency.
		discount = money.Min(money.ToDisplay(c.Amount, in.Currency, rate), eligible)
	}

	snap := &coupon.Snapshot{
		CouponID: c.CouponID,
		Scope:    c.Scope,
		Kind:     c.Kind,
		Amount:   c.Amount,
	}
	return snap, discount, nil
}

// applyCashback validates the point request against the live balance,
// converts it to currency and clamps it so the payable amount never goes
// negative; a clamped redemption recomputes the applied point count
// downward, never up.
func (e *Engine) applyCashback(
	ctx context.Context,
	in CheckoutInput,
	remainder money.Amount,
	rate money.Amount,
) (*orders.CashbackRedemption, money.Amount, error) {
	points := in.CashbackPoints
	if points <= 0 {
		return nil, money.Zero(), &CashbackInvalidError{Code: CashbackNotPositive}
	}
	if points%money.PointsPerUnit != 0 {
		return nil, money.Zero(), &CashbackInvalidError{Code: CashbackNotMultipleOfTen}
	}

	balance, err := e.ledger.GetBalance(ctx, in.BuyerID)
	if err != nil {
		return nil, money.Zero(), fmt.Errorf("cashback balance: %w", err)
	}
	if points > balance {
		return nil, money.Zero(), &CashbackInvalidError{Code: CashbackInsufficientBalance, Balance: balance}
	}

	amountHome := money.PointsToAmount(points)
	amountDisplay := money.ToDisplay(amountHome, in.Currency, rate)

	applied := points
	limit := remainder.FloorToZero()
	if amountDisplay.GreaterThan(limit) {
		// Floor the points first, then rebuild the amount from them, so the
		// discount never exceeds what the debit covers.
		applied = money.AmountToPoints(money.ToHome(limit, in.Currency, rate))
		amountHome = money.PointsToAmount(applied)
		amountDisplay = money.ToDisplay(amountHome, in.Currency, rate)
	}

	redemption := &orders.CashbackRedemption{
		RequestedPoints: points,
		AppliedPoints:   applied,
		Amount:          amountHome,
	}
	return redemption, amountDisplay, nil
}
