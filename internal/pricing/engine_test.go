package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohamedayman517/mangastore-orderflow/internal/catalog"
	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/dynamomock"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ledger"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/rates"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ledgerRow struct {
	UserID string `dynamodbav:"user_id"`
	Points int    `dynamodbav:"points"`
}

type fixture struct {
	engine *Engine
	db     *dynamomock.DB
	orders *orders.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dynamomock.New()
	db.CreateTable("products", "product_id")
	db.CreateTable("coupons", "code")
	db.CreateTable("redemptions", "redemption_key")
	db.CreateTable("ledger", "user_id")
	db.CreateTable("orders", "order_id")

	db.MustSeed("products", catalog.Product{
		ProductID: "A", Name: "Gift Card A", CategoryID: "cards",
		Price: money.MustParse("50"), Stock: 10,
	})
	db.MustSeed("products", catalog.Product{
		ProductID: "B", Name: "Gift Card B", CategoryID: "games",
		Price: money.MustParse("30"), Stock: 5,
	})
	db.MustSeed("products", catalog.Product{
		ProductID: "topup", Name: "Account Top-Up", CategoryID: "games",
		Price: money.MustParse("20"), Stock: 5,
		Field: catalog.FieldRequirement{Kind: catalog.RequiresCustomerField, Label: "player id"},
	})
	db.MustSeed("products", catalog.Product{
		ProductID: "gone", Price: money.MustParse("10"), Stock: 0,
	})
	db.MustSeed("ledger", ledgerRow{UserID: "buyer1", Points: 1000})

	ordersStore := orders.NewStore(db, "orders")
	engine := NewEngine(Config{
		Catalog: catalog.NewStore(db, "products"),
		Coupons: coupon.NewStore(db, "coupons", "redemptions"),
		Ledger:  ledger.NewStore(db, "ledger"),
		Rates:   rates.Static{Rate: money.MustParse("50")},
		Orders:  ordersStore,
		Now:     func() time.Time { return testNow },
	})
	return &fixture{engine: engine, db: db, orders: ordersStore}
}

func cartA2() CheckoutInput {
	return CheckoutInput{
		BuyerID:       "buyer1",
		Items:         []CartItem{{ProductID: "A", Quantity: 2}},
		Currency:      money.EGP,
		PaymentMethod: "card",
	}
}

func TestQuotePercentTaxScenario(t *testing.T) {
	f := newFixture(t)

	o, err := f.engine.Quote(context.Background(), cartA2())
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if got := o.Subtotal.Display(); got != "100.00" {
		t.Fatalf("subtotal = %s, want 100.00", got)
	}
	if got := o.TaxAmount.Display(); got != "1.00" {
		t.Fatalf("tax = %s, want 1.00", got)
	}
	if got := o.TotalPrice.Display(); got != "101.00" {
		t.Fatalf("total = %s, want 101.00", got)
	}
	if o.CurrentStatus != orders.StatusUnconfirmed {
		t.Fatalf("status = %s, want unconfirmed", o.CurrentStatus)
	}
	if len(o.StatusHistory) != 1 || o.StatusHistory[0].State != orders.StatusUnconfirmed {
		t.Fatalf("history = %+v", o.StatusHistory)
	}
	if !o.ExpiresAt.Equal(testNow.Add(30 * time.Minute)) {
		t.Fatalf("expires at = %s, want now+30m", o.ExpiresAt)
	}
}

func TestQuoteCouponAndCashbackScenario(t *testing.T) {
	f := newFixture(t)
	f.db.MustSeed("coupons", coupon.Coupon{
		Code: "TEN", CouponID: "c-ten", Scope: coupon.ScopeGlobal,
		Kind: coupon.KindFixed, Amount: money.MustParse("10"),
		ExpiresAt: testNow.Add(time.Hour),
	})

	in := cartA2()
	in.CouponCode = "TEN"
	in.CashbackPoints = 20

	o, err := f.engine.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if got := o.CouponDiscount.Display(); got != "10.00" {
		t.Fatalf("coupon discount = %s, want 10.00", got)
	}
	if got := o.CashbackAmount.Display(); got != "2.00" {
		t.Fatalf("cashback amount = %s, want 2.00", got)
	}
	if got := o.TaxAmount.Display(); got != "0.88" {
		t.Fatalf("tax = %s, want 0.88", got)
	}
	if got := o.TotalPrice.Display(); got != "86.88" {
		t.Fatalf("total = %s, want 86.88", got)
	}
	if o.Cashback == nil || o.Cashback.AppliedPoints != 20 || o.Cashback.Debited {
		t.Fatalf("cashback snapshot = %+v", o.Cashback)
	}
	if o.Coupon == nil || o.Coupon.CouponID != "c-ten" {
		t.Fatalf("coupon snapshot = %+v", o.Coupon)
	}
}

func TestQuoteClampsCashbackAndRecomputesPoints(t *testing.T) {
	f := newFixture(t)
	f.db.MustSeed("coupons", coupon.Coupon{
		Code: "TEN", CouponID: "c-ten", Scope: coupon.ScopeGlobal,
		Kind: coupon.KindFixed, Amount: money.MustParse("10"),
		ExpiresAt: testNow.Add(time.Hour),
	})

	// Subtotal 60, coupon 10 -> remainder 50. 1000 points = 100 EGP, clamped
	// to 50 and recomputed to 500 applied points.
	in := CheckoutInput{
		BuyerID:        "buyer1",
		Items:          []CartItem{{ProductID: "B", Quantity: 2}},
		Currency:       money.EGP,
		PaymentMethod:  "instapay",
		CouponCode:     "TEN",
		CashbackPoints: 1000,
	}
	o, err := f.engine.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if got := o.CashbackAmount.Display(); got != "50.00" {
		t.Fatalf("cashback amount = %s, want 50.00", got)
	}
	if o.Cashback.RequestedPoints != 1000 || o.Cashback.AppliedPoints != 500 {
		t.Fatalf("points = %+v, want requested 1000 applied 500", o.Cashback)
	}
	// instapay is a zero flat fee; total = 60 - 10 - 50.
	if got := o.TotalPrice.Display(); got != "0.00" {
		t.Fatalf("total = %s, want 0.00", got)
	}
}

func TestQuoteClampedCashbackMatchesFlooredPoints(t *testing.T) {
	f := newFixture(t)
	f.db.MustSeed("products", catalog.Product{
		ProductID: "tiny", Name: "Sticker", CategoryID: "cards",
		Price: money.MustParse("0.55"), Stock: 5,
	})

	in := CheckoutInput{
		BuyerID:        "buyer1",
		Items:          []CartItem{{ProductID: "tiny", Quantity: 1}},
		Currency:       money.EGP,
		PaymentMethod:  "instapay",
		CashbackPoints: 100, // 10 EGP against a 0.55 remainder
	}
	o, err := f.engine.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 0.55 EGP floors to 5 points and the discount is rebuilt from them, so
	// the buyer never gets more off than the debit covers.
	if o.Cashback.AppliedPoints != 5 {
		t.Fatalf("applied points = %d, want 5", o.Cashback.AppliedPoints)
	}
	if got := o.CashbackAmount.Display(); got != "0.50" {
		t.Fatalf("cashback amount = %s, want 0.50", got)
	}
	if got := o.TotalPrice.Display(); got != "0.05" {
		t.Fatalf("total = %s, want 0.05", got)
	}
}

func TestQuoteProductScopedCouponRestrictsEligibleSubtotal(t *testing.T) {
	f := newFixture(t)
	f.db.MustSeed("coupons", coupon.Coupon{
		Code: "HALF-A", CouponID: "c-half", Scope: coupon.ScopeProduct, TargetID: "A",
		Kind: coupon.KindPercent, Amount: money.MustParse("50"),
		ExpiresAt: testNow.Add(time.Hour),
	})

	in := CheckoutInput{
		BuyerID: "buyer1",
		Items: []CartItem{
			{ProductID: "A", Quantity: 1}, // eligible: 50
			{ProductID: "B", Quantity: 1}, // not eligible
		},
		Currency:      money.EGP,
		PaymentMethod: "instapay",
		CouponCode:    "HALF-A",
	}
	o, err := f.engine.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 50% of the eligible 50, not of the 80 cart.
	if got := o.CouponDiscount.Display(); got != "25.00" {
		t.Fatalf("coupon discount = %s, want 25.00", got)
	}
}

func TestQuoteFixedCouponCapsAtEligibleSubtotal(t *testing.T) {
	f := newFixture(t)
	f.db.MustSeed("coupons", coupon.Coupon{
		Code: "BIG", CouponID: "c-big", Scope: coupon.ScopeGlobal,
		Kind: coupon.KindFixed, Amount: money.MustParse("500"),
		ExpiresAt: testNow.Add(time.Hour),
	})

	in := cartA2()
	in.PaymentMethod = "instapay"
	in.CouponCode = "BIG"
	o, err := f.engine.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if got := o.CouponDiscount.Display(); got != "100.00" {
		t.Fatalf("coupon discount = %s, want capped 100.00", got)
	}
}

func TestQuoteUSDConversion(t *testing.T) {
	f := newFixture(t)

	in := cartA2()
	in.Currency = money.USD
	in.PaymentMethod = "vodafone_cash" // 5 EGP flat
	o, err := f.engine.Quote(context.Background(), in)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 100 EGP / 50 = 2 USD subtotal, flat 5 EGP fee = 0.10 USD.
	if got := o.Subtotal.Display(); got != "2.00" {
		t.Fatalf("subtotal = %s, want 2.00", got)
	}
	if got := o.TaxAmount.Display(); got != "0.10" {
		t.Fatalf("tax = %s, want 0.10", got)
	}
	if got := o.TotalPrice.Display(); got != "2.10" {
		t.Fatalf("total = %s, want 2.10", got)
	}
	if !o.ExchangeRate.Equal(money.MustParse("50")) {
		t.Fatalf("rate snapshot = %s, want 50", o.ExchangeRate)
	}
}

func TestQuoteCollectsEveryMissingProduct(t *testing.T) {
	f := newFixture(t)

	in := CheckoutInput{
		BuyerID: "buyer1",
		Items: []CartItem{
			{ProductID: "ghost1", Quantity: 1},
			{ProductID: "A", Quantity: 1},
			{ProductID: "ghost2", Quantity: 1},
		},
		Currency:      money.EGP,
		PaymentMethod: "card",
	}
	_, err := f.engine.Quote(context.Background(), in)
	var notFound *ProductNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want ProductNotFoundError", err)
	}
	if len(notFound.ProductIDs) != 2 {
		t.Fatalf("missing = %v, want both ghosts", notFound.ProductIDs)
	}
}

func TestQuoteCollectsEveryStockOffender(t *testing.T) {
	f := newFixture(t)

	in := CheckoutInput{
		BuyerID: "buyer1",
		Items: []CartItem{
			{ProductID: "gone", Quantity: 1}, // out of stock
			{ProductID: "B", Quantity: 9},    // only 5
		},
		Currency:      money.EGP,
		PaymentMethod: "card",
	}
	_, err := f.engine.Quote(context.Background(), in)
	var stockErr *StockUnavailableError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err = %v, want StockUnavailableError", err)
	}
	if len(stockErr.OutOfStock) != 1 || stockErr.OutOfStock[0] != "gone" {
		t.Fatalf("out of stock = %v", stockErr.OutOfStock)
	}
	if len(stockErr.Insufficient) != 1 || stockErr.Insufficient[0].Available != 5 {
		t.Fatalf("insufficient = %+v", stockErr.Insufficient)
	}
}

func TestQuoteAggregatesDuplicateProductLines(t *testing.T) {
	f := newFixture(t)

	in := CheckoutInput{
		BuyerID: "buyer1",
		Items: []CartItem{
			{ProductID: "B", Quantity: 3},
			{ProductID: "B", Quantity: 3}, // combined 6 against stock 5
		},
		Currency:      money.EGP,
		PaymentMethod: "card",
	}
	_, err := f.engine.Quote(context.Background(), in)
	var stockErr *StockUnavailableError
	if !errors.As(err, &stockErr) {
		t.Fatalf("err = %v, want StockUnavailableError", err)
	}
	if len(stockErr.Insufficient) != 1 || stockErr.Insufficient[0].Requested != 6 {
		t.Fatalf("insufficient = %+v, want combined 6 for B", stockErr.Insufficient)
	}
}

func TestQuoteRequiresCustomerField(t *testing.T) {
	f := newFixture(t)

	in := CheckoutInput{
		BuyerID:       "buyer1",
		Items:         []CartItem{{ProductID: "topup", Quantity: 1}},
		Currency:      money.EGP,
		PaymentMethod: "card",
	}
	_, err := f.engine.Quote(context.Background(), in)
	var missing *MissingCustomerFieldError
	if !errors.As(err, &missing) || len(missing.ProductIDs) != 1 {
		t.Fatalf("err = %v, want MissingCustomerFieldError for topup", err)
	}

	in.Items[0].CustomerField = &orders.CustomerField{Label: "player id", Value: "pl-77"}
	if _, err := f.engine.Quote(context.Background(), in); err != nil {
		t.Fatalf("quote with field: %v", err)
	}
}

func TestQuoteCouponRejections(t *testing.T) {
	f := newFixture(t)
	f.db.MustSeed("coupons", coupon.Coupon{
		Code: "OLD", CouponID: "c-old", Scope: coupon.ScopeGlobal,
		Kind: coupon.KindFixed, Amount: money.MustParse("5"),
		ExpiresAt: testNow.Add(-time.Hour),
	})
	f.db.MustSeed("coupons", coupon.Coupon{
		Code: "THEIRS", CouponID: "c-theirs", Scope: coupon.ScopeUser, TargetID: "someone-else",
		Kind: coupon.KindFixed, Amount: money.MustParse("5"),
		ExpiresAt: testNow.Add(time.Hour),
	})

	cases := []struct {
		code string
		want string
	}{
		{"NOPE", CouponNotFound},
		{"OLD", CouponExpired},
		{"THEIRS", CouponWrongScope},
	}
	for _, tc := range cases {
		in := cartA2()
		in.CouponCode = tc.code
		_, err := f.engine.Quote(context.Background(), in)
		var invalid *CouponInvalidError
		if !errors.As(err, &invalid) || invalid.Code != tc.want {
			t.Fatalf("coupon %s: err = %v, want code %s", tc.code, err, tc.want)
		}
	}
}

func TestQuoteRejectsRedeemedCoupon(t *testing.T) {
	f := newFixture(t)
	f.db.MustSeed("coupons", coupon.Coupon{
		Code: "ONCE", CouponID: "c-once", Scope: coupon.ScopeGlobal,
		Kind: coupon.KindFixed, Amount: money.MustParse("5"),
		ExpiresAt: testNow.Add(time.Hour),
	})
	cs := coupon.NewStore(f.db, "coupons", "redemptions")
	if err := cs.Redeem(context.Background(), "buyer1", "c-once", "earlier-order"); err != nil {
		t.Fatal(err)
	}

	in := cartA2()
	in.CouponCode = "ONCE"
	_, err := f.engine.Quote(context.Background(), in)
	var invalid *CouponInvalidError
	if !errors.As(err, &invalid) || invalid.Code != CouponAlreadyRedeemed {
		t.Fatalf("err = %v, want already_redeemed", err)
	}
}

func TestQuoteCashbackRejections(t *testing.T) {
	f := newFixture(t)

	in := cartA2()
	in.CashbackPoints = 15
	_, err := f.engine.Quote(context.Background(), in)
	var invalid *CashbackInvalidError
	if !errors.As(err, &invalid) || invalid.Code != CashbackNotMultipleOfTen {
		t.Fatalf("err = %v, want not_multiple_of_ten", err)
	}

	in.CashbackPoints = 2000 // balance is 1000
	_, err = f.engine.Quote(context.Background(), in)
	if !errors.As(err, &invalid) || invalid.Code != CashbackInsufficientBalance {
		t.Fatalf("err = %v, want insufficient_balance", err)
	}
	if invalid.Balance != 1000 {
		t.Fatalf("reported balance = %d, want 1000", invalid.Balance)
	}
}

func TestQuoteRejectsUnknownPaymentMethod(t *testing.T) {
	f := newFixture(t)

	in := cartA2()
	in.PaymentMethod = "barter"
	_, err := f.engine.Quote(context.Background(), in)
	var unknown *UnknownPaymentMethodError
	if !errors.As(err, &unknown) || unknown.Method != "barter" {
		t.Fatalf("err = %v, want UnknownPaymentMethodError", err)
	}
}

func TestCheckoutPersistsUnconfirmedOrder(t *testing.T) {
	f := newFixture(t)

	o, err := f.engine.Checkout(context.Background(), cartA2())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	stored, err := f.orders.Get(context.Background(), o.OrderID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored == nil || stored.CurrentStatus != orders.StatusUnconfirmed {
		t.Fatalf("stored = %+v", stored)
	}
	if !stored.TotalPrice.Equal(o.TotalPrice) {
		t.Fatalf("stored total = %s, want %s", stored.TotalPrice, o.TotalPrice)
	}
}
