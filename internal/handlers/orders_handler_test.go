package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mohamedayman517/mangastore-orderflow/internal/catalog"
	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/dynamomock"
	"github.com/mohamedayman517/mangastore-orderflow/internal/idempotency"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ledger"
	"github.com/mohamedayman517/mangastore-orderflow/internal/lifecycle"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/pricing"
	"github.com/mohamedayman517/mangastore-orderflow/internal/rates"
	"github.com/mohamedayman517/mangastore-orderflow/internal/stock"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*gin.Engine, *dynamomock.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dynamomock.New()
	db.CreateTable("orders", "order_id")
	db.CreateTable("products", "product_id")
	db.CreateTable("coupons", "code")
	db.CreateTable("redemptions", "redemption_key")
	db.CreateTable("ledger", "user_id")
	db.CreateTable("idempotency", "idempotency_key")

	db.MustSeed("products", catalog.Product{
		ProductID: "A", Name: "Gift Card A", CategoryID: "cards",
		Price: money.MustParse("50"), Stock: 10,
	})

	ordersStore := orders.NewStore(db, "orders")
	ledgerStore := ledger.NewStore(db, "ledger")
	couponStore := coupon.NewStore(db, "coupons", "redemptions")
	now := func() time.Time { return testNow }

	engine := pricing.NewEngine(pricing.Config{
		Catalog: catalog.NewStore(db, "products"),
		Coupons: couponStore,
		Ledger:  ledgerStore,
		Rates:   rates.Static{Rate: money.MustParse("50")},
		Orders:  ordersStore,
		Now:     now,
	})
	machine := lifecycle.NewMachine(lifecycle.MachineConfig{
		Orders:  ordersStore,
		Stock:   stock.NewCoordinator("products"),
		Ledger:  ledgerStore,
		Coupons: couponStore,
		Now:     now,
	})

	r := gin.New()
	RegisterOrderRoutes(r, HandlerConfig{
		Engine:      engine,
		Machine:     machine,
		Orders:      ordersStore,
		Idempotency: idempotency.NewStore(db, "idempotency"),
		Now:         now,
	})
	return r, db
}

func checkoutBody() []byte {
	return []byte(`{"items":[{"product_id":"A","quantity":1}],"currency":"EGP","payment_method":"instapay"}`)
}

func doCheckout(r *gin.Engine, buyer, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(checkoutBody()))
	req.Header.Set("Content-Type", "application/json")
	if buyer != "" {
		req.Header.Set("X-User-Id", buyer)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func orderIDFrom(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var resp struct {
		OrderID string `json:"OrderID"`
	}
	if err := json.Unmarshal(body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return resp.OrderID
}

func TestCheckoutCreatesOrder(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doCheckout(r, "buyer1", "k1")
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	id := orderIDFrom(t, w.Body)
	if id == "" {
		t.Fatal("response carries no order id")
	}
	if loc := w.Header().Get("Location"); loc != "/orders/"+id {
		t.Fatalf("location = %q", loc)
	}
}

func TestCheckoutReplaysCompletedKey(t *testing.T) {
	r, _ := newTestRouter(t)

	first := doCheckout(r, "buyer1", "k1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first checkout = %d", first.Code)
	}
	firstID := orderIDFrom(t, first.Body)

	second := doCheckout(r, "buyer1", "k1")
	if second.Code != http.StatusOK {
		t.Fatalf("replay = %d, want 200, body %s", second.Code, second.Body.String())
	}
	if got := orderIDFrom(t, second.Body); got != firstID {
		t.Fatalf("replay order id = %s, want %s", got, firstID)
	}
}

func TestCheckoutKeyClaimedByAnotherBuyer(t *testing.T) {
	r, _ := newTestRouter(t)

	if w := doCheckout(r, "buyer1", "k1"); w.Code != http.StatusCreated {
		t.Fatalf("first checkout = %d", w.Code)
	}
	w := doCheckout(r, "buyer2", "k1")
	if w.Code != http.StatusConflict {
		t.Fatalf("foreign key reuse = %d, want 409, body %s", w.Code, w.Body.String())
	}
}

func TestCheckoutRequiresHeaders(t *testing.T) {
	r, _ := newTestRouter(t)

	if w := doCheckout(r, "", "k1"); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing user = %d, want 401", w.Code)
	}
	if w := doCheckout(r, "buyer1", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing idempotency key = %d, want 400", w.Code)
	}
}
