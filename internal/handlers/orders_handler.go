package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/idempotency"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ledger"
	"github.com/mohamedayman517/mangastore-orderflow/internal/lifecycle"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/pricing"
	"github.com/mohamedayman517/mangastore-orderflow/internal/rates"
	"github.com/mohamedayman517/mangastore-orderflow/internal/stock"
	"github.com/mohamedayman517/mangastore-orderflow/internal/validation"
)

// HandlerConfig groups dependencies for the order routes.
type HandlerConfig struct {
	Engine      *pricing.Engine
	Machine     *lifecycle.Machine
	Orders      *orders.Store
	Idempotency *idempotency.Store
	Logger      *slog.Logger
	Now         func() time.Time
}

// RegisterOrderRoutes registers the storefront's order API.
func RegisterOrderRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r.POST("/checkout", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		buyerID := c.GetHeader("X-User-Id")
		if buyerID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_user"})
			return
		}
		idempKey := c.GetHeader("Idempotency-Key")
		if idempKey == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_idempotency_key"})
			return
		}

		order, err := cfg.Engine.Quote(ctx, checkoutInput(buyerID, req))
		if err != nil {
			writeDomainError(c, err)
			return
		}

		rec := cfg.Idempotency.NewRecord(idempKey, buyerID)
		rec.OrderID = order.OrderID
		err = cfg.Orders.CreateWithIdempotency(ctx, cfg.Idempotency.Table(), rec, *order)
		if errors.Is(err, orders.ErrDuplicateOrder) {
			replayIdempotent(c, cfg, idempKey, buyerID, err)
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed", "detail": err.Error()})
			return
		}

		if err := cfg.Idempotency.MarkDone(ctx, idempKey, order.OrderID); err != nil {
			logger.Warn("idempotency mark done failed", "key", idempKey, "error", err)
		}

		c.Header("Location", "/orders/"+order.OrderID)
		c.JSON(http.StatusCreated, order)
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_read_failed"})
			return
		}
		if o == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"order": o, "expired": o.Expired(now())})
	})

	r.POST("/orders/:id/evidence", func(c *gin.Context) {
		var req validation.PaymentEvidenceRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		err := cfg.Machine.SubmitPaymentEvidence(c.Request.Context(), c.Param("id"), actor(c), req.ProofURL)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": orders.StatusToPay})
	})

	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		var req validation.ReasonRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		err := cfg.Machine.Cancel(c.Request.Context(), c.Param("id"), actor(c), req.Reason)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": orders.StatusCanceled})
	})

	r.POST("/orders/:id/reject", func(c *gin.Context) {
		var req validation.ReasonRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		err := cfg.Machine.Reject(c.Request.Context(), c.Param("id"), actor(c), req.Reason)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": orders.StatusRejected})
	})

	r.POST("/orders/:id/preparing", func(c *gin.Context) {
		report, err := cfg.Machine.MarkPreparing(c.Request.Context(), c.Param("id"), actor(c))
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": orders.StatusPreparing, "fulfillment": report})
	})

	r.POST("/orders/:id/delivered", func(c *gin.Context) {
		report, err := cfg.Machine.MarkDelivered(c.Request.Context(), c.Param("id"), actor(c))
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": orders.StatusDelivered, "fulfillment": report})
	})

	r.POST("/orders/:id/viewed", func(c *gin.Context) {
		err := cfg.Machine.MarkViewed(c.Request.Context(), c.Param("id"), actor(c))
		if err != nil {
			writeDomainError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": orders.StatusViewed})
	})
}

func checkoutInput(buyerID string, req validation.CheckoutRequest) pricing.CheckoutInput {
	items := make([]pricing.CartItem, 0, len(req.Items))
	for _, it := range req.Items {
		item := pricing.CartItem{ProductID: it.ProductID, Quantity: it.Quantity}
		if it.CustomerFieldValue != "" {
			item.CustomerField = &orders.CustomerField{
				Label: it.CustomerFieldLabel,
				Value: it.CustomerFieldValue,
			}
		}
		items = append(items, item)
	}
	return pricing.CheckoutInput{
		BuyerID:        buyerID,
		Items:          items,
		Currency:       money.Currency(req.Currency),
		PaymentMethod:  req.PaymentMethod,
		CouponCode:     req.CouponCode,
		CashbackPoints: req.CashbackPoints,
		IsGift:         req.IsGift,
		GiftRecipient:  req.GiftRecipient,
		ReferralEmail:  req.ReferralEmail,
	}
}

// replayIdempotent answers a checkout whose Idempotency-Key was already
// claimed: the stored record decides whether this is a replay or an
// in-flight duplicate. A key claimed by a different buyer replays nothing.
func replayIdempotent(c *gin.Context, cfg HandlerConfig, key, buyerID string, cause error) {
	ctx := c.Request.Context()
	rec, err := cfg.Idempotency.Get(ctx, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed", "detail": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed", "detail": cause.Error()})
		return
	}
	if rec.BuyerID != buyerID {
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_key_conflict", "detail": idempotency.ErrKeyConflict.Error()})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		o, getErr := cfg.Orders.Get(ctx, rec.OrderID)
		if getErr == nil && o != nil {
			c.JSON(http.StatusOK, o)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func actor(c *gin.Context) string {
	if id := c.GetHeader("X-User-Id"); id != "" {
		return id
	}
	return "admin"
}

// writeDomainError maps domain errors onto HTTP responses with enough
// structure to show every offending item, never just the first.
func writeDomainError(c *gin.Context, err error) {
	var (
		notFound     *pricing.ProductNotFoundError
		stockErr     *pricing.StockUnavailableError
		missingField *pricing.MissingCustomerFieldError
		couponErr    *pricing.CouponInvalidError
		cashbackErr  *pricing.CashbackInvalidError
		methodErr    *pricing.UnknownPaymentMethodError
		liveStock    *stock.InsufficientError
	)
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found", "product_ids": notFound.ProductIDs})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":        "stock_unavailable",
			"out_of_stock": stockErr.OutOfStock,
			"insufficient": stockErr.Insufficient,
		})
	case errors.As(err, &missingField):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_customer_field", "product_ids": missingField.ProductIDs})
	case errors.As(err, &couponErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "coupon_invalid", "reason": couponErr.Code})
	case errors.As(err, &cashbackErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cashback_invalid", "reason": cashbackErr.Code, "balance": cashbackErr.Balance})
	case errors.As(err, &methodErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_payment_method", "method": methodErr.Method})
	case errors.As(err, &liveStock):
		c.JSON(http.StatusConflict, gin.H{"error": "stock_unavailable", "product_id": liveStock.ProductID})
	case errors.Is(err, lifecycle.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, lifecycle.ErrOrderExpired):
		c.JSON(http.StatusGone, gin.H{"error": "order_expired"})
	case errors.Is(err, lifecycle.ErrEvidenceRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "evidence_required"})
	case errors.Is(err, lifecycle.ErrReasonRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason_required"})
	case errors.Is(err, coupon.ErrAlreadyRedeemed):
		c.JSON(http.StatusConflict, gin.H{"error": "coupon_already_redeemed"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_cashback_balance"})
	case errors.Is(err, orders.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "state_conflict"})
	case errors.Is(err, rates.ErrRateUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exchange_rate_unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "detail": err.Error()})
	}
}
