// Package lifecycle is the order state machine. Every transition has the
// same shape: fresh read, precondition check, side effects guarded by
// persisted gates, then an atomic compare-and-append on the order document.
// Side effects are derived from the fresh read, never from the caller's
// copy, because admins and buyers mutate the same documents concurrently.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/mohamedayman517/mangastore-orderflow/internal/accounts"
	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/fulfillment"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ledger"
	"github.com/mohamedayman517/mangastore-orderflow/internal/money"
	"github.com/mohamedayman517/mangastore-orderflow/internal/notify"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ownership"
	"github.com/mohamedayman517/mangastore-orderflow/internal/stock"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderExpired     = errors.New("order payment window expired")
	ErrEvidenceRequired = errors.New("payment evidence required")
	ErrReasonRequired   = errors.New("rejection reason required")
)

// Machine drives orders through their transitions. It is the only writer of
// the cashback ledger and the only caller of the stock coordinator.
type Machine struct {
	orders   *orders.Store
	stock    *stock.Coordinator
	ledger   *ledger.Store
	coupons  *coupon.Store
	fulfill  *fulfillment.Coordinator
	owners   *ownership.Store
	accounts accounts.Directory
	notifier notify.Notifier
	metrics  *awsx.Metrics
	logger   *slog.Logger
	nowFunc  func() time.Time

	// awardPercent of total price is credited back in points on delivery.
	awardPercent decimal.Decimal
	// reviewDelay before the review-request notification, capped by SQS at
	// 900 seconds.
	reviewDelay time.Duration
}

// MachineConfig groups the machine's collaborators.
type MachineConfig struct {
	Orders      *orders.Store
	Stock       *stock.Coordinator
	Ledger      *ledger.Store
	Coupons     *coupon.Store
	Fulfillment *fulfillment.Coordinator
	Ownership   *ownership.Store
	Accounts    accounts.Directory
	Notifier    notify.Notifier
	Metrics     *awsx.Metrics
	Logger      *slog.Logger

	AwardPercent decimal.Decimal
	ReviewDelay  time.Duration
	Now          func() time.Time
}

func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		orders:       cfg.Orders,
		stock:        cfg.Stock,
		ledger:       cfg.Ledger,
		coupons:      cfg.Coupons,
		fulfill:      cfg.Fulfillment,
		owners:       cfg.Ownership,
		accounts:     cfg.Accounts,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		nowFunc:      cfg.Now,
		awardPercent: cfg.AwardPercent,
		reviewDelay:  cfg.ReviewDelay,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.nowFunc == nil {
		m.nowFunc = time.Now
	}
	if m.awardPercent.IsZero() {
		m.awardPercent = decimal.NewFromInt(1)
	}
	if m.reviewDelay == 0 {
		m.reviewDelay = 15 * time.Minute
	}
	return m
}

// SubmitPaymentEvidence fires unconfirmed -> ToPay. Coupon redemption and
// cashback debit run first as independently idempotent effects; the stock
// decrements ride inside the compare-and-append transaction, so stock is
// decremented exactly once iff the transition fires and two concurrent
// attempts have exactly one winner.
func (m *Machine) SubmitPaymentEvidence(ctx context.Context, orderID, actor, proofURL string) error {
	if strings.TrimSpace(proofURL) == "" {
		return ErrEvidenceRequired
	}

	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrOrderNotFound
	}
	if o.Expired(m.nowFunc()) {
		return ErrOrderExpired
	}
	if o.CurrentStatus != orders.StatusUnconfirmed {
		return orders.ErrStateConflict
	}

	// Final line of defense against double coupon use: the conditional
	// insert recognizes this order's own retry and rejects everyone else.
	if o.Coupon != nil {
		if err := m.coupons.Redeem(ctx, o.BuyerID, o.Coupon.CouponID, o.OrderID); err != nil {
			return err
		}
	}

	if o.Cashback != nil && o.Cashback.AppliedPoints > 0 && !o.Cashback.Debited {
		err := m.orders.Transact(ctx, []awsx.TransactEntry{
			m.orders.FlagEntry(orderID, "cashback.debited", orders.ErrGateClosed),
			m.ledger.DebitEntry(o.BuyerID, o.Cashback.AppliedPoints),
		})
		switch {
		case errors.Is(err, orders.ErrGateClosed):
			// A prior attempt already debited; nothing to do.
		case err != nil:
			return err
		}
	}

	err = m.orders.Transition(ctx, orders.Transition{
		OrderID: orderID,
		From:    []string{orders.StatusUnconfirmed},
		To:      orders.StatusToPay,
		Event: orders.StatusEvent{
			State:     orders.StatusToPay,
			Message:   "payment evidence submitted",
			Actor:     actor,
			Timestamp: m.nowFunc(),
		},
		Sets: map[string]types.AttributeValue{
			"payment_proof": &types.AttributeValueMemberS{Value: proofURL},
		},
		Extras: m.stock.DecrementEntries(lineQuantities(o)),
	})
	if err != nil {
		return err
	}

	m.metrics.CountTransition(ctx, orders.StatusToPay)
	m.notify(ctx, notify.Message{
		Recipient: o.BuyerID,
		Event:     notify.EventPaymentSubmitted,
		OrderID:   orderID,
		Payload:   map[string]string{"total": o.TotalPrice.Display(), "currency": string(o.Currency)},
	})
	m.notify(ctx, notify.Message{
		Recipient: "admin",
		Event:     notify.EventAdminAlert,
		OrderID:   orderID,
		Payload:   map[string]string{"buyer_id": o.BuyerID},
	})
	return nil
}

// Cancel fires unconfirmed/ToPay -> Canceled with guarded reversals. The
// refund gate, the stock restores and the compare-and-append commit in one
// transaction, so re-running a completed cancellation is a no-op and a
// crashed one left nothing half-applied.
func (m *Machine) Cancel(ctx context.Context, orderID, actor, reason string) error {
	return m.reverse(ctx, orderID, actor, reason, orders.StatusCanceled,
		[]string{orders.StatusUnconfirmed, orders.StatusToPay}, notify.EventCanceled)
}

// Reject fires any non-terminal state -> Rejected. Reversal reuses the
// cancellation gates: a rejected order that had reached ToPay is unwound the
// same way a canceled one is.
func (m *Machine) Reject(ctx context.Context, orderID, actor, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}
	return m.reverse(ctx, orderID, actor, reason, orders.StatusRejected,
		[]string{orders.StatusUnconfirmed, orders.StatusToPay, orders.StatusPreparing}, notify.EventRejected)
}

func (m *Machine) reverse(ctx context.Context, orderID, actor, reason, to string, from []string, event string) error {
	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o == nil {
		return ErrOrderNotFound
	}
	if o.CurrentStatus == to {
		return nil
	}
	if !contains(from, o.CurrentStatus) {
		return orders.ErrStateConflict
	}

	// The refund gate rides in the transition's own update expression: the
	// transaction may touch the order document only once, and the status
	// compare already makes the paired ledger credit at-most-once.
	var extras []awsx.TransactEntry
	var flags []string
	if o.Cashback != nil && o.Cashback.Debited && !o.Cashback.Refunded {
		flags = append(flags, "cashback.refunded")
		extras = append(extras, m.ledger.CreditEntry(o.BuyerID, o.Cashback.AppliedPoints))
	}
	// Stock was decremented iff ToPay fired, which the history records.
	if o.HistoryContains(orders.StatusToPay) {
		extras = append(extras, m.stock.RestoreEntries(lineQuantities(o))...)
	}

	err = m.orders.Transition(ctx, orders.Transition{
		OrderID: orderID,
		From:    from,
		To:      to,
		Event: orders.StatusEvent{
			State:     to,
			Message:   reason,
			Actor:     actor,
			Timestamp: m.nowFunc(),
		},
		Flags:  flags,
		Extras: extras,
	})
	if errors.Is(err, orders.ErrStateConflict) {
		// Lost a race; if the winner reached the same terminal state this
		// call is a retry and succeeds as a no-op.
		cur, getErr := m.orders.Get(ctx, orderID)
		if getErr == nil && cur != nil && cur.CurrentStatus == to {
			return nil
		}
		return err
	}
	if err != nil {
		return err
	}

	m.metrics.CountTransition(ctx, to)
	m.notify(ctx, notify.Message{
		Recipient: o.BuyerID,
		Event:     event,
		OrderID:   orderID,
		Payload:   map[string]string{"reason": reason},
	})
	return nil
}

// MarkPreparing fires ToPay -> Preparing and runs voucher provisioning for
// line items that need it. Provisioning failures never block the transition;
// they are recorded per item and re-driven by a delayed retry message.
func (m *Machine) MarkPreparing(ctx context.Context, orderID, actor string) (*fulfillment.Report, error) {
	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}

	switch o.CurrentStatus {
	case orders.StatusToPay:
		err = m.orders.Transition(ctx, orders.Transition{
			OrderID: orderID,
			From:    []string{orders.StatusToPay},
			To:      orders.StatusPreparing,
			Event: orders.StatusEvent{
				State:     orders.StatusPreparing,
				Message:   "fulfillment started",
				Actor:     actor,
				Timestamp: m.nowFunc(),
			},
		})
		if errors.Is(err, orders.ErrStateConflict) {
			cur, getErr := m.orders.Get(ctx, orderID)
			if getErr != nil || cur == nil || cur.CurrentStatus != orders.StatusPreparing {
				return nil, err
			}
			o = cur
		} else if err != nil {
			return nil, err
		} else {
			m.metrics.CountTransition(ctx, orders.StatusPreparing)
		}
	case orders.StatusPreparing:
		// Re-invocation while resolving provider errors; provision again.
	default:
		return nil, orders.ErrStateConflict
	}

	return m.provision(ctx, orderID, o.Items)
}

// MarkDelivered fires ToPay/Preparing -> Delivered and runs the terminal
// side effects. Each effect is gated by its own persisted flag, so invoking
// this on an already-Delivered order re-runs only what never completed.
func (m *Machine) MarkDelivered(ctx context.Context, orderID, actor string) (*fulfillment.Report, error) {
	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}

	transitioned := false
	switch o.CurrentStatus {
	case orders.StatusToPay, orders.StatusPreparing:
		err = m.orders.Transition(ctx, orders.Transition{
			OrderID: orderID,
			From:    []string{orders.StatusToPay, orders.StatusPreparing},
			To:      orders.StatusDelivered,
			Event: orders.StatusEvent{
				State:     orders.StatusDelivered,
				Message:   "order delivered",
				Actor:     actor,
				Timestamp: m.nowFunc(),
			},
		})
		if errors.Is(err, orders.ErrStateConflict) {
			cur, getErr := m.orders.Get(ctx, orderID)
			if getErr != nil || cur == nil || cur.CurrentStatus != orders.StatusDelivered {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		} else {
			transitioned = true
		}
	case orders.StatusDelivered:
		// Retried admin action; fall through to the gated effects.
	default:
		return nil, orders.ErrStateConflict
	}

	// Fresh read: effects act on the post-transition document.
	o, err = m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}

	report, err := m.provision(ctx, orderID, o.Items)
	if err != nil {
		return report, err
	}

	if err := m.awardCashback(ctx, o); err != nil {
		return report, err
	}
	if err := m.awardReferral(ctx, o); err != nil {
		return report, err
	}
	if err := m.grantOwnership(ctx, o); err != nil {
		return report, err
	}

	if transitioned {
		m.metrics.CountTransition(ctx, orders.StatusDelivered)
		m.notify(ctx, notify.Message{
			Recipient: o.BuyerID,
			Event:     notify.EventDelivered,
			OrderID:   orderID,
		})
		m.notify(ctx, notify.Message{
			Recipient:    o.BuyerID,
			Event:        notify.EventReviewRequest,
			OrderID:      orderID,
			DelaySeconds: delaySeconds(m.reviewDelay),
		})
	}
	return report, nil
}

// MarkViewed appends the audit marker to a delivered order's history. The
// current state stays Delivered.
func (m *Machine) MarkViewed(ctx context.Context, orderID, actor string) error {
	return m.orders.AppendEvent(ctx, orderID, orders.StatusDelivered, orders.StatusEvent{
		State:     orders.StatusViewed,
		Message:   "proof opened",
		Actor:     actor,
		Timestamp: m.nowFunc(),
	})
}

// provision runs the fulfillment batch and persists all item mutations in a
// single write. Per-item failures are surfaced on the report, alert the
// admin, and schedule a delayed retry.
func (m *Machine) provision(ctx context.Context, orderID string, items []orders.LineItem) (*fulfillment.Report, error) {
	report, err := m.fulfill.Provision(ctx, orderID, items)
	if report != nil && report.Mutated {
		if persistErr := m.orders.ReplaceLineItems(ctx, orderID, items); persistErr != nil {
			return report, persistErr
		}
	}
	if err != nil {
		return report, err
	}

	if len(report.Failed) > 0 {
		m.notify(ctx, notify.Message{
			Recipient: "admin",
			Event:     notify.EventAdminAlert,
			OrderID:   orderID,
			Payload:   map[string]string{"fulfillment_failures": fmt.Sprintf("%d", len(report.Failed))},
		})
		m.notify(ctx, notify.Message{
			Kind:         notify.KindFulfillmentRetry,
			OrderID:      orderID,
			DelaySeconds: delaySeconds(m.reviewDelay),
		})
	}
	return report, nil
}

// awardCashback credits the buyer a fixed percentage of the total price,
// paired with the cashback_awarded gate in one transaction.
func (m *Machine) awardCashback(ctx context.Context, o *orders.Order) error {
	if o.CashbackAwarded {
		return nil
	}
	points := m.awardPoints(o)
	var err error
	if points > 0 {
		err = m.orders.Transact(ctx, []awsx.TransactEntry{
			m.orders.FlagEntry(o.OrderID, "cashback_awarded", orders.ErrGateClosed),
			m.ledger.CreditEntry(o.BuyerID, points),
		})
	} else {
		err = m.orders.SetFlag(ctx, o.OrderID, "cashback_awarded")
	}
	if errors.Is(err, orders.ErrGateClosed) {
		return nil
	}
	return err
}

// awardReferral credits the referrer when the checkout-time referral email
// resolves to a distinct existing account. The gate closes even when the
// lookup finds nothing, so a dead email is never re-resolved.
func (m *Machine) awardReferral(ctx context.Context, o *orders.Order) error {
	if o.ReferralCashbackAwarded || o.ReferralEmail == "" {
		return nil
	}

	referrer, err := m.accounts.FindByEmail(ctx, o.ReferralEmail)
	if err != nil {
		m.logger.Warn("referral lookup failed", "order_id", o.OrderID, "error", err)
		referrer = ""
	}

	points := m.awardPoints(o)
	var gateErr error
	if referrer != "" && referrer != o.BuyerID && points > 0 {
		gateErr = m.orders.Transact(ctx, []awsx.TransactEntry{
			m.orders.FlagEntry(o.OrderID, "referral_cashback_awarded", orders.ErrGateClosed),
			m.ledger.CreditEntry(referrer, points),
		})
	} else {
		gateErr = m.orders.SetFlag(ctx, o.OrderID, "referral_cashback_awarded")
	}
	if errors.Is(gateErr, orders.ErrGateClosed) {
		return nil
	}
	return gateErr
}

// grantOwnership appends one ownership record per line item. The per-record
// writes are individually idempotent; the order-level flag only spares the
// redundant calls on re-invocation.
func (m *Machine) grantOwnership(ctx context.Context, o *orders.Order) error {
	if o.OwnershipGranted {
		return nil
	}

	via := "purchase"
	if o.IsGift {
		via = "gift"
	}
	for _, item := range o.Items {
		if err := m.owners.Grant(ctx, o.BuyerID, item.ProductID, o.OrderID, via); err != nil {
			return err
		}
	}

	err := m.orders.SetFlag(ctx, o.OrderID, "ownership_granted")
	if errors.Is(err, orders.ErrGateClosed) {
		return nil
	}
	return err
}

// awardPoints computes the delivery award in whole points from the order's
// total, converted back to the home currency at the snapshot rate.
func (m *Machine) awardPoints(o *orders.Order) int {
	home := money.ToHome(o.TotalPrice, o.Currency, o.ExchangeRate)
	award := home.Mul(money.FromDecimal(m.awardPercent)).DivInt(100)
	return money.AmountToPoints(award)
}

func (m *Machine) notify(ctx context.Context, msg notify.Message) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, msg); err != nil {
		m.logger.Warn("notification enqueue failed",
			"order_id", msg.OrderID, "event", msg.Event, "error", err)
	}
}

// lineQuantities aggregates per product: a cart may list the same product on
// several lines, and the transaction allows only one write per product item.
func lineQuantities(o *orders.Order) []stock.Line {
	index := make(map[string]int, len(o.Items))
	lines := make([]stock.Line, 0, len(o.Items))
	for _, item := range o.Items {
		if i, ok := index[item.ProductID]; ok {
			lines[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, stock.Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// delaySeconds clamps a duration to the queue's 15 minute delay ceiling.
func delaySeconds(d time.Duration) int32 {
	s := int64(d / time.Second)
	if s > 900 {
		s = 900
	}
	if s < 0 {
		s = 0
	}
	return int32(s)
}
