// Package fulfillment drives external voucher provisioning per line item.
// It is invoked from both the Preparing and Delivered transitions and is
// safe to call repeatedly: already-provisioned items are skipped, and one
// item's failure never aborts the batch.
package fulfillment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/secrets"
)

// VoucherRequest asks the provider for quantity units of one denomination.
// IdempotencyKey is stable per {order, line item} so provider-side retries
// are recognized as duplicates instead of double-spending inventory.
type VoucherRequest struct {
	Vendor         string
	DenominationID string
	Quantity       int
	IdempotencyKey string
}

// VoucherOrder is the provider's successful response.
type VoucherOrder struct {
	ProviderOrderID string
	Codes           []string
}

// VoucherProvider is the external gift-code API.
type VoucherProvider interface {
	CreateVoucherOrder(ctx context.Context, req VoucherRequest) (*VoucherOrder, error)
}

// ItemFailure is one line item's provisioning failure, surfaced to admins
// with enough detail to re-trigger manually.
type ItemFailure struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Attempts  int    `json:"attempts"`
	Reason    string `json:"reason"`
}

// Report summarizes one provisioning batch.
type Report struct {
	Provisioned []int         `json:"provisioned,omitempty"`
	Failed      []ItemFailure `json:"failed,omitempty"`
	// Mutated reports whether any line item changed and needs persisting.
	Mutated bool `json:"-"`
}

// Coordinator provisions vouchers and seals the returned codes.
type Coordinator struct {
	provider VoucherProvider
	cipher   *secrets.Cipher
	logger   *slog.Logger
}

func NewCoordinator(provider VoucherProvider, cipher *secrets.Cipher) *Coordinator {
	return &Coordinator{provider: provider, cipher: cipher, logger: slog.Default()}
}

// IdempotencyKey derives the stable per-item key.
func IdempotencyKey(orderID string, itemIndex int) string {
	return fmt.Sprintf("%s:%d", orderID, itemIndex)
}

// Provision walks the order's line items, provisioning every item that is
// flagged for external fulfillment and not already provisioned. Items are
// mutated in place; the caller persists them together in a single write
// after the batch completes.
func (c *Coordinator) Provision(ctx context.Context, orderID string, items []orders.LineItem) (*Report, error) {
	report := &Report{}
	for i := range items {
		item := &items[i]
		if item.Fulfillment == nil || item.Fulfillment.Status == orders.FulfillmentProvisioned {
			continue
		}

		result, err := c.provider.CreateVoucherOrder(ctx, VoucherRequest{
			Vendor:         item.Fulfillment.Vendor,
			DenominationID: item.Fulfillment.DenominationID,
			Quantity:       item.Quantity,
			IdempotencyKey: IdempotencyKey(orderID, i),
		})
		item.Fulfillment.Attempts++
		report.Mutated = true

		if err != nil {
			item.Fulfillment.Status = orders.FulfillmentFailed
			item.Fulfillment.LastError = err.Error()
			report.Failed = append(report.Failed, ItemFailure{
				Index:     i,
				ProductID: item.ProductID,
				Attempts:  item.Fulfillment.Attempts,
				Reason:    err.Error(),
			})
			c.logger.Warn("voucher provisioning failed",
				"order_id", orderID, "item", i, "product_id", item.ProductID,
				"attempts", item.Fulfillment.Attempts, "error", err)
			continue
		}

		proof := make([]secrets.EncryptedField, 0, len(result.Codes))
		for _, code := range result.Codes {
			sealed, encErr := c.cipher.Encrypt(code)
			if encErr != nil {
				// A code we cannot seal is a code we must not persist.
				return report, fmt.Errorf("encrypt voucher code: %w", encErr)
			}
			proof = append(proof, sealed)
		}
		item.Proof = append(item.Proof, proof...)
		item.Fulfillment.Status = orders.FulfillmentProvisioned
		item.Fulfillment.ProviderOrderID = result.ProviderOrderID
		item.Fulfillment.LastError = ""
		report.Provisioned = append(report.Provisioned, i)
	}
	return report, nil
}
