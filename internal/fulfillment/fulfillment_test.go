package fulfillment

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/secrets"
)

type fakeProvider struct {
	failVendors map[string]bool
	calls       []VoucherRequest
}

func (p *fakeProvider) CreateVoucherOrder(ctx context.Context, req VoucherRequest) (*VoucherOrder, error) {
	p.calls = append(p.calls, req)
	if p.failVendors[req.Vendor] {
		return nil, errors.New("vendor down")
	}
	return &VoucherOrder{
		ProviderOrderID: "prov-" + req.IdempotencyKey,
		Codes:           []string{"AAA", "BBB"}[:req.Quantity],
	}, nil
}

func newCoordinator(t *testing.T, p VoucherProvider) *Coordinator {
	t.Helper()
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatal(err)
	}
	return NewCoordinator(p, cipher)
}

func pendingItem(product, vendor string, qty int) orders.LineItem {
	return orders.LineItem{
		ProductID: product,
		Quantity:  qty,
		Fulfillment: &orders.Fulfillment{
			Vendor: vendor, DenominationID: "d1", Status: orders.FulfillmentPending,
		},
	}
}

func TestProvisionSealsCodes(t *testing.T) {
	p := &fakeProvider{}
	c := newCoordinator(t, p)
	items := []orders.LineItem{pendingItem("p1", "giftly", 2)}

	report, err := c.Provision(context.Background(), "o1", items)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !report.Mutated || len(report.Provisioned) != 1 {
		t.Fatalf("report = %+v", report)
	}

	item := items[0]
	if item.Fulfillment.Status != orders.FulfillmentProvisioned {
		t.Fatalf("status = %s", item.Fulfillment.Status)
	}
	if item.Fulfillment.ProviderOrderID != "prov-o1:0" {
		t.Fatalf("provider order id = %s", item.Fulfillment.ProviderOrderID)
	}
	if len(item.Proof) != 2 {
		t.Fatalf("proof count = %d, want 2", len(item.Proof))
	}
	for _, sealed := range item.Proof {
		if sealed.Ciphertext == "AAA" || sealed.Ciphertext == "BBB" {
			t.Fatal("plaintext code persisted")
		}
	}
}

func TestProvisionFailureDoesNotAbortBatch(t *testing.T) {
	p := &fakeProvider{failVendors: map[string]bool{"down": true}}
	c := newCoordinator(t, p)
	items := []orders.LineItem{
		pendingItem("p1", "down", 1),
		pendingItem("p2", "giftly", 1),
	}

	report, err := c.Provision(context.Background(), "o1", items)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].ProductID != "p1" {
		t.Fatalf("failed = %+v", report.Failed)
	}
	if len(report.Provisioned) != 1 || report.Provisioned[0] != 1 {
		t.Fatalf("provisioned = %v", report.Provisioned)
	}
	if items[0].Fulfillment.Status != orders.FulfillmentFailed || items[0].Fulfillment.LastError == "" {
		t.Fatalf("failed item = %+v", items[0].Fulfillment)
	}
	if items[1].Fulfillment.Status != orders.FulfillmentProvisioned {
		t.Fatalf("second item = %+v", items[1].Fulfillment)
	}
}

func TestProvisionSkipsProvisionedAndManualItems(t *testing.T) {
	p := &fakeProvider{}
	c := newCoordinator(t, p)
	items := []orders.LineItem{
		{ProductID: "manual", Quantity: 1}, // no fulfillment spec
		{
			ProductID: "done", Quantity: 1,
			Fulfillment: &orders.Fulfillment{Vendor: "giftly", Status: orders.FulfillmentProvisioned, Attempts: 1},
		},
	}

	report, err := c.Provision(context.Background(), "o1", items)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if report.Mutated || len(p.calls) != 0 {
		t.Fatalf("nothing should have been attempted: report=%+v calls=%d", report, len(p.calls))
	}
}

func TestProvisionRetryIncrementsAttempts(t *testing.T) {
	p := &fakeProvider{failVendors: map[string]bool{"giftly": true}}
	c := newCoordinator(t, p)
	items := []orders.LineItem{pendingItem("p1", "giftly", 1)}
	ctx := context.Background()

	if _, err := c.Provision(ctx, "o1", items); err != nil {
		t.Fatal(err)
	}
	if items[0].Fulfillment.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", items[0].Fulfillment.Attempts)
	}

	p.failVendors["giftly"] = false
	report, err := c.Provision(ctx, "o1", items)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Fulfillment.Attempts != 2 || items[0].Fulfillment.LastError != "" {
		t.Fatalf("retried item = %+v", items[0].Fulfillment)
	}
	if len(report.Provisioned) != 1 {
		t.Fatalf("report = %+v", report)
	}

	// The provider saw the same idempotency key both times.
	if p.calls[0].IdempotencyKey != p.calls[1].IdempotencyKey {
		t.Fatalf("keys differ: %q vs %q", p.calls[0].IdempotencyKey, p.calls[1].IdempotencyKey)
	}
}
