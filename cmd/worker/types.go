package main

import (
	"context"

	"github.com/mohamedayman517/mangastore-orderflow/internal/fulfillment"
)

// EmailSender delivers one notification out of band. The implementation is
// an external collaborator; the worker only routes to it.
type EmailSender interface {
	Send(ctx context.Context, recipient, event, orderID string, payload map[string]string) error
}

// Redriver re-runs voucher provisioning for an order with failed items.
type Redriver interface {
	MarkPreparing(ctx context.Context, orderID, actor string) (*fulfillment.Report, error)
}
