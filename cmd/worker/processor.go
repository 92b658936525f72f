package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/mohamedayman517/mangastore-orderflow/internal/notify"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
)

// Processor consumes the notifications queue: plain notifications go to the
// email sender, fulfillment retries re-drive provisioning through the state
// machine.
type Processor struct {
	sender   EmailSender
	redriver Redriver
	logger   *slog.Logger
}

func NewProcessor(sender EmailSender, redriver Redriver, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{sender: sender, redriver: redriver, logger: logger}
}

// Handle processes an SQS batch. A returned error makes the runtime retry
// the batch and eventually park it on the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker message failed", "message_id", rec.MessageId, "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg notify.Message
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	switch msg.Kind {
	case notify.KindFulfillmentRetry:
		return p.retryFulfillment(ctx, msg)
	default:
		if err := p.sender.Send(ctx, msg.Recipient, msg.Event, msg.OrderID, msg.Payload); err != nil {
			return fmt.Errorf("deliver notification: %w", err)
		}
		return nil
	}
}

func (p *Processor) retryFulfillment(ctx context.Context, msg notify.Message) error {
	report, err := p.redriver.MarkPreparing(ctx, msg.OrderID, "worker")
	if errors.Is(err, orders.ErrStateConflict) {
		// The order moved past Preparing (delivered, rejected, canceled)
		// while the retry sat in the queue; nothing left to do.
		p.logger.Info("fulfillment retry skipped", "order_id", msg.OrderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fulfillment retry: %w", err)
	}
	if report != nil && len(report.Failed) > 0 {
		// Still failing; the machine scheduled the next delayed retry and
		// alerted the admin, so this delivery itself succeeded.
		p.logger.Warn("fulfillment retry incomplete",
			"order_id", msg.OrderID, "failed_items", len(report.Failed))
	}
	return nil
}
