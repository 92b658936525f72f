package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/mohamedayman517/mangastore-orderflow/internal/fulfillment"
	"github.com/mohamedayman517/mangastore-orderflow/internal/notify"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
)

type sentMail struct {
	recipient, event, orderID string
}

type fakeSender struct {
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(ctx context.Context, recipient, event, orderID string, payload map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{recipient: recipient, event: event, orderID: orderID})
	return nil
}

type fakeRedriver struct {
	calls  []string
	report *fulfillment.Report
	err    error
}

func (f *fakeRedriver) MarkPreparing(ctx context.Context, orderID, actor string) (*fulfillment.Report, error) {
	f.calls = append(f.calls, orderID)
	return f.report, f.err
}

func sqsEvent(t *testing.T, msgs ...notify.Message) events.SQSEvent {
	t.Helper()
	ev := events.SQSEvent{}
	for _, m := range msgs {
		body, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		ev.Records = append(ev.Records, events.SQSMessage{Body: string(body)})
	}
	return ev
}

func TestHandleDeliversNotification(t *testing.T) {
	sender := &fakeSender{}
	redriver := &fakeRedriver{}
	p := NewProcessor(sender, redriver, nil)

	ev := sqsEvent(t, notify.Message{
		Kind:      notify.KindNotification,
		Recipient: "buyer1",
		Event:     notify.EventDelivered,
		OrderID:   "o1",
	})
	if err := p.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].recipient != "buyer1" || sender.sent[0].event != notify.EventDelivered {
		t.Fatalf("sent = %+v", sender.sent)
	}
	if len(redriver.calls) != 0 {
		t.Fatal("notification must not re-drive fulfillment")
	}
}

func TestHandleSenderFailurePropagates(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	p := NewProcessor(sender, &fakeRedriver{}, nil)

	ev := sqsEvent(t, notify.Message{Kind: notify.KindNotification, Recipient: "buyer1"})
	if err := p.Handle(context.Background(), ev); err == nil {
		t.Fatal("expected error so the runtime retries the batch")
	}
}

func TestHandleFulfillmentRetry(t *testing.T) {
	redriver := &fakeRedriver{report: &fulfillment.Report{Provisioned: []int{0}}}
	p := NewProcessor(&fakeSender{}, redriver, nil)

	ev := sqsEvent(t, notify.Message{Kind: notify.KindFulfillmentRetry, OrderID: "o1"})
	if err := p.Handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(redriver.calls) != 1 || redriver.calls[0] != "o1" {
		t.Fatalf("redriver calls = %v", redriver.calls)
	}
}

func TestHandleRetrySkipsMovedOnOrders(t *testing.T) {
	redriver := &fakeRedriver{err: orders.ErrStateConflict}
	p := NewProcessor(&fakeSender{}, redriver, nil)

	ev := sqsEvent(t, notify.Message{Kind: notify.KindFulfillmentRetry, OrderID: "o1"})
	if err := p.Handle(context.Background(), ev); err != nil {
		t.Fatalf("state conflict must be swallowed, got: %v", err)
	}
}

func TestHandleRejectsMalformedBody(t *testing.T) {
	p := NewProcessor(&fakeSender{}, &fakeRedriver{}, nil)
	ev := events.SQSEvent{Records: []events.SQSMessage{{Body: "{not json"}}}
	if err := p.Handle(context.Background(), ev); err == nil {
		t.Fatal("expected error for malformed body")
	}
}
