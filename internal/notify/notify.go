// Package notify is the fire-and-forget notification boundary. Messages go
// onto an SQS queue for the worker to deliver; failures are logged and never
// block an order transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
)

// Event types emitted by the order lifecycle.
const (
	EventPaymentSubmitted = "order.payment_submitted"
	EventAdminAlert       = "order.admin_alert"
	EventCanceled         = "order.canceled"
	EventRejected         = "order.rejected"
	EventDelivered        = "order.delivered"
	EventReviewRequest    = "order.review_request"
)

// Message kinds consumed by the worker.
const (
	KindNotification     = "notification"
	KindFulfillmentRetry = "fulfillment_retry"
)

// Message is the queue payload. Recipient is a user id or an email address.
type Message struct {
	Kind         string            `json:"kind"`
	Recipient    string            `json:"recipient,omitempty"`
	Event        string            `json:"event,omitempty"`
	OrderID      string            `json:"order_id,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
	DelaySeconds int32             `json:"-"`
}

// Notifier enqueues a message for out-of-band delivery.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Queue publishes messages to SQS.
type Queue struct {
	client   awsx.SQSAPI
	queueURL string
}

func NewQueue(client awsx.SQSAPI, queueURL string) *Queue {
	return &Queue{client: client, queueURL: queueURL}
}

func (q *Queue) Notify(ctx context.Context, msg Message) error {
	if msg.Kind == "" {
		msg.Kind = KindNotification
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	bodyStr := string(body)

	input := &sqs.SendMessageInput{
		QueueUrl:    &q.queueURL,
		MessageBody: &bodyStr,
	}
	if msg.DelaySeconds > 0 {
		input.DelaySeconds = msg.DelaySeconds
	}
	if msg.Event != "" {
		event := msg.Event
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			"event": {
				DataType:    strPtr("String"),
				StringValue: &event,
			},
		}
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func strPtr(s string) *string { return &s }
