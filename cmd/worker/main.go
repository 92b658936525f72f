package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/mohamedayman517/mangastore-orderflow/internal/accounts"
	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/fulfillment"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ledger"
	"github.com/mohamedayman517/mangastore-orderflow/internal/lifecycle"
	"github.com/mohamedayman517/mangastore-orderflow/internal/notify"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ownership"
	"github.com/mohamedayman517/mangastore-orderflow/internal/secrets"
	"github.com/mohamedayman517/mangastore-orderflow/internal/stock"
)

// logSender stands in for the real mail collaborator: delivery rendering and
// transport live outside this core.
type logSender struct {
	logger *slog.Logger
}

func (s *logSender) Send(ctx context.Context, recipient, event, orderID string, payload map[string]string) error {
	s.logger.Info("notification delivered",
		"recipient", recipient, "event", event, "order_id", orderID, "payload", payload)
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	clients, err := awsx.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	cipher, err := secrets.NewCipherFromBase64(os.Getenv("PROOF_CIPHER_KEY"))
	if err != nil {
		log.Fatalf("failed to init proof cipher: %v", err)
	}

	ordersStore := orders.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"))
	provider := fulfillment.NewHTTPProvider(os.Getenv("VOUCHER_API_URL"), os.Getenv("VOUCHER_API_KEY"))

	machine := lifecycle.NewMachine(lifecycle.MachineConfig{
		Orders:      ordersStore,
		Stock:       stock.NewCoordinator(os.Getenv("PRODUCTS_TABLE")),
		Ledger:      ledger.NewStore(clients.DynamoDB, os.Getenv("LEDGER_TABLE")),
		Coupons:     coupon.NewStore(clients.DynamoDB, os.Getenv("COUPONS_TABLE"), os.Getenv("REDEMPTIONS_TABLE")),
		Fulfillment: fulfillment.NewCoordinator(provider, cipher),
		Ownership:   ownership.NewStore(clients.DynamoDB, os.Getenv("OWNERSHIP_TABLE")),
		Accounts:    accounts.NewStore(clients.DynamoDB, os.Getenv("ACCOUNTS_TABLE")),
		Notifier:    notify.NewQueue(clients.SQS, os.Getenv("NOTIFICATIONS_QUEUE_URL")),
		Metrics:     awsx.NewMetrics(clients.CloudWatch, "mangastore/orders"),
		Logger:      logger,
	})

	p := NewProcessor(&logSender{logger: logger}, machine, logger)

	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"kind":"notification","recipient":"local-user","event":"order.delivered","order_id":"local-order-1"}`
		}
		ev := events.SQSEvent{Records: []events.SQSMessage{{Body: testBody}}}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.Handle(ctx, ev); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
