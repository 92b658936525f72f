package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/mohamedayman517/mangastore-orderflow/internal/accounts"
	awsx "github.com/mohamedayman517/mangastore-orderflow/internal/aws"
	"github.com/mohamedayman517/mangastore-orderflow/internal/catalog"
	"github.com/mohamedayman517/mangastore-orderflow/internal/coupon"
	"github.com/mohamedayman517/mangastore-orderflow/internal/fulfillment"
	"github.com/mohamedayman517/mangastore-orderflow/internal/handlers"
	"github.com/mohamedayman517/mangastore-orderflow/internal/idempotency"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ledger"
	"github.com/mohamedayman517/mangastore-orderflow/internal/lifecycle"
	"github.com/mohamedayman517/mangastore-orderflow/internal/notify"
	"github.com/mohamedayman517/mangastore-orderflow/internal/orders"
	"github.com/mohamedayman517/mangastore-orderflow/internal/ownership"
	"github.com/mohamedayman517/mangastore-orderflow/internal/pricing"
	"github.com/mohamedayman517/mangastore-orderflow/internal/rates"
	"github.com/mohamedayman517/mangastore-orderflow/internal/secrets"
	"github.com/mohamedayman517/mangastore-orderflow/internal/stock"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrderRoutes(r, cfg)

	return r
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
	productStore := catalog.NewStore(clients.DynamoDB, os.Getenv("PRODUCTS_TABLE"))
	snapshot := catalog.NewCache(productStore, 30*time.Second)
	coupons := coupon.NewStore(clients.DynamoDB, os.Getenv("COUPONS_TABLE"), os.Getenv("REDEMPTIONS_TABLE"))
	points := ledger.NewStore(clients.DynamoDB, os.Getenv("LEDGER_TABLE"))
	rateStore := rates.NewStore(clients.DynamoDB, os.Getenv("SETTINGS_TABLE"))
	idempStore := idempotency.NewStore(clients.DynamoDB, os.Getenv("IDEMPOTENCY_TABLE"))

	engine := pricing.NewEngine(pricing.Config{
		Catalog: snapshot,
		Coupons: coupons,
		Ledger:  points,
		Rates:   rateStore,
		Orders:  ordersStore,
	})

	provider := fulfillment.NewHTTPProvider(os.Getenv("VOUCHER_API_URL"), os.Getenv("VOUCHER_API_KEY"))
	machine := lifecycle.NewMachine(lifecycle.MachineConfig{
		Orders:      ordersStore,
		Stock:       stock.NewCoordinator(os.Getenv("PRODUCTS_TABLE")),
		Ledger:      points,
		Coupons:     coupons,
		Fulfillment: fulfillment.NewCoordinator(provider, cipher),
		Ownership:   ownership.NewStore(clients.DynamoDB, os.Getenv("OWNERSHIP_TABLE")),
		Accounts:    accounts.NewStore(clients.DynamoDB, os.Getenv("ACCOUNTS_TABLE")),
		Notifier:    notify.NewQueue(clients.SQS, os.Getenv("NOTIFICATIONS_QUEUE_URL")),
		Metrics:     awsx.NewMetrics(clients.CloudWatch, "mangastore/orders"),
		Logger:      logger,
	})

	r := setupRouter(handlers.HandlerConfig{
		Engine:      engine,
		Machine:     machine,
		Orders:      ordersStore,
		Idempotency: idempStore,
		Logger:      logger,
	})

	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
