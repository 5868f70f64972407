package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
	"github.com/rbhatta/go-delivery-trackflow/internal/cache"
	"github.com/rbhatta/go-delivery-trackflow/internal/handlers"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func main() {
	ctx := context.Background()

	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	cfg := handlers.HandlerConfig{
		DynamoDBClient:      clients.DynamoDB,
		SQSClient:           clients.SQS,
		CloudWatchClient:    clients.CloudWatch,
		DeliveriesTable:     os.Getenv("DELIVERIES_TABLE"),
		DeliveryOrdersTable: os.Getenv("DELIVERY_ORDERS_TABLE"),
		PartnersTable:       os.Getenv("PARTNERS_TABLE"),
		OrdersTable:         os.Getenv("ORDERS_TABLE"),
		IdempotencyTable:    os.Getenv("IDEMPOTENCY_TABLE"),
		QueueURL:            os.Getenv("STAGE_EVENTS_QUEUE_URL"),
		MetricsNamespace:    os.Getenv("METRICS_NAMESPACE"),
		TTLWindow:           48 * time.Hour,
	}

	// Redis is optional; without REDIS_ADDR the cache is nil and every
	// read goes straight to DynamoDB.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		deliveryCache, err := cache.New(ctx, addr, 24*time.Hour)
		if err != nil {
			log.Fatalf("failed to connect to redis at %s: %v", addr, err)
		}
		defer deliveryCache.Close()
		cfg.Cache = deliveryCache
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		log.Printf("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		// the adapter handles proxying; use adapter.ProxyWithContext for proper context propagation
		return adapter.ProxyWithContext(ctx, req)
	})
}
