package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
)

func main() {
	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	p := NewProcessor(clients, os.Getenv("IDEMPOTENCY_TABLE"), os.Getenv("ORDERS_TABLE"))

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if os.Getenv("RUN_LOCAL") == "true" {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"delivery_id":"local-dl-1","order_id":"local-order-1","tenant_id":"local","stage":"assigned","partner_id":"local-partner-1"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{Body: testBody},
			},
		}
		if err := p.Handle(context.Background(), event); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
