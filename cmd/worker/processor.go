package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/rbhatta/go-delivery-trackflow/internal/aws"
	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
	"github.com/rbhatta/go-delivery-trackflow/internal/idempotency"
	"github.com/rbhatta/go-delivery-trackflow/internal/orders"
)

// Processor consumes stage events and syncs order fulfillment status.
type Processor struct {
	idempStore *idempotency.Store
	orderStore *orders.Store
}

// NewProcessor creates a worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients, idempTable, ordersTable string) *Processor {
	return &Processor{
		idempStore: idempotency.NewStore(clients.DynamoDB, idempTable, 48*time.Hour),
		orderStore: orders.NewStore(clients.DynamoDB, ordersTable),
	}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("worker error: %v", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var ev deliveries.StageEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	log.Printf("[worker] received delivery=%s order=%s stage=%s corr=%s",
		ev.DeliveryID, ev.OrderID, ev.Stage, ev.CorrelationID)

	switch ev.Stage {
	case deliveries.StageAssigned:
		return p.handleAssigned(ctx, ev)
	case deliveries.StageAtPickup:
		// pickup confirmation does not move the order
		return nil
	case deliveries.StageInTransit:
		return p.setFulfillment(ctx, ev, orders.StatusShipped)
	case deliveries.StageDelivered:
		return p.setFulfillment(ctx, ev, orders.StatusDelivered)
	case deliveries.StageCancelled, deliveries.StageFailed:
		return p.setFulfillment(ctx, ev, orders.StatusCancelled)
	default:
		// Unknown stage values are dropped rather than retried: a retry
		// cannot make them known.
		log.Printf("[worker] dropping unknown stage %q for delivery=%s", ev.Stage, ev.DeliveryID)
		return nil
	}
}

// handleAssigned moves a pending order into processing when its first
// delivery partner is attached. Reassignments arrive as the same stage
// value; the conditional update makes replays and reassignments no-ops.
func (p *Processor) handleAssigned(ctx context.Context, ev deliveries.StageEvent) error {
	err := p.orderStore.UpdateStatus(ctx, ev.OrderID, orders.StatusPending, orders.StatusProcessing)
	if err != nil && err != orders.ErrStatusMismatch {
		return fmt.Errorf("update order %s to processing: %w", ev.OrderID, err)
	}
	if err == orders.ErrStatusMismatch {
		log.Printf("[worker] order=%s already past pending", ev.OrderID)
	}

	// Creation events carry the API's idempotency key; marking DONE here
	// is a backstop for an API crash between commit and MarkDone.
	if ev.IdempotencyKey != "" {
		body := fmt.Sprintf(`{"delivery_id":%q,"order_id":%q}`, ev.DeliveryID, ev.OrderID)
		if err := p.idempStore.MarkDone(ctx, ev.TenantID, ev.IdempotencyKey, body, http.StatusCreated); err != nil {
			return fmt.Errorf("mark idempotency done key=%s: %w", ev.IdempotencyKey, err)
		}
	}
	return nil
}

func (p *Processor) setFulfillment(ctx context.Context, ev deliveries.StageEvent, status string) error {
	order, err := p.orderStore.Get(ctx, ev.TenantID, ev.OrderID)
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", ev.OrderID, err)
	}
	if order == nil {
		// Should never happen; DLQ if it does.
		return fmt.Errorf("order not found: %s", ev.OrderID)
	}
	if order.Status == status {
		log.Printf("[worker] order=%s already %s", ev.OrderID, status)
		return nil
	}
	if err := p.orderStore.SetStatus(ctx, ev.OrderID, status); err != nil {
		return fmt.Errorf("set order %s status %s: %w", ev.OrderID, status, err)
	}
	return nil
}
