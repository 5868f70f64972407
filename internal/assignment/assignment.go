// Package assignment implements the partner assignment workflow: deciding
// whether an order gets a first delivery partner or a reassignment, and
// executing that decision.
package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
	"github.com/rbhatta/go-delivery-trackflow/internal/metrics"
	"github.com/rbhatta/go-delivery-trackflow/internal/orders"
	"github.com/rbhatta/go-delivery-trackflow/internal/partners"
)

// Action is the assignment affordance derived for an order.
type Action string

const (
	// ActionAssign: no delivery exists and the order is pre-fulfillment.
	ActionAssign Action = "assign"
	// ActionReassign: a delivery exists and is still at the assigned stage.
	ActionReassign Action = "reassign"
	// ActionNone: the timeline is read-only.
	ActionNone Action = "none"
)

// Workflow errors.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrPartnerUnavailable = errors.New("partner inactive or unavailable")
	ErrNotEligible        = errors.New("order not eligible for assignment")
	ErrInFlight           = errors.New("assignment already in flight for order")
)

// EligibleAction derives the offered action from the order status and the
// order's delivery, if any. Only pending/processing/confirmed orders may
// receive a first assignment; reassignment is offered only while the
// delivery still sits at the assigned stage.
func EligibleAction(orderStatus string, d *deliveries.Delivery) Action {
	if d == nil {
		if orders.AssignableStatus(orderStatus) {
			return ActionAssign
		}
		return ActionNone
	}
	if d.DerivedCurrentStage() == deliveries.StageAssigned && orders.AssignableStatus(orderStatus) {
		return ActionReassign
	}
	return ActionNone
}

// DeliveryStore is the slice of the deliveries store the workflow needs.
type DeliveryStore interface {
	Create(ctx context.Context, tenantID, orderID, partnerID string, estimated *time.Time) (*deliveries.Delivery, error)
	GetByOrder(ctx context.Context, tenantID, orderID string) (*deliveries.Delivery, error)
	AppendStage(ctx context.Context, tenantID, deliveryID string, expected deliveries.StageType, st deliveries.Stage) (*deliveries.Delivery, error)
	AppendPickupPoint(ctx context.Context, tenantID, deliveryID string, pp deliveries.PickupPoint) (*deliveries.Delivery, error)
}

// OrderStore resolves orders for eligibility gating.
type OrderStore interface {
	Get(ctx context.Context, tenantID, orderID string) (*orders.Order, error)
}

// PartnerStore resolves the partner being assigned.
type PartnerStore interface {
	Get(ctx context.Context, tenantID, id string) (*partners.Partner, error)
}

// EventPublisher emits stage events for downstream fulfillment sync.
type EventPublisher interface {
	SendEventMessage(ctx context.Context, messageBody string, attributes map[string]string) error
}

// Workflow executes assign/reassign decisions. A per-order single-flight
// guard serializes concurrent assignment attempts.
type Workflow struct {
	deliveries DeliveryStore
	orders     OrderStore
	partners   PartnerStore
	publisher  EventPublisher
	recorder   *metrics.Recorder
	nowFunc    func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{} // keyed by tenant/order
}

// NewWorkflow wires the workflow. publisher and recorder may be nil.
func NewWorkflow(d DeliveryStore, o OrderStore, p PartnerStore, publisher EventPublisher, recorder *metrics.Recorder) *Workflow {
	return &Workflow{
		deliveries: d,
		orders:     o,
		partners:   p,
		publisher:  publisher,
		recorder:   recorder,
		nowFunc:    time.Now,
		inflight:   map[string]struct{}{},
	}
}

// Assign attaches partnerID to orderID: delivery creation when none
// exists, a reassignment stage append while the delivery is still
// assigned, ErrNotEligible otherwise.
func (w *Workflow) Assign(ctx context.Context, tenantID, orderID, partnerID string) (*deliveries.Delivery, error) {
	key := tenantID + "/" + orderID
	if !w.acquire(key) {
		return nil, ErrInFlight
	}
	defer w.release(key)

	start := w.nowFunc()

	order, err := w.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	partner, err := w.partners.Get(ctx, tenantID, partnerID)
	if err != nil {
		return nil, fmt.Errorf("fetch partner: %w", err)
	}
	if partner == nil || !partner.IsActive || !partner.IsAvailable {
		return nil, ErrPartnerUnavailable
	}

	existing, err := w.deliveries.GetByOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch delivery: %w", err)
	}

	var result *deliveries.Delivery
	switch EligibleAction(order.Status, existing) {
	case ActionAssign:
		result, err = w.deliveries.Create(ctx, tenantID, orderID, partnerID, nil)
	case ActionReassign:
		result, err = w.deliveries.AppendStage(ctx, tenantID, existing.ID, deliveries.StageAssigned, deliveries.Stage{
			PartnerID:      partnerID,
			Stage:          deliveries.StageAssigned,
			IsReassignment: true,
			Timestamp:      w.nowFunc().UTC(),
		})
		if err == nil {
			// The stage append above is the commit point. The handoff
			// record is supplementary: surfacing a failure here would make
			// callers retry an already-committed reassignment, and the
			// transition table accepts assigned->assigned again.
			withPP, ppErr := w.deliveries.AppendPickupPoint(ctx, tenantID, existing.ID, deliveries.PickupPoint{
				PartnerID: partnerID,
				Timestamp: w.nowFunc().UTC(),
			})
			if ppErr != nil {
				log.Printf("[assignment] append pickup point delivery=%s: %v", existing.ID, ppErr)
			} else if withPP != nil {
				result = withPP
			}
		}
	default:
		return nil, ErrNotEligible
	}
	if err != nil {
		return nil, err
	}

	w.publishStageEvent(ctx, result, partnerID)
	w.recorder.StageTransition(ctx, tenantID, deliveries.StageAssigned)
	w.recorder.AssignmentLatency(ctx, tenantID, w.nowFunc().Sub(start))
	return result, nil
}

// publishStageEvent is best-effort: the delivery mutation is already
// committed, so a publish failure is logged rather than surfaced.
func (w *Workflow) publishStageEvent(ctx context.Context, d *deliveries.Delivery, partnerID string) {
	if w.publisher == nil {
		return
	}
	ev := deliveries.StageEvent{
		DeliveryID: d.ID,
		OrderID:    d.OrderID,
		TenantID:   d.TenantID,
		Stage:      deliveries.StageAssigned,
		PartnerID:  partnerID,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[assignment] marshal stage event: %v", err)
		return
	}
	attrs := map[string]string{
		"tenant_id": d.TenantID,
		"order_id":  d.OrderID,
		"stage":     string(ev.Stage),
	}
	if err := w.publisher.SendEventMessage(ctx, string(body), attrs); err != nil {
		log.Printf("[assignment] publish stage event order=%s: %v", d.OrderID, err)
	}
}

func (w *Workflow) acquire(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[key]; busy {
		return false
	}
	w.inflight[key] = struct{}{}
	return true
}

func (w *Workflow) release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, key)
}
