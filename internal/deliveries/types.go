package deliveries

import "time"

// StageType is a discrete lifecycle event in a delivery's progress.
type StageType string

const (
	StageAssigned  StageType = "assigned"
	StageAtPickup  StageType = "at_pickup"
	StageInTransit StageType = "in_transit"
	StageDelivered StageType = "delivered"
	StageCancelled StageType = "cancelled"
	StageFailed    StageType = "failed"
)

// transitions is the allowed stage progression. Terminal stages map to nil.
var transitions = map[StageType][]StageType{
	StageAssigned:  {StageAssigned, StageAtPickup, StageInTransit, StageCancelled, StageFailed},
	StageAtPickup:  {StageInTransit, StageCancelled, StageFailed},
	StageInTransit: {StageDelivered, StageCancelled, StageFailed},
	StageDelivered: nil,
	StageCancelled: nil,
	StageFailed:    nil,
}

// Valid reports whether s is a known stage value.
func (s StageType) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether a delivery in stage s accepts no further stages.
func (s StageType) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether appending a `to` stage is allowed when the
// delivery currently sits at `from`. An assigned -> assigned transition is
// the reassignment path.
func CanTransition(from, to StageType) bool {
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Proof is a proof-of-delivery attachment on a stage.
type Proof struct {
	PhotoURL string `json:"photo_url" dynamodbav:"photo_url"`
	Note     string `json:"note,omitempty" dynamodbav:"note,omitempty"`
}

// GeoPoint is an optional stage location.
type GeoPoint struct {
	Lat float64 `json:"lat" dynamodbav:"lat"`
	Lng float64 `json:"lng" dynamodbav:"lng"`
}

// Stage is an immutable, append-only event owned by its parent Delivery.
// IsReassignment is stamped at write time when an assigned stage is appended
// to a non-empty history, so rendering never has to infer it from position.
type Stage struct {
	PartnerID      string    `json:"partner_id" dynamodbav:"partner_id"`
	Stage          StageType `json:"stage" dynamodbav:"stage"`
	IsReassignment bool      `json:"is_reassignment,omitempty" dynamodbav:"is_reassignment,omitempty"`
	Proof          *Proof    `json:"proof,omitempty" dynamodbav:"proof,omitempty"`
	Location       *GeoPoint `json:"location,omitempty" dynamodbav:"location,omitempty"`
	Notes          string    `json:"notes,omitempty" dynamodbav:"notes,omitempty"`
	Timestamp      time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// PickupPoint records where/when a handoff occurred. The list runs parallel
// to Stages but is only loosely coupled to it.
type PickupPoint struct {
	PartnerID string    `json:"partner_id" dynamodbav:"partner_id"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Delivery is one physical fulfillment effort for one order. The record is
// created once per order and mutated only by appending stages or pickup
// points.
type Delivery struct {
	ID                    string        `json:"id" dynamodbav:"delivery_id"` // PK
	TenantID              string        `json:"tenant_id" dynamodbav:"tenant_id"`
	OrderID               string        `json:"order_id" dynamodbav:"order_id"`
	PickupPoints          []PickupPoint `json:"pickup_points" dynamodbav:"pickup_points"`
	Stages                []Stage       `json:"stages" dynamodbav:"stages"`
	CurrentStage          StageType     `json:"current_stage" dynamodbav:"current_stage"`
	EstimatedDeliveryTime *time.Time    `json:"estimated_delivery_time,omitempty" dynamodbav:"estimated_delivery_time,omitempty"`
	ActualDeliveryTime    *time.Time    `json:"actual_delivery_time,omitempty" dynamodbav:"actual_delivery_time,omitempty"`
	CreatedAt             time.Time     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at" dynamodbav:"updated_at"`
}

// DerivedCurrentStage recomputes the current stage from the last element of
// Stages instead of trusting the stored CurrentStage cache, tolerating
// partial or out-of-order payloads. The cache is only consulted when the
// stage list is empty.
func (d *Delivery) DerivedCurrentStage() StageType {
	if len(d.Stages) == 0 {
		return d.CurrentStage
	}
	return d.Stages[len(d.Stages)-1].Stage
}

// StageEvent is the SQS message emitted whenever a stage is created or
// appended. The worker syncs order fulfillment state from it.
type StageEvent struct {
	DeliveryID     string    `json:"delivery_id"`
	OrderID        string    `json:"order_id"`
	TenantID       string    `json:"tenant_id"`
	Stage          StageType `json:"stage"`
	PartnerID      string    `json:"partner_id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
}

// ListFilter mirrors the query parameters accepted by GET /deliveries.
// Status filters on the derived current stage; Stage matches any stage in
// the history.
type ListFilter struct {
	Skip      int
	Limit     int
	Search    string
	Status    string
	Stage     string
	PartnerID string
	OrderID   string
}

// ListResponse is the canonical list envelope.
type ListResponse struct {
	Items []Delivery `json:"items"`
	Total int        `json:"total"`
	Skip  int        `json:"skip"`
	Limit int        `json:"limit"`
}
