package orders

import "time"

// Order statuses. pending/processing/confirmed are pre-fulfillment: the
// only window in which a delivery partner may be assigned.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusConfirmed  = "confirmed"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
)

// AssignableStatus reports whether an order in this status may still have
// its first delivery partner assigned.
func AssignableStatus(status string) bool {
	switch status {
	case StatusPending, StatusProcessing, StatusConfirmed:
		return true
	}
	return false
}

// Order is the item stored in the orders DynamoDB table. The delivery
// subsystem reads it for enrichment and assignment gating; only the worker
// writes fulfillment status back.
type Order struct {
	OrderID    string                   `json:"id" dynamodbav:"order_id"` // PK
	TenantID   string                   `json:"tenant_id" dynamodbav:"tenant_id"`
	CustomerID string                   `json:"customer_id,omitempty" dynamodbav:"customer_id,omitempty"`
	Status     string                   `json:"status" dynamodbav:"status"`
	Amount     float64                  `json:"amount" dynamodbav:"amount"`
	Items      []map[string]interface{} `json:"items,omitempty" dynamodbav:"items,omitempty"`
	Metadata   map[string]interface{}   `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt  time.Time                `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at" dynamodbav:"updated_at"`
}
