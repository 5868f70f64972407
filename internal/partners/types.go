package partners

import "time"

// PartnerType discriminates the three assignment dialog tabs.
type PartnerType string

const (
	TypeIndividual  PartnerType = "individual"
	TypeBusiness    PartnerType = "business"
	TypePickupPoint PartnerType = "pickup_point"
)

// Valid reports whether t is a known partner type.
func (t PartnerType) Valid() bool {
	switch t {
	case TypeIndividual, TypeBusiness, TypePickupPoint:
		return true
	}
	return false
}

// Partner is a delivery agent, business, or pickup-point entity eligible
// for assignment. Read-only from the delivery subsystem's perspective.
type Partner struct {
	ID          string      `json:"id" dynamodbav:"partner_id"` // PK
	TenantID    string      `json:"tenant_id" dynamodbav:"tenant_id"`
	Name        string      `json:"name" dynamodbav:"name"`
	Type        PartnerType `json:"partner_type" dynamodbav:"partner_type"`
	Phone       string      `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Email       string      `json:"email,omitempty" dynamodbav:"email,omitempty"`
	IsActive    bool        `json:"is_active" dynamodbav:"is_active"`
	IsAvailable bool        `json:"is_available" dynamodbav:"is_available"`
	CreatedAt   time.Time   `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" dynamodbav:"updated_at"`
}

// ListFilter mirrors the assignment dialog query: one type tab, active and
// available toggles, debounced search text.
type ListFilter struct {
	Type          PartnerType
	ActiveOnly    bool
	AvailableOnly bool
	Search        string
}
