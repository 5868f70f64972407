package validation

import "time"

// ProofPayload is a proof-of-delivery attachment.
type ProofPayload struct {
	PhotoURL string `json:"photo_url" validate:"required,url"` // photo evidence
	Note     string `json:"note,omitempty"`                    // optional free text
}

// LocationPayload is an optional geo location on a stage.
type LocationPayload struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lng float64 `json:"lng" validate:"min=-180,max=180"`
}

// CreateDeliveryRequest is the payload for POST /deliveries. The server
// generates the initial assigned stage and pickup point from PartnerID.
type CreateDeliveryRequest struct {
	OrderID               string     `json:"order_id" validate:"required"`   // order being fulfilled
	PartnerID             string     `json:"partner_id" validate:"required"` // partner taking the first assignment
	EstimatedDeliveryTime *time.Time `json:"estimated_delivery_time,omitempty"`
}

// AppendStageRequest is the payload for POST /deliveries/{id}/stages.
type AppendStageRequest struct {
	PartnerID string           `json:"partner_id" validate:"required"` // who holds the parcel at this point
	Stage     string           `json:"stage" validate:"required,oneof=assigned at_pickup in_transit delivered cancelled failed"`
	Proof     *ProofPayload    `json:"proof,omitempty"`
	Location  *LocationPayload `json:"location,omitempty"`
	Notes     string           `json:"notes,omitempty"`
}

// AppendPickupPointRequest is the payload for POST /deliveries/{id}/pickup-points.
type AppendPickupPointRequest struct {
	PartnerID string `json:"partner_id" validate:"required"`
}

// AssignPartnerRequest is the payload for POST /orders/{id}/assign. The
// server decides between delivery creation and stage append.
type AssignPartnerRequest struct {
	PartnerID string `json:"partner_id" validate:"required"`
}
