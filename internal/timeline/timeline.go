// Package timeline derives a render-ready view of a delivery's stage
// history. It is pure: no I/O, no store access.
package timeline

import (
	"time"

	"github.com/rbhatta/go-delivery-trackflow/internal/deliveries"
)

const timestampLayout = "Jan 2, 2006 3:04 PM"

// labels maps stage values to display labels.
var labels = map[deliveries.StageType]string{
	deliveries.StageAssigned:  "assigned",
	deliveries.StageAtPickup:  "at pickup",
	deliveries.StageInTransit: "in transit",
	deliveries.StageDelivered: "delivered",
	deliveries.StageCancelled: "cancelled",
	deliveries.StageFailed:    "failed",
}

// icons maps stage values to icon keys consumed by the frontend.
var icons = map[deliveries.StageType]string{
	deliveries.StageAssigned:  "user-check",
	deliveries.StageAtPickup:  "package",
	deliveries.StageInTransit: "truck",
	deliveries.StageDelivered: "check-circle",
	deliveries.StageCancelled: "x-circle",
	deliveries.StageFailed:    "alert-triangle",
}

const fallbackIcon = "circle"

// Entry is one node of the vertical timeline, oldest first.
type Entry struct {
	Label        string `json:"label"`
	Icon         string `json:"icon"`
	PartnerID    string `json:"partner_id"`
	PartnerLabel string `json:"partner_label"`
	Timestamp    string `json:"timestamp"`
	Notes        string `json:"notes,omitempty"`
	ProofURL     string `json:"proof_url,omitempty"`
}

// Timeline is the derived view. Empty distinguishes "no stages yet" from a
// short history so callers render an explicit placeholder.
type Timeline struct {
	Entries []Entry `json:"entries"`
	Empty   bool    `json:"empty"`
}

// Build derives the timeline from a delivery. Stage order is preserved as
// stored (oldest to newest); no re-sorting happens here. partnerDetails
// maps partner id to display name; unresolved partners fall back to the
// raw id. A stored is_reassignment flag wins over positional inference,
// which remains only for records written before the flag existed.
func Build(d *deliveries.Delivery, partnerDetails map[string]string) Timeline {
	if d == nil || len(d.Stages) == 0 {
		return Timeline{Entries: []Entry{}, Empty: true}
	}

	entries := make([]Entry, 0, len(d.Stages))
	for i, st := range d.Stages {
		entries = append(entries, buildEntry(st, i, partnerDetails))
	}
	return Timeline{Entries: entries}
}

func buildEntry(st deliveries.Stage, index int, partnerDetails map[string]string) Entry {
	label, ok := labels[st.Stage]
	if !ok {
		label = string(st.Stage)
	}
	if st.Stage == deliveries.StageAssigned && (st.IsReassignment || index > 0) {
		label = "reassigned"
	}

	icon, ok := icons[st.Stage]
	if !ok {
		icon = fallbackIcon
	}

	partnerLabel := st.PartnerID
	if name, ok := partnerDetails[st.PartnerID]; ok && name != "" {
		partnerLabel = name
	}

	e := Entry{
		Label:        label,
		Icon:         icon,
		PartnerID:    st.PartnerID,
		PartnerLabel: partnerLabel,
		Timestamp:    formatTimestamp(st.Timestamp),
		Notes:        st.Notes,
	}
	if st.Proof != nil {
		e.ProofURL = st.Proof.PhotoURL
	}
	return e
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timestampLayout)
}
