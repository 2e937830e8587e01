package messages

import "time"

// ShipmentStatusChanged is published by the API after every staff-driven
// progress update. The status write is already committed when this goes out;
// consumers treat it as a best-effort notification, not the source of truth.
type ShipmentStatusChanged struct {
	ShipmentID     uint64    `json:"shipment_id"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Status         string    `json:"status"`
	ProgressStep   string    `json:"progress_step"`
	Location       string    `json:"location,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}
