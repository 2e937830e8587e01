package messages

import "time"

// ShipmentOverdue is published by the worker when an in-transit shipment
// passes its estimated delivery date without a delivered event.
type ShipmentOverdue struct {
	ShipmentID        uint64    `json:"shipment_id"`
	TrackingNumber    string    `json:"tracking_number,omitempty"`
	Destination       string    `json:"destination,omitempty"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	DetectedAt        time.Time `json:"detected_at"`
}
