package models

import (
	"time"

	"github.com/cryship/shipdesk/internal/status"
	"github.com/cryship/shipdesk/internal/waybill"
)

type Shipment struct {
	ID                 uint64
	TrackingNumber     waybill.Assignment
	Status             status.LifecycleStatus
	ProgressStep       status.ProgressStep
	SenderName         string
	SenderContact      string
	ReceiverName       string
	ReceiverContact    string
	ItemsDescription   string
	Weight             float64
	PackageQuantity    int32
	OriginLocation     string
	Destination        string
	ShipmentDate       time.Time
	PackageImageURL    *string
	PackageImageBucket *string
	PackageImagePath   *string
	UserID             string
	OverdueNotifiedAt  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TrackingEvent is an append-only fact about a shipment's journey.
// EventTime is when the real-world event happened (the ordering key),
// CreatedAt is the row-insert time.
type TrackingEvent struct {
	ID          uint64
	ShipmentID  uint64
	EventType   string
	Description string
	Location    *string
	EventTime   time.Time
	CreatedBy   *string
	CreatedAt   time.Time
}

// Location is reference data for origins/destinations. Shipments reference it
// by name, not by id, so renames do not cascade.
type Location struct {
	ID        uint64
	Name      string
	Active    bool
	CreatedAt time.Time
}

type ShipmentCreateInput struct {
	TrackingNumber     waybill.Assignment
	SenderName         string
	SenderContact      string
	ReceiverName       string
	ReceiverContact    string
	ItemsDescription   string
	Weight             float64
	PackageQuantity    int32
	OriginLocation     string
	Destination        string
	ShipmentDate       time.Time
	PackageImageURL    *string
	PackageImageBucket *string
	PackageImagePath   *string
	UserID             string
}
