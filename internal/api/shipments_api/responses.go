package shipments_api

import (
	"time"

	"github.com/cryship/shipdesk/internal/models"
	"github.com/cryship/shipdesk/internal/status"
	"github.com/cryship/shipdesk/internal/timeline"
	"github.com/cryship/shipdesk/internal/waybill"
)

type shipmentJSON struct {
	ID                    uint64       `json:"id"`
	TrackingNumber        string       `json:"trackingNumber"`
	Status                string       `json:"status"`
	StatusLabel           string       `json:"statusLabel"`
	StatusStyle           status.Style `json:"statusStyle"`
	ProgressStep          string       `json:"progressStep"`
	ProgressIndex         int          `json:"progressIndex"`
	SenderName            string       `json:"senderName"`
	SenderContact         string       `json:"senderContact,omitempty"`
	ReceiverName          string       `json:"receiverName"`
	ReceiverContact       string       `json:"receiverContact,omitempty"`
	ItemsDescription      string       `json:"itemsDescription,omitempty"`
	Weight                float64      `json:"weight"`
	PackageQuantity       int32        `json:"packageQuantity"`
	OriginLocation        string       `json:"originLocation,omitempty"`
	Destination           string       `json:"destination,omitempty"`
	ShipmentDate          string       `json:"shipmentDate"`
	EstimatedDeliveryDate time.Time    `json:"estimatedDeliveryDate"`
	PackageImageURL       *string      `json:"packageImageUrl,omitempty"`
	UserID                string       `json:"userId"`
	CreatedAt             time.Time    `json:"createdAt"`
	UpdatedAt             time.Time    `json:"updatedAt"`
}

func toShipmentJSON(sh *models.Shipment) shipmentJSON {
	step := status.Reconcile(sh.Status, sh.ProgressStep)
	return shipmentJSON{
		ID:                    sh.ID,
		TrackingNumber:        waybill.EncodeLegacy(sh.TrackingNumber),
		Status:                string(sh.Status),
		StatusLabel:           status.Label(string(sh.Status)),
		StatusStyle:           status.StyleFor(string(sh.Status)),
		ProgressStep:          string(step),
		ProgressIndex:         status.ProgressIndex(step),
		SenderName:            sh.SenderName,
		SenderContact:         sh.SenderContact,
		ReceiverName:          sh.ReceiverName,
		ReceiverContact:       sh.ReceiverContact,
		ItemsDescription:      sh.ItemsDescription,
		Weight:                sh.Weight,
		PackageQuantity:       sh.PackageQuantity,
		OriginLocation:        sh.OriginLocation,
		Destination:           sh.Destination,
		ShipmentDate:          sh.ShipmentDate.Format("2006-01-02"),
		EstimatedDeliveryDate: timeline.EstimatedDelivery(sh.CreatedAt),
		PackageImageURL:       sh.PackageImageURL,
		UserID:                sh.UserID,
		CreatedAt:             sh.CreatedAt,
		UpdatedAt:             sh.UpdatedAt,
	}
}

type eventJSON struct {
	ID          uint64    `json:"id"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	Location    *string   `json:"location,omitempty"`
	EventTime   time.Time `json:"eventTime"`
	CreatedBy   *string   `json:"createdBy,omitempty"`
}

func toEventJSON(e *models.TrackingEvent) eventJSON {
	return eventJSON{
		ID:          e.ID,
		EventType:   e.EventType,
		Description: e.Description,
		Location:    e.Location,
		EventTime:   e.EventTime,
		CreatedBy:   e.CreatedBy,
	}
}

type listResponse struct {
	Shipments  []shipmentJSON `json:"shipments"`
	TotalCount int64          `json:"totalCount"`
	Page       int            `json:"page"`
	TotalPages int            `json:"totalPages"`
}

type shipmentDetailResponse struct {
	Shipment shipmentJSON `json:"shipment"`
	Events   []eventJSON  `json:"events"`
}

type locationJSON struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type statusCountJSON struct {
	Status string       `json:"status"`
	Label  string       `json:"label"`
	Style  status.Style `json:"style"`
	Count  int64        `json:"count"`
}
