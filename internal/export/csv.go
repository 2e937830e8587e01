// Package export renders shipment reports as CSV.
package export

import (
	"encoding/csv"
	"io"

	"github.com/pkg/errors"
)

// DeliveryRow is one line of the delivery-date report. DeliveryDate is empty
// until a delivered event exists for the shipment.
type DeliveryRow struct {
	TrackingNumber string
	SenderName     string
	ReceiverName   string
	OriginLocation string
	Destination    string
	Status         string
	ShipmentDate   string
	DeliveryDate   string
}

var deliveryHeader = []string{
	"Waybill Number", "Sender", "Receiver", "Origin", "Destination",
	"Status", "Shipment Date", "Delivery Date",
}

// WriteDeliveries writes the report with a header line. encoding/csv handles
// quoting of embedded commas, quotes and newlines.
func WriteDeliveries(w io.Writer, rows []DeliveryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(deliveryHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, r := range rows {
		rec := []string{
			r.TrackingNumber, r.SenderName, r.ReceiverName, r.OriginLocation,
			r.Destination, r.Status, r.ShipmentDate, r.DeliveryDate,
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}
