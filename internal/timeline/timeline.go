// Package timeline derives display timelines and latest-event lookups from an
// unordered set of tracking events. Pure in-memory; the timeline is always a
// function of the event set handed in.
package timeline

import (
	"sort"
	"time"

	"github.com/cryship/shipdesk/internal/models"
)

// EstimatedDeliveryDays is a fixed-offset heuristic from shipment creation,
// not a forecast derived from transit data.
const EstimatedDeliveryDays = 5

// SortAscending returns the events oldest-first by EventTime. The sort is
// stable, so events with equal timestamps keep their input order.
func SortAscending(events []*models.TrackingEvent) []*models.TrackingEvent {
	out := append([]*models.TrackingEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventTime.Before(out[j].EventTime)
	})
	return out
}

// SortDescending returns the events newest-first by EventTime, stable.
func SortDescending(events []*models.TrackingEvent) []*models.TrackingEvent {
	out := append([]*models.TrackingEvent(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventTime.After(out[j].EventTime)
	})
	return out
}

// LatestByType returns the event of the given type with the maximum EventTime,
// or nil when none matches. On equal timestamps the event seen later in the
// input wins.
func LatestByType(events []*models.TrackingEvent, eventType string) *models.TrackingEvent {
	var best *models.TrackingEvent
	for _, e := range events {
		if e == nil || e.EventType != eventType {
			continue
		}
		if best == nil || !e.EventTime.Before(best.EventTime) {
			best = e
		}
	}
	return best
}

// Latest returns the most recent event overall, nil for an empty set.
// Ties resolve to the later input entry, same as LatestByType.
func Latest(events []*models.TrackingEvent) *models.TrackingEvent {
	var best *models.TrackingEvent
	for _, e := range events {
		if e == nil {
			continue
		}
		if best == nil || !e.EventTime.Before(best.EventTime) {
			best = e
		}
	}
	return best
}

// GroupByShipment buckets events per owning shipment. Batch consumers (the
// delivery-date export) must group first so events from different shipments
// never mix in a latest-event lookup.
func GroupByShipment(events []*models.TrackingEvent) map[uint64][]*models.TrackingEvent {
	out := make(map[uint64][]*models.TrackingEvent)
	for _, e := range events {
		if e == nil {
			continue
		}
		out[e.ShipmentID] = append(out[e.ShipmentID], e)
	}
	return out
}

// EstimatedDelivery is createdAt + EstimatedDeliveryDays.
func EstimatedDelivery(createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, EstimatedDeliveryDays)
}
