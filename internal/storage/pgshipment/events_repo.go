package pgshipment

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/cryship/shipdesk/internal/models"
)

// AppendEvent inserts one immutable tracking event. Events are never updated
// or deleted afterwards. A zero EventTime defaults to now.
func (s *Storage) AppendEvent(ctx context.Context, e *models.TrackingEvent) error {
	eventTime := e.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	err := s.db.QueryRow(ctx, `
INSERT INTO shipment_events (
  shipment_id, event_type, description, location, event_time, created_by, created_at
)
VALUES ($1,$2,$3,$4,$5,$6, now())
RETURNING id, event_time, created_at
`, e.ShipmentID, e.EventType, e.Description, e.Location, eventTime.UTC(), e.CreatedBy).
		Scan(&e.ID, &e.EventTime, &e.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert shipment event")
	}
	return nil
}

// ListEvents returns a shipment's events newest-first.
func (s *Storage) ListEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, shipment_id, event_type, description, location, event_time, created_by, created_at
FROM shipment_events
WHERE shipment_id = $1
ORDER BY event_time DESC, id DESC
LIMIT $2 OFFSET $3
`, shipmentID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &e.EventType, &e.Description,
			&e.Location, &e.EventTime, &e.CreatedBy, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ListEventsByType returns all events of one type for the given shipments,
// in insertion order. Callers group them per shipment before deriving
// latest-event facts.
func (s *Storage) ListEventsByType(ctx context.Context, eventType string, shipmentIDs []uint64) ([]*models.TrackingEvent, error) {
	if len(shipmentIDs) == 0 {
		return []*models.TrackingEvent{}, nil
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, shipment_id, event_type, description, location, event_time, created_by, created_at
FROM shipment_events
WHERE event_type = $1
  AND shipment_id = ANY($2)
ORDER BY id ASC
`, eventType, shipmentIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select events by type")
	}
	defer rows.Close()

	var out []*models.TrackingEvent
	for rows.Next() {
		var e models.TrackingEvent
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &e.EventType, &e.Description,
			&e.Location, &e.EventTime, &e.CreatedBy, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
