package pgshipment

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NOT NULL,
  tracking_number TEXT NULL,
  status TEXT NOT NULL,
  progress_step TEXT NOT NULL,
  sender_name TEXT NOT NULL,
  sender_contact TEXT NOT NULL DEFAULT '',
  receiver_name TEXT NOT NULL,
  receiver_contact TEXT NOT NULL DEFAULT '',
  items_description TEXT NOT NULL DEFAULT '',
  weight NUMERIC NOT NULL,
  package_quantity INT NOT NULL DEFAULT 1,
  origin_location TEXT NOT NULL DEFAULT '',
  destination TEXT NOT NULL DEFAULT '',
  shipment_date DATE NOT NULL,
  package_image_url TEXT NULL,
  package_image_bucket TEXT NULL,
  package_image_path TEXT NULL,
  overdue_notified_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_user_id_created_at ON shipments(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_status ON shipments(status)`,
		// Legacy rows stored the literal 'not-assigned' instead of NULL.
		`UPDATE shipments SET tracking_number = NULL WHERE tracking_number = 'not-assigned'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipments_tracking_number ON shipments(tracking_number) WHERE tracking_number IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS shipment_events (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  event_type TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  location TEXT NULL,
  event_time TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_by TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_shipment_id_event_time ON shipment_events(shipment_id, event_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_events_event_type ON shipment_events(event_type)`,
		`
CREATE TABLE IF NOT EXISTS locations (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  created_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
