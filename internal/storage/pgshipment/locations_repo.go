package pgshipment

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cryship/shipdesk/internal/models"
)

func (s *Storage) ListLocations(ctx context.Context, activeOnly bool) ([]*models.Location, error) {
	q := `SELECT id, name, active, created_at FROM locations`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY name ASC`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "select locations")
	}
	defer rows.Close()

	out := make([]*models.Location, 0)
	for rows.Next() {
		var l models.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Active, &l.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan location")
		}
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CreateLocation inserts a location, or revives an existing name as-is.
func (s *Storage) CreateLocation(ctx context.Context, name string) (*models.Location, error) {
	var l models.Location
	err := s.db.QueryRow(ctx, `
INSERT INTO locations (name, active, created_at)
VALUES ($1, TRUE, now())
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, active, created_at
`, name).Scan(&l.ID, &l.Name, &l.Active, &l.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert location")
	}
	return &l, nil
}

func (s *Storage) SetLocationActive(ctx context.Context, id uint64, active bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE locations SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return errors.Wrap(err, "update location")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
