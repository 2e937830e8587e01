package pgshipment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/cryship/shipdesk/internal/models"
	"github.com/cryship/shipdesk/internal/status"
	"github.com/cryship/shipdesk/internal/waybill"
)

const shipmentColumns = `
  id, user_id, tracking_number,
  status, progress_step,
  sender_name, sender_contact, receiver_name, receiver_contact,
  items_description, weight, package_quantity,
  origin_location, destination, shipment_date,
  package_image_url, package_image_bucket, package_image_path,
  overdue_notified_at, created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var trackingNumber *string
	var st, step string
	if err := row.Scan(
		&sh.ID, &sh.UserID, &trackingNumber,
		&st, &step,
		&sh.SenderName, &sh.SenderContact, &sh.ReceiverName, &sh.ReceiverContact,
		&sh.ItemsDescription, &sh.Weight, &sh.PackageQuantity,
		&sh.OriginLocation, &sh.Destination, &sh.ShipmentDate,
		&sh.PackageImageURL, &sh.PackageImageBucket, &sh.PackageImagePath,
		&sh.OverdueNotifiedAt, &sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if trackingNumber != nil {
		sh.TrackingNumber = waybill.DecodeLegacy(*trackingNumber)
	}
	sh.Status = status.LifecycleStatus(st)
	sh.ProgressStep = status.ProgressStep(step)
	return &sh, nil
}

func (s *Storage) CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	now := time.Now().UTC()

	var trackingNumber *string
	if n, ok := in.TrackingNumber.Number(); ok {
		trackingNumber = &n
	}

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO shipments (
  user_id, tracking_number, status, progress_step,
  sender_name, sender_contact, receiver_name, receiver_contact,
  items_description, weight, package_quantity,
  origin_location, destination, shipment_date,
  package_image_url, package_image_bucket, package_image_path,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$18)
RETURNING id
`, in.UserID, trackingNumber, status.StatusCreated, status.StepPending,
		in.SenderName, in.SenderContact, in.ReceiverName, in.ReceiverContact,
		in.ItemsDescription, in.Weight, in.PackageQuantity,
		in.OriginLocation, in.Destination, in.ShipmentDate,
		in.PackageImageURL, in.PackageImageBucket, in.PackageImagePath,
		now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}

	return s.GetShipmentByID(ctx, id)
}

func (s *Storage) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

func (s *Storage) GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx,
		`SELECT `+shipmentColumns+` FROM shipments WHERE tracking_number = $1`, trackingNumber))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment by tracking number")
	}
	return sh, nil
}

type ShipmentListQuery struct {
	// UserID restricts to one owner when non-empty; staff listings leave it empty.
	UserID string
	Status status.LifecycleStatus
	// Search matches tracking number, origin and destination, case-insensitive.
	Search string
	Limit  int
	Offset int
}

func (s *Storage) ListShipments(ctx context.Context, q ShipmentListQuery) ([]*models.Shipment, int64, error) {
	if q.Limit <= 0 || q.Limit > 10_000 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if q.UserID != "" {
		args = append(args, q.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(tracking_number ILIKE $%d OR origin_location ILIKE $%d OR destination ILIKE $%d)", n, n, n))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM shipments`+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count shipments")
	}

	args = append(args, q.Limit, q.Offset)
	rows, err := s.db.Query(ctx,
		`SELECT `+shipmentColumns+` FROM shipments`+cond+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select shipments")
	}
	defer rows.Close()

	out := make([]*models.Shipment, 0, q.Limit)
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan shipment")
		}
		out = append(out, sh)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}
	return out, total, nil
}

// ShipmentUpdate carries one staff-driven update. Status and ProgressStep are
// always written; nil pointers leave their columns untouched.
type ShipmentUpdate struct {
	Status       status.LifecycleStatus
	ProgressStep status.ProgressStep

	Destination    *string
	ReceiverName   *string
	Weight         *float64
	TrackingNumber *string

	PackageImageURL    *string
	PackageImageBucket *string
	PackageImagePath   *string
}

func (s *Storage) UpdateShipment(ctx context.Context, id uint64, upd ShipmentUpdate) error {
	set := []string{"status = $1", "progress_step = $2", "updated_at = now()"}
	args := []any{string(upd.Status), string(upd.ProgressStep)}

	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Destination != nil {
		add("destination", *upd.Destination)
	}
	if upd.ReceiverName != nil {
		add("receiver_name", *upd.ReceiverName)
	}
	if upd.Weight != nil {
		add("weight", *upd.Weight)
	}
	if upd.TrackingNumber != nil {
		add("tracking_number", *upd.TrackingNumber)
	}
	if upd.PackageImageURL != nil {
		add("package_image_url", *upd.PackageImageURL)
	}
	if upd.PackageImageBucket != nil {
		add("package_image_bucket", *upd.PackageImageBucket)
	}
	if upd.PackageImagePath != nil {
		add("package_image_path", *upd.PackageImagePath)
	}

	args = append(args, id)
	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE shipments SET %s WHERE id = $%d`, strings.Join(set, ", "), len(args)),
		args...)
	if err != nil {
		return errors.Wrap(err, "update shipment")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteShipment hard-deletes the shipment; events go with it via the cascade.
func (s *Storage) DeleteShipment(ctx context.Context, id uint64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM shipments WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete shipment")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) CountShipmentsByStatus(ctx context.Context) (map[status.LifecycleStatus]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM shipments GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "count by status")
	}
	defer rows.Close()

	out := make(map[status.LifecycleStatus]int64)
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		out[status.LifecycleStatus(st)] = n
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CountShipmentsCreatedSince buckets shipment creations per UTC day, starting
// at since. Days with no creations are absent from the map.
func (s *Storage) CountShipmentsCreatedSince(ctx context.Context, since time.Time) (map[time.Time]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day, count(*)
		FROM shipments
		WHERE created_at >= $1
		GROUP BY day`, since)
	if err != nil {
		return nil, errors.Wrap(err, "count created since")
	}
	defer rows.Close()

	out := make(map[time.Time]int64)
	for rows.Next() {
		var day time.Time
		var n int64
		if err := rows.Scan(&day, &n); err != nil {
			return nil, errors.Wrap(err, "scan day count")
		}
		out[time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)] = n
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimOverdueShipments picks in-transit shipments created before olderThan
// that were not yet flagged, marks them notified and returns them. Uses
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
func (s *Storage) ClaimOverdueShipments(ctx context.Context, olderThan time.Time, limit int) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE status = $1
  AND created_at <= $2
  AND overdue_notified_at IS NULL
ORDER BY created_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, status.StatusInTransit, olderThan.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select overdue shipments")
	}
	defer rows.Close()

	var picked []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan overdue shipment")
		}
		picked = append(picked, sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	for _, sh := range picked {
		if _, err := tx.Exec(ctx,
			`UPDATE shipments SET overdue_notified_at = now() WHERE id = $1`, sh.ID); err != nil {
			return nil, errors.Wrap(err, "flag overdue shipment")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
