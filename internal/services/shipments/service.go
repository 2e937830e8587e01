package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cryship/shipdesk/internal/broker/messages"
	"github.com/cryship/shipdesk/internal/cache"
	"github.com/cryship/shipdesk/internal/export"
	"github.com/cryship/shipdesk/internal/models"
	"github.com/cryship/shipdesk/internal/status"
	"github.com/cryship/shipdesk/internal/storage/pgshipment"
	"github.com/cryship/shipdesk/internal/timeline"
	"github.com/cryship/shipdesk/internal/waybill"
)

// ErrNotFound mirrors the storage sentinel so callers need only one check.
var ErrNotFound = pgshipment.ErrNotFound

// ErrInvalidStep rejects progress values outside the 4-step vocabulary.
var ErrInvalidStep = errors.New("invalid progress step")

type Repository interface {
	CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error)
	GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error)
	GetShipmentByTrackingNumber(ctx context.Context, trackingNumber string) (*models.Shipment, error)
	ListShipments(ctx context.Context, q pgshipment.ShipmentListQuery) ([]*models.Shipment, int64, error)
	UpdateShipment(ctx context.Context, id uint64, upd pgshipment.ShipmentUpdate) error
	DeleteShipment(ctx context.Context, id uint64) error
	CountShipmentsByStatus(ctx context.Context) (map[status.LifecycleStatus]int64, error)
	CountShipmentsCreatedSince(ctx context.Context, since time.Time) (map[time.Time]int64, error)

	AppendEvent(ctx context.Context, e *models.TrackingEvent) error
	ListEvents(ctx context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error)
	ListEventsByType(ctx context.Context, eventType string, shipmentIDs []uint64) ([]*models.TrackingEvent, error)

	ListLocations(ctx context.Context, activeOnly bool) ([]*models.Location, error)
	CreateLocation(ctx context.Context, name string) (*models.Location, error)
	SetLocationActive(ctx context.Context, id uint64, active bool) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo        Repository
	cache       cache.BytesCache
	producer    Producer
	topic       string
	snapshotTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, producer Producer, topic string, snapshotTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, producer: producer, topic: topic, snapshotTTL: snapshotTTL}
}

func (s *Service) Create(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	if strings.TrimSpace(in.SenderName) == "" {
		return nil, errors.New("senderName is required")
	}
	if strings.TrimSpace(in.ReceiverName) == "" {
		return nil, errors.New("receiverName is required")
	}
	if in.Weight <= 0 {
		return nil, errors.New("weight must be greater than 0")
	}
	if in.PackageQuantity == 0 {
		in.PackageQuantity = 1
	}
	if in.PackageQuantity < 0 {
		return nil, errors.New("packageQuantity must be at least 1")
	}
	if in.ShipmentDate.IsZero() {
		return nil, errors.New("shipmentDate is required")
	}
	if in.UserID == "" {
		return nil, errors.New("userId is required")
	}

	sh, err := s.repo.CreateShipment(ctx, in)
	if err != nil {
		return nil, err
	}

	// The shipment row is the source of truth; the initial event is a
	// best-effort side record.
	createdBy := optional(in.UserID)
	ev := &models.TrackingEvent{
		ShipmentID:  sh.ID,
		EventType:   status.EventShipmentCreated,
		Description: "Shipment created and pending pickup",
		CreatedBy:   createdBy,
	}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		slog.Warn("append shipment_created event failed", "shipmentId", sh.ID, "error", err.Error())
	}

	return sh, nil
}

// Get returns a shipment and its events, newest event first.
func (s *Service) Get(ctx context.Context, id uint64) (*models.Shipment, []*models.TrackingEvent, error) {
	sh, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	evs, err := s.repo.ListEvents(ctx, id, 100, 0)
	if err != nil {
		return nil, nil, err
	}
	return sh, evs, nil
}

type ListQuery struct {
	UserID string
	Status string
	Search string
	Page   int
	Limit  int
}

type ListResult struct {
	Shipments  []*models.Shipment
	TotalCount int64
	Page       int
	TotalPages int
}

func (s *Service) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}

	var st status.LifecycleStatus
	if q.Status != "" && q.Status != "all" {
		st = status.LifecycleStatus(q.Status)
	}

	items, total, err := s.repo.ListShipments(ctx, pgshipment.ShipmentListQuery{
		UserID: q.UserID,
		Status: st,
		Search: strings.TrimSpace(q.Search),
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(q.Limit) - 1) / int64(q.Limit))
	return &ListResult{
		Shipments:  items,
		TotalCount: total,
		Page:       q.Page,
		TotalPages: totalPages,
	}, nil
}

type UpdateProgressInput struct {
	// Step is the staff-picked progress step; the lifecycle status to persist
	// is derived from it.
	Step string
	// Location annotates the emitted event; it never touches the shipment row.
	Location string
	// Destination, when set, is an explicit correction of the shipment row.
	Destination string
	// WaybillNumber assigns or overrides the tracking number; invalid input
	// blocks the whole update.
	WaybillNumber string
	ReceiverName  string
	Weight        *float64

	PackageImageURL    *string
	PackageImageBucket *string
	PackageImagePath   *string

	ActorID string
}

// UpdateProgress is the one staff-driven state transition. The status write is
// authoritative; the event append, the broker publish and the snapshot refresh
// are each best-effort and never roll it back.
func (s *Service) UpdateProgress(ctx context.Context, id uint64, in UpdateProgressInput) (*models.Shipment, error) {
	step := status.ProgressStep(in.Step)
	if !step.Valid() {
		return nil, ErrInvalidStep
	}

	prev, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	upd := pgshipment.ShipmentUpdate{
		Status:       status.ToLifecycleStatus(step),
		ProgressStep: step,
	}
	if dest := strings.TrimSpace(in.Destination); dest != "" {
		upd.Destination = &dest
	}
	if rn := strings.TrimSpace(in.ReceiverName); rn != "" {
		upd.ReceiverName = &rn
	}
	if in.Weight != nil {
		if *in.Weight <= 0 {
			return nil, errors.New("weight must be greater than 0")
		}
		upd.Weight = in.Weight
	}
	if strings.TrimSpace(in.WaybillNumber) != "" {
		n, err := waybill.Parse(in.WaybillNumber)
		if err != nil {
			return nil, err
		}
		upd.TrackingNumber = &n
	}
	if in.PackageImageURL != nil && in.PackageImageBucket != nil && in.PackageImagePath != nil {
		upd.PackageImageURL = in.PackageImageURL
		upd.PackageImageBucket = in.PackageImageBucket
		upd.PackageImagePath = in.PackageImagePath
	}

	if err := s.repo.UpdateShipment(ctx, id, upd); err != nil {
		return nil, err
	}

	sh, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	loc := strings.TrimSpace(in.Location)
	desc := "Status changed to " + strings.ReplaceAll(string(step), "_", " ")
	if loc != "" {
		desc += " - Location: " + loc
	}
	ev := &models.TrackingEvent{
		ShipmentID:  id,
		EventType:   string(step),
		Description: desc,
		Location:    optional(loc),
		CreatedBy:   optional(in.ActorID),
	}
	if err := s.repo.AppendEvent(ctx, ev); err != nil {
		slog.Warn("append tracking event failed", "shipmentId", id, "error", err.Error())
	}

	s.publishStatusChanged(ctx, sh, step, loc, in.ActorID)
	s.refreshAfterUpdate(ctx, prev, sh)

	return sh, nil
}

func (s *Service) Delete(ctx context.Context, id uint64) error {
	sh, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteShipment(ctx, id); err != nil {
		return err
	}
	if n, ok := sh.TrackingNumber.Number(); ok && s.cache != nil {
		if err := s.cache.Del(ctx, snapshotKey(n)); err != nil {
			slog.Warn("drop tracking snapshot failed", "trackingNumber", n, "error", err.Error())
		}
	}
	return nil
}

func (s *Service) CountByStatus(ctx context.Context) (map[status.LifecycleStatus]int64, error) {
	return s.repo.CountShipmentsByStatus(ctx)
}

// TrendPoint is one day of the shipment-creation series.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// CreationTrend returns creations per UTC day over the last days days,
// zero-filled, oldest first. The dashboard charts the last week.
func (s *Service) CreationTrend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(days - 1))

	counts, err := s.repo.CountShipmentsCreatedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]int64, len(counts))
	for d, n := range counts {
		byDay[d.UTC().Format("2006-01-02")] = n
	}

	out := make([]TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		date := since.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, TrendPoint{Date: date, Count: byDay[date]})
	}
	return out, nil
}

// ExportDeliveries builds the delivery-date report. Events are grouped per
// shipment before the latest-delivered lookup so shipments never contaminate
// each other's delivery dates.
func (s *Service) ExportDeliveries(ctx context.Context) ([]export.DeliveryRow, error) {
	shs, _, err := s.repo.ListShipments(ctx, pgshipment.ShipmentListQuery{Limit: 10_000})
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(shs))
	for _, sh := range shs {
		ids = append(ids, sh.ID)
	}

	evs, err := s.repo.ListEventsByType(ctx, string(status.StepDelivered), ids)
	if err != nil {
		return nil, err
	}
	byShipment := timeline.GroupByShipment(evs)

	rows := make([]export.DeliveryRow, 0, len(shs))
	for _, sh := range shs {
		deliveryDate := ""
		if ev := timeline.LatestByType(byShipment[sh.ID], string(status.StepDelivered)); ev != nil {
			deliveryDate = ev.EventTime.UTC().Format("2006-01-02")
		}
		rows = append(rows, export.DeliveryRow{
			TrackingNumber: waybill.EncodeLegacy(sh.TrackingNumber),
			SenderName:     sh.SenderName,
			ReceiverName:   sh.ReceiverName,
			OriginLocation: sh.OriginLocation,
			Destination:    sh.Destination,
			Status:         status.Label(string(status.Reconcile(sh.Status, sh.ProgressStep))),
			ShipmentDate:   sh.ShipmentDate.Format("2006-01-02"),
			DeliveryDate:   deliveryDate,
		})
	}
	return rows, nil
}

func (s *Service) ListLocations(ctx context.Context, activeOnly bool) ([]*models.Location, error) {
	return s.repo.ListLocations(ctx, activeOnly)
}

func (s *Service) CreateLocation(ctx context.Context, name string) (*models.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	return s.repo.CreateLocation(ctx, name)
}

func (s *Service) SetLocationActive(ctx context.Context, id uint64, active bool) error {
	return s.repo.SetLocationActive(ctx, id, active)
}

func (s *Service) publishStatusChanged(ctx context.Context, sh *models.Shipment, step status.ProgressStep, location, actorID string) {
	if s.producer == nil || s.topic == "" {
		return
	}
	msg := messages.ShipmentStatusChanged{
		ShipmentID:   sh.ID,
		Status:       string(sh.Status),
		ProgressStep: string(step),
		Location:     location,
		ActorID:      actorID,
		ChangedAt:    time.Now().UTC(),
	}
	if n, ok := sh.TrackingNumber.Number(); ok {
		msg.TrackingNumber = n
	}
	b, _ := json.Marshal(msg)
	if err := s.producer.Publish(ctx, s.topic, []byte(strconv.FormatUint(sh.ID, 10)), b); err != nil {
		slog.Warn("publish status change failed", "shipmentId", sh.ID, "error", err.Error())
	}
}

func (s *Service) refreshAfterUpdate(ctx context.Context, prev, cur *models.Shipment) {
	if s.cache == nil || s.snapshotTTL <= 0 {
		return
	}
	curN, curOK := cur.TrackingNumber.Number()
	if prevN, ok := prev.TrackingNumber.Number(); ok && (!curOK || prevN != curN) {
		if err := s.cache.Del(ctx, snapshotKey(prevN)); err != nil {
			slog.Warn("drop stale tracking snapshot failed", "trackingNumber", prevN, "error", err.Error())
		}
	}
	if curOK {
		if err := s.RefreshTrackingSnapshot(ctx, curN); err != nil {
			slog.Warn("refresh tracking snapshot failed", "trackingNumber", curN, "error", err.Error())
		}
	}
}

func snapshotKey(trackingNumber string) string {
	return fmt.Sprintf("tracking:%s:snapshot", trackingNumber)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
