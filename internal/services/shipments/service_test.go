package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/cryship/shipdesk/internal/models"
	"github.com/cryship/shipdesk/internal/status"
	"github.com/cryship/shipdesk/internal/storage/pgshipment"
	"github.com/cryship/shipdesk/internal/waybill"
)

type fakeRepo struct {
	shipments map[uint64]*models.Shipment
	events    []*models.TrackingEvent
	locations map[uint64]*models.Location
	nextID    uint64

	appendEventErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		shipments: map[uint64]*models.Shipment{},
		locations: map[uint64]*models.Location{},
	}
}

func (r *fakeRepo) CreateShipment(_ context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	r.nextID++
	now := time.Now().UTC()
	sh := &models.Shipment{
		ID:               r.nextID,
		TrackingNumber:   in.TrackingNumber,
		Status:           status.StatusCreated,
		ProgressStep:     status.StepPending,
		SenderName:       in.SenderName,
		SenderContact:    in.SenderContact,
		ReceiverName:     in.ReceiverName,
		ReceiverContact:  in.ReceiverContact,
		ItemsDescription: in.ItemsDescription,
		Weight:           in.Weight,
		PackageQuantity:  in.PackageQuantity,
		OriginLocation:   in.OriginLocation,
		Destination:      in.Destination,
		ShipmentDate:     in.ShipmentDate,
		UserID:           in.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.shipments[sh.ID] = sh
	return cloneShipment(sh), nil
}

func (r *fakeRepo) GetShipmentByID(_ context.Context, id uint64) (*models.Shipment, error) {
	sh, ok := r.shipments[id]
	if !ok {
		return nil, pgshipment.ErrNotFound
	}
	return cloneShipment(sh), nil
}

func (r *fakeRepo) GetShipmentByTrackingNumber(_ context.Context, trackingNumber string) (*models.Shipment, error) {
	for _, sh := range r.shipments {
		if n, ok := sh.TrackingNumber.Number(); ok && n == trackingNumber {
			return cloneShipment(sh), nil
		}
	}
	return nil, pgshipment.ErrNotFound
}

func (r *fakeRepo) ListShipments(_ context.Context, q pgshipment.ShipmentListQuery) ([]*models.Shipment, int64, error) {
	var all []*models.Shipment
	for _, sh := range r.shipments {
		if q.UserID != "" && sh.UserID != q.UserID {
			continue
		}
		if q.Status != "" && sh.Status != q.Status {
			continue
		}
		all = append(all, cloneShipment(sh))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := int64(len(all))
	if q.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[q.Offset:]
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all, total, nil
}

func (r *fakeRepo) UpdateShipment(_ context.Context, id uint64, upd pgshipment.ShipmentUpdate) error {
	sh, ok := r.shipments[id]
	if !ok {
		return pgshipment.ErrNotFound
	}
	sh.Status = upd.Status
	sh.ProgressStep = upd.ProgressStep
	if upd.Destination != nil {
		sh.Destination = *upd.Destination
	}
	if upd.ReceiverName != nil {
		sh.ReceiverName = *upd.ReceiverName
	}
	if upd.Weight != nil {
		sh.Weight = *upd.Weight
	}
	if upd.TrackingNumber != nil {
		sh.TrackingNumber = waybill.DecodeLegacy(*upd.TrackingNumber)
	}
	if upd.PackageImageURL != nil {
		sh.PackageImageURL = upd.PackageImageURL
		sh.PackageImageBucket = upd.PackageImageBucket
		sh.PackageImagePath = upd.PackageImagePath
	}
	sh.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeRepo) DeleteShipment(_ context.Context, id uint64) error {
	if _, ok := r.shipments[id]; !ok {
		return pgshipment.ErrNotFound
	}
	delete(r.shipments, id)
	return nil
}

func (r *fakeRepo) CountShipmentsByStatus(_ context.Context) (map[status.LifecycleStatus]int64, error) {
	out := map[status.LifecycleStatus]int64{}
	for _, sh := range r.shipments {
		out[sh.Status]++
	}
	return out, nil
}

func (r *fakeRepo) CountShipmentsCreatedSince(_ context.Context, since time.Time) (map[time.Time]int64, error) {
	out := map[time.Time]int64{}
	for _, sh := range r.shipments {
		if sh.CreatedAt.Before(since) {
			continue
		}
		d := sh.CreatedAt.UTC()
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		out[day]++
	}
	return out, nil
}

func (r *fakeRepo) AppendEvent(_ context.Context, e *models.TrackingEvent) error {
	if r.appendEventErr != nil {
		return r.appendEventErr
	}
	e.ID = uint64(len(r.events) + 1)
	if e.EventTime.IsZero() {
		e.EventTime = time.Now().UTC()
	}
	e.CreatedAt = time.Now().UTC()
	cp := *e
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeRepo) ListEvents(_ context.Context, shipmentID uint64, limit, offset int) ([]*models.TrackingEvent, error) {
	var out []*models.TrackingEvent
	for _, e := range r.events {
		if e.ShipmentID == shipmentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListEventsByType(_ context.Context, eventType string, shipmentIDs []uint64) ([]*models.TrackingEvent, error) {
	want := map[uint64]bool{}
	for _, id := range shipmentIDs {
		want[id] = true
	}
	var out []*models.TrackingEvent
	for _, e := range r.events {
		if e.EventType == eventType && want[e.ShipmentID] {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListLocations(_ context.Context, activeOnly bool) ([]*models.Location, error) {
	var out []*models.Location
	for _, l := range r.locations {
		if activeOnly && !l.Active {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *fakeRepo) CreateLocation(_ context.Context, name string) (*models.Location, error) {
	for _, l := range r.locations {
		if l.Name == name {
			cp := *l
			return &cp, nil
		}
	}
	l := &models.Location{ID: uint64(len(r.locations) + 1), Name: name, Active: true, CreatedAt: time.Now().UTC()}
	r.locations[l.ID] = l
	cp := *l
	return &cp, nil
}

func (r *fakeRepo) SetLocationActive(_ context.Context, id uint64, active bool) error {
	l, ok := r.locations[id]
	if !ok {
		return pgshipment.ErrNotFound
	}
	l.Active = active
	return nil
}

func cloneShipment(sh *models.Shipment) *models.Shipment {
	cp := *sh
	return &cp
}

type fakeCache struct {
	data map[string][]byte

	gets, sets, dels int
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string][]byte{}} }

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.gets++
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.sets++
	c.data[key] = value
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.dels++
	delete(c.data, key)
	return nil
}

type publishedMessage struct {
	topic string
	key   []byte
	value []byte
}

type fakeProducer struct {
	published []publishedMessage
}

func (p *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	p.published = append(p.published, publishedMessage{topic: topic, key: key, value: value})
	return nil
}

func newTestService(repo *fakeRepo, c *fakeCache, p *fakeProducer) *Service {
	return New(repo, c, p, "shipment.status_changed", time.Minute)
}

func validCreateInput() models.ShipmentCreateInput {
	return models.ShipmentCreateInput{
		SenderName:       "Ada Obi",
		ReceiverName:     "Chidi Okafor",
		ItemsDescription: "Documents",
		Weight:           1.5,
		PackageQuantity:  1,
		OriginLocation:   "Lagos",
		Destination:      "Abuja",
		ShipmentDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UserID:           "user-1",
	}
}

func TestCreate_AppendsCreatedEvent(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})

	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	require.Equal(t, status.StatusCreated, sh.Status)
	require.Equal(t, status.StepPending, sh.ProgressStep)

	require.Len(t, repo.events, 1)
	ev := repo.events[0]
	require.Equal(t, sh.ID, ev.ShipmentID)
	require.Equal(t, status.EventShipmentCreated, ev.EventType)
	require.Equal(t, "Shipment created and pending pickup", ev.Description)
	require.NotNil(t, ev.CreatedBy)
	require.Equal(t, "user-1", *ev.CreatedBy)
}

func TestCreate_EventFailureDoesNotFailCreate(t *testing.T) {
	repo := newFakeRepo()
	repo.appendEventErr = errors.New("events table is gone")
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})

	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	require.NotZero(t, sh.ID)
}

func TestCreate_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.ShipmentCreateInput)
	}{
		{"missing sender", func(in *models.ShipmentCreateInput) { in.SenderName = "  " }},
		{"missing receiver", func(in *models.ShipmentCreateInput) { in.ReceiverName = "" }},
		{"zero weight", func(in *models.ShipmentCreateInput) { in.Weight = 0 }},
		{"negative weight", func(in *models.ShipmentCreateInput) { in.Weight = -2 }},
		{"negative quantity", func(in *models.ShipmentCreateInput) { in.PackageQuantity = -1 }},
		{"zero shipment date", func(in *models.ShipmentCreateInput) { in.ShipmentDate = time.Time{} }},
		{"missing user", func(in *models.ShipmentCreateInput) { in.UserID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeRepo()
			svc := newTestService(repo, newFakeCache(), &fakeProducer{})
			in := validCreateInput()
			tc.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			require.Error(t, err)
			require.Empty(t, repo.shipments)
		})
	}
}

func TestCreate_DefaultsQuantityToOne(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})
	in := validCreateInput()
	in.PackageQuantity = 0

	sh, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, int32(1), sh.PackageQuantity)
}

func TestUpdateProgress_InvalidStep(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})
	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{Step: "teleported"})
	require.ErrorIs(t, err, ErrInvalidStep)
}

func TestUpdateProgress_NotFound(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeCache(), &fakeProducer{})
	_, err := svc.UpdateProgress(context.Background(), 404, UpdateProgressInput{Step: "in_transit"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProgress_PersistsStatusAndEmitsEvent(t *testing.T) {
	repo := newFakeRepo()
	producer := &fakeProducer{}
	svc := newTestService(repo, newFakeCache(), producer)
	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	updated, err := svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{
		Step:     "in_transit",
		Location: "Lagos Hub",
		ActorID:  "staff-7",
	})
	require.NoError(t, err)
	require.Equal(t, status.StatusInTransit, updated.Status)
	require.Equal(t, status.StepInTransit, updated.ProgressStep)
	// Location annotates the event only; the destination stays put.
	require.Equal(t, "Abuja", updated.Destination)

	require.Len(t, repo.events, 2)
	ev := repo.events[1]
	require.Equal(t, "in_transit", ev.EventType)
	require.Equal(t, "Status changed to in transit - Location: Lagos Hub", ev.Description)
	require.NotNil(t, ev.Location)
	require.Equal(t, "Lagos Hub", *ev.Location)
	require.NotNil(t, ev.CreatedBy)
	require.Equal(t, "staff-7", *ev.CreatedBy)

	require.Len(t, producer.published, 1)
	require.Equal(t, "shipment.status_changed", producer.published[0].topic)
	require.Equal(t, fmt.Sprintf("%d", sh.ID), string(producer.published[0].key))
}

func TestUpdateProgress_NoLocationOmitsSuffix(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})
	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{Step: "out_for_delivery"})
	require.NoError(t, err)

	ev := repo.events[len(repo.events)-1]
	require.Equal(t, "Status changed to out for delivery", ev.Description)
	require.Nil(t, ev.Location)
}

func TestUpdateProgress_InvalidWaybillBlocksWholeUpdate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})
	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	_, err = svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{
		Step:          "in_transit",
		WaybillNumber: "CRY-12-4567",
	})
	require.ErrorIs(t, err, waybill.ErrInvalidFormat)

	got, err := repo.GetShipmentByID(context.Background(), sh.ID)
	require.NoError(t, err)
	require.Equal(t, status.StatusCreated, got.Status)
}

func TestUpdateProgress_AssignsNormalizedWaybill(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})
	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	updated, err := svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{
		Step:          "in_transit",
		WaybillNumber: " cry–123–4567 ",
	})
	require.NoError(t, err)
	n, ok := updated.TrackingNumber.Number()
	require.True(t, ok)
	require.Equal(t, "CRY-123-4567", n)
}

func TestUpdateProgress_EventFailureDoesNotFailUpdate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})
	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)

	repo.appendEventErr = errors.New("events table is gone")
	updated, err := svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{Step: "delivered"})
	require.NoError(t, err)
	require.Equal(t, status.StatusDelivered, updated.Status)
}

func TestTrack_InvalidNumber(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeCache(), &fakeProducer{})
	_, err := svc.Track(context.Background(), "CRY-1-1")
	require.ErrorIs(t, err, waybill.ErrInvalidFormat)
}

func TestTrack_UnknownNumber(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeCache(), &fakeProducer{})
	_, err := svc.Track(context.Background(), "CRY-999-9999")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTrack_BuildsAndCachesSnapshot(t *testing.T) {
	repo := newFakeRepo()
	c := newFakeCache()
	svc := newTestService(repo, c, &fakeProducer{})

	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	_, err = svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{
		Step:          "in_transit",
		Location:      "Lagos Hub",
		WaybillNumber: "CRY-123-4567",
	})
	require.NoError(t, err)

	snap, err := svc.Track(context.Background(), "cry-123-4567")
	require.NoError(t, err)
	require.Equal(t, "CRY-123-4567", snap.Shipment.TrackingNumber)
	require.Equal(t, "in_transit", snap.Shipment.Status)
	require.Equal(t, "In Transit", snap.Shipment.StatusLabel)
	require.Equal(t, 1, snap.Shipment.ProgressIndex)
	require.Equal(t, snap.Shipment.CreatedAt.AddDate(0, 0, 5), snap.EstimatedDeliveryDate)

	require.Len(t, snap.Events, 2)
	// Newest first.
	require.Equal(t, "in_transit", snap.Events[0].EventType)
	require.Equal(t, status.EventShipmentCreated, snap.Events[1].EventType)

	require.Contains(t, c.data, "tracking:CRY-123-4567:snapshot")
}

func TestTrack_CacheHitSkipsStorage(t *testing.T) {
	c := newFakeCache()
	cached := &TrackingSnapshot{Shipment: SnapshotShipment{ID: 42, TrackingNumber: "CRY-123-4567"}}
	b, err := json.Marshal(cached)
	require.NoError(t, err)
	c.data["tracking:CRY-123-4567:snapshot"] = b

	// Empty repo: any storage read would return not found.
	svc := newTestService(newFakeRepo(), c, &fakeProducer{})
	snap, err := svc.Track(context.Background(), "CRY-123-4567")
	require.NoError(t, err)
	require.Equal(t, uint64(42), snap.Shipment.ID)
}

func TestTrack_LegacyNumberStillTracked(t *testing.T) {
	repo := newFakeRepo()
	c := newFakeCache()
	svc := newTestService(repo, c, &fakeProducer{})

	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	// Rows that predate format validation keep their original numbers.
	repo.shipments[sh.ID].TrackingNumber = waybill.DecodeLegacy("OLD-FORMAT-1")

	snap, err := svc.Track(context.Background(), " old-format-1 ")
	require.NoError(t, err)
	require.Equal(t, "OLD-FORMAT-1", snap.Shipment.TrackingNumber)
	require.Contains(t, c.data, "tracking:OLD-FORMAT-1:snapshot")

	require.NoError(t, svc.RefreshTrackingSnapshot(context.Background(), "OLD-FORMAT-1"))
}

func TestCreationTrend(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), validCreateInput())
		require.NoError(t, err)
	}
	// Backdate one creation by two days.
	repo.shipments[1].CreatedAt = time.Now().UTC().AddDate(0, 0, -2)

	trend, err := svc.CreationTrend(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, trend, 7)

	today := time.Now().UTC().Format("2006-01-02")
	require.Equal(t, today, trend[6].Date)
	require.Equal(t, int64(2), trend[6].Count)
	require.Equal(t, int64(1), trend[4].Count)
	require.Equal(t, int64(0), trend[0].Count)
	for i := 1; i < len(trend); i++ {
		require.Greater(t, trend[i].Date, trend[i-1].Date)
	}
}

func TestDelete_DropsSnapshot(t *testing.T) {
	repo := newFakeRepo()
	c := newFakeCache()
	svc := newTestService(repo, c, &fakeProducer{})

	sh, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	_, err = svc.UpdateProgress(context.Background(), sh.ID, UpdateProgressInput{
		Step:          "in_transit",
		WaybillNumber: "CRY-123-4567",
	})
	require.NoError(t, err)
	require.Contains(t, c.data, "tracking:CRY-123-4567:snapshot")

	require.NoError(t, svc.Delete(context.Background(), sh.ID))
	require.NotContains(t, c.data, "tracking:CRY-123-4567:snapshot")
	require.ErrorIs(t, svc.Delete(context.Background(), sh.ID), ErrNotFound)
}

func TestList_Paging(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})
	for i := 0; i < 5; i++ {
		_, err := svc.Create(context.Background(), validCreateInput())
		require.NoError(t, err)
	}

	res, err := svc.List(context.Background(), ListQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, int64(5), res.TotalCount)
	require.Equal(t, 2, res.Page)
	require.Equal(t, 3, res.TotalPages)
	require.Len(t, res.Shipments, 2)
}

func TestExportDeliveries(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})

	sh1, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	_, err = svc.UpdateProgress(context.Background(), sh1.ID, UpdateProgressInput{
		Step:          "delivered",
		WaybillNumber: "CRY-111-1111",
	})
	require.NoError(t, err)

	sh2, err := svc.Create(context.Background(), validCreateInput())
	require.NoError(t, err)
	_, err = svc.UpdateProgress(context.Background(), sh2.ID, UpdateProgressInput{Step: "in_transit"})
	require.NoError(t, err)

	rows, err := svc.ExportDeliveries(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byNumber := map[string]bool{}
	for _, r := range rows {
		byNumber[r.TrackingNumber] = r.DeliveryDate != ""
		switch r.TrackingNumber {
		case "CRY-111-1111":
			require.Equal(t, "Delivered", r.Status)
			require.Equal(t, time.Now().UTC().Format("2006-01-02"), r.DeliveryDate)
		case "not-assigned":
			require.Equal(t, "In Transit", r.Status)
			require.Empty(t, r.DeliveryDate)
		default:
			t.Fatalf("unexpected tracking number %q", r.TrackingNumber)
		}
	}
	require.Len(t, byNumber, 2)
}

func TestLocations(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, newFakeCache(), &fakeProducer{})

	_, err := svc.CreateLocation(context.Background(), "  ")
	require.Error(t, err)

	l, err := svc.CreateLocation(context.Background(), "Lagos Hub")
	require.NoError(t, err)
	require.True(t, l.Active)

	require.NoError(t, svc.SetLocationActive(context.Background(), l.ID, false))
	active, err := svc.ListLocations(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := svc.ListLocations(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
