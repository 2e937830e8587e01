package shipments

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/cryship/shipdesk/internal/status"
	"github.com/cryship/shipdesk/internal/timeline"
	"github.com/cryship/shipdesk/internal/waybill"
)

// TrackingSnapshot is the public tracking view, cached in Redis as one JSON
// blob per tracking number.
type TrackingSnapshot struct {
	Shipment              SnapshotShipment `json:"shipment"`
	EstimatedDeliveryDate time.Time        `json:"estimatedDeliveryDate"`
	Events                []SnapshotEvent  `json:"events"`
}

type SnapshotShipment struct {
	ID               uint64    `json:"id"`
	TrackingNumber   string    `json:"trackingNumber"`
	SenderName       string    `json:"senderName"`
	ReceiverName     string    `json:"receiverName"`
	OriginLocation   string    `json:"originLocation"`
	Destination      string    `json:"destination"`
	ItemsDescription string    `json:"itemsDescription"`
	Weight           float64   `json:"weight"`
	PackageQuantity  int32     `json:"packageQuantity"`
	PackageImageURL  *string   `json:"packageImageUrl,omitempty"`
	Status           string    `json:"status"`
	StatusLabel      string    `json:"statusLabel"`
	ProgressStep     string    `json:"progressStep"`
	ProgressIndex    int       `json:"progressIndex"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type SnapshotEvent struct {
	ID             uint64    `json:"id"`
	EventType      string    `json:"eventType"`
	Description    string    `json:"description"`
	Location       *string   `json:"location,omitempty"`
	EventTimestamp time.Time `json:"eventTimestamp"`
}

// Track resolves a raw tracking-number input to its snapshot. The cache is
// consulted first; on a miss the snapshot is rebuilt from storage and cached
// best-effort.
func (s *Service) Track(ctx context.Context, raw string) (*TrackingSnapshot, error) {
	// Numbers assigned before format validation existed don't match the
	// canonical pattern but still live in storage; they stay trackable by
	// exact lookup on the normalized input.
	n, perr := waybill.Parse(raw)
	if perr != nil {
		if n = waybill.Normalize(raw); n == "" {
			return nil, perr
		}
	}

	key := snapshotKey(n)
	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, key); err != nil {
			slog.Warn("tracking snapshot cache read failed", "trackingNumber", n, "error", err.Error())
		} else if ok {
			var snap TrackingSnapshot
			uerr := json.Unmarshal(b, &snap)
			if uerr == nil {
				return &snap, nil
			}
			slog.Warn("corrupt tracking snapshot dropped", "trackingNumber", n, "error", uerr.Error())
		}
	}

	snap, err := s.buildSnapshot(ctx, n)
	if err != nil {
		// Malformed and unknown: report the format problem, not the miss.
		if perr != nil && errors.Is(err, ErrNotFound) {
			return nil, perr
		}
		return nil, err
	}
	s.storeSnapshot(ctx, key, snap)
	return snap, nil
}

// RefreshTrackingSnapshot rebuilds and re-caches the snapshot unconditionally.
// The worker calls this on status-change messages so public reads stay warm.
func (s *Service) RefreshTrackingSnapshot(ctx context.Context, trackingNumber string) error {
	n, perr := waybill.Parse(trackingNumber)
	if perr != nil {
		// Same legacy-number allowance as Track.
		if n = waybill.Normalize(trackingNumber); n == "" {
			return perr
		}
	}
	snap, err := s.buildSnapshot(ctx, n)
	if err != nil {
		return err
	}
	s.storeSnapshot(ctx, snapshotKey(n), snap)
	return nil
}

func (s *Service) buildSnapshot(ctx context.Context, trackingNumber string) (*TrackingSnapshot, error) {
	sh, err := s.repo.GetShipmentByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	evs, err := s.repo.ListEvents(ctx, sh.ID, 100, 0)
	if err != nil {
		return nil, err
	}

	step := status.Reconcile(sh.Status, sh.ProgressStep)

	origin := sh.OriginLocation
	if origin == "" {
		origin = "Not specified"
	}

	snap := &TrackingSnapshot{
		Shipment: SnapshotShipment{
			ID:               sh.ID,
			TrackingNumber:   trackingNumber,
			SenderName:       sh.SenderName,
			ReceiverName:     sh.ReceiverName,
			OriginLocation:   origin,
			Destination:      sh.Destination,
			ItemsDescription: sh.ItemsDescription,
			Weight:           sh.Weight,
			PackageQuantity:  sh.PackageQuantity,
			PackageImageURL:  sh.PackageImageURL,
			Status:           string(sh.Status),
			StatusLabel:      status.Label(string(step)),
			ProgressStep:     string(step),
			ProgressIndex:    status.ProgressIndex(step),
			CreatedAt:        sh.CreatedAt,
			UpdatedAt:        sh.UpdatedAt,
		},
		EstimatedDeliveryDate: timeline.EstimatedDelivery(sh.CreatedAt),
		Events:                make([]SnapshotEvent, 0, len(evs)),
	}

	for _, e := range timeline.SortDescending(evs) {
		desc := e.Description
		if desc == "" {
			desc = "Shipment update"
		}
		snap.Events = append(snap.Events, SnapshotEvent{
			ID:             e.ID,
			EventType:      e.EventType,
			Description:    desc,
			Location:       e.Location,
			EventTimestamp: e.EventTime,
		})
	}
	return snap, nil
}

func (s *Service) storeSnapshot(ctx context.Context, key string, snap *TrackingSnapshot) {
	if s.cache == nil || s.snapshotTTL <= 0 {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, b, s.snapshotTTL); err != nil {
		slog.Warn("tracking snapshot cache write failed", "key", key, "error", err.Error())
	}
}
