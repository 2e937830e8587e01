// Package sweeper periodically flags in-transit shipments that blew past
// their estimated delivery window and publishes an overdue notice for each.
package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/cryship/shipdesk/internal/broker/messages"
	"github.com/cryship/shipdesk/internal/models"
	"github.com/cryship/shipdesk/internal/timeline"
	"github.com/cryship/shipdesk/internal/waybill"
)

type Repository interface {
	ClaimOverdueShipments(ctx context.Context, olderThan time.Time, limit int) ([]*models.Shipment, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Sweeper struct {
	repo     Repository
	producer Producer
	rl       RateLimiter

	topic string

	sweepInterval      time.Duration
	batchSize          int
	overdueAfter       time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, topic string) *Sweeper {
	return &Sweeper{
		repo: repo, producer: producer, rl: rl, topic: topic,
		sweepInterval:      time.Minute,
		batchSize:          100,
		overdueAfter:       time.Duration(timeline.EstimatedDeliveryDays) * 24 * time.Hour,
		rateLimitPerMinute: 120,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(sweepInterval time.Duration, batchSize int, overdueAfter time.Duration, rlPerMin int64) *Sweeper {
	if sweepInterval > 0 {
		s.sweepInterval = sweepInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if overdueAfter > 0 {
		s.overdueAfter = overdueAfter
	}
	if rlPerMin > 0 {
		s.rateLimitPerMinute = rlPerMin
	}
	return s
}

// Trigger forces an immediate sweep cycle (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalPublished: s.totalPublished.Load(),
		TotalErrors:    s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	items, err := s.repo.ClaimOverdueShipments(ctx, now.Add(-s.overdueAfter), s.batchSize)
	if err != nil {
		s.recordError(err)
		slog.Error("claim overdue shipments", "error", err.Error())
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	for _, sh := range items {
		if err := s.publishOne(ctx, sh, now); err != nil {
			s.totalErrors.Add(1)
			s.recordError(err)
			slog.Error("publish overdue notice", "shipment_id", sh.ID, "error", err.Error())
			continue
		}
		s.totalPublished.Add(1)
	}
}

func (s *Sweeper) publishOne(ctx context.Context, sh *models.Shipment, now time.Time) error {
	if s.rl != nil && s.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:overdue:%s", now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			slog.Warn("overdue publish rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	msg := messages.ShipmentOverdue{
		ShipmentID:        sh.ID,
		TrackingNumber:    waybill.EncodeLegacy(sh.TrackingNumber),
		Destination:       sh.Destination,
		EstimatedDelivery: timeline.EstimatedDelivery(sh.CreatedAt),
		DetectedAt:        now,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal overdue msg")
	}
	return s.producer.Publish(ctx, s.topic, []byte(fmt.Sprintf("%d", sh.ID)), b)
}

func (s *Sweeper) recordError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
