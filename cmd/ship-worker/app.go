package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cryship/shipdesk/config"
	"github.com/cryship/shipdesk/internal/broker/kafka"
	"github.com/cryship/shipdesk/internal/broker/messages"
	"github.com/cryship/shipdesk/internal/cache"
	"github.com/cryship/shipdesk/internal/cache/rediscache"
	"github.com/cryship/shipdesk/internal/services/shipments"
	"github.com/cryship/shipdesk/internal/services/sweeper"
	"github.com/cryship/shipdesk/internal/storage/pgshipment"
)

// workerStorage is what the worker needs from Postgres: snapshot reads for
// the cache warmer plus the overdue claim. pgshipment.Storage covers both.
type workerStorage interface {
	shipments.Repository
	sweeper.Repository
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (workerStorage, func(), error)
	newProducer    func(cfg *config.Config) sweeper.Producer
	newRateLimiter func(cfg *config.Config) sweeper.RateLimiter
	newCache       func(cfg *config.Config) cache.BytesCache
	newConsumer    func(cfg *config.Config, topic, group string) kafkaConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgshipment.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) sweeper.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) sweeper.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newConsumer: func(cfg *config.Config, topic, group string) kafkaConsumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, group)
		},
	}
}

func RunShipWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	statusTopic := cfg.Kafka.StatusChangedTopicName
	if statusTopic == "" {
		statusTopic = "shipment.status_changed"
	}
	overdueTopic := cfg.Kafka.OverdueTopicName
	if overdueTopic == "" {
		overdueTopic = "shipment.overdue"
	}
	group := cfg.ShipDesk.KafkaConsumerGroup
	if group == "" {
		group = "ship-worker"
	}

	snapshotTTL := time.Duration(cfg.ShipDesk.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}
	sweepInterval := time.Duration(cfg.ShipDesk.SweepIntervalSeconds) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	batchSize := cfg.ShipDesk.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	overdueAfter := time.Duration(cfg.ShipDesk.SweepOverdueAfterDays) * 24 * time.Hour
	if overdueAfter <= 0 {
		overdueAfter = 5 * 24 * time.Hour
	}
	rlPerMin := int64(cfg.ShipDesk.SweepRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	c := f.newCache(cfg)
	consumer := f.newConsumer(cfg, statusTopic, group)
	defer func() { _ = consumer.Close() }()

	// The worker never publishes status changes itself, so the service gets no
	// producer; it only rebuilds snapshots.
	svc := shipments.New(repo, c, nil, "", snapshotTTL)

	sw := sweeper.New(repo, producer, rl, overdueTopic).
		WithSettings(sweepInterval, batchSize, overdueAfter, rlPerMin)

	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", statusTopic, "group", group)
		consumeErr <- consumer.Consume(ctx, func(_ []byte, value []byte) error {
			var m messages.ShipmentStatusChanged
			if err := json.Unmarshal(value, &m); err != nil {
				slog.Warn("skip malformed status message", "error", err.Error())
				return nil
			}
			if m.TrackingNumber == "" || m.TrackingNumber == "not-assigned" {
				return nil
			}
			if err := svc.RefreshTrackingSnapshot(ctx, m.TrackingNumber); err != nil {
				slog.Warn("snapshot refresh failed", "trackingNumber", m.TrackingNumber, "error", err.Error())
			}
			return nil
		})
	}()

	sweepErr := make(chan error, 1)
	go func() { sweepErr <- sw.Run(ctx) }()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.ShipDesk.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			sweeper:     sw,
			cfg:         cfg,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumeErr:
		return err
	case err := <-sweepErr:
		return err
	case err := <-httpErr:
		return err
	}
}
