package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cryship/shipdesk/config"
	"github.com/cryship/shipdesk/internal/api/shipments_api"
	"github.com/cryship/shipdesk/internal/broker/kafka"
	"github.com/cryship/shipdesk/internal/cache/rediscache"
	"github.com/cryship/shipdesk/internal/services/shipments"
	"github.com/cryship/shipdesk/internal/storage/pgshipment"
)

type shipAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    shipAPIOpts
	api     *shipments_api.API
	closeDB func()
}

func mustBootstrapShipAPI() *shipAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config load failed: %v", err))
	}

	httpAddr := cfg.ShipDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.StatusChangedTopicName
	if topic == "" {
		topic = "shipment.status_changed"
	}
	snapshotTTL := time.Duration(cfg.ShipDesk.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}
	trackRate := int64(cfg.ShipDesk.TrackRateLimitPerMinute)
	if trackRate <= 0 {
		trackRate = 60
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	svc := shipments.New(st, rc, producer, topic, snapshotTTL)
	api := shipments_api.New(svc, rl, trackRate)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shipAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shipAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:     api,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipment.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipment.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shipAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *shipAPIApp) Run() error {
	return runShipAPI(a.ctx, a.opts, a.api)
}
