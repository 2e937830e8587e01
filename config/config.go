package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipDesk ShipDeskConfig `yaml:"shipdesk"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	StatusChangedTopicName string `yaml:"status_changed_topic_name"`
	OverdueTopicName       string `yaml:"overdue_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipDeskConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// TTL for cached public tracking snapshots.
	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds"`

	// Per-IP budget for the public tracking endpoint, per minute.
	TrackRateLimitPerMinute int `yaml:"track_rate_limit_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Overdue sweep settings. Overdue means: in_transit and created more than
	// sweep_overdue_after_days ago with no notification sent yet.
	SweepIntervalSeconds     int `yaml:"sweep_interval_seconds"`
	SweepBatchSize           int `yaml:"sweep_batch_size"`
	SweepOverdueAfterDays    int `yaml:"sweep_overdue_after_days"`
	SweepRateLimitPerMinute  int `yaml:"sweep_rate_limit_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
