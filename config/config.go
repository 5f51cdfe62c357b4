package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Occupancy  OccupancyConfig  `yaml:"occupancy"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// AuthConfig holds the pre-shared credential expected from gate sensors
// and dashboard clients.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// OccupancyConfig holds capacity and reservation policy knobs.
type OccupancyConfig struct {
	DefaultCapacity         int           `yaml:"default_capacity"`
	ReservationTTLSeconds   int           `yaml:"reservation_ttl_seconds"`
	SweepIntervalSeconds    int           `yaml:"sweep_interval_seconds"`
	ReservationTTL          time.Duration `yaml:"-"` // Ignored by YAML parser
	SweepInterval           time.Duration `yaml:"-"`
	SubscriberBufferMessages int          `yaml:"subscriber_buffer_messages"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Auth.APIKey == "" {
		return nil, fmt.Errorf("auth.api_key must be configured")
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with the documented defaults. Exported
// so tests can build a usable config without a YAML file.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file:smartqueue.db?cache=shared"
	}

	if cfg.Occupancy.DefaultCapacity <= 0 {
		cfg.Occupancy.DefaultCapacity = 10
	}
	if cfg.Occupancy.ReservationTTLSeconds <= 0 {
		cfg.Occupancy.ReservationTTLSeconds = 120
	}
	if cfg.Occupancy.SweepIntervalSeconds <= 0 {
		cfg.Occupancy.SweepIntervalSeconds = 30
	}
	cfg.Occupancy.ReservationTTL = time.Duration(cfg.Occupancy.ReservationTTLSeconds) * time.Second
	cfg.Occupancy.SweepInterval = time.Duration(cfg.Occupancy.SweepIntervalSeconds) * time.Second
	if cfg.Occupancy.SubscriberBufferMessages <= 0 {
		cfg.Occupancy.SubscriberBufferMessages = 16
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
