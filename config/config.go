package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Fleet       FleetConfig       `yaml:"fleet"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Writeback   WritebackConfig   `yaml:"writeback"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// FleetConfig tunes the in-memory state machine.
type FleetConfig struct {
	AcquireTimeoutMillis int           `yaml:"acquire_timeout_ms"`
	AcquireTimeout       time.Duration `yaml:"-"`
	DefaultCapacity      int           `yaml:"default_capacity"`
}

// BroadcastConfig controls subscriber queues and the SSE stream.
type BroadcastConfig struct {
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`
	HeartbeatSeconds  int           `yaml:"heartbeat_seconds"`
	HeartbeatInterval time.Duration `yaml:"-"`
}

// ProvisionerConfig controls how often persisted vehicles are loaded.
type ProvisionerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// WritebackConfig controls the asynchronous persistence mirror.
type WritebackConfig struct {
	FlushIntervalMillis int           `yaml:"flush_interval_ms"`
	FlushInterval       time.Duration `yaml:"-"`
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

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
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

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values and derives the time.Duration fields.
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
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Fleet.AcquireTimeoutMillis <= 0 {
		cfg.Fleet.AcquireTimeoutMillis = 250
	}
	cfg.Fleet.AcquireTimeout = time.Duration(cfg.Fleet.AcquireTimeoutMillis) * time.Millisecond
	if cfg.Fleet.DefaultCapacity <= 0 {
		cfg.Fleet.DefaultCapacity = 4
	}

	if cfg.Broadcast.SubscriberBuffer <= 0 {
		cfg.Broadcast.SubscriberBuffer = 64
	}
	if cfg.Broadcast.HeartbeatSeconds <= 0 {
		cfg.Broadcast.HeartbeatSeconds = 15
	}
	cfg.Broadcast.HeartbeatInterval = time.Duration(cfg.Broadcast.HeartbeatSeconds) * time.Second

	if cfg.Provisioner.IntervalSeconds <= 0 {
		cfg.Provisioner.IntervalSeconds = 30
	}
	cfg.Provisioner.Interval = time.Duration(cfg.Provisioner.IntervalSeconds) * time.Second

	if cfg.Writeback.FlushIntervalMillis <= 0 {
		cfg.Writeback.FlushIntervalMillis = 500
	}
	cfg.Writeback.FlushInterval = time.Duration(cfg.Writeback.FlushIntervalMillis) * time.Millisecond

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
