package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Alerting   AlertingConfig   `yaml:"alerting"`
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
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
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

// ReconcileConfig holds the cadence of the server-aggregate reconciliation loop.
type ReconcileConfig struct {
	IntervalSeconds int           `yaml:"interval_seconds"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	Interval        time.Duration `yaml:"-"`
	Timeout         time.Duration `yaml:"-"`
}

// AlertingConfig holds duplicate-suppression windows and the alert types that
// use the narrower machine+type+message-prefix policy.
type AlertingConfig struct {
	SpecificAlertTypes    []string      `yaml:"specific_alert_types"`
	SpecificWindowMinutes int           `yaml:"specific_window_minutes"`
	GenericWindowHours    int           `yaml:"generic_window_hours"`
	SpecificWindow        time.Duration `yaml:"-"`
	GenericWindow         time.Duration `yaml:"-"`
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

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 5
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Reconcile.IntervalSeconds <= 0 {
		cfg.Reconcile.IntervalSeconds = 60
	}
	if cfg.Reconcile.TimeoutSeconds <= 0 {
		cfg.Reconcile.TimeoutSeconds = 10
	}
	cfg.Reconcile.Interval = time.Duration(cfg.Reconcile.IntervalSeconds) * time.Second
	cfg.Reconcile.Timeout = time.Duration(cfg.Reconcile.TimeoutSeconds) * time.Second

	if len(cfg.Alerting.SpecificAlertTypes) == 0 {
		cfg.Alerting.SpecificAlertTypes = []string{"teflon_change", "quality_test"}
	}
	if cfg.Alerting.SpecificWindowMinutes <= 0 {
		cfg.Alerting.SpecificWindowMinutes = 120
	}
	if cfg.Alerting.GenericWindowHours <= 0 {
		cfg.Alerting.GenericWindowHours = 24
	}
	cfg.Alerting.SpecificWindow = time.Duration(cfg.Alerting.SpecificWindowMinutes) * time.Minute
	cfg.Alerting.GenericWindow = time.Duration(cfg.Alerting.GenericWindowHours) * time.Hour

	return &cfg, nil
}
