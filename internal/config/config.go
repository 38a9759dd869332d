// Package config handles approvalq configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tOgg1/approvalq/internal/models"
)

// Config is the root configuration structure for approvalq.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Database defaults shared by every instance store
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Instances lists the tenant instances the engine serves.
	Instances []InstanceConfig `yaml:"instances" mapstructure:"instances"`

	// Email transport settings
	Email EmailConfig `yaml:"email" mapstructure:"email"`

	// Digest rendering settings
	Digest DigestConfig `yaml:"digest" mapstructure:"digest"`

	// Scheduler settings for periodic sweeps
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`

	// Lock settings for the per-instance sweep lock
	Lock LockConfig `yaml:"lock" mapstructure:"lock"`

	// HTTP API settings
	HTTP HTTPConfig `yaml:"http" mapstructure:"http"`

	// Kafka ingest settings
	Kafka KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
}

// GlobalConfig contains global settings.
type GlobalConfig struct {
	// DataDir holds the per-instance database trees (default: ~/.local/share/approvalq).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/approvalq).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`

	// EnvFile is an optional dotenv file loaded before environment overrides.
	EnvFile string `yaml:"env_file" mapstructure:"env_file"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Driver is the default driver for instances (sqlite, pgx).
	Driver string `yaml:"driver" mapstructure:"driver"`

	// MaxConnections is the maximum number of database connections per instance.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections"`

	// BusyTimeout is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional rotating log file path.
	File string `yaml:"file" mapstructure:"file"`

	MaxSizeMB  int `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days" mapstructure:"max_age_days"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// InstanceConfig describes one tenant instance.
type InstanceConfig struct {
	// Name is the instance identifier used in queue rows and URLs.
	Name string `yaml:"name" mapstructure:"name"`

	// Driver overrides database.driver for this instance.
	Driver string `yaml:"driver" mapstructure:"driver"`

	// Path overrides the derived SQLite file path.
	Path string `yaml:"path" mapstructure:"path"`

	// DSN is the connection string; required for pgx.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// EmailConfig contains the transport settings for digest delivery.
type EmailConfig struct {
	// Environment is production, development or testing.
	Environment string `yaml:"environment" mapstructure:"environment"`

	TransportHost   string `yaml:"transport_host" mapstructure:"transport_host"`
	TransportPort   int    `yaml:"transport_port" mapstructure:"transport_port"`
	TransportUser   string `yaml:"transport_user" mapstructure:"transport_user"`
	TransportSecret string `yaml:"transport_secret" mapstructure:"transport_secret"`

	// FromAddress defaults to TransportUser.
	FromAddress     string `yaml:"from_address" mapstructure:"from_address"`
	FromDisplayName string `yaml:"from_display_name" mapstructure:"from_display_name"`

	// UseEncryption enables STARTTLS (implicit TLS on port 465).
	UseEncryption bool `yaml:"use_encryption" mapstructure:"use_encryption"`

	// NotificationsEnabled is the global kill switch.
	NotificationsEnabled bool `yaml:"notifications_enabled" mapstructure:"notifications_enabled"`

	// OfflineMode forces the console provider.
	OfflineMode bool `yaml:"offline_mode" mapstructure:"offline_mode"`

	// SendTimeout bounds one transport dialogue.
	SendTimeout time.Duration `yaml:"send_timeout" mapstructure:"send_timeout"`
}

// IsProduction reports whether the environment is production.
func (e EmailConfig) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(e.Environment))
	return env == "" || env == "production" || env == "prod"
}

// Sender returns the from address, defaulting to the transport user.
func (e EmailConfig) Sender() string {
	if strings.TrimSpace(e.FromAddress) != "" {
		return e.FromAddress
	}
	return e.TransportUser
}

// DigestConfig contains digest rendering settings.
type DigestConfig struct {
	// LinkBase prefixes admin deep links.
	LinkBase string `yaml:"link_base" mapstructure:"link_base"`

	// TemplateDir holds approval_digest.html / approval_digest.txt overrides.
	TemplateDir string `yaml:"template_dir" mapstructure:"template_dir"`

	// CurrencySymbol prefixes amounts in the built-in layout.
	CurrencySymbol string `yaml:"currency_symbol" mapstructure:"currency_symbol"`

	// DefaultDelayMinutes applies when no administrator sets a delay window.
	DefaultDelayMinutes int `yaml:"default_delay_minutes" mapstructure:"default_delay_minutes"`

	// BatchWarnThreshold logs a warning when one digest collects more rows.
	BatchWarnThreshold int `yaml:"batch_warn_threshold" mapstructure:"batch_warn_threshold"`
}

// SchedulerConfig contains scheduler settings.
type SchedulerConfig struct {
	// Enabled starts the periodic sweep in serve mode.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// SweepInterval is how often the sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`

	// MaxConcurrentInstances bounds parallel instance passes.
	MaxConcurrentInstances int `yaml:"max_concurrent_instances" mapstructure:"max_concurrent_instances"`
}

// LockConfig selects the per-instance sweep lock backend.
type LockConfig struct {
	// Backend is local or redis.
	Backend       string        `yaml:"backend" mapstructure:"backend"`
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// HTTPConfig contains HTTP API settings.
type HTTPConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// KafkaConfig contains event ingest settings.
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
	Brokers  []string `yaml:"brokers" mapstructure:"brokers"`
	Topic    string   `yaml:"topic" mapstructure:"topic"`
	GroupID  string   `yaml:"group_id" mapstructure:"group_id"`
	ClientID string   `yaml:"client_id" mapstructure:"client_id"`
}

// DefaultInstances are served when no instances are configured.
var DefaultInstances = []string{"prod", "dev", "testing"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	instances := make([]InstanceConfig, 0, len(DefaultInstances))
	for _, name := range DefaultInstances {
		instances = append(instances, InstanceConfig{Name: name})
	}

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "approvalq"),
			ConfigDir: filepath.Join(homeDir, ".config", "approvalq"),
			EnvFile:   ".env",
		},
		Database: DatabaseConfig{
			Driver:         "sqlite",
			MaxConnections: 10,
			BusyTimeoutMs:  5000,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			MaxSizeMB:    50,
			MaxBackups:   5,
			MaxAgeDays:   30,
			EnableCaller: false,
		},
		Instances: instances,
		Email: EmailConfig{
			Environment:          "production",
			TransportHost:        "smtp.gmail.com",
			TransportPort:        587,
			FromDisplayName:      "LMS Notification System",
			UseEncryption:        true,
			NotificationsEnabled: true,
			SendTimeout:          30 * time.Second,
		},
		Digest: DigestConfig{
			LinkBase:            "http://127.0.0.1:9090",
			CurrencySymbol:      "₹",
			DefaultDelayMinutes: models.DefaultDelayMinutes,
			BatchWarnThreshold:  100,
		},
		Scheduler: SchedulerConfig{
			Enabled:                true,
			SweepInterval:          time.Minute,
			MaxConcurrentInstances: 4,
		},
		Lock: LockConfig{
			Backend:   "local",
			RedisAddr: "localhost:6379",
			TTL:       5 * time.Minute,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Addr:    ":8080",
		},
		Kafka: KafkaConfig{
			Enabled:  false,
			Topic:    "approval-events",
			GroupID:  "approvalq",
			ClientID: "approvalq",
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validation := &models.ValidationErrors{}

	if c.Database.MaxConnections < 1 {
		validation.AddMessage("database.max_connections", "must be at least 1")
	}

	if c.Scheduler.SweepInterval < time.Second {
		validation.AddMessage("scheduler.sweep_interval", "must be at least 1s")
	}
	if c.Scheduler.MaxConcurrentInstances < 1 {
		validation.AddMessage("scheduler.max_concurrent_instances", "must be at least 1")
	}

	if c.Digest.DefaultDelayMinutes < 0 {
		validation.AddMessage("digest.default_delay_minutes", "must not be negative")
	} else if int64(c.Digest.DefaultDelayMinutes) >= models.MaxDelayMinutes {
		validation.AddMessage("digest.default_delay_minutes", "is too large")
	}

	switch strings.ToLower(c.Lock.Backend) {
	case "", "local":
	case "redis":
		if strings.TrimSpace(c.Lock.RedisAddr) == "" {
			validation.AddMessage("lock.redis_addr", "is required for the redis backend")
		}
	default:
		validation.AddMessage("lock.backend", "must be one of local, redis")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			validation.AddMessage("kafka.brokers", "at least one broker is required")
		}
		if strings.TrimSpace(c.Kafka.Topic) == "" {
			validation.AddMessage("kafka.topic", "is required")
		}
	}

	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		field := fmt.Sprintf("instances[%d]", i)
		name := strings.TrimSpace(inst.Name)
		if name == "" {
			validation.AddMessage(field+".name", "is required")
			continue
		}
		if seen[name] {
			validation.AddMessage(field+".name", fmt.Sprintf("duplicate instance %q", name))
		}
		seen[name] = true

		driver := inst.Driver
		if driver == "" {
			driver = c.Database.Driver
		}
		switch strings.ToLower(driver) {
		case "", "sqlite", "sqlite3":
		case "pgx", "postgres", "postgresql":
			if strings.TrimSpace(inst.DSN) == "" {
				validation.AddMessage(field+".dsn", "is required for the pgx driver")
			}
		default:
			validation.AddMessage(field+".driver", "must be one of sqlite, pgx")
		}
	}

	return validation.Err()
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// InstanceDatabasePath returns the SQLite file for an instance:
// <data_dir>/instances/<name>/database/lending_app_<name>.db unless overridden.
func (c *Config) InstanceDatabasePath(inst InstanceConfig) string {
	if inst.Path != "" {
		return inst.Path
	}
	return filepath.Join(c.Global.DataDir, "instances", inst.Name, "database", "lending_app_"+inst.Name+".db")
}

// InstanceNames returns the configured instance names in order.
func (c *Config) InstanceNames() []string {
	names := make([]string, 0, len(c.Instances))
	for _, inst := range c.Instances {
		names = append(names, inst.Name)
	}
	return names
}
