package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APPROVALQ"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// SetEnvFile sets an explicit dotenv file. It must exist.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < .env < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.loadEnvFile(cfg.Global.EnvFile); err != nil {
		return nil, err
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Slices decode into existing elements without truncating, so start
	// empty and let the Viper defaults fill them.
	cfg.Instances = nil

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyEnvOverrides(cfg)

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvFile populates the process environment from a dotenv file.
// Variables already set in the environment win.
func (l *Loader) loadEnvFile(fallback string) error {
	path := l.envFile
	explicit := path != ""
	if !explicit {
		path = fallback
	}
	if path == "" {
		return nil
	}
	if err := godotenv.Load(expandTilde(path)); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Digest.TemplateDir = expandTilde(cfg.Digest.TemplateDir)
	for i := range cfg.Instances {
		cfg.Instances[i].Path = expandTilde(cfg.Instances[i].Path)
	}
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "approvalq"))
	}

	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "approvalq"))
	}

	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)

	// Explicitly bind environment variables (Viper's Unmarshal has issues without this)
	bindEnvVars(v)

	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)
	v.SetDefault("global.env_file", cfg.Global.EnvFile)

	// Database
	v.SetDefault("database.driver", cfg.Database.Driver)
	v.SetDefault("database.max_connections", cfg.Database.MaxConnections)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", cfg.Logging.MaxAgeDays)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// Instances
	instances := make([]map[string]any, 0, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		instances = append(instances, map[string]any{"name": inst.Name})
	}
	v.SetDefault("instances", instances)

	// Email
	v.SetDefault("email.environment", cfg.Email.Environment)
	v.SetDefault("email.transport_host", cfg.Email.TransportHost)
	v.SetDefault("email.transport_port", cfg.Email.TransportPort)
	v.SetDefault("email.transport_user", cfg.Email.TransportUser)
	v.SetDefault("email.transport_secret", cfg.Email.TransportSecret)
	v.SetDefault("email.from_address", cfg.Email.FromAddress)
	v.SetDefault("email.from_display_name", cfg.Email.FromDisplayName)
	v.SetDefault("email.use_encryption", cfg.Email.UseEncryption)
	v.SetDefault("email.notifications_enabled", cfg.Email.NotificationsEnabled)
	v.SetDefault("email.offline_mode", cfg.Email.OfflineMode)
	v.SetDefault("email.send_timeout", cfg.Email.SendTimeout)

	// Digest
	v.SetDefault("digest.link_base", cfg.Digest.LinkBase)
	v.SetDefault("digest.template_dir", cfg.Digest.TemplateDir)
	v.SetDefault("digest.currency_symbol", cfg.Digest.CurrencySymbol)
	v.SetDefault("digest.default_delay_minutes", cfg.Digest.DefaultDelayMinutes)
	v.SetDefault("digest.batch_warn_threshold", cfg.Digest.BatchWarnThreshold)

	// Scheduler
	v.SetDefault("scheduler.enabled", cfg.Scheduler.Enabled)
	v.SetDefault("scheduler.sweep_interval", cfg.Scheduler.SweepInterval)
	v.SetDefault("scheduler.max_concurrent_instances", cfg.Scheduler.MaxConcurrentInstances)

	// Lock
	v.SetDefault("lock.backend", cfg.Lock.Backend)
	v.SetDefault("lock.redis_addr", cfg.Lock.RedisAddr)
	v.SetDefault("lock.redis_password", cfg.Lock.RedisPassword)
	v.SetDefault("lock.redis_db", cfg.Lock.RedisDB)
	v.SetDefault("lock.ttl", cfg.Lock.TTL)

	// HTTP
	v.SetDefault("http.enabled", cfg.HTTP.Enabled)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.allowed_origins", cfg.HTTP.AllowedOrigins)

	// Kafka
	v.SetDefault("kafka.enabled", cfg.Kafka.Enabled)
	v.SetDefault("kafka.brokers", cfg.Kafka.Brokers)
	v.SetDefault("kafka.topic", cfg.Kafka.Topic)
	v.SetDefault("kafka.group_id", cfg.Kafka.GroupID)
	v.SetDefault("kafka.client_id", cfg.Kafka.ClientID)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	loader := NewLoader()
	return loader.Load()
}

// legacyEnv maps config keys to the environment names the lending app
// has always read its mail settings from.
var legacyEnv = map[string][]string{
	"email.transport_host":        {"SMTP_HOST"},
	"email.transport_port":        {"SMTP_PORT"},
	"email.transport_user":        {"SMTP_USER"},
	"email.transport_secret":      {"SMTP_PASSWORD"},
	"email.from_address":          {"SMTP_FROM_EMAIL"},
	"email.from_display_name":     {"SMTP_FROM_NAME"},
	"email.use_encryption":        {"SMTP_USE_TLS"},
	"email.notifications_enabled": {"NOTIFICATIONS_ENABLED"},
	"email.environment":           {"FLASK_ENV"},
	"lock.redis_addr":             {"REDIS_ADDR"},
}

// bindEnvVars binds environment variables for config keys.
// APPROVALQ_* always wins over a legacy alias.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		// Global
		"global.data_dir",
		"global.config_dir",
		// Database
		"database.driver",
		"database.max_connections",
		"database.busy_timeout_ms",
		// Logging
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.max_size_mb",
		"logging.max_backups",
		"logging.max_age_days",
		"logging.enable_caller",
		// Email
		"email.environment",
		"email.transport_host",
		"email.transport_port",
		"email.transport_user",
		"email.transport_secret",
		"email.from_address",
		"email.from_display_name",
		"email.use_encryption",
		"email.notifications_enabled",
		"email.offline_mode",
		"email.send_timeout",
		// Digest
		"digest.link_base",
		"digest.template_dir",
		"digest.currency_symbol",
		"digest.default_delay_minutes",
		"digest.batch_warn_threshold",
		// Scheduler
		"scheduler.enabled",
		"scheduler.sweep_interval",
		"scheduler.max_concurrent_instances",
		// Lock
		"lock.backend",
		"lock.redis_addr",
		"lock.redis_password",
		"lock.redis_db",
		"lock.ttl",
		// HTTP
		"http.enabled",
		"http.addr",
		// Kafka
		"kafka.enabled",
		"kafka.topic",
		"kafka.group_id",
		"kafka.client_id",
	}

	for _, key := range envBindings {
		envVar := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		names := append([]string{envVar}, legacyEnv[key]...)
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
}

// applyEnvOverrides applies list-valued overrides that Viper cannot bind
// from a single environment string.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv(EnvPrefix + "_INSTANCES"); raw != "" {
		names := splitList(raw)
		if len(names) > 0 {
			cfg.Instances = cfg.Instances[:0]
			for _, name := range names {
				cfg.Instances = append(cfg.Instances, InstanceConfig{Name: name})
			}
		}
	}
	if raw := os.Getenv(EnvPrefix + "_KAFKA_BROKERS"); raw != "" {
		cfg.Kafka.Brokers = splitList(raw)
	}
	if raw := os.Getenv(EnvPrefix + "_HTTP_ALLOWED_ORIGINS"); raw != "" {
		cfg.HTTP.AllowedOrigins = splitList(raw)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
