package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CODEGRADE_SANDBOX_BACKEND
const EnvPrefix = "CODEGRADE"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Lock      LockConfig      `mapstructure:"lock"`
	Exercises ExercisesConfig `mapstructure:"exercises"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
	OpsPort   int    `mapstructure:"ops_port"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend             string  `mapstructure:"backend"`
	Image               string  `mapstructure:"image"`
	Interpreter         string  `mapstructure:"interpreter"`
	WorkRoot            string  `mapstructure:"work_root"`
	TimeoutSec          int     `mapstructure:"timeout_sec"`
	MemoryMB            int     `mapstructure:"memory_mb"`
	CPUShare            float64 `mapstructure:"cpu_share"`
	PIDsLimit           int     `mapstructure:"pids_limit"`
	TmpfsSizeMB         int     `mapstructure:"tmpfs_size_mb"`
	OutputLimitKB       int     `mapstructure:"output_limit_kb"`
	ProvisionTimeoutSec int     `mapstructure:"provision_timeout_sec"`
	TeardownTimeoutSec  int     `mapstructure:"teardown_timeout_sec"`
	ReapSchedule        string  `mapstructure:"reap_schedule"`
	EnableLocalBackend  bool    `mapstructure:"enable_local_backend"`
}

// SafetyConfig holds additional denylist patterns appended to the built-in rules
type SafetyConfig struct {
	ExtraPatterns []string `mapstructure:"extra_patterns"`
}

// StorageConfig selects the progress and history store
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

// LockConfig selects the per-key update lock used during reconciliation
type LockConfig struct {
	Backend       string `mapstructure:"backend"` // memory or redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSec        int    `mapstructure:"ttl_sec"`
}

// ExercisesConfig points at the exercise catalog
type ExercisesConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// MetricsConfig toggles Prometheus collectors
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.ops_port", 9090)

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.image", "python:3.11-alpine")
	v.SetDefault("sandbox.interpreter", "python")
	v.SetDefault("sandbox.work_root", "")
	v.SetDefault("sandbox.timeout_sec", 10)
	v.SetDefault("sandbox.memory_mb", 128)
	v.SetDefault("sandbox.cpu_share", 0.5)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.tmpfs_size_mb", 16)
	v.SetDefault("sandbox.output_limit_kb", 64)
	v.SetDefault("sandbox.provision_timeout_sec", 30)
	v.SetDefault("sandbox.teardown_timeout_sec", 10)
	v.SetDefault("sandbox.reap_schedule", "@every 5m")
	v.SetDefault("sandbox.enable_local_backend", false)

	v.SetDefault("safety.extra_patterns", []string{})

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "codegrade.db")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.redis_addr", "localhost:6379")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl_sec", 30)

	v.SetDefault("exercises.catalog_path", "exercises.yaml")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("metrics.enabled", true)
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // One check per field
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Sandbox.TimeoutSec <= 0 {
		return fmt.Errorf("sandbox.timeout_sec must be positive, got: %d", c.Sandbox.TimeoutSec)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUShare <= 0 {
		return fmt.Errorf("sandbox.cpu_share must be positive, got: %g", c.Sandbox.CPUShare)
	}

	if c.Sandbox.OutputLimitKB <= 0 {
		return fmt.Errorf("sandbox.output_limit_kb must be positive, got: %d", c.Sandbox.OutputLimitKB)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage.driver: %s", c.Storage.Driver)
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr is required for the redis lock backend")
		}
		if c.Lock.TTLSec <= 0 {
			return fmt.Errorf("lock.ttl_sec must be positive, got: %d", c.Lock.TTLSec)
		}
	default:
		return fmt.Errorf("unsupported lock.backend: %s", c.Lock.Backend)
	}

	// FOR UPDATE cannot lock a progress row that does not exist yet, so
	// replicas sharing postgres serialize first attempts through redis
	if c.Storage.Driver == "postgres" && c.Lock.Backend != "redis" {
		return fmt.Errorf("storage.driver postgres requires lock.backend redis, got: %s", c.Lock.Backend)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
		"dpanic": true, "panic": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutSec) * time.Second
}

// GetLockTTL returns the lock lease as a duration
func (c *Config) GetLockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSec) * time.Second
}
