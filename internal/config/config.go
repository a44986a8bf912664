// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Entities      EntityStoreConfig   `yaml:"entities"`
	Workflow      WorkflowConfig      `yaml:"workflow"`
	Notifier      NotifierConfig      `yaml:"notifier"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// EntityStoreConfig describes persistence settings for users, organizations,
// and categories.
type EntityStoreConfig struct {
	Driver          string        `yaml:"driver"` // "memory" or "postgres"
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// WorkflowConfig describes workflow engine and session store settings.
type WorkflowConfig struct {
	Store               SessionStoreConfig `yaml:"store"`
	InstanceTTL         time.Duration      `yaml:"instance_ttl"`
	ExpiryCheckInterval time.Duration      `yaml:"expiry_check_interval"`
}

// SessionStoreConfig describes workflow session persistence settings.
type SessionStoreConfig struct {
	Driver  string `yaml:"driver"` // "memory", "postgres", or "redis"
	DSNEnv  string `yaml:"dsn_env"`
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
}

// NotifierConfig describes verification-code delivery settings.
type NotifierConfig struct {
	Driver string     `yaml:"driver"` // "log" or "smtp"
	SMTP   SMTPConfig `yaml:"smtp"`
}

// SMTPConfig describes outbound SMTP settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values. The defaults run
// the service entirely in memory with verification codes written to the log,
// mirroring a development deployment with outbound mail disabled.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Entities: EntityStoreConfig{
			Driver:          "memory",
			DSNEnv:          "ONBOARD_ENTITIES_DSN",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Workflow: WorkflowConfig{
			Store: SessionStoreConfig{
				Driver:  "memory",
				DSNEnv:  "ONBOARD_WORKFLOW_DSN",
				AddrEnv: "ONBOARD_REDIS_ADDR",
			},
			InstanceTTL:         1 * time.Hour,
			ExpiryCheckInterval: 60 * time.Second,
		},
		Notifier: NotifierConfig{
			Driver: "log",
			SMTP: SMTPConfig{
				Port:     587,
				From:     "wiki@info.com",
				FromName: "Wiki",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Entities.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("entities.driver %q is not supported", c.Entities.Driver))
	}
	switch c.Workflow.Store.Driver {
	case "memory", "postgres", "redis":
	default:
		errs = append(errs, fmt.Sprintf("workflow.store.driver %q is not supported", c.Workflow.Store.Driver))
	}
	if c.Workflow.InstanceTTL <= 0 {
		errs = append(errs, "workflow.instance_ttl must be positive")
	}
	switch c.Notifier.Driver {
	case "log", "smtp":
	default:
		errs = append(errs, fmt.Sprintf("notifier.driver %q is not supported", c.Notifier.Driver))
	}
	if c.Notifier.Driver == "smtp" && c.Notifier.SMTP.Host == "" {
		errs = append(errs, "notifier.smtp.host is required when notifier.driver is smtp")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads ONBOARD_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ONBOARD_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ONBOARD_ENTITIES_DRIVER"); v != "" {
		cfg.Entities.Driver = v
	}
	if v := os.Getenv("ONBOARD_WORKFLOW_STORE_DRIVER"); v != "" {
		cfg.Workflow.Store.Driver = v
	}
	if v := os.Getenv("ONBOARD_NOTIFIER_DRIVER"); v != "" {
		cfg.Notifier.Driver = v
	}
	if v := os.Getenv("ONBOARD_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
