package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Stats     StatsConfig     `yaml:"stats"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=0,max=65535"`
	Host            string        `yaml:"host"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxObservers    int           `yaml:"max_observers" validate:"min=0"`
	AcceptRate      float64       `yaml:"accept_rate" validate:"min=0"`
	AcceptBurst     int           `yaml:"accept_burst" validate:"min=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type BroadcastConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval" validate:"gt=0"`
	MessageType     string        `yaml:"message_type" validate:"required"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	PingInterval    time.Duration `yaml:"ping_interval" validate:"gt=0"`
	PongTimeout     time.Duration `yaml:"pong_timeout" validate:"gt=0"`
	MaxMessageSize  int64         `yaml:"max_message_size" validate:"gt=0"`
	SendConcurrency int           `yaml:"send_concurrency" validate:"gt=0"`
	PublishOnStart  bool          `yaml:"publish_on_start"`
}

type StatsConfig struct {
	Source  string        `yaml:"source" validate:"oneof=mock host"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// envOverrides holds the subset of settings that may be supplied through the
// environment. Zero values mean "not set".
type envOverrides struct {
	Host         string        `env:"MONITOR_HOST"`
	Port         int           `env:"MONITOR_PORT"`
	TickInterval time.Duration `env:"MONITOR_TICK_INTERVAL"`
	StatsSource  string        `env:"MONITOR_STATS_SOURCE"`
	LogLevel     string        `env:"LOG_LEVEL"`
	LogFormat    string        `env:"LOG_FORMAT"`
}

var validate = validator.New()

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "127.0.0.1",
			MaxObservers:    256,
			AcceptRate:      20,
			AcceptBurst:     40,
			ShutdownTimeout: 5 * time.Second,
		},
		Broadcast: BroadcastConfig{
			TickInterval:    time.Second,
			MessageType:     "stats_update",
			WriteTimeout:    5 * time.Second,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			MaxMessageSize:  4096,
			SendConcurrency: 32,
			PublishOnStart:  true,
		},
		Stats: StatsConfig{
			Source: "mock",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	slog.Info("config file not found, using defaults", "path", path)
	return finish(defaultConfig())
}

// LoadDotEnv loads a .env file into the process environment when present.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Load(&o, nil); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	if o.Host != "" {
		c.Server.Host = o.Host
	}
	if o.Port > 0 {
		c.Server.Port = o.Port
	}
	if o.TickInterval > 0 {
		c.Broadcast.TickInterval = o.TickInterval
	}
	if o.StatsSource != "" {
		c.Stats.Source = o.StatsSource
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Log.Format = o.LogFormat
	}
	return nil
}

// Validate checks field constraints and the relations between fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.New("invalid config: metrics.path is required when metrics are enabled")
	}
	if c.Broadcast.PongTimeout <= c.Broadcast.PingInterval {
		return fmt.Errorf("invalid config: broadcast.pong_timeout (%v) must exceed broadcast.ping_interval (%v)",
			c.Broadcast.PongTimeout, c.Broadcast.PingInterval)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ProviderTimeout is the per-tick budget for the stats provider. It defaults
// to the tick interval.
func (c *Config) ProviderTimeout() time.Duration {
	if c.Stats.Timeout > 0 {
		return c.Stats.Timeout
	}
	return c.Broadcast.TickInterval
}
