package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Pipeline   PipelineConfig      `koanf:"pipeline"`
	Thresholds ThresholdsConfig    `koanf:"thresholds"`
	Routing    map[string][]string `koanf:"routing"`
	Jobs       []JobConfig         `koanf:"jobs" validate:"dive"`
	Sources    []SourceConfig      `koanf:"sources" validate:"dive"`
	Systems    []SystemConfig      `koanf:"systems" validate:"dive"`
	Recipients []RecipientConfig   `koanf:"recipients" validate:"dive"`
	Operators  []RecipientConfig   `koanf:"operators" validate:"dive"`
	Compliance ComplianceConfig    `koanf:"compliance"`
	Transports TransportsConfig    `koanf:"transports"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int  `koanf:"requests_per_minute"`
	Enabled           bool `koanf:"enabled"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate" validate:"min=0,max=1"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

// PipelineConfig tunes cycle execution.
type PipelineConfig struct {
	Workers           int           `koanf:"workers" validate:"min=1"`
	FetchTimeout      time.Duration `koanf:"fetch_timeout"`
	DeliveryTimeout   time.Duration `koanf:"delivery_timeout"`
	SourceMinInterval time.Duration `koanf:"source_min_interval"`
	BaseRetryDelay    time.Duration `koanf:"base_retry_delay"`
	MaxRetryDelay     time.Duration `koanf:"max_retry_delay"`
	AlertCooldown     time.Duration `koanf:"alert_cooldown"`
	AllOrNothing      bool          `koanf:"all_or_nothing"`
	TopActions        int           `koanf:"top_actions"`
}

// ThresholdsConfig overrides the shipped similarity bands. Zero values keep
// the defaults.
type ThresholdsConfig struct {
	NoChange  float64 `koanf:"no_change" validate:"min=0,max=1"`
	Clarified float64 `koanf:"clarified" validate:"min=0,max=1"`
	Medium    float64 `koanf:"medium" validate:"min=0,max=1"`
	High      float64 `koanf:"high" validate:"min=0,max=1"`
}

type JobConfig struct {
	Name       string `koanf:"name" validate:"required"`
	Frequency  string `koanf:"frequency" validate:"oneof=daily weekly"`
	Hour       int    `koanf:"hour" validate:"min=0,max=23"`
	Minute     int    `koanf:"minute" validate:"min=0,max=59"`
	Weekday    int    `koanf:"weekday" validate:"min=0,max=6"`
	MaxRetries int    `koanf:"max_retries" validate:"min=0"`
}

// SourceConfig names one regulatory source and where to fetch it.
// RegulationID ties the source's changes to the systems scored against
// that regulation; empty means the source ID is the regulation ID.
type SourceConfig struct {
	SourceID     string `koanf:"source_id" validate:"required"`
	URL          string `koanf:"url" validate:"required,url"`
	RegulationID string `koanf:"regulation_id"`
}

// ComplianceConfig points at the scoring service queried for per-system
// compliance snapshots.
type ComplianceConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

type SystemConfig struct {
	SystemID    string   `koanf:"system_id" validate:"required"`
	Regulations []string `koanf:"regulations" validate:"min=1"`
}

type RecipientConfig struct {
	ID             string   `koanf:"id" validate:"required"`
	NotifyCritical bool     `koanf:"notify_critical"`
	NotifyHigh     bool     `koanf:"notify_high"`
	NotifyMedium   bool     `koanf:"notify_medium"`
	NotifyLow      bool     `koanf:"notify_low"`
	Channels       []string `koanf:"channels"`
	Digest         string   `koanf:"digest" validate:"omitempty,oneof=none daily weekly"`
	DigestChannels []string `koanf:"digest_channels"`
	Email          string   `koanf:"email"`
	Phone          string   `koanf:"phone"`
	WebhookURL     string   `koanf:"webhook_url"`
}

type TransportsConfig struct {
	Email   EmailConfig   `koanf:"email"`
	SMS     SMSConfig     `koanf:"sms"`
	Webhook WebhookConfig `koanf:"webhook"`
}

type EmailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	From     string `koanf:"from"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type SMSConfig struct {
	ProviderURL string        `koanf:"provider_url"`
	APIKey      string        `koanf:"api_key"`
	From        string        `koanf:"from"`
	Timeout     time.Duration `koanf:"timeout"`
}

type WebhookConfig struct {
	SigningSecret string        `koanf:"signing_secret"`
	Timeout       time.Duration `koanf:"timeout"`
}

// Load builds the configuration from defaults, the optional
// configs/config.yaml, and REGMON_-prefixed environment overrides,
// then validates it.
func Load() (*Config, error) {
	return LoadFromFile("configs/config.yaml")
}

// LoadFromFile is Load with an explicit config file path.
func LoadFromFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional; missing files fall through to env overrides.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("REGMON_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "REGMON_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 300,
				Enabled:           true,
			},
		},
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/regmon?sslmode=disable",
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			OTLPEndpoint:  "localhost:4317",
			SamplingRate:  0.1,
			ExportTimeout: 30 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		Pipeline: PipelineConfig{
			Workers:           3,
			FetchTimeout:      30 * time.Second,
			DeliveryTimeout:   30 * time.Second,
			SourceMinInterval: 10 * time.Second,
			BaseRetryDelay:    time.Minute,
			MaxRetryDelay:     30 * time.Minute,
			AlertCooldown:     time.Hour,
			TopActions:        5,
		},
		Thresholds: ThresholdsConfig{
			NoChange:  0.95,
			Clarified: 0.85,
			Medium:    0.70,
			High:      0.50,
		},
		Compliance: ComplianceConfig{
			Timeout: 10 * time.Second,
		},
		Transports: TransportsConfig{
			Email: EmailConfig{
				Host: "localhost",
				Port: 587,
				From: "regmon@localhost",
			},
			SMS: SMSConfig{
				Timeout: 10 * time.Second,
			},
			Webhook: WebhookConfig{
				Timeout: 10 * time.Second,
			},
		},
	}
}
