package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hexagonlabs/roster/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Avatars       AvatarConfig        `yaml:"avatars"`
	Auth          AuthConfig          `yaml:"auth"`
	Jobs          JobsConfig          `yaml:"jobs"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for probes)
	AdminPort string `yaml:"admin_port"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	ReplicaURLs []string      `yaml:"replica_urls"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig holds settings for the rate-limit backend. An empty Addr
// disables rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AvatarConfig holds S3 settings for profile image storage. An empty
// Bucket disables avatar uploads.
type AvatarConfig struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UsePathStyle  bool   `yaml:"use_path_style"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// AuthConfig holds token settings
type AuthConfig struct {
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// JobsConfig holds background job schedules
type JobsConfig struct {
	TokenPurgeSchedule string `yaml:"token_purge_schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// ParsedLogLevel converts the configured level name to a LogLevel
func (o ObservabilityConfig) ParsedLogLevel() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// DefaultConfig returns the baseline configuration before file and
// environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AdminPort:       "9090",
			AllowedOrigins:  []string{"*"},
		},
		Database: DatabaseConfig{
			URL:      "postgres://localhost/roster?sslmode=disable",
			MaxConns: 25,
			MinConns: 5,
			Timeout:  5 * time.Second,
		},
		Avatars: AvatarConfig{
			Region: "us-east-1",
		},
		Auth: AuthConfig{
			TokenTTL: 30 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "roster",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration in three layers: defaults, an
// optional YAML file named by ROSTER_CONFIG, then ROSTER_* environment
// variables.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("ROSTER_CONFIG"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "ROSTER_HOST")
	setString(&cfg.Server.Port, "ROSTER_PORT")
	setString(&cfg.Server.AdminPort, "ROSTER_ADMIN_PORT")
	setDuration(&cfg.Server.ReadTimeout, "ROSTER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "ROSTER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "ROSTER_IDLE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "ROSTER_SHUTDOWN_TIMEOUT")
	if origins := os.Getenv("ROSTER_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(origins)
	}

	setString(&cfg.Database.URL, "ROSTER_DATABASE_URL")
	if replicas := os.Getenv("ROSTER_DATABASE_REPLICA_URLS"); replicas != "" {
		cfg.Database.ReplicaURLs = splitAndTrim(replicas)
	}
	setInt(&cfg.Database.MaxConns, "ROSTER_DATABASE_MAX_CONNS")
	setInt(&cfg.Database.MinConns, "ROSTER_DATABASE_MIN_CONNS")
	setDuration(&cfg.Database.Timeout, "ROSTER_DATABASE_TIMEOUT")

	setString(&cfg.Redis.Addr, "ROSTER_REDIS_ADDR")
	setString(&cfg.Redis.Password, "ROSTER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ROSTER_REDIS_DB")

	setString(&cfg.Avatars.Bucket, "ROSTER_S3_BUCKET")
	setString(&cfg.Avatars.Region, "ROSTER_S3_REGION")
	setString(&cfg.Avatars.Endpoint, "ROSTER_S3_ENDPOINT")
	setString(&cfg.Avatars.AccessKey, "ROSTER_S3_ACCESS_KEY")
	setString(&cfg.Avatars.SecretKey, "ROSTER_S3_SECRET_KEY")
	setBool(&cfg.Avatars.UsePathStyle, "ROSTER_S3_USE_PATH_STYLE")
	setString(&cfg.Avatars.PublicBaseURL, "ROSTER_S3_PUBLIC_BASE_URL")

	setDuration(&cfg.Auth.TokenTTL, "ROSTER_TOKEN_TTL")
	setString(&cfg.Jobs.TokenPurgeSchedule, "ROSTER_TOKEN_PURGE_SCHEDULE")

	setString(&cfg.Observability.LogLevel, "ROSTER_LOG_LEVEL")
	setBool(&cfg.Observability.MetricsEnabled, "ROSTER_METRICS_ENABLED")
	setBool(&cfg.Observability.OTelEnabled, "ROSTER_OTEL_ENABLED")
	setString(&cfg.Observability.OTelEndpoint, "ROSTER_OTEL_ENDPOINT")
	setString(&cfg.Observability.OTelServiceName, "ROSTER_OTEL_SERVICE_NAME")
	setString(&cfg.Observability.OTelServiceVersion, "ROSTER_OTEL_SERVICE_VERSION")
	setBool(&cfg.Observability.OTelInsecure, "ROSTER_OTEL_INSECURE")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.AdminPort == "" {
		return fmt.Errorf("admin port is required")
	}
	if c.Server.Port == c.Server.AdminPort {
		return fmt.Errorf("server port and admin port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Avatars.Bucket != "" && c.Avatars.Region == "" {
		return fmt.Errorf("S3 region is required when avatar bucket is set")
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	return nil
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			*dst = intVal
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			*dst = duration
		}
	}
}
