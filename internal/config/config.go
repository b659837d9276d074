// ABOUTME: Configuration loading and parsing for taskboard-gateway
// ABOUTME: Reads YAML or TOML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the shortest accepted auth.jwt_secret.
const MinJWTSecretLength = 32

// Config represents the complete taskboard-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Realtime  RealtimeConfig  `yaml:"realtime" toml:"realtime"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Notifier  NotifierConfig  `yaml:"notifier" toml:"notifier"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig selects the SQL driver and database file.
// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-" toml:"-"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// RealtimeConfig holds WebSocket and stream settings
type RealtimeConfig struct {
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`
	PingPeriod       time.Duration `yaml:"-" toml:"-"`
	PongWait         time.Duration `yaml:"-" toml:"-"`
	SendBuffer       int           `yaml:"send_buffer" toml:"send_buffer"`
	// ProjectAccess is "members" or "open".
	ProjectAccess string `yaml:"project_access" toml:"project_access"`

	// Raw string values for unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	PingPeriodRaw       string `yaml:"ping_period" toml:"ping_period"`
	PongWaitRaw         string `yaml:"pong_wait" toml:"pong_wait"`
}

// RelayConfig enables the cross-process Redis relay when RedisURL is set
type RelayConfig struct {
	RedisURL string `yaml:"redis_url" toml:"redis_url"`
	Channel  string `yaml:"channel" toml:"channel"`
}

// DedupeConfig holds idempotency key settings
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
	// Backend is "memory" or "redis". Redis reuses relay.redis_url.
	Backend string `yaml:"backend" toml:"backend"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// NotifierConfig holds the scheduled mail jobs
type NotifierConfig struct {
	Enabled        bool   `yaml:"enabled" toml:"enabled"`
	Timezone       string `yaml:"timezone" toml:"timezone"`
	ReminderHour   int    `yaml:"reminder_hour" toml:"reminder_hour"`
	SummaryWeekday string `yaml:"summary_weekday" toml:"summary_weekday"`
	SummaryHour    int    `yaml:"summary_hour" toml:"summary_hour"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite"},
		Auth:     AuthConfig{TokenTTL: 24 * time.Hour},
		Realtime: RealtimeConfig{
			HandshakeTimeout: 10 * time.Second,
			PingPeriod:       30 * time.Second,
			PongWait:         60 * time.Second,
			SendBuffer:       64,
			ProjectAccess:    "members",
		},
		Relay: RelayConfig{Channel: "taskboard:events"},
		Dedupe: DedupeConfig{
			TTL:        10 * time.Minute,
			MaxEntries: 10000,
			Backend:    "memory",
		},
		Notifier: NotifierConfig{
			Timezone:       "Asia/Kolkata",
			ReminderHour:   2,
			SummaryWeekday: "monday",
			SummaryHour:    3,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}

	switch c.Realtime.ProjectAccess {
	case "members", "open":
	default:
		return fmt.Errorf("realtime.project_access must be members or open, got %q", c.Realtime.ProjectAccess)
	}
	if c.Realtime.SendBuffer < 1 {
		return fmt.Errorf("realtime.send_buffer must be at least 1")
	}
	if c.Realtime.PingPeriod >= c.Realtime.PongWait {
		return fmt.Errorf("realtime.ping_period must be shorter than realtime.pong_wait")
	}

	switch c.Dedupe.Backend {
	case "memory":
	case "redis":
		if c.Relay.RedisURL == "" {
			return fmt.Errorf("dedupe.backend redis requires relay.redis_url")
		}
	default:
		return fmt.Errorf("dedupe.backend must be memory or redis, got %q", c.Dedupe.Backend)
	}

	if c.Notifier.Enabled {
		if _, err := time.LoadLocation(c.Notifier.Timezone); err != nil {
			return fmt.Errorf("notifier.timezone %q: %w", c.Notifier.Timezone, err)
		}
		if c.Notifier.ReminderHour < 0 || c.Notifier.ReminderHour > 23 {
			return fmt.Errorf("notifier.reminder_hour must be between 0 and 23")
		}
		if c.Notifier.SummaryHour < 0 || c.Notifier.SummaryHour > 23 {
			return fmt.Errorf("notifier.summary_hour must be between 0 and 23")
		}
		if _, err := ParseWeekday(c.Notifier.SummaryWeekday); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ParseWeekday accepts full or three-letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"realtime.handshake_timeout", cfg.Realtime.HandshakeTimeoutRaw, &cfg.Realtime.HandshakeTimeout},
		{"realtime.ping_period", cfg.Realtime.PingPeriodRaw, &cfg.Realtime.PingPeriod},
		{"realtime.pong_wait", cfg.Realtime.PongWaitRaw, &cfg.Realtime.PongWait},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
