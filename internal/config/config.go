// ABOUTME: Configuration loading and parsing for the sql-relay server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultReadTimeout    = 30 * time.Second
	DefaultResultWait     = 30 * time.Second
	DefaultPageSize       = 500
	DefaultPageTimeout    = 300 * time.Second
	DefaultDestinationTTL = 5 * time.Minute
	DefaultServiceName    = "sql-relay"
)

// Config represents the complete sql-relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Stream    StreamConfig    `yaml:"stream"`
	Bulk      BulkConfig      `yaml:"bulk"`
	Cache     CacheConfig     `yaml:"cache"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // serve HTTP over tailnet TLS on :443
	Funnel    bool   `yaml:"funnel"` // expose HTTP publicly (implies HTTPS)
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the relay's own SQLite database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StreamConfig holds stream bridge timing
type StreamConfig struct {
	ReadTimeout time.Duration `yaml:"-"`
	ResultWait  time.Duration `yaml:"-"`

	ReadTimeoutRaw string `yaml:"read_timeout"`
	ResultWaitRaw  string `yaml:"result_wait"`
}

// BulkConfig tunes destination loading
type BulkConfig struct {
	PageSize    int           `yaml:"page_size"`
	PageTimeout time.Duration `yaml:"-"`

	PageTimeoutRaw string `yaml:"page_timeout"`
}

// CacheConfig holds cache lifetimes
type CacheConfig struct {
	DestinationTTL time.Duration `yaml:"-"`

	DestinationTTLRaw string `yaml:"destination_ttl"`
}

// EventsConfig configures optional NATS fan-out of status events
type EventsConfig struct {
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// TelemetryConfig configures the OTLP metric exporter
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the config location: $SQL_RELAY_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/sql-relay/relay.yaml.
func DefaultPath() string {
	if p := os.Getenv("SQL_RELAY_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sql-relay", "relay.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = DefaultReadTimeout
	}
	if c.Stream.ResultWait == 0 {
		c.Stream.ResultWait = DefaultResultWait
	}
	if c.Bulk.PageSize == 0 {
		c.Bulk.PageSize = DefaultPageSize
	}
	if c.Bulk.PageTimeout == 0 {
		c.Bulk.PageTimeout = DefaultPageTimeout
	}
	if c.Cache.DestinationTTL == 0 {
		c.Cache.DestinationTTL = DefaultDestinationTTL
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
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

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Bulk.PageSize < 0 {
		return fmt.Errorf("bulk.page_size must be positive, got %d", c.Bulk.PageSize)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"stream.read_timeout", cfg.Stream.ReadTimeoutRaw, &cfg.Stream.ReadTimeout},
		{"stream.result_wait", cfg.Stream.ResultWaitRaw, &cfg.Stream.ResultWait},
		{"bulk.page_timeout", cfg.Bulk.PageTimeoutRaw, &cfg.Bulk.PageTimeout},
		{"cache.destination_ttl", cfg.Cache.DestinationTTLRaw, &cfg.Cache.DestinationTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
