// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"

database:
  path: "./relay.db"

stream:
  read_timeout: "45s"
  result_wait: "10s"

bulk:
  page_size: 1000
  page_timeout: "2m"

cache:
  destination_ttl: "1m"

events:
  nats_url: "nats://localhost:4222"
  nats_subject: "relay.events"

telemetry:
  otlp_endpoint: "localhost:4317"
  service_name: "relay-test"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./relay.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./relay.db")
	}
	if cfg.Stream.ReadTimeout != 45*time.Second {
		t.Errorf("Stream.ReadTimeout = %v, want %v", cfg.Stream.ReadTimeout, 45*time.Second)
	}
	if cfg.Stream.ResultWait != 10*time.Second {
		t.Errorf("Stream.ResultWait = %v, want %v", cfg.Stream.ResultWait, 10*time.Second)
	}
	if cfg.Bulk.PageSize != 1000 {
		t.Errorf("Bulk.PageSize = %d, want 1000", cfg.Bulk.PageSize)
	}
	if cfg.Bulk.PageTimeout != 2*time.Minute {
		t.Errorf("Bulk.PageTimeout = %v, want %v", cfg.Bulk.PageTimeout, 2*time.Minute)
	}
	if cfg.Cache.DestinationTTL != time.Minute {
		t.Errorf("Cache.DestinationTTL = %v, want %v", cfg.Cache.DestinationTTL, time.Minute)
	}
	if cfg.Events.NATSURL != "nats://localhost:4222" {
		t.Errorf("Events.NATSURL = %q", cfg.Events.NATSURL)
	}
	if cfg.Events.NATSSubject != "relay.events" {
		t.Errorf("Events.NATSSubject = %q", cfg.Events.NATSSubject)
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("Telemetry.OTLPEndpoint = %q", cfg.Telemetry.OTLPEndpoint)
	}
	if cfg.Telemetry.ServiceName != "relay-test" {
		t.Errorf("Telemetry.ServiceName = %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  grpc_addr: "127.0.0.1:50051"
  http_addr: "127.0.0.1:8080"
database:
  path: "./relay.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Stream.ReadTimeout != DefaultReadTimeout {
		t.Errorf("Stream.ReadTimeout = %v, want %v", cfg.Stream.ReadTimeout, DefaultReadTimeout)
	}
	if cfg.Stream.ResultWait != DefaultResultWait {
		t.Errorf("Stream.ResultWait = %v, want %v", cfg.Stream.ResultWait, DefaultResultWait)
	}
	if cfg.Bulk.PageSize != DefaultPageSize {
		t.Errorf("Bulk.PageSize = %d, want %d", cfg.Bulk.PageSize, DefaultPageSize)
	}
	if cfg.Bulk.PageTimeout != DefaultPageTimeout {
		t.Errorf("Bulk.PageTimeout = %v, want %v", cfg.Bulk.PageTimeout, DefaultPageTimeout)
	}
	if cfg.Cache.DestinationTTL != DefaultDestinationTTL {
		t.Errorf("Cache.DestinationTTL = %v, want %v", cfg.Cache.DestinationTTL, DefaultDestinationTTL)
	}
	if cfg.Telemetry.ServiceName != DefaultServiceName {
		t.Errorf("Telemetry.ServiceName = %q, want %q", cfg.Telemetry.ServiceName, DefaultServiceName)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_RELAY_DB", "/var/lib/relay/relay.db")
	t.Setenv("TEST_NATS_URL", "nats://nats:4222")
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
database:
  path: "${TEST_RELAY_DB}"
events:
  nats_url: "${TEST_NATS_URL}"
  nats_subject: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/relay/relay.db" {
		t.Errorf("Database.Path = %q, want expanded value", cfg.Database.Path)
	}
	if cfg.Events.NATSURL != "nats://nats:4222" {
		t.Errorf("Events.NATSURL = %q, want expanded value", cfg.Events.NATSURL)
	}
	if cfg.Events.NATSSubject != "" {
		t.Errorf("Events.NATSSubject = %q, want empty string for unset env var", cfg.Events.NATSSubject)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/relay.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr "missing colon"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name          string
		stream        string
		wantErrSubstr string
	}{
		{"unparseable", `read_timeout: "soon"`, "stream.read_timeout"},
		{"negative", `result_wait: "-5s"`, "stream.result_wait must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
database:
  path: "./relay.db"
stream:
  `+tt.stream+`
`)
			_, err := Load(configPath)
			if err == nil {
				t.Fatalf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing grpc_addr",
			configContent: `
server:
  grpc_addr: ""
  http_addr: "0.0.0.0:8080"
database:
  path: "./relay.db"
`,
			wantErrSubstr: "server.grpc_addr is required",
		},
		{
			name: "missing http_addr",
			configContent: `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: ""
database:
  path: "./relay.db"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
database:
  path: ""
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "unknown log format",
			configContent: `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"
database:
  path: "./relay.db"
logging:
  format: "xml"
`,
			wantErrSubstr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.configContent))
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single env var", "${FOO}", "bar"},
		{"env var with surrounding text", "prefix-${FOO}-suffix", "prefix-bar-suffix"},
		{"multiple env vars", "${FOO}/${BAZ}", "bar/qux"},
		{"no env vars", "no-vars-here", "no-vars-here"},
		{"unset env var", "${UNSET_VAR}", ""},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	tests := []struct {
		name          string
		cfg           Config
		wantErrSubstr string
	}{
		{
			name: "tailscale enabled allows empty server addresses",
			cfg: Config{
				Tailscale: TailscaleConfig{Enabled: true, Hostname: "sql-relay"},
				Database:  DatabaseConfig{Path: "./relay.db"},
			},
		},
		{
			name: "tailscale enabled requires hostname",
			cfg: Config{
				Tailscale: TailscaleConfig{Enabled: true},
				Database:  DatabaseConfig{Path: "./relay.db"},
			},
			wantErrSubstr: "tailscale.hostname is required",
		},
		{
			name: "tailscale disabled requires server addresses",
			cfg: Config{
				Tailscale: TailscaleConfig{Hostname: "sql-relay"},
				Database:  DatabaseConfig{Path: "./relay.db"},
			},
			wantErrSubstr: "server.grpc_addr is required",
		},
		{
			name: "tailscale with all options set",
			cfg: Config{
				Tailscale: TailscaleConfig{
					Enabled:   true,
					Hostname:  "sql-relay",
					AuthKey:   "tskey-auth-xxx",
					StateDir:  "/tmp/ts-state",
					Ephemeral: true,
					HTTPS:     true,
					Funnel:    true,
				},
				Database: DatabaseConfig{Path: "./relay.db"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErrSubstr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("SQL_RELAY_CONFIG", "/etc/relay.yaml")
	if got := DefaultPath(); got != "/etc/relay.yaml" {
		t.Errorf("DefaultPath() = %q, want override", got)
	}

	t.Setenv("SQL_RELAY_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "sql-relay", "relay.yaml") {
		t.Errorf("DefaultPath() = %q, want XDG location", got)
	}
}
