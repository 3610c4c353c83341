package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store/drivers/memory"
	"github.com/stretchr/testify/require"
)

const validSecret = "0123456789abcdef0123456789abcdef"

// Config tests use t.Setenv and therefore cannot run in parallel.

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MCP_JWT_SECRET", "")
	t.Setenv("PORT", "")
	t.Setenv("MCP_TOOL_TIMEOUT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "mcp-broker", cfg.Issuer)
	require.Equal(t, 2*time.Minute, cfg.ToolTimeout)
	require.Equal(t, service.DefaultHousekeepingInterval, cfg.HousekeepingInterval)
	require.Equal(t, memory.DefaultPendingTTL, cfg.PendingTTL)
	require.Equal(t, memory.DefaultDeviceInterval, cfg.DevicePollInterval)
	require.Empty(t, cfg.JWTSecret)

	require.ErrorIs(t, cfg.Validate(), service.ErrMissingSecret)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MCP_JWT_SECRET", validSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("MCP_TOOL_TIMEOUT", "45")
	t.Setenv("MCP_SESSION_MAX_AGE", "90m")
	t.Setenv("BACKEND_API_URL", "http://backend:3000")
	t.Setenv("MCP_TRACE_SAMPLE_RATIO", "0.25")
	t.Setenv("MCP_CODE_TTL", "2m")
	t.Setenv("MCP_DEVICE_POLL_INTERVAL", "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, 45*time.Second, cfg.ToolTimeout)
	require.Equal(t, 90*time.Minute, cfg.SessionMaxAge)
	require.Equal(t, "http://backend:3000", cfg.BackendURL)
	require.InDelta(t, 0.25, cfg.TraceSampleRatio, 1e-9)
	require.Equal(t, 2*time.Minute, cfg.CodeTTL)
	require.Equal(t, 10*time.Second, cfg.DevicePollInterval)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://mcp.example.com
jwt_secret: ${TEST_BROKER_SECRET}
consent_url: https://app.example.com/mcp/consent
authorization:
  pending_ttl: 3m
  device_ttl: 30m
backend:
  url: https://api.example.com
  timeout: 10s
mcp:
  tool_timeout: 30s
  session_idle_timeout: 20m
tracing:
  exporter: stdout
  sample_ratio: 0
log:
  level: debug
port: 7000
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_BROKER_SECRET", validSecret)
	t.Setenv("MCP_JWT_SECRET", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PORT", "7100")
	t.Setenv("MCP_TOOL_TIMEOUT", "")
	t.Setenv("MCP_TRACE_EXPORTER", "")
	t.Setenv("MCP_TRACE_SAMPLE_RATIO", "")
	t.Setenv("BACKEND_API_URL", "")
	t.Setenv("MCP_PENDING_TTL", "")
	t.Setenv("MCP_DEVICE_TTL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "https://mcp.example.com", cfg.BaseURL)
	require.Equal(t, validSecret, cfg.JWTSecret)
	require.Equal(t, "https://api.example.com", cfg.BackendURL)
	require.Equal(t, 10*time.Second, cfg.BackendTimeout)
	require.Equal(t, 30*time.Second, cfg.ToolTimeout)
	require.Equal(t, 20*time.Minute, cfg.SessionIdleTimeout)
	require.Equal(t, "stdout", cfg.TraceExporter)
	require.Zero(t, cfg.TraceSampleRatio)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 3*time.Minute, cfg.PendingTTL)
	require.Equal(t, 30*time.Minute, cfg.DeviceTTL)

	// The environment wins over the file.
	require.Equal(t, 7100, cfg.Port)

	// Keys absent from the file keep their defaults.
	require.Equal(t, "http://localhost:3000/mcp/device", cfg.DeviceVerificationURL)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := LoadConfig()
		require.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broker.yaml")
		require.NoError(t, os.WriteFile(path, []byte("mcp:\n  tool_timeout: soon\n"), 0o600))
		t.Setenv("CONFIG_FILE", path)

		_, err := LoadConfig()
		require.ErrorContains(t, err, "line 2")
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.JWTSecret = "short" }, wantErr: "at least 32 bytes"},
		{name: "relative base url", mutate: func(c *Config) { c.BaseURL = "/mcp" }, wantErr: "MCP_BASE_URL"},
		{name: "bad backend url", mutate: func(c *Config) { c.BackendURL = "backend:3000/api" }, wantErr: "BACKEND_API_URL"},
		{name: "port out of range", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "PORT"},
		{name: "resource ttl too long", mutate: func(c *Config) { c.ResourceTokenTTL = 2 * time.Hour }, wantErr: "MCP_RESOURCE_TOKEN_TTL"},
		{name: "zero code ttl", mutate: func(c *Config) { c.CodeTTL = 0 }, wantErr: "MCP_CODE_TTL must be positive"},
		{name: "poll interval past device ttl", mutate: func(c *Config) { c.DevicePollInterval = c.DeviceTTL }, wantErr: "MCP_DEVICE_POLL_INTERVAL"},
		{name: "sample ratio", mutate: func(c *Config) { c.TraceSampleRatio = 2 }, wantErr: "MCP_TRACE_SAMPLE_RATIO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			cfg.JWTSecret = validSecret
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
