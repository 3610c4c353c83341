package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/service"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/store/drivers/memory"
	"gopkg.in/yaml.v3"
)

// minSecretBytes is the shortest MCP_JWT_SECRET accepted for HS256.
const minSecretBytes = 32

type Config struct {
	BaseURL       string // Public URL of the broker, used in metadata documents (default: http://localhost:8080)
	JWTSecret     string // Required: master secret shared with the main application and backend API
	Issuer        string // Issuer of tokens the broker mints (default: mcp-broker)
	MainAppIssuer string // Optional: issuer required on main application tokens

	ConsentURL            string // Main application consent page (default: http://localhost:3000/mcp/consent)
	DeviceVerificationURL string // Main application device approval page (default: http://localhost:3000/mcp/device)

	PendingTTL         time.Duration // Lifetime of a pending authorization (default: 10m)
	CodeTTL            time.Duration // Lifetime of an authorization code (default: 5m)
	DeviceTTL          time.Duration // Lifetime of a device code (default: 15m)
	DevicePollInterval time.Duration // Polling interval advertised to device clients (default: 5s)

	BackendURL     string        // Optional: backend API base URL. Without it no tools are exposed
	BackendTimeout time.Duration // Per request timeout against the backend (default: 30s)

	AccessTokenTTL   time.Duration // MCP access token lifetime (default: 1h)
	ResourceTokenTTL time.Duration // Backend resource token lifetime (default: 15m, max 1h)
	ResourceAudience string        // Audience of resource tokens (default: backend-api)

	ToolTimeout        time.Duration // Bound on a single tools/call (default: 2m)
	SessionMaxAge      time.Duration // Lifetime of an MCP session (default: 4h)
	SessionIdleTimeout time.Duration // Optional: evict sessions without activity
	SSEKeepAlive       time.Duration // Keepalive comment interval on event streams (default: 25s)

	TraceExporter    string  // Trace exporter, none or stdout (default: none)
	TraceSampleRatio float64 // Fraction of traces kept, 0 or 1 keeps all (default: 1)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Store sweep interval (default: 1m)
}

func defaultConfig() Config {
	return Config{
		BaseURL:               "http://localhost:8080",
		Issuer:                "mcp-broker",
		ConsentURL:            "http://localhost:3000/mcp/consent",
		DeviceVerificationURL: "http://localhost:3000/mcp/device",
		PendingTTL:            memory.DefaultPendingTTL,
		CodeTTL:               memory.DefaultCodeTTL,
		DeviceTTL:             memory.DefaultDeviceTTL,
		DevicePollInterval:    memory.DefaultDeviceInterval,
		BackendTimeout:        30 * time.Second,
		AccessTokenTTL:        service.DefaultAccessTTL,
		ResourceTokenTTL:      service.DefaultResourceTTL,
		ResourceAudience:      service.DefaultResourceAudience,
		ToolTimeout:           2 * time.Minute,
		SessionMaxAge:         4 * time.Hour,
		SSEKeepAlive:          25 * time.Second,
		TraceExporter:         "none",
		TraceSampleRatio:      1,
		Env:                   "dev",
		LogLevel:              "info",
		LogFormat:             "json",
		Port:                  8080,
		ShutdownGracePeriod:   10 * time.Second,
		HousekeepingInterval:  service.DefaultHousekeepingInterval,
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by CONFIG_FILE, then the environment. Later sources win.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getEnvOrDefault("MCP_BASE_URL", c.BaseURL)
	c.JWTSecret = getEnvOrDefault("MCP_JWT_SECRET", c.JWTSecret)
	c.Issuer = getEnvOrDefault("MCP_ISSUER", c.Issuer)
	c.MainAppIssuer = getEnvOrDefault("MAIN_APP_ISSUER", c.MainAppIssuer)
	c.ConsentURL = getEnvOrDefault("MCP_CONSENT_URL", c.ConsentURL)
	c.DeviceVerificationURL = getEnvOrDefault("MCP_DEVICE_VERIFICATION_URL", c.DeviceVerificationURL)
	c.PendingTTL = getEnvDurationOrDefault("MCP_PENDING_TTL", c.PendingTTL)
	c.CodeTTL = getEnvDurationOrDefault("MCP_CODE_TTL", c.CodeTTL)
	c.DeviceTTL = getEnvDurationOrDefault("MCP_DEVICE_TTL", c.DeviceTTL)
	c.DevicePollInterval = getEnvDurationOrDefault("MCP_DEVICE_POLL_INTERVAL", c.DevicePollInterval)
	c.BackendURL = getEnvOrDefault("BACKEND_API_URL", c.BackendURL)
	c.BackendTimeout = getEnvDurationOrDefault("BACKEND_TIMEOUT", c.BackendTimeout)
	c.AccessTokenTTL = getEnvDurationOrDefault("MCP_ACCESS_TOKEN_TTL", c.AccessTokenTTL)
	c.ResourceTokenTTL = getEnvDurationOrDefault("MCP_RESOURCE_TOKEN_TTL", c.ResourceTokenTTL)
	c.ResourceAudience = getEnvOrDefault("MCP_RESOURCE_AUDIENCE", c.ResourceAudience)
	c.ToolTimeout = getEnvDurationOrDefault("MCP_TOOL_TIMEOUT", c.ToolTimeout)
	c.SessionMaxAge = getEnvDurationOrDefault("MCP_SESSION_MAX_AGE", c.SessionMaxAge)
	c.SessionIdleTimeout = getEnvDurationOrDefault("MCP_SESSION_IDLE_TIMEOUT", c.SessionIdleTimeout)
	c.SSEKeepAlive = getEnvDurationOrDefault("MCP_SSE_KEEPALIVE", c.SSEKeepAlive)
	c.TraceExporter = getEnvOrDefault("MCP_TRACE_EXPORTER", c.TraceExporter)
	c.TraceSampleRatio = getEnvFloatOrDefault("MCP_TRACE_SAMPLE_RATIO", c.TraceSampleRatio)
	c.Env = getEnvOrDefault("ENV", c.Env)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.Port = getEnvIntOrDefault("PORT", c.Port)
	c.ShutdownGracePeriod = getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", c.ShutdownGracePeriod)
	c.HousekeepingInterval = getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", c.HousekeepingInterval)
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	switch {
	case c.JWTSecret == "":
		errs = append(errs, fmt.Errorf("MCP_JWT_SECRET: %w", service.ErrMissingSecret))
	case len(c.JWTSecret) < minSecretBytes:
		errs = append(errs, fmt.Errorf("MCP_JWT_SECRET must be at least %d bytes", minSecretBytes))
	}

	for name, raw := range map[string]string{
		"MCP_BASE_URL":                c.BaseURL,
		"MCP_CONSENT_URL":             c.ConsentURL,
		"MCP_DEVICE_VERIFICATION_URL": c.DeviceVerificationURL,
	} {
		if err := requireAbsoluteURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.BackendURL != "" {
		if err := requireAbsoluteURL(c.BackendURL); err != nil {
			errs = append(errs, fmt.Errorf("BACKEND_API_URL: %w", err))
		}
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"MCP_PENDING_TTL":          c.PendingTTL,
		"MCP_CODE_TTL":             c.CodeTTL,
		"MCP_DEVICE_TTL":           c.DeviceTTL,
		"MCP_DEVICE_POLL_INTERVAL": c.DevicePollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.DevicePollInterval >= c.DeviceTTL {
		errs = append(errs, errors.New("MCP_DEVICE_POLL_INTERVAL must be shorter than MCP_DEVICE_TTL"))
	}
	if c.ResourceTokenTTL > service.MaxResourceTTL {
		errs = append(errs, fmt.Errorf("MCP_RESOURCE_TOKEN_TTL may not exceed %s", service.MaxResourceTTL))
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, errors.New("MCP_TRACE_SAMPLE_RATIO must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

func requireAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

// fileConfig is the YAML shape of Config. Unset keys keep their defaults.
type fileConfig struct {
	BaseURL       string `yaml:"base_url"`
	JWTSecret     string `yaml:"jwt_secret"`
	Issuer        string `yaml:"issuer"`
	MainAppIssuer string `yaml:"main_app_issuer"`

	ConsentURL            string `yaml:"consent_url"`
	DeviceVerificationURL string `yaml:"device_verification_url"`

	Authorization struct {
		PendingTTL         duration `yaml:"pending_ttl"`
		CodeTTL            duration `yaml:"code_ttl"`
		DeviceTTL          duration `yaml:"device_ttl"`
		DevicePollInterval duration `yaml:"device_poll_interval"`
	} `yaml:"authorization"`

	Backend struct {
		URL     string   `yaml:"url"`
		Timeout duration `yaml:"timeout"`
	} `yaml:"backend"`

	Tokens struct {
		AccessTTL        duration `yaml:"access_ttl"`
		ResourceTTL      duration `yaml:"resource_ttl"`
		ResourceAudience string   `yaml:"resource_audience"`
	} `yaml:"tokens"`

	MCP struct {
		ToolTimeout        duration `yaml:"tool_timeout"`
		SessionMaxAge      duration `yaml:"session_max_age"`
		SessionIdleTimeout duration `yaml:"session_idle_timeout"`
		SSEKeepAlive       duration `yaml:"sse_keepalive"`
	} `yaml:"mcp"`

	Tracing struct {
		Exporter    string   `yaml:"exporter"`
		SampleRatio *float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Env                  string   `yaml:"env"`
	Port                 int      `yaml:"port"`
	ShutdownGracePeriod  duration `yaml:"shutdown_grace_period"`
	HousekeepingInterval duration `yaml:"housekeeping_interval"`
}

// duration accepts Go duration strings such as "90s" or "1h".
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = duration(v)
	return nil
}

// loadFile merges the YAML file at path into c. ${VAR} references are
// expanded from the environment before parsing so secrets can stay out of
// the file.
func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.JWTSecret, fc.JWTSecret)
	setString(&c.Issuer, fc.Issuer)
	setString(&c.MainAppIssuer, fc.MainAppIssuer)
	setString(&c.ConsentURL, fc.ConsentURL)
	setString(&c.DeviceVerificationURL, fc.DeviceVerificationURL)
	setDuration(&c.PendingTTL, fc.Authorization.PendingTTL)
	setDuration(&c.CodeTTL, fc.Authorization.CodeTTL)
	setDuration(&c.DeviceTTL, fc.Authorization.DeviceTTL)
	setDuration(&c.DevicePollInterval, fc.Authorization.DevicePollInterval)
	setString(&c.BackendURL, fc.Backend.URL)
	setDuration(&c.BackendTimeout, fc.Backend.Timeout)
	setDuration(&c.AccessTokenTTL, fc.Tokens.AccessTTL)
	setDuration(&c.ResourceTokenTTL, fc.Tokens.ResourceTTL)
	setString(&c.ResourceAudience, fc.Tokens.ResourceAudience)
	setDuration(&c.ToolTimeout, fc.MCP.ToolTimeout)
	setDuration(&c.SessionMaxAge, fc.MCP.SessionMaxAge)
	setDuration(&c.SessionIdleTimeout, fc.MCP.SessionIdleTimeout)
	setDuration(&c.SSEKeepAlive, fc.MCP.SSEKeepAlive)
	setString(&c.TraceExporter, fc.Tracing.Exporter)
	if fc.Tracing.SampleRatio != nil {
		c.TraceSampleRatio = *fc.Tracing.SampleRatio
	}
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	setString(&c.Env, fc.Env)
	if fc.Port != 0 {
		c.Port = fc.Port
	}
	setDuration(&c.ShutdownGracePeriod, fc.ShutdownGracePeriod)
	setDuration(&c.HousekeepingInterval, fc.HousekeepingInterval)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}

	// Plain integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
