package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ssosync/pkg/observability"
)

// EnvConfigFile names the environment variable holding the optional YAML
// configuration file path.
const EnvConfigFile = "SSO_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Logout        LogoutConfig        `yaml:"logout"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// Origins accepted on the /ws/logout upgrade. Empty means same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`

	SessionCookieName string `yaml:"session_cookie_name"`
	SecureCookies     bool   `yaml:"secure_cookies"`
	PostLoginRedirect string `yaml:"post_login_redirect"`
}

// ProviderConfig describes the upstream identity provider
type ProviderConfig struct {
	// Kind is "github" or "oidc"
	Kind           string   `yaml:"kind"`
	RegistrationID string   `yaml:"registration_id"`
	ClientID       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret"`
	APIBaseURL     string   `yaml:"api_base_url"`
	AuthURL        string   `yaml:"auth_url"`
	TokenURL       string   `yaml:"token_url"`
	IssuerURL      string   `yaml:"issuer_url"`
	RedirectURL    string   `yaml:"redirect_url"`
	Scopes         []string `yaml:"scopes"`
	UserAgent      string   `yaml:"user_agent"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`

	// Shown to users when the provider still accepts a token after logout
	ManualRevocationURL string `yaml:"manual_revocation_url"`
}

// LogoutConfig holds single sign-out behaviour and background job schedules
type LogoutConfig struct {
	DefaultMode               string        `yaml:"default_mode"`
	CleanupSchedule           string        `yaml:"cleanup_schedule"`
	CleanupTimeout            time.Duration `yaml:"cleanup_timeout"`
	HeartbeatSchedule         string        `yaml:"heartbeat_schedule"`
	ConnectionCleanupSchedule string        `yaml:"connection_cleanup_schedule"`
	MaxSessionsPerUser        int           `yaml:"max_sessions_per_user"`
	NotificationQueueSize     int           `yaml:"notification_queue_size"`
	NotificationWriteTimeout  time.Duration `yaml:"notification_write_timeout"`
}

// RedisConfig configures the optional shared Redis instance
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RateLimitConfig limits the logout and status API per client
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	Window            time.Duration `yaml:"window"`
	MaxTrackedClients int           `yaml:"max_tracked_clients"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			HealthPort:        "9090",
			SessionCookieName: "SSOSESSION",
			PostLoginRedirect: "/sso/api/status",
		},
		Provider: ProviderConfig{
			Kind:                "github",
			RegistrationID:      "github",
			APIBaseURL:          "https://api.github.com",
			Scopes:              []string{"read:user", "user:email"},
			UserAgent:           "ssosync",
			ConnectTimeout:      15 * time.Second,
			ReadTimeout:         30 * time.Second,
			ManualRevocationURL: "https://github.com/settings/applications",
		},
		Logout: LogoutConfig{
			DefaultMode:               "complete",
			CleanupSchedule:           "@every 5m",
			CleanupTimeout:            time.Minute,
			HeartbeatSchedule:         "@every 30s",
			ConnectionCleanupSchedule: "@every 1m",
			MaxSessionsPerUser:        5,
			NotificationQueueSize:     16,
			NotificationWriteTimeout:  10 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 30,
			Burst:             10,
			Window:            time.Minute,
			MaxTrackedClients: 10000,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "ssosync",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from the file named by SSO_CONFIG_FILE (if
// any) and then applies SSO_* environment overrides.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
		cfg.Path = path
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides file values; the current value is the default.
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("SSO_HOST", s.Host)
	s.Port = getEnv("SSO_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("SSO_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("SSO_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("SSO_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("SSO_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("SSO_HEALTH_PORT", s.HealthPort)
	s.AllowedOrigins = getEnvList("SSO_ALLOWED_ORIGINS", s.AllowedOrigins)
	s.SessionCookieName = getEnv("SSO_SESSION_COOKIE", s.SessionCookieName)
	s.SecureCookies = getEnvBool("SSO_SECURE_COOKIES", s.SecureCookies)
	s.PostLoginRedirect = getEnv("SSO_POST_LOGIN_REDIRECT", s.PostLoginRedirect)

	p := &c.Provider
	p.Kind = getEnv("SSO_PROVIDER_KIND", p.Kind)
	p.RegistrationID = getEnv("SSO_PROVIDER_REGISTRATION_ID", p.RegistrationID)
	p.ClientID = getEnv("SSO_CLIENT_ID", p.ClientID)
	p.ClientSecret = getEnv("SSO_CLIENT_SECRET", p.ClientSecret)
	p.APIBaseURL = getEnv("SSO_PROVIDER_API_URL", p.APIBaseURL)
	p.AuthURL = getEnv("SSO_PROVIDER_AUTH_URL", p.AuthURL)
	p.TokenURL = getEnv("SSO_PROVIDER_TOKEN_URL", p.TokenURL)
	p.IssuerURL = getEnv("SSO_PROVIDER_ISSUER_URL", p.IssuerURL)
	p.RedirectURL = getEnv("SSO_REDIRECT_URL", p.RedirectURL)
	p.Scopes = getEnvList("SSO_SCOPES", p.Scopes)
	p.UserAgent = getEnv("SSO_USER_AGENT", p.UserAgent)
	p.ConnectTimeout = getEnvDuration("SSO_PROVIDER_CONNECT_TIMEOUT", p.ConnectTimeout)
	p.ReadTimeout = getEnvDuration("SSO_PROVIDER_READ_TIMEOUT", p.ReadTimeout)
	p.ManualRevocationURL = getEnv("SSO_MANUAL_REVOCATION_URL", p.ManualRevocationURL)

	l := &c.Logout
	l.DefaultMode = getEnv("SSO_DEFAULT_LOGOUT_MODE", l.DefaultMode)
	l.CleanupSchedule = getEnv("SSO_CLEANUP_SCHEDULE", l.CleanupSchedule)
	l.CleanupTimeout = getEnvDuration("SSO_CLEANUP_TIMEOUT", l.CleanupTimeout)
	l.HeartbeatSchedule = getEnv("SSO_HEARTBEAT_SCHEDULE", l.HeartbeatSchedule)
	l.ConnectionCleanupSchedule = getEnv("SSO_CONNECTION_CLEANUP_SCHEDULE", l.ConnectionCleanupSchedule)
	l.MaxSessionsPerUser = getEnvInt("SSO_MAX_SESSIONS_PER_USER", l.MaxSessionsPerUser)
	l.NotificationQueueSize = getEnvInt("SSO_NOTIFICATION_QUEUE_SIZE", l.NotificationQueueSize)
	l.NotificationWriteTimeout = getEnvDuration("SSO_NOTIFICATION_WRITE_TIMEOUT", l.NotificationWriteTimeout)

	r := &c.Redis
	r.URL = getEnv("SSO_REDIS_URL", r.URL)
	r.PoolSize = getEnvInt("SSO_REDIS_POOL_SIZE", r.PoolSize)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("SSO_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.RequestsPerMinute = getEnvInt("SSO_RATE_LIMIT_RPM", rl.RequestsPerMinute)
	rl.Burst = getEnvInt("SSO_RATE_LIMIT_BURST", rl.Burst)

	o := &c.Observability
	o.LogLevel = getEnv("SSO_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("SSO_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("SSO_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("SSO_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("SSO_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("SSO_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("SSO_OTEL_INSECURE", o.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}
	if c.Server.SessionCookieName == "" {
		return errors.New("session cookie name is required")
	}

	switch c.Provider.Kind {
	case "github":
		if c.Provider.APIBaseURL == "" {
			return errors.New("provider api_base_url is required for github")
		}
	case "oidc":
		if c.Provider.IssuerURL == "" {
			return errors.New("provider issuer_url is required for oidc")
		}
	default:
		return fmt.Errorf("invalid provider kind: %s (must be github or oidc)", c.Provider.Kind)
	}
	if c.Provider.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.Provider.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if c.Provider.ConnectTimeout <= 0 || c.Provider.ReadTimeout <= 0 {
		return errors.New("provider timeouts must be positive")
	}

	switch strings.ToLower(c.Logout.DefaultMode) {
	case "local", "complete", "global":
	default:
		return fmt.Errorf("invalid default logout mode: %s (must be local, complete, or global)", c.Logout.DefaultMode)
	}
	if c.Logout.MaxSessionsPerUser < 0 {
		return errors.New("max_sessions_per_user must not be negative")
	}
	if c.Logout.NotificationQueueSize <= 0 {
		return errors.New("notification_queue_size must be positive")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return errors.New("rate limit requests_per_minute must be positive when enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated environment variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
