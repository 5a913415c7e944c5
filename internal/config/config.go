// Package config handles YAML configuration loading with environment
// variable expansion and overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"go.yaml.in/yaml/v3"
)

// Duration is a YAML scalar that accepts either a Go duration string
// ("30s", "1m") or a bare number of seconds (the form the upstream
// tooling writes).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration: expected scalar, got %v", value.Kind)
	}
	raw := value.Value
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level gateway configuration.
type Config struct {
	Server         ServerConfig           `yaml:"server"`
	Stages         map[string]StageConfig `yaml:"stages"`
	Direct         DirectConfig           `yaml:"direct"`
	RateLimit      RateLimitConfig        `yaml:"rate_limit"`
	CircuitBreaker BreakerConfig          `yaml:"circuit_breaker"`
	LiteLLM        LiteLLMConfig          `yaml:"litellm"`
	Database       DatabaseConfig         `yaml:"database"`
	Auth           AuthConfig             `yaml:"auth"`
	LogPipeline    LogPipelineConfig      `yaml:"log_pipeline"`
	Admin          AdminConfig            `yaml:"admin"`
	Observability  ObservabilityConfig    `yaml:"observability"`
	Debug          bool                   `yaml:"debug"`
	Version        string                 `yaml:"-"`
}

// ServerConfig holds HTTP server settings. There is deliberately no
// write timeout: one would sever long-lived SSE responses.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StageConfig binds one pipeline stage to a model and its generation
// parameters.
type StageConfig struct {
	Model       string   `yaml:"model"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	Fallback    []string `yaml:"fallback"`
}

// DirectConfig holds the direct-mode model allowlist.
type DirectConfig struct {
	AllowedModels []string `yaml:"allowed_models"`
	MaxTokensCap  int      `yaml:"max_tokens_cap"`
}

// RateLimitConfig holds per-user admission limits.
type RateLimitConfig struct {
	DailyRequests     int64 `yaml:"daily_requests"`
	ConcurrentStreams int   `yaml:"concurrent_streams"`
}

// BreakerConfig holds circuit breaker thresholds for the upstream.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// LiteLLMConfig holds upstream proxy settings.
type LiteLLMConfig struct {
	BaseURL        string   `yaml:"base_url"`
	APIKey         string   `yaml:"api_key"`
	AuthMode       string   `yaml:"auth_mode"` // "api_key" (default) or "gcp_oauth"
	Timeout        Duration `yaml:"timeout"`   // response header wait
	ConnectTimeout Duration `yaml:"connect_timeout"`
	RetryCount     int      `yaml:"retry_count"`
}

// DatabaseConfig holds storage settings. Driver selects the backend:
// "postgres", "sqlite", or "" for the in-memory development mode.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // sqlite file, ":memory:" allowed
	DSN      string `yaml:"dsn"`  // full postgres DSN; overrides the parts below
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MinConns int    `yaml:"min_connections"`
	MaxConns int    `yaml:"max_connections"`
}

// PostgresDSN returns the connection string, assembling one from the
// host/port/name parts when no explicit DSN is configured.
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Name)
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	Salt     string   `yaml:"salt"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// LogPipelineConfig holds async request-log pipeline settings.
type LogPipelineConfig struct {
	QueueSize     int      `yaml:"queue_size"`
	BatchSize     int      `yaml:"batch_size"`
	FlushInterval Duration `yaml:"flush_interval"`
	MaxRetries    int      `yaml:"max_retries"`
}

// AdminConfig holds the admin API settings. An empty token disables the
// admin routes entirely.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// ObservabilityConfig holds tracing settings. Tracing is enabled only
// when an OTLP endpoint is set.
type ObservabilityConfig struct {
	OTLPEndpoint    string  `yaml:"otlp_endpoint"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the built-in configuration: the stage bindings and
// limits the gateway ships with when no config file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Stages: map[string]StageConfig{
			"plan": {
				Model:       "claude-sonnet-4.5",
				MaxTokens:   4096,
				Temperature: 0.3,
				Fallback:    []string{"gemini-2.5-pro", "gpt-4o"},
			},
			"code": {
				Model:       "deepseek-v3",
				MaxTokens:   8192,
				Temperature: 0.2,
				Fallback:    []string{"gemini-2.0-flash", "gpt-4o-mini"},
			},
			"review": {
				Model:       "gpt-4o-mini",
				MaxTokens:   2048,
				Temperature: 0.1,
				Fallback:    []string{"gemini-flash-lite"},
			},
		},
		Direct: DirectConfig{
			AllowedModels: []string{"claude-sonnet-4.5", "gpt-4o", "deepseek-v3"},
			MaxTokensCap:  8192,
		},
		RateLimit: RateLimitConfig{
			DailyRequests:     1000,
			ConcurrentStreams: 3,
		},
		CircuitBreaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(30 * time.Second),
		},
		LiteLLM: LiteLLMConfig{
			BaseURL:        "http://localhost:4000",
			AuthMode:       "api_key",
			Timeout:        Duration(120 * time.Second),
			ConnectTimeout: Duration(10 * time.Second),
			RetryCount:     1,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "cfx",
			User:     "cfx",
			MinConns: 5,
			MaxConns: 20,
		},
		Auth: AuthConfig{
			Salt:     "default-salt-change-me",
			CacheTTL: Duration(30 * time.Second),
		},
		LogPipeline: LogPipelineConfig{
			QueueSize:     10000,
			BatchSize:     100,
			FlushInterval: Duration(time.Second),
			MaxRetries:    3,
		},
		Version: "0.1.0",
	}
}

// Load reads the YAML config file, expands ${VAR} references, and applies
// environment overrides. An empty path falls back to $CFX_CONFIG_PATH and
// then "configs/cfx.yaml". A missing file is not an error: the defaults
// apply, so a bare binary still starts in dev mode.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CFX_CONFIG_PATH")
	}
	if path == "" {
		path = "configs/cfx.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only. Env overrides below still apply.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		data = expandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays runtime environment variables on top of file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
		c.Database.Driver = "postgres"
	}
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setInt(&c.Database.MinConns, "DB_MIN_CONNECTIONS")
	setInt(&c.Database.MaxConns, "DB_MAX_CONNECTIONS")

	setString(&c.LiteLLM.BaseURL, "LITELLM_URL")
	setString(&c.LiteLLM.APIKey, "LITELLM_API_KEY")
	if v := os.Getenv("LITELLM_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			c.LiteLLM.Timeout = Duration(time.Duration(secs * float64(time.Second)))
		}
	}

	// API_KEY_SALT is the documented name; HASH_SALT is accepted for
	// compatibility with older deployments.
	if v := os.Getenv("API_KEY_SALT"); v != "" {
		c.Auth.Salt = v
	} else if v := os.Getenv("HASH_SALT"); v != "" {
		c.Auth.Salt = v
	}

	if v := os.Getenv("CFX_ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}
	setString(&c.Version, "CFX_VERSION")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if len(c.Stages) == 0 {
		return fmt.Errorf("at least one stage must be configured")
	}
	for name, st := range c.Stages {
		if st.Model == "" {
			return fmt.Errorf("stage %q: model must not be empty", name)
		}
		if st.MaxTokens <= 0 {
			return fmt.Errorf("stage %q: max_tokens must be positive", name)
		}
		if st.Temperature < 0 || st.Temperature > 2 {
			return fmt.Errorf("stage %q: temperature must be between 0 and 2", name)
		}
	}
	if c.Direct.MaxTokensCap <= 0 {
		return fmt.Errorf("direct.max_tokens_cap must be positive")
	}
	if c.RateLimit.DailyRequests <= 0 {
		return fmt.Errorf("rate_limit.daily_requests must be positive")
	}
	if c.RateLimit.ConcurrentStreams <= 0 {
		return fmt.Errorf("rate_limit.concurrent_streams must be positive")
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.CircuitBreaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuit_breaker.recovery_timeout must be positive")
	}
	if c.LiteLLM.BaseURL == "" {
		return fmt.Errorf("litellm.base_url must not be empty")
	}
	switch c.LiteLLM.AuthMode {
	case "", "api_key", "gcp_oauth":
	default:
		return fmt.Errorf("litellm.auth_mode %q is not supported", c.LiteLLM.AuthMode)
	}
	switch c.Database.Driver {
	case "", "postgres":
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.LogPipeline.QueueSize <= 0 || c.LogPipeline.BatchSize <= 0 {
		return fmt.Errorf("log_pipeline queue_size and batch_size must be positive")
	}
	if c.LogPipeline.BatchSize > c.LogPipeline.QueueSize {
		return fmt.Errorf("log_pipeline.batch_size must not exceed queue_size")
	}
	return nil
}
