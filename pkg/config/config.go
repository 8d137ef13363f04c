// Package config holds the dispatcher configuration. Values come from Default, are overridden by an
// optional YAML file and then by DISPATCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// EnvPrefix is the prefix of every environment override, e.g. DISPATCH_MAX_RETRY_ATTEMPTS
const EnvPrefix = "DISPATCH"

// Config holds the recognized dispatcher options
type Config struct {
	// Service names the target service the dispatcher talks to
	Service string `yaml:"service" envconfig:"SERVICE"`

	EnabledTransports []protocol.TransportKind `yaml:"enabled_transports" envconfig:"ENABLED_TRANSPORTS"`
	AutoSelection     bool                     `yaml:"auto_selection" envconfig:"AUTO_SELECTION"`
	FallbackEnabled   bool                     `yaml:"fallback_enabled" envconfig:"FALLBACK_ENABLED"`
	// LastResortProbe offers the least-recently-opened transport when every circuit is open
	LastResortProbe   bool                     `yaml:"last_resort_probe" envconfig:"LAST_RESORT_PROBE"`
	TransportPriority []protocol.TransportKind `yaml:"transport_priority" envconfig:"TRANSPORT_PRIORITY"`

	// Retry
	MaxRetryAttempts  int     `yaml:"max_retry_attempts" envconfig:"MAX_RETRY_ATTEMPTS"`
	BackoffBaseMs     int     `yaml:"backoff_base_ms" envconfig:"BACKOFF_BASE_MS"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" envconfig:"BACKOFF_MULTIPLIER"`
	BackoffMaxMs      int     `yaml:"backoff_max_ms" envconfig:"BACKOFF_MAX_MS"`
	AttemptTimeoutMs  int     `yaml:"attempt_timeout_ms" envconfig:"ATTEMPT_TIMEOUT_MS"`

	// Circuit breaker
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold" envconfig:"CIRCUIT_FAILURE_THRESHOLD"`
	CircuitSuccessThreshold int `yaml:"circuit_success_threshold" envconfig:"CIRCUIT_SUCCESS_THRESHOLD"`
	CircuitCooldownMs       int `yaml:"circuit_cooldown_ms" envconfig:"CIRCUIT_COOLDOWN_MS"`

	// Credentials
	CredentialRefreshSkewMs    int              `yaml:"credential_refresh_skew_ms" envconfig:"CREDENTIAL_REFRESH_SKEW_MS"`
	CredentialRefreshTimeoutMs int              `yaml:"credential_refresh_timeout_ms" envconfig:"CREDENTIAL_REFRESH_TIMEOUT_MS"`
	Credentials                CredentialConfig `yaml:"credentials" envconfig:"CREDENTIALS"`

	// ProtocolConstraints maps a transport kind to a semver range its declared version must satisfy
	ProtocolConstraints map[string]string `yaml:"protocol_constraints" envconfig:"PROTOCOL_CONSTRAINTS"`

	MaxPayloadBytes    int `yaml:"max_payload_bytes" envconfig:"MAX_PAYLOAD_BYTES"`
	DeadLetterCapacity int `yaml:"dead_letter_capacity" envconfig:"DEAD_LETTER_CAPACITY"`
	NotifierWorkers    int `yaml:"notifier_workers" envconfig:"NOTIFIER_WORKERS"`
	MaxConcurrency     int `yaml:"max_concurrency" envconfig:"MAX_CONCURRENCY"`

	Transports TransportsConfig `yaml:"transports" envconfig:"TRANSPORTS"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOG"`
	Metrics    MetricsConfig    `yaml:"metrics" envconfig:"METRICS"`
	Tracing    TracingConfig    `yaml:"tracing" envconfig:"TRACING"`
	Health     HealthConfig     `yaml:"health" envconfig:"HEALTH"`
}

// EndpointConfig locates one transport endpoint
type EndpointConfig struct {
	URL     string            `yaml:"url" envconfig:"URL"`
	Headers map[string]string `yaml:"headers" envconfig:"HEADERS"`
	// SubjectPrefix is used by the bus transport only
	SubjectPrefix string `yaml:"subject_prefix" envconfig:"SUBJECT_PREFIX"`
}

// TransportsConfig holds one endpoint per transport kind
type TransportsConfig struct {
	RPC    EndpointConfig `yaml:"rpc" envconfig:"RPC"`
	Stream EndpointConfig `yaml:"stream" envconfig:"STREAM"`
	Bus    EndpointConfig `yaml:"bus" envconfig:"BUS"`
	Tool   EndpointConfig `yaml:"tool" envconfig:"TOOL"`
}

// Endpoint returns the endpoint configured for kind
func (t TransportsConfig) Endpoint(kind protocol.TransportKind) EndpointConfig {
	switch kind {
	case protocol.TransportRPC:
		return t.RPC
	case protocol.TransportStream:
		return t.Stream
	case protocol.TransportBus:
		return t.Bus
	case protocol.TransportTool:
		return t.Tool
	default:
		return EndpointConfig{}
	}
}

// CredentialConfig selects the token source. Exactly one of Token, JWT or Endpoint is used, in that
// order of precedence.
type CredentialConfig struct {
	Token        string `yaml:"token" envconfig:"TOKEN"`
	TokenTTLMs   int    `yaml:"token_ttl_ms" envconfig:"TOKEN_TTL_MS"`
	JWTFile      string `yaml:"jwt_file" envconfig:"JWT_FILE"`
	Endpoint     string `yaml:"endpoint" envconfig:"ENDPOINT"`
	ClientID     string `yaml:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" envconfig:"CLIENT_SECRET"`
}

// LoggingConfig configures the zap-backed logger
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// MetricsConfig configures the Prometheus observer
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	Namespace string `yaml:"namespace" envconfig:"NAMESPACE"`
}

// TracingConfig configures the OpenTelemetry provider
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" envconfig:"ENABLED"`
	Exporter    string  `yaml:"exporter" envconfig:"EXPORTER"`
	Endpoint    string  `yaml:"endpoint" envconfig:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure" envconfig:"INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// HealthConfig configures the heartbeat server
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Addr    string `yaml:"addr" envconfig:"ADDR"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	return Config{
		Service:                    "agent",
		EnabledTransports:          protocol.AllKinds(),
		AutoSelection:              true,
		FallbackEnabled:            true,
		LastResortProbe:            false,
		TransportPriority:          []protocol.TransportKind{protocol.TransportRPC, protocol.TransportStream, protocol.TransportBus, protocol.TransportTool},
		MaxRetryAttempts:           3,
		BackoffBaseMs:              100,
		BackoffMultiplier:          2.0,
		BackoffMaxMs:               5000,
		AttemptTimeoutMs:           10000,
		CircuitFailureThreshold:    5,
		CircuitSuccessThreshold:    2,
		CircuitCooldownMs:          30000,
		CredentialRefreshSkewMs:    30000,
		CredentialRefreshTimeoutMs: 10000,
		MaxPayloadBytes:            1 << 20,
		DeadLetterCapacity:         256,
		NotifierWorkers:            4,
		MaxConcurrency:             16,
		Transports: TransportsConfig{
			Bus: EndpointConfig{SubjectPrefix: "agent"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Namespace: "agent_dispatch"},
		Tracing: TracingConfig{Exporter: "noop", SampleRatio: 1.0},
		Health:  HealthConfig{Enabled: true, Addr: ":8090"},
	}
}

// LoadFile overlays a YAML file onto the defaults. Keys absent from the file keep their default.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays DISPATCH_* environment variables. Unset variables leave fields untouched.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Load reads the file at path (optional), applies the environment overlay and validates the result
func Load(path string) (Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and transport names
func (c *Config) Validate() error {
	if len(c.EnabledTransports) == 0 {
		return dispatcherrors.MissingParameter("enabled_transports")
	}
	for _, kind := range c.EnabledTransports {
		if !kind.Valid() {
			return dispatcherrors.InvalidParameter("enabled_transports", string(kind), "rpc|stream|bus|tool")
		}
	}
	for _, kind := range c.TransportPriority {
		if !kind.Valid() {
			return dispatcherrors.InvalidParameter("transport_priority", string(kind), "rpc|stream|bus|tool")
		}
	}
	for kind := range c.ProtocolConstraints {
		if _, err := protocol.ParseKind(kind); err != nil {
			return dispatcherrors.InvalidParameter("protocol_constraints", kind, "rpc|stream|bus|tool")
		}
	}

	checks := []struct {
		field string
		value int
		min   int
	}{
		{"max_retry_attempts", c.MaxRetryAttempts, 0},
		{"backoff_base_ms", c.BackoffBaseMs, 0},
		{"backoff_max_ms", c.BackoffMaxMs, 0},
		{"attempt_timeout_ms", c.AttemptTimeoutMs, 1},
		{"circuit_failure_threshold", c.CircuitFailureThreshold, 1},
		{"circuit_success_threshold", c.CircuitSuccessThreshold, 1},
		{"circuit_cooldown_ms", c.CircuitCooldownMs, 0},
		{"credential_refresh_skew_ms", c.CredentialRefreshSkewMs, 0},
		{"credential_refresh_timeout_ms", c.CredentialRefreshTimeoutMs, 1},
		{"max_payload_bytes", c.MaxPayloadBytes, 1},
		{"dead_letter_capacity", c.DeadLetterCapacity, 0},
		{"notifier_workers", c.NotifierWorkers, 1},
		{"max_concurrency", c.MaxConcurrency, 1},
	}
	for _, check := range checks {
		if check.value < check.min {
			return dispatcherrors.InvalidParameter(check.field, check.value, fmt.Sprintf(">= %d", check.min))
		}
	}

	if c.BackoffMultiplier < 1 {
		return dispatcherrors.InvalidParameter("backoff_multiplier", c.BackoffMultiplier, ">= 1")
	}
	if c.BackoffMaxMs < c.BackoffBaseMs {
		return dispatcherrors.InvalidParameter("backoff_max_ms", c.BackoffMaxMs, "not below backoff_base_ms")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return dispatcherrors.InvalidParameter("tracing.sample_ratio", c.Tracing.SampleRatio, "between 0 and 1")
	}
	return nil
}

// Enabled reports whether kind is in EnabledTransports
func (c *Config) Enabled(kind protocol.TransportKind) bool {
	for _, k := range c.EnabledTransports {
		if k == kind {
			return true
		}
	}
	return false
}

// BackoffBase returns backoff_base_ms as a duration
func (c *Config) BackoffBase() time.Duration { return ms(c.BackoffBaseMs) }

// BackoffMax returns backoff_max_ms as a duration
func (c *Config) BackoffMax() time.Duration { return ms(c.BackoffMaxMs) }

// AttemptTimeout returns attempt_timeout_ms as a duration
func (c *Config) AttemptTimeout() time.Duration { return ms(c.AttemptTimeoutMs) }

// CircuitCooldown returns circuit_cooldown_ms as a duration
func (c *Config) CircuitCooldown() time.Duration { return ms(c.CircuitCooldownMs) }

// CredentialRefreshSkew returns credential_refresh_skew_ms as a duration
func (c *Config) CredentialRefreshSkew() time.Duration { return ms(c.CredentialRefreshSkewMs) }

// CredentialRefreshTimeout returns credential_refresh_timeout_ms as a duration
func (c *Config) CredentialRefreshTimeout() time.Duration { return ms(c.CredentialRefreshTimeoutMs) }

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
