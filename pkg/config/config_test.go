package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.AutoSelection)
	assert.True(t, cfg.FallbackEnabled)
	assert.False(t, cfg.LastResortProbe)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffBase())
	assert.Equal(t, 30*time.Second, cfg.CircuitCooldown())
	assert.Equal(t, protocol.AllKinds(), cfg.EnabledTransports)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeFile(t, `
service: billing
enabled_transports: [rpc, bus]
max_retry_attempts: 5
backoff_multiplier: 1.5
protocol_constraints:
  rpc: ">= 2.0, < 3.0"
transports:
  rpc:
    url: http://billing.internal/rpc
  bus:
    url: nats://127.0.0.1:4222
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.Service)
	assert.Equal(t, []protocol.TransportKind{protocol.TransportRPC, protocol.TransportBus}, cfg.EnabledTransports)
	assert.Equal(t, 5, cfg.MaxRetryAttempts)
	assert.Equal(t, 1.5, cfg.BackoffMultiplier)
	assert.Equal(t, ">= 2.0, < 3.0", cfg.ProtocolConstraints["rpc"])
	assert.Equal(t, "http://billing.internal/rpc", cfg.Transports.Endpoint(protocol.TransportRPC).URL)
	// untouched keys keep defaults
	assert.Equal(t, "agent", cfg.Transports.Bus.SubjectPrefix)
	assert.Equal(t, 5000, cfg.BackoffMaxMs)
	assert.True(t, cfg.Enabled(protocol.TransportBus))
	assert.False(t, cfg.Enabled(protocol.TransportTool))
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadFile(writeFile(t, "max_retry_attempts: [not, a, number]"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DISPATCH_MAX_RETRY_ATTEMPTS", "7")
	t.Setenv("DISPATCH_AUTO_SELECTION", "false")
	t.Setenv("DISPATCH_ENABLED_TRANSPORTS", "stream,tool")
	t.Setenv("DISPATCH_TRANSPORTS_BUS_URL", "nats://bus:4222")
	t.Setenv("DISPATCH_LOG_LEVEL", "debug")

	cfg := Default()
	require.NoError(t, ApplyEnv(&cfg))

	assert.Equal(t, 7, cfg.MaxRetryAttempts)
	assert.False(t, cfg.AutoSelection)
	assert.Equal(t, []protocol.TransportKind{protocol.TransportStream, protocol.TransportTool}, cfg.EnabledTransports)
	assert.Equal(t, "nats://bus:4222", cfg.Transports.Bus.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// unset variables leave defaults alone
	assert.True(t, cfg.FallbackEnabled)
	assert.Equal(t, 100, cfg.BackoffBaseMs)
}

func TestLoadValidates(t *testing.T) {
	_, err := Load(writeFile(t, "circuit_failure_threshold: 0"))
	require.Error(t, err)
	assert.True(t, dispatcherrors.IsCode(err, dispatcherrors.CodeInvalidParameter))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   int
	}{
		{"no transports", func(c *Config) { c.EnabledTransports = nil }, dispatcherrors.CodeMissingParameter},
		{"unknown transport", func(c *Config) { c.EnabledTransports = []protocol.TransportKind{"smoke"} }, dispatcherrors.CodeInvalidParameter},
		{"unknown priority", func(c *Config) { c.TransportPriority = []protocol.TransportKind{"grpc"} }, dispatcherrors.CodeInvalidParameter},
		{"unknown constraint", func(c *Config) { c.ProtocolConstraints = map[string]string{"smtp": "1.x"} }, dispatcherrors.CodeInvalidParameter},
		{"negative retries", func(c *Config) { c.MaxRetryAttempts = -1 }, dispatcherrors.CodeInvalidParameter},
		{"multiplier below one", func(c *Config) { c.BackoffMultiplier = 0.5 }, dispatcherrors.CodeInvalidParameter},
		{"max below base", func(c *Config) { c.BackoffMaxMs = 10 }, dispatcherrors.CodeInvalidParameter},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, dispatcherrors.CodeInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, dispatcherrors.IsCode(err, tt.code), "got %v", err)
		})
	}
}
