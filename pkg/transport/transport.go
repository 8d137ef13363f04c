package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Adapter is the uniform contract every transport kind implements. Execute returns the remote
// result payload, or an error classified with the constructors of pkg/errors so the resilience
// layer can decide between retrying, refreshing the credential and giving up on the transport.
type Adapter interface {
	// Kind returns the transport kind the adapter carries
	Kind() protocol.TransportKind

	// Supports reports whether the adapter can carry operations of kind. It is used to build the
	// capability profile from the configured adapters.
	Supports(kind protocol.TransportKind) bool

	// Execute performs one attempt of op. Adapters connect lazily on the first call.
	Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error)

	// Close releases connections held by the adapter
	Close(ctx context.Context) error
}

// Common errors
var (
	ErrUnsupportedTransportType = errors.New("unsupported transport type")
	ErrAdapterClosed            = errors.New("adapter closed")
)

// ConnectionConfig holds connection-related settings
type ConnectionConfig struct {
	Timeout         time.Duration // dial and handshake timeout
	KeepAlive       time.Duration
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
	// MaxResponseBytes bounds a single response payload
	MaxResponseBytes int64
}

// AdapterConfig is the unified configuration for creating adapters
type AdapterConfig struct {
	Kind     protocol.TransportKind
	Endpoint string
	// Headers are sent with every request (rpc, tool) or handshake (stream)
	Headers map[string]string
	// SubjectPrefix is the bus subject prefix; operations go to <prefix>.<operation>
	SubjectPrefix string

	Connection ConnectionConfig

	// HTTPClient overrides the client used by the rpc adapter
	HTTPClient *http.Client
	Logger     logging.Logger
}

// DefaultAdapterConfig returns an adapter configuration with sensible defaults
func DefaultAdapterConfig(kind protocol.TransportKind) AdapterConfig {
	return AdapterConfig{
		Kind:          kind,
		Headers:       map[string]string{},
		SubjectPrefix: "agent",
		Connection: ConnectionConfig{
			Timeout:          10 * time.Second,
			KeepAlive:        30 * time.Second,
			MaxIdleConns:     100,
			MaxConnsPerHost:  10,
			IdleConnTimeout:  90 * time.Second,
			MaxResponseBytes: 16 << 20,
		},
	}
}

// NewAdapter creates the adapter for config.Kind. Middleware is applied by the caller, which owns
// the capability profile and credential coordinator the resilience middleware needs.
func NewAdapter(config AdapterConfig) (Adapter, error) {
	if err := validateAdapterConfig(config); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = logging.NewNop()
	}

	switch config.Kind {
	case protocol.TransportRPC:
		return NewHTTPAdapter(config), nil
	case protocol.TransportStream:
		return NewWebSocketAdapter(config), nil
	case protocol.TransportBus:
		return NewNATSAdapter(config), nil
	case protocol.TransportTool:
		return NewMCPAdapter(config), nil
	default:
		return nil, ErrUnsupportedTransportType
	}
}

// validateAdapterConfig validates the adapter configuration
func validateAdapterConfig(config AdapterConfig) error {
	if !config.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedTransportType, config.Kind)
	}
	if config.Endpoint == "" {
		return dispatcherrors.MissingParameter("transports." + config.Kind.String() + ".url")
	}
	u, err := url.Parse(config.Endpoint)
	if err != nil || u.Scheme == "" {
		return dispatcherrors.InvalidParameter("transports."+config.Kind.String()+".url", config.Endpoint, "absolute URL")
	}

	var schemes []string
	switch config.Kind {
	case protocol.TransportRPC, protocol.TransportTool:
		schemes = []string{"http", "https"}
	case protocol.TransportStream:
		schemes = []string{"ws", "wss"}
	case protocol.TransportBus:
		schemes = []string{"nats", "tls"}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return dispatcherrors.InvalidParameter("transports."+config.Kind.String()+".url", config.Endpoint, fmt.Sprintf("scheme in %v", schemes))
}

// AttemptInfo describes the attempt an Execute call belongs to
type AttemptInfo struct {
	// Number is 1-based and counts every attempt on the transport, including the refresh retry
	Number int
	// Timeout is the per-attempt timeout, zero when unbounded
	Timeout time.Duration
}

type attemptKey struct{}
type lastResortKey struct{}
type attemptCounterKey struct{}

// ContextWithAttempt records the attempt an Execute call belongs to
func ContextWithAttempt(ctx context.Context, info AttemptInfo) context.Context {
	return context.WithValue(ctx, attemptKey{}, info)
}

// AttemptFromContext returns the current attempt, number 1 when none was recorded
func AttemptFromContext(ctx context.Context) AttemptInfo {
	if info, ok := ctx.Value(attemptKey{}).(AttemptInfo); ok {
		return info
	}
	return AttemptInfo{Number: 1}
}

// ContextWithLastResort marks an execution as a last-resort probe of an open transport
func ContextWithLastResort(ctx context.Context) context.Context {
	return context.WithValue(ctx, lastResortKey{}, true)
}

// IsLastResort reports whether ctx carries the last-resort mark
func IsLastResort(ctx context.Context) bool {
	v, _ := ctx.Value(lastResortKey{}).(bool)
	return v
}

// ContextWithAttemptCounter returns a context whose Execute calls are counted in the returned counter
func ContextWithAttemptCounter(ctx context.Context) (context.Context, *atomic.Int64) {
	counter := new(atomic.Int64)
	return context.WithValue(ctx, attemptCounterKey{}, counter), counter
}

func countAttempt(ctx context.Context) {
	if counter, ok := ctx.Value(attemptCounterKey{}).(*atomic.Int64); ok {
		counter.Add(1)
	}
}

// classifyError turns a raw I/O error into a classified transport error. Errors that are already
// classified pass through unchanged.
func classifyError(ctx context.Context, kind protocol.TransportKind, endpoint string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := dispatcherrors.AsDispatchError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return dispatcherrors.Timeout(kind, AttemptFromContext(ctx).Timeout, err)
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return dispatcherrors.OperationCancelled("", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return dispatcherrors.Timeout(kind, AttemptFromContext(ctx).Timeout, err)
	}
	return dispatcherrors.ConnectionFailure(kind, endpoint, err)
}

// resultOf extracts the result of a JSON-RPC response, converting a remote error object
func resultOf(kind protocol.TransportKind, endpoint, wantID string, resp *protocol.Response) (json.RawMessage, error) {
	if resp.ID != wantID {
		return nil, dispatcherrors.ConnectionFailure(kind, endpoint,
			fmt.Errorf("response id %q does not match request id %q", resp.ID, wantID))
	}
	if resp.Error != nil {
		return nil, dispatcherrors.FromRemoteError(kind, resp.Error)
	}
	return resp.Result, nil
}
