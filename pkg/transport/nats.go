package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// NATSAdapter carries operations over a message bus in request/reply mode (the bus kind). Each
// operation is published to <prefix>.<operation> and the first reply on the inbox is the result.
// The credential travels in the Authorization message header.
type NATSAdapter struct {
	config AdapterConfig
	logger logging.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	closed bool
}

// NewNATSAdapter creates a bus adapter for config.Endpoint. The connection is made on first use.
func NewNATSAdapter(config AdapterConfig) *NATSAdapter {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if config.SubjectPrefix == "" {
		config.SubjectPrefix = "agent"
	}
	return &NATSAdapter{
		config: config,
		logger: logger.WithFields(logging.String("transport", protocol.TransportBus.String())),
	}
}

// Kind returns protocol.TransportBus
func (a *NATSAdapter) Kind() protocol.TransportKind { return protocol.TransportBus }

// Supports reports whether kind is bus
func (a *NATSAdapter) Supports(kind protocol.TransportKind) bool { return kind == protocol.TransportBus }

// Subject returns the subject operation is published on
func (a *NATSAdapter) Subject(operation string) string {
	return a.config.SubjectPrefix + "." + operation
}

// Execute publishes one request and waits for the reply
func (a *NATSAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	kind := a.Kind()
	conn, err := a.connect()
	if err != nil {
		return nil, err
	}

	request := protocol.RequestFor(op, AttemptFromContext(ctx).Number)
	data, err := json.Marshal(request)
	if err != nil {
		return nil, dispatcherrors.Unsupported(kind, fmt.Sprintf("failed to encode request: %v", err))
	}

	msg := nats.NewMsg(a.Subject(op.Name()))
	msg.Data = data
	for key, value := range a.config.Headers {
		msg.Header.Set(key, value)
	}
	if cred := auth.CredentialFromContext(ctx); cred != nil {
		msg.Header.Set("Authorization", cred.Header())
	}
	msg.Header.Set(logging.HeaderRequestID, request.ID)
	msg.Header.Set(logging.HeaderCorrelationID, op.ID())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		// RequestMsgWithContext requires a deadline
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Connection.Timeout)
		defer cancel()
	}

	reply, err := conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, a.classify(ctx, err)
	}

	var response protocol.Response
	if err := json.Unmarshal(reply.Data, &response); err != nil {
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, fmt.Errorf("invalid reply: %w", err))
	}
	return resultOf(kind, a.config.Endpoint, request.ID, &response)
}

func (a *NATSAdapter) classify(ctx context.Context, err error) error {
	kind := a.Kind()
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return dispatcherrors.Unsupported(kind, "no responders on "+a.config.SubjectPrefix)
	case errors.Is(err, nats.ErrTimeout):
		return dispatcherrors.Timeout(kind, AttemptFromContext(ctx).Timeout, err)
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrConnectionDraining):
		return dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, err)
	}
	return classifyError(ctx, kind, a.config.Endpoint, err)
}

// connect returns the shared connection, dialing it on first use
func (a *NATSAdapter) connect() (*nats.Conn, error) {
	kind := a.Kind()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, ErrAdapterClosed)
	}
	if a.conn != nil && !a.conn.IsClosed() {
		return a.conn, nil
	}

	timeout := a.config.Connection.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := nats.Connect(a.config.Endpoint,
		nats.Name("agent-dispatch"),
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			a.logger.Warn("bus disconnected", logging.ErrorField(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			a.logger.Info("bus reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			a.logger.Debug("bus connection closed")
		}),
	)
	if err != nil {
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, err)
	}
	a.conn = conn
	a.logger.Debug("bus connected", logging.String("url", conn.ConnectedUrl()))
	return conn, nil
}

// Close drains the connection so in-flight replies are delivered before it closes
func (a *NATSAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return err
	}
	for !conn.IsClosed() {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}
