package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// HTTPAdapter carries operations as synchronous JSON-RPC calls over HTTP POST (the rpc kind)
type HTTPAdapter struct {
	config AdapterConfig
	client *http.Client
	closed atomic.Bool
}

// NewHTTPAdapter creates an rpc adapter posting to config.Endpoint
func NewHTTPAdapter(config AdapterConfig) *HTTPAdapter {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   config.Connection.Timeout,
					KeepAlive: config.Connection.KeepAlive,
				}).DialContext,
				MaxIdleConns:    config.Connection.MaxIdleConns,
				MaxConnsPerHost: config.Connection.MaxConnsPerHost,
				IdleConnTimeout: config.Connection.IdleConnTimeout,
			},
		}
	}
	return &HTTPAdapter{config: config, client: client}
}

// Kind returns protocol.TransportRPC
func (a *HTTPAdapter) Kind() protocol.TransportKind { return protocol.TransportRPC }

// Supports reports whether kind is rpc
func (a *HTTPAdapter) Supports(kind protocol.TransportKind) bool { return kind == protocol.TransportRPC }

// Execute posts one JSON-RPC request and decodes the response
func (a *HTTPAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	kind := a.Kind()
	if a.closed.Load() {
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, ErrAdapterClosed)
	}

	request := protocol.RequestFor(op, AttemptFromContext(ctx).Number)
	body, err := json.Marshal(request)
	if err != nil {
		return nil, dispatcherrors.Unsupported(kind, fmt.Sprintf("failed to encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range a.config.Headers {
		req.Header.Set(key, value)
	}
	if cred := auth.CredentialFromContext(ctx); cred != nil {
		req.Header.Set("Authorization", cred.Header())
	}
	req.Header.Set(logging.HeaderRequestID, request.ID)
	req.Header.Set(logging.HeaderCorrelationID, op.ID())
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyError(ctx, kind, a.config.Endpoint, err)
	}
	defer resp.Body.Close()

	limit := a.config.Connection.MaxResponseBytes
	if limit <= 0 {
		limit = 16 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, classifyError(ctx, kind, a.config.Endpoint, err)
	}

	if err := statusError(ctx, kind, a.config.Endpoint, resp.StatusCode, data); err != nil {
		return nil, err
	}

	var response protocol.Response
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, fmt.Errorf("invalid JSON-RPC response: %w", err))
	}
	return resultOf(kind, a.config.Endpoint, request.ID, &response)
}

// statusError classifies a non-2xx HTTP status. A JSON-RPC error body takes precedence over the
// status code when the server sent one.
func statusError(ctx context.Context, kind protocol.TransportKind, endpoint string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var response protocol.Response
	if status != http.StatusUnauthorized && status != http.StatusForbidden &&
		json.Unmarshal(body, &response) == nil && response.Error != nil {
		return dispatcherrors.FromRemoteError(kind, response.Error)
	}

	reason := fmt.Sprintf("HTTP %d", status)
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 256 {
		reason = fmt.Sprintf("%s: %s", reason, text)
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return dispatcherrors.AuthFailure(kind, errors.New(reason))
	case status == http.StatusNotFound, status == http.StatusMethodNotAllowed, status == http.StatusNotImplemented:
		return dispatcherrors.Unsupported(kind, reason)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return dispatcherrors.Timeout(kind, AttemptFromContext(ctx).Timeout, errors.New(reason))
	case status == http.StatusTooManyRequests, status >= 500:
		return dispatcherrors.ConnectionFailure(kind, endpoint, errors.New(reason))
	default:
		return dispatcherrors.RemoteRejected(kind, status, reason)
	}
}

// Close releases idle connections. Further calls fail with a connection failure.
func (a *HTTPAdapter) Close(ctx context.Context) error {
	a.closed.Store(true)
	a.client.CloseIdleConnections()
	return nil
}
