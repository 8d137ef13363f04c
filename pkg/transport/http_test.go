package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

func newHTTPTestAdapter(t *testing.T, handler http.HandlerFunc) *HTTPAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultAdapterConfig(protocol.TransportRPC)
	config.Endpoint = server.URL
	config.Headers["X-Agent-Tenant"] = "blue"
	adapter, err := NewAdapter(config)
	require.NoError(t, err)
	return adapter.(*HTTPAdapter)
}

func TestHTTPAdapterExecute(t *testing.T) {
	var got *http.Request
	var request protocol.Request
	adapter := newHTTPTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		resp, _ := protocol.NewResponse(request.ID, map[string]int{"words": 3})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	op, err := protocol.NewOperation("agents.summarize", map[string]string{"text": "a b c"},
		protocol.WithOperationID("op-1"))
	require.NoError(t, err)

	ctx := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: "secret"})
	ctx = ContextWithAttempt(ctx, AttemptInfo{Number: 2})
	result, err := adapter.Execute(ctx, op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"words":3}`, string(result))

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.Equal(t, "op-1#2", got.Header.Get(logging.HeaderRequestID))
	assert.Equal(t, "op-1", got.Header.Get(logging.HeaderCorrelationID))
	assert.Equal(t, "blue", got.Header.Get("X-Agent-Tenant"))
	assert.Equal(t, "agents.summarize", request.Method)
	assert.JSONEq(t, `{"text":"a b c"}`, string(request.Params))
}

func TestHTTPAdapterClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   dispatcherrors.FailureKind
	}{
		{"unauthorized", http.StatusUnauthorized, "", dispatcherrors.FailureAuth},
		{"forbidden with rpc body", http.StatusForbidden, `{"jsonrpc":"2.0","id":"x","error":{"code":-32002,"message":"no"}}`, dispatcherrors.FailureAuth},
		{"not found", http.StatusNotFound, "", dispatcherrors.FailureUnsupported},
		{"not implemented", http.StatusNotImplemented, "", dispatcherrors.FailureUnsupported},
		{"gateway timeout", http.StatusGatewayTimeout, "", dispatcherrors.FailureTimeout},
		{"too many requests", http.StatusTooManyRequests, "", dispatcherrors.FailureConnection},
		{"bad gateway", http.StatusBadGateway, "upstream down", dispatcherrors.FailureConnection},
		{"unprocessable", http.StatusUnprocessableEntity, "bad input", dispatcherrors.FailureRemoteRejected},
		{"rpc error on 500", http.StatusInternalServerError, `{"jsonrpc":"2.0","id":"x","error":{"code":-32003,"message":"not here"}}`, dispatcherrors.FailureUnsupported},
		{"rpc error on 200", http.StatusOK, `{"jsonrpc":"2.0","id":"op#1","error":{"code":-32002,"message":"refused"}}`, dispatcherrors.FailureRemoteRejected},
		{"mismatched id", http.StatusOK, `{"jsonrpc":"2.0","id":"other#1","result":1}`, dispatcherrors.FailureConnection},
		{"not json", http.StatusOK, `<html>`, dispatcherrors.FailureConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newHTTPTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			op, err := protocol.NewOperation("agents.summarize", nil, protocol.WithOperationID("op"))
			require.NoError(t, err)

			_, err = adapter.Execute(context.Background(), op)
			require.Error(t, err)
			assert.Equal(t, tt.want, dispatcherrors.Classify(err), "got %v", err)
		})
	}
}

func TestHTTPAdapterTimeout(t *testing.T) {
	release := make(chan struct{})
	adapter := newHTTPTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := adapter.Execute(ctx, newTestOperation(t, "agents.summarize", nil))
	require.Error(t, err)
	assert.Equal(t, dispatcherrors.FailureTimeout, dispatcherrors.Classify(err))
}

func TestHTTPAdapterConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	config := DefaultAdapterConfig(protocol.TransportRPC)
	config.Endpoint = endpoint
	adapter := NewHTTPAdapter(config)

	_, err := adapter.Execute(context.Background(), newTestOperation(t, "agents.summarize", nil))
	assert.Equal(t, dispatcherrors.FailureConnection, dispatcherrors.Classify(err))
}

func TestHTTPAdapterClosed(t *testing.T) {
	adapter := newHTTPTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	require.NoError(t, adapter.Close(context.Background()))

	_, err := adapter.Execute(context.Background(), newTestOperation(t, "agents.summarize", nil))
	assert.ErrorIs(t, err, ErrAdapterClosed)
}
