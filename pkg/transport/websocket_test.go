package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// streamServer echoes the params of each request back as its result. Requests for "fail" get a
// rejection, requests for "drop" close the connection and requests for "hold" are answered only
// once release is closed. Handshakes presenting slowToken block until release is closed.
type streamServer struct {
	handshakes atomic.Int64
	closes     atomic.Int64
	authorized string
	headers    chan http.Header

	held      chan string
	release   chan struct{}
	slowToken string
	dialing   chan struct{}
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.authorized != "" && r.Header.Get("Authorization") != s.authorized {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if s.slowToken != "" && r.Header.Get("Authorization") == "Bearer "+s.slowToken {
		s.dialing <- struct{}{}
		<-s.release
	}
	s.handshakes.Add(1)
	if s.headers != nil {
		select {
		case s.headers <- r.Header.Clone():
		default:
		}
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	for {
		var request protocol.Request
		if err := conn.ReadJSON(&request); err != nil {
			s.closes.Add(1)
			return
		}
		var response *protocol.Response
		switch request.Method {
		case "drop":
			return
		case "hold":
			response := &protocol.Response{
				JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
				ID:             request.ID,
				Result:         request.Params,
			}
			go func() {
				s.held <- request.ID
				<-s.release
				writeMu.Lock()
				defer writeMu.Unlock()
				_ = conn.WriteJSON(response)
			}()
			continue
		case "fail":
			response = protocol.NewErrorResponse(request.ID, protocol.OperationRejected, "refused")
		default:
			response = &protocol.Response{
				JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
				ID:             request.ID,
				Result:         request.Params,
			}
		}
		// answer out of order to exercise correlation
		go func() {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.WriteJSON(response)
		}()
	}
}

func newStreamTestAdapter(t *testing.T, srv *streamServer) *WebSocketAdapter {
	t.Helper()
	server := httptest.NewServer(srv)
	t.Cleanup(server.Close)

	config := DefaultAdapterConfig(protocol.TransportStream)
	config.Endpoint = "ws" + strings.TrimPrefix(server.URL, "http")
	adapter, err := NewAdapter(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close(context.Background()) })
	return adapter.(*WebSocketAdapter)
}

func TestWebSocketAdapterConcurrentOperations(t *testing.T) {
	srv := &streamServer{}
	adapter := newStreamTestAdapter(t, srv)

	const calls = 20
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op, err := protocol.NewOperation("agents.echo", map[string]int{"n": i})
			require.NoError(t, err)
			result, err := adapter.Execute(context.Background(), op)
			require.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(result))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), srv.handshakes.Load(), "operations share one connection")
}

func TestWebSocketAdapterRemoteError(t *testing.T) {
	adapter := newStreamTestAdapter(t, &streamServer{})

	_, err := adapter.Execute(context.Background(), newTestOperation(t, "fail", nil))
	assert.Equal(t, dispatcherrors.FailureRemoteRejected, dispatcherrors.Classify(err))
}

func TestWebSocketAdapterRedialsAfterDrop(t *testing.T) {
	srv := &streamServer{}
	adapter := newStreamTestAdapter(t, srv)

	_, err := adapter.Execute(context.Background(), newTestOperation(t, "drop", nil))
	assert.Equal(t, dispatcherrors.FailureConnection, dispatcherrors.Classify(err))

	result, err := adapter.Execute(context.Background(), newTestOperation(t, "agents.echo", json.RawMessage(`[1]`)))
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, string(result))
	assert.Equal(t, int64(2), srv.handshakes.Load())
}

func TestWebSocketAdapterHandshakeAuth(t *testing.T) {
	srv := &streamServer{authorized: "Bearer good", headers: make(chan http.Header, 4)}
	adapter := newStreamTestAdapter(t, srv)

	bad := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: "bad"})
	_, err := adapter.Execute(bad, newTestOperation(t, "agents.echo", nil))
	assert.Equal(t, dispatcherrors.FailureAuth, dispatcherrors.Classify(err))

	good := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: "good"})
	_, err = adapter.Execute(good, newTestOperation(t, "agents.echo", nil))
	require.NoError(t, err)
	assert.Equal(t, "Bearer good", (<-srv.headers).Get("Authorization"))
}

func TestWebSocketAdapterRedialsOnCredentialChange(t *testing.T) {
	srv := &streamServer{}
	adapter := newStreamTestAdapter(t, srv)

	for _, token := range []string{"one", "one", "two"} {
		ctx := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: token})
		_, err := adapter.Execute(ctx, newTestOperation(t, "agents.echo", nil))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), srv.handshakes.Load())
}

func TestWebSocketAdapterCredentialChangeKeepsPendingRequests(t *testing.T) {
	srv := &streamServer{held: make(chan string, 1), release: make(chan struct{})}
	adapter := newStreamTestAdapter(t, srv)

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		ctx := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: "one"})
		result, err := adapter.Execute(ctx, newTestOperation(t, "hold", json.RawMessage(`"pending"`)))
		done <- outcome{result, err}
	}()
	<-srv.held

	refreshed := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: "two"})
	_, err := adapter.Execute(refreshed, newTestOperation(t, "agents.echo", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), srv.handshakes.Load())
	assert.Equal(t, int64(0), srv.closes.Load(), "the replaced connection stays open while a request is pending")

	close(srv.release)
	got := <-done
	require.NoError(t, got.err)
	assert.JSONEq(t, `"pending"`, string(got.result))

	assert.Eventually(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return len(adapter.retiring) == 0
	}, 2*time.Second, 10*time.Millisecond, "the replaced connection closes once idle")
	assert.Eventually(t, func() bool { return srv.closes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketAdapterSlowDialDoesNotBlockOtherCallers(t *testing.T) {
	srv := &streamServer{slowToken: "slow", dialing: make(chan struct{}, 1), release: make(chan struct{})}
	adapter := newStreamTestAdapter(t, srv)
	defer func() {
		select {
		case <-srv.release:
		default:
			close(srv.release)
		}
	}()

	slow := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: "slow"})
	done := make(chan error, 1)
	go func() {
		_, err := adapter.Execute(slow, newTestOperation(t, "agents.echo", nil))
		done <- err
	}()
	<-srv.dialing

	// a caller attached to the pending dial gives up at its own deadline
	short, cancel := context.WithTimeout(slow, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := adapter.Execute(short, newTestOperation(t, "agents.echo", nil))
	assert.Equal(t, dispatcherrors.FailureTimeout, dispatcherrors.Classify(err))
	assert.Less(t, time.Since(start), time.Second)

	// a caller with another credential dials its own connection meanwhile
	fast := auth.ContextWithCredential(context.Background(), &auth.Credential{Value: "fast"})
	_, err = adapter.Execute(fast, newTestOperation(t, "agents.echo", nil))
	require.NoError(t, err)

	close(srv.release)
	require.NoError(t, <-done)
}

func TestWebSocketAdapterClose(t *testing.T) {
	adapter := newStreamTestAdapter(t, &streamServer{})
	_, err := adapter.Execute(context.Background(), newTestOperation(t, "agents.echo", nil))
	require.NoError(t, err)

	require.NoError(t, adapter.Close(context.Background()))
	_, err = adapter.Execute(context.Background(), newTestOperation(t, "agents.echo", nil))
	assert.ErrorIs(t, err, ErrAdapterClosed)
}
