package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// WebSocketAdapter multiplexes operations over one bidirectional stream (the stream kind).
// Requests and responses are JSON-RPC messages correlated by id, so concurrent operations share
// the connection. The connection is dialed on first use and redialed when it drops or when the
// credential changes, since the credential is presented during the handshake. A connection
// replaced after a credential change is retired: it stays open until its pending requests finish.
type WebSocketAdapter struct {
	config AdapterConfig
	dialer *websocket.Dialer
	logger logging.Logger
	dials  singleflight.Group

	mu       sync.Mutex
	conn     *streamConn
	retiring map[*streamConn]struct{}
	closed   bool
}

var errConnRetired = errors.New("stream connection retired")

// streamConn is one dialed connection with its pending requests and read loop
type streamConn struct {
	ws         *websocket.Conn
	credential string
	writeMu    sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
	err     error
	done    chan struct{}
	group   errgroup.Group

	// retired is set once a newer connection replaced this one; onIdle runs when the last
	// pending request of a retired connection finishes
	retired   bool
	onIdle    func()
	closeOnce sync.Once
}

// NewWebSocketAdapter creates a stream adapter dialing config.Endpoint
func NewWebSocketAdapter(config AdapterConfig) *WebSocketAdapter {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &WebSocketAdapter{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.Connection.Timeout,
		},
		logger:   logger.WithFields(logging.String("transport", protocol.TransportStream.String())),
		retiring: make(map[*streamConn]struct{}),
	}
}

// Kind returns protocol.TransportStream
func (a *WebSocketAdapter) Kind() protocol.TransportKind { return protocol.TransportStream }

// Supports reports whether kind is stream
func (a *WebSocketAdapter) Supports(kind protocol.TransportKind) bool {
	return kind == protocol.TransportStream
}

// Execute sends one request on the shared connection and waits for the matching response
func (a *WebSocketAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	kind := a.Kind()
	cred := auth.CredentialFromContext(ctx)
	request := protocol.RequestFor(op, AttemptFromContext(ctx).Number)

	var (
		conn *streamConn
		ch   chan *protocol.Response
		err  error
	)
	// a connection retired between connect and register is already closing; look again once
	for try := 0; try < 2; try++ {
		conn, err = a.connect(ctx, cred)
		if err != nil {
			return nil, err
		}
		ch, err = conn.register(request.ID)
		if !errors.Is(err, errConnRetired) {
			break
		}
	}
	if err != nil {
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, err)
	}
	defer conn.unregister(request.ID)

	if err := conn.write(ctx, request); err != nil {
		a.drop(conn)
		return nil, classifyError(ctx, kind, a.config.Endpoint, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, conn.failure())
		}
		return resultOf(kind, a.config.Endpoint, request.ID, resp)
	case <-ctx.Done():
		return nil, classifyError(ctx, kind, a.config.Endpoint, ctx.Err())
	}
}

// connect returns the live connection for cred. Callers needing a new connection share one dial
// per credential, and each waits only as long as its own ctx allows.
func (a *WebSocketAdapter) connect(ctx context.Context, cred *auth.Credential) (*streamConn, error) {
	header := cred.Header()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, dispatcherrors.ConnectionFailure(a.Kind(), a.config.Endpoint, ErrAdapterClosed)
	}
	if conn := a.conn; conn != nil && conn.alive() && conn.credential == header {
		a.mu.Unlock()
		return conn, nil
	}
	a.mu.Unlock()

	ch := a.dials.DoChan(header, func() (interface{}, error) {
		return a.dial(context.WithoutCancel(ctx), header)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*streamConn), nil
	case <-ctx.Done():
		return nil, classifyError(ctx, a.Kind(), a.config.Endpoint, ctx.Err())
	}
}

// dial opens a connection presenting header and installs it as the shared connection. The
// connection it replaces is retired, not closed.
func (a *WebSocketAdapter) dial(ctx context.Context, header string) (*streamConn, error) {
	kind := a.Kind()

	a.mu.Lock()
	if conn := a.conn; conn != nil && conn.alive() && conn.credential == header {
		a.mu.Unlock()
		return conn, nil
	}
	a.mu.Unlock()

	if timeout := a.config.Connection.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	requestHeader := http.Header{}
	for key, value := range a.config.Headers {
		requestHeader.Set(key, value)
	}
	if header != "" {
		requestHeader.Set("Authorization", header)
	}

	ws, resp, err := a.dialer.DialContext(ctx, a.config.Endpoint, requestHeader)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, dispatcherrors.AuthFailure(kind, fmt.Errorf("handshake rejected with HTTP %d", resp.StatusCode))
			case http.StatusNotFound:
				return nil, dispatcherrors.Unsupported(kind, "stream endpoint not found")
			}
		}
		return nil, classifyError(ctx, kind, a.config.Endpoint, err)
	}

	conn := &streamConn{
		ws:         ws,
		credential: header,
		pending:    make(map[string]chan *protocol.Response),
		done:       make(chan struct{}),
	}
	conn.group.Go(conn.readLoop)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.close()
		return nil, dispatcherrors.ConnectionFailure(kind, a.config.Endpoint, ErrAdapterClosed)
	}
	old := a.conn
	a.conn = conn
	if old != nil {
		a.retiring[old] = struct{}{}
	}
	a.mu.Unlock()

	if old != nil {
		a.logger.Debug("credential changed, retiring previous stream")
		old.retire(func() {
			a.mu.Lock()
			delete(a.retiring, old)
			a.mu.Unlock()
		})
	}
	a.logger.Debug("stream connected", logging.String("endpoint", a.config.Endpoint))
	return conn, nil
}

// drop discards conn after a write failure so the next call redials
func (a *WebSocketAdapter) drop(conn *streamConn) {
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	delete(a.retiring, conn)
	a.mu.Unlock()
	conn.close()
}

// Close closes the live and retiring connections and waits for their read loops to exit
func (a *WebSocketAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	conns := make([]*streamConn, 0, len(a.retiring)+1)
	if a.conn != nil {
		conns = append(conns, a.conn)
	}
	for conn := range a.retiring {
		conns = append(conns, conn)
	}
	a.conn = nil
	a.retiring = make(map[*streamConn]struct{})
	a.mu.Unlock()

	if len(conns) == 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		for _, conn := range conns {
			conn.close()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *streamConn) alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *streamConn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return errors.New("stream closed")
	}
	return c.err
}

func (c *streamConn) register(id string) (chan *protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		if c.err == nil {
			return nil, errors.New("stream closed")
		}
		return nil, c.err
	}
	if c.retired && len(c.pending) == 0 {
		// idle and retired means the close is already under way
		return nil, errConnRetired
	}
	ch := make(chan *protocol.Response, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *streamConn) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	idle := c.retired && len(c.pending) == 0
	c.mu.Unlock()
	if idle {
		go c.closeIdle()
	}
}

// retire marks the connection as replaced. It closes as soon as no request is pending on it.
func (c *streamConn) retire(onIdle func()) {
	c.mu.Lock()
	c.retired = true
	c.onIdle = onIdle
	idle := len(c.pending) == 0
	c.mu.Unlock()
	if idle {
		go c.closeIdle()
	}
}

func (c *streamConn) closeIdle() {
	c.close()
	c.mu.Lock()
	onIdle := c.onIdle
	c.onIdle = nil
	c.mu.Unlock()
	if onIdle != nil {
		onIdle()
	}
}

func (c *streamConn) write(ctx context.Context, request *protocol.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(request)
}

// readLoop delivers responses to their waiters until the connection fails. Pending waiters are
// then released by closing their channels.
func (c *streamConn) readLoop() error {
	var loopErr error
	for {
		var resp protocol.Response
		if err := c.ws.ReadJSON(&resp); err != nil {
			loopErr = err
			break
		}
		c.mu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			ch <- &resp
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
	}

	// done closes before the waiters wake so none of them reuses this connection
	c.mu.Lock()
	c.err = loopErr
	close(c.done)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pending = nil
	c.mu.Unlock()

	if websocket.IsCloseError(loopErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return loopErr
}

// close sends a close frame, closes the socket and waits for the read loop. It is safe to call
// more than once.
func (c *streamConn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	_ = c.group.Wait()
}
