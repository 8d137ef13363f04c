package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// ClientName and ClientVersion identify the dispatcher during the tool-channel handshake
const (
	ClientName    = "agent-dispatch"
	ClientVersion = "1.0.0"
)

// mcpClientFactory creates an unstarted client presenting the given Authorization header
type mcpClientFactory func(authorization string) (*client.Client, error)

// MCPAdapter invokes operations as tools on a Model Context Protocol server (the tool kind). The
// operation name is the tool name and the payload object is the tool arguments.
type MCPAdapter struct {
	endpoint string
	factory  mcpClientFactory
	// perCredential is false for in-process servers, which see no headers
	perCredential bool
	logger        logging.Logger

	mu         sync.Mutex
	client     *client.Client
	credential string
	closed     bool
}

// NewMCPAdapter creates a tool adapter speaking streamable HTTP to config.Endpoint
func NewMCPAdapter(config AdapterConfig) *MCPAdapter {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	factory := func(authorization string) (*client.Client, error) {
		headers := make(map[string]string, len(config.Headers)+1)
		for key, value := range config.Headers {
			headers[key] = value
		}
		if authorization != "" {
			headers["Authorization"] = authorization
		}
		opts := []mcptransport.StreamableHTTPCOption{mcptransport.WithHTTPHeaders(headers)}
		if config.Connection.Timeout > 0 {
			opts = append(opts, mcptransport.WithHTTPTimeout(config.Connection.Timeout))
		}
		return client.NewStreamableHttpClient(config.Endpoint, opts...)
	}
	return &MCPAdapter{
		endpoint:      config.Endpoint,
		factory:       factory,
		perCredential: true,
		logger:        logger.WithFields(logging.String("transport", protocol.TransportTool.String())),
	}
}

// NewInProcessMCPAdapter creates a tool adapter calling srv directly, without a network hop
func NewInProcessMCPAdapter(srv *server.MCPServer, logger logging.Logger) *MCPAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &MCPAdapter{
		endpoint: "inprocess",
		factory: func(string) (*client.Client, error) {
			return client.NewInProcessClient(srv)
		},
		logger: logger.WithFields(logging.String("transport", protocol.TransportTool.String())),
	}
}

// Kind returns protocol.TransportTool
func (a *MCPAdapter) Kind() protocol.TransportKind { return protocol.TransportTool }

// Supports reports whether kind is tool
func (a *MCPAdapter) Supports(kind protocol.TransportKind) bool { return kind == protocol.TransportTool }

// Execute calls the tool named after the operation
func (a *MCPAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	kind := a.Kind()

	var arguments map[string]any
	if payload := op.Payload(); len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &arguments); err != nil {
			return nil, dispatcherrors.Unsupported(kind, "tool arguments must be a JSON object")
		}
	}

	c, err := a.connect(ctx, auth.CredentialFromContext(ctx).Header())
	if err != nil {
		return nil, err
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = op.Name()
	request.Params.Arguments = arguments

	result, err := c.CallTool(ctx, request)
	if err != nil {
		return nil, a.classify(ctx, c, err)
	}
	return toolResult(result)
}

// connect returns an initialized client for authorization, replacing the current one when the
// credential changed
func (a *MCPAdapter) connect(ctx context.Context, authorization string) (*client.Client, error) {
	kind := a.Kind()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, dispatcherrors.ConnectionFailure(kind, a.endpoint, ErrAdapterClosed)
	}
	if a.client != nil && (!a.perCredential || a.credential == authorization) {
		return a.client, nil
	}
	if a.client != nil {
		a.logger.Debug("credential changed, reconnecting tool channel")
		_ = a.client.Close()
		a.client = nil
	}

	c, err := a.factory(authorization)
	if err != nil {
		return nil, dispatcherrors.ConnectionFailure(kind, a.endpoint, err)
	}
	// the session outlives the attempt that opened it
	if err := c.Start(context.Background()); err != nil {
		_ = c.Close()
		return nil, classifyToolError(ctx, kind, a.endpoint, err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    ClientName,
		Version: ClientVersion,
	}
	if _, err := c.Initialize(ctx, initRequest); err != nil {
		_ = c.Close()
		return nil, classifyToolError(ctx, kind, a.endpoint, err)
	}

	a.client = c
	a.credential = authorization
	a.logger.Debug("tool channel initialized", logging.String("endpoint", a.endpoint))
	return c, nil
}

// classify converts a call error, discarding the client when its session is gone
func (a *MCPAdapter) classify(ctx context.Context, c *client.Client, err error) error {
	classified := classifyToolError(ctx, a.Kind(), a.endpoint, err)
	if dispatcherrors.Classify(classified) == dispatcherrors.FailureConnection {
		a.mu.Lock()
		if a.client == c {
			_ = c.Close()
			a.client = nil
		}
		a.mu.Unlock()
	}
	return classified
}

// classifyToolError maps client errors, which only carry their cause in the message
func classifyToolError(ctx context.Context, kind protocol.TransportKind, endpoint string, err error) error {
	if ctx.Err() != nil {
		return classifyError(ctx, kind, endpoint, err)
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "401"), strings.Contains(message, "403"), strings.Contains(message, "unauthorized"):
		return dispatcherrors.AuthFailure(kind, err)
	case strings.Contains(message, "session terminated"):
		return dispatcherrors.ConnectionFailure(kind, endpoint, err)
	case strings.Contains(message, "not found"):
		return dispatcherrors.Unsupported(kind, err.Error())
	}
	return classifyError(ctx, kind, endpoint, err)
}

// toolResult turns tool content into the operation result. A single text block holding JSON is
// returned as is; other text is returned as a JSON string, or an array of strings for several
// blocks.
func toolResult(result *mcp.CallToolResult) (json.RawMessage, error) {
	var texts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			texts = append(texts, text.Text)
		}
	}

	if result.IsError {
		reason := "tool reported an error"
		if len(texts) > 0 {
			reason = texts[0]
		}
		return nil, dispatcherrors.RemoteRejected(protocol.TransportTool, int(protocol.OperationRejected), reason)
	}

	switch len(texts) {
	case 0:
		return nil, nil
	case 1:
		if json.Valid([]byte(texts[0])) {
			return json.RawMessage(texts[0]), nil
		}
		return marshalResult(texts[0])
	default:
		return marshalResult(texts)
	}
}

func marshalResult(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return data, nil
}

// Close ends the tool session
func (a *MCPAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}
