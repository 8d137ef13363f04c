// Package transport provides the adapters that carry operations to a remote agent service, and
// the middleware that makes each of them resilient.
//
// Every adapter implements the same small contract: Execute one attempt of an operation and
// return either the result or an error classified as a timeout, a connection failure, an auth
// failure, a remote rejection or an unsupported operation. The classification drives retries and
// the circuit breaker; the raw error is only kept for diagnostics.
//
// # Supported Transport Kinds
//
// HTTPAdapter (rpc):
//   - One JSON-RPC request per HTTP POST
//   - HTTP status codes are classified when the body carries no JSON-RPC error
//
// WebSocketAdapter (stream):
//   - One long-lived connection shared by concurrent operations
//   - Responses are correlated by request id
//   - Redialed when the connection drops or the credential changes
//
// NATSAdapter (bus):
//   - Request/reply on <subject_prefix>.<operation>
//   - No responders is reported as unsupported
//
// MCPAdapter (tool):
//   - Calls the tool named after the operation on an MCP server
//   - Streamable HTTP for remote servers, in-process for embedded ones
//
// InMemoryAdapter answers with a Handler and is used by tests and local agents.
//
// # Usage
//
//	config := transport.DefaultAdapterConfig(protocol.TransportRPC)
//	config.Endpoint = "https://agents.example.com/rpc"
//	adapter, err := transport.NewAdapter(config)
//
//	adapter = transport.NewMiddlewareBuilder(reliability, profile).
//	    WithCredentials(coordinator).
//	    WithObserver(observer).
//	    Wrap(adapter)
//
// # Middleware System
//
//   - ReliabilityMiddleware: per-attempt timeout, retry with exponential backoff and jitter,
//     one credential refresh after an auth failure, circuit-breaker bookkeeping
//   - TracingMiddleware: one OpenTelemetry span per attempt
//
// Custom middleware can be added by implementing the Middleware interface.
//
// # Attempt Context
//
// The reliability middleware annotates the context passed to Execute: AttemptFromContext returns
// the attempt number and timeout, and auth.CredentialFromContext the credential to present.
// Adapters derive the wire request id from the operation id and the attempt number, so a late
// reply to an abandoned attempt is never taken for the reply to a retry.
package transport
