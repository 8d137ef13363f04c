// Package pkg groups the building blocks of the agent dispatcher.
//
// The packages layer as follows, each depending only on those listed before it:
//
//   - logging: zap-backed structured logger and HTTP request logging
//   - protocol: transport kinds and traits, operations, results and the JSON-RPC envelope
//   - errors: coded dispatch errors and the failure classification that drives retries
//   - config: defaults, YAML file and DISPATCH_* environment overlay
//   - capability: declarations, semver negotiation, file feeds and the per-service
//     circuit-breaker profile
//   - selector: ranks the usable transports of a profile for one operation
//   - auth: token sources and the single-flight credential coordinator
//   - validation: payload limits and JSON Schema checks run before dispatch
//   - observability: observer events, asynchronous notifier, Prometheus metrics, tracing
//   - transport: the adapter contract, the RPC, stream, bus and tool adapters and the
//     reliability middleware that retries attempts and records circuit outcomes
//   - dispatcher: selection, fallback, batches, dead letters and lifecycle
//   - health: heartbeat, health, circuits and metrics over HTTP
//
// Most programs only need the dispatcher package, or the re-exports of the module root.
package pkg
