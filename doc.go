// Package agentdispatch sends logical agent operations to a remote service over whichever transport
// currently fits them best.
//
// A target service may be reachable over several transports: request/response RPC, a streaming
// connection, a message bus and a tool-invocation protocol. The dispatcher keeps a capability
// profile per service that tracks which transports are declared, how fast each has been and the
// state of its circuit breaker. For every operation it ranks the usable transports against the
// operation's requirements, tries them in order, and falls back to the next candidate when one
// fails. Retries, credential refresh and circuit accounting wrap every attempt.
//
// # Overview
//
// This package re-exports the most commonly used parts of the sub-packages:
//
//   - pkg/dispatcher: the Dispatcher, its options and the dead-letter queue
//   - pkg/protocol: transport kinds, operations, requirements and results
//   - pkg/capability: declarations, feeds and the circuit-breaker profile
//   - pkg/selector: transport ranking
//   - pkg/transport: the adapter contract and the RPC, stream, bus and tool adapters
//   - pkg/auth: token sources and the single-flight credential coordinator
//   - pkg/observability: observer events, Prometheus metrics and OpenTelemetry tracing
//   - pkg/health: the heartbeat and health HTTP server
//   - pkg/config: YAML and environment configuration
//
// # Dispatching
//
//	cfg, err := agentdispatch.LoadConfig("dispatch.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	d, err := agentdispatch.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close(context.Background())
//
//	result, err := d.Dispatch(ctx, "billing.invoice", invoice,
//	    agentdispatch.WithLatency(200*time.Millisecond),
//	    agentdispatch.WithReliability(agentdispatch.ReliabilityStrict),
//	)
//
// # Failures
//
// A failed attempt is classified as timeout, connection failure, auth failure, remote rejection or
// unsupported. Timeouts and connection failures are retried on the same transport with jittered
// exponential backoff and count against its circuit. An auth failure refreshes the credential once
// and retries. A remote rejection moves straight to the next transport. When every candidate fails
// the caller receives an *AggregateFailure listing each attempt, and the operation is kept in the
// dead-letter queue.
//
// # Capability updates
//
// Declarations can be replaced at runtime with Dispatcher.UpdateCapabilities or streamed from a
// Feed with Dispatcher.Watch. NewFileFeed reloads a YAML declaration whenever the file changes.
package agentdispatch
