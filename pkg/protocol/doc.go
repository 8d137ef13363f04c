// Package protocol defines the value types that flow through the dispatch engine.
//
// # Package Organization
//
//   - kind.go: the TransportKind tagged enum, its static traits and the ReliabilityLevel scale
//   - operation.go: Operation (the unit of work), Requirements and Result
//   - jsonrpc.go: the JSON-RPC 2.0 envelope spoken by the rpc, stream and bus adapters
//
// # Operations
//
// An Operation is an immutable value. It is created once per call with NewOperation, is passed by
// value through validation, selection and every transport attempt, and is discarded once the
// dispatch completes:
//
//	op, err := protocol.NewOperation("agents.summarize", payload,
//	    protocol.WithLatency(100*time.Millisecond),
//	    protocol.WithReliability(protocol.ReliabilityStrict),
//	)
//
// # Wire Envelope
//
// The rpc, stream and bus adapters exchange JSON-RPC 2.0 requests whose method is the operation
// name and whose params are the operation payload. Remote error codes are mapped back onto the
// failure classification used by the resilience layer (see pkg/errors).
package protocol
