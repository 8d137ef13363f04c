package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Handler produces the outcome of one attempt of an in-memory adapter. attempt is the 1-based
// count of Execute calls the adapter has received.
type Handler func(ctx context.Context, op protocol.Operation, attempt int) (json.RawMessage, error)

// InMemoryAdapter is an adapter whose outcomes are produced by a Handler. It is used for tests and
// for embedding local agents behind the dispatcher.
type InMemoryAdapter struct {
	kind protocol.TransportKind

	mu      sync.Mutex
	handler Handler
	ops     []protocol.Operation
	closed  bool
}

// NewInMemoryAdapter creates an adapter of kind answering with handler
func NewInMemoryAdapter(kind protocol.TransportKind, handler Handler) *InMemoryAdapter {
	return &InMemoryAdapter{kind: kind, handler: handler}
}

// Kind returns the kind the adapter was created with
func (a *InMemoryAdapter) Kind() protocol.TransportKind { return a.kind }

// Supports reports whether kind is the adapter's kind
func (a *InMemoryAdapter) Supports(kind protocol.TransportKind) bool { return kind == a.kind }

// SetHandler replaces the handler for subsequent calls
func (a *InMemoryAdapter) SetHandler(handler Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = handler
}

// Execute records op and runs the handler
func (a *InMemoryAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, classifyError(ctx, a.kind, "memory", ErrAdapterClosed)
	}
	a.ops = append(a.ops, op)
	attempt := len(a.ops)
	handler := a.handler
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, classifyError(ctx, a.kind, "memory", err)
	}
	if handler == nil {
		return nil, nil
	}
	result, err := handler(ctx, op, attempt)
	if err != nil {
		return nil, classifyError(ctx, a.kind, "memory", err)
	}
	return result, nil
}

// Calls returns the number of Execute calls received
func (a *InMemoryAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.ops)
}

// Operations returns the operations received, in order
func (a *InMemoryAdapter) Operations() []protocol.Operation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.Operation(nil), a.ops...)
}

// Close marks the adapter closed
func (a *InMemoryAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Respond returns a handler that always succeeds with result
func Respond(result json.RawMessage) Handler {
	return func(context.Context, protocol.Operation, int) (json.RawMessage, error) {
		return result, nil
	}
}

// Fail returns a handler that always fails with err
func Fail(err error) Handler {
	return func(context.Context, protocol.Operation, int) (json.RawMessage, error) {
		return nil, err
	}
}

// Sequence returns a handler that runs handlers in turn, repeating the last one once exhausted
func Sequence(handlers ...Handler) Handler {
	return func(ctx context.Context, op protocol.Operation, attempt int) (json.RawMessage, error) {
		if len(handlers) == 0 {
			return nil, nil
		}
		i := attempt - 1
		if i >= len(handlers) {
			i = len(handlers) - 1
		}
		return handlers[i](ctx, op, attempt)
	}
}
