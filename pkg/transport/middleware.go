package transport

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/observability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// Middleware represents an adapter middleware that can wrap an adapter
// to add additional functionality like reliability, tracing, etc.
type Middleware interface {
	// Wrap wraps the given adapter with middleware functionality
	Wrap(adapter Adapter) Adapter
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Adapter) Adapter

// Wrap implements the Middleware interface
func (f MiddlewareFunc) Wrap(a Adapter) Adapter {
	return f(a)
}

// ChainMiddleware chains multiple middleware together
func ChainMiddleware(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(adapter Adapter) Adapter {
		// Apply middleware in reverse order so the first middleware is the outermost
		for i := len(middleware) - 1; i >= 0; i-- {
			if middleware[i] == nil {
				continue
			}
			adapter = middleware[i].Wrap(adapter)
		}
		return adapter
	})
}

// middlewareAdapter is a base type for middleware implementations
type middlewareAdapter struct {
	next Adapter
}

// Kind delegates to the wrapped adapter
func (m *middlewareAdapter) Kind() protocol.TransportKind {
	return m.next.Kind()
}

// Supports delegates to the wrapped adapter
func (m *middlewareAdapter) Supports(kind protocol.TransportKind) bool {
	return m.next.Supports(kind)
}

// Execute delegates to the wrapped adapter
func (m *middlewareAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	return m.next.Execute(ctx, op)
}

// Close delegates to the wrapped adapter
func (m *middlewareAdapter) Close(ctx context.Context) error {
	return m.next.Close(ctx)
}

// Unwrap returns the wrapped adapter
func (m *middlewareAdapter) Unwrap() Adapter {
	return m.next
}

// MiddlewareBuilder builds the per-adapter middleware chain from the dispatcher's collaborators
type MiddlewareBuilder struct {
	reliability ReliabilityConfig
	profile     *capability.Profile
	credentials *auth.Coordinator
	observer    observability.Observer
	tracer      trace.Tracer
	logger      logging.Logger
	now         func() time.Time
}

// NewMiddlewareBuilder creates a new middleware builder
func NewMiddlewareBuilder(reliability ReliabilityConfig, profile *capability.Profile) *MiddlewareBuilder {
	return &MiddlewareBuilder{reliability: reliability, profile: profile}
}

// WithCredentials attaches the coordinator used for authenticated attempts
func (mb *MiddlewareBuilder) WithCredentials(coordinator *auth.Coordinator) *MiddlewareBuilder {
	mb.credentials = coordinator
	return mb
}

// WithObserver attaches the observer notified of retries and attempts
func (mb *MiddlewareBuilder) WithObserver(observer observability.Observer) *MiddlewareBuilder {
	mb.observer = observer
	return mb
}

// WithTracer enables a span per attempt
func (mb *MiddlewareBuilder) WithTracer(tracer trace.Tracer) *MiddlewareBuilder {
	mb.tracer = tracer
	return mb
}

// WithLogger sets the logger passed to each middleware
func (mb *MiddlewareBuilder) WithLogger(logger logging.Logger) *MiddlewareBuilder {
	mb.logger = logger
	return mb
}

// WithClock sets the time source used for circuit bookkeeping
func (mb *MiddlewareBuilder) WithClock(now func() time.Time) *MiddlewareBuilder {
	mb.now = now
	return mb
}

// Build constructs the middleware chain, outermost first
func (mb *MiddlewareBuilder) Build() []Middleware {
	var middleware []Middleware

	// Reliability is outermost so that every retry gets its own attempt span
	opts := []ReliabilityOption{WithObserver(mb.observer), WithLogger(mb.logger)}
	if mb.credentials != nil {
		opts = append(opts, WithCredentials(mb.credentials))
	}
	if mb.now != nil {
		opts = append(opts, WithClock(mb.now))
	}
	middleware = append(middleware, NewReliabilityMiddleware(mb.reliability, mb.profile, opts...))

	if mb.tracer != nil {
		middleware = append(middleware, NewTracingMiddleware(mb.tracer, mb.logger))
	}

	return middleware
}

// Wrap applies the built chain to adapter
func (mb *MiddlewareBuilder) Wrap(adapter Adapter) Adapter {
	return ChainMiddleware(mb.Build()...).Wrap(adapter)
}
