package transport

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/observability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// TracingMiddleware opens one client span per attempt. It sits inside the reliability middleware,
// so retries appear as sibling spans under the operation span.
type TracingMiddleware struct {
	tracer trace.Tracer
	logger logging.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(tracer trace.Tracer, logger logging.Logger) *TracingMiddleware {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TracingMiddleware{tracer: tracer, logger: logger}
}

// Wrap implements the Middleware interface
func (tm *TracingMiddleware) Wrap(adapter Adapter) Adapter {
	return &tracingAdapter{
		middlewareAdapter: middlewareAdapter{next: adapter},
		middleware:        tm,
	}
}

type tracingAdapter struct {
	middlewareAdapter
	middleware *TracingMiddleware
}

// Execute wraps the underlying Execute in a span
func (ta *tracingAdapter) Execute(ctx context.Context, op protocol.Operation) (json.RawMessage, error) {
	kind := ta.Kind()
	attempt := AttemptFromContext(ctx)

	ctx, span := ta.middleware.tracer.Start(ctx, "attempt "+kind.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			observability.AttrOperation.String(op.Name()),
			observability.AttrOperationID.String(op.ID()),
			observability.AttrTransport.String(kind.String()),
			observability.AttrAttempt.Int(attempt.Number),
		),
	)
	defer span.End()

	result, err := ta.middlewareAdapter.Execute(ctx, op)
	if err != nil {
		failure := dispatcherrors.Classify(err)
		span.SetAttributes(observability.AttrFailure.String(string(failure)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ta.middleware.logger.Debug("attempt span failed",
			logging.String("transport", kind.String()),
			logging.String("operation_id", op.ID()),
			logging.Int("attempt", attempt.Number),
			logging.String("failure", string(failure)))
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}
