// Package observability reports what the dispatch engine does. Engine events reach an Observer
// through a Notifier; LogObserver and PrometheusObserver are the built-in observers, and
// TracingProvider configures OpenTelemetry for the per-operation and per-attempt spans.
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures OpenTelemetry tracing
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// TargetService is the remote service recorded on operation spans. Defaults to ServiceName.
	TargetService string

	ExporterType ExporterType
	Endpoint     string // OTLP endpoint
	Headers      map[string]string
	Insecure     bool

	// SampleRate applies to root spans; child spans follow their parent
	SampleRate float64
	// AlwaysSample and NeverSample override SampleRate for the named operations
	AlwaysSample []string
	NeverSample  []string

	BatchTimeout time.Duration
	MaxBatchSize int
	MaxQueueSize int

	ResourceAttributes map[string]string

	// SpanProcessors are registered next to the exporter's batcher
	SpanProcessors []sdktrace.SpanProcessor
}

// ExporterType defines the type of trace exporter
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"

	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"

	// ExporterTypeNoop records spans for the configured processors only
	ExporterTypeNoop ExporterType = "noop"
)

// TracerName is the instrumentation name of every span the engine starts
const TracerName = "github.com/ajitpratap0/agent-dispatch-go"

// Span attribute keys
const (
	AttrOperation   = attribute.Key("dispatch.operation")
	AttrOperationID = attribute.Key("dispatch.operation_id")
	AttrService     = attribute.Key("dispatch.service")
	AttrTransport   = attribute.Key("dispatch.transport")
	AttrAttempt     = attribute.Key("dispatch.attempt")
	AttrAttempts    = attribute.Key("dispatch.attempts")
	AttrOutcome     = attribute.Key("dispatch.outcome")
	AttrFailure     = attribute.Key("dispatch.failure")
)

// TracingProvider owns the SDK tracer provider behind the dispatch spans. It installs itself as
// the global provider together with a W3C trace-context propagator, which the rpc and bus
// adapters use to forward the trace to the remote agent.
type TracingProvider struct {
	config   TracingConfig
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer

	mu       sync.Mutex
	shutdown bool
}

// NewTracingProvider creates a tracing provider
func NewTracingProvider(config TracingConfig) (*TracingProvider, error) {
	if config.ServiceName == "" {
		config.ServiceName = "agent-dispatch"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = "unknown"
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.TargetService == "" {
		config.TargetService = config.ServiceName
	}
	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = 5 * time.Second
	}
	if config.MaxBatchSize == 0 {
		config.MaxBatchSize = 512
	}
	if config.MaxQueueSize == 0 {
		config.MaxQueueSize = 2048
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(newResource(config)),
		sdktrace.WithSampler(sdktrace.ParentBased(newOperationSampler(config))),
	}

	exporter, err := newExporter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(config.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(config.MaxBatchSize),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
		))
	}
	for _, sp := range config.SpanProcessors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingProvider{
		config:   config,
		provider: tp,
		tracer:   tp.Tracer(TracerName),
	}, nil
}

func newResource(config TracingConfig) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	for k, v := range config.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// newExporter returns nil for the noop exporter
func newExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case ExporterTypeNoop, "":
		return nil, nil
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(config.Endpoint),
			otlptracegrpc.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(config.Endpoint),
			otlptracehttp.WithHeaders(config.Headers),
		}
		if config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", config.ExporterType)
	}
}

// Tracer returns the tracer used for engine spans
func (tp *TracingProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// StartOperationSpan starts the client span covering one dispatch
func (tp *TracingProvider) StartOperationSpan(ctx context.Context, operation, operationID string) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, "dispatch."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String(operation),
			AttrOperationID.String(operationID),
			AttrService.String(tp.config.TargetService),
		),
	)
}

// RecordError marks the span in ctx as failed
func (tp *TracingProvider) RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Shutdown flushes pending spans and stops the provider. Later calls do nothing.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.shutdown {
		return nil
	}
	tp.shutdown = true
	return tp.provider.Shutdown(ctx)
}

// AnnotateDispatch records the outcome of a dispatch on its operation span
func AnnotateDispatch(span trace.Span, e DispatchEvent) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(AttrOutcome.String(string(e.Outcome)), AttrAttempts.Int(e.Attempts))
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, string(e.Outcome))
		return
	}
	span.SetAttributes(AttrTransport.String(e.Transport.String()))
	span.SetStatus(codes.Ok, "")
}

// operationSampler applies per-operation overrides before the ratio
type operationSampler struct {
	ratio  sdktrace.Sampler
	always map[string]bool
	never  map[string]bool
	rate   float64
}

func newOperationSampler(config TracingConfig) sdktrace.Sampler {
	var ratio sdktrace.Sampler
	switch {
	case config.SampleRate >= 1:
		ratio = sdktrace.AlwaysSample()
	case config.SampleRate <= 0:
		ratio = sdktrace.NeverSample()
	default:
		ratio = sdktrace.TraceIDRatioBased(config.SampleRate)
	}
	if len(config.AlwaysSample) == 0 && len(config.NeverSample) == 0 {
		return ratio
	}

	s := &operationSampler{ratio: ratio, always: map[string]bool{}, never: map[string]bool{}, rate: config.SampleRate}
	for _, name := range config.AlwaysSample {
		s.always[name] = true
	}
	for _, name := range config.NeverSample {
		s.never[name] = true
	}
	return s
}

func (s *operationSampler) ShouldSample(params sdktrace.SamplingParameters) sdktrace.SamplingResult {
	operation := params.Name
	for _, attr := range params.Attributes {
		if attr.Key == AttrOperation {
			operation = attr.Value.AsString()
			break
		}
	}
	psc := trace.SpanContextFromContext(params.ParentContext)
	switch {
	case s.always[operation]:
		return sdktrace.SamplingResult{Decision: sdktrace.RecordAndSample, Tracestate: psc.TraceState()}
	case s.never[operation]:
		return sdktrace.SamplingResult{Decision: sdktrace.Drop, Tracestate: psc.TraceState()}
	}
	return s.ratio.ShouldSample(params)
}

func (s *operationSampler) Description() string {
	return fmt.Sprintf("OperationSampler{rate=%.2f,always=%d,never=%d}", s.rate, len(s.always), len(s.never))
}
