// Package dispatcher routes agent operations to the best available transport of one target
// service and falls back across transports when an attempt fails.
//
// A Dispatcher owns a single capability profile shared by the selector and by the resilience
// middleware wrapped around every adapter. For each operation it validates the payload, asks the
// selector for an ordered candidate list and tries candidates in order until one succeeds. When
// every candidate fails, the caller receives an AggregateFailure listing the per-transport errors
// and the operation is kept in the dead-letter queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/config"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/observability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/selector"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/transport"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/validation"
)

// notifierCloseTimeout bounds how long Close waits for queued observer events
const notifierCloseTimeout = 5 * time.Second

// Dispatcher submits operations to one target service
type Dispatcher struct {
	config     config.Config
	profile    *capability.Profile
	selector   *selector.Selector
	negotiator *capability.Negotiator
	validator  validation.Validator

	adapters map[protocol.TransportKind]transport.Adapter
	wrapped  map[protocol.TransportKind]transport.Adapter

	credentials       *auth.Coordinator
	tokenSource       auth.TokenSource
	initialCredential *auth.Credential

	observers []observability.Observer
	observer  observability.Observer
	notifier  *observability.Notifier
	metrics   *observability.PrometheusObserver
	tracing   *observability.TracingProvider

	validators  []validation.Validator
	declaration *capability.Declaration
	deadLetters *DeadLetterQueue
	logger      logging.Logger
	now         func() time.Time
	started     time.Time

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// New builds a dispatcher from cfg. Adapters are created for every enabled transport with a
// configured endpoint unless one was supplied with WithAdapter.
func New(cfg config.Config, opts ...Option) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		config:   cfg,
		adapters: make(map[protocol.TransportKind]transport.Adapter),
		wrapped:  make(map[protocol.TransportKind]transport.Adapter),
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithFields(logging.String("service", cfg.Service))
	d.started = d.now()

	negotiator, err := capability.NewNegotiator(cfg.ProtocolConstraints)
	if err != nil {
		return nil, err
	}
	d.negotiator = negotiator

	if err := d.buildAdapters(); err != nil {
		return nil, err
	}
	if err := d.buildObservers(); err != nil {
		_ = d.closeAdapters(context.Background())
		return nil, err
	}

	// hooks read d.observer when they fire, after construction has finished
	d.profile = capability.NewProfile(cfg.Service, capability.BreakerSettings{
		FailureThreshold: cfg.CircuitFailureThreshold,
		SuccessThreshold: cfg.CircuitSuccessThreshold,
		Cooldown:         cfg.CircuitCooldown(),
	}, capability.WithTransitionHook(func(t capability.Transition) {
		d.observer.OnCircuitTransition(observability.CircuitEvent{Service: cfg.Service, Transition: t})
	}))

	if source := d.credentialSource(); source != nil {
		d.credentials = auth.NewCoordinator(source,
			auth.WithRefreshSkew(cfg.CredentialRefreshSkew()),
			auth.WithRefreshTimeout(cfg.CredentialRefreshTimeout()),
			auth.WithInitialCredential(d.initialCredential),
			auth.WithClock(d.now),
			auth.WithRefreshHook(func(e auth.RefreshEvent) {
				d.observer.OnCredentialRefresh(e)
			}),
		)
	}

	d.selector = &selector.Selector{
		Priority:        cfg.TransportPriority,
		AutoSelection:   cfg.AutoSelection,
		LastResortProbe: cfg.LastResortProbe,
	}
	d.validator = validation.Chain(append([]validation.Validator{validation.NewDefaultValidator(cfg.MaxPayloadBytes)}, d.validators...)...)
	d.deadLetters = NewDeadLetterQueue(cfg.DeadLetterCapacity)

	builder := transport.NewMiddlewareBuilder(transport.ReliabilityConfig{
		MaxRetries:         cfg.MaxRetryAttempts,
		InitialRetryDelay:  cfg.BackoffBase(),
		MaxRetryDelay:      cfg.BackoffMax(),
		RetryBackoffFactor: cfg.BackoffMultiplier,
		AttemptTimeout:     cfg.AttemptTimeout(),
	}, d.profile).
		WithCredentials(d.credentials).
		WithObserver(d.observer).
		WithLogger(d.logger).
		WithClock(d.now)
	if d.tracing != nil {
		builder = builder.WithTracer(d.tracing.Tracer())
	}
	for kind, adapter := range d.adapters {
		d.wrapped[kind] = builder.Wrap(adapter)
	}

	if d.declaration != nil {
		if _, err := d.UpdateCapabilities(*d.declaration); err != nil {
			_ = d.Close(context.Background())
			return nil, err
		}
	} else {
		kinds := make([]protocol.TransportKind, 0, len(d.adapters))
		for kind := range d.adapters {
			kinds = append(kinds, kind)
		}
		d.profile.ApplyDeclaration(capability.DeclarationOf(cfg.Service, kinds...))
	}

	d.logger.Info("dispatcher ready",
		logging.Any("transports", d.Transports()),
		logging.Bool("credentials", d.credentials != nil),
	)
	return d, nil
}

// buildAdapters creates an adapter for every enabled transport that has an endpoint and no
// adapter supplied by option
func (d *Dispatcher) buildAdapters() error {
	for kind, adapter := range d.adapters {
		if !d.config.Enabled(kind) || !adapter.Supports(kind) {
			delete(d.adapters, kind)
		}
	}

	for _, kind := range d.config.EnabledTransports {
		if _, ok := d.adapters[kind]; ok {
			continue
		}
		endpoint := d.config.Transports.Endpoint(kind)
		if endpoint.URL == "" {
			d.logger.Debug("transport enabled without endpoint", logging.String("transport", kind.String()))
			continue
		}

		adapterConfig := transport.DefaultAdapterConfig(kind)
		adapterConfig.Endpoint = endpoint.URL
		for key, value := range endpoint.Headers {
			adapterConfig.Headers[key] = value
		}
		if endpoint.SubjectPrefix != "" {
			adapterConfig.SubjectPrefix = endpoint.SubjectPrefix
		}
		adapterConfig.Connection.Timeout = d.config.AttemptTimeout()
		adapterConfig.Logger = d.logger

		adapter, err := transport.NewAdapter(adapterConfig)
		if err != nil {
			_ = d.closeAdapters(context.Background())
			return fmt.Errorf("transport %s: %w", kind, err)
		}
		d.adapters[kind] = adapter
	}
	return nil
}

// buildObservers wires the log, metrics and user observers behind the async notifier
func (d *Dispatcher) buildObservers() error {
	observers := []observability.Observer{observability.NewLogObserver(d.logger)}

	if d.metrics == nil && d.config.Metrics.Enabled {
		metrics, err := observability.NewPrometheusObserver(observability.MetricsConfig{
			ServiceName: d.config.Service,
			Namespace:   d.config.Metrics.Namespace,
		})
		if err != nil {
			return err
		}
		d.metrics = metrics
	}
	if d.metrics != nil {
		observers = append(observers, d.metrics)
	}
	observers = append(observers, d.observers...)

	if d.tracing == nil && d.config.Tracing.Enabled {
		provider, err := observability.NewTracingProvider(observability.TracingConfig{
			ServiceName:   "agent-dispatch",
			TargetService: d.config.Service,
			ExporterType:  observability.ExporterType(d.config.Tracing.Exporter),
			Endpoint:      d.config.Tracing.Endpoint,
			Insecure:      d.config.Tracing.Insecure,
			SampleRate:    d.config.Tracing.SampleRatio,
		})
		if err != nil {
			return err
		}
		d.tracing = provider
	}

	notifier, err := observability.NewNotifier(observability.Multi(observers...), d.config.NotifierWorkers, d.logger)
	if err != nil {
		return err
	}
	d.notifier = notifier
	d.observer = notifier
	return nil
}

// credentialSource picks the token source: an explicit option first, then the configured static
// token, JWT file or token endpoint
func (d *Dispatcher) credentialSource() auth.TokenSource {
	if d.tokenSource != nil {
		return d.tokenSource
	}
	creds := d.config.Credentials
	switch {
	case creds.Token != "":
		return auth.StaticTokenSource{Value: creds.Token, TTL: time.Duration(creds.TokenTTLMs) * time.Millisecond}
	case creds.JWTFile != "":
		return auth.NewFileJWTSource(creds.JWTFile)
	case creds.Endpoint != "":
		return auth.NewEndpointTokenSource(creds.Endpoint, creds.ClientID, creds.ClientSecret)
	default:
		return nil
	}
}

// enter registers an in-flight call, failing once the dispatcher is closed
func (d *Dispatcher) enter() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.inflight.Add(1)
	return true
}

// Dispatch builds an operation from name and payload and submits it
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload interface{}, opts ...protocol.OperationOption) (*protocol.Result, error) {
	op, err := protocol.NewOperation(name, payload, opts...)
	if err != nil {
		return nil, err
	}
	return d.Submit(ctx, op)
}

// Submit runs op on the selected transports in order until one succeeds. Transport failures are
// absorbed as fallbacks; the caller only sees validation errors, ProtocolUnavailable,
// CredentialUnavailable, cancellation, or an AggregateFailure once every candidate failed.
func (d *Dispatcher) Submit(ctx context.Context, op protocol.Operation) (*protocol.Result, error) {
	if !d.enter() {
		return nil, dispatcherrors.DispatcherClosed()
	}
	defer d.inflight.Done()

	start := d.now()
	ctx, attempts := transport.ContextWithAttemptCounter(ctx)
	finish := func(kind protocol.TransportKind, outcome observability.Outcome, err error) {
		event := observability.DispatchEvent{
			OperationID: op.ID(),
			Operation:   op.Name(),
			Transport:   kind,
			Attempts:    int(attempts.Load()),
			Duration:    d.now().Sub(start),
			Outcome:     outcome,
			Err:         err,
		}
		observability.AnnotateDispatch(trace.SpanFromContext(ctx), event)
		d.observer.OnDispatch(event)
	}

	sanitized, err := d.validator.Validate(ctx, op)
	if err != nil {
		finish("", observability.OutcomeValidationError, err)
		return nil, err
	}
	op = sanitized

	if d.tracing != nil {
		var span trace.Span
		ctx, span = d.tracing.StartOperationSpan(ctx, op.Name(), op.ID())
		defer span.End()
	}

	d.profile.Advance(d.now())
	decision := d.selector.Select(d.profile.Snapshot(), op)
	d.observer.OnSelection(observability.SelectionEvent{
		OperationID: op.ID(),
		Operation:   op.Name(),
		Decision:    decision,
		At:          d.now(),
	})

	if decision.Empty() {
		err := dispatcherrors.ProtocolUnavailable(op.Name(), decision.Reasons())
		finish("", observability.OutcomeProtocolUnavailable, err)
		return nil, err
	}

	candidates := decision.Candidates
	if !d.config.FallbackEnabled {
		candidates = candidates[:1]
	}

	logger := d.logger.WithFields(
		logging.String("operation_id", op.ID()),
		logging.String("operation", op.Name()),
	)

	var failures []dispatcherrors.Attempt
	for i, candidate := range candidates {
		adapter, ok := d.wrapped[candidate.Kind]
		if !ok {
			failures = append(failures, dispatcherrors.Attempt{
				Transport: candidate.Kind,
				Err:       dispatcherrors.Unsupported(candidate.Kind, "no adapter configured"),
			})
			continue
		}

		execCtx := ctx
		if candidate.LastResort {
			execCtx = transport.ContextWithLastResort(ctx)
		}

		payload, err := adapter.Execute(execCtx, op)
		if err == nil {
			result := &protocol.Result{
				OperationID: op.ID(),
				Transport:   candidate.Kind,
				Payload:     payload,
				Attempts:    int(attempts.Load()),
				Duration:    d.now().Sub(start),
			}
			finish(candidate.Kind, observability.OutcomeSuccess, nil)
			return result, nil
		}

		if ctx.Err() != nil {
			err := dispatcherrors.OperationCancelled(op.Name(), ctx.Err())
			finish("", observability.OutcomeCancelled, err)
			return nil, err
		}
		if dispatcherrors.IsCode(err, dispatcherrors.CodeCredentialUnavailable) {
			finish("", observability.OutcomeCredentialUnavailable, err)
			return nil, err
		}

		failures = append(failures, dispatcherrors.Attempt{Transport: candidate.Kind, Err: err})
		if i < len(candidates)-1 {
			logger.Debug("falling back to next transport",
				logging.String("failed", candidate.Kind.String()),
				logging.String("next", candidates[i+1].Kind.String()),
				logging.String("failure", string(dispatcherrors.Classify(err))),
			)
		}
	}

	agg := dispatcherrors.NewAggregateFailure(op.Name(), failures)
	d.deadLetters.Push(DeadLetter{Operation: op, Err: agg, At: d.now()})
	finish("", observability.OutcomeAggregateFailure, agg)
	return nil, agg
}

// BatchResult is the outcome of one operation of SubmitAll
type BatchResult struct {
	Result *protocol.Result
	Err    error
}

// SubmitAll submits ops concurrently, at most max_concurrency at a time, and returns their
// outcomes in input order. One failure does not stop the others.
func (d *Dispatcher) SubmitAll(ctx context.Context, ops []protocol.Operation) []BatchResult {
	results := make([]BatchResult, len(ops))

	var group errgroup.Group
	group.SetLimit(d.config.MaxConcurrency)
	for i, op := range ops {
		group.Go(func() error {
			result, err := d.Submit(ctx, op)
			results[i] = BatchResult{Result: result, Err: err}
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// UpdateCapabilities replaces the supported transport set with decl. Declared versions are checked
// against the configured protocol constraints, and transports without an adapter stay
// unsupported. It returns the transports dropped by negotiation.
func (d *Dispatcher) UpdateCapabilities(decl capability.Declaration) ([]capability.Rejection, error) {
	if err := decl.Validate(); err != nil {
		return nil, err
	}

	negotiated, rejections := d.negotiator.Negotiate(decl)
	for kind, td := range negotiated.Transports {
		if _, ok := d.adapters[kind]; !ok && td.Supported {
			td.Supported = false
			negotiated.Transports[kind] = td
			rejections = append(rejections, capability.Rejection{Kind: kind, Reason: "no adapter configured"})
		}
	}
	d.profile.ApplyDeclaration(negotiated)

	for _, r := range rejections {
		d.logger.Warn("transport rejected",
			logging.String("transport", r.Kind.String()),
			logging.String("reason", r.Reason),
		)
	}
	d.logger.Info("capabilities updated", logging.Any("transports", d.Transports()))
	return rejections, nil
}

// Watch applies every declaration delivered by feed until ctx ends or the feed closes
func (d *Dispatcher) Watch(ctx context.Context, feed capability.Feed) error {
	updates, err := feed.Watch(ctx)
	if err != nil {
		return err
	}
	for decl := range updates {
		if _, err := d.UpdateCapabilities(decl); err != nil {
			d.logger.Warn("ignoring invalid capability declaration", logging.ErrorField(err))
		}
	}
	return ctx.Err()
}

// Transports returns the currently supported transports in identifier order
func (d *Dispatcher) Transports() []protocol.TransportKind {
	if d.profile == nil {
		return nil
	}
	snap := d.profile.Snapshot()
	var kinds []protocol.TransportKind
	for _, kind := range snap.Kinds() {
		if snap.Get(kind).Supported {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Profile returns the live capability profile
func (d *Dispatcher) Profile() *capability.Profile {
	return d.profile
}

// Service returns the name of the target service
func (d *Dispatcher) Service() string {
	return d.config.Service
}

// Uptime returns the time since the dispatcher was created
func (d *Dispatcher) Uptime() time.Duration {
	return d.now().Sub(d.started)
}

// DeadLetters returns the dead-letter queue
func (d *Dispatcher) DeadLetters() *DeadLetterQueue {
	return d.deadLetters
}

// Metrics returns the Prometheus observer, nil when metrics are disabled
func (d *Dispatcher) Metrics() *observability.PrometheusObserver {
	return d.metrics
}

// Credentials returns the credential coordinator, nil when no token source is configured
func (d *Dispatcher) Credentials() *auth.Coordinator {
	return d.credentials
}

// Close stops accepting operations, waits for in-flight ones, then releases adapters, the
// credential coordinator, the notifier and the tracing provider
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for in-flight operations: %w", ctx.Err()))
	}

	errs = append(errs, d.closeAdapters(ctx))
	if d.credentials != nil {
		d.credentials.Close()
	}
	if d.notifier != nil {
		if err := d.notifier.Close(notifierCloseTimeout); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
	}
	if d.tracing != nil {
		if err := d.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
	}

	d.logger.Info("dispatcher closed")
	return errors.Join(errs...)
}

// closeAdapters closes every adapter concurrently
func (d *Dispatcher) closeAdapters(ctx context.Context) error {
	var group errgroup.Group
	for kind, adapter := range d.adapters {
		group.Go(func() error {
			if err := adapter.Close(ctx); err != nil {
				return fmt.Errorf("close %s adapter: %w", kind, err)
			}
			return nil
		})
	}
	return group.Wait()
}
