package dispatcher

import (
	"time"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/observability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/transport"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/validation"
)

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the structured logger
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver adds an observer. Observers are called asynchronously through the notifier.
func WithObserver(observer observability.Observer) Option {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observers = append(d.observers, observer)
		}
	}
}

// WithAdapter registers adapter for its kind, replacing the one the configuration would build
func WithAdapter(adapter transport.Adapter) Option {
	return func(d *Dispatcher) {
		if adapter != nil {
			d.adapters[adapter.Kind()] = adapter
		}
	}
}

// WithTokenSource sets the credential source, taking precedence over the configured one
func WithTokenSource(source auth.TokenSource) Option {
	return func(d *Dispatcher) {
		d.tokenSource = source
	}
}

// WithInitialCredential seeds the credential coordinator
func WithInitialCredential(cred *auth.Credential) Option {
	return func(d *Dispatcher) {
		d.initialCredential = cred
	}
}

// WithValidator appends v to the validation chain, after the structural checks
func WithValidator(v validation.Validator) Option {
	return func(d *Dispatcher) {
		if v != nil {
			d.validators = append(d.validators, v)
		}
	}
}

// WithDeclaration sets the initial capability declaration. Without one, every configured
// adapter is considered supported.
func WithDeclaration(decl capability.Declaration) Option {
	return func(d *Dispatcher) {
		d.declaration = &decl
	}
}

// WithMetrics uses metrics instead of creating a Prometheus observer from the configuration
func WithMetrics(metrics *observability.PrometheusObserver) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithTracing uses provider instead of creating one from the configuration
func WithTracing(provider *observability.TracingProvider) Option {
	return func(d *Dispatcher) {
		d.tracing = provider
	}
}

// WithClock overrides the time source used for circuit cooldowns and credential expiry
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}
