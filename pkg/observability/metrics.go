package observability

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
)

// MetricsConfig configures the Prometheus observer
type MetricsConfig struct {
	ServiceName string

	// Namespace prefixes every metric (default: agent_dispatch)
	Namespace        string
	Subsystem        string
	HistogramBuckets []float64 // latency buckets in milliseconds

	// Registerer receives the collectors. A fresh registry is created when nil.
	Registerer prometheus.Registerer
	// Gatherer serves /metrics. Defaults to the registry created for Registerer.
	Gatherer prometheus.Gatherer

	// Labels to add to all metrics
	ConstLabels prometheus.Labels
}

// PrometheusObserver records engine events as Prometheus metrics
type PrometheusObserver struct {
	config   MetricsConfig
	gatherer prometheus.Gatherer

	dispatchDuration  *prometheus.HistogramVec
	dispatchTotal     *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec
	attemptTotal      *prometheus.CounterVec
	retryTotal        *prometheus.CounterVec
	selectionTotal    *prometheus.CounterVec
	excludedTotal     *prometheus.CounterVec
	circuitState      *prometheus.GaugeVec
	circuitTransition *prometheus.CounterVec
	refreshTotal      *prometheus.CounterVec
	refreshDuration   prometheus.Histogram

	mu sync.Mutex
}

var circuitStates = []capability.CircuitState{capability.StateClosed, capability.StateOpen, capability.StateHalfOpen}

// NewPrometheusObserver creates the collectors and registers them
func NewPrometheusObserver(config MetricsConfig) (*PrometheusObserver, error) {
	if config.Namespace == "" {
		config.Namespace = "agent_dispatch"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.ConstLabels == nil {
		config.ConstLabels = prometheus.Labels{}
	}
	if config.ServiceName != "" {
		config.ConstLabels["service"] = config.ServiceName
	}
	if config.Registerer == nil {
		registry := prometheus.NewRegistry()
		config.Registerer = registry
		if config.Gatherer == nil {
			config.Gatherer = registry
		}
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	o := &PrometheusObserver{config: config, gatherer: config.Gatherer}
	o.initializeMetrics()
	if err := o.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return o, nil
}

func (o *PrometheusObserver) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   o.config.Namespace,
			Subsystem:   o.config.Subsystem,
			Name:        name,
			Help:        help,
			Buckets:     o.config.HistogramBuckets,
			ConstLabels: o.config.ConstLabels,
		},
		labels,
	)
}

func (o *PrometheusObserver) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   o.config.Namespace,
			Subsystem:   o.config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: o.config.ConstLabels,
		},
		labels,
	)
}

// initializeMetrics creates all metric collectors
func (o *PrometheusObserver) initializeMetrics() {
	o.dispatchDuration = o.histogram("dispatch_duration_milliseconds",
		"Duration of dispatched operations in milliseconds", "operation", "outcome")
	o.dispatchTotal = o.counter("dispatch_total",
		"Total number of dispatched operations", "operation", "outcome", "transport")
	o.attemptDuration = o.histogram("attempt_duration_milliseconds",
		"Duration of transport attempts in milliseconds", "transport", "status")
	o.attemptTotal = o.counter("attempt_total",
		"Total number of transport attempts", "transport", "status")
	o.retryTotal = o.counter("retry_total",
		"Total number of retries on the same transport", "transport", "reason")
	o.selectionTotal = o.counter("selection_total",
		"Number of times a transport was ranked first", "transport")
	o.excludedTotal = o.counter("selection_excluded_total",
		"Number of times a transport was excluded from selection", "transport")
	o.circuitTransition = o.counter("circuit_transitions_total",
		"Total number of circuit-breaker transitions", "transport", "from", "to")
	o.refreshTotal = o.counter("credential_refresh_total",
		"Total number of credential refreshes", "status")

	o.circuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   o.config.Namespace,
			Subsystem:   o.config.Subsystem,
			Name:        "circuit_state",
			Help:        "Current circuit state per transport (1 for the active state)",
			ConstLabels: o.config.ConstLabels,
		},
		[]string{"transport", "state"},
	)
	o.refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   o.config.Namespace,
			Subsystem:   o.config.Subsystem,
			Name:        "credential_refresh_duration_milliseconds",
			Help:        "Duration of credential refreshes in milliseconds",
			Buckets:     o.config.HistogramBuckets,
			ConstLabels: o.config.ConstLabels,
		},
	)
}

// registerMetrics registers all metrics with the configured registerer
func (o *PrometheusObserver) registerMetrics() error {
	collectors := []prometheus.Collector{
		o.dispatchDuration,
		o.dispatchTotal,
		o.attemptDuration,
		o.attemptTotal,
		o.retryTotal,
		o.selectionTotal,
		o.excludedTotal,
		o.circuitState,
		o.circuitTransition,
		o.refreshTotal,
		o.refreshDuration,
	}

	for _, collector := range collectors {
		if err := o.config.Registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func milliseconds(d time.Duration) float64 {
	return d.Seconds() * 1000
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *PrometheusObserver) OnSelection(e SelectionEvent) {
	if len(e.Decision.Candidates) > 0 {
		o.selectionTotal.WithLabelValues(e.Decision.Candidates[0].Kind.String()).Inc()
	}
	for _, ex := range e.Decision.Excluded {
		o.excludedTotal.WithLabelValues(ex.Kind.String()).Inc()
	}
}

func (o *PrometheusObserver) OnAttempt(e AttemptEvent) {
	s := status(e.Err)
	if e.Err != nil && e.Failure != "" {
		s = string(e.Failure)
	}
	o.attemptTotal.WithLabelValues(e.Transport.String(), s).Inc()
	o.attemptDuration.WithLabelValues(e.Transport.String(), s).Observe(milliseconds(e.Duration))
}

func (o *PrometheusObserver) OnRetry(e RetryEvent) {
	reason := string(e.Reason)
	if e.CredentialRefresh {
		reason = "credential_refresh"
	}
	o.retryTotal.WithLabelValues(e.Transport.String(), reason).Inc()
}

// OnCircuitTransition updates the state gauge so that exactly one state per transport reads 1
func (o *PrometheusObserver) OnCircuitTransition(e CircuitEvent) {
	t := e.Transition
	o.circuitTransition.WithLabelValues(t.Kind.String(), string(t.From), string(t.To)).Inc()

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, state := range circuitStates {
		value := 0.0
		if state == t.To {
			value = 1
		}
		o.circuitState.WithLabelValues(t.Kind.String(), string(state)).Set(value)
	}
}

func (o *PrometheusObserver) OnCredentialRefresh(e auth.RefreshEvent) {
	s := status(e.Err)
	if e.Err != nil && e.Reused {
		s = "reused"
	}
	o.refreshTotal.WithLabelValues(s).Inc()
	o.refreshDuration.Observe(milliseconds(e.Duration))
}

func (o *PrometheusObserver) OnDispatch(e DispatchEvent) {
	o.dispatchTotal.WithLabelValues(e.Operation, string(e.Outcome), e.Transport.String()).Inc()
	o.dispatchDuration.WithLabelValues(e.Operation, string(e.Outcome)).Observe(milliseconds(e.Duration))
}

// Handler serves the gathered metrics in the Prometheus exposition format
func (o *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
}
