package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/config"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/observability"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/transport"
)

// testConfig returns a configuration with fast retries and no metrics or endpoints
func testConfig(kinds ...protocol.TransportKind) config.Config {
	cfg := config.Default()
	cfg.Service = "agents"
	if len(kinds) > 0 {
		cfg.EnabledTransports = kinds
	}
	cfg.MaxRetryAttempts = 0
	cfg.BackoffBaseMs = 1
	cfg.BackoffMaxMs = 2
	cfg.AttemptTimeoutMs = 2000
	cfg.CircuitFailureThreshold = 5
	cfg.CircuitSuccessThreshold = 1
	cfg.CircuitCooldownMs = 60000
	cfg.NotifierWorkers = 64
	cfg.Metrics.Enabled = false
	cfg.Health.Enabled = false
	return cfg
}

func newTestDispatcher(t *testing.T, cfg config.Config, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func newTestOperation(t *testing.T, name string, opts ...protocol.OperationOption) protocol.Operation {
	t.Helper()
	op, err := protocol.NewOperation(name, map[string]string{"input": name}, opts...)
	require.NoError(t, err)
	return op
}

func memoryAdapter(kind protocol.TransportKind, handler transport.Handler) *transport.InMemoryAdapter {
	return transport.NewInMemoryAdapter(kind, handler)
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingObserver keeps selection, dispatch and circuit events
type recordingObserver struct {
	observability.NopObserver

	mu          sync.Mutex
	selections  []observability.SelectionEvent
	dispatches  []observability.DispatchEvent
	transitions []observability.CircuitEvent
}

func (o *recordingObserver) OnSelection(e observability.SelectionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selections = append(o.selections, e)
}

func (o *recordingObserver) OnDispatch(e observability.DispatchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatches = append(o.dispatches, e)
}

func (o *recordingObserver) OnCircuitTransition(e observability.CircuitEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, e)
}

func (o *recordingObserver) Selections() []observability.SelectionEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observability.SelectionEvent(nil), o.selections...)
}

func (o *recordingObserver) Dispatches() []observability.DispatchEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observability.DispatchEvent(nil), o.dispatches...)
}

func (o *recordingObserver) Transitions() []observability.CircuitEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observability.CircuitEvent(nil), o.transitions...)
}
