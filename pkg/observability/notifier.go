package observability

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/logging"
)

// Notifier delivers events to an Observer on a bounded worker pool. Delivery is fire-and-forget:
// events are dropped when every worker is busy, and a panicking observer is recovered and logged.
type Notifier struct {
	target Observer
	pool   *ants.Pool
	logger logging.Logger

	delivered atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// NewNotifier starts a pool of workers delivering to target
func NewNotifier(target Observer, workers int, logger logging.Logger) (*Notifier, error) {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	n := &Notifier{target: target, logger: logger.WithFields(logging.String("component", "notifier"))}

	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			n.panics.Add(1)
			n.logger.Error("observer panicked", logging.String("panic", fmt.Sprint(p)))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier pool: %w", err)
	}
	n.pool = pool
	return n, nil
}

func (n *Notifier) submit(event string, fn func()) {
	if n.target == nil {
		return
	}
	err := n.pool.Submit(func() {
		fn()
		n.delivered.Add(1)
	})
	if err == nil {
		return
	}
	n.dropped.Add(1)
	if errors.Is(err, ants.ErrPoolOverload) {
		n.logger.Debug("observer event dropped", logging.String("event", event))
		return
	}
	n.logger.Warn("observer event not delivered", logging.String("event", event), logging.ErrorField(err))
}

func (n *Notifier) OnSelection(e SelectionEvent) {
	n.submit("selection", func() { n.target.OnSelection(e) })
}

func (n *Notifier) OnAttempt(e AttemptEvent) {
	n.submit("attempt", func() { n.target.OnAttempt(e) })
}

func (n *Notifier) OnRetry(e RetryEvent) {
	n.submit("retry", func() { n.target.OnRetry(e) })
}

func (n *Notifier) OnCircuitTransition(e CircuitEvent) {
	n.submit("circuit_transition", func() { n.target.OnCircuitTransition(e) })
}

func (n *Notifier) OnCredentialRefresh(e auth.RefreshEvent) {
	n.submit("credential_refresh", func() { n.target.OnCredentialRefresh(e) })
}

func (n *Notifier) OnDispatch(e DispatchEvent) {
	n.submit("dispatch", func() { n.target.OnDispatch(e) })
}

// Delivered returns the number of events an observer finished handling
func (n *Notifier) Delivered() int64 { return n.delivered.Load() }

// Dropped returns the number of events discarded because the pool was saturated or closed
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Panics returns the number of recovered observer panics
func (n *Notifier) Panics() int64 { return n.panics.Load() }

// Close stops accepting events and waits up to timeout for in-flight deliveries
func (n *Notifier) Close(timeout time.Duration) error {
	return n.pool.ReleaseTimeout(timeout)
}
