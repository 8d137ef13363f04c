package observability

import (
	"time"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/auth"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/capability"
	dispatcherrors "github.com/ajitpratap0/agent-dispatch-go/pkg/errors"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
	"github.com/ajitpratap0/agent-dispatch-go/pkg/selector"
)

// Outcome is the terminal state of one dispatch
type Outcome string

const (
	OutcomeSuccess               Outcome = "success"
	OutcomeAggregateFailure      Outcome = "aggregate_failure"
	OutcomeProtocolUnavailable   Outcome = "protocol_unavailable"
	OutcomeValidationError       Outcome = "validation_error"
	OutcomeCancelled             Outcome = "cancelled"
	OutcomeCredentialUnavailable Outcome = "credential_unavailable"
	OutcomeClosed                Outcome = "closed"
)

// SelectionEvent reports the candidate list chosen for an operation
type SelectionEvent struct {
	OperationID string
	Operation   string
	Decision    selector.Decision
	At          time.Time
}

// AttemptEvent reports one execute call on one transport. Attempt is 1-based per transport.
type AttemptEvent struct {
	OperationID string
	Operation   string
	Transport   protocol.TransportKind
	Attempt     int
	Probe       bool
	Duration    time.Duration
	Err         error
	Failure     dispatcherrors.FailureKind
}

// RetryEvent reports a retry about to start on the same transport after Delay
type RetryEvent struct {
	OperationID string
	Operation   string
	Transport   protocol.TransportKind
	Attempt     int
	Delay       time.Duration
	Reason      dispatcherrors.FailureKind
	// CredentialRefresh is set for the extra attempt that follows an auth failure
	CredentialRefresh bool
}

// CircuitEvent reports a circuit-breaker state change
type CircuitEvent struct {
	Service    string
	Transition capability.Transition
}

// DispatchEvent reports the end of a dispatch
type DispatchEvent struct {
	OperationID string
	Operation   string
	// Transport is the transport that produced the result, empty on failure
	Transport protocol.TransportKind
	Attempts  int
	Duration  time.Duration
	Outcome   Outcome
	Err       error
}

// Observer receives engine events. Implementations must not block for long; the dispatcher calls
// them through a Notifier so that a slow or failing observer never affects dispatch.
type Observer interface {
	OnSelection(SelectionEvent)
	OnAttempt(AttemptEvent)
	OnRetry(RetryEvent)
	OnCircuitTransition(CircuitEvent)
	OnCredentialRefresh(auth.RefreshEvent)
	OnDispatch(DispatchEvent)
}

// NopObserver ignores every event. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) OnSelection(SelectionEvent)            {}
func (NopObserver) OnAttempt(AttemptEvent)                {}
func (NopObserver) OnRetry(RetryEvent)                    {}
func (NopObserver) OnCircuitTransition(CircuitEvent)      {}
func (NopObserver) OnCredentialRefresh(auth.RefreshEvent) {}
func (NopObserver) OnDispatch(DispatchEvent)              {}

type multiObserver []Observer

// Multi fans every event out to observers in order
func Multi(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

func (m multiObserver) OnSelection(e SelectionEvent) {
	for _, o := range m {
		o.OnSelection(e)
	}
}

func (m multiObserver) OnAttempt(e AttemptEvent) {
	for _, o := range m {
		o.OnAttempt(e)
	}
}

func (m multiObserver) OnRetry(e RetryEvent) {
	for _, o := range m {
		o.OnRetry(e)
	}
}

func (m multiObserver) OnCircuitTransition(e CircuitEvent) {
	for _, o := range m {
		o.OnCircuitTransition(e)
	}
}

func (m multiObserver) OnCredentialRefresh(e auth.RefreshEvent) {
	for _, o := range m {
		o.OnCredentialRefresh(e)
	}
}

func (m multiObserver) OnDispatch(e DispatchEvent) {
	for _, o := range m {
		o.OnDispatch(e)
	}
}
