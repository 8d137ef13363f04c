package errors

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// ProtocolUnavailable creates the error returned when no transport can carry an operation
func ProtocolUnavailable(operation string, reasons []string) DispatchError {
	err := NewError(
		CodeProtocolUnavailable,
		fmt.Sprintf("no transport available for %s", operation),
		CategoryDispatch,
		SeverityError,
	)
	if len(reasons) > 0 {
		err = err.WithDetail(strings.Join(reasons, "; "))
	}
	return err
}

// CircuitOpen creates the error for a candidate skipped because its circuit is open
func CircuitOpen(transport protocol.TransportKind, openedAt time.Time) DispatchError {
	return NewError(
		CodeCircuitOpen,
		fmt.Sprintf("%s circuit is open", transport),
		CategoryCircuit,
		SeverityWarning,
	).WithData(map[string]interface{}{
		"transport": string(transport),
		"opened_at": openedAt,
	})
}

// CredentialUnavailable creates the error returned when no credential could ever be obtained
func CredentialUnavailable(cause error) DispatchError {
	return WrapError(cause, CodeCredentialUnavailable, fmt.Sprintf("credential unavailable: %s", reason(cause)),
		CategoryAuth, SeverityCritical)
}

// OperationCancelled creates the error returned when the caller abandons an operation
func OperationCancelled(operation string, cause error) DispatchError {
	return WrapError(cause, CodeOperationCancelled, fmt.Sprintf("operation %s cancelled", operation),
		CategoryCancelled, SeverityInfo)
}

// DispatcherClosed creates the error returned by a dispatcher after shutdown
func DispatcherClosed() DispatchError {
	return NewError(CodeDispatcherClosed, "dispatcher is closed", CategoryDispatch, SeverityError)
}

// Attempt is one transport's contribution to an AggregateFailure
type Attempt struct {
	Transport protocol.TransportKind `json:"transport"`
	Err       error                  `json:"-"`
}

// AggregateFailure is returned when every candidate transport failed. Attempts are kept in the
// order the transports were tried.
type AggregateFailure struct {
	DispatchError
	Attempts []Attempt
}

// NewAggregateFailure builds an AggregateFailure for an operation
func NewAggregateFailure(operation string, attempts []Attempt) *AggregateFailure {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Transport, a.Err))
	}
	base := NewError(
		CodeAggregateFailure,
		fmt.Sprintf("all %d candidate transports failed for %s", len(attempts), operation),
		CategoryDispatch,
		SeverityError,
	)
	if len(parts) > 0 {
		base = base.WithDetail(strings.Join(parts, "; "))
	}
	return &AggregateFailure{
		DispatchError: base,
		Attempts:      append([]Attempt(nil), attempts...),
	}
}

// Errors returns the per-transport errors in attempt order
func (a *AggregateFailure) Errors() []error {
	errs := make([]error, 0, len(a.Attempts))
	for _, attempt := range a.Attempts {
		errs = append(errs, attempt.Err)
	}
	return errs
}

// Transports returns the transports in attempt order
func (a *AggregateFailure) Transports() []protocol.TransportKind {
	kinds := make([]protocol.TransportKind, 0, len(a.Attempts))
	for _, attempt := range a.Attempts {
		kinds = append(kinds, attempt.Transport)
	}
	return kinds
}

// ToJSON includes the per-transport errors
func (a *AggregateFailure) ToJSON() map[string]interface{} {
	result := a.DispatchError.ToJSON()
	attempts := make([]map[string]interface{}, 0, len(a.Attempts))
	for _, attempt := range a.Attempts {
		entry := map[string]interface{}{"transport": string(attempt.Transport)}
		if attempt.Err != nil {
			entry["error"] = attempt.Err.Error()
			entry["classification"] = string(Classify(attempt.Err))
		}
		attempts = append(attempts, entry)
	}
	result["attempts"] = attempts
	return result
}
