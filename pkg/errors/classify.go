package errors

import (
	"context"
	stderrors "errors"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// FailureKind is the classification every transport failure is reduced to. The classification,
// not the raw error, drives retry and circuit-breaker decisions.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureTimeout        FailureKind = "timeout"
	FailureConnection     FailureKind = "connection_failure"
	FailureAuth           FailureKind = "auth_failure"
	FailureRemoteRejected FailureKind = "remote_rejected"
	FailureUnsupported    FailureKind = "unsupported"
	// FailureCancelled marks a caller-initiated cancellation. It is never a transport fault.
	FailureCancelled FailureKind = "cancelled"
)

// Retryable reports whether the resilience layer may retry the same transport after this failure.
func (k FailureKind) Retryable() bool {
	return k == FailureTimeout || k == FailureConnection
}

// Fatal reports whether the failure ends all attempts on the transport that produced it.
func (k FailureKind) Fatal() bool {
	return k == FailureRemoteRejected || k == FailureUnsupported
}

var codeKinds = map[int]FailureKind{
	CodeTimeout:            FailureTimeout,
	CodeConnectionFailure:  FailureConnection,
	CodeAuthFailure:        FailureAuth,
	CodeRemoteRejected:     FailureRemoteRejected,
	CodeUnsupported:        FailureUnsupported,
	CodeOperationCancelled: FailureCancelled,
}

// Classify reduces err to a FailureKind. Deadline errors are timeouts and cancellations are
// cancellations. Adapter errors that carry no classification are treated as connection failures,
// since nothing is known about whether the remote saw the request.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if de, ok := AsDispatchError(err); ok {
		if kind, found := codeKinds[de.Code()]; found {
			return kind
		}
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case stderrors.Is(err, context.Canceled):
		return FailureCancelled
	}
	var remote *protocol.Error
	if stderrors.As(err, &remote) {
		return KindForRemoteCode(remote.Code)
	}
	return FailureConnection
}

// KindForRemoteCode maps a JSON-RPC error code returned by a remote agent onto a FailureKind.
func KindForRemoteCode(code protocol.ErrorCode) FailureKind {
	switch code {
	case protocol.UnauthorizedError:
		return FailureAuth
	case protocol.MethodNotFound, protocol.UnsupportedOperation:
		return FailureUnsupported
	case protocol.Overloaded:
		return FailureConnection
	default:
		return FailureRemoteRejected
	}
}

// FromRemoteError converts a JSON-RPC error object returned over transport into a classified error.
func FromRemoteError(transport protocol.TransportKind, remote *protocol.Error) DispatchError {
	if remote == nil {
		return nil
	}
	switch KindForRemoteCode(remote.Code) {
	case FailureAuth:
		return AuthFailure(transport, remote)
	case FailureUnsupported:
		return Unsupported(transport, remote.Message)
	case FailureConnection:
		return ConnectionFailure(transport, "", remote)
	default:
		return RemoteRejected(transport, int(remote.Code), remote.Message)
	}
}
