package errors

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/agent-dispatch-go/pkg/protocol"
)

// TransportErrorData contains structured data for classified transport failures
type TransportErrorData struct {
	Transport  string        `json:"transport"`
	Endpoint   string        `json:"endpoint,omitempty"`
	Retryable  bool          `json:"retryable"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	RemoteCode int           `json:"remote_code,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

func reason(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// Timeout creates an error for an attempt that did not complete within its deadline
func Timeout(transport protocol.TransportKind, timeout time.Duration, cause error) DispatchError {
	message := fmt.Sprintf("%s attempt timed out", transport)
	if timeout > 0 {
		message = fmt.Sprintf("%s after %v", message, timeout)
	}
	return WrapError(cause, CodeTimeout, message, CategoryTimeout, SeverityWarning).
		WithData(&TransportErrorData{
			Transport: string(transport),
			Retryable: true,
			Timeout:   timeout,
			Reason:    "timeout",
		})
}

// ConnectionFailure creates an error for connections that failed or were lost
func ConnectionFailure(transport protocol.TransportKind, endpoint string, cause error) DispatchError {
	message := fmt.Sprintf("%s connection failure", transport)
	if endpoint != "" {
		message = fmt.Sprintf("%s connection failure to %s", transport, endpoint)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeConnectionFailure, message, CategoryTransport, SeverityError).
		WithData(&TransportErrorData{
			Transport: string(transport),
			Endpoint:  endpoint,
			Retryable: true,
			Reason:    reason(cause),
		})
}

// AuthFailure creates an error for a credential the remote refused
func AuthFailure(transport protocol.TransportKind, cause error) DispatchError {
	message := fmt.Sprintf("%s rejected credential", transport)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return WrapError(cause, CodeAuthFailure, message, CategoryAuth, SeverityWarning).
		WithData(&TransportErrorData{
			Transport: string(transport),
			Retryable: false,
			Reason:    reason(cause),
		})
}

// RemoteRejected creates an error for an operation the remote refused
func RemoteRejected(transport protocol.TransportKind, remoteCode int, reason string) DispatchError {
	message := fmt.Sprintf("%s remote rejected operation", transport)
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewError(CodeRemoteRejected, message, CategoryRemote, SeverityError).
		WithData(&TransportErrorData{
			Transport:  string(transport),
			RemoteCode: remoteCode,
			Reason:     reason,
		})
}

// Unsupported creates an error for an operation the transport cannot carry
func Unsupported(transport protocol.TransportKind, reason string) DispatchError {
	message := fmt.Sprintf("%s does not support operation", transport)
	if reason != "" {
		message = fmt.Sprintf("%s: %s", message, reason)
	}
	return NewError(CodeUnsupported, message, CategoryTransport, SeverityError).
		WithData(&TransportErrorData{
			Transport: string(transport),
			Reason:    reason,
		})
}
