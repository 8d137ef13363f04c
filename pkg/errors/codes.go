package errors

// Error codes. Codes are stable across releases and are what callers should match on.
const (
	// Pre-dispatch errors (-33000 to -33099)
	CodeValidationError   int = -33000 // Generic validation error
	CodeMissingParameter  int = -33001 // Required parameter missing
	CodeInvalidParameter  int = -33002 // Parameter has invalid value
	CodeParameterTooLarge int = -33003 // Parameter value too large
	CodeInvalidFormat     int = -33004 // Parameter has invalid format

	// Dispatch errors (-33100 to -33199)
	CodeProtocolUnavailable int = -33100 // No transport can carry the operation
	CodeCircuitOpen         int = -33101 // Candidate skipped because its circuit is open
	CodeAggregateFailure    int = -33102 // Every candidate transport failed
	CodeOperationCancelled  int = -33103 // Caller cancelled the operation
	CodeDispatcherClosed    int = -33104 // Dispatcher was shut down

	// Transport failure classes (-33200 to -33299)
	CodeTimeout           int = -33200 // Attempt timed out
	CodeConnectionFailure int = -33201 // Connection could not be established or was lost
	CodeAuthFailure       int = -33202 // Remote rejected the credential
	CodeRemoteRejected    int = -33203 // Remote refused the operation
	CodeUnsupported       int = -33204 // Transport cannot carry this operation

	// Credential errors (-33300 to -33399)
	CodeCredentialUnavailable int = -33300 // No credential could be obtained

	// Internal errors
	CodeInternalError int = -33900
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeValidationError:   {CodeValidationError, "ValidationError", "Operation rejected before dispatch", CategoryValidation, SeverityError},
	CodeMissingParameter:  {CodeMissingParameter, "MissingParameter", "Required parameter missing", CategoryValidation, SeverityError},
	CodeInvalidParameter:  {CodeInvalidParameter, "InvalidParameter", "Invalid parameter value", CategoryValidation, SeverityError},
	CodeParameterTooLarge: {CodeParameterTooLarge, "ParameterTooLarge", "Parameter value too large", CategoryValidation, SeverityError},
	CodeInvalidFormat:     {CodeInvalidFormat, "InvalidFormat", "Invalid parameter format", CategoryValidation, SeverityError},

	CodeProtocolUnavailable: {CodeProtocolUnavailable, "ProtocolUnavailable", "No supported transport", CategoryDispatch, SeverityError},
	CodeCircuitOpen:         {CodeCircuitOpen, "CircuitOpen", "Transport circuit is open", CategoryCircuit, SeverityWarning},
	CodeAggregateFailure:    {CodeAggregateFailure, "AggregateFailure", "All candidate transports failed", CategoryDispatch, SeverityError},
	CodeOperationCancelled:  {CodeOperationCancelled, "OperationCancelled", "Operation cancelled", CategoryCancelled, SeverityInfo},
	CodeDispatcherClosed:    {CodeDispatcherClosed, "DispatcherClosed", "Dispatcher closed", CategoryDispatch, SeverityError},

	CodeTimeout:           {CodeTimeout, "Timeout", "Attempt timed out", CategoryTimeout, SeverityWarning},
	CodeConnectionFailure: {CodeConnectionFailure, "ConnectionFailure", "Connection failure", CategoryTransport, SeverityError},
	CodeAuthFailure:       {CodeAuthFailure, "AuthFailure", "Credential rejected", CategoryAuth, SeverityWarning},
	CodeRemoteRejected:    {CodeRemoteRejected, "RemoteRejected", "Remote rejected the operation", CategoryRemote, SeverityError},
	CodeUnsupported:       {CodeUnsupported, "Unsupported", "Operation unsupported on transport", CategoryTransport, SeverityError},

	CodeCredentialUnavailable: {CodeCredentialUnavailable, "CredentialUnavailable", "Credential unavailable", CategoryAuth, SeverityCritical},

	CodeInternalError: {CodeInternalError, "InternalError", "Internal error", CategoryInternal, SeverityError},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// GetErrorCodeCategory returns the category of an error code
func GetErrorCodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryInternal
}

// GetErrorCodeSeverity returns the severity of an error code
func GetErrorCodeSeverity(code int) Severity {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Severity
	}
	return SeverityError
}
