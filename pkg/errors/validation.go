package errors

import "fmt"

// ValidationErrorData contains structured data for validation errors
type ValidationErrorData struct {
	Field    string      `json:"field"`
	Value    interface{} `json:"value,omitempty"`
	Expected string      `json:"expected,omitempty"`
	Actual   string      `json:"actual,omitempty"`
}

// ValidationError creates a generic validation error
func ValidationError(message string) DispatchError {
	return NewError(CodeValidationError, message, CategoryValidation, SeverityError)
}

// ValidationErrorf creates a generic validation error with a formatted message
func ValidationErrorf(format string, args ...interface{}) DispatchError {
	return ValidationError(fmt.Sprintf(format, args...))
}

// MissingParameter creates an error for a missing required parameter
func MissingParameter(field string) DispatchError {
	return NewError(
		CodeMissingParameter,
		fmt.Sprintf("missing required parameter: %s", field),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{Field: field})
}

// InvalidParameter creates an error for a parameter with an invalid value
func InvalidParameter(field string, value interface{}, expected string) DispatchError {
	return NewError(
		CodeInvalidParameter,
		fmt.Sprintf("invalid value for parameter %s", field),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{
		Field:    field,
		Value:    value,
		Expected: expected,
		Actual:   fmt.Sprintf("%v", value),
	})
}

// ParameterTooLarge creates an error for a parameter exceeding its limit
func ParameterTooLarge(field string, size, limit int) DispatchError {
	return NewError(
		CodeParameterTooLarge,
		fmt.Sprintf("parameter %s too large: %d bytes exceeds limit of %d", field, size, limit),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{
		Field:    field,
		Expected: fmt.Sprintf("<= %d", limit),
		Actual:   fmt.Sprintf("%d", size),
	})
}

// InvalidFormat creates an error for a parameter in the wrong format
func InvalidFormat(field, expected string) DispatchError {
	return NewError(
		CodeInvalidFormat,
		fmt.Sprintf("parameter %s has invalid format, expected %s", field, expected),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{Field: field, Expected: expected})
}
