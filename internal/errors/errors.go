package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorKind is the coarse failure family every error in the workflow belongs to
type ErrorKind string

const (
	// KindValidation is a local, pre-flight, user-correctable failure
	KindValidation ErrorKind = "validation"
	// KindTransport covers unreachable service, timeouts and malformed responses
	KindTransport ErrorKind = "transport"
	// KindRemote means the service answered with a failure status
	KindRemote ErrorKind = "remote"
)

// ErrorCode is the optional machine classification inside a kind
type ErrorCode string

const (
	CodeInvalidType     ErrorCode = "invalid_type"
	CodeTooLarge        ErrorCode = "too_large"
	CodeInvalidArgument ErrorCode = "invalid_argument"
	CodeNetwork         ErrorCode = "network"
	CodeTimeout         ErrorCode = "timeout"
	CodeMalformed       ErrorCode = "malformed"
	CodeCanceled        ErrorCode = "canceled"
	CodeNotFound        ErrorCode = "not_found"
	CodeBadRequest      ErrorCode = "bad_request"
	CodeUnprocessable   ErrorCode = "unprocessable"
	CodeServer          ErrorCode = "server"
)

// AppError is the single failure shape surfaced by the client, the orchestrator and the gallery
type AppError struct {
	Kind       ErrorKind `json:"kind"`
	Code       ErrorCode `json:"code,omitempty"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Kind:       KindValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewNetworkError creates a transport error for an unreachable service
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindTransport,
		Code:       CodeNetwork,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewTimeoutError creates a transport error for an exceeded call deadline
func NewTimeoutError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindTransport,
		Code:       CodeTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

// NewMalformedError creates a transport error for a body that could not be understood
func NewMalformedError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindTransport,
		Code:       CodeMalformed,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewCanceledError creates a transport error for a call abandoned by the caller
func NewCanceledError(message string, cause error) *AppError {
	return &AppError{
		Kind:       KindTransport,
		Code:       CodeCanceled,
		Message:    message,
		StatusCode: http.StatusRequestTimeout,
		Cause:      cause,
	}
}

// NewRemoteError creates a remote error from a failure status returned by the service
func NewRemoteError(statusCode int, message string) *AppError {
	if message == "" {
		message = fmt.Sprintf("analysis service returned %d %s", statusCode, http.StatusText(statusCode))
	}
	return &AppError{
		Kind:       KindRemote,
		Code:       codeForStatus(statusCode),
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewNotFoundError creates a remote not-found error
func NewNotFoundError(message string) *AppError {
	return NewRemoteError(http.StatusNotFound, message)
}

func codeForStatus(statusCode int) ErrorCode {
	switch {
	case statusCode == http.StatusNotFound:
		return CodeNotFound
	case statusCode == http.StatusUnprocessableEntity:
		return CodeUnprocessable
	case statusCode >= 400 && statusCode < 500:
		return CodeBadRequest
	default:
		return CodeServer
	}
}

// As extracts an *AppError from anywhere in the error chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind checks if the error is of a specific kind
func IsKind(err error, kind ErrorKind) bool {
	if appErr, ok := As(err); ok {
		return appErr.Kind == kind
	}
	return false
}

// IsCode checks if the error carries a specific classification
func IsCode(err error, code ErrorCode) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
