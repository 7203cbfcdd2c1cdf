// Package errors defines structured error types for the qrgate service.
// Every AppError maps to a machine-readable code and an HTTP status code.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/turtacn/qrgate/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// AppError represents a structured error with additional metadata
type AppError interface {
	error

	// Code returns the machine-readable error code
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status code
	HTTPStatus() int

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause adds a cause error to the error chain
	WithCause(cause error) AppError

	// WithMetadata adds additional context metadata
	WithMetadata(key string, value interface{}) AppError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// baseError is the internal implementation of AppError
type baseError struct {
	code       constants.ErrorCode
	httpStatus int
	message    string
	cause      error
	metadata   map[string]interface{}
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Code() constants.ErrorCode { return e.code }

func (e *baseError) HTTPStatus() int { return e.httpStatus }

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) WithCause(cause error) AppError {
	e.cause = cause
	return e
}

func (e *baseError) WithMetadata(key string, value interface{}) AppError {
	if e.metadata == nil {
		e.metadata = make(map[string]interface{})
	}
	e.metadata[key] = value
	return e
}

func (e *baseError) Metadata() map[string]interface{} { return e.metadata }

// Message returns the client-facing message without the wrapped cause.
func Message(err AppError) string {
	if b, ok := err.(*baseError); ok {
		return b.message
	}
	return err.Error()
}

// NewError creates a new AppError with the specified parameters
func NewError(code constants.ErrorCode, httpStatus int, message string) AppError {
	return &baseError{
		code:       code,
		httpStatus: httpStatus,
		message:    message,
		metadata:   make(map[string]interface{}),
	}
}

// AsAppError extracts an AppError from an error chain.
func AsAppError(err error) (AppError, bool) {
	var appErr AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code constants.ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code() == code
}

// ================================================================================
// Sentinels
// ================================================================================

var (
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = stderrors.New("record not found")

	// ErrDuplicate is returned by repositories on a unique constraint violation
	ErrDuplicate = stderrors.New("duplicate record")

	// ErrStaleVersion is returned when a compare-and-set on a key version loses a race
	ErrStaleVersion = stderrors.New("key version changed concurrently")

	// ErrInvalidTransition is returned when a guarded status update matches no row
	ErrInvalidTransition = stderrors.New("invalid state transition")

	// ErrDatabaseOperation wraps unexpected persistence failures
	ErrDatabaseOperation = stderrors.New("database operation failed")

	// ErrMalformedToken is returned by the token decoder
	ErrMalformedToken = stderrors.New("malformed token")

	// ErrInvalidSignature is returned when a token MAC does not verify
	ErrInvalidSignature = stderrors.New("invalid token signature")

	// ErrTokenExpired is returned when a token is past its exp
	ErrTokenExpired = stderrors.New("token expired")
)

// ================================================================================
// Predefined Error Constructors
// ================================================================================

// ErrInvalidRequest creates an invalid_request error
func ErrInvalidRequest(message string) AppError {
	return NewError(constants.ErrCodeInvalidRequest, http.StatusBadRequest, message)
}

// ErrMissingRequiredParameter creates an invalid_request error naming the parameter
func ErrMissingRequiredParameter(param string) AppError {
	return ErrInvalidRequest(fmt.Sprintf("missing required parameter: %s", param)).
		WithMetadata("parameter", param)
}

// ErrInvalidGymID is returned for a gym id that cannot be embedded in a token
func ErrInvalidGymID(gymID string) AppError {
	return NewError(constants.ErrCodeInvalidRequest, http.StatusBadRequest,
		"gymId must not contain '|'").
		WithMetadata("gym_id", gymID)
}

// ErrInvalidPurpose rejects a purpose outside ENTRY/EXIT/PAYMENT
func ErrInvalidPurpose(purpose string) AppError {
	return NewError(constants.ErrCodeInvalidPurpose, http.StatusBadRequest,
		fmt.Sprintf("invalid QR purpose: %q", purpose)).
		WithMetadata("purpose", purpose)
}

// ErrUnauthorized creates an unauthorized error
func ErrUnauthorized(message string) AppError {
	return NewError(constants.ErrCodeUnauthorized, http.StatusUnauthorized, message)
}

// ErrForbidden creates a forbidden error
func ErrForbidden(message string) AppError {
	return NewError(constants.ErrCodeForbidden, http.StatusForbidden, message)
}

// ErrGymNotFound creates a gym not found error
func ErrGymNotFound(gymID string) AppError {
	return NewError(constants.ErrCodeNotFound, http.StatusNotFound,
		fmt.Sprintf("gym not found: %s", gymID)).
		WithMetadata("gym_id", gymID)
}

// ErrGymSuspended creates a gym suspended error
func ErrGymSuspended(gymID string) AppError {
	return NewError(constants.ErrCodeGymSuspended, http.StatusForbidden,
		fmt.Sprintf("gym is suspended: %s", gymID)).
		WithMetadata("gym_id", gymID)
}

// ErrQRRevoked is returned when issuance is disabled for a (gym, purpose)
func ErrQRRevoked(gymID, purpose string) AppError {
	return NewError(constants.ErrCodeQRRevoked, http.StatusForbidden,
		fmt.Sprintf("static QR %s is revoked for gym %s", purpose, gymID)).
		WithMetadata("gym_id", gymID).
		WithMetadata("purpose", purpose)
}

// ErrQRNotConfigured is returned when a (gym, purpose) has no static QR yet
func ErrQRNotConfigured(gymID, purpose string) AppError {
	return NewError(constants.ErrCodeNotFound, http.StatusNotFound,
		fmt.Sprintf("no static QR %s configured for gym %s", purpose, gymID)).
		WithMetadata("gym_id", gymID).
		WithMetadata("purpose", purpose)
}

// ErrRotationConflict is returned when a rotation keeps losing the version race
func ErrRotationConflict(gymID, purpose string) AppError {
	return NewError(constants.ErrCodeConflict, http.StatusConflict,
		fmt.Sprintf("static QR %s for gym %s is being rotated concurrently, retry later", purpose, gymID)).
		WithMetadata("gym_id", gymID).
		WithMetadata("purpose", purpose)
}

// ErrRateLimitExceeded creates a rate limit exceeded error for the given dimension
func ErrRateLimitExceeded(dimension string, limit int) AppError {
	return NewError(constants.ErrCodeRateLimitExceeded, http.StatusTooManyRequests,
		"rate limit exceeded, please try again later").
		WithMetadata("dimension", dimension).
		WithMetadata("limit", limit)
}

// ErrKeyUnavailable signals that no key material could be resolved right now
func ErrKeyUnavailable(gymID, purpose string) AppError {
	return NewError(constants.ErrCodeKeyUnavailable, http.StatusServiceUnavailable,
		"signing key temporarily unavailable").
		WithMetadata("gym_id", gymID).
		WithMetadata("purpose", purpose)
}

// ErrJobNotFound creates a batch job not found error
func ErrJobNotFound(jobID string) AppError {
	return NewError(constants.ErrCodeNotFound, http.StatusNotFound,
		fmt.Sprintf("batch job not found: %s", jobID)).
		WithMetadata("job_id", jobID)
}

// ErrJobNotComplete is returned when a download is requested before completion
func ErrJobNotComplete(jobID, status string) AppError {
	return NewError(constants.ErrCodeConflict, http.StatusConflict,
		fmt.Sprintf("batch job %s is %s", jobID, status)).
		WithMetadata("job_id", jobID).
		WithMetadata("status", status)
}

// ErrServiceUnavailable creates a generic 503
func ErrServiceUnavailable(message string) AppError {
	return NewError(constants.ErrCodeServiceUnavailable, http.StatusServiceUnavailable, message)
}

// ErrInternal creates an internal_error
func ErrInternal(message string) AppError {
	return NewError(constants.ErrCodeInternal, http.StatusInternalServerError, message)
}
