package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeConfiguration for configuration-related errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeValidation for rejected input (empty required fields, bad ids)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound for missing clients, projects, tickets or files
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict for operations refused because of current state
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeStorage for document store failures
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeBlob for blob-storage failures
	ErrorTypeBlob ErrorType = "blob"
	// ErrorTypeAuth for missing or invalid session tokens
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeForbidden for authenticated users outside the allow-list
	ErrorTypeForbidden ErrorType = "forbidden"
	// ErrorTypeInternal for internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents a structured error with context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails sets human-readable details
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// HTTPStatus maps the error type onto a response status code.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeBlob:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new AppError
func NewError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *AppError {
	return NewError(ErrorTypeConfiguration, code, message)
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *AppError {
	return NewError(ErrorTypeValidation, code, message)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(code, message string) *AppError {
	return NewError(ErrorTypeNotFound, code, message)
}

// NewConflictError creates a conflict error
func NewConflictError(code, message string) *AppError {
	return NewError(ErrorTypeConflict, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *AppError {
	return NewError(ErrorTypeStorage, code, message)
}

// NewBlobError creates a blob-storage error
func NewBlobError(code, message string) *AppError {
	return NewError(ErrorTypeBlob, code, message)
}

// NewAuthError creates an authentication error
func NewAuthError(code, message string) *AppError {
	return NewError(ErrorTypeAuth, code, message)
}

// NewForbiddenError creates an authorization error
func NewForbiddenError(code, message string) *AppError {
	return NewError(ErrorTypeForbidden, code, message)
}

// NewInternalError creates an internal system error
func NewInternalError(code, message string) *AppError {
	return NewError(ErrorTypeInternal, code, message)
}

// WrapError wraps an existing error with AppError context
func WrapError(err error, errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// AsAppError finds an AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err carries an AppError of the given type.
func IsType(err error, errorType ErrorType) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Type == errorType
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// ErrorBody is the client-facing part of an error.
type ErrorBody struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// NewErrorResponse maps err to a status code and response body. Errors
// outside the taxonomy become a generic internal error.
func NewErrorResponse(err error) (int, ErrorResponse) {
	appErr, ok := AsAppError(err)
	if !ok {
		appErr = NewInternalError("INTERNAL", "internal server error")
	}
	return appErr.HTTPStatus(), ErrorResponse{
		Error: ErrorBody{Type: appErr.Type, Code: appErr.Code, Message: appErr.Message},
	}
}
