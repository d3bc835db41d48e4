package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrReferenceNotFound = errors.New("referenced resource not found")
	ErrInvalidOperation  = errors.New("invalid operation")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Validation creates a 400 error for a single failed field. It renders the same
// way as request-level validation failures so callers see one error shape.
func Validation(field, message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("field '%s' %s", field, message),
		Details: map[string]any{"fields": map[string]string{field: message}},
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidOperation creates a 400 error for an unsupported stock operation.
func InvalidOperation(op string) *AppError {
	return &AppError{
		Code:    "INVALID_OPERATION",
		Message: fmt.Sprintf("operation %q is not one of set, increment, decrement", op),
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidOperation,
	}
}

// InsufficientStock creates a 409 error carrying the available and requested
// quantities so the caller can act on it.
func InsufficientStock(variantID string, available, requested int, cause error) *AppError {
	err := cause
	if err == nil {
		err = ErrInsufficientStock
	}
	return &AppError{
		Code: "INSUFFICIENT_STOCK",
		Message: fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
			variantID, requested, available),
		Details: map[string]any{
			"variant_id": variantID,
			"available":  available,
			"requested":  requested,
		},
		Status: http.StatusConflict,
		Err:    err,
	}
}

// ReferenceNotFound creates a 404 error for a write that referenced a row that
// does not exist (a foreign key violation).
func ReferenceNotFound(resource string, cause error) *AppError {
	err := ErrReferenceNotFound
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrReferenceNotFound, cause)
	}
	return &AppError{
		Code:    "REFERENCE_NOT_FOUND",
		Message: fmt.Sprintf("referenced %s does not exist", resource),
		Details: map[string]any{"resource": resource},
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

// Conflict creates a 409 error with a custom code.
func Conflict(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
