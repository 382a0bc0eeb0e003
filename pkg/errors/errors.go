package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("resource conflict")
	ErrInternal   = errors.New("internal server error")
	ErrValidation = errors.New("validation error")

	// Business-rule errors for the lot lifecycle and count workflow.
	ErrInvalidMove             = errors.New("invalid move")
	ErrOverCapacity            = errors.New("over capacity")
	ErrInsufficientQuantity    = errors.New("insufficient quantity")
	ErrLocationUnderInventory  = errors.New("location under inventory")
	ErrLockedForEditing        = errors.New("locked for editing")
	ErrUnresolvedDiscrepancies = errors.New("unresolved discrepancies")
	ErrScanConflict            = errors.New("scan conflict")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Business-rule constructors. These are expected failures: they carry a
// message suitable for direct display and are returned, never panicked.

func InvalidMove(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidMove,
		Code:       "INVALID_MOVE",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func OverCapacity(message string) *AppError {
	return &AppError{
		Err:        ErrOverCapacity,
		Code:       "OVER_CAPACITY",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func InsufficientQuantity(message string) *AppError {
	return &AppError{
		Err:        ErrInsufficientQuantity,
		Code:       "INSUFFICIENT_QUANTITY",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func LocationUnderInventory(location string) *AppError {
	return &AppError{
		Err:        ErrLocationUnderInventory,
		Code:       "LOCATION_UNDER_INVENTORY",
		Message:    fmt.Sprintf("location %s is locked by an ongoing inventory session", location),
		StatusCode: http.StatusConflict,
	}
}

func LockedForEditing(message string) *AppError {
	return &AppError{
		Err:        ErrLockedForEditing,
		Code:       "LOCKED_FOR_EDITING",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func UnresolvedDiscrepancies(unresolved int) *AppError {
	return &AppError{
		Err:        ErrUnresolvedDiscrepancies,
		Code:       "UNRESOLVED_DISCREPANCIES",
		Message:    fmt.Sprintf("%d discrepancies are still unresolved", unresolved),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func ScanConflict(message string) *AppError {
	return &AppError{
		Err:        ErrScanConflict,
		Code:       "SCAN_CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
