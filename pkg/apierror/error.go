package apierror

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int                    `json:"-"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    []FieldError           `json:"details,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// WithMeta attaches structured context (product id, quantities) that callers
// need to react to the error programmatically.
func (e *Error) WithMeta(meta map[string]interface{}) *Error {
	e.Meta = meta
	return e
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}

	if len(e.Details) > 0 {
		response["error"].(map[string]interface{})["details"] = e.Details
	}
	if len(e.Meta) > 0 {
		response["error"].(map[string]interface{})["meta"] = e.Meta
	}

	data, _ := json.Marshal(response)
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
	}
}

// ValidationError creates a 400 error with validation details.
func ValidationError(message string, details ...FieldError) *Error {
	return &Error{
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
		Message:    message,
		Details:    details,
	}
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return &Error{
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return &Error{
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    message,
	}
}

// InsufficientStock creates a 409 Conflict error for a failed reservation.
func InsufficientStock(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       "INSUFFICIENT_STOCK",
		Message:    message,
	}
}

// ReservationExpired creates a 409 Conflict error for a lapsed hold.
func ReservationExpired(message string) *Error {
	return &Error{
		StatusCode: http.StatusConflict,
		Code:       "RESERVATION_EXPIRED",
		Message:    message,
	}
}

// InvalidAdjustment creates a 422 error for a delta that would drive stock
// negative.
func InvalidAdjustment(message string) *Error {
	return &Error{
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INVALID_ADJUSTMENT",
		Message:    message,
	}
}

// Busy creates a 503 error for a lock-wait timeout; safe to retry with
// backoff.
func Busy(message string) *Error {
	if message == "" {
		message = "Stock row busy, retry shortly"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "BUSY",
		Message:    message,
	}
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
	}
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return &Error{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
	}
}
