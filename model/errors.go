package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest      = "BAD_REQUEST"
	ErrNotFound        = "NOT_FOUND"
	ErrConflict        = "CONFLICT"
	ErrValidationError = "VALIDATION_ERROR"
	ErrInternalError   = "INTERNAL_ERROR"
)

// Workflow-specific error codes.
const (
	ErrStepNotFound      = "STEP_NOT_FOUND"
	ErrStepOutOfOrder    = "STEP_OUT_OF_ORDER"
	ErrInstanceNotFound  = "INSTANCE_NOT_FOUND"
	ErrInstanceNotActive = "INSTANCE_NOT_ACTIVE"
	ErrInstanceExpired   = "INSTANCE_EXPIRED"
)

// ErrorEnvelope is the standard error response envelope returned by the
// service. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewStepNotFoundError returns a STEP_NOT_FOUND error for an unknown workflow
// kind or step number. Terminal, not retryable.
func NewStepNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStepNotFound, Message: msg}
}

// NewStepOutOfOrderError returns a STEP_OUT_OF_ORDER error for a step
// submitted ahead of or behind the instance's current step.
func NewStepOutOfOrderError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStepOutOfOrder, Message: msg}
}

// NewInstanceNotFoundError returns an INSTANCE_NOT_FOUND error.
func NewInstanceNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInstanceNotFound, Message: msg}
}

// NewInstanceNotActiveError returns an INSTANCE_NOT_ACTIVE error.
func NewInstanceNotActiveError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInstanceNotActive, Message: msg}
}

// NewInstanceExpiredError returns an INSTANCE_EXPIRED error.
func NewInstanceExpiredError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInstanceExpired, Message: msg}
}

// HasCode reports whether err is an ErrorEnvelope carrying the given code.
func HasCode(err error, code string) bool {
	ee, ok := err.(*ErrorEnvelope)
	return ok && ee.Code == code
}
