package errors

import "net/http"

// Error codes rendered to the dashboard. Messages are English and final;
// the dashboard shows them verbatim.

// Auth and session error codes.
const (
	CodeAuthFailed     = "AUTH_FAILED"
	CodeSessionExpired = "SESSION_EXPIRED"
	CodeTokenInvalid   = "TOKEN_INVALID"
	CodeAccessDenied   = "ACCESS_DENIED"
)

// CRM collaborator error codes.
const (
	CodeCRMUnavailable = "CRM_UNAVAILABLE"
	CodeCRMNotFound    = "CRM_RESOURCE_NOT_FOUND"
)

// Validation error codes.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeRequestInvalid      = "REQUEST_INVALID"
)

// Convenience constructors using predefined codes.

// ErrAccessDenied creates the distinct "not authorized" error. reason is
// shown to the user as-is.
func ErrAccessDenied(reason string) *AppError {
	return &AppError{
		Code:       CodeAccessDenied,
		Message:    reason,
		HTTPStatus: http.StatusForbidden,
	}
}

// ErrCRMUnavailable creates a generic upstream failure (retry later).
func ErrCRMUnavailable(err error) *AppError {
	return &AppError{
		Code:       CodeCRMUnavailable,
		Message:    "the CRM service is temporarily unavailable, please try again later",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// ErrSessionExpired creates a 401 telling the dashboard to sign in again.
func ErrSessionExpired() *AppError {
	return &AppError{
		Code:       CodeSessionExpired,
		Message:    "your session has ended, please sign in again",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ErrValidation creates a 400 carrying per-field errors for the initiating form.
func ErrValidation(fields []FieldError) *AppError {
	return (&AppError{
		Code:       CodeValidationFailed,
		Message:    "one or more fields are invalid",
		HTTPStatus: http.StatusBadRequest,
	}).WithFieldErrors(fields)
}

// ErrRequestInvalid creates a 400 for a request that does not match the API
// contract (unknown fields, wrong types, unparsable JSON).
func ErrRequestInvalid(err error) *AppError {
	return &AppError{
		Code:       CodeRequestInvalid,
		Message:    "the request does not match the API contract",
		HTTPStatus: http.StatusBadRequest,
		Err:        err,
	}
}

// ErrInvalidRequestField creates a bad request error for a malformed field.
func ErrInvalidRequestField(fieldName string) *AppError {
	return &AppError{
		Code:       CodeInvalidRequestField,
		Message:    "request contains an invalid field: " + fieldName,
		HTTPStatus: http.StatusBadRequest,
	}
}
