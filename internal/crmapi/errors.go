package crmapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Failure classes. Every error returned by Client wraps exactly one of them
// (or is a *ValidationError), so callers can branch with errors.Is.
var (
	ErrNetwork      = errors.New("crm: request failed")
	ErrUnauthorized = errors.New("crm: not authenticated")
	ErrForbidden    = errors.New("crm: permission denied")
	ErrNotFound     = errors.New("crm: resource not found")
)

// StatusError is a non-2xx CRM response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string

	class error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("crm %s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes the failure class.
func (e *StatusError) Unwrap() error {
	return e.class
}

// ValidationError is a 400 response carrying per-field messages in the
// Django REST Framework shape {"field": ["message", ...]}.
type ValidationError struct {
	Fields map[string][]string
	// Detail holds non-field messages ("detail", "error", "non_field_errors").
	Detail string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "crm validation failed: " + e.Detail
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "crm validation failed: " + strings.Join(names, ", ")
}

// IsAuthorization reports whether err is a CRM authentication or permission
// failure, as opposed to a generic transport or server failure.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// IsValidation returns the ValidationError carried by err, if any.
func IsValidation(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}
