package service

import (
	"errors"
	"sort"

	"estatedesk.io/dashboard/internal/authz"
	"estatedesk.io/dashboard/internal/crmapi"
	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/session"
)

// nonFieldErrors is the form key for CRM messages not tied to one field.
const nonFieldErrors = "non_field_errors"

// translateCRMError maps a CRM or session failure for action on resource to
// the AppError shown to the user. A CRM 403 gets the same explanation the
// gate would have given.
func translateCRMError(err error, resource authz.Resource, action authz.Action, subject string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.IsAppError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, session.ErrExpired), errors.Is(err, crmapi.ErrUnauthorized):
		appErr := apperrors.ErrSessionExpired()
		appErr.Err = err
		return appErr
	case errors.Is(err, crmapi.ErrForbidden):
		appErr := apperrors.ErrAccessDenied(authz.DeniedMessage(resource, action, subject))
		appErr.Err = err
		return appErr
	case errors.Is(err, crmapi.ErrNotFound):
		appErr := apperrors.NotFound(apperrors.CodeCRMNotFound, "the requested record no longer exists")
		appErr.Err = err
		return appErr
	}

	if vErr, ok := crmapi.IsValidation(err); ok {
		return apperrors.ErrValidation(crmFieldErrors(vErr))
	}
	return apperrors.ErrCRMUnavailable(err)
}

func crmFieldErrors(vErr *crmapi.ValidationError) []apperrors.FieldError {
	names := make([]string, 0, len(vErr.Fields))
	for name := range vErr.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]apperrors.FieldError, 0, len(names)+1)
	for _, name := range names {
		for _, msg := range vErr.Fields[name] {
			out = append(out, apperrors.FieldError{Field: name, Code: "rejected", Message: msg})
		}
	}
	if vErr.Detail != "" {
		out = append(out, apperrors.FieldError{Field: nonFieldErrors, Code: "rejected", Message: vErr.Detail})
	}
	if len(out) == 0 {
		out = append(out, apperrors.FieldError{Field: nonFieldErrors, Code: "rejected", Message: "The CRM rejected the request."})
	}
	return out
}
