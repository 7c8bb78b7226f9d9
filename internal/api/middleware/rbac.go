package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"estatedesk.io/dashboard/internal/authz"
	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
)

// RequireAccess asks the gate whether the session may act on resource at all
// before the handler runs, with the action inferred from the HTTP method.
// Target-dependent checks (role assignment, admin accounts) stay in the
// services.
func RequireAccess(resource authz.Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := GetSession(c.Request.Context())
		if s == nil {
			abortWithError(c, apperrors.ErrSessionExpired())
			return
		}
		decision := authz.AuthorizeRoute(s.ActingRole(), resource, ActionForMethod(c.Request.Method))
		if err := decision.Err(); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

// ActionForMethod maps an HTTP method to the gate action it performs.
func ActionForMethod(method string) authz.Action {
	switch method {
	case http.MethodPost:
		return authz.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return authz.ActionEdit
	case http.MethodDelete:
		return authz.ActionDelete
	default:
		return authz.ActionView
	}
}
