package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/session"
)

// Authenticator resolves a session token. *session.Manager implements it.
type Authenticator interface {
	Authenticate(token string) (*session.Session, error)
}

// SessionAuth returns a Gin middleware that validates Bearer session tokens
// and stores the resolved session in the request context. Paths for which
// public returns true pass through untouched.
func SessionAuth(auth Authenticator, public func(path string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if public != nil && public(c.Request.URL.Path) {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, apperrors.Unauthorized(apperrors.CodeTokenInvalid, "missing or malformed authorization header"))
			return
		}

		s, err := auth.Authenticate(token)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrNotFound):
				appErr := apperrors.ErrSessionExpired()
				appErr.Err = err
				abortWithError(c, appErr)
			default:
				abortWithError(c, apperrors.Wrap(err, apperrors.CodeTokenInvalid, "invalid session token", http.StatusUnauthorized))
			}
			return
		}

		c.Set(string(ctxKeySession), s)
		c.Request = c.Request.WithContext(SetSession(c.Request.Context(), s))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// abortWithError hands err to ErrorHandler and stops the chain.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
