// Package middleware provides the HTTP middleware of the dashboard API.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/pkg/logger"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	FieldErrors []apperrors.FieldError `json:"field_errors,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	RequestID   string                 `json:"request_id,omitempty"`
}

// ErrorHandler is a Gin middleware that provides centralized error handling.
// It captures errors added via c.Error() and returns a consistent JSON response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		rid := GetRequestID(c.Request.Context())

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			if apperrors.IsAccessDenied(appErr) {
				logDenied(c, rid, appErr)
			} else {
				log := logger.Warn
				if appErr.HTTPStatus >= http.StatusInternalServerError {
					log = logger.Error
				}
				log("Request error",
					zap.String("request_id", rid),
					zap.String("path", c.FullPath()),
					zap.String("code", appErr.Code),
					zap.Int("status", appErr.HTTPStatus),
					zap.Error(appErr.Err),
				)
			}
			c.JSON(appErr.HTTPStatus, ErrorBody{
				Code:        appErr.Code,
				Message:     appErr.Message,
				FieldErrors: appErr.FieldErrors,
				Params:      appErr.Params,
				RequestID:   rid,
			})
			return
		}

		logger.Error("Unhandled request error", zap.String("request_id", rid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorBody{
			Code:      "INTERNAL_ERROR",
			Message:   "An internal error occurred",
			RequestID: rid,
		})
	}
}

// logDenied records who was refused what. Denials are expected traffic from
// the UI, so they are logged at info level for audit rather than as errors.
func logDenied(c *gin.Context, rid string, appErr *apperrors.AppError) {
	fields := []zap.Field{
		zap.String("request_id", rid),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.String("reason", appErr.Message),
	}
	if s := GetSession(c.Request.Context()); s != nil {
		fields = append(fields,
			zap.String("username", s.User.Username),
			zap.String("role", string(s.Role)),
		)
	}
	if appErr.Err != nil {
		fields = append(fields, zap.Error(appErr.Err))
	}
	logger.Info("Access denied", fields...)
}
