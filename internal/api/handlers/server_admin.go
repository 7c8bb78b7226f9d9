package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/pkg/logger"
)

// LogLevel is the body of the log level endpoints.
type LogLevel struct {
	Level string `json:"level"`
}

// GetLogLevel handles GET /admin/log-level.
func (s *Server) GetLogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, LogLevel{Level: logger.GetLevel().String()})
}

// SetLogLevel handles PUT /admin/log-level. The change applies to the
// running process only.
func (s *Server) SetLogLevel(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	var req LogLevel
	if !bindJSON(c, &req) {
		return
	}
	previous := logger.GetLevel()
	if err := logger.SetLevel(req.Level); err != nil {
		_ = c.Error(apperrors.ErrInvalidRequestField("level"))
		return
	}
	logger.Info("Log level changed",
		zap.String("from", previous.String()),
		zap.String("to", logger.GetLevel().String()),
		zap.String("username", sess.User.Username),
	)
	c.JSON(http.StatusOK, LogLevel{Level: logger.GetLevel().String()})
}
