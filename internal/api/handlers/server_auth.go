package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/authz"
	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/domain"
	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/pkg/logger"
	"estatedesk.io/dashboard/internal/service"
	"estatedesk.io/dashboard/internal/session"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token        string             `json:"token"`
	ExpiresAt    time.Time          `json:"expires_at"`
	User         domain.User        `json:"user"`
	Capabilities authz.Capabilities `json:"capabilities"`
}

// MeResponse describes the signed-in user.
type MeResponse struct {
	User         domain.User        `json:"user"`
	Capabilities authz.Capabilities `json:"capabilities"`
	ExpiresAt    time.Time          `json:"session_expires_at"`
}

// Login handles POST /auth/login.
func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	grant, err := s.sessions.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, crmapi.ErrUnauthorized) {
			logger.Warn("Login failed: invalid credentials", zap.String("username", req.Username))
			_ = c.Error(apperrors.Wrap(err, apperrors.CodeAuthFailed, "Invalid username or password.", http.StatusUnauthorized))
			return
		}
		_ = c.Error(apperrors.ErrCRMUnavailable(err))
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:        grant.Token,
		ExpiresAt:    grant.ExpiresAt,
		User:         grant.Session.User,
		Capabilities: service.Capabilities(grant.Session),
	})
}

// Logout handles POST /auth/logout. The session ends even when the CRM
// cannot be told about it.
func (s *Server) Logout(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	if err := s.sessions.Logout(c.Request.Context(), sess.ID); err != nil && !errors.Is(err, session.ErrNotFound) {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me handles GET /auth/me.
func (s *Server) Me(c *gin.Context) {
	sess, ok := actor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, MeResponse{
		User:         sess.User,
		Capabilities: service.Capabilities(sess),
		ExpiresAt:    sess.ExpiresAt,
	})
}
