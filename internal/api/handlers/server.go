// Package handlers implements the dashboard HTTP API.
//
// Handlers resolve the acting session from the request context, delegate to
// the services and report failures through c.Error so that the error
// middleware renders one consistent body.
package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"estatedesk.io/dashboard/internal/api/middleware"
	"estatedesk.io/dashboard/internal/authz"
	apperrors "estatedesk.io/dashboard/internal/pkg/errors"
	"estatedesk.io/dashboard/internal/pkg/worker"
	"estatedesk.io/dashboard/internal/service"
	"estatedesk.io/dashboard/internal/session"
)

// ReadinessCheck is one dependency checked by GET /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server implements all API handlers.
type Server struct {
	sessions   *session.Manager
	commission *service.CommissionService
	users      *service.UserService
	settings   *service.SettingsService
	readiness  []ReadinessCheck
	pools      *worker.Pools
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Sessions   *session.Manager
	Commission *service.CommissionService
	Users      *service.UserService
	Settings   *service.SettingsService
	Readiness  []ReadinessCheck
	// Pools, when set, has its utilisation reported by the readiness check.
	Pools *worker.Pools
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		sessions:   deps.Sessions,
		commission: deps.Commission,
		users:      deps.Users,
		settings:   deps.Settings,
		readiness:  deps.Readiness,
		pools:      deps.Pools,
	}
}

// Register mounts every route on api, which is expected to be the /api/v1
// group with session auth already applied.
func (s *Server) Register(api *gin.RouterGroup) {
	api.POST("/auth/login", s.Login)
	api.POST("/auth/logout", s.Logout)
	api.GET("/auth/me", s.Me)

	api.GET("/notifications", s.ListNotifications)
	api.GET("/notifications/unread-count", s.GetUnreadCount)
	api.POST("/notifications/:notification_id/read", s.MarkNotificationRead)
	api.POST("/notifications/read-all", s.MarkAllNotificationsRead)
	api.POST("/notifications/refresh", s.RefreshNotifications)

	api.GET("/dashboard/commission-stats", s.GetCommissionStats)

	users := api.Group("/users", middleware.RequireAccess(authz.ResourceUserAccounts))
	users.GET("", s.ListUsers)
	users.POST("", s.CreateUser)
	users.PUT("/:user_id", s.UpdateUser)
	users.DELETE("/:user_id", s.DeleteUser)

	api.GET("/settings/system", s.GetSystemSettings)
	api.PUT("/settings/system", s.SaveSystemSettings)
	api.GET("/settings/parishes", s.ListParishes)
	api.POST("/settings/parishes", s.CreateParish)
	api.PUT("/settings/parishes/:parish_id", s.UpdateParish)
	api.DELETE("/settings/parishes/:parish_id", s.DeleteParish)
	api.GET("/settings/budget-tiers", s.ListBudgetTiers)
	api.POST("/settings/budget-tiers", s.CreateBudgetTier)
	api.PUT("/settings/budget-tiers/:tier_id", s.UpdateBudgetTier)
	api.DELETE("/settings/budget-tiers/:tier_id", s.DeleteBudgetTier)

	admin := api.Group("/admin", middleware.RequireAccess(authz.ResourceLogLevel))
	admin.GET("/log-level", s.GetLogLevel)
	admin.PUT("/log-level", s.SetLogLevel)

	api.GET("/health/live", s.GetLiveness)
	api.GET("/health/ready", s.GetReadiness)
}

// actor returns the authenticated session. Session auth guarantees it on
// every non-public route; the nil check guards against misconfigured chains.
func actor(c *gin.Context) (*session.Session, bool) {
	sess := middleware.GetSession(c.Request.Context())
	if sess == nil {
		_ = c.Error(apperrors.ErrSessionExpired())
		return nil, false
	}
	return sess, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(apperrors.ErrInvalidRequestField(name))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		_ = c.Error(apperrors.ErrRequestInvalid(err))
		return false
	}
	return true
}
