package app

import (
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"estatedesk.io/dashboard/internal/api/handlers"
	"estatedesk.io/dashboard/internal/api/middleware"
	"estatedesk.io/dashboard/internal/config"
)

const apiBasePath = "/api/v1"

// Public routes that do NOT require a session.
var publicPrefixes = []string{
	"/api/v1/auth/login",
	"/api/v1/health/",
}

// defaultAllowedOrigins serves the dashboard dev servers when no origins are
// configured.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func newRouter(cfg *config.Config, server *handlers.Server, auth middleware.Authenticator) *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Metrics(),
		cors.New(buildCORSConfig(cfg)),
		middleware.ErrorHandler(),
		middleware.MustOpenAPIValidator(apiBasePath),
	)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group(apiBasePath, middleware.SessionAuth(auth, isPublic))
	server.Register(api)
	return router
}

func isPublic(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// buildCORSConfig turns server settings into a cors.Config. A "*" origin is
// honoured only with unsafe_allow_all_origins, which also drops credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		cc.AllowAllOrigins = true
		cc.AllowCredentials = false
		return cc
	}

	origins := slices.DeleteFunc(slices.Clone(cfg.Server.AllowedOrigins), func(o string) bool {
		return strings.TrimSpace(o) == "" || o == "*"
	})
	if len(origins) == 0 {
		origins = slices.Clone(defaultAllowedOrigins)
	}
	cc.AllowOrigins = origins
	return cc
}
