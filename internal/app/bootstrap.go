// Package app is the composition root: it wires configuration, the CRM
// client, sessions and services into an HTTP router. It holds no business
// logic of its own.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"estatedesk.io/dashboard/internal/api/handlers"
	"estatedesk.io/dashboard/internal/config"
	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/notification"
	"estatedesk.io/dashboard/internal/pkg/validator"
	"estatedesk.io/dashboard/internal/pkg/worker"
	"estatedesk.io/dashboard/internal/service"
	"estatedesk.io/dashboard/internal/session"
)

// Application holds composed application dependencies.
type Application struct {
	Config   *config.Config
	Router   *gin.Engine
	CRM      *crmapi.Client
	Sessions *session.Manager
	Pools    *worker.Pools
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	rules := notificationRules(cfg.Notification)
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("notification rules: %w", err)
	}

	crm, err := crmapi.New(crmapi.Config{
		BaseURL:   cfg.CRM.BaseURL,
		Timeout:   cfg.CRM.Timeout,
		UserAgent: cfg.CRM.UserAgent,
		MaxPages:  cfg.CRM.MaxPages,
	})
	if err != nil {
		return nil, fmt.Errorf("init crm client: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		FetchPoolSize:   cfg.Worker.FetchPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	sessions := session.NewManager(sessionConfig(cfg, rules), crm, pools, notification.NewLogObserver())

	v := validator.New()
	settings := service.NewSettingsService(v, service.CacheConfig{
		Size: cfg.Cache.ReferenceSize,
		TTL:  cfg.Cache.ReferenceTTL,
	})
	sessions.OnEnd(settings.Forget)

	server := handlers.NewServer(handlers.ServerDeps{
		Sessions:   sessions,
		Commission: service.NewCommissionService(),
		Users:      service.NewUserService(v),
		Settings:   settings,
		Readiness: []handlers.ReadinessCheck{
			{Name: "crm", Check: crm.Ping},
		},
		Pools: pools,
	})

	return &Application{
		Config:   cfg,
		Router:   newRouter(cfg, server, sessions),
		CRM:      crm,
		Sessions: sessions,
		Pools:    pools,
	}, nil
}

func notificationRules(c config.NotificationConfig) notification.Rules {
	return notification.Rules{
		ViewingWindow:         c.ViewingWindow,
		ViewingUrgent:         c.ViewingUrgent,
		NewPropertyWindow:     c.NewPropertyWindow,
		SaleWindow:            c.SaleWindow,
		StaleClientDays:       c.StaleClientDays,
		StaleClientUrgentDays: c.StaleClientUrgentDays,
		FutureTolerance:       c.FutureTolerance,
	}
}

func sessionConfig(cfg *config.Config, rules notification.Rules) session.Config {
	verification := make([][]byte, 0, len(cfg.Security.SessionVerificationKeys))
	for _, k := range cfg.Security.SessionVerificationKeys {
		if k != "" {
			verification = append(verification, []byte(k))
		}
	}
	return session.Config{
		IdleTimeout:     cfg.Session.IdleTimeout,
		MaxLifetime:     cfg.Session.MaxLifetime,
		SweepInterval:   cfg.Session.SweepInterval,
		LogoutTimeout:   cfg.Session.LogoutTimeout,
		RefreshInterval: cfg.Notification.RefreshInterval,
		RefreshTimeout:  cfg.Notification.RefreshTimeout,
		Rules:           rules,
		Token: session.TokenConfig{
			SigningKey:       []byte(cfg.Security.SessionSecret),
			VerificationKeys: verification,
			Issuer:           cfg.Session.Issuer,
		},
	}
}
