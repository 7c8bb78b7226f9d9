package app

import (
	"context"
	"fmt"

	"estatedesk.io/dashboard/internal/pkg/logger"
)

// Start starts background services (session janitor).
func (a *Application) Start(ctx context.Context) error {
	if a.Sessions != nil {
		if err := a.Sessions.StartJanitor(ctx); err != nil {
			return fmt.Errorf("start session janitor: %w", err)
		}
		logger.Info("Session janitor started")
	}
	return nil
}

// Shutdown ends every session, stopping their pollers, then releases the
// worker pools.
func (a *Application) Shutdown(ctx context.Context) {
	if a.Sessions != nil {
		a.Sessions.Shutdown(ctx)
		logger.Info("Sessions closed")
	}
	if a.Pools != nil {
		a.Pools.Shutdown()
	}
}
