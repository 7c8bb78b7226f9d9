// Package session owns the signed-in users of the dashboard.
//
// A Session is the explicit per-user context: identity, CRM credentials, and
// the user's notification aggregator with its poller. It is created by
// Manager.Login and torn down by Manager.Logout or expiry, which halts the
// poller and discards any refresh still in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/domain"
	"estatedesk.io/dashboard/internal/notification"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrExpired      = errors.New("session expired")
	ErrInvalidToken = errors.New("invalid session token")
)

// accessRefreshSkew renews the CRM access token this long before it expires.
const accessRefreshSkew = 30 * time.Second

// Session is one signed-in user.
type Session struct {
	ID        string
	User      domain.User
	Role      domain.Role
	CreatedAt time.Time
	ExpiresAt time.Time

	Notifications *notification.Aggregator
	poller        *notification.Poller

	base *crmapi.Client
	now  func() time.Time

	mu            sync.Mutex
	client        *crmapi.Client
	refreshToken  string
	accessExpires time.Time
	lastSeen      time.Time
	ended         bool

	// renewMu serialises token renewal; mu is never held across the CRM call.
	renewMu sync.Mutex
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string { return s.ID }

// ActingRole returns the role every authorization decision is made for.
func (s *Session) ActingRole() domain.Role { return s.Role }

// CRM returns a CRM client bound to a current access token, renewing it with
// the refresh token when it is about to expire.
func (s *Session) CRM(ctx context.Context) (*crmapi.Client, error) {
	client, refresh, err := s.current()
	if err != nil || refresh == "" {
		return client, err
	}

	s.renewMu.Lock()
	defer s.renewMu.Unlock()
	// Another caller may have renewed while this one waited.
	if client, refresh, err = s.current(); err != nil || refresh == "" {
		return client, err
	}

	tokens, err := s.base.RefreshAccess(ctx, refresh)
	if err != nil {
		if crmapi.IsAuthorization(err) {
			return nil, fmt.Errorf("%w: crm refresh token rejected: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("renew crm access token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, ErrExpired
	}
	s.client = s.base.WithToken(tokens.Access)
	s.refreshToken = tokens.Refresh
	s.accessExpires = crmTokenExpiry(tokens.Access)
	return s.client, nil
}

// current returns the bound client, plus the refresh token when the access
// token needs renewing.
func (s *Session) current() (*crmapi.Client, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, "", ErrExpired
	}
	if s.accessExpires.IsZero() || s.now().Add(accessRefreshSkew).Before(s.accessExpires) {
		return s.client, "", nil
	}
	return s.client, s.refreshToken, nil
}

// ListViewings implements notification.Source with the session credentials.
func (s *Session) ListViewings(ctx context.Context) ([]domain.Viewing, error) {
	c, err := s.CRM(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListViewings(ctx)
}

// ListProperties implements notification.Source.
func (s *Session) ListProperties(ctx context.Context) ([]domain.Property, error) {
	c, err := s.CRM(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListProperties(ctx)
}

// ListClients implements notification.Source.
func (s *Session) ListClients(ctx context.Context) ([]domain.Client, error) {
	c, err := s.CRM(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListClients(ctx)
}

// LastSeen returns the last time the session was used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time, idle time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || !now.Before(s.ExpiresAt) {
		return true
	}
	return idle > 0 && now.Sub(s.lastSeen) > idle
}

// end stops background work and reports the refresh token to revoke. It is
// idempotent; only the first call returns a token.
func (s *Session) end() (client *crmapi.Client, refresh string, first bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, "", false
	}
	s.ended = true
	client, refresh = s.client, s.refreshToken
	s.mu.Unlock()

	s.Notifications.Close()
	s.poller.Stop()
	return client, refresh, true
}
