package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/notification"
	"estatedesk.io/dashboard/internal/pkg/logger"
	"estatedesk.io/dashboard/internal/pkg/worker"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "estatedesk_sessions_active",
		Help: "Signed-in dashboard sessions",
	})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "estatedesk_sessions_ended_total",
		Help: "Ended dashboard sessions by reason",
	}, []string{"reason"})
)

// Config holds session lifecycle settings.
type Config struct {
	// IdleTimeout ends sessions unused for this long.
	IdleTimeout time.Duration
	// MaxLifetime caps a session regardless of activity.
	MaxLifetime time.Duration
	// SweepInterval is the janitor period.
	SweepInterval time.Duration
	// LogoutTimeout bounds the best-effort token blacklist call.
	LogoutTimeout time.Duration

	RefreshInterval time.Duration
	RefreshTimeout  time.Duration
	Rules           notification.Rules

	Token TokenConfig
}

// Grant is the result of a successful login.
type Grant struct {
	Session   *Session
	Token     string
	ExpiresAt time.Time
}

// Manager creates, resolves and ends sessions.
type Manager struct {
	cfg      Config
	crm      *crmapi.Client
	pools    *worker.Pools
	observer notification.Observer
	now      func() time.Time
	log      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	hooksMu  sync.Mutex
	endHooks []func(sessionID string)

	janitorMu     sync.Mutex
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
}

// NewManager creates a Manager. crm must be an unauthenticated client; each
// session derives its own bound copy.
func NewManager(cfg Config, crm *crmapi.Client, pools *worker.Pools, observer notification.Observer) *Manager {
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = 12 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = 5 * time.Second
	}
	if cfg.Rules == (notification.Rules{}) {
		cfg.Rules = notification.DefaultRules()
	}
	return &Manager{
		cfg:      cfg,
		crm:      crm,
		pools:    pools,
		observer: observer,
		now:      time.Now,
		log:      logger.Component("session"),
		sessions: make(map[string]*Session),
	}
}

// OnEnd registers fn to run after a session ends, whatever the reason.
func (m *Manager) OnEnd(fn func(sessionID string)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.endHooks = append(m.endHooks, fn)
}

// Login authenticates against the CRM, loads the user, starts the user's
// notification poller and returns a signed session token.
func (m *Manager) Login(ctx context.Context, username, password string) (*Grant, error) {
	tokens, err := m.crm.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	client := m.crm.WithToken(tokens.Access)
	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("load current user: %w", err)
	}

	now := m.now()
	expiresAt := now.Add(m.cfg.MaxLifetime)
	if refreshExp := crmTokenExpiry(tokens.Refresh); !refreshExp.IsZero() && refreshExp.Before(expiresAt) {
		expiresAt = refreshExp
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	s := &Session{
		ID:            id.String(),
		User:          user,
		Role:          user.Role,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
		base:          m.crm,
		now:           m.now,
		client:        client,
		refreshToken:  tokens.Refresh,
		accessExpires: crmTokenExpiry(tokens.Access),
		lastSeen:      now,
	}
	userKey := fmt.Sprintf("%d", user.ID)
	s.Notifications = notification.NewAggregator(userKey, s, m.pools.Fetch,
		notification.WithRules(m.cfg.Rules),
		notification.WithObserver(m.observer),
		notification.WithClock(m.now),
	)
	s.poller = notification.NewPoller(s.Notifications, m.cfg.RefreshInterval, m.cfg.RefreshTimeout,
		logger.Component("notification_poller", zap.String("user_id", userKey)))

	token, err := m.cfg.Token.GenerateToken(s, expiresAt)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	activeSessions.Inc()

	// Detached from the login request: the poller lives as long as the session.
	s.poller.Start(context.Background())

	m.log.Info("Session started",
		zap.String("session_id", s.ID),
		zap.String("username", user.Username),
		zap.String("role", string(user.Role)),
		zap.Time("expires_at", expiresAt),
	)
	return &Grant{Session: s, Token: token, ExpiresAt: expiresAt}, nil
}

// Get returns the live session id and records the access. Expired sessions
// are ended on the spot.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	now := m.now()
	if s.expired(now, m.cfg.IdleTimeout) {
		m.end(context.Background(), s, "expired")
		return nil, ErrExpired
	}
	s.touch(now)
	return s, nil
}

// Authenticate validates a session token and resolves its session.
func (m *Manager) Authenticate(token string) (*Session, error) {
	claims, err := m.cfg.Token.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	s, err := m.Get(claims.SessionID)
	if err != nil {
		return nil, err
	}
	if s.User.ID != claims.UserID {
		return nil, fmt.Errorf("%w: user mismatch", ErrInvalidToken)
	}
	return s, nil
}

// Logout ends session id: its poller stops, in-flight refresh results are
// discarded and the CRM refresh token is blacklisted on a best-effort basis.
func (m *Manager) Logout(ctx context.Context, id string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	m.end(ctx, s, "logout")
	return nil
}

// Sweep ends every session expired at now and returns how many were ended.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.expired(now, m.cfg.IdleTimeout) {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		m.end(context.Background(), s, "expired")
	}
	return len(stale)
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor runs Sweep every SweepInterval as a detached task on the
// general worker pool until ctx ends, Shutdown is called or the pools stop.
func (m *Manager) StartJanitor(ctx context.Context) error {
	m.janitorMu.Lock()
	defer m.janitorMu.Unlock()
	if m.janitorCancel != nil {
		return nil
	}

	jctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	err := m.pools.SubmitDetached(worker.PoolGeneral, func(service context.Context) {
		defer close(done)
		// Stop with whichever ends first: the caller's context, Shutdown, or
		// the pools themselves.
		stop := context.AfterFunc(service, cancel)
		defer stop()
		ctx := jctx
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(m.now()); n > 0 {
					m.log.Info("Expired sessions swept", zap.Int("count", n))
				}
			}
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start session janitor: %w", err)
	}
	m.janitorCancel = cancel
	m.janitorDone = done
	return nil
}

// Shutdown stops the janitor and ends every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.janitorMu.Lock()
	if m.janitorCancel != nil {
		m.janitorCancel()
		select {
		case <-m.janitorDone:
		case <-ctx.Done():
		}
		m.janitorCancel = nil
	}
	m.janitorMu.Unlock()

	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		m.end(ctx, s, "shutdown")
	}
}

func (m *Manager) end(ctx context.Context, s *Session, reason string) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.ID]; ok && cur == s {
		delete(m.sessions, s.ID)
		activeSessions.Dec()
	}
	m.mu.Unlock()

	client, refresh, first := s.end()
	if !first {
		return
	}
	sessionsEnded.WithLabelValues(reason).Inc()

	m.hooksMu.Lock()
	hooks := append([]func(string){}, m.endHooks...)
	m.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(s.ID)
	}

	if refresh != "" {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.LogoutTimeout)
		defer cancel()
		if err := client.Blacklist(bctx, refresh); err != nil && !errors.Is(err, crmapi.ErrUnauthorized) {
			m.log.Warn("Failed to blacklist CRM refresh token, continuing logout",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
		}
	}

	m.log.Info("Session ended",
		zap.String("session_id", s.ID),
		zap.String("username", s.User.Username),
		zap.String("reason", reason),
		zap.Time("last_seen", s.LastSeen()),
	)
}
