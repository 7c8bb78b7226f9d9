package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/domain"
	"estatedesk.io/dashboard/internal/pkg/logger"
	"estatedesk.io/dashboard/internal/pkg/worker"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "json"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func crmJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("crm-side-secret"))
	require.NoError(t, err)
	return tok
}

// fakeCRM is a minimal CRM: one account, empty collections.
type fakeCRM struct {
	mu          sync.Mutex
	access      string
	refresh     string
	renewed     string
	blacklisted []string
	blacklist   int
	fetches     int

	// refreshHeld, when set, is signalled on a refresh request which then
	// waits for refreshGate to close.
	refreshHeld chan struct{}
	refreshGate chan struct{}
}

func (f *fakeCRM) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	authorized := func(r *http.Request) bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		h := r.Header.Get("Authorization")
		return h == "Bearer "+f.access || (f.renewed != "" && h == "Bearer "+f.renewed)
	}

	mux.HandleFunc("POST /token/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "pw" {
			reply(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		reply(w, http.StatusOK, map[string]string{"access": f.access, "refresh": f.refresh})
	})
	mux.HandleFunc("POST /token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		if f.refreshGate != nil {
			f.refreshHeld <- struct{}{}
			<-f.refreshGate
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		reply(w, http.StatusOK, map[string]string{"access": f.renewed})
	})
	mux.HandleFunc("POST /api/token/blacklist/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		f.blacklisted = append(f.blacklisted, body["refresh"])
		reply(w, f.blacklistStatus(), map[string]string{})
	})
	mux.HandleFunc("GET /auth/user/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			reply(w, http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"id": 42, "username": "mgr", "role": "MANAGER"})
	})
	for _, path := range []string{"/viewings/", "/properties/listings/", "/clients/"} {
		mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
			if !authorized(r) {
				reply(w, http.StatusUnauthorized, map[string]string{"detail": "invalid token"})
				return
			}
			f.mu.Lock()
			f.fetches++
			f.mu.Unlock()
			reply(w, http.StatusOK, []any{})
		})
	}
	return mux
}

func (f *fakeCRM) blacklistStatus() int {
	if f.blacklist != 0 {
		return f.blacklist
	}
	return http.StatusOK
}

func (f *fakeCRM) blacklistedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.blacklisted...)
}

var testTokenConfig = TokenConfig{
	SigningKey: []byte("session-signing-key-0123456789abcdef"),
	Issuer:     "estatedesk",
}

func newTestManager(t *testing.T, crm *fakeCRM, mutate func(*Config)) (*Manager, *fakeClock) {
	t.Helper()
	srv := httptest.NewServer(crm.handler(t))
	t.Cleanup(srv.Close)

	client, err := crmapi.New(crmapi.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 4, FetchPoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	cfg := Config{
		IdleTimeout:     30 * time.Minute,
		MaxLifetime:     12 * time.Hour,
		RefreshInterval: time.Hour,
		Token:           testTokenConfig,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	m := NewManager(cfg, client, pools, nil)
	clock := &fakeClock{now: time.Now()}
	m.now = clock.Now
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, clock
}

func TestLogin_StartsSessionAndPoller(t *testing.T) {
	crm := &fakeCRM{access: "acc", refresh: "ref"}
	m, _ := newTestManager(t, crm, nil)

	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)
	require.NotNil(t, grant.Session)
	assert.NotEmpty(t, grant.Token)
	assert.Equal(t, domain.RoleManager, grant.Session.Role)
	assert.Equal(t, int64(42), grant.Session.User.ID)
	assert.Equal(t, 1, m.Count())

	require.Eventually(t, func() bool {
		return !grant.Session.Notifications.LastRefreshed().IsZero()
	}, 2*time.Second, 10*time.Millisecond, "poller must refresh on activation")

	s, err := m.Authenticate(grant.Token)
	require.NoError(t, err)
	assert.Same(t, grant.Session, s)
}

func TestLogin_BadCredentials(t *testing.T) {
	m, _ := newTestManager(t, &fakeCRM{access: "acc", refresh: "ref"}, nil)

	_, err := m.Login(context.Background(), "mgr", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, crmapi.ErrUnauthorized)
	assert.Zero(t, m.Count())
}

func TestLogout_EndsSessionAndBlacklists(t *testing.T) {
	crm := &fakeCRM{access: "acc", refresh: "ref"}
	m, _ := newTestManager(t, crm, nil)
	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !grant.Session.Notifications.LastRefreshed().IsZero() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Logout(context.Background(), grant.Session.ID))

	assert.Equal(t, []string{"ref"}, crm.blacklistedTokens())
	assert.False(t, grant.Session.poller.Running())
	assert.Zero(t, m.Count())
	_, err = m.Authenticate(grant.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Logout(context.Background(), grant.Session.ID), ErrNotFound)
	_, err = grant.Session.CRM(context.Background())
	assert.ErrorIs(t, err, ErrExpired)
}

func TestLogout_BlacklistFailureStillEndsSession(t *testing.T) {
	crm := &fakeCRM{access: "acc", refresh: "ref", blacklist: http.StatusInternalServerError}
	m, _ := newTestManager(t, crm, nil)
	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background(), grant.Session.ID))
	assert.Zero(t, m.Count())
	assert.Empty(t, grant.Session.Notifications.Notifications())
}

func TestGet_IdleSessionExpires(t *testing.T) {
	m, clock := newTestManager(t, &fakeCRM{access: "acc", refresh: "ref"}, func(c *Config) {
		c.IdleTimeout = time.Minute
	})
	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, err = m.Get(grant.Session.ID)
	require.NoError(t, err, "activity within the idle timeout keeps the session")

	clock.Advance(61 * time.Second)
	_, err = m.Get(grant.Session.ID)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Zero(t, m.Count())
	assert.False(t, grant.Session.poller.Running())
}

func TestLogin_RefreshTokenExpiryBoundsLifetime(t *testing.T) {
	refreshExp := time.Now().Add(time.Hour).Truncate(time.Second)
	crm := &fakeCRM{access: "acc", refresh: crmJWT(t, refreshExp)}
	m, _ := newTestManager(t, crm, nil)

	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)
	assert.True(t, grant.ExpiresAt.Equal(refreshExp), "got %s want %s", grant.ExpiresAt, refreshExp)
}

func TestSweep_EndsExpiredSessions(t *testing.T) {
	m, clock := newTestManager(t, &fakeCRM{access: "acc", refresh: "ref"}, func(c *Config) {
		c.MaxLifetime = time.Hour
		c.IdleTimeout = 0
	})
	_, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)
	_, err = m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)

	assert.Zero(t, m.Sweep(clock.Now()))
	assert.Equal(t, 2, m.Sweep(clock.Now().Add(time.Hour)))
	assert.Zero(t, m.Count())
}

func TestSession_RenewsAccessToken(t *testing.T) {
	crm := &fakeCRM{refresh: "ref"}
	crm.access = crmJWT(t, time.Now().Add(10*time.Second))
	crm.renewed = crmJWT(t, time.Now().Add(time.Hour))
	m, _ := newTestManager(t, crm, nil)

	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)

	c, err := grant.Session.CRM(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crm.renewed, c.Token())

	again, err := grant.Session.CRM(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, again, "a fresh token is reused")
}

func TestSession_RenewalDoesNotBlockLookups(t *testing.T) {
	crm := &fakeCRM{
		refresh:     "ref",
		refreshHeld: make(chan struct{}, 1),
		refreshGate: make(chan struct{}),
	}
	crm.access = crmJWT(t, time.Now().Add(10*time.Second))
	crm.renewed = crmJWT(t, time.Now().Add(time.Hour))
	m, _ := newTestManager(t, crm, nil)

	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)

	renewed := make(chan *crmapi.Client, 1)
	go func() {
		c, err := grant.Session.CRM(context.Background())
		assert.NoError(t, err)
		renewed <- c
	}()

	select {
	case <-crm.refreshHeld:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh request never reached the CRM")
	}

	looked := make(chan struct{})
	go func() {
		defer close(looked)
		s, err := m.Get(grant.Session.ID)
		assert.NoError(t, err)
		assert.False(t, s.LastSeen().IsZero())
	}()
	select {
	case <-looked:
	case <-time.After(2 * time.Second):
		t.Fatal("session lookup blocked behind token renewal")
	}

	close(crm.refreshGate)
	select {
	case c := <-renewed:
		assert.Equal(t, crm.renewed, c.Token())
	case <-time.After(2 * time.Second):
		t.Fatal("renewal did not finish")
	}
}

func TestJanitor_StopsOnShutdown(t *testing.T) {
	m, _ := newTestManager(t, &fakeCRM{access: "acc", refresh: "ref"}, func(c *Config) {
		c.SweepInterval = 5 * time.Millisecond
	})
	require.NoError(t, m.StartJanitor(context.Background()))
	require.NoError(t, m.StartJanitor(context.Background()))

	_, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)

	m.Shutdown(context.Background())
	assert.Zero(t, m.Count())
}

func TestAuthenticate_RejectsForeignToken(t *testing.T) {
	m, _ := newTestManager(t, &fakeCRM{access: "acc", refresh: "ref"}, nil)

	other := TokenConfig{SigningKey: []byte("another-key-0123456789abcdef0123"), Issuer: "estatedesk"}
	forged, err := other.GenerateToken(&Session{ID: "x", User: domain.User{ID: 42}}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = m.Authenticate(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.Authenticate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOnEnd_RunsOncePerSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeCRM{access: "acc", refresh: "ref"}, nil)
	var mu sync.Mutex
	var ended []string
	m.OnEnd(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		ended = append(ended, id)
	})

	grant, err := m.Login(context.Background(), "mgr", "pw")
	require.NoError(t, err)
	require.NoError(t, m.Logout(context.Background(), grant.Session.ID))
	m.Shutdown(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{grant.Session.ID}, ended)
}
