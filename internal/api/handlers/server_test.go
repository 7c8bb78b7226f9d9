package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk.io/dashboard/internal/api/middleware"
	"estatedesk.io/dashboard/internal/crmapi"
	"estatedesk.io/dashboard/internal/domain"
	"estatedesk.io/dashboard/internal/notification"
	"estatedesk.io/dashboard/internal/pkg/logger"
	"estatedesk.io/dashboard/internal/pkg/validator"
	"estatedesk.io/dashboard/internal/pkg/worker"
	"estatedesk.io/dashboard/internal/service"
	"estatedesk.io/dashboard/internal/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := logger.Init("error", "json"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// crmStub is a CRM with three accounts whose password equals the username.
type crmStub struct {
	mu          sync.Mutex
	failLists   bool
	blacklisted int
}

var stubRoles = map[string]string{"agent": "AGENT", "manager": "MANAGER", "admin": "ADMIN"}

func (f *crmStub) setFailLists(v bool) {
	f.mu.Lock()
	f.failLists = v
	f.mu.Unlock()
}

func (f *crmStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if v != nil {
			_ = json.NewEncoder(w).Encode(v)
		}
	}
	userOf := func(r *http.Request) string {
		return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer access-")
	}
	at := func(d time.Duration) string { return time.Now().Add(d).UTC().Format(time.RFC3339) }

	mux.HandleFunc("POST /token/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := stubRoles[body["username"]]; !ok || body["password"] != body["username"] {
			reply(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
			return
		}
		reply(w, http.StatusOK, map[string]string{"access": "access-" + body["username"], "refresh": "refresh-" + body["username"]})
	})
	mux.HandleFunc("POST /api/token/blacklist/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.blacklisted++
		f.mu.Unlock()
		reply(w, http.StatusOK, map[string]string{})
	})
	mux.HandleFunc("GET /auth/user/", func(w http.ResponseWriter, r *http.Request) {
		name := userOf(r)
		reply(w, http.StatusOK, map[string]any{"id": len(name), "username": name, "role": stubRoles[name]})
	})
	list := func(items []map[string]any) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			fail := f.failLists
			f.mu.Unlock()
			if fail {
				reply(w, http.StatusServiceUnavailable, map[string]string{"detail": "maintenance"})
				return
			}
			reply(w, http.StatusOK, map[string]any{"results": items, "next": nil})
		}
	}
	mux.HandleFunc("GET /viewings/", list([]map[string]any{
		{"id": 1, "property_address": "12 Hope Rd", "client_name": "Ann", "viewing_datetime": at(90 * time.Minute), "status": "SCHEDULED"},
	}))
	mux.HandleFunc("GET /properties/listings/", list([]map[string]any{
		{"id": 2, "street_address": "4 Kings Way", "town": "Kingston", "status": "AVAILABLE", "created_at": at(-time.Hour)},
	}))
	mux.HandleFunc("GET /clients/", list([]map[string]any{
		{"id": 3, "client_name": "Bob", "last_contacted": at(-4 * 24 * time.Hour)},
		// Not a CRM date format; the record is ignored, the rest of the feed stands.
		{"id": 4, "client_name": "Cara", "last_contacted": "03/10/2026"},
	}))
	mux.HandleFunc("GET /properties/listings/commission_stats/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"total_sales_count": 4, "total_sales_value": "1000000.00", "recent_sales": []any{}})
	})
	mux.HandleFunc("GET /users/users/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{{"id": 5, "username": "agent", "role": "AGENT"}})
	})
	mux.HandleFunc("GET /settings/parishes/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{{"id": 1, "name": "Kingston"}})
	})
	return mux
}

type testAPI struct {
	router   *gin.Engine
	crm      *crmStub
	sessions *session.Manager
	ready    error
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	stub := &crmStub{}
	srv := httptest.NewServer(stub.handler(t))
	t.Cleanup(srv.Close)

	client, err := crmapi.New(crmapi.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	pools, err := worker.NewPools(context.Background(), worker.PoolConfig{GeneralPoolSize: 4, FetchPoolSize: 8})
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	sessions := session.NewManager(session.Config{
		IdleTimeout:     time.Hour,
		RefreshInterval: time.Hour,
		Token:           session.TokenConfig{SigningKey: []byte("handler-test-signing-key-0123456789"), Issuer: "estatedesk"},
	}, client, pools, nil)
	t.Cleanup(func() { sessions.Shutdown(context.Background()) })

	v := validator.New()
	settings := service.NewSettingsService(v, service.CacheConfig{Size: 8, TTL: time.Minute})
	sessions.OnEnd(settings.Forget)

	api := &testAPI{crm: stub, sessions: sessions}
	server := NewServer(ServerDeps{
		Sessions:   sessions,
		Commission: service.NewCommissionService(),
		Users:      service.NewUserService(v),
		Settings:   settings,
		Readiness: []ReadinessCheck{{Name: "crm", Check: func(context.Context) error {
			return api.ready
		}}},
		Pools: pools,
	})

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.ErrorHandler())
	group := router.Group("/api/v1", middleware.SessionAuth(sessions, func(path string) bool {
		return path == "/api/v1/auth/login" || strings.HasPrefix(path, "/api/v1/health/")
	}))
	server.Register(group)
	api.router = router
	return api
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) login(t *testing.T, username string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: username, Password: username})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (a *testAPI) waitForFeed(t *testing.T, token string) NotificationFeed {
	t.Helper()
	var feed NotificationFeed
	require.Eventually(t, func() bool {
		feed = decode[NotificationFeed](t, a.do(t, http.MethodGet, "/api/v1/notifications", token, nil))
		return feed.LastRefreshed != nil
	}, 2*time.Second, 10*time.Millisecond)
	return feed
}

func notificationIDs(items []notification.Notification) []string {
	out := make([]string, 0, len(items))
	for _, n := range items {
		out = append(out, n.ID)
	}
	return out
}

func TestLoginAndMe(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Username: "manager", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_FAILED", decode[middleware.ErrorBody](t, w).Code)

	token := api.login(t, "manager")
	me := decode[MeResponse](t, api.do(t, http.MethodGet, "/api/v1/auth/me", token, nil))
	assert.Equal(t, "manager", me.User.Username)
	assert.Equal(t, domain.RoleManager, me.Capabilities.Role)
	assert.True(t, me.Capabilities.ManageUsers)
	assert.False(t, me.Capabilities.EditSystemSettings)

	w = api.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutEndsSession(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "agent")

	w := api.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Zero(t, api.sessions.Count())

	w = api.do(t, http.MethodGet, "/api/v1/notifications", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SESSION_EXPIRED", decode[middleware.ErrorBody](t, w).Code)
}

func TestNotificationFeed(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "agent")

	feed := api.waitForFeed(t, token)
	assert.Equal(t, []string{"viewing-1", "client-stale-3", "property-new-2"}, notificationIDs(feed.Items))
	assert.Equal(t, 3, feed.UnreadCount)
	assert.False(t, feed.RefreshFailed)

	read := decode[ReadResponse](t, api.do(t, http.MethodPost, "/api/v1/notifications/viewing-1/read", token, nil))
	assert.Equal(t, ReadResponse{Updated: 1, UnreadCount: 2}, read)

	read = decode[ReadResponse](t, api.do(t, http.MethodPost, "/api/v1/notifications/nope-9/read", token, nil))
	assert.Equal(t, ReadResponse{Updated: 0, UnreadCount: 2}, read, "unknown ids are a no-op")

	unread := decode[NotificationFeed](t, api.do(t, http.MethodGet, "/api/v1/notifications?unread_only=true", token, nil))
	assert.Equal(t, []string{"client-stale-3", "property-new-2"}, notificationIDs(unread.Items))

	w := api.do(t, http.MethodPost, "/api/v1/notifications/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	refreshed := decode[NotificationFeed](t, w)
	assert.True(t, refreshed.Items[0].Read, "read state survives a refresh")

	read = decode[ReadResponse](t, api.do(t, http.MethodPost, "/api/v1/notifications/read-all", token, nil))
	assert.Equal(t, ReadResponse{Updated: 2, UnreadCount: 0}, read)

	count := decode[UnreadCountResponse](t, api.do(t, http.MethodGet, "/api/v1/notifications/unread-count", token, nil))
	assert.Zero(t, count.Count)
}

func TestNotificationRefreshFailureKeepsList(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "agent")
	before := api.waitForFeed(t, token)

	api.crm.setFailLists(true)
	w := api.do(t, http.MethodPost, "/api/v1/notifications/refresh", token, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "CRM_UNAVAILABLE", decode[middleware.ErrorBody](t, w).Code)

	after := decode[NotificationFeed](t, api.do(t, http.MethodGet, "/api/v1/notifications", token, nil))
	assert.Equal(t, notificationIDs(before.Items), notificationIDs(after.Items))
	assert.True(t, after.RefreshFailed)
}

func TestCommissionStatsByRole(t *testing.T) {
	api := newTestAPI(t)

	agentView := decode[service.CommissionView](t, api.do(t, http.MethodGet, "/api/v1/dashboard/commission-stats", api.login(t, "agent"), nil))
	assert.False(t, agentView.Authorized)
	assert.Nil(t, agentView.Stats)
	assert.NotEmpty(t, agentView.Notice)

	managerView := decode[service.CommissionView](t, api.do(t, http.MethodGet, "/api/v1/dashboard/commission-stats", api.login(t, "manager"), nil))
	assert.True(t, managerView.Authorized)
	require.NotNil(t, managerView.Stats)
	assert.Equal(t, 4, managerView.Stats.TotalSalesCount)
}

func TestUsersRoutes(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/users", api.login(t, "agent"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decode[middleware.ErrorBody](t, w)
	assert.Equal(t, "ACCESS_DENIED", body.Code)
	assert.Equal(t, "You are not authorized to view users. Please contact your administrator.", body.Message)

	manager := api.login(t, "manager")
	users := decode[UserList](t, api.do(t, http.MethodGet, "/api/v1/users", manager, nil))
	require.Len(t, users.Items, 1)

	w = api.do(t, http.MethodPost, "/api/v1/users", manager, domain.NewUser{
		Username: "boss", Email: "boss@example.com", Password: "long-enough", Role: domain.RoleAdmin,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Only Admin users can create other Admin users.", decode[middleware.ErrorBody](t, w).Message)

	w = api.do(t, http.MethodPost, "/api/v1/users", manager, domain.NewUser{Username: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[middleware.ErrorBody](t, w).FieldErrors)

	w = api.do(t, http.MethodDelete, "/api/v1/users/abc", manager, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST_FIELD", decode[middleware.ErrorBody](t, w).Code)
}

func TestSettingsRoutes(t *testing.T) {
	api := newTestAPI(t)
	agent := api.login(t, "agent")

	parishes := decode[ParishList](t, api.do(t, http.MethodGet, "/api/v1/settings/parishes", agent, nil))
	assert.Equal(t, []domain.Parish{{ID: 1, Name: "Kingston"}}, parishes.Items)

	w := api.do(t, http.MethodPost, "/api/v1/settings/parishes", agent, domain.Parish{Name: "Portland"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "You are not authorized to add parishes. Please contact your administrator.", decode[middleware.ErrorBody](t, w).Message)

	w = api.do(t, http.MethodPut, "/api/v1/settings/system", agent, domain.SystemSettings{})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	api.ready = errors.New("crm down")
	w = api.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	health := decode[Health](t, w)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, map[string]string{"crm": "error"}, health.Checks)
	assert.Equal(t, 4, health.Pools[worker.PoolGeneral].Cap)
	assert.Equal(t, 8, health.Pools[worker.PoolFetch].Cap)
}

func TestLogLevelRoute(t *testing.T) {
	api := newTestAPI(t)
	previous := logger.GetLevel()
	t.Cleanup(func() { _ = logger.SetLevel(previous.String()) })

	manager := api.login(t, "manager")
	w := api.do(t, http.MethodGet, "/api/v1/admin/log-level", manager, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Only Admin users can view or change the service log level.", decode[middleware.ErrorBody](t, w).Message)

	admin := api.login(t, "admin")
	got := decode[LogLevel](t, api.do(t, http.MethodGet, "/api/v1/admin/log-level", admin, nil))
	assert.Equal(t, previous.String(), got.Level)

	w = api.do(t, http.MethodPut, "/api/v1/admin/log-level", admin, LogLevel{Level: "debug"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "debug", decode[LogLevel](t, w).Level)
	assert.Equal(t, "debug", logger.GetLevel().String())

	w = api.do(t, http.MethodPut, "/api/v1/admin/log-level", admin, LogLevel{Level: "loud"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST_FIELD", decode[middleware.ErrorBody](t, w).Code)
	assert.Equal(t, "debug", logger.GetLevel().String())
}
