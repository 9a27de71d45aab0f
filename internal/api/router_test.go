package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lunchroulette/server/config"
	"github.com/lunchroulette/server/internal/handler"
	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/pkg/redis"
	"github.com/lunchroulette/server/internal/repository"
	"github.com/lunchroulette/server/internal/service"
	"github.com/lunchroulette/server/internal/testutil"
	"github.com/lunchroulette/server/internal/utils"
	"github.com/lunchroulette/server/internal/ws"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
	"github.com/lunchroulette/server/utils/ratelimit"
)

const cookieName = "session"

type testApp struct {
	db     *gorm.DB
	mr     *miniredis.Miniredis
	router *gin.Engine
	hub    *ws.Hub
}

func newTestApp(t *testing.T, limits config.RateLimitConfig) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(func() { rdb.Close() })
	log := logger.NewNop()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := ws.NewHub(nil, log)
	require.NoError(t, hub.Start(ctx))

	pool := utils.NewWorkerPool(2, 16, zap.NewNop())
	pool.Start()
	t.Cleanup(pool.Stop)

	userRepo := repository.NewUserRepository(db, nil)
	groupRepo := repository.NewGroupRepository(db)
	memberRepo := repository.NewMembershipRepository(db)
	venueRepo := repository.NewVenueRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	auth := service.NewAuthService(userRepo, session.NewAuthenticator("router-secret", time.Hour, rdb), log)
	groups := service.NewGroupService(groupRepo, memberRepo, venueRepo, messageRepo, nil, time.UTC, log)
	members := service.NewMembershipService(memberRepo, nil, time.UTC, log)
	messages := service.NewMessageService(messageRepo, groupRepo, userRepo, hub, nil, log)

	limiter := ratelimit.NewFixedWindowLimiter(rdb.GetClient(), zap.NewNop(), false)
	server := &config.ServerConfig{AllowedOrigins: []string{"https://lunch.example"}}
	m := NewMiddlewareManager(auth, limiter, &limits, server, cookieName, pool, log)

	router := NewRouter(m, Handlers{
		Auth:    handler.NewAuthHandler(auth, config.SessionConfig{CookieName: cookieName}, log),
		Group:   handler.NewGroupHandler(groups, members, log),
		Message: handler.NewMessageHandler(messages, log),
		Live:    ws.NewHandler(hub, groups, server.AllowsOrigin, log),
	})
	return &testApp{db: db, mr: mr, router: router, hub: hub}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
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

func (a *testApp) login(t *testing.T, email, password string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/auth/signup", "", gin.H{
		"first_name": "Test", "last_name": "User", "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp service.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token
}

func TestRouter_HealthAndCORS(t *testing.T) {
	app := newTestApp(t, config.RateLimitConfig{})

	w := app.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(logger.RequestIDHeader))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/groups", nil)
	req.Header.Set("Origin", "https://lunch.example")
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://lunch.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "unlisted origins get no grant")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestRouter_SessionRequired(t *testing.T) {
	app := newTestApp(t, config.RateLimitConfig{})

	for _, path := range []string{"/api/v1/groups", "/api/v1/groups/mine", "/api/v1/venues", "/api/v1/auth/me"} {
		w := app.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := app.do(t, http.MethodGet, "/api/v1/groups", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_GroupFlow(t *testing.T) {
	app := newTestApp(t, config.RateLimitConfig{})
	token := app.login(t, "ada@example.com", "analytical")
	venue := testutil.CreateVenue(t, app.db, "Curry House")

	w := app.do(t, http.MethodPost, "/api/v1/groups", token, gin.H{
		"title":        "Curry Thursday",
		"venue_id":     venue.ID,
		"max_capacity": 3,
		"meeting_date": testutil.Day(1).Format("2006-01-02"),
		"meeting_time": "12:30",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var group model.Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))

	w = app.do(t, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/join", group.ID), token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), handler.CodeAlreadyMember)

	w = app.do(t, http.MethodGet, "/api/v1/groups", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.GroupSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Test", list[0].CreatorFirstName)

	w = app.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = app.do(t, http.MethodGet, "/api/v1/groups", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "revoked sessions are rejected")
}

func TestRouter_LoginRateLimit(t *testing.T) {
	app := newTestApp(t, config.RateLimitConfig{LoginPerMinute: 2})
	body := gin.H{"email": "nobody@example.com", "password": "whatever1"}

	for i := 0; i < 2; i++ {
		w := app.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := app.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestRouter_SessionStoreOutage(t *testing.T) {
	app := newTestApp(t, config.RateLimitConfig{})
	token := app.login(t, "grace@example.com", "compilers")

	app.mr.Close()
	w := app.do(t, http.MethodGet, "/api/v1/groups", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), handler.CodeUnavailable)
}

func TestRouter_LiveFeed(t *testing.T) {
	app := newTestApp(t, config.RateLimitConfig{})
	token := app.login(t, "lin@example.com", "clarinet!")
	venue := testutil.CreateVenue(t, app.db, "Taqueria")

	w := app.do(t, http.MethodPost, "/api/v1/groups", token, gin.H{
		"title":        "Tacos",
		"venue_id":     venue.ID,
		"max_capacity": 4,
		"meeting_date": testutil.Day(0).Format("2006-01-02"),
		"meeting_time": "13:00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var group model.Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))

	srv := httptest.NewServer(app.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/ws/groups/%d", group.ID)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Cookie", cookieName+"="+token)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Eventually(t, func() bool { return app.hub.Subscribers(group.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	w = app.do(t, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/messages", group.ID), token, gin.H{"body": "saved us a table"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, group.ID, env.GroupID)
	assert.Equal(t, "saved us a table", env.Message.Body)
}
