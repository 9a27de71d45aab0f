package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lunchroulette/server/config"
	"github.com/lunchroulette/server/internal/model"
	"github.com/lunchroulette/server/internal/pkg/redis"
	"github.com/lunchroulette/server/internal/repository"
	"github.com/lunchroulette/server/internal/service"
	"github.com/lunchroulette/server/internal/testutil"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
)

const cookieName = "session"

type testServer struct {
	db     *gorm.DB
	router *gin.Engine
	auth   *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rdb.Close() })
	log := logger.NewNop()

	userRepo := repository.NewUserRepository(db, nil)
	groupRepo := repository.NewGroupRepository(db)
	memberRepo := repository.NewMembershipRepository(db)
	venueRepo := repository.NewVenueRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	auth := service.NewAuthService(userRepo, session.NewAuthenticator("handler-secret", time.Hour, rdb), log)
	groups := service.NewGroupService(groupRepo, memberRepo, venueRepo, messageRepo, nil, time.UTC, log)
	members := service.NewMembershipService(memberRepo, nil, time.UTC, log)
	messages := service.NewMessageService(messageRepo, groupRepo, userRepo, nil, nil, log)

	authHandler := NewAuthHandler(auth, config.SessionConfig{CookieName: cookieName}, log)
	groupHandler := NewGroupHandler(groups, members, log)
	messageHandler := NewMessageHandler(messages, log)

	r := gin.New()
	// X-User stands in for a verified session; a session cookie is verified for real.
	r.Use(func(c *gin.Context) {
		if id, err := strconv.ParseUint(c.GetHeader("X-User"), 10, 64); err == nil {
			c.Set(session.ContextUserID, uint(id))
		}
		if token := session.TokenFromRequest(c.Request, cookieName); token != "" {
			if identity, err := auth.Verify(c.Request.Context(), token); err == nil {
				c.Set(session.ContextUserID, identity.UserID)
				c.Set(session.ContextIdentity, identity)
			}
		}
	})

	r.POST("/auth/signup", authHandler.Signup)
	r.POST("/auth/login", authHandler.Login)
	r.POST("/auth/logout", authHandler.Logout)
	r.GET("/auth/me", authHandler.Me)
	r.GET("/venues", groupHandler.ListVenues)
	r.GET("/groups", groupHandler.ListGroups)
	r.POST("/groups", groupHandler.CreateGroup)
	r.GET("/groups/mine", groupHandler.MyGroups)
	r.GET("/groups/:id", groupHandler.GetGroup)
	r.PUT("/groups/:id", groupHandler.EditGroup)
	r.DELETE("/groups/:id", groupHandler.DeleteGroup)
	r.POST("/groups/:id/join", groupHandler.JoinGroup)
	r.DELETE("/groups/:id/membership", groupHandler.LeaveGroup)
	r.GET("/groups/:id/messages", messageHandler.ListMessages)
	r.POST("/groups/:id/messages", messageHandler.PostMessage)

	return &testServer{db: db, router: r, auth: auth}
}

func (s *testServer) do(t *testing.T, method, path string, user uint, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-User", strconv.FormatUint(uint64(user), 10))
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["code"]
}

func groupBody(venueID uint, days, capacity int) gin.H {
	return gin.H{
		"title":        "Ramen run",
		"description":  "counter seats only",
		"venue_id":     venueID,
		"max_capacity": capacity,
		"meeting_date": testutil.Day(days).Format("2006-01-02"),
		"meeting_time": "12:00",
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthenticated},
		{service.ErrForbidden, http.StatusForbidden, CodeForbidden},
		{service.ErrGroupNotFound, http.StatusNotFound, CodeGroupNotFound},
		{service.ErrAlreadyMember, http.StatusConflict, CodeAlreadyMember},
		{service.ErrCapacityExceeded, http.StatusConflict, CodeCapacityExceeded},
		{fmt.Errorf("%w: bad date", service.ErrInvalidInput), http.StatusBadRequest, CodeInvalidInput},
		{fmt.Errorf("join: %w: %w", service.ErrPersistenceUnavailable, errors.New("conn refused")), http.StatusServiceUnavailable, CodeUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := Status(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestGroupHandler_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	alice := testutil.CreateUser(t, s.db, "Alice", "A")
	bob := testutil.CreateUser(t, s.db, "Bob", "B")
	carol := testutil.CreateUser(t, s.db, "Carol", "C")
	venue := testutil.CreateVenue(t, s.db, "Noodle Bar")

	w := s.do(t, http.MethodPost, "/groups", alice.ID, groupBody(venue.ID, 2, 2))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	group := decode[model.Group](t, w)
	path := fmt.Sprintf("/groups/%d", group.ID)

	w = s.do(t, http.MethodGet, "/groups", 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]model.GroupSummary](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "Noodle Bar", list[0].VenueName)
	assert.Equal(t, 1, list[0].NumMembers)

	w = s.do(t, http.MethodPut, path, bob.ID, groupBody(venue.ID, 3, 4))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, CodeForbidden, errorCode(t, w))

	w = s.do(t, http.MethodPost, path+"/join", bob.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, path+"/join", bob.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeAlreadyMember, errorCode(t, w))

	w = s.do(t, http.MethodPost, path+"/join", carol.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeCapacityExceeded, errorCode(t, w))

	w = s.do(t, http.MethodPut, path, alice.ID, groupBody(venue.ID, 2, 1))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidCapacity, errorCode(t, w))

	w = s.do(t, http.MethodGet, path, carol.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[model.GroupDetail](t, w)
	assert.Equal(t, 2, detail.NumMembers)
	require.Len(t, detail.Members, 1)
	assert.Equal(t, bob.ID, detail.Members[0].UserID)

	w = s.do(t, http.MethodDelete, path+"/membership", bob.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodPost, path+"/join", carol.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, path, bob.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodDelete, path, alice.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodDelete, path, alice.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code, "deleting twice is fine")

	w = s.do(t, http.MethodGet, path, alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeGroupNotFound, errorCode(t, w))

	w = s.do(t, http.MethodGet, "/groups", 0, nil)
	assert.Empty(t, decode[[]model.GroupSummary](t, w))
}

func TestGroupHandler_BadRequests(t *testing.T) {
	s := newTestServer(t)
	alice := testutil.CreateUser(t, s.db, "Alice", "A")
	venue := testutil.CreateVenue(t, s.db, "Deli")

	w := s.do(t, http.MethodPost, "/groups", 0, groupBody(venue.ID, 1, 4))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := groupBody(venue.ID, 1, 4)
	delete(body, "title")
	w = s.do(t, http.MethodPost, "/groups", alice.ID, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidInput, errorCode(t, w))

	body = groupBody(venue.ID, 1, 4)
	body["meeting_date"] = "next friday"
	w = s.do(t, http.MethodPost, "/groups", alice.ID, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidInput, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/groups", alice.ID, groupBody(9999, 1, 4))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeVenueNotFound, errorCode(t, w))

	w = s.do(t, http.MethodGet, "/groups/abc", alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/groups/9999/join", alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeGroupNotFound, errorCode(t, w))
}

func TestGroupHandler_MineAndVenues(t *testing.T) {
	s := newTestServer(t)
	alice := testutil.CreateUser(t, s.db, "Alice", "A")
	bob := testutil.CreateUser(t, s.db, "Bob", "B")
	deli := testutil.CreateVenue(t, s.db, "Deli")
	testutil.CreateVenue(t, s.db, "Bistro")

	upcoming := testutil.CreateGroup(t, s.db, bob, deli, 1, 5)
	testutil.AddMember(t, s.db, upcoming, alice)
	past := testutil.CreateGroup(t, s.db, alice, deli, -3, 5)

	w := s.do(t, http.MethodGet, "/groups/mine", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[model.UserGroups](t, w)
	require.Len(t, mine.Current, 1)
	assert.Equal(t, upcoming.ID, mine.Current[0].ID)
	require.Len(t, mine.Past, 1)
	assert.Equal(t, past.ID, mine.Past[0].ID)

	w = s.do(t, http.MethodGet, "/groups/mine", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/venues", alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	venues := decode[[]model.Venue](t, w)
	require.Len(t, venues, 2)
	assert.Equal(t, "Bistro", venues[0].Name)
}

func TestMessageHandler(t *testing.T) {
	s := newTestServer(t)
	alice := testutil.CreateUser(t, s.db, "Alice", "A")
	group := testutil.CreateGroup(t, s.db, alice, testutil.CreateVenue(t, s.db, "Deli"), 1, 4)
	path := fmt.Sprintf("/groups/%d/messages", group.ID)

	w := s.do(t, http.MethodPost, path, alice.ID, gin.H{"body": "first!"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(t, http.MethodPost, path, alice.ID, gin.H{"body": "second"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodPost, path, alice.ID, gin.H{"body": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, path, alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	messages := decode[[]model.MessageView](t, w)
	require.Len(t, messages, 2)
	assert.Equal(t, "second", messages[0].Body)
	assert.Equal(t, "Alice", messages[0].FirstName)
	assert.Equal(t, "A", messages[0].LastName)

	w = s.do(t, http.MethodPost, "/groups/9999/messages", alice.ID, gin.H{"body": "hello?"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthHandler(t *testing.T) {
	s := newTestServer(t)
	signup := gin.H{
		"first_name": "Dana",
		"last_name":  "Scully",
		"email":      "Dana@Example.com",
		"password":   "trustno1!",
		"photo":      "dana.png",
	}

	w := s.do(t, http.MethodPost, "/auth/signup", 0, signup)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[model.User](t, w)
	assert.Equal(t, "dana@example.com", user.Email)
	assert.NotContains(t, w.Body.String(), "password")

	w = s.do(t, http.MethodPost, "/auth/signup", 0, signup)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeEmailTaken, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/auth/signup", 0, gin.H{"first_name": "X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/auth/login", 0, gin.H{"email": "dana@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeInvalidCredentials, errorCode(t, w))

	w = s.do(t, http.MethodPost, "/auth/login", 0, gin.H{"email": "DANA@example.com", "password": "trustno1!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	login := decode[service.LoginResponse](t, w)
	assert.NotEmpty(t, login.Token)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, login.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	w = s.do(t, http.MethodGet, "/auth/me", 0, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, "Dana", me["first_name"])
	assert.EqualValues(t, user.ID, me["user_id"])

	w = s.do(t, http.MethodPost, "/auth/logout", 0, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := w.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Negative(t, cleared[0].MaxAge)

	_, err := s.auth.Verify(t.Context(), login.Token)
	assert.ErrorIs(t, err, service.ErrUnauthenticated)

	w = s.do(t, http.MethodGet, "/auth/me", 0, nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/auth/logout", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code, "logout without a session still clears the cookie")
}
