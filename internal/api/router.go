package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunchroulette/server/internal/handler"
	"github.com/lunchroulette/server/internal/ws"
	"github.com/lunchroulette/server/utils/ratelimit"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Group   *handler.GroupHandler
	Message *handler.MessageHandler
	Live    *ws.Handler
}

// NewRouter builds the gin engine with every route of the service.
func NewRouter(m *MiddlewareManager, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(m.Logger(), m.Recovery(), m.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public routes
	api := r.Group("/api/v1")
	api.Use(m.Async())
	{
		auth := api.Group("/auth")
		{
			auth.POST("/signup", m.RateLimit(ratelimit.EndpointSignup), h.Auth.Signup)
			auth.POST("/login", m.RateLimit(ratelimit.EndpointLogin), h.Auth.Login)
			auth.POST("/logout", h.Auth.Logout)
		}
	}

	// Protected routes
	protected := api.Group("")
	protected.Use(m.SessionAuth(), m.RateLimit(ratelimit.EndpointAPI))
	{
		protected.GET("/auth/me", h.Auth.Me)
		protected.GET("/venues", h.Group.ListVenues)

		groups := protected.Group("/groups")
		{
			groups.GET("", h.Group.ListGroups)
			groups.POST("", h.Group.CreateGroup)
			groups.GET("/mine", h.Group.MyGroups)
			groups.GET("/:id", h.Group.GetGroup)
			groups.PUT("/:id", h.Group.EditGroup)
			groups.DELETE("/:id", h.Group.DeleteGroup)
			groups.POST("/:id/join", h.Group.JoinGroup)
			groups.DELETE("/:id/membership", h.Group.LeaveGroup)
			groups.GET("/:id/messages", h.Message.ListMessages)
			groups.POST("/:id/messages", h.Message.PostMessage)
		}
	}

	live := r.Group("/ws")
	live.Use(m.SessionAuth())
	live.GET("/groups/:id", h.Live.Serve)

	return r
}
