package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunchroulette/server/config"
	"github.com/lunchroulette/server/internal/handler"
	"github.com/lunchroulette/server/internal/service"
	"github.com/lunchroulette/server/internal/utils"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
	"github.com/lunchroulette/server/utils/ratelimit"
)

type MiddlewareManager struct {
	authService  service.IAuthService
	rateLimiter  ratelimit.Limiter
	rateLimitCfg *config.RateLimitConfig
	serverCfg    *config.ServerConfig
	cookieName   string
	pool         *utils.WorkerPool
	logger       *logger.Logger
}

// NewMiddlewareManager wires the shared middleware. rateLimiter and pool may be
// nil, which disables rate limiting and the bounded pool.
func NewMiddlewareManager(
	authService service.IAuthService,
	rateLimiter ratelimit.Limiter,
	rateLimitCfg *config.RateLimitConfig,
	serverCfg *config.ServerConfig,
	cookieName string,
	pool *utils.WorkerPool,
	logger *logger.Logger,
) *MiddlewareManager {
	return &MiddlewareManager{
		authService:  authService,
		rateLimiter:  rateLimiter,
		rateLimitCfg: rateLimitCfg,
		serverCfg:    serverCfg,
		cookieName:   cookieName,
		pool:         pool,
		logger:       logger,
	}
}

// SessionAuth requires a valid session from the cookie or a Bearer header.
func (m *MiddlewareManager) SessionAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := session.TokenFromRequest(c.Request, m.cookieName)
		identity, err := m.authService.Verify(c.Request.Context(), token)
		if err != nil {
			status, code := handler.Status(err)
			if status == http.StatusServiceUnavailable {
				m.logger.ErrorContext(c.Request.Context(), "session store unavailable", zap.Error(err))
				c.AbortWithStatusJSON(status, gin.H{"error": service.ErrPersistenceUnavailable.Error(), "code": code})
				return
			}
			m.logger.WarnContext(c.Request.Context(), "session rejected",
				zap.String("ip", c.ClientIP()),
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": service.ErrUnauthenticated.Error(),
				"code":  handler.CodeUnauthenticated,
			})
			return
		}

		c.Set(session.ContextUserID, identity.UserID)
		c.Set(session.ContextIdentity, identity)
		c.Next()
	}
}

// RateLimit applies the endpoint's rule per user, or per IP before login.
func (m *MiddlewareManager) RateLimit(endpoint string) gin.HandlerFunc {
	if m.rateLimiter == nil || m.rateLimitCfg == nil {
		return func(c *gin.Context) { c.Next() }
	}
	rule := ratelimit.RuleFor(endpoint, m.rateLimitCfg)

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var key string
		if userID := c.GetUint(session.ContextUserID); userID != 0 {
			key = fmt.Sprintf("user:%d:%s", userID, endpoint)
		} else {
			key = fmt.Sprintf("ip:%s:%s", c.ClientIP(), endpoint)
		}

		allowed, err := m.rateLimiter.Allow(ctx, key, rule)
		if err != nil {
			// the limiter is failing closed
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "rate limit check failed",
				"code":  handler.CodeUnavailable,
			})
			return
		}
		if !allowed {
			remaining, _ := m.rateLimiter.Remaining(ctx, key, rule)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"code":        "rate_limited",
				"retry_after": int(rule.Window.Seconds()),
				"remaining":   remaining,
			})
			return
		}

		c.Next()
	}
}

// Async runs the rest of the chain on the worker pool, so at most pool-size
// requests are handled at once while the rest wait in the queue. The calling
// goroutine blocks until the job finishes, so the gin.Context is never used
// by two goroutines at the same time.
func (m *MiddlewareManager) Async() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.pool == nil {
			c.Next()
			return
		}

		done := make(chan struct{})
		job := func() {
			defer close(done)
			// panics on a worker never reach Recovery
			defer m.recoverPanic(c)
			c.Next()
		}

		if err := m.pool.Submit(c.Request.Context(), job); err != nil {
			m.logger.WarnContext(c.Request.Context(), "request not scheduled", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "server busy",
				"code":  handler.CodeUnavailable,
			})
			return
		}
		<-done
	}
}

// CORS grants credentialed access only to origins on the server's allowed list.
func (m *MiddlewareManager) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Add("Vary", "Origin")
		origin := c.GetHeader("Origin")
		if m.serverCfg != nil && m.serverCfg.AllowsOrigin(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer m.recoverPanic(c)
		c.Next()
	}
}

func (m *MiddlewareManager) recoverPanic(c *gin.Context) {
	if err := recover(); err != nil {
		m.logger.ErrorContext(c.Request.Context(), "panic recovered",
			zap.Any("error", err),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error",
			"code":  handler.CodeInternal,
		})
	}
}

// Logger assigns the request trace id and logs the outcome.
func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return logger.Middleware(m.logger)
}
