package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lunchroulette/server/config"
	"github.com/lunchroulette/server/internal/service"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
)

type AuthHandler struct {
	authService service.IAuthService
	cookie      config.SessionConfig
	log         *logger.Logger
}

func NewAuthHandler(authService service.IAuthService, cookie config.SessionConfig, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookie:      cookie,
		log:         log,
	}
}

// Signup handles user registration
func (h *AuthHandler) Signup(c *gin.Context) {
	var req service.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.authService.Signup(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, user)
}

// Login opens a session, sets the session cookie and returns the token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	maxAge := int(time.Until(resp.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.CookieName, resp.Token, maxAge, "/", "", h.cookie.Secure, true)
	c.JSON(http.StatusOK, resp)
}

// Logout revokes the caller's session if there is one and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	if token := session.TokenFromRequest(c.Request, h.cookie.CookieName); token != "" {
		if err := h.authService.Logout(c.Request.Context(), token); err != nil {
			writeError(c, h.log, err)
			return
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.CookieName, "", -1, "/", "", h.cookie.Secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the identity behind the current session.
func (h *AuthHandler) Me(c *gin.Context) {
	value, ok := c.Get(session.ContextIdentity)
	identity, _ := value.(*session.Identity)
	if !ok || identity == nil {
		writeError(c, h.log, service.ErrUnauthenticated)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":    identity.UserID,
		"first_name": identity.FirstName,
		"last_name":  identity.LastName,
		"photo":      identity.Photo,
		"expires_at": identity.ExpiresAt,
	})
}
