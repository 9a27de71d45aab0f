package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunchroulette/server/internal/service"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
)

// Machine readable error codes returned next to the message.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidCredentials = "invalid_credentials"
	CodeForbidden          = "forbidden"
	CodeGroupNotFound      = "group_not_found"
	CodeVenueNotFound      = "venue_not_found"
	CodeUserNotFound       = "user_not_found"
	CodeAlreadyMember      = "already_member"
	CodeCapacityExceeded   = "capacity_exceeded"
	CodeEmailTaken         = "email_taken"
	CodeInvalidCapacity    = "invalid_capacity"
	CodeInvalidInput       = "invalid_input"
	CodeUnavailable        = "unavailable"
	CodeInternal           = "internal"
)

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrUnauthenticated, http.StatusUnauthorized, CodeUnauthenticated},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials},
	{service.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{service.ErrGroupNotFound, http.StatusNotFound, CodeGroupNotFound},
	{service.ErrVenueNotFound, http.StatusNotFound, CodeVenueNotFound},
	{service.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound},
	{service.ErrAlreadyMember, http.StatusConflict, CodeAlreadyMember},
	{service.ErrCapacityExceeded, http.StatusConflict, CodeCapacityExceeded},
	{service.ErrEmailTaken, http.StatusConflict, CodeEmailTaken},
	{service.ErrInvalidCapacity, http.StatusBadRequest, CodeInvalidCapacity},
	{service.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
}

// Status maps a service error to its HTTP status and code.
func Status(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	if errors.Is(err, service.ErrPersistenceUnavailable) {
		return http.StatusServiceUnavailable, CodeUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeError replies with the mapped status. Infrastructure details are logged,
// never returned.
func writeError(c *gin.Context, log *logger.Logger, err error) {
	status, code := Status(err)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		log.ErrorContext(c.Request.Context(), "store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		msg = service.ErrPersistenceUnavailable.Error()
	case http.StatusInternalServerError:
		log.ErrorContext(c.Request.Context(), "unexpected error", zap.String("path", c.FullPath()), zap.Error(err))
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": CodeInvalidInput})
}

// currentUser returns the caller set by the session middleware.
func currentUser(c *gin.Context) (uint, bool) {
	userID := c.GetUint(session.ContextUserID)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": service.ErrUnauthenticated.Error(), "code": CodeUnauthenticated})
		return 0, false
	}
	return userID, true
}

// groupID parses the :id path parameter. Anything unparsable names no group.
func groupID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": service.ErrGroupNotFound.Error(), "code": CodeGroupNotFound})
		return 0, false
	}
	return uint(id), true
}
