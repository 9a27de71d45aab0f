package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lunchroulette/server/internal/service"
	logger "github.com/lunchroulette/server/middleware/log"
)

type GroupHandler struct {
	groupService      service.IGroupService
	membershipService service.IMembershipService
	log               *logger.Logger
}

func NewGroupHandler(groupService service.IGroupService, membershipService service.IMembershipService, log *logger.Logger) *GroupHandler {
	return &GroupHandler{
		groupService:      groupService,
		membershipService: membershipService,
		log:               log,
	}
}

// ListGroups returns every visible group, soonest first.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	groups, err := h.groupService.ListVisible(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req service.GroupParams
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	group, err := h.groupService.CreateGroup(c.Request.Context(), userID, &req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

// MyGroups returns the caller's current and past groups.
func (h *GroupHandler) MyGroups(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	groups, err := h.groupService.ListForUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *GroupHandler) GetGroup(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}

	detail, err := h.groupService.GetGroupDetail(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *GroupHandler) EditGroup(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	var req service.GroupParams
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	group, err := h.groupService.EditGroup(c.Request.Context(), userID, id, &req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.groupService.SoftDeleteGroup(c.Request.Context(), userID, id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// JoinGroup takes a seat in the group. A full group or a repeated join is a 409
// with a code telling the two apart.
func (h *GroupHandler) JoinGroup(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.membershipService.Join(c.Request.Context(), id, userID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Joined group successfully"})
}

func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	id, ok := groupID(c)
	if !ok {
		return
	}
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.membershipService.Leave(c.Request.Context(), id, userID); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListVenues feeds the venue picker of the group form.
func (h *GroupHandler) ListVenues(c *gin.Context) {
	venues, err := h.groupService.ListVenues(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, venues)
}
