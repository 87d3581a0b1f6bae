package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-realtime/internal/messaging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/typing"
	"chat-realtime/internal/ws"
)

// GroupHandler serves the REST side of group chat.
type GroupHandler struct {
	groups   repositories.GroupRepository
	messages *messaging.Service
	presence *presence.Registry
	hub      *ws.Hub
	typing   *typing.Registry
	audit    *telemetry.AuditEmitter
	logger   *zap.Logger
}

// NewGroupHandler constructs a GroupHandler. hub and typists may be nil
// when no realtime fan-out is wanted.
func NewGroupHandler(groups repositories.GroupRepository, messages *messaging.Service, presence *presence.Registry, hub *ws.Hub, typists *typing.Registry, audit *telemetry.AuditEmitter, logger *zap.Logger) *GroupHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GroupHandler{
		groups:   groups,
		messages: messages,
		presence: presence,
		hub:      hub,
		typing:   typists,
		audit:    audit,
		logger:   logger,
	}
}

// Register mounts the group routes on r.
func (h *GroupHandler) Register(r gin.IRouter) {
	r.GET("/groups/:group_id/messages", h.GetGroupMessages)
	r.GET("/groups/:group_id/online", h.GetOnlineUsers)
	r.DELETE("/groups/:group_id/members/me", h.LeaveGroup)
	r.PUT("/groups/:group_id/owner", h.TransferOwnership)
	r.DELETE("/groups/:group_id/messages/:message_id", h.DeleteMessage)
}

// GetGroupMessages handles GET /groups/:group_id/messages?limit&before.
func (h *GroupHandler) GetGroupMessages(c *gin.Context) {
	user, groupID, ok := h.caller(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	before, err := queryInt(c, "before")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before"})
		return
	}

	views, err := h.messages.History(c.Request.Context(), user, groupID, int(limit), before)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "messages": views})
}

// GetOnlineUsers handles GET /groups/:group_id/online.
func (h *GroupHandler) GetOnlineUsers(c *gin.Context) {
	user, groupID, ok := h.caller(c)
	if !ok {
		return
	}
	if err := h.messages.CheckMember(c.Request.Context(), groupID, user.ID); err != nil {
		writeError(c, err)
		return
	}
	users, err := h.presence.OnlineUsers(c.Request.Context(), &groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OnlineUsers{GroupID: &groupID, Users: users})
}

// LeaveGroup handles DELETE /groups/:group_id/members/me.
func (h *GroupHandler) LeaveGroup(c *gin.Context) {
	user, groupID, ok := h.caller(c)
	if !ok {
		return
	}

	deactivated, err := h.groups.LeaveGroup(c.Request.Context(), groupID, user.ID)
	switch {
	case errors.Is(err, repositories.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	case errors.Is(err, repositories.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	case err != nil:
		h.logger.Error("leave group failed", zap.Int64("group_id", groupID), zap.Int64("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not leave group"})
		return
	}

	if h.typing != nil {
		h.typing.Stop(user.ID, groupID)
	}
	if h.hub != nil && h.hub.EvictUser(user.ID, groupID) > 0 {
		h.hub.BroadcastRoom(models.GroupRoom(groupID), models.Event{
			Event: models.EventUserOffline,
			Data:  models.PresencePayload{UserID: user.ID, GroupID: groupID},
		}, "")
	}
	h.emitAudit(c, "INFO", telemetry.ActionGroupLeft, map[string]string{
		"group_id":    strconv.FormatInt(groupID, 10),
		"deactivated": strconv.FormatBool(deactivated),
	})
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "group_deactivated": deactivated})
}

// TransferOwnership handles PUT /groups/:group_id/owner.
func (h *GroupHandler) TransferOwnership(c *gin.Context) {
	user, groupID, ok := h.caller(c)
	if !ok {
		return
	}

	var req struct {
		NewOwnerID int64 `json:"new_owner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.NewOwnerID == user.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "already the owner"})
		return
	}

	err := h.groups.TransferOwnership(c.Request.Context(), groupID, user.ID, req.NewOwnerID)
	switch {
	case errors.Is(err, repositories.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	case errors.Is(err, repositories.ErrNotMember):
		c.JSON(http.StatusBadRequest, gin.H{"error": "new owner is not a member"})
		return
	case errors.Is(err, repositories.ErrOwnershipConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "caller is not the current owner"})
		return
	case err != nil:
		h.logger.Error("transfer ownership failed", zap.Int64("group_id", groupID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not transfer ownership"})
		return
	}

	h.emitAudit(c, "INFO", telemetry.ActionOwnershipTransfer, map[string]string{
		"group_id":     strconv.FormatInt(groupID, 10),
		"new_owner_id": strconv.FormatInt(req.NewOwnerID, 10),
	})
	c.JSON(http.StatusOK, gin.H{"group_id": groupID, "owner_id": req.NewOwnerID})
}

// DeleteMessage handles DELETE /groups/:group_id/messages/:message_id.
func (h *GroupHandler) DeleteMessage(c *gin.Context) {
	user, groupID, ok := h.caller(c)
	if !ok {
		return
	}
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil || messageID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	if err := h.messages.CheckMember(c.Request.Context(), groupID, user.ID); err != nil {
		writeError(c, err)
		return
	}

	msg, err := h.messages.DeleteInGroup(c.Request.Context(), user, groupID, messageID)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.hub != nil {
		h.hub.BroadcastRoom(models.GroupRoom(msg.GroupID), models.Event{
			Event: models.EventMessageDeleted,
			Data:  models.MessageDeleted{MessageID: msg.ID, GroupID: msg.GroupID},
		}, "")
	}
	h.emitAudit(c, "INFO", telemetry.ActionMessageDeleted, map[string]string{
		"message_id": strconv.FormatInt(msg.ID, 10),
		"group_id":   strconv.FormatInt(msg.GroupID, 10),
	})
	c.Status(http.StatusNoContent)
}

// caller extracts the authenticated user and the group id path parameter,
// answering the request itself when either is missing.
func (h *GroupHandler) caller(c *gin.Context) (models.User, int64, bool) {
	user, ok := userFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return models.User{}, 0, false
	}
	groupID, err := strconv.ParseInt(c.Param("group_id"), 10, 64)
	if err != nil || groupID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return models.User{}, 0, false
	}
	return user, groupID, true
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, action string, attrs map[string]string) {
	h.audit.Emit(c.Request.Context(), level, action, requestIDFromContext(c), externalIDFromContext(c), attrs)
}

func queryInt(c *gin.Context, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
