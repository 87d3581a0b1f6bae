package ws

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/typing"
)

func (c *Controller) routes() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		models.EventAuthenticate:        c.onAuthenticate,
		models.EventJoinGroup:           c.onJoinGroup,
		models.EventLeaveGroup:          c.onLeaveGroup,
		models.EventSendMessage:         c.onSendMessage,
		models.EventMarkMessageRead:     c.onMarkMessageRead,
		models.EventMarkMessagesRead:    c.onMarkMessagesRead,
		models.EventDeleteMessage:       c.onDeleteMessage,
		models.EventTypingStart:         c.onTypingStart,
		models.EventTypingStop:          c.onTypingStop,
		models.EventGetOnlineUsers:      c.onGetOnlineUsers,
		models.EventChangeStatus:        c.onChangeStatus,
		models.EventRequestSmartReplies: c.onRequestSmartReplies,
		models.EventLogout:              c.onLogout,
	}
}

// session returns the authenticated context or fails. Every handler
// re-checks it even though route already gated on state.
func session(client *Client) (*ConnectionContext, error) {
	cc, ok := client.Context()
	if !ok || client.State() != StateAuthenticated {
		return nil, apperr.New(apperr.KindAuthentication, apperr.CodeUnauthenticated, "authenticate first")
	}
	return cc, nil
}

func (c *Controller) onAuthenticate(ctx context.Context, client *Client, ev models.InboundEvent) error {
	var req models.AuthenticatePayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	if req.Token == "" {
		return apperr.Validation(apperr.CodeInvalidPayload, "token is required")
	}
	c.Authenticate(ctx, client, ev.RequestID, req.Token, req.DeviceType)
	return nil
}

func (c *Controller) onJoinGroup(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.GroupPayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	if err := requireGroupID(req.GroupID); err != nil {
		return err
	}

	group, err := c.Groups.GetGroup(ctx, req.GroupID)
	if errors.Is(err, repositories.ErrGroupNotFound) || (err == nil && !group.IsActive) {
		return withGroup(apperr.NotFound(apperr.CodeGroupNotFound, "group not found"), req.GroupID)
	}
	if err != nil {
		return withGroup(apperr.Transient("group store unavailable", err), req.GroupID)
	}
	if err := c.Messages.CheckMember(ctx, req.GroupID, cc.User.ID); err != nil {
		return withGroup(err, req.GroupID)
	}

	name := models.GroupRoom(req.GroupID)
	newly := c.Hub.Join(client, name)
	client.addGroup(req.GroupID)

	online, err := c.Presence.OnlineUserIDs(ctx, req.GroupID)
	if err != nil {
		c.logger.Warn("online snapshot failed", zap.Int64("group_id", req.GroupID), zap.Error(err))
		online = []int64{}
	}
	client.Send(models.Event{
		Event:     models.EventGroupJoined,
		RequestID: ev.RequestID,
		Data:      models.GroupJoined{Group: group, OnlineUserIDs: online},
	})
	if newly {
		c.Hub.BroadcastRoom(name, models.Event{
			Event: models.EventUserOnline,
			Data:  models.PresencePayload{UserID: cc.User.ID, GroupID: req.GroupID, Status: models.StatusOnline},
		}, client.ID())
	}
	return nil
}

func (c *Controller) onLeaveGroup(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.GroupPayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	if err := requireGroupID(req.GroupID); err != nil {
		return err
	}

	name := models.GroupRoom(req.GroupID)
	c.Typing.StopForConnection(cc.User.ID, req.GroupID, client.ID())
	wasMember := c.Hub.Leave(client, name)
	client.removeGroup(req.GroupID)

	client.Send(models.Event{
		Event:     models.EventGroupLeft,
		RequestID: ev.RequestID,
		Data:      models.GroupPayload{GroupID: req.GroupID},
	})
	if wasMember && !c.Hub.UserInRoom(cc.User.ID, name, client.ID()) {
		c.Hub.BroadcastRoom(name, models.Event{
			Event: models.EventUserOffline,
			Data:  models.PresencePayload{UserID: cc.User.ID, GroupID: req.GroupID},
		}, client.ID())
	}
	return nil
}

func (c *Controller) onSendMessage(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.SendMessagePayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	if err := requireGroupID(req.GroupID); err != nil {
		return withMessage(err, req.GroupID, req.ClientMessageID)
	}

	view, err := c.Messages.Send(ctx, cc.User, req)
	if err != nil {
		return withMessage(err, req.GroupID, req.ClientMessageID)
	}

	c.Typing.Stop(cc.User.ID, req.GroupID)
	client.Send(models.Event{
		Event:     models.EventMessageSent,
		RequestID: ev.RequestID,
		Data:      models.MessageSent{Message: view, ClientMessageID: req.ClientMessageID},
	})
	c.Hub.BroadcastRoom(models.GroupRoom(req.GroupID), models.Event{
		Event: models.EventNewMessage,
		Data:  models.NewMessage{Message: view},
	}, client.ID())
	return nil
}

func (c *Controller) onMarkMessageRead(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.MarkReadPayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	marked, at, err := c.Messages.MarkRead(ctx, cc.User, req.GroupID, []int64{req.MessageID})
	if err != nil {
		return err
	}
	if len(marked) == 0 {
		return nil
	}
	c.Hub.BroadcastRoom(models.GroupRoom(req.GroupID), models.Event{
		Event: models.EventMessageRead,
		Data:  models.MessageRead{GroupID: req.GroupID, MessageID: marked[0], UserID: cc.User.ExternalID, ReadAt: at},
	}, "")
	return nil
}

func (c *Controller) onMarkMessagesRead(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.MarkManyReadPayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	marked, at, err := c.Messages.MarkRead(ctx, cc.User, req.GroupID, req.MessageIDs)
	if err != nil {
		return err
	}
	if len(marked) == 0 {
		return nil
	}
	c.Hub.BroadcastRoom(models.GroupRoom(req.GroupID), models.Event{
		Event: models.EventMessagesRead,
		Data:  models.MessagesRead{GroupID: req.GroupID, MessageIDs: marked, UserID: cc.User.ExternalID, ReadAt: at},
	}, "")
	return nil
}

func (c *Controller) onDeleteMessage(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.DeleteMessagePayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	msg, err := c.Messages.Delete(ctx, cc.User, req.MessageID)
	if err != nil {
		return err
	}
	c.Audit.Emit(ctx, "INFO", telemetry.ActionMessageDeleted, ev.RequestID, cc.User.ExternalID, map[string]string{
		"message_id": strconv.FormatInt(msg.ID, 10),
		"group_id":   strconv.FormatInt(msg.GroupID, 10),
	})
	c.Hub.BroadcastRoom(models.GroupRoom(msg.GroupID), models.Event{
		Event: models.EventMessageDeleted,
		Data:  models.MessageDeleted{MessageID: msg.ID, GroupID: msg.GroupID},
	}, "")
	return nil
}

// typingTarget checks that the caller is a member and has joined the room.
func (c *Controller) typingTarget(ctx context.Context, client *Client, ev models.InboundEvent) (*ConnectionContext, int64, error) {
	cc, err := session(client)
	if err != nil {
		return nil, 0, err
	}
	var req models.GroupPayload
	if err := decode(ev, &req); err != nil {
		return nil, 0, err
	}
	if !client.InGroup(req.GroupID) {
		return nil, 0, apperr.Forbidden(apperr.CodeNotGroupMember, "join the group first")
	}
	if err := c.Messages.CheckMember(ctx, req.GroupID, cc.User.ID); err != nil {
		return nil, 0, err
	}
	return cc, req.GroupID, nil
}

func (c *Controller) onTypingStart(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, groupID, err := c.typingTarget(ctx, client, ev)
	if err != nil {
		return err
	}
	c.Typing.Start(typing.Typist{UserID: cc.User.ID, Username: cc.User.DisplayName(), ConnID: client.ID()}, groupID)
	return nil
}

func (c *Controller) onTypingStop(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, groupID, err := c.typingTarget(ctx, client, ev)
	if err != nil {
		return err
	}
	c.Typing.Stop(cc.User.ID, groupID)
	return nil
}

func (c *Controller) onGetOnlineUsers(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.OnlineUsersRequest
	if len(ev.Data) > 0 {
		if err := decode(ev, &req); err != nil {
			return err
		}
	}
	if req.GroupID != nil {
		if err := c.Messages.CheckMember(ctx, *req.GroupID, cc.User.ID); err != nil {
			return err
		}
	}
	users, err := c.Presence.OnlineUsers(ctx, req.GroupID)
	if err != nil {
		return err
	}
	client.Send(models.Event{
		Event:     models.EventOnlineUsers,
		RequestID: ev.RequestID,
		Data:      models.OnlineUsers{GroupID: req.GroupID, Users: users},
	})
	return nil
}

func (c *Controller) onChangeStatus(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.ChangeStatusPayload
	if err := decode(ev, &req); err != nil {
		return err
	}
	if err := c.Presence.SetStatus(ctx, client.ID(), req.Status); err != nil {
		return err
	}
	c.Hub.BroadcastRoom(models.PresenceRoom, models.Event{
		Event: models.EventUserStatusChanged,
		Data:  models.PresencePayload{UserID: cc.User.ID, Status: req.Status},
	}, "")
	return nil
}

func (c *Controller) onRequestSmartReplies(ctx context.Context, client *Client, ev models.InboundEvent) error {
	cc, err := session(client)
	if err != nil {
		return err
	}
	var req models.SmartRepliesRequest
	if err := decode(ev, &req); err != nil {
		return err
	}
	client.Send(models.Event{
		Event:     models.EventSmartReplies,
		RequestID: ev.RequestID,
		Data:      c.Messages.SuggestReplies(ctx, cc.User, req.GroupID, req.MessageID),
	})
	return nil
}

func (c *Controller) onLogout(ctx context.Context, client *Client, ev models.InboundEvent) error {
	if _, err := session(client); err != nil {
		return err
	}
	c.Disconnect(ctx, client, "logout")
	return nil
}
