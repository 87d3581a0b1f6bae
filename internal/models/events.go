package models

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventAuthenticate        = "authenticate"
	EventJoinGroup           = "join_group"
	EventLeaveGroup          = "leave_group"
	EventSendMessage         = "send_message"
	EventMarkMessageRead     = "mark_message_read"
	EventMarkMessagesRead    = "mark_messages_read"
	EventDeleteMessage       = "delete_message"
	EventTypingStart         = "typing_start"
	EventTypingStop          = "typing_stop"
	EventGetOnlineUsers      = "get_online_users"
	EventChangeStatus        = "change_status"
	EventRequestSmartReplies = "request_smart_replies"
	EventLogout              = "logout"
)

// Outbound event names.
const (
	EventAuthenticationSuccess = "authentication_success"
	EventAuthenticationError   = "authentication_error"
	EventGroupJoined           = "group_joined"
	EventGroupLeft             = "group_left"
	EventGroupError            = "group_error"
	EventNewMessage            = "new_message"
	EventMessageSent           = "message_sent"
	EventMessageError          = "message_error"
	EventMessageDeleted        = "message_deleted"
	EventMessageRead           = "message_read"
	EventMessagesRead          = "messages_read"
	EventUserTyping            = "user_typing"
	EventUserStoppedTyping     = "user_stopped_typing"
	EventUserOnline            = "user_online"
	EventUserOffline           = "user_offline"
	EventUserStatusChanged     = "user_status_changed"
	EventOnlineUsers           = "online_users"
	EventSmartReplies          = "smart_replies"
	EventError                 = "error"
)

// InboundEvent is a client request.
type InboundEvent struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is a server push.
type Event struct {
	Event     string `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ErrorPayload is the body of every *_error event.
type ErrorPayload struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	GroupID         int64  `json:"group_id,omitempty"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

type AuthenticatePayload struct {
	Token      string `json:"token"`
	DeviceType string `json:"device_type"`
}

type GroupPayload struct {
	GroupID int64 `json:"group_id"`
}

type SendMessagePayload struct {
	GroupID         int64         `json:"group_id"`
	Content         string        `json:"content"`
	Type            string        `json:"type"`
	Media           *MediaContent `json:"media,omitempty"`
	ClientMessageID string        `json:"client_message_id,omitempty"`
}

type MarkReadPayload struct {
	GroupID   int64 `json:"group_id"`
	MessageID int64 `json:"message_id"`
}

type MarkManyReadPayload struct {
	GroupID    int64   `json:"group_id"`
	MessageIDs []int64 `json:"message_ids"`
}

type DeleteMessagePayload struct {
	MessageID int64 `json:"message_id"`
}

type OnlineUsersRequest struct {
	GroupID *int64 `json:"group_id,omitempty"`
}

type ChangeStatusPayload struct {
	Status string `json:"status"`
}

type SmartRepliesRequest struct {
	GroupID   int64 `json:"group_id"`
	MessageID int64 `json:"message_id"`
}

type AuthenticationSuccess struct {
	User      User    `json:"user"`
	SessionID int64   `json:"session_id"`
	GroupIDs  []int64 `json:"group_ids"`
}

type GroupJoined struct {
	Group         Group   `json:"group"`
	OnlineUserIDs []int64 `json:"online_user_ids"`
}

type MessageSent struct {
	Message         MessageView `json:"message"`
	ClientMessageID string      `json:"client_message_id,omitempty"`
}

type NewMessage struct {
	Message MessageView `json:"message"`
}

type MessageDeleted struct {
	MessageID int64 `json:"message_id"`
	GroupID   int64 `json:"group_id"`
}

type MessageRead struct {
	GroupID   int64     `json:"group_id"`
	MessageID int64     `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

type MessagesRead struct {
	GroupID    int64     `json:"group_id"`
	MessageIDs []int64   `json:"message_ids"`
	UserID     string    `json:"user_id"`
	ReadAt     time.Time `json:"read_at"`
}

type TypingPayload struct {
	GroupID  int64  `json:"group_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type PresencePayload struct {
	UserID   int64      `json:"user_id"`
	GroupID  int64      `json:"group_id,omitempty"`
	Status   string     `json:"status,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type OnlineUsers struct {
	GroupID *int64       `json:"group_id,omitempty"`
	Users   []OnlineUser `json:"users"`
}

type SmartReplies struct {
	MessageID   int64    `json:"message_id"`
	Suggestions []string `json:"suggestions"`
	Confidence  float64  `json:"confidence"`
}
