package ws

import (
	"time"

	"chat-realtime/internal/models"
)

// ConnInfo is transport metadata captured at upgrade time.
type ConnInfo struct {
	ConnID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// ConnectionContext is created once a connection authenticates and never
// mutated afterwards. Handlers receive it instead of poking at the client.
type ConnectionContext struct {
	User            models.User
	SessionID       int64
	DeviceType      string
	AuthenticatedAt time.Time
}
