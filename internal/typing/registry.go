// Package typing keeps ephemeral "is typing" indicators with auto-expiry.
package typing

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// DefaultTimeout is how long an indicator lives without a refresh.
const DefaultTimeout = 5 * time.Second

// Broadcaster delivers an event to a room, skipping one connection.
type Broadcaster interface {
	BroadcastRoom(room string, event models.Event, exceptConnID string)
}

// Typist identifies who is typing and from which connection.
type Typist struct {
	UserID   int64
	Username string
	ConnID   string
}

type key struct {
	userID  int64
	groupID int64
}

// Guard reports whether typist still belongs to groupID's room.
type Guard func(t Typist, groupID int64) bool

// Option configures a Registry.
type Option func(*Registry)

// WithGuard makes expiring timers re-check membership. A typist who left
// the room is dropped without an announcement.
func WithGuard(g Guard) Option {
	return func(r *Registry) { r.guard = g }
}

type entry struct {
	typist Typist
	timer  *time.Timer
	gen    uint64
}

// Registry owns one timer per (user, group). Events for a key are emitted
// under the registry lock so start and stop never reach a room out of order.
type Registry struct {
	mu      sync.Mutex
	entries map[key]*entry
	gen     uint64
	closed  bool
	timeout time.Duration
	out     Broadcaster
	guard   Guard
	logger  *zap.Logger
}

func NewRegistry(out Broadcaster, timeout time.Duration, logger *zap.Logger, opts ...Option) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		entries: make(map[key]*entry),
		timeout: timeout,
		out:     out,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start marks typist as typing in groupID. A repeated start re-arms the
// timer without announcing again.
func (r *Registry) Start(t Typist, groupID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	k := key{userID: t.UserID, groupID: groupID}
	existing, ok := r.entries[k]
	if ok {
		existing.timer.Stop()
	}

	r.gen++
	gen := r.gen
	e := &entry{typist: t, gen: gen}
	e.timer = time.AfterFunc(r.timeout, func() { r.expire(k, gen) })
	r.entries[k] = e
	observability.SetTypingActive(len(r.entries))

	if !ok {
		r.out.BroadcastRoom(models.GroupRoom(groupID), models.Event{
			Event: models.EventUserTyping,
			Data:  models.TypingPayload{GroupID: groupID, UserID: t.UserID, Username: t.Username},
		}, t.ConnID)
	}
}

// Stop clears the indicator. It reports whether one was live.
func (r *Registry) Stop(userID, groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key{userID: userID, groupID: groupID}]
	if !ok {
		return false
	}
	r.dispose(key{userID: userID, groupID: groupID}, e)
	return true
}

// StopForConnection clears the indicator only if connID started it.
func (r *Registry) StopForConnection(userID, groupID int64, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{userID: userID, groupID: groupID}
	e, ok := r.entries[k]
	if !ok || e.typist.ConnID != connID {
		return false
	}
	r.dispose(k, e)
	return true
}

// StopAllForConnection clears every indicator started from connID.
func (r *Registry) StopAllForConnection(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, e := range r.entries {
		if e.typist.ConnID == connID {
			r.dispose(k, e)
			n++
		}
	}
	return n
}

// IsTyping reports whether userID has a live indicator in groupID.
func (r *Registry) IsTyping(userID, groupID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key{userID: userID, groupID: groupID}]
	return ok
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close cancels all timers silently. Later calls are no-ops.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		e.timer.Stop()
		delete(r.entries, k)
	}
	r.closed = true
	observability.SetTypingActive(0)
}

func (r *Registry) expire(k key, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok || e.gen != gen {
		return
	}
	if r.guard != nil && !r.guard(e.typist, k.groupID) {
		r.logger.Debug("typing dropped after leave", zap.Int64("user_id", k.userID), zap.Int64("group_id", k.groupID))
		delete(r.entries, k)
		observability.SetTypingActive(len(r.entries))
		return
	}
	r.logger.Debug("typing expired", zap.Int64("user_id", k.userID), zap.Int64("group_id", k.groupID))
	r.dispose(k, e)
}

// dispose must be called with r.mu held.
func (r *Registry) dispose(k key, e *entry) {
	e.timer.Stop()
	delete(r.entries, k)
	observability.SetTypingActive(len(r.entries))
	r.out.BroadcastRoom(models.GroupRoom(k.groupID), models.Event{
		Event: models.EventUserStoppedTyping,
		Data:  models.TypingPayload{GroupID: k.groupID, UserID: k.userID},
	}, e.typist.ConnID)
}
