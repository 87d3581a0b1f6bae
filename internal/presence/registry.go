// Package presence tracks live connection sessions and derives who is online.
package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

// Registry is the session registry. It keeps no state of its own; every
// answer is derived from the session store so multiple processes agree.
type Registry struct {
	sessions repositories.SessionRepository
	users    repositories.UserRepository
	groups   repositories.GroupRepository
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(sessions repositories.SessionRepository, users repositories.UserRepository, groups repositories.GroupRepository, timeout time.Duration, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		sessions: sessions,
		users:    users,
		groups:   groups,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession records a new live connection. An existing row for the
// same connection id is replaced.
func (r *Registry) CreateSession(ctx context.Context, userID int64, connectionID, deviceType string) (models.Session, error) {
	if !models.ValidDeviceType(deviceType) {
		deviceType = models.DeviceWeb
	}
	session, err := r.sessions.CreateSession(ctx, models.Session{
		UserID:       userID,
		ConnectionID: connectionID,
		Status:       models.StatusOnline,
		DeviceType:   deviceType,
		LastActivity: r.now(),
	})
	if err != nil {
		return models.Session{}, apperr.Transient("session store unavailable", err)
	}
	observability.IncSessionCreated()
	return session, nil
}

func (r *Registry) RemoveSession(ctx context.Context, connectionID string) (bool, error) {
	removed, err := r.sessions.DeleteSession(ctx, connectionID)
	if err != nil {
		return false, fmt.Errorf("remove session: %w", err)
	}
	return removed, nil
}

func (r *Registry) Touch(ctx context.Context, connectionID string) error {
	return r.sessions.TouchSession(ctx, connectionID, r.now())
}

func (r *Registry) SetStatus(ctx context.Context, connectionID, status string) error {
	if !models.ValidStatus(status) {
		return apperr.Validation(apperr.CodeInvalidPayload, "status must be online or away")
	}
	if err := r.sessions.SetStatus(ctx, connectionID, status, r.now()); err != nil {
		return apperr.Transient("session store unavailable", err)
	}
	return nil
}

// IsOnline is true while the user has at least one unexpired session.
func (r *Registry) IsOnline(ctx context.Context, userID int64) (bool, error) {
	sessions, err := r.sessions.ListUserSessions(ctx, userID, r.cutoff())
	if err != nil {
		return false, fmt.Errorf("list user sessions: %w", err)
	}
	return len(sessions) > 0, nil
}

// OnlineUsers lists online or away users, one row per user with the most
// recently active session winning. A non-nil groupID restricts the list to
// members of that group.
func (r *Registry) OnlineUsers(ctx context.Context, groupID *int64) ([]models.OnlineUser, error) {
	sessions, err := r.sessions.ListActiveSessions(ctx, r.cutoff())
	if err != nil {
		return nil, apperr.Transient("session store unavailable", err)
	}

	var members map[int64]bool
	if groupID != nil {
		ids, err := r.groups.ListMemberIDs(ctx, *groupID)
		if err != nil {
			return nil, apperr.Transient("group store unavailable", err)
		}
		members = make(map[int64]bool, len(ids))
		for _, id := range ids {
			members[id] = true
		}
	}

	cutoff := r.cutoff()
	latest := make(map[int64]models.Session)
	for _, s := range sessions {
		if !models.ValidStatus(s.Status) || !s.LastActivity.After(cutoff) {
			continue
		}
		if members != nil && !members[s.UserID] {
			continue
		}
		if cur, ok := latest[s.UserID]; !ok || s.LastActivity.After(cur.LastActivity) {
			latest[s.UserID] = s
		}
	}
	if len(latest) == 0 {
		return []models.OnlineUser{}, nil
	}

	ids := make([]int64, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	users, err := r.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, apperr.Transient("user store unavailable", err)
	}

	out := make([]models.OnlineUser, 0, len(users))
	for _, u := range users {
		s := latest[u.ID]
		out = append(out, models.OnlineUser{
			UserID:       u.ID,
			ExternalID:   u.ExternalID,
			Username:     u.Username,
			FirstName:    u.FirstName,
			LastName:     u.LastName,
			AvatarURL:    u.AvatarURL,
			Status:       s.Status,
			DeviceType:   s.DeviceType,
			LastActivity: s.LastActivity,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

// OnlineUserIDs is OnlineUsers reduced to ids.
func (r *Registry) OnlineUserIDs(ctx context.Context, groupID int64) ([]int64, error) {
	users, err := r.OnlineUsers(ctx, &groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	return ids, nil
}

// Sweep deletes sessions idle past the timeout and returns them.
func (r *Registry) Sweep(ctx context.Context) ([]models.Session, error) {
	expired, err := r.sessions.DeleteExpiredSessions(ctx, r.cutoff())
	if err != nil {
		observability.IncPresenceSweep("error")
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	observability.IncPresenceSweep("ok")
	observability.AddSessionsExpired(len(expired))
	if len(expired) > 0 {
		r.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	}
	return expired, nil
}

func (r *Registry) cutoff() time.Time {
	return r.now().Add(-r.timeout)
}
