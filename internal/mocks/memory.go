package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

// MemoryUsers is an in-memory UserRepository.
type MemoryUsers struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]models.User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: make(map[int64]models.User)}
}

func (r *MemoryUsers) UpsertByExternalID(ctx context.Context, user models.User) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, existing := range r.byID {
		if existing.ExternalID != user.ExternalID {
			continue
		}
		if user.Email != "" {
			existing.Email = user.Email
		}
		fillEmpty(&existing.FirstName, user.FirstName)
		fillEmpty(&existing.LastName, user.LastName)
		fillEmpty(&existing.Username, user.Username)
		fillEmpty(&existing.AvatarURL, user.AvatarURL)
		existing.LastSeen = &now
		existing.UpdatedAt = now
		r.byID[id] = existing
		return existing, nil
	}
	r.nextID++
	user.ID = r.nextID
	user.IsActive = true
	user.LastSeen = &now
	user.CreatedAt = now
	user.UpdatedAt = now
	r.byID[user.ID] = user
	return user, nil
}

// Put stores user as is, assigning an id when missing.
func (r *MemoryUsers) Put(user models.User) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		r.nextID++
		user.ID = r.nextID
	} else if user.ID > r.nextID {
		r.nextID = user.ID
	}
	r.byID[user.ID] = user
	return user
}

func (r *MemoryUsers) GetUser(ctx context.Context, userID int64) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryUsers) GetUsers(ctx context.Context, userIDs []int64) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.User{}
	for _, id := range userIDs {
		if u, ok := r.byID[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryUsers) UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.LastSeen = &at
	r.byID[userID] = u
	return nil
}

func fillEmpty(dst *string, val string) {
	if *dst == "" {
		*dst = val
	}
}

// MemoryGroups is an in-memory GroupRepository.
type MemoryGroups struct {
	mu     sync.Mutex
	nextID int64
	groups map[int64]models.Group
}

func NewMemoryGroups() *MemoryGroups {
	return &MemoryGroups{groups: make(map[int64]models.Group)}
}

func (r *MemoryGroups) CreateGroup(ctx context.Context, ownerID int64, name, description string, isPrivate bool, memberIDs []int64) (models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now()
	g := models.Group{
		ID:          r.nextID,
		Name:        name,
		Description: description,
		IsPrivate:   isPrivate,
		IsActive:    true,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Members:     []models.Membership{{GroupID: r.nextID, UserID: ownerID, Role: models.RoleOwner, JoinedAt: now}},
	}
	seen := map[int64]bool{ownerID: true}
	for _, id := range memberIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		g.Members = append(g.Members, models.Membership{GroupID: g.ID, UserID: id, Role: models.RoleMember, JoinedAt: now})
	}
	r.groups[g.ID] = g
	return cloneGroup(g), nil
}

// SetActive flips the active flag of a group.
func (r *MemoryGroups) SetActive(groupID int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[groupID]
	g.IsActive = active
	r.groups[groupID] = g
}

func (r *MemoryGroups) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return models.Group{}, repositories.ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

func (r *MemoryGroups) IsActiveMember(ctx context.Context, groupID int64, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	return ok && g.IsActive && g.HasMember(userID), nil
}

func (r *MemoryGroups) ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []int64{}
	for id, g := range r.groups {
		if g.IsActive && g.HasMember(userID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryGroups) ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return []int64{}, nil
	}
	ids := make([]int64, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (r *MemoryGroups) TransferOwnership(ctx context.Context, groupID, currentOwnerID, newOwnerID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return repositories.ErrGroupNotFound
	}
	if !g.HasMember(newOwnerID) {
		return repositories.ErrNotMember
	}
	if !g.IsActive || g.OwnerID != currentOwnerID {
		return repositories.ErrOwnershipConflict
	}
	for i := range g.Members {
		switch g.Members[i].UserID {
		case currentOwnerID:
			g.Members[i].Role = models.RoleAdmin
		case newOwnerID:
			g.Members[i].Role = models.RoleOwner
		}
	}
	g.OwnerID = newOwnerID
	r.groups[groupID] = g
	return nil
}

func (r *MemoryGroups) LeaveGroup(ctx context.Context, groupID int64, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok {
		return false, repositories.ErrGroupNotFound
	}
	idx := -1
	for i, m := range g.Members {
		if m.UserID == userID {
			idx = i
		}
	}
	if idx < 0 {
		return false, repositories.ErrNotMember
	}
	g.Members = append(g.Members[:idx:idx], g.Members[idx+1:]...)
	if len(g.Members) == 0 {
		g.IsActive = false
		r.groups[groupID] = g
		return true, nil
	}
	if g.OwnerID == userID {
		successor := 0
		for i, m := range g.Members {
			if m.Role == models.RoleAdmin {
				successor = i
				break
			}
		}
		g.Members[successor].Role = models.RoleOwner
		g.OwnerID = g.Members[successor].UserID
	}
	r.groups[groupID] = g
	return false, nil
}

func cloneGroup(g models.Group) models.Group {
	g.Members = append([]models.Membership(nil), g.Members...)
	return g
}

// MemoryMessages is an in-memory MessageRepository.
type MemoryMessages struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]models.Message
}

func NewMemoryMessages() *MemoryMessages {
	return &MemoryMessages{messages: make(map[int64]models.Message)}
}

func (r *MemoryMessages) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now()
	msg.ID = r.nextID
	msg.IsDeleted = false
	msg.ReadBy = []models.ReadReceipt{}
	msg.CreatedAt = now
	msg.UpdatedAt = now
	r.messages[msg.ID] = msg
	return cloneMessage(msg), nil
}

func (r *MemoryMessages) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	if !ok {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (r *MemoryMessages) ListGroupMessages(ctx context.Context, groupID int64, limit int, beforeID int64) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Message{}
	for _, msg := range r.messages {
		if msg.GroupID == groupID && (beforeID == 0 || msg.ID < beforeID) {
			out = append(out, cloneMessage(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *MemoryMessages) MarkRead(ctx context.Context, groupID int64, messageIDs []int64, userID string, at time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	marked := []int64{}
	for _, id := range messageIDs {
		msg, ok := r.messages[id]
		if !ok || msg.GroupID != groupID || msg.IsDeleted {
			continue
		}
		already := false
		for _, rc := range msg.ReadBy {
			if rc.UserID == userID {
				already = true
				break
			}
		}
		if already {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, models.ReadReceipt{MessageID: id, UserID: userID, ReadAt: at})
		r.messages[id] = msg
		marked = append(marked, id)
	}
	return marked, nil
}

func (r *MemoryMessages) SoftDelete(ctx context.Context, messageID int64, senderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	if !ok || msg.SenderID != senderID || msg.IsDeleted {
		return repositories.ErrMessageNotFound
	}
	msg.IsDeleted = true
	msg.UpdatedAt = time.Now()
	r.messages[messageID] = msg
	return nil
}

// Stored returns the raw stored row, ciphertext included.
func (r *MemoryMessages) Stored(messageID int64) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	return cloneMessage(msg), ok
}

func cloneMessage(m models.Message) models.Message {
	m.ReadBy = append([]models.ReadReceipt{}, m.ReadBy...)
	return m
}

// MemorySessions is an in-memory SessionRepository.
type MemorySessions struct {
	mu     sync.Mutex
	nextID int64
	byConn map[string]models.Session
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{byConn: make(map[string]models.Session)}
}

func (r *MemorySessions) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byConn, session.ConnectionID)
	r.nextID++
	session.ID = r.nextID
	session.CreatedAt = session.LastActivity
	r.byConn[session.ConnectionID] = session
	return session, nil
}

func (r *MemorySessions) DeleteSession(ctx context.Context, connectionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byConn[connectionID]
	delete(r.byConn, connectionID)
	return ok, nil
}

func (r *MemorySessions) GetSession(ctx context.Context, connectionID string) (models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connectionID]
	if !ok {
		return models.Session{}, repositories.ErrSessionNotFound
	}
	return s, nil
}

func (r *MemorySessions) TouchSession(ctx context.Context, connectionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connectionID]
	if !ok {
		return repositories.ErrSessionNotFound
	}
	s.LastActivity = at
	r.byConn[connectionID] = s
	return nil
}

func (r *MemorySessions) SetStatus(ctx context.Context, connectionID string, status string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connectionID]
	if !ok {
		return repositories.ErrSessionNotFound
	}
	s.Status = status
	s.LastActivity = at
	r.byConn[connectionID] = s
	return nil
}

func (r *MemorySessions) ListActiveSessions(ctx context.Context, since time.Time) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Session{}
	for _, s := range r.byConn {
		if (s.Status == models.StatusOnline || s.Status == models.StatusAway) && s.LastActivity.After(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (r *MemorySessions) ListUserSessions(ctx context.Context, userID int64, since time.Time) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Session{}
	for _, s := range r.byConn {
		if s.UserID == userID && s.LastActivity.After(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (r *MemorySessions) DeleteExpiredSessions(ctx context.Context, before time.Time) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Session{}
	for id, s := range r.byConn {
		if !s.LastActivity.After(before) {
			out = append(out, s)
			delete(r.byConn, id)
		}
	}
	return out, nil
}

// Backdate moves a session's last activity into the past.
func (r *MemorySessions) Backdate(connectionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byConn[connectionID]; ok {
		s.LastActivity = at
		r.byConn[connectionID] = s
	}
}

// Len reports the number of stored sessions.
func (r *MemorySessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}

var _ repositories.UserRepository = (*MemoryUsers)(nil)
var _ repositories.GroupRepository = (*MemoryGroups)(nil)
var _ repositories.MessageRepository = (*MemoryMessages)(nil)
var _ repositories.SessionRepository = (*MemorySessions)(nil)
