package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) UpsertByExternalID(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int64) (models.User, error) {
	args := m.Called(ctx, userID)
	var out models.User
	if val := args.Get(0); val != nil {
		out = val.(models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) GetUsers(ctx context.Context, userIDs []int64) ([]models.User, error) {
	args := m.Called(ctx, userIDs)
	var out []models.User
	if val := args.Get(0); val != nil {
		out = val.([]models.User)
	}
	return out, args.Error(1)
}

func (m *UserRepositoryMock) UpdateLastSeen(ctx context.Context, userID int64, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) CreateGroup(ctx context.Context, ownerID int64, name, description string, isPrivate bool, memberIDs []int64) (models.Group, error) {
	args := m.Called(ctx, ownerID, name, description, isPrivate, memberIDs)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) GetGroup(ctx context.Context, groupID int64) (models.Group, error) {
	args := m.Called(ctx, groupID)
	var group models.Group
	if val := args.Get(0); val != nil {
		group = val.(models.Group)
	}
	return group, args.Error(1)
}

func (m *GroupRepositoryMock) IsActiveMember(ctx context.Context, groupID int64, userID int64) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *GroupRepositoryMock) ListGroupIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	args := m.Called(ctx, userID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *GroupRepositoryMock) ListMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	args := m.Called(ctx, groupID)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *GroupRepositoryMock) TransferOwnership(ctx context.Context, groupID, currentOwnerID, newOwnerID int64) error {
	args := m.Called(ctx, groupID, currentOwnerID, newOwnerID)
	return args.Error(0)
}

func (m *GroupRepositoryMock) LeaveGroup(ctx context.Context, groupID int64, userID int64) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) ListGroupMessages(ctx context.Context, groupID int64, limit int, beforeID int64) ([]models.Message, error) {
	args := m.Called(ctx, groupID, limit, beforeID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, groupID int64, messageIDs []int64, userID string, at time.Time) ([]int64, error) {
	args := m.Called(ctx, groupID, messageIDs, userID, at)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int64, senderID string) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

type SessionRepositoryMock struct {
	mock.Mock
}

func (m *SessionRepositoryMock) CreateSession(ctx context.Context, session models.Session) (models.Session, error) {
	args := m.Called(ctx, session)
	var out models.Session
	if val := args.Get(0); val != nil {
		out = val.(models.Session)
	}
	return out, args.Error(1)
}

func (m *SessionRepositoryMock) DeleteSession(ctx context.Context, connectionID string) (bool, error) {
	args := m.Called(ctx, connectionID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepositoryMock) GetSession(ctx context.Context, connectionID string) (models.Session, error) {
	args := m.Called(ctx, connectionID)
	var out models.Session
	if val := args.Get(0); val != nil {
		out = val.(models.Session)
	}
	return out, args.Error(1)
}

func (m *SessionRepositoryMock) TouchSession(ctx context.Context, connectionID string, at time.Time) error {
	args := m.Called(ctx, connectionID, at)
	return args.Error(0)
}

func (m *SessionRepositoryMock) SetStatus(ctx context.Context, connectionID string, status string, at time.Time) error {
	args := m.Called(ctx, connectionID, status, at)
	return args.Error(0)
}

func (m *SessionRepositoryMock) ListActiveSessions(ctx context.Context, since time.Time) ([]models.Session, error) {
	args := m.Called(ctx, since)
	var out []models.Session
	if val := args.Get(0); val != nil {
		out = val.([]models.Session)
	}
	return out, args.Error(1)
}

func (m *SessionRepositoryMock) ListUserSessions(ctx context.Context, userID int64, since time.Time) ([]models.Session, error) {
	args := m.Called(ctx, userID, since)
	var out []models.Session
	if val := args.Get(0); val != nil {
		out = val.([]models.Session)
	}
	return out, args.Error(1)
}

func (m *SessionRepositoryMock) DeleteExpiredSessions(ctx context.Context, before time.Time) ([]models.Session, error) {
	args := m.Called(ctx, before)
	var out []models.Session
	if val := args.Get(0); val != nil {
		out = val.([]models.Session)
	}
	return out, args.Error(1)
}

var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
var _ repositories.GroupRepository = (*GroupRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.SessionRepository = (*SessionRepositoryMock)(nil)
