package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

func TestResolveCreatesOnFirstSight(t *testing.T) {
	users := mocks.NewMemoryUsers()
	dir := New(users, nil)

	user, err := dir.Resolve(context.Background(), identity.Identity{ExternalID: "auth0|abcdef123", Email: "ana@example.com", FirstName: "Ana"})
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Equal(t, "ana", user.Username)
	require.Equal(t, "Ana", user.FirstName)
	require.True(t, user.IsActive)
}

func TestResolveKeepsLocalDisplayFields(t *testing.T) {
	users := mocks.NewMemoryUsers()
	dir := New(users, nil)
	ctx := context.Background()

	first, err := dir.Resolve(ctx, identity.Identity{ExternalID: "ext-1", Username: "ana", FirstName: "Ana"})
	require.NoError(t, err)

	second, err := dir.Resolve(ctx, identity.Identity{ExternalID: "ext-1", Username: "provider_name", FirstName: "Anna", Email: "new@example.com"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "ana", second.Username)
	require.Equal(t, "Ana", second.FirstName)
	require.Equal(t, "new@example.com", second.Email)
}

func TestResolveRejectsDisabledAccount(t *testing.T) {
	users := mocks.NewMemoryUsers()
	users.Put(models.User{ExternalID: "ext-1", Username: "gone", IsActive: false})

	_, err := New(users, nil).Resolve(context.Background(), identity.Identity{ExternalID: "ext-1"})
	require.Equal(t, apperr.CodeAccountDisabled, apperr.From(err).Code)
}

func TestResolveStoreFailureIsTransient(t *testing.T) {
	users := &mocks.UserRepositoryMock{}
	users.On("UpsertByExternalID", mock.Anything, mock.Anything).Return(models.User{}, errors.New("db down"))

	_, err := New(users, nil).Resolve(context.Background(), identity.Identity{ExternalID: "ext-1"})
	require.Equal(t, apperr.KindTransient, apperr.KindOf(err))
}

func TestDefaultUsernameFallsBackToExternalID(t *testing.T) {
	require.Equal(t, "user_abcdefgh", defaultUsername(identity.Identity{ExternalID: "abcdefghijkl"}))
	require.Equal(t, "user_ab", defaultUsername(identity.Identity{ExternalID: "ab"}))
}
