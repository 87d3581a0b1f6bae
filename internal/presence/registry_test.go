package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	registry *Registry
	sessions *mocks.MemorySessions
	users    *mocks.MemoryUsers
	groups   *mocks.MemoryGroups
	clock    *clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f := fixture{
		sessions: mocks.NewMemorySessions(),
		users:    mocks.NewMemoryUsers(),
		groups:   mocks.NewMemoryGroups(),
		clock:    c,
	}
	f.registry = NewRegistry(f.sessions, f.users, f.groups, 5*time.Minute, nil, WithClock(c.Now))
	return f
}

func TestMultiDevicePresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.users.Put(models.User{ExternalID: "ext-u", Username: "u", IsActive: true})

	_, err := f.registry.CreateSession(ctx, u.ID, "conn-phone", models.DeviceMobile)
	require.NoError(t, err)
	_, err = f.registry.CreateSession(ctx, u.ID, "conn-laptop", models.DeviceDesktop)
	require.NoError(t, err)

	removed, err := f.registry.RemoveSession(ctx, "conn-phone")
	require.NoError(t, err)
	require.True(t, removed)

	online, err := f.registry.IsOnline(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, online)

	_, err = f.registry.RemoveSession(ctx, "conn-laptop")
	require.NoError(t, err)
	online, err = f.registry.IsOnline(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, online)

	removed, err = f.registry.RemoveSession(ctx, "conn-laptop")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestCreateSessionReplacesSameConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.CreateSession(ctx, 1, "conn-1", models.DeviceWeb)
	require.NoError(t, err)
	s, err := f.registry.CreateSession(ctx, 1, "conn-1", "toaster")
	require.NoError(t, err)
	require.Equal(t, models.DeviceWeb, s.DeviceType)
	require.Equal(t, 1, f.sessions.Len())
}

func TestOnlineUsersCollapsesAndFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.users.Put(models.User{ExternalID: "ext-a", Username: "a", IsActive: true})
	b := f.users.Put(models.User{ExternalID: "ext-b", Username: "b", IsActive: true})
	outsider := f.users.Put(models.User{ExternalID: "ext-c", Username: "c", IsActive: true})
	group, err := f.groups.CreateGroup(ctx, a.ID, "g", "", false, []int64{b.ID})
	require.NoError(t, err)

	_, err = f.registry.CreateSession(ctx, a.ID, "a-web", models.DeviceWeb)
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.registry.CreateSession(ctx, a.ID, "a-phone", models.DeviceMobile)
	require.NoError(t, err)
	require.NoError(t, f.registry.SetStatus(ctx, "a-phone", models.StatusAway))
	_, err = f.registry.CreateSession(ctx, b.ID, "b-web", models.DeviceWeb)
	require.NoError(t, err)
	_, err = f.registry.CreateSession(ctx, outsider.ID, "c-web", models.DeviceWeb)
	require.NoError(t, err)

	all, err := f.registry.OnlineUsers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)

	inGroup, err := f.registry.OnlineUsers(ctx, &group.ID)
	require.NoError(t, err)
	require.Len(t, inGroup, 2)
	for _, u := range inGroup {
		require.NotEqual(t, outsider.ID, u.UserID)
		if u.UserID == a.ID {
			require.Equal(t, models.DeviceMobile, u.DeviceType)
			require.Equal(t, models.StatusAway, u.Status)
		}
	}

	ids, err := f.registry.OnlineUserIDs(ctx, group.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{a.ID, b.ID}, ids)
}

func TestOnlineUsersIgnoresExpiredSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.users.Put(models.User{ExternalID: "ext-a", IsActive: true})

	_, err := f.registry.CreateSession(ctx, a.ID, "a-web", models.DeviceWeb)
	require.NoError(t, err)
	f.clock.Advance(6 * time.Minute)

	users, err := f.registry.OnlineUsers(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, users)
	online, err := f.registry.IsOnline(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, online)
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.CreateSession(ctx, 1, "idle", models.DeviceWeb)
	require.NoError(t, err)
	f.clock.Advance(4 * time.Minute)
	_, err = f.registry.CreateSession(ctx, 2, "fresh", models.DeviceWeb)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	expired, err := f.registry.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "idle", expired[0].ConnectionID)
	require.Equal(t, 1, f.sessions.Len())
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.registry.CreateSession(ctx, 1, "conn", models.DeviceWeb)
	require.NoError(t, err)
	f.clock.Advance(4 * time.Minute)
	require.NoError(t, f.registry.Touch(ctx, "conn"))
	f.clock.Advance(4 * time.Minute)

	expired, err := f.registry.Sweep(ctx)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	err := f.registry.SetStatus(context.Background(), "conn", "busy")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
