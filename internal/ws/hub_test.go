package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
)

func newTestClient(h *Hub, id string, buffer int) *Client {
	c := newClient(ConnInfo{ConnID: id}, nil, buffer, nil, zap.NewNop())
	h.Register(c)
	return c
}

func TestHubJoinLeave(t *testing.T) {
	h := NewHub(nil)
	a := newTestClient(h, "a", 8)

	require.True(t, h.Join(a, "group:1"))
	require.False(t, h.Join(a, "group:1"))
	require.True(t, h.InRoom("a", "group:1"))
	require.Equal(t, 1, h.RoomSize("group:1"))

	require.True(t, h.Leave(a, "group:1"))
	require.False(t, h.Leave(a, "group:1"))
	require.False(t, h.InRoom("a", "group:1"))
	require.Equal(t, 0, h.RoomSize("group:1"))
}

func TestHubRefusesUnregisteredClient(t *testing.T) {
	h := NewHub(nil)
	c := newClient(ConnInfo{ConnID: "ghost"}, nil, 8, nil, zap.NewNop())

	require.False(t, h.Join(c, "group:1"))
	require.Equal(t, 0, h.RoomSize("group:1"))
}

func TestHubUnregisterLeavesAllRooms(t *testing.T) {
	h := NewHub(nil)
	a := newTestClient(h, "a", 8)
	h.Join(a, "group:1")
	h.Join(a, "group:2")

	h.Unregister(a)

	require.Equal(t, 0, h.RoomSize("group:1"))
	require.Equal(t, 0, h.RoomSize("group:2"))
	_, ok := h.Client("a")
	require.False(t, ok)
	require.False(t, h.Join(a, "group:1"))
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	h := NewHub(nil)
	a := newTestClient(h, "a", 8)
	b := newTestClient(h, "b", 8)
	outsider := newTestClient(h, "c", 8)
	h.Join(a, "group:1")
	h.Join(b, "group:1")

	h.BroadcastRoom("group:1", models.Event{Event: "ping"}, "a")

	require.Len(t, a.send, 0)
	require.Len(t, b.send, 1)
	require.Len(t, outsider.send, 0)
}

func TestHubBroadcastPreservesOrder(t *testing.T) {
	h := NewHub(nil)
	a := newTestClient(h, "a", 128)
	b := newTestClient(h, "b", 128)
	h.Join(a, "group:1")
	h.Join(b, "group:1")

	for i := 0; i < 100; i++ {
		h.BroadcastRoom("group:1", models.Event{Event: fmt.Sprintf("e%d", i)}, "")
	}

	for _, c := range []*Client{a, b} {
		for i := 0; i < 100; i++ {
			var ev models.Event
			require.NoError(t, json.Unmarshal(<-c.send, &ev))
			require.Equal(t, fmt.Sprintf("e%d", i), ev.Event)
		}
	}
}

func TestHubClosesSlowConsumer(t *testing.T) {
	h := NewHub(nil)
	slow := newTestClient(h, "slow", 1)
	fast := newTestClient(h, "fast", 8)
	h.Join(slow, "group:1")
	h.Join(fast, "group:1")

	h.BroadcastRoom("group:1", models.Event{Event: "one"}, "")
	h.BroadcastRoom("group:1", models.Event{Event: "two"}, "")

	require.True(t, slow.closed())
	require.False(t, fast.closed())
	require.Len(t, fast.send, 2)

	// closed clients receive nothing further
	h.BroadcastRoom("group:1", models.Event{Event: "three"}, "")
	require.Len(t, slow.send, 1)
}

func TestHubUserPresenceQueries(t *testing.T) {
	h := NewHub(nil)
	a := newTestClient(h, "a", 8)
	a.setContext(&ConnectionContext{User: models.User{ID: 7}})
	a.transition(StateConnected, StateAuthenticated)
	h.Join(a, "group:1")

	require.True(t, h.UserConnected(7, ""))
	require.False(t, h.UserConnected(7, "a"))
	require.True(t, h.UserInRoom(7, "group:1", ""))
	require.False(t, h.UserInRoom(7, "group:1", "a"))
	require.False(t, h.UserInRoom(8, "group:1", ""))

	a.Close()
	require.False(t, h.UserConnected(7, ""))
}

func TestHubSendToUser(t *testing.T) {
	h := NewHub(nil)
	phone := newTestClient(h, "phone", 8)
	laptop := newTestClient(h, "laptop", 8)
	h.Join(phone, models.UserRoom(3))
	h.Join(laptop, models.UserRoom(3))

	h.SendToUser(3, models.Event{Event: "hello"})

	require.Len(t, phone.send, 1)
	require.Len(t, laptop.send, 1)
}

func TestHubEvictUser(t *testing.T) {
	h := NewHub(nil)
	var clients []*Client
	for _, id := range []string{"u7-a", "u7-b", "u8"} {
		c := newTestClient(h, id, 8)
		userID := int64(7)
		if id == "u8" {
			userID = 8
		}
		c.setContext(&ConnectionContext{User: models.User{ID: userID}})
		h.Join(c, models.GroupRoom(1))
		c.addGroup(1)
		clients = append(clients, c)
	}

	require.Equal(t, 2, h.EvictUser(7, 1))
	require.Equal(t, 1, h.RoomSize(models.GroupRoom(1)))
	require.False(t, clients[0].InGroup(1))
	require.True(t, clients[2].InGroup(1))
	require.Equal(t, 0, h.EvictUser(7, 1))
}
