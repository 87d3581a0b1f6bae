package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/crypto"
	"chat-realtime/internal/directory"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/typing"
)

var hmacSecret = []byte("ws-test-secret")

type env struct {
	ctrl     *Controller
	hub      *Hub
	users    *mocks.MemoryUsers
	groups   *mocks.MemoryGroups
	messages *mocks.MemoryMessages
	sessions *mocks.MemorySessions
	presence *presence.Registry
	service  *messaging.Service
}

type envOptions struct {
	sessions      repositories.SessionRepository
	typingTimeout time.Duration
	cfg           Config
}

func newEnv(t *testing.T) *env {
	return newEnvWith(t, envOptions{})
}

func newEnvWith(t *testing.T, opts envOptions) *env {
	t.Helper()
	e := &env{
		users:    mocks.NewMemoryUsers(),
		groups:   mocks.NewMemoryGroups(),
		messages: mocks.NewMemoryMessages(),
		sessions: mocks.NewMemorySessions(),
	}
	var sessions repositories.SessionRepository = e.sessions
	if opts.sessions != nil {
		sessions = opts.sessions
	}
	if opts.typingTimeout == 0 {
		opts.typingTimeout = time.Minute
	}

	verifier, err := identity.NewVerifierWithKey(hmacSecret, identity.Config{})
	require.NoError(t, err)
	cipher, err := crypto.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	e.hub = NewHub(nil)
	e.presence = presence.NewRegistry(sessions, e.users, e.groups, 5*time.Minute, nil)
	e.service = messaging.NewService(e.groups, e.messages, cipher, nil)
	e.ctrl = NewController(Deps{
		Hub:       e.hub,
		Verifier:  verifier,
		Directory: directory.New(e.users, nil),
		Presence:  e.presence,
		Typing:    typing.NewRegistry(e.hub, opts.typingTimeout, nil, typing.WithGuard(e.hub.TypistJoined)),
		Messages:  e.service,
		Groups:    e.groups,
		Users:     e.users,
	}, opts.cfg, nil)
	t.Cleanup(func() { e.ctrl.Stop(context.Background()) })
	return e
}

func token(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":                sub,
		"iat":                now.Add(-2 * time.Hour).Unix(),
		"exp":                now.Add(ttl).Unix(),
		"preferred_username": sub,
	}).SignedString(hmacSecret)
	require.NoError(t, err)
	return tok
}

// user stores an active user whose external id equals name.
func (e *env) user(name string) models.User {
	return e.users.Put(models.User{ExternalID: name, Username: name, IsActive: true})
}

func (e *env) group(t *testing.T, owner models.User, members ...models.User) int64 {
	t.Helper()
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	g, err := e.groups.CreateGroup(context.Background(), owner.ID, "team", "", false, ids)
	require.NoError(t, err)
	return g.ID
}

func (e *env) connect(connID string) *Client {
	return e.ctrl.Connect(nil, ConnInfo{ConnID: connID, ConnectedAt: time.Now()})
}

// login connects and authenticates as sub, consuming authentication_success.
func (e *env) login(t *testing.T, connID, sub string) *Client {
	t.Helper()
	c := e.connect(connID)
	send(e, c, models.EventAuthenticate, models.AuthenticatePayload{Token: token(t, sub, time.Hour), DeviceType: models.DeviceWeb})
	ev := recv(t, c)
	require.Equal(t, models.EventAuthenticationSuccess, ev.Event, string(ev.Data))
	require.Equal(t, StateAuthenticated, c.State())
	return c
}

func send(e *env, c *Client, event string, data any) {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(models.InboundEvent{Event: event, RequestID: "r-" + event, Data: raw})
	e.ctrl.HandleMessage(context.Background(), c, frame)
}

type outEvent struct {
	Event     string          `json:"event"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func (o outEvent) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(o.Data, v))
}

func recv(t *testing.T, c *Client) outEvent {
	t.Helper()
	select {
	case frame := <-c.send:
		var ev outEvent
		require.NoError(t, json.Unmarshal(frame, &ev))
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event for %s", c.ID())
		return outEvent{}
	}
}

// recvEvent skips frames until one named event arrives.
func recvEvent(t *testing.T, c *Client, event string) outEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.send:
			var ev outEvent
			require.NoError(t, json.Unmarshal(frame, &ev))
			if ev.Event == event {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event for %s", event, c.ID())
			return outEvent{}
		}
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func expectNone(t *testing.T, c *Client, within time.Duration) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected event for %s: %s", c.ID(), frame)
	case <-time.After(within):
	}
}

func countEvents(t *testing.T, c *Client, event string, within time.Duration) int {
	t.Helper()
	n := 0
	deadline := time.After(within)
	for {
		select {
		case frame := <-c.send:
			var ev outEvent
			require.NoError(t, json.Unmarshal(frame, &ev))
			if ev.Event == event {
				n++
			}
		case <-deadline:
			return n
		}
	}
}
