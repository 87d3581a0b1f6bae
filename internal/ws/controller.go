package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/messaging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/typing"
)

// TokenVerifier validates identity tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// UserResolver maps identities onto internal users.
type UserResolver interface {
	Resolve(ctx context.Context, id identity.Identity) (models.User, error)
}

// Config tunes connection handling.
type Config struct {
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	TouchThrottle     time.Duration
	SendBuffer        int
	RateLimit         int
	WriteTimeout      time.Duration
	PongTimeout       time.Duration
	MaxMessageBytes   int64
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.TouchThrottle <= 0 {
		c.TouchThrottle = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 65536
	}
	return c
}

// Deps are the collaborators of the controller.
type Deps struct {
	Hub       *Hub
	Verifier  TokenVerifier
	Directory UserResolver
	Presence  *presence.Registry
	Typing    *typing.Registry
	Messages  *messaging.Service
	Groups    repositories.GroupRepository
	Users     repositories.UserRepository
	Audit     *telemetry.AuditEmitter
}

// Controller drives every connection through
// Connected -> Authenticating -> Authenticated -> Closed.
type Controller struct {
	Deps
	cfg      Config
	logger   *zap.Logger
	handlers map[string]HandlerFunc
	dispatch HandlerFunc
	now      func() time.Time

	userLocks keyedMutex

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(deps Deps, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		Deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
	c.handlers = c.routes()
	c.dispatch = chain(c.route,
		recoverInterceptor(logger),
		tracingInterceptor(),
		metricsInterceptor(),
		rateLimitInterceptor(),
		activityInterceptor(c),
	)
	return c
}

// Connect registers a fresh connection in state Connected.
func (c *Controller) Connect(conn *websocket.Conn, info ConnInfo) *Client {
	var limiter ratelimit.Limiter
	if c.cfg.RateLimit > 0 {
		limiter = ratelimit.New(c.cfg.RateLimit)
	}
	client := newClient(info, conn, c.cfg.SendBuffer, limiter, c.logger)
	client.outbound = []OutboundInterceptor{outboundMetrics, outboundActivity(c.now)}
	c.Hub.Register(client)
	observability.IncWSActive(StateConnected.String())
	return client
}

// HandleMessage decodes one inbound frame and dispatches it.
func (c *Controller) HandleMessage(ctx context.Context, client *Client, raw []byte) {
	var ev models.InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event == "" {
		client.Send(models.Event{
			Event: models.EventError,
			Data:  models.ErrorPayload{Code: apperr.CodeInvalidPayload, Message: "malformed event"},
		})
		return
	}
	c.handle(ctx, client, ev)
}

// AuthenticateHandshake authenticates with a token taken from the upgrade
// request. It runs through the same interceptors as an inbound frame.
func (c *Controller) AuthenticateHandshake(ctx context.Context, client *Client, token, deviceType string) {
	data, _ := json.Marshal(models.AuthenticatePayload{Token: token, DeviceType: deviceType})
	c.handle(ctx, client, models.InboundEvent{Event: models.EventAuthenticate, Data: data})
}

func (c *Controller) handle(ctx context.Context, client *Client, ev models.InboundEvent) {
	err := c.dispatch(ctx, client, ev)
	if err == nil {
		return
	}
	if ev.Event == models.EventAuthenticate {
		// a panic mid-authentication must not strand the connection
		client.transition(StateAuthenticating, StateConnected)
	}
	c.report(client, ev, err)
}

func (c *Controller) report(client *Client, ev models.InboundEvent, err error) {
	appErr := apperr.From(err)
	fields := []zap.Field{zap.String("conn_id", client.ID()), zap.String("event", ev.Event), zap.String("code", appErr.Code)}
	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindTransient {
		c.logger.Warn("event failed", append(fields, zap.Error(err))...)
	} else {
		c.logger.Debug("event rejected", fields...)
	}
	if silentEvents[ev.Event] && appErr.Code != apperr.CodeUnauthenticated {
		return
	}
	name, ok := errorEvents[ev.Event]
	if !ok {
		name = models.EventError
	}
	client.Send(models.Event{Event: name, RequestID: ev.RequestID, Data: errorPayload(err)})
}

func (c *Controller) route(ctx context.Context, client *Client, ev models.InboundEvent) error {
	h, ok := c.handlers[ev.Event]
	if !ok {
		return apperr.Validation(apperr.CodeUnknownEvent, "unknown event "+ev.Event)
	}
	if ev.Event != models.EventAuthenticate && client.State() != StateAuthenticated {
		return apperr.New(apperr.KindAuthentication, apperr.CodeUnauthenticated, "authenticate first")
	}
	return h(ctx, client, ev)
}

// Authenticate verifies token and promotes client to Authenticated.
// Token failures and disabled accounts close the connection; dependency
// failures leave it open so the client can retry.
func (c *Controller) Authenticate(ctx context.Context, client *Client, requestID, token, deviceType string) {
	if !client.transition(StateConnected, StateAuthenticating) {
		if client.State() != StateClosed {
			client.Send(authError(requestID, apperr.CodeAlreadyAuthenticated, "connection is already authenticated"))
		}
		return
	}

	id, err := c.Verifier.Verify(ctx, token)
	if err != nil {
		code := tokenErrorCode(err)
		c.logger.Info("authentication failed", zap.String("conn_id", client.ID()), zap.String("code", code), zap.Error(err))
		c.Audit.Emit(ctx, "WARN", telemetry.ActionAuthenticateFailed, client.Info().RequestID, "", map[string]string{"code": code, "conn_id": client.ID()})
		client.Send(authError(requestID, code, "invalid identity token"))
		c.rejectAndClose(client)
		return
	}

	user, err := c.Directory.Resolve(ctx, id)
	if err != nil {
		appErr := apperr.From(err)
		if appErr.Kind == apperr.KindAuthentication {
			client.Send(authError(requestID, appErr.Code, appErr.Message))
			c.rejectAndClose(client)
			return
		}
		c.logger.Warn("resolve user failed", zap.String("conn_id", client.ID()), zap.Error(err))
		client.Send(authError(requestID, apperr.CodeAuthUnavailable, "authentication temporarily unavailable"))
		client.transition(StateAuthenticating, StateConnected)
		return
	}

	unlock := c.userLocks.lock(user.ID)
	defer unlock()

	session, err := c.Presence.CreateSession(ctx, user.ID, client.ID(), deviceType)
	if err != nil {
		c.logger.Warn("create session failed", zap.Int64("user_id", user.ID), zap.Error(err))
		client.Send(authError(requestID, apperr.CodeAuthUnavailable, "authentication temporarily unavailable"))
		client.transition(StateAuthenticating, StateConnected)
		return
	}

	groupIDs, err := c.Groups.ListGroupIDsForUser(ctx, user.ID)
	if err != nil {
		c.logger.Warn("list groups failed", zap.Int64("user_id", user.ID), zap.Error(err))
		_, _ = c.Presence.RemoveSession(ctx, client.ID())
		client.Send(authError(requestID, apperr.CodeAuthUnavailable, "authentication temporarily unavailable"))
		client.transition(StateAuthenticating, StateConnected)
		return
	}

	client.setContext(&ConnectionContext{
		User:            user,
		SessionID:       session.ID,
		DeviceType:      session.DeviceType,
		AuthenticatedAt: c.now(),
	})
	if !client.transition(StateAuthenticating, StateAuthenticated) {
		// closed while authenticating
		_, _ = c.Presence.RemoveSession(ctx, client.ID())
		return
	}
	client.lastTouch.Store(c.now().UnixNano())

	c.Hub.Join(client, models.UserRoom(user.ID))
	c.Hub.Join(client, models.PresenceRoom)
	for _, gid := range groupIDs {
		if c.Hub.Join(client, models.GroupRoom(gid)) {
			client.addGroup(gid)
		}
	}

	observability.DecWSActive(StateConnected.String())
	observability.IncWSActive(StateAuthenticated.String())
	c.logger.Info("connection authenticated", zap.String("conn_id", client.ID()), zap.Int64("user_id", user.ID), zap.Int("groups", len(groupIDs)))
	c.Audit.Emit(ctx, "INFO", telemetry.ActionAuthenticated, client.Info().RequestID, user.ExternalID, map[string]string{"conn_id": client.ID(), "device_type": session.DeviceType})

	if groupIDs == nil {
		groupIDs = []int64{}
	}
	client.Send(models.Event{
		Event:     models.EventAuthenticationSuccess,
		RequestID: requestID,
		Data:      models.AuthenticationSuccess{User: user, SessionID: session.ID, GroupIDs: groupIDs},
	})
	c.Hub.BroadcastRoom(models.PresenceRoom, models.Event{
		Event: models.EventUserOnline,
		Data:  models.PresencePayload{UserID: user.ID, Status: models.StatusOnline},
	}, client.ID())
}

func (c *Controller) rejectAndClose(client *Client) {
	client.transition(StateAuthenticating, StateClosed)
	client.Close()
}

func authError(requestID, code, message string) models.Event {
	return models.Event{
		Event:     models.EventAuthenticationError,
		RequestID: requestID,
		Data:      models.ErrorPayload{Code: code, Message: message},
	}
}

func tokenErrorCode(err error) string {
	switch {
	case errors.Is(err, identity.ErrExpired):
		return apperr.CodeTokenExpired
	case errors.Is(err, identity.ErrMalformed):
		return apperr.CodeTokenMalformed
	default:
		return apperr.CodeAuthenticationFailed
	}
}

// Disconnect releases everything the connection owns. It runs once per
// client no matter how many paths trigger it.
func (c *Controller) Disconnect(ctx context.Context, client *Client, reason string) {
	client.leaveOnce.Do(func() {
		prev := State(client.state.Swap(int32(StateClosed)))
		client.Close()
		c.Hub.Unregister(client)

		if prev != StateAuthenticated {
			observability.DecWSActive(StateConnected.String())
			return
		}
		observability.DecWSActive(StateAuthenticated.String())

		cc, _ := client.Context()
		c.Typing.StopAllForConnection(client.ID())
		c.logger.Info("connection closed",
			zap.String("conn_id", client.ID()),
			zap.Int64("user_id", cc.User.ID),
			zap.Int64s("groups", client.Groups()),
			zap.Duration("idle", c.now().Sub(client.LastActivity())),
			zap.String("reason", reason))

		unlock := c.userLocks.lock(cc.User.ID)
		defer unlock()
		if _, err := c.Presence.RemoveSession(ctx, client.ID()); err != nil {
			c.logger.Warn("remove session failed", zap.String("conn_id", client.ID()), zap.Error(err))
		}
		c.announceOfflineLocked(ctx, cc.User.ID, client.ID())
	})
}

// announceOfflineLocked broadcasts user_offline once the user has no live
// session left. Callers hold the user lock.
func (c *Controller) announceOfflineLocked(ctx context.Context, userID int64, exceptConnID string) {
	if c.Hub.UserConnected(userID, exceptConnID) {
		return
	}
	online, err := c.Presence.IsOnline(ctx, userID)
	if err != nil {
		c.logger.Warn("presence lookup failed, deferring offline to sweep", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if online {
		return
	}

	lastSeen := c.now().UTC()
	if err := c.Users.UpdateLastSeen(ctx, userID, lastSeen); err != nil {
		c.logger.Warn("update last seen failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	c.Hub.BroadcastRoom(models.PresenceRoom, models.Event{
		Event: models.EventUserOffline,
		Data:  models.PresencePayload{UserID: userID, LastSeen: &lastSeen},
	}, exceptConnID)
}

// Start runs the liveness heartbeat and the expiry sweep until Stop.
func (c *Controller) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(2)
	go c.loop(ctx, c.cfg.HeartbeatInterval, c.heartbeat)
	go c.loop(ctx, c.cfg.SweepInterval, c.sweep)
}

// Stop disconnects every client, halts both loops and disposes typing timers.
func (c *Controller) Stop(ctx context.Context) {
	for _, client := range c.Hub.Clients() {
		c.Disconnect(ctx, client, "shutdown")
	}
	c.runMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.runMu.Unlock()
	c.wg.Wait()
	c.Typing.Close()
}

func (c *Controller) loop(ctx context.Context, every time.Duration, tick func(context.Context)) {
	defer c.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// heartbeat refreshes lastActivity for every authenticated connection.
func (c *Controller) heartbeat(ctx context.Context) {
	now := c.now()
	for _, client := range c.Hub.Clients() {
		if client.State() != StateAuthenticated {
			continue
		}
		if err := c.Presence.Touch(ctx, client.ID()); err != nil {
			c.logger.Warn("heartbeat touch failed", zap.String("conn_id", client.ID()), zap.Error(err))
			continue
		}
		client.lastTouch.Store(now.UnixNano())
	}
}

// sweep expires idle sessions and reconciles presence for their owners.
func (c *Controller) sweep(ctx context.Context) {
	expired, err := c.Presence.Sweep(ctx)
	if err != nil {
		c.logger.Warn("presence sweep failed", zap.Error(err))
		return
	}

	owners := make(map[int64]struct{})
	for _, s := range expired {
		if client, ok := c.Hub.Client(s.ConnectionID); ok {
			c.Disconnect(ctx, client, "session expired")
			continue
		}
		owners[s.UserID] = struct{}{}
	}
	for userID := range owners {
		unlock := c.userLocks.lock(userID)
		c.announceOfflineLocked(ctx, userID, "")
		unlock()
	}
}

// keyedMutex serialises presence transitions per user.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(id int64) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
