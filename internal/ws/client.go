package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnected State = iota
	StateAuthenticating
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// OutboundInterceptor observes every event queued to a client.
type OutboundInterceptor func(c *Client, event string, payload []byte)

// Client is one live connection. conn is nil for in-process clients used
// in tests; their queued frames are read straight from send.
type Client struct {
	id     string
	info   ConnInfo
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	logger *zap.Logger

	state     atomic.Int32
	closeOnce sync.Once
	leaveOnce sync.Once

	mu     sync.RWMutex
	cc     *ConnectionContext
	groups map[int64]struct{}

	lastActivity atomic.Int64
	lastTouch    atomic.Int64

	limiter  ratelimit.Limiter
	outbound []OutboundInterceptor
}

func newClient(info ConnInfo, conn *websocket.Conn, buffer int, limiter ratelimit.Limiter, logger *zap.Logger) *Client {
	if info.ConnID == "" {
		info.ConnID = newConnID()
	}
	if limiter == nil {
		limiter = ratelimit.NewUnlimited()
	}
	c := &Client{
		id:      info.ConnID,
		info:    info,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		logger:  logger.With(zap.String("conn_id", info.ConnID)),
		groups:  make(map[int64]struct{}),
		limiter: limiter,
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) Info() ConnInfo { return c.info }

func (c *Client) State() State { return State(c.state.Load()) }

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Context returns the authenticated context, if any.
func (c *Client) Context() (*ConnectionContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cc, c.cc != nil
}

func (c *Client) setContext(cc *ConnectionContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cc = cc
}

func (c *Client) userID() int64 {
	if cc, ok := c.Context(); ok {
		return cc.User.ID
	}
	return 0
}

func (c *Client) addGroup(groupID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[groupID]; ok {
		return false
	}
	c.groups[groupID] = struct{}{}
	return true
}

func (c *Client) removeGroup(groupID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[groupID]; !ok {
		return false
	}
	delete(c.groups, groupID)
	return true
}

// InGroup reports whether the connection has joined the group room.
func (c *Client) InGroup(groupID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.groups[groupID]
	return ok
}

// Groups lists the joined group ids.
func (c *Client) Groups() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int64, 0, len(c.groups))
	for id := range c.groups {
		out = append(out, id)
	}
	return out
}

func (c *Client) markActive(at time.Time) {
	c.lastActivity.Store(at.UnixNano())
}

// LastActivity is the time of the last inbound or outbound frame.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// touchDue claims the next store touch if throttle has elapsed.
func (c *Client) touchDue(now time.Time, throttle time.Duration) bool {
	last := c.lastTouch.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < throttle {
		return false
	}
	return c.lastTouch.CompareAndSwap(last, now.UnixNano())
}

// deliver queues payload without blocking. A full buffer marks the client
// as a slow consumer and closes it.
func (c *Client) deliver(event string, payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		for _, fn := range c.outbound {
			fn(c, event, payload)
		}
		return true
	default:
		c.logger.Warn("send buffer full, closing slow consumer", zap.String("event", event))
		observability.IncSlowConsumer()
		c.Close()
		return false
	}
}

// Send marshals and queues a single event.
func (c *Client) Send(event models.Event) bool {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("marshal event failed", zap.String("event", event.Event), zap.Error(err))
		return false
	}
	return c.deliver(event.Event, payload)
}

// Close stops the client. Queued frames are flushed by the write pump
// before the transport is closed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump owns all writes to the transport.
func (c *Client) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case msg := <-c.send:
			if err := write(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if err := write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
