package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-realtime/internal/observability"
)

// Handler upgrades HTTP requests on /ws into realtime connections.
type Handler struct {
	controller *Controller
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler constructs a Handler. An empty allowedOrigins accepts any origin.
func NewHandler(controller *Controller, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		controller: controller,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// Handle upgrades the connection. A token query parameter authenticates
// right away, otherwise the client must send an authenticate event.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request.WithContext(ctx), nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := h.controller.Connect(conn, info)
	h.publish(client, observability.EventWSConnect, "")

	// The request context ends when this handler returns; the connection
	// keeps only the trace linkage.
	connCtx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	token := c.Query("token")
	device := c.Query("device")

	cfg := h.controller.cfg
	go client.writePump(cfg.WriteTimeout, cfg.PongTimeout*9/10)
	go h.readLoop(connCtx, client, token, device)
}

func (h *Handler) readLoop(ctx context.Context, client *Client, token, device string) {
	cfg := h.controller.cfg
	conn := client.conn
	var reason string
	defer func() {
		h.controller.Disconnect(context.Background(), client, reason)
		h.publish(client, observability.EventWSDisconnect, reason)
	}()

	conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		client.markActive(time.Now())
		return conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	if token != "" {
		h.controller.AuthenticateHandshake(ctx, client, token, device)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason = err.Error()
			if !client.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.publish(client, observability.EventWSError, reason)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		h.controller.HandleMessage(ctx, client, data)
		if client.closed() {
			reason = "closed by server"
			return
		}
	}
}

func (h *Handler) publish(client *Client, event, reason string) {
	info := client.Info()
	var userID int64
	var device string
	if cc, ok := client.Context(); ok {
		userID = cc.User.ID
		device = cc.DeviceType
	}
	observability.IncWSEvent("lifecycle", event)
	_ = observability.PublishEvent(context.Background(), observability.RoutingKeyWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: observability.WSEventPayload{
			ConnectionID: info.ConnID,
			UserID:       userID,
			DeviceType:   device,
			IP:           info.IP,
			Reason:       reason,
			OccurredAt:   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
