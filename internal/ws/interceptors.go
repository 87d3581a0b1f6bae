package ws

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-realtime/internal/apperr"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// HandlerFunc handles one inbound event.
type HandlerFunc func(ctx context.Context, c *Client, ev models.InboundEvent) error

// InboundInterceptor wraps a handler. Every inbound event passes through
// the controller's interceptor list in order.
type InboundInterceptor func(next HandlerFunc) HandlerFunc

func chain(h HandlerFunc, interceptors ...InboundInterceptor) HandlerFunc {
	for i := len(interceptors) - 1; i >= 0; i-- {
		h = interceptors[i](h)
	}
	return h
}

// recoverInterceptor turns a panic in one connection's handler into an
// INTERNAL error for that connection only.
func recoverInterceptor(logger *zap.Logger) InboundInterceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Client, ev models.InboundEvent) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.String("conn_id", c.ID()),
						zap.String("event", ev.Event),
						zap.String("panic", fmt.Sprint(r)),
						zap.Stack("stack"),
					)
					err = apperr.New(apperr.KindInternal, apperr.CodeInternal, "internal error")
				}
			}()
			return next(ctx, c, ev)
		}
	}
}

func tracingInterceptor() InboundInterceptor {
	tracer := otel.Tracer("chat-realtime/ws")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Client, ev models.InboundEvent) error {
			ctx, span := tracer.Start(ctx, "ws."+eventLabel(ev.Event))
			defer span.End()
			span.SetAttributes(
				attribute.String("ws.conn_id", c.ID()),
				attribute.String("ws.event", ev.Event),
			)
			err := next(ctx, c, ev)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, apperr.From(err).Code)
			}
			return err
		}
	}
}

func metricsInterceptor() InboundInterceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Client, ev models.InboundEvent) error {
			start := time.Now()
			label := eventLabel(ev.Event)
			observability.IncWSEvent("in", label)
			err := next(ctx, c, ev)
			observability.ObserveWSEvent(label, time.Since(start))
			return err
		}
	}
}

func rateLimitInterceptor() InboundInterceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Client, ev models.InboundEvent) error {
			c.limiter.Take()
			return next(ctx, c, ev)
		}
	}
}

// activityInterceptor refreshes the session on inbound traffic, at most
// once per touch throttle.
func activityInterceptor(ctrl *Controller) InboundInterceptor {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, c *Client, ev models.InboundEvent) error {
			now := ctrl.now()
			c.markActive(now)
			if c.State() == StateAuthenticated && c.touchDue(now, ctrl.cfg.TouchThrottle) {
				if err := ctrl.Presence.Touch(ctx, c.ID()); err != nil {
					ctrl.logger.Warn("activity touch failed", zap.String("conn_id", c.ID()), zap.Error(err))
				}
			}
			return next(ctx, c, ev)
		}
	}
}

func outboundMetrics(c *Client, event string, payload []byte) {
	observability.IncWSEvent("out", event)
}

func outboundActivity(now func() time.Time) OutboundInterceptor {
	return func(c *Client, event string, payload []byte) {
		c.markActive(now())
	}
}

var knownEvents = map[string]bool{
	models.EventAuthenticate:        true,
	models.EventJoinGroup:           true,
	models.EventLeaveGroup:          true,
	models.EventSendMessage:         true,
	models.EventMarkMessageRead:     true,
	models.EventMarkMessagesRead:    true,
	models.EventDeleteMessage:       true,
	models.EventTypingStart:         true,
	models.EventTypingStop:          true,
	models.EventGetOnlineUsers:      true,
	models.EventChangeStatus:        true,
	models.EventRequestSmartReplies: true,
	models.EventLogout:              true,
}

func eventLabel(event string) string {
	if knownEvents[event] {
		return event
	}
	return "unknown"
}
