package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"state"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"direction", "event"},
	)
	wsEventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_ws_event_duration_seconds",
			Help:    "Inbound websocket event handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)
	wsSlowConsumersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_slow_consumers_total",
			Help: "Connections closed because their send buffer was full.",
		},
	)
	sessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_sessions_created_total",
			Help: "Total number of presence sessions created.",
		},
	)
	sessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_presence_sessions_expired_total",
			Help: "Total number of presence sessions removed by the sweep.",
		},
	)
	presenceSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_sweeps_total",
			Help: "Total number of presence sweeps by result.",
		},
		[]string{"result"},
	)
	typingTimersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_typing_timers_active",
			Help: "Number of live typing indicators.",
		},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of send attempts by message type and result.",
		},
		[]string{"type", "result"},
	)
	moderationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_moderation_total",
			Help: "Moderation verdicts by result.",
		},
		[]string{"result"},
	)
	indexDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_index_dropped_total",
			Help: "Messages not queued for indexing because the queue was full.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		wsEventDuration,
		wsSlowConsumersTotal,
		sessionsCreatedTotal,
		sessionsExpiredTotal,
		presenceSweepsTotal,
		typingTimersActive,
		messagesTotal,
		moderationTotal,
		indexDroppedTotal,
		amqpPublishErrorsTotal,
	)
}

// MetricsHandler serves the default registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(state string) {
	wsActiveConnections.WithLabelValues(state).Inc()
}

func DecWSActive(state string) {
	wsActiveConnections.WithLabelValues(state).Dec()
}

func IncWSEvent(direction, event string) {
	wsEventsTotal.WithLabelValues(direction, event).Inc()
}

func ObserveWSEvent(event string, d time.Duration) {
	wsEventDuration.WithLabelValues(event).Observe(d.Seconds())
}

func IncSlowConsumer() {
	wsSlowConsumersTotal.Inc()
}

func IncSessionCreated() {
	sessionsCreatedTotal.Inc()
}

func AddSessionsExpired(n int) {
	sessionsExpiredTotal.Add(float64(n))
}

func IncPresenceSweep(result string) {
	presenceSweepsTotal.WithLabelValues(result).Inc()
}

func SetTypingActive(n int) {
	typingTimersActive.Set(float64(n))
}

func IncMessage(messageType, result string) {
	messagesTotal.WithLabelValues(messageType, result).Inc()
}

func IncModeration(result string) {
	moderationTotal.WithLabelValues(result).Inc()
}

func IncIndexDropped() {
	indexDroppedTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
