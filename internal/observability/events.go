package observability

import "context"

// Routing keys for connection lifecycle events.
const (
	RoutingKeyWSEvents = "ws_events.groups"

	EventWSConnect    = "ws_connect"
	EventWSDisconnect = "ws_disconnect"
	EventWSError      = "ws_error"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEventPayload describes a websocket lifecycle transition.
type WSEventPayload struct {
	ConnectionID string `json:"connection_id"`
	UserID       int64  `json:"user_id,omitempty"`
	DeviceType   string `json:"device_type,omitempty"`
	IP           string `json:"ip,omitempty"`
	Reason       string `json:"reason,omitempty"`
	OccurredAt   string `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var defaultPublisher Publisher

func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
