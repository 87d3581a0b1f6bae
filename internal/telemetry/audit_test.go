package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	return m.Called(ctx, routingKey, event, headers).Error(0)
}

func (m *publisherMock) Close() error { return nil }

func TestAuditEmitterBuildsEnvelope(t *testing.T) {
	pub := &publisherMock{}
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test", nil)
	emitter.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.SchemaVersion == 1 &&
			e.EventType == "audit_log" &&
			e.OccurredAt == "2026-01-02T03:04:05Z" &&
			e.UserID == "ext-1" &&
			e.Payload.Action == ActionMessageDeleted &&
			e.Payload.Attributes["message_id"] == "7"
	}), map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	emitter.Emit(context.Background(), "INFO", ActionMessageDeleted, "req-1", "ext-1", map[string]string{"message_id": "7"})

	pub.AssertExpectations(t)
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &publisherMock{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	emitter := NewAuditEmitter(pub, "audit.chat", "chat-realtime", "test", nil)

	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "WARN", ActionAuthenticateFailed, "", "", nil)
	})
	pub.AssertExpectations(t)
}

func TestNilAuditEmitterIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", ActionAuthenticated, "", "", nil)
	})
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "chat-realtime", "test", nil)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
