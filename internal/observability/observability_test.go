package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	keys []string
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	f.keys = append(f.keys, routingKey)
	return f.err
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	require.NoError(t, PublishEvent(context.Background(), RoutingKeyWSEvents, EventEnvelope{}, nil))
}

func TestPublishEventDelegates(t *testing.T) {
	pub := &fakePublisher{err: errors.New("closed")}
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	err := PublishEvent(context.Background(), RoutingKeyWSEvents, EventEnvelope{EventName: EventWSConnect}, nil)
	require.Error(t, err)
	require.Equal(t, []string{RoutingKeyWSEvents}, pub.keys)
}

func TestBuildHeaders(t *testing.T) {
	require.Empty(t, BuildHeaders("", ""))
	require.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	require.Equal(t, "1.2.3.4", IPFromRequest(req))
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, rec.Body.String())
	require.Equal(t, rec.Body.String(), rec.Header().Get("X-Request-Id"))
}
