package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestModerateFlagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/moderate", r.URL.Path)
		var body moderateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "bad words", body.Text)
		_ = json.NewEncoder(w).Encode(Verdict{Flagged: true, Reason: "profanity"})
	}))
	defer srv.Close()

	verdict, err := NewClient(srv.URL+"/", time.Second, nil).Moderate(context.Background(), "bad words")
	require.NoError(t, err)
	require.True(t, verdict.Flagged)
	require.Equal(t, "profanity", verdict.Reason)
}

func TestModerateServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, nil).Moderate(context.Background(), "hi")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestModerateTimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 20*time.Millisecond, nil).Moderate(context.Background(), "hi")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSuggestRepliesTrimsToThree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/suggest-replies", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Suggestions{Suggestions: []string{"a", "b", "c", "d"}, Confidence: 0.7})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, time.Second, nil).SuggestReplies(context.Background(), "how are you?", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, out.Suggestions)
	require.InDelta(t, 0.7, out.Confidence, 0.0001)
}

type capturePublisher struct {
	key     string
	event   any
	headers map[string]string
	err     error
}

func (c *capturePublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	c.key, c.event, c.headers = routingKey, event, headers
	return c.err
}

func TestQueueIndexerPublishes(t *testing.T) {
	pub := &capturePublisher{}
	doc := IndexDocument{MessageID: 4, GroupID: 9, Content: "hi"}

	require.NoError(t, NewQueueIndexer(pub, "ai.index.message").Index(context.Background(), doc))
	require.Equal(t, "ai.index.message", pub.key)
	require.Equal(t, doc, pub.event)
	require.Equal(t, "4", pub.headers["message_id"])
	require.Equal(t, "9", pub.headers["group_id"])

	pub.err = errors.New("closed")
	require.Error(t, NewQueueIndexer(pub, "k").Index(context.Background(), doc))
}
