package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/ai"
	"chat-realtime/internal/apperr"
	"chat-realtime/internal/crypto"
	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
)

type fixture struct {
	svc      *Service
	groups   *mocks.MemoryGroups
	messages *mocks.MemoryMessages
	alice    models.User
	bob      models.User
	eve      models.User
	groupID  int64
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	cipher, err := crypto.NewCipher([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)

	f := fixture{
		groups:   mocks.NewMemoryGroups(),
		messages: mocks.NewMemoryMessages(),
		alice:    models.User{ID: 1, ExternalID: "ext-alice", Username: "alice"},
		bob:      models.User{ID: 2, ExternalID: "ext-bob", Username: "bob"},
		eve:      models.User{ID: 3, ExternalID: "ext-eve", Username: "eve"},
	}
	g, err := f.groups.CreateGroup(context.Background(), f.alice.ID, "team", "", false, []int64{f.bob.ID})
	require.NoError(t, err)
	f.groupID = g.ID
	f.svc = NewService(f.groups, f.messages, cipher, nil, opts...)
	return f
}

func TestSendTextEncryptsAtRest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.Send(ctx, f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi", view.Content)
	require.Equal(t, models.MessageTypeText, view.Type)
	require.Equal(t, "ext-alice", view.SenderID)

	stored, ok := f.messages.Stored(view.ID)
	require.True(t, ok)
	require.NotContains(t, stored.Content, "hi")
	require.True(t, strings.HasPrefix(stored.Content, "v1:"))

	require.Equal(t, "hi", f.svc.View(stored).Content)
}

func TestSendMediaStoresPlaintextRecord(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Send(context.Background(), f.bob, models.SendMessagePayload{
		GroupID: f.groupID,
		Type:    models.MessageTypeImage,
		Media:   &models.MediaContent{URL: "https://cdn.example.com/a.png", Width: 10, Height: 20},
		Content: "look",
	})
	require.NoError(t, err)
	require.Equal(t, "look", view.Content)
	require.NotNil(t, view.Media)

	stored, _ := f.messages.Stored(view.ID)
	require.Contains(t, stored.Content, "https://cdn.example.com/a.png")

	again := f.svc.View(stored)
	require.Equal(t, 20, again.Media.Height)
	require.Equal(t, "look", again.Content)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.SendMessagePayload
		code string
	}{
		{"empty", models.SendMessagePayload{GroupID: f.groupID, Content: "   "}, apperr.CodeEmptyContent},
		{"too long", models.SendMessagePayload{GroupID: f.groupID, Content: strings.Repeat("a", MaxContentLength+1)}, apperr.CodeContentTooLong},
		{"bad type", models.SendMessagePayload{GroupID: f.groupID, Content: "x", Type: "video"}, apperr.CodeInvalidMessageType},
		{"system from client", models.SendMessagePayload{GroupID: f.groupID, Content: "x", Type: models.MessageTypeSystem}, apperr.CodeInvalidMessageType},
		{"media without url", models.SendMessagePayload{GroupID: f.groupID, Type: models.MessageTypeFile}, apperr.CodeInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, f.alice, tc.req)
			require.Equal(t, tc.code, apperr.From(err).Code)
		})
	}
}

func TestContentCeilingCountsUTF16Units(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// each emoji is two UTF-16 units
	_, err := f.svc.Send(ctx, f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: strings.Repeat("😀", MaxContentLength/2)})
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: strings.Repeat("😀", MaxContentLength/2) + "a"})
	require.Equal(t, apperr.CodeContentTooLong, apperr.From(err).Code)
}

func TestSendRejectsNonMember(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), f.eve, models.SendMessagePayload{GroupID: f.groupID, Content: "let me in"})
	require.Equal(t, apperr.CodeNotGroupMember, apperr.From(err).Code)
	require.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestSendRejectsAfterMembershipEnds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.groups.LeaveGroup(ctx, f.groupID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, f.bob, models.SendMessagePayload{GroupID: f.groupID, Content: "still here?"})
	require.Equal(t, apperr.CodeNotGroupMember, apperr.From(err).Code)
}

func TestModerationFlagRejects(t *testing.T) {
	mod := &mocks.ModeratorMock{}
	mod.On("Moderate", mock.Anything, "rude").Return(ai.Verdict{Flagged: true, Reason: "harassment"}, nil)
	f := newFixture(t, WithModerator(mod))

	_, err := f.svc.Send(context.Background(), f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "rude"})
	appErr := apperr.From(err)
	require.Equal(t, apperr.CodeModerationRejected, appErr.Code)
	require.Equal(t, "harassment", appErr.Message)
	require.Equal(t, apperr.KindModeration, appErr.Kind)

	msgs, err := f.messages.ListGroupMessages(context.Background(), f.groupID, 10, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestModerationOutageAllows(t *testing.T) {
	mod := &mocks.ModeratorMock{}
	mod.On("Moderate", mock.Anything, "hello").Return(ai.Verdict{}, ai.ErrUnavailable)
	f := newFixture(t, WithModerator(mod))

	view, err := f.svc.Send(context.Background(), f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "hello"})
	require.NoError(t, err)
	require.NotZero(t, view.ID)
	mod.AssertExpectations(t)
}

func TestIndexingNeverBlocksSend(t *testing.T) {
	indexer := &mocks.BlockingIndexer{Release: make(chan struct{})}
	f := newFixture(t, WithIndexer(indexer, 1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.svc.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			if _, err := f.svc.Send(context.Background(), f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "msg"}); err != nil {
				t.Error(err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("send blocked on indexing")
	}

	close(indexer.Release)
	require.Eventually(t, func() bool { return indexer.Count() >= 1 }, time.Second, 5*time.Millisecond)
	require.LessOrEqual(t, indexer.Count(), 5)
}

func TestIndexerReceivesPlaintext(t *testing.T) {
	indexer := &mocks.BlockingIndexer{}
	f := newFixture(t, WithIndexer(indexer, 8))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.svc.Run(ctx)

	_, err := f.svc.Send(context.Background(), f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "plain words"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return indexer.Count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "plain words", indexer.Docs[0].Content)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.svc.Send(ctx, f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "read me"})
	require.NoError(t, err)

	marked, _, err := f.svc.MarkRead(ctx, f.bob, f.groupID, []int64{view.ID})
	require.NoError(t, err)
	require.Equal(t, []int64{view.ID}, marked)

	marked, _, err = f.svc.MarkRead(ctx, f.bob, f.groupID, []int64{view.ID, view.ID})
	require.NoError(t, err)
	require.Empty(t, marked)

	stored, _ := f.messages.Stored(view.ID)
	require.Len(t, stored.ReadBy, 1)
	require.Equal(t, "ext-bob", stored.ReadBy[0].UserID)
}

func TestMarkReadRequiresMembership(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.MarkRead(context.Background(), f.eve, f.groupID, []int64{1})
	require.Equal(t, apperr.CodeNotGroupMember, apperr.From(err).Code)
}

func TestDeleteOnlyBySender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.svc.Send(ctx, f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "oops"})
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, f.bob, view.ID)
	require.Equal(t, apperr.CodeForbidden, apperr.From(err).Code)

	deleted, err := f.svc.Delete(ctx, f.alice, view.ID)
	require.NoError(t, err)
	require.Equal(t, f.groupID, deleted.GroupID)

	_, err = f.svc.Delete(ctx, f.alice, view.ID)
	require.Equal(t, apperr.CodeMessageNotFound, apperr.From(err).Code)

	_, err = f.svc.Delete(ctx, f.alice, 9999)
	require.Equal(t, apperr.CodeMessageNotFound, apperr.From(err).Code)
}

func TestDeletedMessagesAreMaskedEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.svc.Send(ctx, f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "secret"})
	require.NoError(t, err)
	_, err = f.svc.Delete(ctx, f.alice, view.ID)
	require.NoError(t, err)

	for _, reader := range []models.User{f.alice, f.bob} {
		history, err := f.svc.History(ctx, reader, f.groupID, 0, 0)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.True(t, history[0].IsDeleted)
		require.Equal(t, models.DeletedPlaceholder, history[0].Content)
		require.NotContains(t, history[0].Content, "secret")
	}

	stored, _ := f.messages.Stored(view.ID)
	require.True(t, stored.IsDeleted)
	require.Equal(t, models.DeletedPlaceholder, f.svc.View(stored).Content)
}

func TestViewFailsClosedOnForeignCiphertext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := f.svc.Send(ctx, f.alice, models.SendMessagePayload{GroupID: f.groupID, Content: "mine"})
	require.NoError(t, err)

	stored, _ := f.messages.Stored(view.ID)
	stored.GroupID = f.groupID + 1
	require.Empty(t, f.svc.View(stored).Content)
}

func TestHistoryRequiresMembership(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.History(context.Background(), f.eve, f.groupID, 10, 0)
	require.Equal(t, apperr.CodeNotGroupMember, apperr.From(err).Code)
}

func TestSuggestReplies(t *testing.T) {
	sug := &mocks.SuggesterMock{}
	f := newFixture(t, WithSuggester(sug))
	ctx := context.Background()
	first, err := f.svc.Send(ctx, f.bob, models.SendMessagePayload{GroupID: f.groupID, Content: "morning"})
	require.NoError(t, err)
	target, err := f.svc.Send(ctx, f.bob, models.SendMessagePayload{GroupID: f.groupID, Content: "lunch?"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, target.ID)

	sug.On("SuggestReplies", mock.Anything, "lunch?", []string{"morning"}).
		Return(ai.Suggestions{Suggestions: []string{"sure", "no", "later"}, Confidence: 0.9}, nil).Once()

	out := f.svc.SuggestReplies(ctx, f.alice, f.groupID, target.ID)
	require.Equal(t, []string{"sure", "no", "later"}, out.Suggestions)
	sug.AssertExpectations(t)
}

func TestSuggestRepliesDegrades(t *testing.T) {
	sug := &mocks.SuggesterMock{}
	sug.On("SuggestReplies", mock.Anything, mock.Anything, mock.Anything).Return(ai.Suggestions{}, errors.New("timeout"))
	f := newFixture(t, WithSuggester(sug))
	ctx := context.Background()
	msg, err := f.svc.Send(ctx, f.bob, models.SendMessagePayload{GroupID: f.groupID, Content: "anyone?"})
	require.NoError(t, err)

	out := f.svc.SuggestReplies(ctx, f.alice, f.groupID, msg.ID)
	require.Empty(t, out.Suggestions)
	require.NotNil(t, out.Suggestions)

	out = f.svc.SuggestReplies(ctx, f.eve, f.groupID, msg.ID)
	require.Empty(t, out.Suggestions)
}
