package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/ai"
)

type ModeratorMock struct {
	mock.Mock
}

func (m *ModeratorMock) Moderate(ctx context.Context, text string) (ai.Verdict, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(ai.Verdict), args.Error(1)
}

type SuggesterMock struct {
	mock.Mock
}

func (m *SuggesterMock) SuggestReplies(ctx context.Context, text string, history []string) (ai.Suggestions, error) {
	args := m.Called(ctx, text, history)
	return args.Get(0).(ai.Suggestions), args.Error(1)
}

// BlockingIndexer records documents and can be made to stall.
type BlockingIndexer struct {
	mu      sync.Mutex
	Docs    []ai.IndexDocument
	Release chan struct{}
}

func (b *BlockingIndexer) Index(ctx context.Context, doc ai.IndexDocument) error {
	if b.Release != nil {
		select {
		case <-b.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Docs = append(b.Docs, doc)
	return nil
}

func (b *BlockingIndexer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Docs)
}

var _ ai.Moderator = (*ModeratorMock)(nil)
var _ ai.Suggester = (*SuggesterMock)(nil)
var _ ai.Indexer = (*BlockingIndexer)(nil)
