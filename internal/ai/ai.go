// Package ai talks to the moderation and reply-generation service.
package ai

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every transport or protocol failure of the AI service.
var ErrUnavailable = errors.New("ai service unavailable")

// Verdict is the moderation outcome for one text.
type Verdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"`
}

// Suggestions are candidate quick replies.
type Suggestions struct {
	Suggestions []string `json:"suggestions"`
	Confidence  float64  `json:"confidence"`
}

// IndexDocument is the plaintext record forwarded for embedding.
type IndexDocument struct {
	MessageID int64     `json:"message_id"`
	GroupID   int64     `json:"group_id"`
	SenderID  string    `json:"sender_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Moderator interface {
	Moderate(ctx context.Context, text string) (Verdict, error)
}

type Suggester interface {
	SuggestReplies(ctx context.Context, text string, history []string) (Suggestions, error)
}

type Indexer interface {
	Index(ctx context.Context, doc IndexDocument) error
}

// Noop allows everything and suggests nothing. Used when no AI endpoint is configured.
type Noop struct{}

func (Noop) Moderate(ctx context.Context, text string) (Verdict, error) {
	return Verdict{}, nil
}

func (Noop) SuggestReplies(ctx context.Context, text string, history []string) (Suggestions, error) {
	return Suggestions{Suggestions: []string{}}, nil
}

func (Noop) Index(ctx context.Context, doc IndexDocument) error {
	return nil
}
