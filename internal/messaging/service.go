// Package messaging validates, seals, stores and reads back chat messages.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"

	"chat-realtime/internal/ai"
	"chat-realtime/internal/apperr"
	"chat-realtime/internal/crypto"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/repositories"
)

const (
	// MaxContentLength is measured in UTF-16 code units.
	MaxContentLength = 4000

	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	suggestionContextSize = 10
	indexTimeout          = 5 * time.Second
)

// Service is the message pipeline.
type Service struct {
	groups    repositories.GroupRepository
	messages  repositories.MessageRepository
	cipher    *crypto.Cipher
	moderator ai.Moderator
	suggester ai.Suggester
	indexer   ai.Indexer
	queue     chan ai.IndexDocument
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithModerator(m ai.Moderator) Option {
	return func(s *Service) { s.moderator = m }
}

func WithSuggester(sg ai.Suggester) Option {
	return func(s *Service) { s.suggester = sg }
}

// WithIndexer sets the embedding sink and the size of its backlog.
func WithIndexer(ix ai.Indexer, queueSize int) Option {
	return func(s *Service) {
		s.indexer = ix
		if queueSize > 0 {
			s.queue = make(chan ai.IndexDocument, queueSize)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(groups repositories.GroupRepository, messages repositories.MessageRepository, cipher *crypto.Cipher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		groups:    groups,
		messages:  messages,
		cipher:    cipher,
		moderator: ai.Noop{},
		suggester: ai.Noop{},
		indexer:   ai.Noop{},
		queue:     make(chan ai.IndexDocument, 256),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckMember fails with NOT_GROUP_MEMBER unless userID is an active member
// of an active group.
func (s *Service) CheckMember(ctx context.Context, groupID, userID int64) error {
	ok, err := s.groups.IsActiveMember(ctx, groupID, userID)
	if err != nil {
		return apperr.Transient("group store unavailable", err)
	}
	if !ok {
		return apperr.Forbidden(apperr.CodeNotGroupMember, "not a member of this group")
	}
	return nil
}

// Send stores a new message from sender and returns its client view.
func (s *Service) Send(ctx context.Context, sender models.User, req models.SendMessagePayload) (models.MessageView, error) {
	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !models.ValidMessageType(msgType) || msgType == models.MessageTypeSystem {
		observability.IncMessage(msgType, "invalid")
		return models.MessageView{}, apperr.Validation(apperr.CodeInvalidMessageType, "unsupported message type")
	}
	if err := s.CheckMember(ctx, req.GroupID, sender.ID); err != nil {
		observability.IncMessage(msgType, "forbidden")
		return models.MessageView{}, err
	}

	var (
		stored string
		text   string
		media  *models.MediaContent
	)
	switch msgType {
	case models.MessageTypeText:
		text = req.Content
		if err := validateText(text); err != nil {
			observability.IncMessage(msgType, "invalid")
			return models.MessageView{}, err
		}
	default:
		if req.Media == nil || strings.TrimSpace(req.Media.URL) == "" {
			observability.IncMessage(msgType, "invalid")
			return models.MessageView{}, apperr.Validation(apperr.CodeInvalidPayload, "media url is required")
		}
		m := *req.Media
		if m.Caption == "" {
			m.Caption = req.Content
		}
		if utf16Len(m.Caption) > MaxContentLength {
			observability.IncMessage(msgType, "invalid")
			return models.MessageView{}, apperr.Validation(apperr.CodeContentTooLong, "caption is too long")
		}
		media = &m
		text = m.Caption
	}

	if text != "" {
		if err := s.moderate(ctx, text); err != nil {
			observability.IncMessage(msgType, "rejected")
			return models.MessageView{}, err
		}
	}

	if media != nil {
		raw, err := json.Marshal(media)
		if err != nil {
			return models.MessageView{}, apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, "encode media", err)
		}
		stored = string(raw)
	} else {
		sealed, err := s.cipher.Encrypt(req.GroupID, text)
		if err != nil {
			return models.MessageView{}, apperr.Wrap(apperr.KindInternal, apperr.CodeInternal, "encrypt message", err)
		}
		stored = sealed
	}

	msg, err := s.messages.CreateMessage(ctx, models.Message{
		GroupID:  req.GroupID,
		SenderID: sender.ExternalID,
		Content:  stored,
		Type:     msgType,
	})
	if err != nil {
		observability.IncMessage(msgType, "error")
		return models.MessageView{}, apperr.Transient("message store unavailable", err)
	}
	observability.IncMessage(msgType, "ok")

	s.enqueueIndex(ai.IndexDocument{
		MessageID: msg.ID,
		GroupID:   msg.GroupID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Content:   text,
		CreatedAt: msg.CreatedAt,
	})

	view := baseView(msg)
	view.Content = text
	view.Media = media
	return view, nil
}

func validateText(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperr.Validation(apperr.CodeEmptyContent, "message content is empty")
	}
	if utf16Len(content) > MaxContentLength {
		return apperr.Validation(apperr.CodeContentTooLong, "message content is too long")
	}
	return nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if utf16.IsSurrogate(r) || r < 0x10000 {
			n++
		} else {
			n += 2
		}
	}
	return n
}

// moderate rejects only on an explicit flag. An unreachable moderation
// service lets the message through.
func (s *Service) moderate(ctx context.Context, text string) error {
	verdict, err := s.moderator.Moderate(ctx, text)
	if err != nil {
		observability.IncModeration("unavailable")
		s.logger.Warn("moderation unavailable, allowing message", zap.Error(err))
		return nil
	}
	if verdict.Flagged {
		observability.IncModeration("flagged")
		reason := verdict.Reason
		if reason == "" {
			reason = "message rejected by moderation"
		}
		return apperr.New(apperr.KindModeration, apperr.CodeModerationRejected, reason)
	}
	observability.IncModeration("ok")
	return nil
}

func (s *Service) enqueueIndex(doc ai.IndexDocument) {
	if doc.Content == "" {
		return
	}
	select {
	case s.queue <- doc:
	default:
		observability.IncIndexDropped()
		s.logger.Warn("index queue full, dropping", zap.Int64("message_id", doc.MessageID))
	}
}

// Run drains the index queue until ctx is done.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case doc := <-s.queue:
			ictx, cancel := context.WithTimeout(ctx, indexTimeout)
			if err := s.indexer.Index(ictx, doc); err != nil {
				s.logger.Warn("index message failed", zap.Int64("message_id", doc.MessageID), zap.Error(err))
			}
			cancel()
		}
	}
}

// MarkRead records reads of messageIDs by reader and returns the ids that
// were not read before.
func (s *Service) MarkRead(ctx context.Context, reader models.User, groupID int64, messageIDs []int64) ([]int64, time.Time, error) {
	at := s.now().UTC()
	ids := dedupe(messageIDs)
	if len(ids) == 0 {
		return []int64{}, at, nil
	}
	if err := s.CheckMember(ctx, groupID, reader.ID); err != nil {
		return nil, at, err
	}
	marked, err := s.messages.MarkRead(ctx, groupID, ids, reader.ExternalID, at)
	if err != nil {
		return nil, at, apperr.Transient("message store unavailable", err)
	}
	if marked == nil {
		marked = []int64{}
	}
	return marked, at, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Delete soft-deletes messageID. Only the sender may delete.
func (s *Service) Delete(ctx context.Context, requester models.User, messageID int64) (models.Message, error) {
	return s.delete(ctx, requester, 0, messageID)
}

// DeleteInGroup is Delete scoped to groupID. A message from any other
// group is reported as not found.
func (s *Service) DeleteInGroup(ctx context.Context, requester models.User, groupID, messageID int64) (models.Message, error) {
	return s.delete(ctx, requester, groupID, messageID)
}

func (s *Service) delete(ctx context.Context, requester models.User, groupID, messageID int64) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) || (err == nil && (msg.IsDeleted || (groupID != 0 && msg.GroupID != groupID))) {
		return models.Message{}, apperr.NotFound(apperr.CodeMessageNotFound, "message not found")
	}
	if err != nil {
		return models.Message{}, apperr.Transient("message store unavailable", err)
	}
	if msg.SenderID != requester.ExternalID {
		return models.Message{}, apperr.Forbidden(apperr.CodeForbidden, "only the sender can delete this message")
	}
	if err := s.messages.SoftDelete(ctx, messageID, requester.ExternalID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, apperr.NotFound(apperr.CodeMessageNotFound, "message not found")
		}
		return models.Message{}, apperr.Transient("message store unavailable", err)
	}
	msg.IsDeleted = true
	return msg, nil
}

// History returns up to limit messages older than beforeID, oldest first.
func (s *Service) History(ctx context.Context, reader models.User, groupID int64, limit int, beforeID int64) ([]models.MessageView, error) {
	if err := s.CheckMember(ctx, groupID, reader.ID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	msgs, err := s.messages.ListGroupMessages(ctx, groupID, limit, beforeID)
	if err != nil {
		return nil, apperr.Transient("message store unavailable", err)
	}
	views := make([]models.MessageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, s.View(msg))
	}
	return views, nil
}

// View turns a stored row into what clients see. Deleted rows are masked
// before any decryption is attempted.
func (s *Service) View(msg models.Message) models.MessageView {
	view := baseView(msg)
	if msg.IsDeleted {
		view.Content = models.DeletedPlaceholder
		return view
	}

	if models.IsMediaType(msg.Type) {
		var media models.MediaContent
		if err := json.Unmarshal([]byte(msg.Content), &media); err != nil {
			s.logger.Warn("undecodable media record", zap.Int64("message_id", msg.ID), zap.Error(err))
			return view
		}
		view.Media = &media
		view.Content = media.Caption
		return view
	}

	plain, err := s.cipher.Decrypt(msg.GroupID, msg.Content)
	if err != nil {
		s.logger.Warn("decrypt message failed", zap.Int64("message_id", msg.ID), zap.Int64("group_id", msg.GroupID), zap.Error(err))
		return view
	}
	view.Content = plain
	return view
}

func baseView(msg models.Message) models.MessageView {
	readBy := msg.ReadBy
	if readBy == nil {
		readBy = []models.ReadReceipt{}
	}
	return models.MessageView{
		ID:        msg.ID,
		GroupID:   msg.GroupID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		IsDeleted: msg.IsDeleted,
		ReadBy:    readBy,
		CreatedAt: msg.CreatedAt,
	}
}

// SuggestReplies never fails: any problem yields an empty suggestion list.
func (s *Service) SuggestReplies(ctx context.Context, reader models.User, groupID, messageID int64) models.SmartReplies {
	empty := models.SmartReplies{MessageID: messageID, Suggestions: []string{}}
	if err := s.CheckMember(ctx, groupID, reader.ID); err != nil {
		return empty
	}
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil || msg.GroupID != groupID || msg.IsDeleted {
		return empty
	}
	target := s.View(msg)
	if target.Content == "" {
		return empty
	}

	var history []string
	if recent, err := s.messages.ListGroupMessages(ctx, groupID, suggestionContextSize, messageID); err == nil {
		for _, m := range recent {
			if v := s.View(m); !v.IsDeleted && v.Content != "" {
				history = append(history, v.Content)
			}
		}
	}

	out, err := s.suggester.SuggestReplies(ctx, target.Content, history)
	if err != nil {
		s.logger.Info("smart replies degraded", zap.Int64("message_id", messageID), zap.Error(err))
		return empty
	}
	if out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	return models.SmartReplies{MessageID: messageID, Suggestions: out.Suggestions, Confidence: out.Confidence}
}
