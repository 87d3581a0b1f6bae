package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-realtime/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, group_id, sender_id, content, type, is_deleted, created_at, updated_at`

// MessageRepository defines interactions for group messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListGroupMessages(ctx context.Context, groupID int64, limit int, beforeID int64) ([]models.Message, error)
	MarkRead(ctx context.Context, groupID int64, messageIDs []int64, userID string, at time.Time) ([]int64, error)
	SoftDelete(ctx context.Context, messageID int64, senderID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage persists a group message. Content must already be sealed
// for text messages.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	err := r.db.GetContext(ctx, &out, `INSERT INTO messages (group_id, sender_id, content, type) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
		msg.GroupID, msg.SenderID, msg.Content, msg.Type)
	if err != nil {
		return models.Message{}, err
	}
	out.ReadBy = []models.ReadReceipt{}
	return out, nil
}

// GetMessage fetches a single message with its read receipts.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msgs := []models.Message{msg}
	if err := r.attachReceipts(ctx, msgs); err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

// ListGroupMessages returns up to limit messages older than beforeID (or the
// newest when beforeID is 0), oldest first. Deleted rows are included; callers
// mask them.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, groupID int64, limit int, beforeID int64) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE group_id=$1 AND ($2 = 0 OR id < $2)
        ORDER BY id DESC LIMIT $3`, groupID, beforeID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := r.attachReceipts(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead appends a receipt for userID to every listed message of the group
// that does not have one yet, and returns only the newly marked ids.
func (r *MessageRepo) MarkRead(ctx context.Context, groupID int64, messageIDs []int64, userID string, at time.Time) ([]int64, error) {
	if len(messageIDs) == 0 {
		return []int64{}, nil
	}
	marked := []int64{}
	err := r.db.SelectContext(ctx, &marked, `INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT m.id, $3, $4 FROM messages m
        WHERE m.id = ANY($1) AND m.group_id = $2 AND m.is_deleted = FALSE
        ORDER BY m.id
        ON CONFLICT (message_id, user_id) DO NOTHING
        RETURNING message_id`, pq.Array(messageIDs), groupID, userID, at)
	return marked, err
}

// SoftDelete flags a message deleted when invoked by its sender.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int64, senderID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE, updated_at = NOW() WHERE id=$1 AND sender_id=$2 AND is_deleted = FALSE`, messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) attachReceipts(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	var receipts []models.ReadReceipt
	if err := r.db.SelectContext(ctx, &receipts, `SELECT message_id, user_id, read_at FROM message_reads WHERE message_id = ANY($1) ORDER BY seq`, pq.Array(ids)); err != nil {
		return err
	}
	byMessage := make(map[int64][]models.ReadReceipt, len(msgs))
	for _, rc := range receipts {
		byMessage[rc.MessageID] = append(byMessage[rc.MessageID], rc)
	}
	for i := range msgs {
		msgs[i].ReadBy = byMessage[msgs[i].ID]
		if msgs[i].ReadBy == nil {
			msgs[i].ReadBy = []models.ReadReceipt{}
		}
	}
	return nil
}
