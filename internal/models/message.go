package models

import "time"

// Message types.
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"
)

// DeletedPlaceholder replaces the body of soft-deleted messages.
const DeletedPlaceholder = "This message was deleted"

// Message is a group chat message. Content holds ciphertext for text
// messages and a JSON encoded MediaContent for media messages.
type Message struct {
	ID        int64         `db:"id" json:"id"`
	GroupID   int64         `db:"group_id" json:"group_id"`
	SenderID  string        `db:"sender_id" json:"sender_id"`
	Content   string        `db:"content" json:"content"`
	Type      string        `db:"type" json:"type"`
	IsDeleted bool          `db:"is_deleted" json:"is_deleted"`
	ReadBy    []ReadReceipt `db:"-" json:"read_by"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// MediaContent is the plaintext record stored for image and file messages.
type MediaContent struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ReadReceipt records that a user has seen a message.
type ReadReceipt struct {
	MessageID int64     `db:"message_id" json:"-"`
	UserID    string    `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// MessageView is what clients receive: decrypted or masked content.
type MessageView struct {
	ID        int64         `json:"id"`
	GroupID   int64         `json:"group_id"`
	SenderID  string        `json:"sender_id"`
	Content   string        `json:"content"`
	Media     *MediaContent `json:"media,omitempty"`
	Type      string        `json:"type"`
	IsDeleted bool          `json:"is_deleted"`
	ReadBy    []ReadReceipt `json:"read_by"`
	CreatedAt time.Time     `json:"created_at"`
}

// IsMediaType reports whether t is stored as a plaintext media record.
func IsMediaType(t string) bool {
	return t == MessageTypeImage || t == MessageTypeFile
}

// ValidMessageType reports whether t is a known message type.
func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem:
		return true
	}
	return false
}
