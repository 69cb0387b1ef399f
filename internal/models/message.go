package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
)

// Message is a single immutable message inside a session. Content may be
// empty for media-only messages; MediaRef then points at the stored object.
type Message struct {
	ID         string      `gorm:"primaryKey" json:"id"`
	SessionID  string      `gorm:"index:idx_session_msg" json:"session_id"`
	SenderID   string      `gorm:"index:idx_session_msg" json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	Type       MessageType `gorm:"type:text" json:"type"`
	MediaRef   string      `json:"media_ref,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// BeforeCreate is a GORM hook that assigns a fresh UUID when no id was set.
func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
