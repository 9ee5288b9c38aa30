package models

import "time"

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// SystemSenderID authors notices posted by collaborator subsystems.
const SystemSenderID = "system"

// MaxContentLength matches the compose field cap on the clients.
const MaxContentLength = 5000

// MaxClientKeyLength bounds the sender-chosen idempotency key.
const MaxClientKeyLength = 64

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeSystem:
		return true
	}
	return false
}

// Message ids are UUIDv7 strings, so lexical id order is creation order.
type Message struct {
	ID             string      `gorm:"primaryKey;type:varchar(36);index:idx_messages_conversation,priority:2" json:"id"`
	ConversationID string      `gorm:"type:varchar(36);not null;index:idx_messages_conversation,priority:1" json:"conversation_id"`
	SenderID       string      `gorm:"type:varchar(64);not null;uniqueIndex:idx_messages_client_key,priority:1" json:"sender_id"`
	Content        string      `gorm:"type:text;not null" json:"content"`
	MessageType    MessageType `gorm:"type:varchar(10);not null;default:'text'" json:"message_type"`
	IsRead         bool        `gorm:"not null;default:false" json:"is_read"`
	ReadAt         *time.Time  `json:"read_at"`
	CreatedAt      time.Time   `gorm:"not null" json:"created_at"`
	// ClientKey lets a sender retry over another transport without
	// creating a second message.
	ClientKey *string `gorm:"type:varchar(64);uniqueIndex:idx_messages_client_key,priority:2" json:"client_key,omitempty"`
}

// Page is one backward-cursor slice of a conversation, oldest first.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
