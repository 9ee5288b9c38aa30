package models

import "time"

// Conversation is the single thread between an unordered pair of users.
// The pair is stored low/high so {A,B} and {B,A} hit the same unique index.
type Conversation struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ParticipantLow  string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair,priority:1" json:"participant_low"`
	ParticipantHigh string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_conversation_pair,priority:2;index" json:"participant_high"`
	LastMessageID   *string    `gorm:"type:varchar(36)" json:"last_message_id"`
	LastMessageAt   *time.Time `gorm:"index" json:"last_message_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// CanonicalPair orders two user ids so the smaller one comes first.
func CanonicalPair(userA, userB string) (low, high string) {
	if userA <= userB {
		return userA, userB
	}
	return userB, userA
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantLow == userID || c.ParticipantHigh == userID
}

// OtherParticipant returns the counterpart of userID. The caller must be a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	if c.ParticipantLow == userID {
		return c.ParticipantHigh
	}
	return c.ParticipantLow
}

func (c *Conversation) Ended() bool { return c.EndedAt != nil }

// ConversationListEntry is derived per request and never persisted.
type ConversationListEntry struct {
	Conversation     Conversation `json:"conversation"`
	OtherParticipant Profile      `json:"other_participant"`
	LastMessage      *Message     `json:"last_message"`
	UnreadCount      int64        `json:"unread_count"`
}
