package models

// Realtime event names shared by the gateway and the client SDK.
const (
	EventConnected           = "connected"
	EventAck                 = "ack"
	EventError               = "error"
	EventConversationJoin    = "conversation:join"
	EventConversationLeave   = "conversation:leave"
	EventConversationUpdated = "conversation:updated"
	EventMessageSend         = "message:send"
	EventMessageNew          = "message:new"
	EventMessagesRead        = "messages:read"
	EventTypingStart         = "typing:start"
	EventTypingStop          = "typing:stop"
)

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type ReadPayload struct {
	ConversationID string `json:"conversationId"`
	ReaderID       string `json:"readerId"`
}

type ConversationUpdatedPayload struct {
	ConversationID string   `json:"conversationId"`
	LastMessage    *Message `json:"last_message"`
}

type SendPayload struct {
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType,omitempty"`
	ClientKey      string      `json:"clientKey,omitempty"`
}

type ConnectedPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}
