package apperrors

var (
	// Domain errors shared by the services and the realtime gateway.
	ErrSelfConversation     = Validation("cannot start a conversation with yourself")
	ErrMissingParticipant   = Validation("both participant ids are required")
	ErrEmptyContent         = Validation("message content cannot be empty")
	ErrContentTooLong       = Validation("message content exceeds 5000 characters")
	ErrInvalidMessageType   = Validation("message_type must be text or image")
	ErrConversationEnded    = Validation("conversation has ended")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrMessageNotFound      = NotFound("message not found")
	ErrNotConnected         = Transport("realtime connection is not established", nil)
	ErrAckTimeout           = Transport("acknowledgement timed out", nil)
)
