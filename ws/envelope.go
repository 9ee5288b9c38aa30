package ws

import (
	"bytes"
	"encoding/json"
	"errors"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

// Envelope is the frame clients send. Ack, when set, asks for an ack reply
// carrying the same id.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// Frame is what the server writes.
type Frame struct {
	Event string              `json:"event"`
	Data  any                 `json:"data,omitempty"`
	Ack   string              `json:"ack,omitempty"`
	Error *apperrors.AppError `json:"error,omitempty"`
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: payload})
}

func ackFrame(ack string, payload any, err error) Frame {
	f := Frame{Event: models.EventAck, Ack: ack}
	if err != nil {
		f.Error = wireError(err)
		return f
	}
	f.Data = payload
	return f
}

// wireError keeps internal causes off the wire.
func wireError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Code != apperrors.CodeInternal {
		return &apperrors.AppError{Code: appErr.Code, Message: appErr.Message}
	}
	return &apperrors.AppError{Code: apperrors.CodeInternal, Message: "internal error"}
}

var errMissingConversationID = apperrors.Validation("conversationId is required")

// conversationID accepts either "id" or {"conversationId": "id"}.
func conversationID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", errMissingConversationID
	}
	var id string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", apperrors.Validation("malformed conversation id")
		}
	} else {
		var body struct {
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", apperrors.Validation("malformed conversation id")
		}
		id = body.ConversationID
	}
	if id == "" {
		return "", errMissingConversationID
	}
	return id, nil
}
