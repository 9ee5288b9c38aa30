package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"playmate-chat/apperrors"
	"playmate-chat/metrics"
	"playmate-chat/models"
)

const commandTimeout = 10 * time.Second

// Client is one socket connection. A user may hold several.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	hello  []byte
	id     string
	userID string
	typing *rate.Limiter
	log    *zap.Logger
}

// JoinAck is the payload of a successful join or leave.
type JoinAck struct {
	ConversationID string `json:"conversationId"`
}

// ReadAck is the payload of a successful messages:read command.
type ReadAck struct {
	ConversationID string `json:"conversationId"`
	Updated        int64  `json:"updated"`
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongTimeout))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.reply("", nil, apperrors.Validation("malformed frame"))
			continue
		}
		c.handle(ctx, env)
	}
}

func (c *Client) handle(ctx context.Context, env Envelope) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch env.Event {
	case models.EventConversationJoin:
		id, err := conversationID(env.Data)
		if err == nil {
			_, err = c.hub.backend.Authorize(ctx, id, c.userID)
		}
		if err == nil && !c.hub.joinRoom(c, id) {
			err = apperrors.Transport("gateway is shutting down", nil)
		}
		c.reply(env.Ack, JoinAck{ConversationID: id}, err)

	case models.EventConversationLeave:
		id, err := conversationID(env.Data)
		if err == nil {
			c.hub.leaveRoom(c, id)
		}
		c.reply(env.Ack, JoinAck{ConversationID: id}, err)

	case models.EventMessageSend:
		var p models.SendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.reply(env.Ack, nil, apperrors.Validation("malformed message payload"))
			return
		}
		if p.ConversationID == "" {
			c.reply(env.Ack, nil, errMissingConversationID)
			return
		}
		msg, err := c.hub.backend.SendMessageWithKey(ctx, c.userID, p.ConversationID, p.Content, p.MessageType, p.ClientKey)
		if err == nil {
			metrics.SendsByTransport.WithLabelValues("socket").Inc()
		}
		c.reply(env.Ack, msg, err)

	case models.EventTypingStart, models.EventTypingStop:
		id, err := conversationID(env.Data)
		if err != nil {
			c.reply(env.Ack, nil, err)
			return
		}
		if env.Event == models.EventTypingStart && !c.typing.Allow() {
			c.reply(env.Ack, nil, apperrors.RateLimited("typing too fast"))
			return
		}
		frame, err := encodeFrame(env.Event, models.TypingPayload{ConversationID: id, UserID: c.userID})
		if err == nil {
			c.hub.sendDelivery(delivery{room: id, frame: frame, exclude: c, member: c})
		}
		c.reply(env.Ack, JoinAck{ConversationID: id}, err)

	case models.EventMessagesRead:
		id, err := conversationID(env.Data)
		if err != nil {
			c.reply(env.Ack, nil, err)
			return
		}
		updated, err := c.hub.backend.MarkRead(ctx, c.userID, id)
		c.reply(env.Ack, ReadAck{ConversationID: id, Updated: updated}, err)

	default:
		c.reply(env.Ack, nil, apperrors.Validation("unknown event "+env.Event))
	}
}

// reply answers a command. Without an ack id only failures are reported,
// as an error event.
func (c *Client) reply(ack string, payload any, err error) {
	var f Frame
	switch {
	case ack != "":
		f = ackFrame(ack, payload, err)
	case err != nil:
		f = Frame{Event: models.EventError, Error: wireError(err)}
	default:
		return
	}
	if err != nil && apperrors.CodeOf(err) == apperrors.CodeInternal {
		c.log.Error("command failed", zap.String("user_id", c.userID), zap.Error(err))
	}
	frame, mErr := json.Marshal(f)
	if mErr != nil {
		c.log.Error("encode reply", zap.Error(mErr))
		return
	}
	c.hub.sendDelivery(delivery{client: c, frame: frame})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("ping failed, closing", zap.String("connection_id", c.id), zap.Error(err))
				return
			}
		}
	}
}
