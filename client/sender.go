package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

// Draft is the compose field of one conversation.
type Draft struct {
	mu   sync.Mutex
	text string
}

func (d *Draft) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// Take clears the draft and returns what it held.
func (d *Draft) Take() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	text := d.text
	d.text = ""
	return text
}

// Restore puts text back unless the user already typed something new.
func (d *Draft) Restore(text string) {
	d.mu.Lock()
	if d.text == "" {
		d.text = text
	}
	d.mu.Unlock()
}

// Merger receives authoritative messages. SyncEngine implements it.
type Merger interface {
	Merge(msg models.Message) bool
}

// Via names the transport that persisted a message.
type Via string

const (
	ViaSocket Via = "socket"
	ViaREST   Via = "rest"
)

type SendResult struct {
	Message models.Message
	Via     Via
}

// Sender delivers drafts over the realtime connection, falling back to REST
// when the socket is down, answers with an error, or the ack times out.
type Sender struct {
	rt         Transport
	api        API
	merger     Merger
	ackTimeout time.Duration
	typingIdle time.Duration
	log        *zap.Logger

	mu     sync.Mutex
	typing map[string]*TypingDebouncer
}

type SenderOption func(*Sender)

func WithAckTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.ackTimeout = d }
}

func WithTypingIdle(d time.Duration) SenderOption {
	return func(s *Sender) { s.typingIdle = d }
}

func WithSenderLogger(log *zap.Logger) SenderOption {
	return func(s *Sender) { s.log = log }
}

func NewSender(rt Transport, api API, merger Merger, opts ...SenderOption) *Sender {
	s := &Sender{
		rt:         rt,
		api:        api,
		merger:     merger,
		ackTimeout: DefaultAckTimeout,
		typingIdle: DefaultTypingIdle,
		log:        zap.NewNop(),
		typing:     make(map[string]*TypingDebouncer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Typing returns the debouncer for a conversation's compose field.
func (s *Sender) Typing(conversationID string) *TypingDebouncer {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.typing[conversationID]
	if !ok {
		d = NewTypingDebouncer(s.rt, conversationID, s.typingIdle)
		s.typing[conversationID] = d
	}
	return d
}

// Send clears the draft and delivers its text. On failure the draft is
// restored and the error is either the terminal one or a TRANSPORT error
// wrapping both attempts. Both attempts carry the same client key, so a
// socket send that landed but lost its ack is not stored twice.
func (s *Sender) Send(ctx context.Context, conversationID string, draft *Draft) (*SendResult, error) {
	text := draft.Take()
	if strings.TrimSpace(text) == "" {
		draft.Restore(text)
		return nil, apperrors.ErrEmptyContent
	}
	s.Typing(conversationID).Stop()

	res, err := s.deliver(ctx, conversationID, text, models.MessageTypeText, uuid.NewString())
	if err != nil {
		draft.Restore(text)
		return nil, err
	}
	s.merger.Merge(res.Message)
	return res, nil
}

func (s *Sender) deliver(ctx context.Context, conversationID, content string, msgType models.MessageType, clientKey string) (*SendResult, error) {
	var socketErr error
	if s.rt.State() == StateConnected {
		payload := models.SendPayload{ConversationID: conversationID, Content: content, MessageType: msgType, ClientKey: clientKey}
		data, err := s.rt.Request(ctx, models.EventMessageSend, payload).Wait(ctx, s.ackTimeout)
		if err == nil {
			var msg models.Message
			if err = json.Unmarshal(data, &msg); err == nil && msg.ID != "" {
				return &SendResult{Message: msg, Via: ViaSocket}, nil
			}
			err = apperrors.Transport("malformed send ack", err)
		}
		if apperrors.Terminal(err) {
			return nil, err
		}
		socketErr = err
		s.log.Info("socket send failed, falling back to rest",
			zap.String("conversation_id", conversationID), zap.Error(err))
	} else {
		socketErr = apperrors.ErrNotConnected
	}

	msg, err := s.api.SendMessage(ctx, conversationID, content, msgType, clientKey)
	if err != nil {
		if apperrors.Terminal(err) {
			return nil, err
		}
		return nil, apperrors.Transport("message not sent", errors.Join(socketErr, err))
	}
	return &SendResult{Message: *msg, Via: ViaREST}, nil
}
