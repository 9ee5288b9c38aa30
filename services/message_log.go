package services

import (
	"context"
	stderrors "errors"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"playmate-chat/apperrors"
	"playmate-chat/metrics"
	"playmate-chat/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// MessageLog is the append-only, per-conversation ordered message store.
type MessageLog struct {
	db        *gorm.DB
	directory *ConversationDirectory
	pub       Publisher
	ids       *IDGenerator
	log       *zap.Logger
}

func NewMessageLog(db *gorm.DB, directory *ConversationDirectory, pub Publisher, ids *IDGenerator, log *zap.Logger) *MessageLog {
	if pub == nil {
		pub = NopPublisher
	}
	if ids == nil {
		ids = NewIDGenerator()
	}
	return &MessageLog{db: db, directory: directory, pub: pub, ids: ids, log: log}
}

func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperrors.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return apperrors.ErrContentTooLong
	}
	return nil
}

// Append persists a message and moves the conversation's last-message
// pointer in the same transaction, then broadcasts it. conv must be the
// already-loaded conversation the message belongs to.
func (l *MessageLog) Append(ctx context.Context, conv *models.Conversation, senderID, content string, msgType models.MessageType) (*models.Message, error) {
	return l.AppendWithKey(ctx, conv, senderID, content, msgType, "")
}

// AppendWithKey is Append, idempotent per sender and clientKey: a key that
// was already stored returns the stored message and broadcasts nothing.
// An empty key always appends.
func (l *MessageLog) AppendWithKey(ctx context.Context, conv *models.Conversation, senderID, content string, msgType models.MessageType, clientKey string) (*models.Message, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, apperrors.ErrInvalidMessageType
	}
	if len(clientKey) > models.MaxClientKeyLength {
		return nil, apperrors.Validation("client key too long")
	}
	if clientKey != "" {
		if existing, err := l.byClientKey(ctx, conv.ID, senderID, clientKey); existing != nil || err != nil {
			return existing, err
		}
	}

	id, at, err := l.ids.Next()
	if err != nil {
		return nil, apperrors.Internal("could not allocate message id", err)
	}
	msg := &models.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    msgType,
		CreatedAt:      at,
	}
	if clientKey != "" {
		msg.ClientKey = &clientKey
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return errors.Wrap(err, "messageLog.Append.Create")
		}
		return l.directory.TouchLastMessage(ctx, tx, conv.ID, msg.ID, msg.CreatedAt)
	})
	if err != nil {
		// a concurrent retry with the same key won the insert
		if clientKey != "" && stderrors.Is(err, gorm.ErrDuplicatedKey) {
			if existing, lookupErr := l.byClientKey(ctx, conv.ID, senderID, clientKey); existing != nil || lookupErr != nil {
				return existing, lookupErr
			}
		}
		return nil, err
	}

	metrics.MessagesAppended.WithLabelValues(string(msgType)).Inc()
	l.log.Debug("message appended",
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.String("sender_id", senderID))

	l.pub.PublishToRoom(conv.ID, models.EventMessageNew, msg)
	update := models.ConversationUpdatedPayload{ConversationID: conv.ID, LastMessage: msg}
	l.pub.PublishToUser(conv.ParticipantLow, models.EventConversationUpdated, update)
	l.pub.PublishToUser(conv.ParticipantHigh, models.EventConversationUpdated, update)
	return msg, nil
}

// FetchPage walks the log backwards from before (exclusive), or from the
// newest message when before is empty, and returns the page oldest first.
func (l *MessageLog) FetchPage(ctx context.Context, conversationID string, limit int, before string) (*models.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := l.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if before != "" {
		if err := l.ensureMessage(ctx, conversationID, before); err != nil {
			return nil, err
		}
		q = q.Where("id < ?", before)
	}

	var rows []models.Message
	if err := q.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "messageLog.FetchPage.Find")
	}

	page := &models.Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	page.Messages = rows
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page, nil
}

func (l *MessageLog) ensureMessage(ctx context.Context, conversationID, messageID string) error {
	var msg models.Message
	err := l.db.WithContext(ctx).
		Select("id").
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		Take(&msg).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrMessageNotFound
	}
	if err != nil {
		return errors.Wrap(err, "messageLog.ensureMessage.Take")
	}
	return nil
}

// byClientKey returns nil, nil when the key is unused. Reusing a key in a
// different conversation is a client bug and is rejected.
func (l *MessageLog) byClientKey(ctx context.Context, conversationID, senderID, clientKey string) (*models.Message, error) {
	var msg models.Message
	err := l.db.WithContext(ctx).
		Where("sender_id = ? AND client_key = ?", senderID, clientKey).
		Take(&msg).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "messageLog.byClientKey.Take")
	}
	if msg.ConversationID != conversationID {
		return nil, apperrors.Validation("client key already used in another conversation")
	}
	l.log.Debug("duplicate send collapsed",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID))
	return &msg, nil
}

func (l *MessageLog) Get(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := l.db.WithContext(ctx).Where("id = ?", messageID).Take(&msg).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrMessageNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "messageLog.Get.Take")
	}
	return &msg, nil
}
