package services

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"playmate-chat/metrics"
	"playmate-chat/models"
)

// ReadStateTracker owns the only mutation of a message after insert: its
// read flag. Unread counts are always derived from message rows.
type ReadStateTracker struct {
	db  *gorm.DB
	pub Publisher
	log *zap.Logger
	now func() time.Time
}

func NewReadStateTracker(db *gorm.DB, pub Publisher, log *zap.Logger) *ReadStateTracker {
	if pub == nil {
		pub = NopPublisher
	}
	return &ReadStateTracker{db: db, pub: pub, log: log, now: time.Now}
}

// MarkConversationRead flips every message the reader received in the
// conversation to read with one UPDATE statement. Nothing unread means no
// write and no event. conv must be the already-loaded conversation.
func (t *ReadStateTracker) MarkConversationRead(ctx context.Context, conv *models.Conversation, readerID string) (int64, error) {
	conversationID := conv.ID
	res := t.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, readerID, false).
		Updates(map[string]any{"is_read": true, "read_at": t.now().UTC()})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "readStateTracker.MarkConversationRead.Updates")
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}

	metrics.MessagesMarkedRead.Add(float64(res.RowsAffected))
	t.log.Debug("conversation marked read",
		zap.String("conversation_id", conversationID),
		zap.String("reader_id", readerID),
		zap.Int64("updated", res.RowsAffected))

	payload := models.ReadPayload{ConversationID: conversationID, ReaderID: readerID}
	t.pub.PublishToRoom(conversationID, models.EventMessagesRead, payload)
	// personal channels reach sessions that have not joined the room:
	// the sender's list screen and the reader's other devices
	t.pub.PublishToUser(conv.OtherParticipant(readerID), models.EventMessagesRead, payload)
	t.pub.PublishToUser(readerID, models.EventMessagesRead, payload)
	return res.RowsAffected, nil
}

func (t *ReadStateTracker) UnreadCount(ctx context.Context, conversationID, userID string) (int64, error) {
	var n int64
	err := t.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, userID, false).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "readStateTracker.UnreadCount.Count")
	}
	return n, nil
}

// UnreadCounts computes the badge for several conversations in one grouped query.
func (t *ReadStateTracker) UnreadCounts(ctx context.Context, conversationIDs []string, userID string) (map[string]int64, error) {
	out := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID string
		Unread         int64
	}
	err := t.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS unread").
		Where("conversation_id IN ? AND sender_id <> ? AND is_read = ?", conversationIDs, userID, false).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "readStateTracker.UnreadCounts.Scan")
	}
	for _, r := range rows {
		out[r.ConversationID] = r.Unread
	}
	return out, nil
}
