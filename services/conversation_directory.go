package services

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"playmate-chat/apperrors"
	"playmate-chat/metrics"
	"playmate-chat/models"
)

// ConversationDirectory keeps one row per unordered participant pair.
type ConversationDirectory struct {
	db       *gorm.DB
	profiles ProfileResolver
	unread   *ReadStateTracker
	log      *zap.Logger
}

func NewConversationDirectory(db *gorm.DB, profiles ProfileResolver, unread *ReadStateTracker, log *zap.Logger) *ConversationDirectory {
	return &ConversationDirectory{db: db, profiles: profiles, unread: unread, log: log}
}

// GetOrCreate returns the conversation for {userA, userB}, creating it when
// absent. created reports whether this call inserted the row.
func (d *ConversationDirectory) GetOrCreate(ctx context.Context, userA, userB string) (conv *models.Conversation, created bool, err error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, false, apperrors.ErrMissingParticipant
	}
	if userA == userB {
		return nil, false, apperrors.ErrSelfConversation
	}
	low, high := models.CanonicalPair(userA, userB)

	if existing, err := d.findByPair(ctx, low, high); err == nil {
		return existing, false, nil
	} else if !apperrors.IsNotFound(err) {
		return nil, false, err
	}

	candidate := &models.Conversation{
		ID:              uuid.New().String(),
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       time.Now().UTC(),
	}
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "participant_low"}, {Name: "participant_high"}},
			DoNothing: true,
		}).
		Create(candidate)
	if res.Error != nil && !stderrors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, false, errors.Wrap(res.Error, "conversationDirectory.GetOrCreate.Create")
	}
	if res.Error == nil && res.RowsAffected == 1 {
		metrics.ConversationsCreated.Inc()
		d.log.Info("conversation created",
			zap.String("conversation_id", candidate.ID),
			zap.String("participant_low", low),
			zap.String("participant_high", high))
		return candidate, true, nil
	}

	// Lost the race to a concurrent creator; the row exists now.
	existing, err := d.findByPair(ctx, low, high)
	if err != nil {
		return nil, false, apperrors.Conflict("conversation create raced and could not be re-read", err)
	}
	return existing, false, nil
}

func (d *ConversationDirectory) findByPair(ctx context.Context, low, high string) (*models.Conversation, error) {
	var conv models.Conversation
	err := d.db.WithContext(ctx).
		Where("participant_low = ? AND participant_high = ?", low, high).
		Take(&conv).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "conversationDirectory.findByPair.Take")
	}
	return &conv, nil
}

func (d *ConversationDirectory) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := d.db.WithContext(ctx).Where("id = ?", conversationID).Take(&conv).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "conversationDirectory.Get.Take")
	}
	return &conv, nil
}

// Authorize loads the conversation and checks userID takes part in it.
// Outsiders get the same NotFound as a missing id.
func (d *ConversationDirectory) Authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := d.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperrors.ErrConversationNotFound
	}
	return conv, nil
}

// ListForUser renders the conversation list, most recent activity first and
// never-messaged conversations last.
func (d *ConversationDirectory) ListForUser(ctx context.Context, userID string) ([]models.ConversationListEntry, error) {
	var convs []models.Conversation
	err := d.db.WithContext(ctx).
		Where("participant_low = ? OR participant_high = ?", userID, userID).
		Order("CASE WHEN last_message_at IS NULL THEN 1 ELSE 0 END").
		Order("last_message_at DESC").
		Order("created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, errors.Wrap(err, "conversationDirectory.ListForUser.Find")
	}
	if len(convs) == 0 {
		return []models.ConversationListEntry{}, nil
	}

	convIDs := make([]string, 0, len(convs))
	others := make([]string, 0, len(convs))
	lastIDs := make([]string, 0, len(convs))
	for i := range convs {
		convIDs = append(convIDs, convs[i].ID)
		others = append(others, convs[i].OtherParticipant(userID))
		if convs[i].LastMessageID != nil {
			lastIDs = append(lastIDs, *convs[i].LastMessageID)
		}
	}

	lastByID := make(map[string]*models.Message, len(lastIDs))
	if len(lastIDs) > 0 {
		var last []models.Message
		if err := d.db.WithContext(ctx).Where("id IN ?", lastIDs).Find(&last).Error; err != nil {
			return nil, errors.Wrap(err, "conversationDirectory.ListForUser.LastMessages")
		}
		for i := range last {
			lastByID[last[i].ID] = &last[i]
		}
	}

	unread, err := d.unread.UnreadCounts(ctx, convIDs, userID)
	if err != nil {
		return nil, err
	}

	profiles, err := d.profiles.Profiles(ctx, others)
	if err != nil {
		// The list still renders with bare ids when profiles are unavailable.
		d.log.Warn("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		profiles = map[string]models.Profile{}
	}

	entries := make([]models.ConversationListEntry, 0, len(convs))
	for i := range convs {
		other := convs[i].OtherParticipant(userID)
		profile, ok := profiles[other]
		if !ok {
			profile = models.Profile{ID: other}
		}
		entry := models.ConversationListEntry{
			Conversation:     convs[i],
			OtherParticipant: profile,
			UnreadCount:      unread[convs[i].ID],
		}
		if convs[i].LastMessageID != nil {
			entry.LastMessage = lastByID[*convs[i].LastMessageID]
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// TouchLastMessage moves the denormalized pointer forward. It never moves it
// back, so concurrent appends settle on the newest message whatever order
// their updates land in.
func (d *ConversationDirectory) TouchLastMessage(ctx context.Context, tx *gorm.DB, conversationID, messageID string, at time.Time) error {
	if tx == nil {
		tx = d.db
	}
	err := tx.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND (last_message_id IS NULL OR last_message_id < ?)", conversationID, messageID).
		Updates(map[string]any{"last_message_id": messageID, "last_message_at": at}).Error
	if err != nil {
		return errors.Wrap(err, "conversationDirectory.TouchLastMessage.Updates")
	}
	return nil
}

// End flags the conversation as ended (the counterpart unmatched).
func (d *ConversationDirectory) End(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := d.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Ended() {
		return conv, nil
	}
	now := time.Now().UTC()
	err = d.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND ended_at IS NULL", conversationID).
		Update("ended_at", now).Error
	if err != nil {
		return nil, errors.Wrap(err, "conversationDirectory.End.Update")
	}
	conv.EndedAt = &now
	return conv, nil
}
