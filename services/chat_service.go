package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

// ChatService is the single entry point for both transports. The REST
// controllers and the realtime gateway call the same methods, so a message
// is persisted and broadcast identically whichever way it arrived.
type ChatService struct {
	Directory *ConversationDirectory
	Messages  *MessageLog
	ReadState *ReadStateTracker
	profiles  ProfileResolver
	log       *zap.Logger
}

func NewChatService(db *gorm.DB, pub Publisher, profiles ProfileResolver, log *zap.Logger) *ChatService {
	if pub == nil {
		pub = NopPublisher
	}
	if profiles == nil {
		profiles = NewUserProfiles(db)
	}
	readState := NewReadStateTracker(db, pub, log)
	directory := NewConversationDirectory(db, profiles, readState, log)
	return &ChatService{
		Directory: directory,
		Messages:  NewMessageLog(db, directory, pub, NewIDGenerator(), log),
		ReadState: readState,
		profiles:  profiles,
		log:       log,
	}
}

func (s *ChatService) StartConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, bool, error) {
	return s.Directory.GetOrCreate(ctx, userID, otherUserID)
}

func (s *ChatService) Conversations(ctx context.Context, userID string) ([]models.ConversationListEntry, error) {
	return s.Directory.ListForUser(ctx, userID)
}

func (s *ChatService) Authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return s.Directory.Authorize(ctx, conversationID, userID)
}

// SendMessage appends a user-authored message. System notices cannot be
// sent by users and ended conversations accept no new user messages.
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID, content string, msgType models.MessageType) (*models.Message, error) {
	return s.SendMessageWithKey(ctx, userID, conversationID, content, msgType, "")
}

// SendMessageWithKey is SendMessage deduplicated on the sender's client key,
// so a socket send whose ack was lost and its REST retry store one message.
func (s *ChatService) SendMessageWithKey(ctx context.Context, userID, conversationID, content string, msgType models.MessageType, clientKey string) (*models.Message, error) {
	if msgType == models.MessageTypeSystem {
		return nil, apperrors.ErrInvalidMessageType
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}
	conv, err := s.Directory.Authorize(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.Ended() {
		return nil, apperrors.ErrConversationEnded
	}
	return s.Messages.AppendWithKey(ctx, conv, userID, content, msgType, clientKey)
}

func (s *ChatService) History(ctx context.Context, userID, conversationID string, limit int, before string) (*models.Page, error) {
	if _, err := s.Directory.Authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.Messages.FetchPage(ctx, conversationID, limit, before)
}

func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) (int64, error) {
	conv, err := s.Directory.Authorize(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	return s.ReadState.MarkConversationRead(ctx, conv, userID)
}

func (s *ChatService) Profile(ctx context.Context, userID string) (models.Profile, error) {
	profiles, err := s.profiles.Profiles(ctx, []string{userID})
	if err != nil {
		return models.Profile{}, err
	}
	if p, ok := profiles[userID]; ok {
		return p, nil
	}
	return models.Profile{ID: userID}, nil
}

// OpenMatchConversation is called by the matching subsystem when two users
// match. The notice, when given, is appended as a system message.
func (s *ChatService) OpenMatchConversation(ctx context.Context, userA, userB, notice string) (*models.Conversation, *models.Message, error) {
	conv, _, err := s.Directory.GetOrCreate(ctx, userA, userB)
	if err != nil {
		return nil, nil, err
	}
	if notice == "" {
		return conv, nil, nil
	}
	msg, err := s.Messages.Append(ctx, conv, models.SystemSenderID, notice, models.MessageTypeSystem)
	if err != nil {
		return nil, nil, err
	}
	return conv, msg, nil
}

// EndConversation marks the conversation ended after an unmatch and posts
// the closing notice.
func (s *ChatService) EndConversation(ctx context.Context, conversationID, notice string) (*models.Conversation, *models.Message, error) {
	conv, err := s.Directory.End(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if notice == "" {
		return conv, nil, nil
	}
	msg, err := s.Messages.Append(ctx, conv, models.SystemSenderID, notice, models.MessageTypeSystem)
	if err != nil {
		return nil, nil, err
	}
	return conv, msg, nil
}
