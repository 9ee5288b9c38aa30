package client

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

const (
	DefaultTypingTTL = 5 * time.Second
	DefaultPageSize  = 20
)

type SyncOptions struct {
	PageSize  int
	TypingTTL time.Duration
	Logger    *zap.Logger
	now       func() time.Time
}

type conversationState struct {
	entry       models.ConversationListEntry
	store       *MessageStore
	open        bool
	typingUntil time.Time
}

// SyncEngine keeps the local conversation list and per-conversation message
// stores consistent with REST snapshots and realtime events.
type SyncEngine struct {
	api    API
	rt     Transport
	userID string
	opts   SyncOptions
	log    *zap.Logger

	mu       sync.Mutex
	convs    map[string]*conversationState
	onChange []func(conversationID string)
}

func NewSyncEngine(api API, rt Transport, userID string, opts SyncOptions) *SyncEngine {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	s := &SyncEngine{
		api:    api,
		rt:     rt,
		userID: userID,
		opts:   opts,
		log:    opts.Logger,
		convs:  make(map[string]*conversationState),
	}
	rt.On(models.EventMessageNew, s.handleMessageNew)
	rt.On(models.EventMessagesRead, s.handleMessagesRead)
	rt.On(models.EventTypingStart, s.handleTyping)
	rt.On(models.EventTypingStop, s.handleTyping)
	rt.On(models.EventConversationUpdated, s.handleConversationUpdated)
	// the hello arrives after rooms are rejoined, so nothing sent from here
	// on can fall between the fetch and the join
	rt.On(models.EventConnected, func(string, json.RawMessage) { go s.resync() })
	return s
}

// OnChange registers a callback fired after any local state for a
// conversation changes. Callbacks may run on the realtime read goroutine.
func (s *SyncEngine) OnChange(fn func(conversationID string)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *SyncEngine) notify(conversationID string) {
	s.mu.Lock()
	fns := append([]func(string){}, s.onChange...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(conversationID)
	}
}

// stateLocked returns the state for id, creating an empty one.
func (s *SyncEngine) stateLocked(id string) *conversationState {
	st, ok := s.convs[id]
	if !ok {
		st = &conversationState{
			entry: models.ConversationListEntry{Conversation: models.Conversation{ID: id}},
			store: NewMessageStore(),
		}
		s.convs[id] = st
	}
	return st
}

// RefreshConversations replaces the list with a server snapshot. Message
// stores and open flags survive the refresh.
func (s *SyncEngine) RefreshConversations(ctx context.Context) ([]models.ConversationListEntry, error) {
	entries, err := s.api.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, e := range entries {
		st := s.stateLocked(e.Conversation.ID)
		st.entry = e
		if st.open {
			st.entry.UnreadCount = 0
		}
	}
	s.mu.Unlock()
	return s.Conversations(), nil
}

// Conversations returns the list ordered by newest activity; conversations
// with no messages come last.
func (s *SyncEngine) Conversations() []models.ConversationListEntry {
	s.mu.Lock()
	out := make([]models.ConversationListEntry, 0, len(s.convs))
	for _, st := range s.convs {
		out = append(out, st.entry)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Conversation.LastMessageAt, out[j].Conversation.LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].Conversation.CreatedAt.After(out[j].Conversation.CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].Conversation.ID > out[j].Conversation.ID
	})
	return out
}

func (s *SyncEngine) Conversation(conversationID string) (models.ConversationListEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[conversationID]
	if !ok {
		return models.ConversationListEntry{}, false
	}
	return st.entry, true
}

// Messages returns the locally held messages of a conversation, oldest first.
func (s *SyncEngine) Messages(conversationID string) []models.Message {
	s.mu.Lock()
	st, ok := s.convs[conversationID]
	s.mu.Unlock()
	if !ok {
		return []models.Message{}
	}
	return st.store.Messages()
}

func (s *SyncEngine) HasMore(conversationID string) bool {
	s.mu.Lock()
	st, ok := s.convs[conversationID]
	s.mu.Unlock()
	return ok && st.store.HasMore()
}

// OpenConversation loads the newest page, joins the room and marks the
// conversation read. Joining is best effort while offline; the room stays
// wanted and is joined on the next connection.
func (s *SyncEngine) OpenConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	page, err := s.api.History(ctx, conversationID, s.opts.PageSize, "")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	st := s.stateLocked(conversationID)
	s.mu.Unlock()
	st.store.ApplyPage(page)

	if err := s.rt.JoinRoom(ctx, conversationID); err != nil {
		if apperrors.Terminal(err) {
			return nil, err
		}
		s.log.Warn("join room failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}

	s.mu.Lock()
	st.open = true
	st.entry.UnreadCount = 0
	s.mu.Unlock()

	s.markRead(ctx, conversationID)
	s.notify(conversationID)
	return st.store.Messages(), nil
}

// CloseConversation leaves the room. The message store is kept.
func (s *SyncEngine) CloseConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if st, ok := s.convs[conversationID]; ok {
		st.open = false
		st.typingUntil = time.Time{}
	}
	s.mu.Unlock()
	return s.rt.LeaveRoom(ctx, conversationID)
}

// LoadOlder fetches the page before the oldest held message. It returns
// the number of messages that were new to the store.
func (s *SyncEngine) LoadOlder(ctx context.Context, conversationID string) (int, error) {
	s.mu.Lock()
	st := s.stateLocked(conversationID)
	s.mu.Unlock()

	if st.store.Loaded() && !st.store.HasMore() {
		return 0, nil
	}
	page, err := s.api.History(ctx, conversationID, s.opts.PageSize, st.store.Oldest())
	if err != nil {
		return 0, err
	}
	added := st.store.ApplyPage(page)
	if added > 0 {
		s.notify(conversationID)
	}
	return added, nil
}

// Merge inserts an authoritative message. It reports false when the id
// was already known.
func (s *SyncEngine) Merge(msg models.Message) bool {
	s.mu.Lock()
	st := s.stateLocked(msg.ConversationID)
	s.mu.Unlock()

	added := st.store.Insert(msg)
	s.mu.Lock()
	s.applyLastMessageLocked(st, &msg)
	s.mu.Unlock()
	if added {
		s.notify(msg.ConversationID)
	}
	return added
}

// applyLastMessageLocked moves the list pointer forward. Unread only grows
// when the pointer actually moves, so a message:new and a
// conversation:updated for the same message count once.
func (s *SyncEngine) applyLastMessageLocked(st *conversationState, msg *models.Message) bool {
	conv := &st.entry.Conversation
	if last := st.entry.LastMessage; last != nil && !before(last, msg) {
		return false
	}
	m := *msg
	st.entry.LastMessage = &m
	conv.LastMessageID = &m.ID
	at := m.CreatedAt
	conv.LastMessageAt = &at
	if m.SenderID != s.userID {
		if st.entry.OtherParticipant.ID == "" && m.SenderID != models.SystemSenderID {
			st.entry.OtherParticipant.ID = m.SenderID
		}
		if !st.open && !m.IsRead {
			st.entry.UnreadCount++
		}
	}
	return true
}

// resync catches up on whatever was missed while disconnected: the newest
// page of every open conversation, then a fresh list snapshot.
func (s *SyncEngine) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	s.mu.Lock()
	var open []string
	for id, st := range s.convs {
		if st.open {
			open = append(open, id)
		}
	}
	s.mu.Unlock()

	for _, id := range open {
		if err := s.catchUp(ctx, id); err != nil {
			s.log.Warn("resync failed", zap.String("conversation_id", id), zap.Error(err))
			continue
		}
		s.markRead(ctx, id)
	}
	if _, err := s.RefreshConversations(ctx); err != nil {
		s.log.Warn("refresh conversations failed", zap.Error(err))
	}
}

// catchUp fetches from the newest message backwards until a page overlaps
// what the store already holds.
func (s *SyncEngine) catchUp(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	st := s.stateLocked(conversationID)
	s.mu.Unlock()

	hadHistory := st.store.Len() > 0
	cursor := ""
	total := 0
	for {
		page, err := s.api.History(ctx, conversationID, s.opts.PageSize, cursor)
		if err != nil {
			return err
		}
		added := st.store.ApplyPage(page)
		total += added
		for i := range page.Messages {
			s.mu.Lock()
			s.applyLastMessageLocked(st, &page.Messages[i])
			s.mu.Unlock()
		}
		if !hadHistory || !page.HasMore || len(page.Messages) == 0 || added < len(page.Messages) {
			break
		}
		cursor = page.Messages[0].ID
	}
	if total > 0 {
		s.notify(conversationID)
	}
	return nil
}

func (s *SyncEngine) markRead(ctx context.Context, conversationID string) {
	payload := map[string]string{"conversationId": conversationID}
	if s.rt.State() == StateConnected {
		if err := s.rt.Emit(ctx, models.EventMessagesRead, payload); err == nil {
			return
		}
	}
	if _, err := s.api.MarkRead(ctx, conversationID); err != nil {
		s.log.Warn("mark read failed", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (s *SyncEngine) handleMessageNew(_ string, data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
		s.log.Debug("dropping malformed message:new", zap.Error(err))
		return
	}
	added := s.Merge(msg)

	s.mu.Lock()
	open := s.convs[msg.ConversationID].open
	s.mu.Unlock()
	if !added || !open || msg.SenderID == s.userID {
		return
	}

	// handlers run on the read goroutine, so never wait for an ack here
	if s.rt.State() == StateConnected {
		err := s.rt.Emit(context.Background(), models.EventMessagesRead, map[string]string{"conversationId": msg.ConversationID})
		if err == nil {
			return
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if _, err := s.api.MarkRead(ctx, msg.ConversationID); err != nil {
			s.log.Warn("mark read failed", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		}
	}()
}

func (s *SyncEngine) handleMessagesRead(_ string, data json.RawMessage) {
	var p models.ReadPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return
	}
	s.mu.Lock()
	st := s.stateLocked(p.ConversationID)
	if p.ReaderID == s.userID {
		st.entry.UnreadCount = 0
		if st.entry.LastMessage != nil && st.entry.LastMessage.SenderID != s.userID {
			st.entry.LastMessage.IsRead = true
		}
	} else if st.entry.LastMessage != nil && st.entry.LastMessage.SenderID == s.userID {
		st.entry.LastMessage.IsRead = true
	}
	s.mu.Unlock()

	// the reader flips everything it did not send
	st.store.MarkReadBy(p.ReaderID)
	s.notify(p.ConversationID)
}

func (s *SyncEngine) handleTyping(event string, data json.RawMessage) {
	var p models.TypingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" || p.UserID == s.userID {
		return
	}
	s.mu.Lock()
	st := s.stateLocked(p.ConversationID)
	if event == models.EventTypingStart {
		st.typingUntil = s.opts.now().Add(s.opts.TypingTTL)
	} else {
		st.typingUntil = time.Time{}
	}
	s.mu.Unlock()
	s.notify(p.ConversationID)
}

func (s *SyncEngine) handleConversationUpdated(_ string, data json.RawMessage) {
	var p models.ConversationUpdatedPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" || p.LastMessage == nil {
		return
	}
	s.mu.Lock()
	st := s.stateLocked(p.ConversationID)
	moved := s.applyLastMessageLocked(st, p.LastMessage)
	s.mu.Unlock()
	if moved {
		s.notify(p.ConversationID)
	}
}

// IsTyping reports whether the other participant is typing. A start with
// no matching stop expires after the typing TTL.
func (s *SyncEngine) IsTyping(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.convs[conversationID]
	if !ok || st.typingUntil.IsZero() {
		return false
	}
	if !s.opts.now().Before(st.typingUntil) {
		st.typingUntil = time.Time{}
		return false
	}
	return true
}
