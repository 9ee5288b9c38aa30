package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

const (
	me    = "me"
	other = "other"
	conv1 = "conv-1"
)

func newTestSync(t *testing.T, state State) (*SyncEngine, *fakeTransport, *fakeAPI) {
	t.Helper()
	rt := newFakeTransport(state)
	api := newFakeAPI()
	return NewSyncEngine(api, rt, me, SyncOptions{}), rt, api
}

func TestSyncEngine_OpenConversation(t *testing.T) {
	s, rt, api := newTestSync(t, StateConnected)
	api.pages[""] = &models.Page{
		Messages: []models.Message{msgAt("m1", conv1, other, 0), msgAt("m2", conv1, me, time.Second)},
		HasMore:  true,
	}

	msgs, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(msgs))
	assert.True(t, rt.joined[conv1])
	assert.Equal(t, []string{models.EventMessagesRead}, rt.emittedEvents())
	assert.Zero(t, api.markReadCount())
	assert.True(t, s.HasMore(conv1))
}

func TestSyncEngine_OpenConversationOfflineUsesREST(t *testing.T) {
	s, rt, api := newTestSync(t, StateDisconnected)

	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)
	assert.Empty(t, rt.emittedEvents())
	assert.Equal(t, 1, api.markReadCount())
}

func TestSyncEngine_OpenConversationJoinErrors(t *testing.T) {
	s, rt, _ := newTestSync(t, StateConnected)

	rt.joinErr = apperrors.ErrAckTimeout
	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err, "a transient join failure still opens the conversation")

	rt.joinErr = apperrors.ErrConversationNotFound
	_, err = s.OpenConversation(context.Background(), "conv-foreign")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSyncEngine_UnreadCountedOnceAcrossEvents(t *testing.T) {
	s, rt, _ := newTestSync(t, StateConnected)
	m := msgAt("m1", conv1, other, 0)

	rt.push(t, models.EventMessageNew, m)
	rt.push(t, models.EventConversationUpdated, models.ConversationUpdatedPayload{ConversationID: conv1, LastMessage: &m})
	rt.push(t, models.EventMessageNew, m)

	entry, ok := s.Conversation(conv1)
	require.True(t, ok)
	assert.EqualValues(t, 1, entry.UnreadCount)
	assert.Equal(t, other, entry.OtherParticipant.ID)
	assert.Len(t, s.Messages(conv1), 1)
	assert.Empty(t, rt.emittedEvents(), "closed conversations are not marked read")
}

func TestSyncEngine_OwnMessagesNeverUnread(t *testing.T) {
	s, rt, _ := newTestSync(t, StateConnected)
	m := msgAt("m1", conv1, me, 0)
	rt.push(t, models.EventConversationUpdated, models.ConversationUpdatedPayload{ConversationID: conv1, LastMessage: &m})

	entry, _ := s.Conversation(conv1)
	assert.Zero(t, entry.UnreadCount)
}

func TestSyncEngine_IncomingWhileOpenMarksRead(t *testing.T) {
	s, rt, api := newTestSync(t, StateConnected)
	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)

	rt.push(t, models.EventMessageNew, msgAt("m1", conv1, other, 0))
	assert.Equal(t, []string{models.EventMessagesRead, models.EventMessagesRead}, rt.emittedEvents())

	entry, _ := s.Conversation(conv1)
	assert.Zero(t, entry.UnreadCount)

	// offline the receipt goes over REST in the background
	rt.setState(StateDisconnected)
	rt.push(t, models.EventMessageNew, msgAt("m2", conv1, other, time.Second))
	require.Eventually(t, func() bool { return api.markReadCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSyncEngine_MergeDedupsBroadcast(t *testing.T) {
	s, rt, _ := newTestSync(t, StateConnected)
	m := msgAt("m1", conv1, me, 0)

	assert.True(t, s.Merge(m))
	rt.push(t, models.EventMessageNew, m)
	assert.False(t, s.Merge(m))
	assert.Len(t, s.Messages(conv1), 1)
}

func TestSyncEngine_ReadReceipts(t *testing.T) {
	s, rt, _ := newTestSync(t, StateConnected)
	s.Merge(msgAt("m1", conv1, me, 0))
	s.Merge(msgAt("m2", conv1, other, time.Second))

	// the other participant read my message
	rt.push(t, models.EventMessagesRead, models.ReadPayload{ConversationID: conv1, ReaderID: other})
	msgs := s.Messages(conv1)
	assert.True(t, msgs[0].IsRead)
	assert.False(t, msgs[1].IsRead)

	entry, _ := s.Conversation(conv1)
	assert.EqualValues(t, 1, entry.UnreadCount)

	// I read on another device
	rt.push(t, models.EventMessagesRead, models.ReadPayload{ConversationID: conv1, ReaderID: me})
	entry, _ = s.Conversation(conv1)
	assert.Zero(t, entry.UnreadCount)
	assert.True(t, s.Messages(conv1)[1].IsRead)
	assert.True(t, entry.LastMessage.IsRead)
}

func TestSyncEngine_TypingTTL(t *testing.T) {
	rt := newFakeTransport(StateConnected)
	now := baseTime
	s := NewSyncEngine(newFakeAPI(), rt, me, SyncOptions{now: func() time.Time { return now }})

	assert.False(t, s.IsTyping(conv1))
	rt.push(t, models.EventTypingStart, models.TypingPayload{ConversationID: conv1, UserID: other})
	assert.True(t, s.IsTyping(conv1))

	rt.push(t, models.EventTypingStop, models.TypingPayload{ConversationID: conv1, UserID: other})
	assert.False(t, s.IsTyping(conv1))

	rt.push(t, models.EventTypingStart, models.TypingPayload{ConversationID: conv1, UserID: other})
	now = now.Add(DefaultTypingTTL - time.Millisecond)
	assert.True(t, s.IsTyping(conv1))
	now = now.Add(time.Millisecond)
	assert.False(t, s.IsTyping(conv1), "a lost typing:stop expires")

	// my own typing echoed from another device is ignored
	rt.push(t, models.EventTypingStart, models.TypingPayload{ConversationID: conv1, UserID: me})
	assert.False(t, s.IsTyping(conv1))
}

func TestSyncEngine_ConversationsOrdering(t *testing.T) {
	s, _, api := newTestSync(t, StateConnected)
	older := baseTime
	newer := baseTime.Add(time.Hour)
	api.conversations = []models.ConversationListEntry{
		{Conversation: models.Conversation{ID: "silent", CreatedAt: baseTime}},
		{Conversation: models.Conversation{ID: "old", LastMessageAt: &older}, UnreadCount: 2},
		{Conversation: models.Conversation{ID: "new", LastMessageAt: &newer}},
	}

	list, err := s.RefreshConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].Conversation.ID)
	assert.Equal(t, "old", list[1].Conversation.ID)
	assert.Equal(t, "silent", list[2].Conversation.ID)
	assert.EqualValues(t, 2, list[1].UnreadCount)

	// a new message moves the silent conversation to the top
	s.Merge(msgAt("m1", "silent", other, 2*time.Hour))
	list = s.Conversations()
	assert.Equal(t, "silent", list[0].Conversation.ID)
	assert.EqualValues(t, 1, list[0].UnreadCount)
}

func TestSyncEngine_LoadOlder(t *testing.T) {
	s, _, api := newTestSync(t, StateDisconnected)
	api.pages[""] = &models.Page{Messages: []models.Message{msgAt("m3", conv1, other, 3*time.Second)}, HasMore: true}
	api.pages["m3"] = &models.Page{Messages: []models.Message{msgAt("m1", conv1, other, time.Second), msgAt("m2", conv1, me, 2*time.Second)}}

	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)

	added, err := s.LoadOlder(context.Background(), conv1)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages(conv1)))
	assert.False(t, s.HasMore(conv1))

	added, err = s.LoadOlder(context.Background(), conv1)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, []string{"", "m3"}, api.historyCalls)
}

func TestSyncEngine_CloseConversation(t *testing.T) {
	s, rt, _ := newTestSync(t, StateConnected)
	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)
	require.NoError(t, s.CloseConversation(context.Background(), conv1))
	assert.False(t, rt.joined[conv1])

	rt.push(t, models.EventConversationUpdated, models.ConversationUpdatedPayload{
		ConversationID: conv1,
		LastMessage:    &models.Message{ID: "m9", ConversationID: conv1, SenderID: other, CreatedAt: baseTime},
	})
	entry, _ := s.Conversation(conv1)
	assert.EqualValues(t, 1, entry.UnreadCount)
}

func TestSyncEngine_OnChange(t *testing.T) {
	s, rt, _ := newTestSync(t, StateConnected)
	var changed []string
	s.OnChange(func(id string) { changed = append(changed, id) })

	rt.push(t, models.EventMessageNew, msgAt("m1", conv1, other, 0))
	rt.push(t, models.EventMessageNew, msgAt("m1", conv1, other, 0))
	assert.Equal(t, []string{conv1}, changed)
}

func TestSyncEngine_ReconnectCatchesUpOpenConversations(t *testing.T) {
	s, rt, api := newTestSync(t, StateConnected)
	api.pages[""] = &models.Page{Messages: []models.Message{msgAt("m1", conv1, other, 0)}}
	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)
	require.Len(t, rt.emittedEvents(), 1)

	// two messages arrive while the socket is down
	api.pages[""] = &models.Page{Messages: []models.Message{
		msgAt("m1", conv1, other, 0),
		msgAt("m2", conv1, other, time.Second),
		msgAt("m3", conv1, other, 2*time.Second),
	}}
	api.conversations = []models.ConversationListEntry{
		{Conversation: models.Conversation{ID: "conv-2"}, UnreadCount: 4},
	}
	rt.push(t, models.EventConnected, models.ConnectedPayload{UserID: me})

	assert.Eventually(t, func() bool { return len(s.Messages(conv1)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(rt.emittedEvents()) == 2 }, time.Second, 5*time.Millisecond,
		"the caught-up conversation is marked read again")
	assert.Eventually(t, func() bool {
		e, ok := s.Conversation("conv-2")
		return ok && e.UnreadCount == 4
	}, time.Second, 5*time.Millisecond)

	entry, _ := s.Conversation(conv1)
	require.NotNil(t, entry.LastMessage)
	assert.Equal(t, "m3", entry.LastMessage.ID)
	assert.Zero(t, entry.UnreadCount)
}

func TestSyncEngine_ReconnectFillsGapPageByPage(t *testing.T) {
	rt := newFakeTransport(StateConnected)
	api := newFakeAPI()
	s := NewSyncEngine(api, rt, me, SyncOptions{PageSize: 2})

	api.pages[""] = &models.Page{Messages: []models.Message{msgAt("m1", conv1, other, 0), msgAt("m2", conv1, other, time.Second)}}
	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)
	require.False(t, s.HasMore(conv1))

	api.pages[""] = &models.Page{Messages: []models.Message{msgAt("m5", conv1, other, 4*time.Second), msgAt("m6", conv1, other, 5*time.Second)}, HasMore: true}
	api.pages["m5"] = &models.Page{Messages: []models.Message{msgAt("m3", conv1, other, 2*time.Second), msgAt("m4", conv1, other, 3*time.Second)}, HasMore: true}
	api.pages["m3"] = &models.Page{Messages: []models.Message{msgAt("m1", conv1, other, 0), msgAt("m2", conv1, other, time.Second)}}
	rt.push(t, models.EventConnected, models.ConnectedPayload{UserID: me})

	require.Eventually(t, func() bool { return len(s.Messages(conv1)) == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, ids(s.Messages(conv1)))
	assert.False(t, s.HasMore(conv1), "gap pages do not reopen older history")

	api.mu.Lock()
	calls := append([]string{}, api.historyCalls...)
	api.mu.Unlock()
	assert.Equal(t, []string{"", "", "m5", "m3"}, calls)
}

func TestSyncEngine_ReconnectSkipsClosedConversations(t *testing.T) {
	s, rt, api := newTestSync(t, StateConnected)
	_, err := s.OpenConversation(context.Background(), conv1)
	require.NoError(t, err)
	require.NoError(t, s.CloseConversation(context.Background(), conv1))

	api.conversations = []models.ConversationListEntry{{Conversation: models.Conversation{ID: conv1}, UnreadCount: 1}}
	rt.push(t, models.EventConnected, models.ConnectedPayload{UserID: me})

	require.Eventually(t, func() bool {
		e, _ := s.Conversation(conv1)
		return e.UnreadCount == 1
	}, time.Second, 5*time.Millisecond)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{""}, api.historyCalls)
}
