package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

type sentCommand struct {
	Event string
	Data  any
}

// fakeTransport records commands and lets tests push server events.
type fakeTransport struct {
	mu        sync.Mutex
	state     State
	emitted   []sentCommand
	requested []sentCommand
	joined    map[string]bool
	joinErr   error
	emitErr   error
	onRequest func(event string, data any) *Ack
	handlers  map[string][]EventHandler
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport(state State) *fakeTransport {
	return &fakeTransport{state: state, joined: map[string]bool{}, handlers: map[string][]EventHandler{}}
}

func (f *fakeTransport) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeTransport) Request(_ context.Context, event string, data any) *Ack {
	f.mu.Lock()
	f.requested = append(f.requested, sentCommand{event, data})
	fn := f.onRequest
	f.mu.Unlock()
	if fn == nil {
		return newAck(nil)
	}
	return fn(event, data)
}

func (f *fakeTransport) Emit(_ context.Context, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, sentCommand{event, data})
	return nil
}

func (f *fakeTransport) JoinRoom(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined[id] = true
	return nil
}

func (f *fakeTransport) LeaveRoom(_ context.Context, id string) error {
	f.mu.Lock()
	delete(f.joined, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) On(event string, h EventHandler) {
	f.mu.Lock()
	f.handlers[event] = append(f.handlers[event], h)
	f.mu.Unlock()
}

// push delivers a server event to the registered handlers.
func (f *fakeTransport) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	hs := append([]EventHandler{}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range hs {
		h(event, data)
	}
}

func (f *fakeTransport) emittedEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.emitted))
	for _, c := range f.emitted {
		out = append(out, c.Event)
	}
	return out
}

// fakeAPI serves canned REST answers and counts calls.
type fakeAPI struct {
	mu            sync.Mutex
	conversations []models.ConversationListEntry
	pages         map[string]*models.Page
	historyCalls  []string
	sendErr       error
	sent          []models.Message
	markReads     int
	markReadErr   error
	now           time.Time
}

var _ API = (*fakeAPI)(nil)

func newFakeAPI() *fakeAPI {
	return &fakeAPI{pages: map[string]*models.Page{}, now: time.Unix(1_700_000_000, 0)}
}

func (a *fakeAPI) Conversations(context.Context) ([]models.ConversationListEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversations, nil
}

func (a *fakeAPI) StartConversation(_ context.Context, userID string) (*models.Conversation, error) {
	return &models.Conversation{ID: "conv-" + userID}, nil
}

func (a *fakeAPI) History(_ context.Context, conversationID string, _ int, before string) (*models.Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.historyCalls = append(a.historyCalls, before)
	if p, ok := a.pages[before]; ok {
		return p, nil
	}
	return &models.Page{Messages: []models.Message{}}, nil
}

func (a *fakeAPI) SendMessage(_ context.Context, conversationID, content string, msgType models.MessageType, clientKey string) (*models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.now = a.now.Add(time.Second)
	msg := models.Message{
		ID:             "rest-" + content,
		ConversationID: conversationID,
		SenderID:       "me",
		Content:        content,
		MessageType:    msgType,
		CreatedAt:      a.now,
	}
	if clientKey != "" {
		msg.ClientKey = &clientKey
	}
	a.sent = append(a.sent, msg)
	return &msg, nil
}

func (a *fakeAPI) MarkRead(context.Context, string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markReads++
	return 1, a.markReadErr
}

func (a *fakeAPI) markReadCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markReads
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id, conv, sender string, offset time.Duration) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Content:        "content " + id,
		MessageType:    models.MessageTypeText,
		CreatedAt:      baseTime.Add(offset),
	}
}

var errBoom = apperrors.Transport("boom", nil)
