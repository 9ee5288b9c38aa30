package services

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"playmate-chat/config"
	"playmate-chat/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := config.InitDB(config.Database{Driver: "sqlite", DSN: dsn}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type publishedEvent struct {
	Room    string
	User    string
	Event   string
	Payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishToRoom(conversationID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Room: conversationID, Event: event, Payload: payload})
}

func (p *recordingPublisher) PublishToUser(userID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{User: userID, Event: event, Payload: payload})
}

func (p *recordingPublisher) named(event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

func newTestChat(t *testing.T) (*ChatService, *recordingPublisher, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	pub := &recordingPublisher{}
	return NewChatService(db, pub, nil, zaptest.NewLogger(t)), pub, db
}
