package client

import (
	"slices"
	"sort"
	"sync"

	"playmate-chat/models"
)

// MessageStore is one conversation's local view: ordered by created_at
// then id, indexed by id, with idempotent inserts.
type MessageStore struct {
	mu      sync.RWMutex
	byID    map[string]int
	order   []models.Message
	hasMore bool
	loaded  bool
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]int)}
}

func before(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Insert adds msg unless its id is already present. A known message only
// picks up read-state changes. It reports whether msg was new.
func (s *MessageStore) Insert(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(msg)
}

func (s *MessageStore) insertLocked(msg models.Message) bool {
	if i, ok := s.byID[msg.ID]; ok {
		if msg.IsRead && !s.order[i].IsRead {
			s.order[i].IsRead = true
			s.order[i].ReadAt = msg.ReadAt
		}
		return false
	}

	pos := sort.Search(len(s.order), func(i int) bool { return before(&msg, &s.order[i]) })
	s.order = slices.Insert(s.order, pos, msg)
	if pos == len(s.order)-1 {
		s.byID[msg.ID] = pos
		return true
	}
	for i := pos; i < len(s.order); i++ {
		s.byID[s.order[i].ID] = i
	}
	return true
}

// ApplyPage merges a history page. hasMore only tracks the oldest page, so
// it is taken from the first load and from pages older than anything held.
func (s *MessageStore) ApplyPage(page *models.Page) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	olderThanAll := len(s.order) == 0 || len(page.Messages) == 0 || before(&page.Messages[len(page.Messages)-1], &s.order[0])
	added := 0
	for _, m := range page.Messages {
		if s.insertLocked(m) {
			added++
		}
	}
	if !s.loaded || olderThanAll {
		s.hasMore = page.HasMore
	}
	s.loaded = true
	return added
}

func (s *MessageStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

func (s *MessageStore) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return s.order[i], true
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Oldest is the cursor for loading the previous page.
func (s *MessageStore) Oldest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0].ID
}

func (s *MessageStore) HasMore() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasMore
}

func (s *MessageStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// MarkReadBy flips every message readerID did not send, mirroring the
// server-side read flip.
func (s *MessageStore) MarkReadBy(readerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.order {
		if s.order[i].SenderID != readerID && !s.order[i].IsRead {
			s.order[i].IsRead = true
			n++
		}
	}
	return n
}
