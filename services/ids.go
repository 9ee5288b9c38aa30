package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator hands out message ids and creation timestamps together.
// Both are non-decreasing across calls, so ordering by created_at then id
// and ordering by id alone agree for everything one process writes.
// Timestamps carry millisecond precision, the precision the messages
// table stores, so a broadcast copy and a fetched copy compare equal.
type IDGenerator struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

func (g *IDGenerator) Next() (string, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return "", time.Time{}, err
	}
	at := g.now().UTC().Truncate(time.Millisecond)
	if at.Before(g.last) {
		at = g.last
	}
	g.last = at
	return id.String(), at, nil
}
