package client

import (
	"context"
	"sync"
	"time"

	"playmate-chat/models"
)

const DefaultTypingIdle = 2000 * time.Millisecond

// TypingDebouncer turns keystrokes into typing:start/typing:stop events for
// one conversation. A start goes out on the first keystroke and then at most
// once per idle window; a stop follows after the idle window without input.
type TypingDebouncer struct {
	rt             Transport
	conversationID string
	idle           time.Duration

	mu       sync.Mutex
	active   bool
	lastSent time.Time
	timer    *time.Timer
	gen      uint64
	now      func() time.Time
}

func NewTypingDebouncer(rt Transport, conversationID string, idle time.Duration) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingDebouncer{rt: rt, conversationID: conversationID, idle: idle, now: time.Now}
}

func (d *TypingDebouncer) payload() models.TypingPayload {
	return models.TypingPayload{ConversationID: d.conversationID}
}

// Keystroke records input. Emission failures are ignored; typing state is
// best effort.
func (d *TypingDebouncer) Keystroke() {
	d.mu.Lock()
	now := d.now()
	send := !d.active || now.Sub(d.lastSent) >= d.idle
	d.active = true
	if send {
		d.lastSent = now
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.idle, func() { d.expire(gen) })
	d.mu.Unlock()

	if send && d.rt.State() == StateConnected {
		_ = d.rt.Emit(context.Background(), models.EventTypingStart, d.payload())
	}
}

// expire fires the idle stop unless a later keystroke rearmed the timer.
func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	stale := gen != d.gen
	d.mu.Unlock()
	if !stale {
		d.Stop()
	}
}

// Stop emits typing:stop right away if a start is outstanding.
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	wasActive := d.active
	d.active = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if wasActive && d.rt.State() == StateConnected {
		_ = d.rt.Emit(context.Background(), models.EventTypingStop, d.payload())
	}
}

// Active reports whether a typing:start is outstanding.
func (d *TypingDebouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}
