package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"playmate-chat/apperrors"
)

// State is the realtime connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// DefaultAckTimeout bounds how long a command waits for its ack.
const DefaultAckTimeout = 5 * time.Second

// EventHandler receives server events. Handlers run on the connection's read
// goroutine, in arrival order, and must not block on further acks.
type EventHandler func(event string, data json.RawMessage)

// Transport is the realtime side of the client. Realtime implements it over
// a websocket; tests substitute fakes.
type Transport interface {
	State() State
	// Request sends a command and returns a future for its ack.
	Request(ctx context.Context, event string, data any) *Ack
	// Emit sends a command without waiting for an ack.
	Emit(ctx context.Context, event string, data any) error
	JoinRoom(ctx context.Context, conversationID string) error
	LeaveRoom(ctx context.Context, conversationID string) error
	On(event string, h EventHandler)
}

// Ack is the pending result of a Request.
type Ack struct {
	done    chan struct{}
	once    sync.Once
	data    json.RawMessage
	err     error
	release func()
}

func newAck(release func()) *Ack {
	return &Ack{done: make(chan struct{}), release: release}
}

// FailedAck returns an already resolved Ack carrying err.
func FailedAck(err error) *Ack {
	a := newAck(nil)
	a.resolve(nil, err)
	return a
}

// ResolvedAck returns an already resolved successful Ack.
func ResolvedAck(data json.RawMessage) *Ack {
	a := newAck(nil)
	a.resolve(data, nil)
	return a
}

func (a *Ack) resolve(data json.RawMessage, err error) {
	a.once.Do(func() {
		a.data, a.err = data, err
		close(a.done)
	})
}

// Resolve completes the Ack. Only the first call has any effect.
func (a *Ack) Resolve(data json.RawMessage, err error) {
	a.resolve(data, err)
}

// Wait blocks until the ack arrives, timeout elapses, or ctx ends. A timeout
// is reported as apperrors.ErrAckTimeout, the same class as an error ack.
func (a *Ack) Wait(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return a.data, a.err
	case <-timer.C:
		a.abandon()
		return nil, apperrors.ErrAckTimeout
	case <-ctx.Done():
		a.abandon()
		return nil, apperrors.Transport("waiting for ack", ctx.Err())
	}
}

func (a *Ack) abandon() {
	if a.release != nil {
		a.release()
	}
}
