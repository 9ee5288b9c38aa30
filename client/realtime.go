package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"playmate-chat/apperrors"
	"playmate-chat/models"
)

// RealtimeConfig configures the realtime connection manager.
type RealtimeConfig struct {
	BaseURL              string
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	AckTimeout           time.Duration
	HTTPClient           *http.Client
	Logger               *zap.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

type wireFrame struct {
	Event string              `json:"event"`
	Data  json.RawMessage     `json:"data,omitempty"`
	Ack   string              `json:"ack,omitempty"`
	Error *apperrors.AppError `json:"error,omitempty"`
}

type command struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   string `json:"ack,omitempty"`
}

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay is exponential with jitter. A connection that stayed up for a
// minute resets the attempt count.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// Realtime is the websocket connection manager. Construct one per session
// and share it between the Sender and the SyncEngine.
type Realtime struct {
	cfg RealtimeConfig
	log *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            State
	connectionID     string
	intentionalClose bool
	life             context.Context
	cancelFn         context.CancelFunc
	recon            *reconnector
	rooms            map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]*Ack

	handlersMu sync.RWMutex
	handlers   map[string][]EventHandler
	onState    []func(State)
}

var _ Transport = (*Realtime)(nil)

func NewRealtime(cfg RealtimeConfig) *Realtime {
	cfg.defaults()
	return &Realtime{
		cfg:   cfg,
		log:   cfg.Logger,
		state: StateDisconnected,
		recon: &reconnector{
			baseDelay:   cfg.ReconnectBaseDelay,
			maxDelay:    cfg.ReconnectMaxDelay,
			maxAttempts: cfg.MaxReconnectAttempts,
		},
		rooms:    make(map[string]struct{}),
		pending:  make(map[string]*Ack),
		handlers: make(map[string][]EventHandler),
	}
}

// On registers a handler for a server event.
func (rt *Realtime) On(event string, h EventHandler) {
	rt.handlersMu.Lock()
	rt.handlers[event] = append(rt.handlers[event], h)
	rt.handlersMu.Unlock()
}

// OnStateChange registers a callback for connection state transitions.
func (rt *Realtime) OnStateChange(h func(State)) {
	rt.handlersMu.Lock()
	rt.onState = append(rt.onState, h)
	rt.handlersMu.Unlock()
}

func (rt *Realtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// ConnectionID is the id the server assigned to the current connection.
func (rt *Realtime) ConnectionID() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.connectionID
}

func (rt *Realtime) setState(s State) {
	rt.mu.Lock()
	changed := rt.state != s
	rt.state = s
	rt.mu.Unlock()
	if !changed {
		return
	}
	rt.handlersMu.RLock()
	handlers := append([]func(State){}, rt.onState...)
	rt.handlersMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (rt *Realtime) socketURL() string {
	u := strings.Replace(rt.cfg.BaseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/") + "/ws?token=" + url.QueryEscape(rt.cfg.Token)
}

// Connect dials the gateway and waits for the connected event. ctx bounds
// the lifetime of the connection and of any reconnect attempts.
func (rt *Realtime) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.intentionalClose = false
	rt.life = ctx
	rt.mu.Unlock()
	rt.setState(StateConnecting)

	if err := rt.dial(ctx); err != nil {
		rt.setState(StateDisconnected)
		return err
	}
	return nil
}

func (rt *Realtime) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, rt.socketURL(), &websocket.DialOptions{HTTPClient: rt.cfg.HTTPClient})
	if err != nil {
		return apperrors.Transport("websocket dial", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	_, data, err := conn.Read(connCtx)
	if err != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return apperrors.Transport("read connected event", err)
	}
	var hello wireFrame
	if err := json.Unmarshal(data, &hello); err != nil || hello.Event != models.EventConnected {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return apperrors.Transport(fmt.Sprintf("expected %q, got %q", models.EventConnected, hello.Event), err)
	}
	var payload models.ConnectedPayload
	_ = json.Unmarshal(hello.Data, &payload)

	rt.mu.Lock()
	rt.conn = conn
	rt.connectionID = payload.ConnectionID
	rt.cancelFn = cancel
	rt.mu.Unlock()
	rt.recon.markConnected()
	rt.setState(StateConnected)
	rt.log.Debug("realtime connected", zap.String("connection_id", payload.ConnectionID))

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx, conn)

	rt.rejoin(connCtx)
	rt.dispatch(hello)
	return nil
}

// rejoin re-issues conversation:join for every wanted room; the server keeps
// no membership across connections.
func (rt *Realtime) rejoin(ctx context.Context) {
	rt.mu.Lock()
	rooms := make([]string, 0, len(rt.rooms))
	for id := range rt.rooms {
		rooms = append(rooms, id)
	}
	rt.mu.Unlock()

	for _, id := range rooms {
		if _, err := rt.Request(ctx, models.EventConversationJoin, id).Wait(ctx, rt.cfg.AckTimeout); err != nil {
			rt.log.Warn("rejoin failed", zap.String("conversation_id", id), zap.Error(err))
			if apperrors.Terminal(err) {
				rt.mu.Lock()
				delete(rt.rooms, id)
				rt.mu.Unlock()
			}
		}
	}
}

// Disconnect closes the connection and stops reconnecting.
func (rt *Realtime) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	cancel := rt.cancelFn
	rt.cancelFn = nil
	conn := rt.conn
	rt.conn = nil
	rt.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	// cancelling first would abort the close handshake
	if cancel != nil {
		cancel()
	}
	rt.failPending(apperrors.ErrNotConnected)
	rt.setState(StateDisconnected)
	return err
}

func (rt *Realtime) write(ctx context.Context, cmd command) error {
	rt.mu.Lock()
	conn := rt.conn
	connected := rt.state == StateConnected
	rt.mu.Unlock()
	if conn == nil || !connected {
		return apperrors.ErrNotConnected
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return apperrors.Validation("unencodable payload")
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return apperrors.Transport("websocket write", err)
	}
	return nil
}

func (rt *Realtime) Emit(ctx context.Context, event string, data any) error {
	return rt.write(ctx, command{Event: event, Data: data})
}

func (rt *Realtime) Request(ctx context.Context, event string, data any) *Ack {
	id := uuid.NewString()
	ack := newAck(func() { rt.dropPending(id) })

	rt.pendingMu.Lock()
	rt.pending[id] = ack
	rt.pendingMu.Unlock()

	if err := rt.write(ctx, command{Event: event, Data: data, Ack: id}); err != nil {
		rt.dropPending(id)
		ack.resolve(nil, err)
	}
	return ack
}

// JoinRoom records the room as wanted and joins it now when connected. A
// transport failure keeps it wanted so the next connection joins it.
func (rt *Realtime) JoinRoom(ctx context.Context, conversationID string) error {
	rt.mu.Lock()
	rt.rooms[conversationID] = struct{}{}
	rt.mu.Unlock()

	if rt.State() != StateConnected {
		return nil
	}
	_, err := rt.Request(ctx, models.EventConversationJoin, conversationID).Wait(ctx, rt.cfg.AckTimeout)
	if err != nil && apperrors.Terminal(err) {
		rt.mu.Lock()
		delete(rt.rooms, conversationID)
		rt.mu.Unlock()
	}
	return err
}

func (rt *Realtime) LeaveRoom(ctx context.Context, conversationID string) error {
	rt.mu.Lock()
	delete(rt.rooms, conversationID)
	rt.mu.Unlock()

	if rt.State() != StateConnected {
		return nil
	}
	return rt.Emit(ctx, models.EventConversationLeave, conversationID)
}

func (rt *Realtime) dropPending(id string) {
	rt.pendingMu.Lock()
	delete(rt.pending, id)
	rt.pendingMu.Unlock()
}

func (rt *Realtime) failPending(err error) {
	rt.pendingMu.Lock()
	pending := rt.pending
	rt.pending = make(map[string]*Ack)
	rt.pendingMu.Unlock()
	for _, ack := range pending {
		ack.resolve(nil, err)
	}
}

func (rt *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.handleDrop(conn, err)
			return
		}

		var f wireFrame
		if json.Unmarshal(data, &f) != nil {
			continue
		}
		if f.Event == models.EventAck {
			rt.resolveAck(f)
			continue
		}
		rt.dispatch(f)
	}
}

func (rt *Realtime) resolveAck(f wireFrame) {
	rt.pendingMu.Lock()
	ack, ok := rt.pending[f.Ack]
	delete(rt.pending, f.Ack)
	rt.pendingMu.Unlock()
	if !ok {
		return
	}
	if f.Error != nil {
		ack.resolve(nil, &apperrors.AppError{Code: f.Error.Code, Message: f.Error.Message})
		return
	}
	ack.resolve(f.Data, nil)
}

func (rt *Realtime) dispatch(f wireFrame) {
	rt.handlersMu.RLock()
	handlers := append([]EventHandler{}, rt.handlers[f.Event]...)
	rt.handlersMu.RUnlock()
	for _, h := range handlers {
		h(f.Event, f.Data)
	}
}

func (rt *Realtime) handleDrop(conn *websocket.Conn, cause error) {
	rt.mu.Lock()
	intentional := rt.intentionalClose
	life := rt.life
	if rt.conn == conn {
		rt.conn = nil
	}
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	rt.mu.Unlock()

	rt.failPending(apperrors.Transport("connection lost", cause))
	if intentional {
		return
	}
	rt.log.Info("realtime connection lost", zap.Error(cause))
	rt.setState(StateDisconnected)

	if rt.cfg.AutoReconnect && life != nil && life.Err() == nil {
		go rt.reconnectLoop(life)
	}
}

func (rt *Realtime) reconnectLoop(ctx context.Context) {
	for rt.recon.shouldReconnect() {
		delay := rt.recon.nextDelay()
		rt.setState(StateReconnecting)
		rt.log.Debug("reconnecting", zap.Int("attempt", rt.recon.attempt), zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			rt.setState(StateDisconnected)
			return
		}

		rt.mu.Lock()
		stop := rt.intentionalClose
		rt.mu.Unlock()
		if stop {
			return
		}
		if err := rt.dial(ctx); err == nil {
			return
		}
	}
	rt.setState(StateDisconnected)
}

func (rt *Realtime) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, rt.cfg.AckTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}
