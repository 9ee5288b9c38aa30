package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"playmate-chat/config"
	"playmate-chat/metrics"
	"playmate-chat/models"
)

const (
	defaultPingInterval = 10 * time.Second
	defaultPongTimeout  = 15 * time.Second
	defaultSendBuffer   = 256
	writeWait           = 10 * time.Second
	maxFrameSize        = 64 * 1024
)

// Backend is the chat surface the gateway drives. services.ChatService
// satisfies it.
type Backend interface {
	Authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	SendMessageWithKey(ctx context.Context, userID, conversationID, content string, msgType models.MessageType, clientKey string) (*models.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) (int64, error)
}

type membership struct {
	client *Client
	room   string
}

// delivery is one outgoing frame for a room, a user, or a single
// connection. exclude skips a connection; member additionally requires that
// connection to be in the room, which is how typing relays are gated.
type delivery struct {
	room    string
	user    string
	client  *Client
	frame   []byte
	exclude *Client
	member  *Client
}

// Hub owns every piece of connection state. Only Run touches the maps.
type Hub struct {
	clients map[*Client]map[string]struct{}
	users   map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	publish    chan delivery
	done       chan struct{}

	backend Backend
	opts    config.Realtime
	log     *zap.Logger
}

func NewHub(backend Backend, opts config.Realtime, log *zap.Logger) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.TypingRPS <= 0 {
		opts.TypingRPS = 5
	}
	if opts.TypingBurst <= 0 {
		opts.TypingBurst = 1
	}
	return &Hub{
		clients:    make(map[*Client]map[string]struct{}),
		users:      make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan membership),
		leave:      make(chan membership),
		publish:    make(chan delivery),
		done:       make(chan struct{}),
		backend:    backend,
		opts:       opts,
		log:        log,
	}
}

// SetBackend wires the chat service, which is built after the hub it
// publishes through. Call it before serving connections.
func (h *Hub) SetBackend(backend Backend) {
	h.backend = backend
}

// Run processes hub traffic until ctx is cancelled, then closes every
// remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.log.Info("client unregistered", zap.String("user_id", c.userID), zap.String("connection_id", c.id))
			}

		case m := <-h.join:
			h.addMember(m)

		case m := <-h.leave:
			h.removeMember(m)

		case d := <-h.publish:
			h.deliver(d)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.clients[c] = make(map[string]struct{})
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
	metrics.WSConnections.Inc()
	c.send <- c.hello
	h.log.Info("client registered", zap.String("user_id", c.userID), zap.String("connection_id", c.id))
}

func (h *Hub) addMember(m membership) {
	rooms, ok := h.clients[m.client]
	if !ok {
		return
	}
	if _, already := rooms[m.room]; already {
		return
	}
	rooms[m.room] = struct{}{}
	if h.rooms[m.room] == nil {
		h.rooms[m.room] = make(map[*Client]struct{})
	}
	h.rooms[m.room][m.client] = struct{}{}
	metrics.WSRoomMembers.Inc()
}

func (h *Hub) removeMember(m membership) {
	rooms, ok := h.clients[m.client]
	if !ok {
		return
	}
	if _, in := rooms[m.room]; in {
		delete(rooms, m.room)
		h.removeFromRoom(m.client, m.room)
	}
}

func (h *Hub) deliver(d delivery) {
	var targets map[*Client]struct{}
	if d.client != nil {
		if _, ok := h.clients[d.client]; !ok {
			return
		}
		targets = map[*Client]struct{}{d.client: {}}
	} else if d.room != "" {
		targets = h.rooms[d.room]
		if d.member != nil {
			if _, ok := targets[d.member]; !ok {
				return
			}
		}
	} else {
		targets = h.users[d.user]
	}
	for c := range targets {
		if c == d.exclude {
			continue
		}
		select {
		case c.send <- d.frame:
		default:
			h.log.Warn("dropping slow client", zap.String("user_id", c.userID), zap.String("connection_id", c.id))
			metrics.WSDropped.Inc()
			h.drop(c)
		}
	}
}

// drop forgets a connection and closes its send channel, which makes the
// write pump hang up.
func (h *Hub) drop(c *Client) {
	rooms, ok := h.clients[c]
	if !ok {
		return
	}
	for room := range rooms {
		h.removeFromRoom(c, room)
	}
	delete(h.clients, c)
	if conns := h.users[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
	close(c.send)
	metrics.WSConnections.Dec()
}

func (h *Hub) removeFromRoom(c *Client, room string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	if _, ok := members[c]; !ok {
		return
	}
	delete(members, c)
	metrics.WSRoomMembers.Dec()
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// sendDelivery hands a frame to Run. It reports false once the hub has stopped.
func (h *Hub) sendDelivery(d delivery) bool {
	select {
	case h.publish <- d:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) PublishToRoom(conversationID, event string, payload any) {
	h.publishTo(delivery{room: conversationID}, event, payload)
}

func (h *Hub) PublishToUser(userID, event string, payload any) {
	h.publishTo(delivery{user: userID}, event, payload)
}

func (h *Hub) publishTo(d delivery, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	d.frame = frame
	h.sendDelivery(d)
}

func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) joinRoom(c *Client, room string) bool {
	select {
	case h.join <- membership{client: c, room: room}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leaveRoom(c *Client, room string) {
	select {
	case h.leave <- membership{client: c, room: room}:
	case <-h.done:
	}
}
