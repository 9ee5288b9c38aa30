package ws

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"playmate-chat/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve upgrades an already authenticated request and blocks until the
// connection closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		id:     uuid.NewString(),
		userID: userID,
		typing: rate.NewLimiter(rate.Limit(h.opts.TypingRPS), h.opts.TypingBurst),
		log:    h.log.With(zap.String("user_id", userID)),
	}
	c.hello, err = encodeFrame(models.EventConnected, models.ConnectedPayload{UserID: userID, ConnectionID: c.id})
	if err != nil {
		_ = conn.Close()
		return
	}
	if !h.registerClient(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	go c.writePump()
	c.readPump(r.Context())
}
