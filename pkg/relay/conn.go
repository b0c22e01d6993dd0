package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendQueue  = 256
)

// conn is one websocket participant of a room.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	log  *slog.Logger

	mu       sync.Mutex
	clientID string
	name     string
	closed   bool
}

func newConn(ws *websocket.Conn, logger *slog.Logger) *conn {
	return &conn{ws: ws, send: make(chan []byte, sendQueue), log: logger}
}

// enqueue never blocks; a consumer that cannot keep up is disconnected and
// will resync on reconnect.
func (c *conn) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send queue full, dropping connection")
		c.closed = true
		close(c.send)
		return false
	}
}

// identify records who is on the other end from the first message that
// names a client. It reports whether the identity changed.
func (c *conn) identify(msg protocol.Message) bool {
	if msg.ClientID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := c.clientID != msg.ClientID
	c.clientID = msg.ClientID
	if msg.User != nil && msg.User.Name != "" {
		c.name = msg.User.Name
	}
	return changed
}

func (c *conn) participant() (protocol.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clientID == "" {
		return protocol.Participant{}, false
	}
	return protocol.Participant{ClientID: c.clientID, Name: c.name}, true
}

func (c *conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
