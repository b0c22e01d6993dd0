// Package wstransport is a websocket client for the relay server.
package wstransport

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabsync/pkg/protocol"
	"collabsync/pkg/transport"
)

const writeWait = 10 * time.Second

// RoomURL builds the relay endpoint of a room from the relay base address.
func RoomURL(base, roomID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.JoinPath("rooms", roomID, "ws").String(), nil
}

type Client struct {
	conn   *websocket.Conn
	fanout transport.Fanout
	log    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a room on the relay and starts the read pump.
func Dial(ctx context.Context, base, roomID string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := RoomURL(base, roomID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	c := &Client{
		conn: conn,
		log:  logger.With("url", target),
		done: make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

func (c *Client) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("relay connection lost", "error", err)
			}
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping undecodable message", "error", err)
			continue
		}
		c.fanout.Dispatch(msg)
	}
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Publish(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) Subscribe(h transport.Handler) func() {
	return c.fanout.Subscribe(h)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
		c.fanout.Clear()
	})
	return err
}
