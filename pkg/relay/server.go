// Package relay is the room transport server: every websocket frame a
// participant sends is validated and fanned out to the other participants
// of the same room.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabsync/pkg/protocol"
)

// DefaultMaxFrameSize bounds one inbound frame. Late-join snapshots carry the
// whole document, so it sits well above typical edit sizes.
const DefaultMaxFrameSize = 16 << 20

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithBuffers(read, write int) Option {
	return func(s *Server) {
		s.upgrader.ReadBufferSize = read
		s.upgrader.WriteBufferSize = write
	}
}

// WithMaxFrameSize sets the largest inbound frame; bigger frames close the
// connection with 1009.
func WithMaxFrameSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

func WithShards(n int) Option {
	return func(s *Server) { s.shards = n }
}

// WithBridge shares rooms with other nodes. Bridged nodes do not emit
// roster updates since no node sees every connection.
func WithBridge(b Bridge) Option {
	return func(s *Server) { s.bridge = b }
}

type Server struct {
	rooms    *Registry
	upgrader websocket.Upgrader
	bridge   Bridge
	shards   int
	maxFrame int64
	log      *slog.Logger
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxFrame: DefaultMaxFrameSize,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rooms = NewRegistry(s.shards, s.log)
	return s
}

func (s *Server) Rooms() *Registry {
	return s.rooms
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/participants", s.handleParticipants).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{room}/ws", s.handleWS)
	return r
}

// Run pumps the bridge, if any, until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.bridge == nil {
		<-ctx.Done()
		return nil
	}
	err := s.bridge.Run(ctx, s.deliverBridged)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) deliverBridged(roomID string, frame []byte) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	room.Broadcast(nil, frame)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "rooms": s.rooms.Len()})
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	participants := []protocol.Participant{}
	if room, ok := s.rooms.Get(roomID); ok {
		participants = room.Participants()
	}
	writeJSON(w, map[string]any{"roomId": roomID, "participants": participants})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room"]
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	c := newConn(ws, s.log.With("room_id", roomID, "remote", r.RemoteAddr))
	room := s.rooms.Acquire(roomID, c)
	go c.writePump()

	s.readPump(r.Context(), room, c)

	s.rooms.Release(roomID, c)
	c.shutdown()
	s.announceRoster(room)
}

func (s *Server) readPump(ctx context.Context, room *Room, c *conn) {
	ws := c.ws
	ws.SetReadLimit(s.maxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("connection lost", "error", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		if msg.RoomID != room.ID() {
			c.log.Warn("dropping frame for foreign room", "frame_room", msg.RoomID)
			continue
		}

		joined := room.identify(c, msg)
		room.Broadcast(c, data)
		if s.bridge != nil {
			if err := s.bridge.Publish(ctx, room.ID(), data); err != nil {
				c.log.Warn("bridge publish failed", "error", err)
			}
		}
		if joined {
			s.announceRoster(room)
		}
	}
}

// announceRoster tells the room who is connected. Skipped when bridged.
func (s *Server) announceRoster(room *Room) {
	if s.bridge != nil {
		return
	}
	if err := room.AnnounceRoster(); err != nil {
		s.log.Error("encode roster", "room_id", room.ID(), "error", err)
	}
}
