// Package persist delivers debounced save requests to a storage
// collaborator. The core never reads documents back.
package persist

import (
	"context"
	"log/slog"

	"collabsync/pkg/protocol"
)

type Sink interface {
	Save(ctx context.Context, req protocol.PersistRequest) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, req protocol.PersistRequest) error

func (f SinkFunc) Save(ctx context.Context, req protocol.PersistRequest) error {
	return f(ctx, req)
}

// Publisher is the outward half of a transport.
type Publisher interface {
	Publish(ctx context.Context, msg protocol.Message) error
}

// TransportSink forwards requests as persist-request messages, leaving
// storage to whoever listens on the room.
type TransportSink struct {
	pub Publisher
}

func NewTransportSink(pub Publisher) *TransportSink {
	return &TransportSink{pub: pub}
}

func (s *TransportSink) Save(ctx context.Context, req protocol.PersistRequest) error {
	if req.RoomID == "" {
		return ErrEmptyRoom
	}
	return s.pub.Publish(ctx, protocol.Persist(req))
}

// Multi saves to every sink in order and returns the first error after
// trying all of them.
type Multi []Sink

func (m Multi) Save(ctx context.Context, req protocol.PersistRequest) error {
	var first error
	for _, s := range m {
		if err := s.Save(ctx, req); err != nil {
			slog.Warn("persist sink failed", "room_id", req.RoomID, "request_id", req.ID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
