package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Bridge shares room traffic between relay nodes.
type Bridge interface {
	Publish(ctx context.Context, roomID string, frame []byte) error
	// Run delivers frames published by other nodes until ctx is done.
	Run(ctx context.Context, deliver func(roomID string, frame []byte)) error
}

// DefaultBridgePrefix keeps bridge traffic apart from the channels the redis
// transport uses for raw room messages.
const DefaultBridgePrefix = "collab:relay:"

type bridgeFrame struct {
	Node  string          `json:"node"`
	Frame json.RawMessage `json:"frame"`
}

// RedisBridge publishes every frame on <prefix><room> and listens on the
// whole prefix. Frames a node published itself are skipped on receipt.
type RedisBridge struct {
	rdb    redis.UniversalClient
	prefix string
	nodeID string
	log    *slog.Logger
}

func NewRedisBridge(rdb redis.UniversalClient, prefix, nodeID string, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBridge{rdb: rdb, prefix: prefix, nodeID: nodeID, log: logger.With("bridge", "redis")}
}

func (b *RedisBridge) Publish(ctx context.Context, roomID string, frame []byte) error {
	data, err := b.encode(frame)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.prefix+roomID, data).Err(); err != nil {
		return fmt.Errorf("bridge publish %s: %w", roomID, err)
	}
	return nil
}

func (b *RedisBridge) encode(frame []byte) ([]byte, error) {
	return json.Marshal(bridgeFrame{Node: b.nodeID, Frame: frame})
}

// decode returns the room and frame of a bridged message, ok=false for
// frames of this node or garbage.
func (b *RedisBridge) decode(channel, payload string) (string, []byte, bool) {
	roomID, found := strings.CutPrefix(channel, b.prefix)
	if !found || roomID == "" {
		return "", nil, false
	}
	var bf bridgeFrame
	if err := json.Unmarshal([]byte(payload), &bf); err != nil {
		b.log.Warn("dropping bridged frame", "channel", channel, "error", err)
		return "", nil, false
	}
	if bf.Node == b.nodeID || len(bf.Frame) == 0 {
		return "", nil, false
	}
	return roomID, bf.Frame, true
}

func (b *RedisBridge) Run(ctx context.Context, deliver func(roomID string, frame []byte)) error {
	pubsub := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("bridge subscribe: %w", err)
	}
	b.log.Info("bridge listening", "pattern", b.prefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if roomID, frame, ok := b.decode(m.Channel, m.Payload); ok {
				deliver(roomID, frame)
			}
		}
	}
}
