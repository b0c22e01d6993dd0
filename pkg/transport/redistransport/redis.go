// Package redistransport carries room messages over Redis pub/sub, one
// channel per room. Redis echoes a publisher's own messages back to it.
package redistransport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"collabsync/pkg/protocol"
	"collabsync/pkg/transport"
)

const DefaultPrefix = "collab:room:"

// Channel returns the pub/sub channel name of a room.
func Channel(prefix, roomID string) string {
	return prefix + roomID
}

type Transport struct {
	rdb     redis.UniversalClient
	channel string
	pubsub  *redis.PubSub
	fanout  transport.Fanout
	log     *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// New subscribes to the room channel and starts relaying inbound messages.
func New(ctx context.Context, rdb redis.UniversalClient, prefix, roomID string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	channel := Channel(prefix, roomID)

	pubsub := rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	t := &Transport{
		rdb:     rdb,
		channel: channel,
		pubsub:  pubsub,
		log:     logger.With("channel", channel),
		done:    make(chan struct{}),
	}
	go t.loop(pubsub.Channel())
	return t, nil
}

func (t *Transport) loop(ch <-chan *redis.Message) {
	defer close(t.done)
	for m := range ch {
		msg, err := protocol.Decode([]byte(m.Payload))
		if err != nil {
			t.log.Warn("dropping undecodable message", "error", err)
			continue
		}
		t.fanout.Dispatch(msg)
	}
}

func (t *Transport) Publish(ctx context.Context, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind, err)
	}
	if err := t.rdb.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", t.channel, err)
	}
	return nil
}

func (t *Transport) Subscribe(h transport.Handler) func() {
	return t.fanout.Subscribe(h)
}

// Close unsubscribes and waits for the relay goroutine to exit.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.pubsub.Close()
		<-t.done
		t.fanout.Clear()
	})
	return err
}
