package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"collabsync/pkg/config"
	"collabsync/pkg/crdt"
	"collabsync/pkg/persist"
	"collabsync/pkg/protocol"
	"collabsync/pkg/replica"
	"collabsync/pkg/session"
	"collabsync/pkg/transport"
	"collabsync/pkg/transport/redistransport"
	"collabsync/pkg/transport/wstransport"
)

var errMemoryTransport = errors.New("memory transport only works in-process")

func openTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (transport.Transport, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportWebsocket:
		c, err := wstransport.Dial(ctx, cfg.Transport.Address, cfg.Room.ID, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	case config.TransportRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Transport.Address})
		t, err := redistransport.New(ctx, rdb, cfg.Transport.Prefix, cfg.Room.ID, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return t, func() { _ = t.Close(); _ = rdb.Close() }, nil
	}
	return nil, nil, errMemoryTransport
}

// openSink stores saves in postgres when a dsn is configured and still
// announces them on the room, so other listeners see every save. Without a
// dsn the session publishes persist-request on its own.
func openSink(ctx context.Context, cfg *config.Config, tr transport.Transport, logger *slog.Logger) (persist.Sink, func(), error) {
	if cfg.Persist.DSN == "" {
		return nil, func() {}, nil
	}
	pool, err := persist.Connect(ctx, cfg.Persist.DSN)
	if err != nil {
		return nil, nil, err
	}
	pg := persist.NewPostgres(pool, cfg.Persist.Table, logger)
	if err := pg.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return persist.Multi{pg, persist.NewTransportSink(tr)}, pool.Close, nil
}

// runJoin is a headless participant: every stdin line is appended to the
// document and every content change is printed.
func runJoin(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Room.RequireRoom(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr, closeTransport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer closeTransport()

	sink, closeSink, err := openSink(ctx, cfg, tr, logger)
	if err != nil {
		return fmt.Errorf("open persistence: %w", err)
	}
	defer closeSink()

	room, err := session.Join(ctx, session.Options{
		RoomID:         cfg.Room.ID,
		ClientID:       cfg.Node.ID,
		User:           protocol.User{Name: cfg.Node.Name, Color: cfg.Node.Color},
		Language:       cfg.Room.Language,
		Transport:      tr,
		Sink:           sink,
		Logger:         logger,
		MarkerDwell:    cfg.Presence.MarkerDwell.Std(),
		StaleTimeout:   cfg.Presence.StaleTimeout.Std(),
		RenewInterval:  cfg.Presence.RenewInterval.Std(),
		DebounceWindow: cfg.Persist.Debounce.Std(),
	})
	if err != nil {
		return err
	}
	defer room.Leave()

	room.Replica().Subscribe(func(ch replica.Change) {
		fmt.Printf("--- %s change ---\n%s\n", ch.Origin, ch.Content)
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		r := bufio.NewReader(os.Stdin)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("stdin read failed", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			edit := crdt.Edit{Index: room.Replica().Len(), Insert: line}
			if err := room.Edit(edit); err != nil {
				logger.Warn("edit rejected", "error", err)
			}
		}
	}
}
