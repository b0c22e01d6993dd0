package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"collabsync/pkg/config"
	"collabsync/pkg/relay"
)

func runRelay(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithBuffers(cfg.Relay.ReadBufferSize, cfg.Relay.WriteBufferSize),
		relay.WithShards(cfg.Relay.Shards),
		relay.WithMaxFrameSize(cfg.Relay.MaxFrameSize),
	}
	if cfg.Relay.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddress})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Relay.RedisAddress, err)
		}
		logger.Info("redis bridge enabled", "address", cfg.Relay.RedisAddress)
		opts = append(opts, relay.WithBridge(relay.NewRedisBridge(rdb, cfg.Relay.RedisPrefix, cfg.Node.ID, logger)))
	}

	srv := relay.NewServer(opts...)
	httpSrv := &http.Server{
		Addr:              cfg.Relay.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		if err := srv.Run(ctx); err != nil {
			errc <- err
		}
	}()
	go func() {
		logger.Info("relay listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("relay shutting down")
	return httpSrv.Shutdown(shutdownCtx)
}
