package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/config"
	"github.com/saviobatista/dongle-pairing/internal/gateway"
	"github.com/saviobatista/dongle-pairing/internal/logger"
	"github.com/saviobatista/dongle-pairing/internal/nats"
	"github.com/saviobatista/dongle-pairing/internal/redis"
	"github.com/saviobatista/dongle-pairing/internal/stats"
	"github.com/saviobatista/dongle-pairing/internal/storage"
	"github.com/sirupsen/logrus"
)

// run reads the dongle sources and relays every accepted sample over NATS
// until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	if cfg.NATSURL == "" {
		return errors.New("NATS_URL is required")
	}

	relay, err := nats.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	defer relay.Close()

	st := stats.New()
	opts := append(gateway.SourceOptions(cfg, st), gateway.WithRelay(relay))

	if cfg.RedisAddr != "" {
		cache, err := redis.New(cfg.RedisAddr)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, running without sample cache")
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					logrus.WithError(err).Warn("Error closing Redis client")
				}
			}()
			opts = append(opts, gateway.WithCache(cache))
		}
	}

	if cfg.ArchiveDir != "" {
		archive := storage.New(cfg.ArchiveDir)
		if err := archive.Start(); err != nil {
			return fmt.Errorf("failed to start archive: %w", err)
		}
		defer func() {
			if err := archive.Stop(); err != nil {
				logrus.WithError(err).Warn("Error closing archive")
			}
		}()
		opts = append(opts, gateway.WithArchive(archive))
	}

	gw := gateway.New(nil, opts...)
	gw.Start()
	go logStats(ctx, st, cfg.StatsInterval)

	<-ctx.Done()
	logrus.Info("Shutting down...")
	gw.Stop()

	if err := relay.Flush(); err != nil {
		logrus.WithError(err).Warn("Failed to flush NATS")
	}
	return nil
}

// logStats periodically logs statistics
func logStats(ctx context.Context, st *stats.Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logrus.Infof("Statistics:\n%s", st)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Error("Gateway failed")
		os.Exit(1)
	}
}
