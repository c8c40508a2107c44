package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/api"
	"github.com/saviobatista/dongle-pairing/internal/broadcast"
	"github.com/saviobatista/dongle-pairing/internal/config"
	"github.com/saviobatista/dongle-pairing/internal/db"
	"github.com/saviobatista/dongle-pairing/internal/db/migrations"
	"github.com/saviobatista/dongle-pairing/internal/devices"
	"github.com/saviobatista/dongle-pairing/internal/gateway"
	"github.com/saviobatista/dongle-pairing/internal/logger"
	"github.com/saviobatista/dongle-pairing/internal/nats"
	"github.com/saviobatista/dongle-pairing/internal/normalizer"
	"github.com/saviobatista/dongle-pairing/internal/pairing"
	"github.com/saviobatista/dongle-pairing/internal/redis"
	"github.com/saviobatista/dongle-pairing/internal/stats"
	"github.com/saviobatista/dongle-pairing/internal/storage"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Store is everything the server persists through
type Store interface {
	pairing.Store
	devices.Store
	stats.Store
	Ping(ctx context.Context) error
}

// txStore is a Store that can group writes into one transaction
type txStore interface {
	InTx(ctx context.Context, fn func(tx *db.Client) error) error
}

// bindTx scopes a pairing bind to one database transaction
func bindTx(store txStore) pairing.BindTx {
	return func(ctx context.Context, fn func(pairing.Store, pairing.Binder) error) error {
		return store.InTx(ctx, func(tx *db.Client) error {
			return fn(tx, devices.New(tx))
		})
	}
}

// app wires the hub, gateway, coordinator and HTTP API around one store
type app struct {
	hub         *broadcast.Hub
	gateway     *gateway.Gateway
	coordinator *pairing.Coordinator
	stats       *stats.Stats
	handler     http.Handler
}

func newApp(cfg *config.Config, store Store, st *stats.Stats, gwOpts ...gateway.Option) (*app, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	st.SetStore(store)

	norm := normalizer.New(time.Local)
	hub := broadcast.NewHub(broadcast.DefaultBuffer)

	opts := append([]gateway.Option{gateway.WithStats(st), gateway.WithNormalizer(norm)}, gwOpts...)
	gw := gateway.New(hub, opts...)

	updater := devices.New(store)
	coordOpts := []pairing.Option{
		pairing.WithNormalizer(norm),
		pairing.WithRecorder(st),
	}
	if ts, ok := store.(txStore); ok {
		coordOpts = append(coordOpts, pairing.WithBindTx(bindTx(ts)))
	}
	coord := pairing.New(store, hub, updater, coordOpts...)
	st.SetHub(hub)
	st.SetSessions(coord)

	server := api.NewServer(coord, updater, gw, store, api.NewAuthenticator([]byte(cfg.JWTSecret)))

	return &app{
		hub:         hub,
		gateway:     gw,
		coordinator: coord,
		stats:       st,
		handler:     server.Router(),
	}, nil
}

// stop shuts the pairing side down before the sources feeding it
func (a *app) stop() {
	a.coordinator.Shutdown()
	a.gateway.Stop()
	a.hub.Close()
}

// sourceOptions picks where samples come from: a remote gateway over NATS
// when configured, the local serial and MQTT inputs otherwise. The returned
// cleanup releases whatever was opened.
func sourceOptions(cfg *config.Config, st *stats.Stats) ([]gateway.Option, func(), error) {
	var opts []gateway.Option
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.NATSURL == "" {
		opts = append(opts, gateway.SourceOptions(cfg, st)...)

		if cfg.ArchiveDir != "" {
			archive := storage.New(cfg.ArchiveDir)
			if err := archive.Start(); err != nil {
				return nil, cleanup, fmt.Errorf("failed to start archive: %w", err)
			}
			closers = append(closers, func() {
				if err := archive.Stop(); err != nil {
					logrus.WithError(err).Warn("Error closing archive")
				}
			})
			opts = append(opts, gateway.WithArchive(archive))
		}
	}

	if cfg.RedisAddr != "" {
		cache, err := redis.New(cfg.RedisAddr)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, running without sample cache")
		} else {
			closers = append(closers, func() {
				if err := cache.Close(); err != nil {
					logrus.WithError(err).Warn("Error closing Redis client")
				}
			})
			opts = append(opts, gateway.WithCache(cache))
		}
	}

	return opts, cleanup, nil
}

// subscribeRemote feeds samples relayed by a standalone gateway into gw
func subscribeRemote(ctx context.Context, client *nats.Client, gw *gateway.Gateway) error {
	return client.SubscribeSamples(func(msg *nats.SampleMessage) {
		gw.Accept(ctx, msg.Source, msg.Sample, nil)
	})
}

func openStore(ctx context.Context, url string) (*db.Client, error) {
	if url == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	client, err := db.New(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.New(client.DB()).Migrate(ctx, migrations.All()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return client, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	store, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Error closing database")
		}
	}()

	st := stats.New()
	opts, cleanup, err := sourceOptions(cfg, st)
	defer cleanup()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, store, st, opts...)
	if err != nil {
		return err
	}

	if cfg.NATSURL != "" {
		client, err := nats.New(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to create NATS client: %w", err)
		}
		defer client.Close()

		if err := subscribeRemote(ctx, client, a.gateway); err != nil {
			return fmt.Errorf("failed to subscribe to dongle samples: %w", err)
		}
		logrus.WithField("url", cfg.NATSURL).Info("Consuming dongle samples from NATS")
	}

	a.gateway.Start()
	defer a.stop()

	persistCtx, stopPersist := context.WithCancel(context.Background())
	persisted := make(chan struct{})
	go func() {
		a.stats.StartPersistence(persistCtx, cfg.StatsInterval)
		close(persisted)
	}()
	defer func() {
		stopPersist()
		<-persisted
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	return nil
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
		logrus.WithError(err).Error("Server failed")
		os.Exit(1)
	}
}
