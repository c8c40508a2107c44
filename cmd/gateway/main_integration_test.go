package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/config"
	"github.com/saviobatista/dongle-pairing/internal/storage"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRun_Integration_StartsAndStops(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := natscontainer.Run(ctx, "nats:2.9-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}

	archiveDir := t.TempDir()
	cfg := &config.Config{
		NATSURL:       url,
		ArchiveDir:    archiveDir,
		StatsInterval: time.Minute,
	}

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- run(runCtx, cfg) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Expected run to return after cancel")
	}

	if _, err := os.Stat(filepath.Join(archiveDir, storage.FileName(time.Now()))); err != nil {
		t.Errorf("Expected today's archive file to exist: %v", err)
	}
}
