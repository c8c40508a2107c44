package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/dongle-pairing/internal/db/migrations"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:14-alpine",
		postgres.WithDatabase("dongle_pairing"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get PostgreSQL connection string: %v", err)
	}

	client, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Database ping failed: %v", err)
	}

	migrator := migrations.New(client.DB())
	if err := migrator.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize migrations: %v", err)
	}
	if _, err := migrator.Migrate(ctx, migrations.All()); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return client
}

func TestClient_Integration_PairingFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	session := &types.PairingSession{
		ID:        uuid.NewString(),
		OrgID:     "org-1",
		Status:    types.PairingWaiting,
		ExpiresAt: now.Add(60 * time.Second),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := client.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession() failed: %v", err)
	}

	lat, lon := 33.89, 35.50
	device := &types.Device{
		ID:            uuid.NewString(),
		OrgID:         "org-1",
		Name:          "Dongle ABC123",
		Status:        types.DeviceOffline,
		SetupComplete: true,
		GPSConfigured: true,
		Latitude:      &lat,
		Longitude:     &lon,
		GPSSyncMethod: types.SyncMethodDongle,
		DongleBatchID: "ABC123",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := client.CreateDevice(ctx, device); err != nil {
		t.Fatalf("CreateDevice() failed: %v", err)
	}

	ok, err := client.CompleteSession(ctx, session.ID, types.PairingPaired, &device.ID, now)
	if err != nil || !ok {
		t.Fatalf("Expected first completion to win, got %v %v", ok, err)
	}
	ok, err = client.CompleteSession(ctx, session.ID, types.PairingTimeout, nil, now)
	if err != nil || ok {
		t.Fatalf("Expected second completion to lose, got %v %v", ok, err)
	}

	stored, err := client.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if stored.Status != types.PairingPaired || stored.ResultDeviceID == nil || *stored.ResultDeviceID != device.ID {
		t.Errorf("Expected paired session bound to %s, got %+v", device.ID, stored)
	}

	if _, err := client.GetDeviceForOrg(ctx, device.ID, "org-2"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for foreign org, got %v", err)
	}
	if _, err := client.GetDeviceForOrg(ctx, "D1", "org-1"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for a non-UUID device id, got %v", err)
	}
	if _, err := client.GetSession(ctx, "no-such-session"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for a non-UUID session id, got %v", err)
	}
	if _, err := client.GetSession(ctx, uuid.NewString()); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for an unknown session id, got %v", err)
	}

	fix := types.GpsFix{Latitude: 40, Longitude: -70, AccuracyMeters: 5, SourceMethod: types.SyncMethodManual}
	if err := client.UpdateDeviceGPS(ctx, device.ID, fix, now); err != nil {
		t.Fatalf("UpdateDeviceGPS() failed: %v", err)
	}
	if err := client.InsertGpsLog(ctx, &types.GpsLog{
		ID: uuid.NewString(), DeviceID: device.ID, Latitude: 40, Longitude: -70,
		Accuracy: 5, SyncMethod: types.SyncMethodManual, Timestamp: now,
	}); err != nil {
		t.Fatalf("InsertGpsLog() failed: %v", err)
	}

	updated, err := client.GetDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("GetDevice() failed: %v", err)
	}
	if *updated.Latitude != 40 || updated.GPSSyncMethod != types.SyncMethodManual {
		t.Errorf("Expected manual fix at 40, got %v %s", *updated.Latitude, updated.GPSSyncMethod)
	}
	if updated.DongleBatchID != "ABC123" {
		t.Errorf("Expected dongle metadata to survive a manual sync, got %s", updated.DongleBatchID)
	}

	if err := client.StoreGatewayStats(ctx, &types.GatewayStats{RecordedAt: now, FramesSeen: 3, HubDropped: 2, ActiveSessions: 1}); err != nil {
		t.Errorf("StoreGatewayStats() failed: %v", err)
	}

	closed := errors.New("session closed")
	orphan := &types.Device{ID: uuid.NewString(), OrgID: "org-1", Status: types.DeviceOnline, CreatedAt: now, UpdatedAt: now}
	err = client.InTx(ctx, func(tx *Client) error {
		if err := tx.CreateDevice(ctx, orphan); err != nil {
			return err
		}
		return closed
	})
	if !errors.Is(err, closed) {
		t.Fatalf("Expected InTx to return the callback error, got %v", err)
	}
	if _, err := client.GetDevice(ctx, orphan.ID); err != ErrNotFound {
		t.Errorf("Expected rolled back device to be absent, got %v", err)
	}
}
