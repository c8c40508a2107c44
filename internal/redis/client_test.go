package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/dongle-pairing/internal/testutils"
)

type mockRedis struct {
	data     map[string]string
	ttls     map[string]time.Duration
	setError error
	getError error
	closed   bool
}

func newMockRedis() *mockRedis {
	return &mockRedis{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (m *mockRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if m.setError != nil {
		return redis.NewStatusResult("", m.setError)
	}
	m.data[key] = string(value.([]byte))
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getError != nil {
		return redis.NewStringResult("", m.getError)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockRedis) Close() error {
	m.closed = true
	return nil
}

func TestNew_InvalidAddress(t *testing.T) {
	client, err := New("invalid:address:12345")
	if err == nil {
		client.Close()
		t.Fatal("New() should fail with invalid address")
	}
	if client != nil {
		t.Error("New() should return nil client on error")
	}
}

func TestClient_Close(t *testing.T) {
	mock := newMockRedis()
	client := NewWithClient(mock)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !mock.closed {
		t.Error("Expected underlying client to be closed")
	}

	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Expected nil-safe Close, got %v", err)
	}
}

func TestClient_LastSample(t *testing.T) {
	mock := newMockRedis()
	client := NewWithClient(mock)
	ctx := context.Background()

	last, err := client.GetLastSample(ctx)
	if err != nil {
		t.Fatalf("GetLastSample() failed: %v", err)
	}
	if last != nil {
		t.Error("Expected nil before anything is stored")
	}

	receivedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	err = client.StoreLastSample(ctx, &LastSample{
		Source:     "mqtt",
		ReceivedAt: receivedAt,
		Sample:     testutils.MockSample("ABC123", 33.89, 35.5),
	})
	if err != nil {
		t.Fatalf("StoreLastSample() failed: %v", err)
	}
	if mock.ttls[keyLastSample] != lastSampleTTL {
		t.Errorf("Expected TTL %v, got %v", lastSampleTTL, mock.ttls[keyLastSample])
	}

	last, err = client.GetLastSample(ctx)
	if err != nil {
		t.Fatalf("GetLastSample() failed: %v", err)
	}
	if last == nil || last.Sample.BatchID != "ABC123" || last.Source != "mqtt" {
		t.Fatalf("Unexpected last sample %+v", last)
	}
	if !last.ReceivedAt.Equal(receivedAt) {
		t.Errorf("Expected receivedAt %v, got %v", receivedAt, last.ReceivedAt)
	}
}

func TestClient_SourceStatus(t *testing.T) {
	client := NewWithClient(newMockRedis())
	ctx := context.Background()

	if err := client.SetSourceStatus(ctx, &SourceStatus{Source: "serial", Connected: true}); err != nil {
		t.Fatalf("SetSourceStatus() failed: %v", err)
	}

	status, err := client.GetSourceStatus(ctx, "serial")
	if err != nil {
		t.Fatalf("GetSourceStatus() failed: %v", err)
	}
	if status == nil || !status.Connected {
		t.Errorf("Expected serial to be connected, got %+v", status)
	}

	unknown, err := client.GetSourceStatus(ctx, "mqtt")
	if err != nil || unknown != nil {
		t.Errorf("Expected nil status for unknown source, got %+v, %v", unknown, err)
	}

	if err := client.DeleteSourceStatus(ctx, "serial"); err != nil {
		t.Fatalf("DeleteSourceStatus() failed: %v", err)
	}
	if status, _ := client.GetSourceStatus(ctx, "serial"); status != nil {
		t.Error("Expected status to be deleted")
	}
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	mock := newMockRedis()
	mock.setError = boom
	client := NewWithClient(mock)
	if err := client.StoreLastSample(ctx, &LastSample{Source: "serial"}); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped set error, got %v", err)
	}

	mock = newMockRedis()
	mock.getError = boom
	client = NewWithClient(mock)
	if _, err := client.GetLastSample(ctx); !errors.Is(err, boom) {
		t.Errorf("Expected wrapped get error, got %v", err)
	}

	mock = newMockRedis()
	mock.data[keyLastSample] = "{not json"
	client = NewWithClient(mock)
	if _, err := client.GetLastSample(ctx); err == nil {
		t.Error("Expected unmarshal error")
	}
}
