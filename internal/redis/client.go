package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/saviobatista/dongle-pairing/internal/types"
)

const (
	keyLastSample   = "dongle:last_sample"
	keySourcePrefix = "dongle:source:"

	lastSampleTTL   = 24 * time.Hour
	sourceStatusTTL = 10 * time.Minute
)

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// LastSample is the most recent sample accepted by the gateway
type LastSample struct {
	Source     string           `json:"source"`
	ReceivedAt time.Time        `json:"receivedAt"`
	Sample     *types.RawSample `json:"sample"`
}

// SourceStatus is the connectivity of one gateway input
type SourceStatus struct {
	Source    string    `json:"source"`
	Connected bool      `json:"connected"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Client caches gateway state so that other processes can report it
type Client struct {
	client RedisClientInterface
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// StoreLastSample records the most recently accepted sample
func (c *Client) StoreLastSample(ctx context.Context, last *LastSample) error {
	return c.setData(ctx, keyLastSample, last, lastSampleTTL, "last sample")
}

// GetLastSample returns the most recent sample, or nil when none is cached
func (c *Client) GetLastSample(ctx context.Context) (*LastSample, error) {
	var last LastSample
	found, err := c.getData(ctx, keyLastSample, &last, "last sample")
	if err != nil || !found {
		return nil, err
	}
	return &last, nil
}

// SetSourceStatus records whether a gateway input is connected
func (c *Client) SetSourceStatus(ctx context.Context, status *SourceStatus) error {
	return c.setData(ctx, keySourcePrefix+status.Source, status, sourceStatusTTL, "source status")
}

// GetSourceStatus returns the cached status of a source, or nil when unknown
func (c *Client) GetSourceStatus(ctx context.Context, source string) (*SourceStatus, error) {
	var status SourceStatus
	found, err := c.getData(ctx, keySourcePrefix+source, &status, "source status")
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

// DeleteSourceStatus removes the cached status of a source
func (c *Client) DeleteSourceStatus(ctx context.Context, source string) error {
	return c.client.Del(ctx, keySourcePrefix+source).Err()
}

func (c *Client) setData(ctx context.Context, key string, value interface{}, ttl time.Duration, dataType string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", dataType, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", dataType, err)
	}
	return nil
}

// getData retrieves data from Redis and unmarshals it into the target
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}

	return true, nil
}
