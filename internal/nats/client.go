package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	// SubjectDongleSamples carries every accepted dongle sample
	SubjectDongleSamples = "dongle.samples"
)

// SampleMessage is the wire envelope for a sample relayed between processes
type SampleMessage struct {
	Source     string           `json:"source"`
	ReceivedAt time.Time        `json:"receivedAt"`
	Sample     *types.RawSample `json:"sample"`
}

// Client relays dongle samples over core NATS. Samples are fan-out events,
// so a subscriber that is not connected simply misses them.
type Client struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

// New connects to the NATS server at url
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("dongle-pairing"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logrus.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logrus.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: nc}, nil
}

// Encode marshals a sample into its wire envelope
func Encode(source string, sample *types.RawSample, receivedAt time.Time) ([]byte, error) {
	data, err := json.Marshal(SampleMessage{Source: source, ReceivedAt: receivedAt, Sample: sample})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sample: %w", err)
	}
	return data, nil
}

// Decode unmarshals a wire envelope and rejects samples that are not valid
func Decode(data []byte) (*SampleMessage, error) {
	var msg SampleMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	if !msg.Sample.Valid() {
		return nil, fmt.Errorf("sample without batch id or position")
	}
	return &msg, nil
}

// PublishSample publishes an accepted sample
func (c *Client) PublishSample(source string, sample *types.RawSample) error {
	data, err := Encode(source, sample, time.Now())
	if err != nil {
		return err
	}

	if err := c.conn.Publish(SubjectDongleSamples, data); err != nil {
		return fmt.Errorf("failed to publish sample: %w", err)
	}

	return nil
}

// SubscribeSamples calls handler for every sample published on the bus
func (c *Client) SubscribeSamples(handler func(*SampleMessage)) error {
	sub, err := c.conn.Subscribe(SubjectDongleSamples, func(msg *nats.Msg) {
		sample, err := Decode(msg.Data)
		if err != nil {
			logrus.WithError(err).Warn("Dropping malformed sample from NATS")
			return
		}
		handler(sample)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.subs = append(c.subs, sub)
	return nil
}

// Flush waits until the server has processed all buffered publishes
func (c *Client) Flush() error {
	return c.conn.Flush()
}

// Connected reports whether the connection is currently up
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains subscriptions and closes the connection
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
