package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	// ReconnectInterval is the fixed wait between connection attempts
	ReconnectInterval = 5 * time.Second
	// KeepAlive is the MQTT keep-alive period
	KeepAlive = 30 * time.Second

	connectWait = 5 * time.Second
)

// Message is one decoded MQTT transmission
type Message struct {
	Sample    *types.RawSample
	Payload   []byte
	Timestamp time.Time
}

// Config describes the broker subscription
type Config struct {
	Broker   string
	ClientID string
	Topic    string

	// Observer, when set, is told about every discarded payload
	Observer Observer
}

// Observer counts payloads the listener discards
type Observer interface {
	IncrementRejected()
	IncrementMQTTDropped()
}

// Listener subscribes to the dongle topic and emits decoded samples
type Listener struct {
	cfg       Config
	newClient func(*paho.ClientOptions) paho.Client
	client    paho.Client

	messages chan Message
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewListener creates a Listener for cfg
func NewListener(cfg Config) *Listener {
	return &Listener{
		cfg:       cfg,
		newClient: paho.NewClient,
		messages:  make(chan Message, 100),
		stopChan:  make(chan struct{}),
	}
}

// DecodePayload decodes a JSON RawSample and rejects it when it lacks a batch id or position
func DecodePayload(payload []byte) (*types.RawSample, error) {
	var sample types.RawSample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if !sample.Valid() {
		return nil, fmt.Errorf("payload without batch id or position")
	}
	return &sample, nil
}

// Options builds the paho client options
func (l *Listener) Options() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(l.cfg.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetKeepAlive(KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(ReconnectInterval).
		SetMaxReconnectInterval(ReconnectInterval)

	opts.SetOnConnectHandler(l.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logrus.WithError(err).WithField("broker", l.cfg.Broker).Warn("MQTT connection lost, reconnecting")
	})
	return opts
}

// Start connects in the background. An unreachable broker is not an error;
// the client keeps retrying at ReconnectInterval.
func (l *Listener) Start() {
	l.client = l.newClient(l.Options())

	token := l.client.Connect()
	if !token.WaitTimeout(connectWait) {
		logrus.WithField("broker", l.cfg.Broker).Warn("MQTT broker not reachable yet, retrying in background")
		return
	}
	if err := token.Error(); err != nil {
		logrus.WithError(err).WithField("broker", l.cfg.Broker).Warn("MQTT connect failed, retrying in background")
	}
}

// Stop disconnects from the broker. The Messages channel is not closed.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
		if l.client != nil {
			l.client.Disconnect(250)
		}
	})
}

// Messages returns the channel of decoded samples
func (l *Listener) Messages() <-chan Message {
	return l.messages
}

// Connected reports whether the broker connection is up
func (l *Listener) Connected() bool {
	return l.client != nil && l.client.IsConnectionOpen()
}

func (l *Listener) onConnect(client paho.Client) {
	log := logrus.WithFields(logrus.Fields{"broker": l.cfg.Broker, "topic": l.cfg.Topic})
	token := client.Subscribe(l.cfg.Topic, 1, l.handleMessage)
	if token.WaitTimeout(connectWait) && token.Error() != nil {
		log.WithError(token.Error()).Error("MQTT subscribe failed")
		return
	}
	log.Info("Subscribed to dongle topic")
}

func (l *Listener) handleMessage(_ paho.Client, msg paho.Message) {
	sample, err := DecodePayload(msg.Payload())
	if err != nil {
		if l.cfg.Observer != nil {
			l.cfg.Observer.IncrementRejected()
		}
		logrus.WithError(err).WithField("topic", msg.Topic()).Warn("Discarding MQTT payload")
		return
	}

	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	select {
	case l.messages <- Message{Sample: sample, Payload: payload, Timestamp: time.Now()}:
	case <-l.stopChan:
	default:
		if l.cfg.Observer != nil {
			l.cfg.Observer.IncrementMQTTDropped()
		}
		logrus.WithField("batchId", sample.BatchID).Warn("MQTT message buffer full, dropping sample")
	}
}
