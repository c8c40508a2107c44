package mqtt

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeClient struct {
	mu           sync.Mutex
	opts         *paho.ClientOptions
	connected    bool
	subscribed   string
	qos          byte
	handler      paho.MessageHandler
	subscribeErr error
	disconnected bool
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }
func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return &fakeToken{}
}
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnected = true
	c.mu.Unlock()
}
func (c *fakeClient) Publish(string, byte, bool, interface{}) paho.Token { return &fakeToken{} }
func (c *fakeClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed, c.qos, c.handler = topic, qos, cb
	return &fakeToken{err: c.subscribeErr}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(...string) paho.Token        { return &fakeToken{} }
func (c *fakeClient) AddRoute(string, paho.MessageHandler)    {}
func (c *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.NewOptionsReader(c.opts) }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestListener() (*Listener, *fakeClient) {
	l := NewListener(Config{Broker: "tcp://broker:1883", ClientID: "dongle-gateway", Topic: "dongle/data"})
	fake := &fakeClient{}
	l.newClient = func(opts *paho.ClientOptions) paho.Client {
		fake.opts = opts
		return fake
	}
	return l, fake
}

func TestDecodePayload(t *testing.T) {
	sample, err := DecodePayload([]byte(`{"batchId":"ABC123","lat":33.89,"lon":35.5,"satelliteCount":10,"gyroX":0}`))
	if err != nil {
		t.Fatalf("DecodePayload() failed: %v", err)
	}
	if sample.BatchID != "ABC123" || *sample.Lat != 33.89 || *sample.Lon != 35.5 {
		t.Errorf("Unexpected sample %+v", sample)
	}
	if sample.SatelliteCount == nil || *sample.SatelliteCount != 10 {
		t.Errorf("Expected 10 satellites, got %v", sample.SatelliteCount)
	}
	if sample.GyroX == nil || sample.GyroY != nil {
		t.Error("Expected present zero gyroX to be set and absent gyroY to stay nil")
	}
}

func TestDecodePayload_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: "Batch: 0xABC123"},
		{name: "empty object", payload: "{}"},
		{name: "missing batch", payload: `{"lat":1,"lon":2}`},
		{name: "empty batch", payload: `{"batchId":"","lat":1,"lon":2}`},
		{name: "missing lat", payload: `{"batchId":"A","lon":2}`},
		{name: "wrong type", payload: `{"batchId":"A","lat":"north","lon":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayload([]byte(tt.payload)); err == nil {
				t.Error("Expected error, got none")
			}
		})
	}
}

func TestListener_Options(t *testing.T) {
	l := NewListener(Config{Broker: "tcp://broker:1883", ClientID: "dongle-gateway", Topic: "dongle/data"})
	opts := l.Options()

	if opts.ClientID != "dongle-gateway" {
		t.Errorf("Expected client id dongle-gateway, got %s", opts.ClientID)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker:1883" {
		t.Errorf("Unexpected servers %v", opts.Servers)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("Expected auto reconnect and connect retry to be enabled")
	}
	if opts.ConnectRetryInterval != ReconnectInterval || opts.MaxReconnectInterval != ReconnectInterval {
		t.Errorf("Expected fixed %v reconnect interval, got %v/%v", ReconnectInterval, opts.ConnectRetryInterval, opts.MaxReconnectInterval)
	}
	if opts.KeepAlive != int64(KeepAlive/time.Second) {
		t.Errorf("Expected keep-alive %v, got %ds", KeepAlive, opts.KeepAlive)
	}
}

func TestListener_StartSubscribesOnConnect(t *testing.T) {
	l, fake := newTestListener()
	l.Start()
	defer l.Stop()

	if fake.subscribed != "dongle/data" || fake.qos != 1 {
		t.Errorf("Expected subscription to dongle/data at qos 1, got %s/%d", fake.subscribed, fake.qos)
	}
	if !l.Connected() {
		t.Error("Expected listener to report connected")
	}

	fake.handler(fake, &fakeMessage{topic: "dongle/data", payload: []byte(`{"batchId":"ABC123","lat":33.89,"lon":35.5}`)})

	select {
	case msg := <-l.Messages():
		if msg.Sample.BatchID != "ABC123" {
			t.Errorf("Expected batch ABC123, got %s", msg.Sample.BatchID)
		}
		if string(msg.Payload) != `{"batchId":"ABC123","lat":33.89,"lon":35.5}` {
			t.Errorf("Unexpected raw payload %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a decoded message")
	}
}

func TestListener_SubscribeFailureIsLogged(t *testing.T) {
	l, fake := newTestListener()
	fake.subscribeErr = errors.New("not authorized")

	l.Start()
	defer l.Stop()

	if !l.Connected() {
		t.Error("Expected the connection to stay up after a failed subscribe")
	}
}

func TestListener_InvalidPayloadsAreDropped(t *testing.T) {
	observer := &countingObserver{}
	l, fake := newTestListener()
	l.cfg.Observer = observer
	l.Start()
	defer l.Stop()

	fake.handler(fake, &fakeMessage{topic: "dongle/data", payload: []byte(`{"lat":1,"lon":2}`)})
	fake.handler(fake, &fakeMessage{topic: "dongle/data", payload: []byte(`garbage`)})

	select {
	case msg := <-l.Messages():
		t.Fatalf("Expected no message, got %+v", msg)
	default:
	}

	if observer.rejected.Load() != 2 {
		t.Errorf("Expected 2 rejected, got %d", observer.rejected.Load())
	}
}

func TestListener_FullBufferDrops(t *testing.T) {
	observer := &countingObserver{}
	l, fake := newTestListener()
	l.cfg.Observer = observer
	l.messages = make(chan Message, 1)
	l.Start()
	defer l.Stop()

	payload := []byte(`{"batchId":"A","lat":1,"lon":2}`)
	fake.handler(fake, &fakeMessage{topic: "dongle/data", payload: payload})
	fake.handler(fake, &fakeMessage{topic: "dongle/data", payload: payload})

	if observer.dropped.Load() != 1 {
		t.Errorf("Expected 1 dropped message, got %d", observer.dropped.Load())
	}
	if observer.rejected.Load() != 0 {
		t.Errorf("Expected no rejections, got %d", observer.rejected.Load())
	}
}

func TestListener_Stop(t *testing.T) {
	l, fake := newTestListener()
	l.Start()

	l.Stop()
	l.Stop()

	if !fake.disconnected {
		t.Error("Expected client to be disconnected")
	}
	if l.Connected() {
		t.Error("Expected listener to report disconnected")
	}

	if (&Listener{}).Connected() {
		t.Error("Expected unstarted listener to report disconnected")
	}
}

type countingObserver struct {
	rejected atomic.Int64
	dropped  atomic.Int64
}

func (o *countingObserver) IncrementRejected()    { o.rejected.Add(1) }
func (o *countingObserver) IncrementMQTTDropped() { o.dropped.Add(1) }

func TestListener_ReportsRejections(t *testing.T) {
	counter := &countingObserver{}
	l, fake := newTestListener()
	l.cfg.Observer = counter
	l.Start()
	defer l.Stop()

	fake.handler(fake, &fakeMessage{topic: "dongle/data", payload: []byte(`{"batchId":"ABC123"}`)})
	fake.handler(fake, &fakeMessage{topic: "dongle/data", payload: []byte(`{"batchId":"ABC123","lat":1,"lon":2}`)})

	if counter.rejected.Load() != 1 {
		t.Errorf("Expected 1 rejection, got %d", counter.rejected.Load())
	}
}
