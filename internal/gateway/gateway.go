package gateway

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/dongle-pairing/internal/capture"
	"github.com/saviobatista/dongle-pairing/internal/mqtt"
	"github.com/saviobatista/dongle-pairing/internal/normalizer"
	"github.com/saviobatista/dongle-pairing/internal/redis"
	"github.com/saviobatista/dongle-pairing/internal/stats"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	statusInterval = 30 * time.Second
	cacheTimeout   = 2 * time.Second
)

// Publisher fans a sample out to in-process listeners
type Publisher interface {
	Publish(s *types.RawSample) int
}

// Relay forwards accepted samples to other processes
type Relay interface {
	PublishSample(source string, sample *types.RawSample) error
	Connected() bool
}

// Cache keeps the last sample and source connectivity for other processes
type Cache interface {
	StoreLastSample(ctx context.Context, last *redis.LastSample) error
	GetLastSample(ctx context.Context) (*redis.LastSample, error)
	SetSourceStatus(ctx context.Context, status *redis.SourceStatus) error
	GetSourceStatus(ctx context.Context, source string) (*redis.SourceStatus, error)
	DeleteSourceStatus(ctx context.Context, source string) error
}

// Archiver records raw transmissions
type Archiver interface {
	WriteRecord(source string, payload []byte) error
}

// Option configures a Gateway
type Option func(*Gateway)

// WithSerial attaches a serial source
func WithSerial(c *capture.Capture) Option {
	return func(g *Gateway) { g.serial = c }
}

// WithMQTT attaches an MQTT source
func WithMQTT(l *mqtt.Listener) Option {
	return func(g *Gateway) { g.mqtt = l }
}

// WithRelay forwards every accepted sample, e.g. over NATS
func WithRelay(r Relay) Option {
	return func(g *Gateway) { g.relay = r }
}

// WithCache mirrors gateway state into a shared cache
func WithCache(c Cache) Option {
	return func(g *Gateway) { g.cache = c }
}

// WithArchive records every raw transmission
func WithArchive(a Archiver) Option {
	return func(g *Gateway) { g.archive = a }
}

// WithStats sets the counters the gateway reports into
func WithStats(s *stats.Stats) Option {
	return func(g *Gateway) { g.stats = s }
}

// WithNormalizer sets the normalizer used by Inject
func WithNormalizer(n *normalizer.Normalizer) Option {
	return func(g *Gateway) { g.norm = n }
}

// Status describes the gateway inputs and counters
type Status struct {
	SerialEnabled   bool                `json:"serialEnabled"`
	SerialConnected bool                `json:"serialConnected"`
	MQTTEnabled     bool                `json:"mqttEnabled"`
	MQTTConnected   bool                `json:"mqttConnected"`
	RelayEnabled    bool                `json:"relayEnabled"`
	RelayConnected  bool                `json:"relayConnected"`
	Stats           *types.GatewayStats `json:"stats"`

	// Sources holds the connectivity last reported to the shared cache by
	// whichever process owns each dongle input.
	Sources []redis.SourceStatus `json:"sources,omitempty"`
}

// Gateway owns the dongle inputs and runs every accepted sample through the
// same step: count, archive, cache, relay, then broadcast.
type Gateway struct {
	hub     Publisher
	serial  *capture.Capture
	mqtt    *mqtt.Listener
	relay   Relay
	cache   Cache
	archive Archiver
	stats   *stats.Stats
	norm    *normalizer.Normalizer

	now       func() time.Time
	startedAt time.Time
	injected  atomic.Uint64

	randMu sync.Mutex
	rand   *rand.Rand

	lastMu sync.RWMutex
	last   *redis.LastSample

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Gateway publishing to hub. hub may be nil when samples are
// only relayed.
func New(hub Publisher, opts ...Option) *Gateway {
	g := &Gateway{
		hub:       hub,
		now:       time.Now,
		startedAt: time.Now(),
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.stats == nil {
		g.stats = stats.New()
	}
	if g.norm == nil {
		g.norm = normalizer.New(nil)
	}
	return g
}

// Stats returns the gateway counters
func (g *Gateway) Stats() *stats.Stats {
	return g.stats
}

// Start starts every configured source. Sources that cannot connect keep
// retrying in the background.
func (g *Gateway) Start() {
	if g.serial != nil {
		g.serial.Start()
		g.wg.Add(1)
		go g.consumeSerial()
	}
	if g.mqtt != nil {
		g.mqtt.Start()
		g.wg.Add(1)
		go g.consumeMQTT()
	}
	if g.cache != nil {
		g.wg.Add(1)
		go g.reportSources()
	}
	logrus.WithFields(logrus.Fields{
		"serial": g.serial != nil,
		"mqtt":   g.mqtt != nil,
		"relay":  g.relay != nil,
	}).Info("Gateway started")
}

// Stop stops every source and waits for the consumers to finish
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopChan)
		if g.serial != nil {
			g.serial.Stop()
		}
		if g.mqtt != nil {
			g.mqtt.Stop()
		}
		g.wg.Wait()
		if g.cache != nil {
			g.clearSourceStatus()
		}
		logrus.Info("Gateway stopped")
	})
}

func (g *Gateway) consumeSerial() {
	defer g.wg.Done()
	for frame := range g.serial.Frames() {
		g.Accept(context.Background(), types.SourceSerial, frame.Sample, []byte(frame.Transcript))
	}
}

func (g *Gateway) consumeMQTT() {
	defer g.wg.Done()
	for {
		select {
		case msg := <-g.mqtt.Messages():
			g.Accept(context.Background(), types.SourceMQTT, msg.Sample, msg.Payload)
		case <-g.stopChan:
			return
		}
	}
}

// Accept runs one sample through the broadcast step and returns how many
// in-process listeners received it. Invalid samples are counted and dropped.
func (g *Gateway) Accept(ctx context.Context, source string, sample *types.RawSample, raw []byte) int {
	if !sample.Valid() {
		g.stats.IncrementRejected()
		return 0
	}
	g.stats.IncrementAccepted(source)

	log := logrus.WithFields(logrus.Fields{
		"source":   source,
		"batch_id": sample.BatchID,
	})

	if g.archive != nil && len(raw) > 0 {
		if err := g.archive.WriteRecord(source, raw); err != nil {
			log.WithError(err).Warn("Failed to archive transmission")
		}
	}

	last := &redis.LastSample{Source: source, ReceivedAt: g.now().UTC(), Sample: sample}
	g.lastMu.Lock()
	g.last = last
	g.lastMu.Unlock()

	if g.cache != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		if err := g.cache.StoreLastSample(cctx, last); err != nil {
			log.WithError(err).Warn("Failed to cache last sample")
		}
		cancel()
	}

	if g.relay != nil {
		if err := g.relay.PublishSample(source, sample); err != nil {
			log.WithError(err).Warn("Failed to relay sample")
		}
	}

	delivered := 0
	if g.hub != nil {
		delivered = g.hub.Publish(sample)
		g.stats.RecordBroadcast(delivered)
	}

	log.WithField("delivered", delivered).Debug("Sample accepted")
	return delivered
}

// Inject synthesizes a plausible dongle sample, runs it through Accept and
// returns it with its normalized fix.
func (g *Gateway) Inject(ctx context.Context) (*types.RawSample, types.GpsFix) {
	sample := g.synthesize()
	payload, err := json.Marshal(sample)
	if err != nil {
		logrus.WithError(err).Warn("Failed to encode injected sample")
	}

	g.Accept(ctx, types.SourceInject, sample, payload)
	return sample, g.norm.Normalize(sample, types.SyncMethodDongle)
}

func (g *Gateway) synthesize() *types.RawSample {
	g.randMu.Lock()
	jitter := func(spread float64) float64 { return (g.rand.Float64()*2 - 1) * spread }
	lat := 33.89 + jitter(0.01)
	lon := 35.50 + jitter(0.01)
	alt := 50 + jitter(5)
	ax, ay, az := jitter(0.05), jitter(0.05), 9.81+jitter(0.05)
	gx, gy, gz := jitter(0.5), jitter(0.5), jitter(0.5)
	temp := 22 + jitter(1)
	g.randMu.Unlock()

	now := g.now().In(g.norm.Location)
	date := now.Year()*10000 + int(now.Month())*100 + now.Day()
	hms := now.Hour()*10000 + now.Minute()*100 + now.Second()
	msec := now.Nanosecond() / int(time.Millisecond)
	var sessionMs uint64
	if elapsed := now.Sub(g.startedAt); elapsed > 0 {
		sessionMs = uint64(elapsed.Milliseconds())
	}
	count := g.injected.Add(1)
	sats := uint64(10)
	fix := 1

	return &types.RawSample{
		BatchID:        strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6]),
		SessionMs:      &sessionMs,
		SampleCount:    &count,
		DateYMD:        &date,
		TimeHMS:        &hms,
		Msec:           &msec,
		Lat:            &lat,
		Lon:            &lon,
		Alt:            &alt,
		GPSFix:         &fix,
		SatelliteCount: &sats,
		AccelX:         &ax,
		AccelY:         &ay,
		AccelZ:         &az,
		GyroX:          &gx,
		GyroY:          &gy,
		GyroZ:          &gz,
		TemperatureC:   &temp,
	}
}

// Status reports source connectivity and a counter snapshot. With a cache
// configured it also reports the cached status of every dongle input.
func (g *Gateway) Status(ctx context.Context) Status {
	st := g.localStatus()
	if g.cache == nil {
		return st
	}

	for _, source := range []string{types.SourceSerial, types.SourceMQTT} {
		cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
		cached, err := g.cache.GetSourceStatus(cctx, source)
		cancel()
		if err != nil {
			logrus.WithError(err).WithField("source", source).Warn("Failed to read cached source status")
			continue
		}
		if cached != nil {
			st.Sources = append(st.Sources, *cached)
		}
	}
	return st
}

func (g *Gateway) localStatus() Status {
	st := Status{
		SerialEnabled: g.serial != nil,
		MQTTEnabled:   g.mqtt != nil,
		RelayEnabled:  g.relay != nil,
		Stats:         g.stats.Snapshot(),
	}
	if g.serial != nil {
		st.SerialConnected = g.serial.Connected()
	}
	if g.mqtt != nil {
		st.MQTTConnected = g.mqtt.Connected()
	}
	if g.relay != nil {
		st.RelayConnected = g.relay.Connected()
	}
	return st
}

// LastSample returns the most recent accepted sample, preferring the shared
// cache so that a process without local sources still sees one.
func (g *Gateway) LastSample(ctx context.Context) (*redis.LastSample, error) {
	if g.cache != nil {
		last, err := g.cache.GetLastSample(ctx)
		if err != nil {
			return nil, err
		}
		if last != nil {
			return last, nil
		}
	}

	g.lastMu.RLock()
	defer g.lastMu.RUnlock()
	return g.last, nil
}

func (g *Gateway) reportSources() {
	defer g.wg.Done()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		g.publishSourceStatus()
		select {
		case <-ticker.C:
		case <-g.stopChan:
			return
		}
	}
}

func (g *Gateway) publishSourceStatus() {
	st := g.localStatus()
	now := g.now().UTC()

	var statuses []*redis.SourceStatus
	if st.SerialEnabled {
		statuses = append(statuses, &redis.SourceStatus{Source: types.SourceSerial, Connected: st.SerialConnected, UpdatedAt: now})
	}
	if st.MQTTEnabled {
		statuses = append(statuses, &redis.SourceStatus{Source: types.SourceMQTT, Connected: st.MQTTConnected, UpdatedAt: now})
	}

	for _, s := range statuses {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		if err := g.cache.SetSourceStatus(ctx, s); err != nil {
			logrus.WithError(err).WithField("source", s.Source).Warn("Failed to cache source status")
		}
		cancel()
	}
}

// clearSourceStatus drops the cached status of the local inputs so that
// readers stop seeing them once this gateway is gone.
func (g *Gateway) clearSourceStatus() {
	var sources []string
	if g.serial != nil {
		sources = append(sources, types.SourceSerial)
	}
	if g.mqtt != nil {
		sources = append(sources, types.SourceMQTT)
	}

	for _, source := range sources {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		if err := g.cache.DeleteSourceStatus(ctx, source); err != nil {
			logrus.WithError(err).WithField("source", source).Warn("Failed to clear source status")
		}
		cancel()
	}
}
