package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

// Store persists statistics snapshots
type Store interface {
	StoreGatewayStats(ctx context.Context, stats *types.GatewayStats) error
}

// HubGauge reports live fan-out state
type HubGauge interface {
	Subscribers() int
	Dropped() uint64
}

// SessionGauge reports how many pairing sessions are listening
type SessionGauge interface {
	Active() int
}

// Stats tracks gateway and pairing counters
type Stats struct {
	// Ingestion
	FramesSeen      uint64
	SamplesAccepted uint64
	SamplesRejected uint64
	SerialSamples   uint64
	MQTTSamples     uint64
	InjectedSamples uint64
	MQTTDropped     uint64

	// Fan-out
	Broadcasts uint64
	Deliveries uint64

	// Pairing
	SessionsStarted  uint64
	SessionsPaired   uint64
	SessionsTimedOut uint64

	startedAt      time.Time
	lastSampleTime time.Time

	hub      HubGauge
	sessions SessionGauge

	store Store
	mu    sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	return &Stats{startedAt: time.Now()}
}

// SetStore sets the store used by Persist
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// SetHub samples subscriber and drop counts from h on every snapshot
func (s *Stats) SetHub(h HubGauge) {
	s.mu.Lock()
	s.hub = h
	s.mu.Unlock()
}

// SetSessions samples the active session count from g on every snapshot
func (s *Stats) SetSessions(g SessionGauge) {
	s.mu.Lock()
	s.sessions = g
	s.mu.Unlock()
}

// Persist stores the current snapshot
func (s *Stats) Persist(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("stats store not set")
	}

	return store.StoreGatewayStats(ctx, s.Snapshot())
}

// IncrementFramesSeen counts a closed serial frame, valid or not
func (s *Stats) IncrementFramesSeen() {
	atomic.AddUint64(&s.FramesSeen, 1)
}

// IncrementRejected counts a transmission discarded for lacking a batch id or position
func (s *Stats) IncrementRejected() {
	atomic.AddUint64(&s.SamplesRejected, 1)
}

// IncrementMQTTDropped counts a decoded MQTT sample lost to a full buffer
func (s *Stats) IncrementMQTTDropped() {
	atomic.AddUint64(&s.MQTTDropped, 1)
}

// IncrementAccepted counts an accepted sample from the given source
func (s *Stats) IncrementAccepted(source string) {
	atomic.AddUint64(&s.SamplesAccepted, 1)
	switch source {
	case types.SourceSerial:
		atomic.AddUint64(&s.SerialSamples, 1)
	case types.SourceMQTT:
		atomic.AddUint64(&s.MQTTSamples, 1)
	case types.SourceInject:
		atomic.AddUint64(&s.InjectedSamples, 1)
	}

	s.mu.Lock()
	s.lastSampleTime = time.Now()
	s.mu.Unlock()
}

// RecordBroadcast counts one publish and the number of subscribers that got it
func (s *Stats) RecordBroadcast(delivered int) {
	atomic.AddUint64(&s.Broadcasts, 1)
	if delivered > 0 {
		atomic.AddUint64(&s.Deliveries, uint64(delivered))
	}
}

// IncrementSessionsStarted counts a new pairing session
func (s *Stats) IncrementSessionsStarted() {
	atomic.AddUint64(&s.SessionsStarted, 1)
}

// IncrementSessionsPaired counts a session that bound a sample
func (s *Stats) IncrementSessionsPaired() {
	atomic.AddUint64(&s.SessionsPaired, 1)
}

// IncrementSessionsTimedOut counts a session that expired
func (s *Stats) IncrementSessionsTimedOut() {
	atomic.AddUint64(&s.SessionsTimedOut, 1)
}

// Snapshot returns a copy of the current counters
func (s *Stats) Snapshot() *types.GatewayStats {
	s.mu.RLock()
	last := s.lastSampleTime
	hub, sessions := s.hub, s.sessions
	s.mu.RUnlock()

	snap := &types.GatewayStats{
		RecordedAt:       time.Now(),
		FramesSeen:       atomic.LoadUint64(&s.FramesSeen),
		SamplesAccepted:  atomic.LoadUint64(&s.SamplesAccepted),
		SamplesRejected:  atomic.LoadUint64(&s.SamplesRejected),
		SerialSamples:    atomic.LoadUint64(&s.SerialSamples),
		MQTTSamples:      atomic.LoadUint64(&s.MQTTSamples),
		InjectedSamples:  atomic.LoadUint64(&s.InjectedSamples),
		MQTTDropped:      atomic.LoadUint64(&s.MQTTDropped),
		Broadcasts:       atomic.LoadUint64(&s.Broadcasts),
		Deliveries:       atomic.LoadUint64(&s.Deliveries),
		SessionsStarted:  atomic.LoadUint64(&s.SessionsStarted),
		SessionsPaired:   atomic.LoadUint64(&s.SessionsPaired),
		SessionsTimedOut: atomic.LoadUint64(&s.SessionsTimedOut),
		Uptime:           time.Since(s.startedAt),
	}
	if !last.IsZero() {
		snap.LastSampleTime = &last
	}
	if hub != nil {
		snap.Subscribers = hub.Subscribers()
		snap.HubDropped = hub.Dropped()
	}
	if sessions != nil {
		snap.ActiveSessions = sessions.Active()
	}
	return snap
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"Frames Seen: %d\n"+
			"Samples Accepted: %d (serial %d, mqtt %d, injected %d)\n"+
			"Samples Rejected: %d (mqtt buffer drops %d)\n"+
			"Broadcasts: %d (deliveries %d, %d subscribers, %d dropped)\n"+
			"Sessions: %d started, %d paired, %d timed out, %d active\n"+
			"Uptime: %s",
		snap.FramesSeen,
		snap.SamplesAccepted, snap.SerialSamples, snap.MQTTSamples, snap.InjectedSamples,
		snap.SamplesRejected, snap.MQTTDropped,
		snap.Broadcasts, snap.Deliveries, snap.Subscribers, snap.HubDropped,
		snap.SessionsStarted, snap.SessionsPaired, snap.SessionsTimedOut, snap.ActiveSessions,
		snap.Uptime.Round(time.Second),
	)
}

// StartPersistence persists a snapshot every interval until ctx is done,
// then once more before returning.
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Persist(final); err != nil {
				logrus.WithError(err).Warn("Failed to persist final statistics")
			}
			cancel()
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil {
				logrus.WithError(err).Warn("Failed to persist statistics")
			}
		}
	}
}
