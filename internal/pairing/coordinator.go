package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/dongle-pairing/internal/broadcast"
	"github.com/saviobatista/dongle-pairing/internal/db"
	"github.com/saviobatista/dongle-pairing/internal/devices"
	"github.com/saviobatista/dongle-pairing/internal/normalizer"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

// SessionTimeout is how long a session waits for a dongle transmission
const SessionTimeout = 60 * time.Second

const storeTimeout = 10 * time.Second

var (
	ErrSessionNotFound = errors.New("pairing session not found")
	ErrDeviceNotFound  = errors.New("device not found")

	errSessionClosed = errors.New("session no longer waiting")
)

// Store is the session and device persistence the coordinator needs
type Store interface {
	CreateSession(ctx context.Context, s *types.PairingSession) error
	GetSession(ctx context.Context, id string) (*types.PairingSession, error)
	CompleteSession(ctx context.Context, id string, status types.PairingStatus, resultDeviceID *string, at time.Time) (bool, error)
	GetDevice(ctx context.Context, id string) (*types.Device, error)
	GetDeviceForOrg(ctx context.Context, id, orgID string) (*types.Device, error)
}

// Binder applies a bound sample to a device
type Binder interface {
	ApplyDongle(ctx context.Context, orgID string, deviceID *string, sample *types.RawSample, fix types.GpsFix) (*devices.BindResult, error)
}

// Recorder receives session lifecycle counts
type Recorder interface {
	IncrementSessionsStarted()
	IncrementSessionsPaired()
	IncrementSessionsTimedOut()
}

// Option configures a Coordinator
type Option func(*Coordinator)

// BindTx runs fn with a Store and Binder whose writes commit together. An
// error from fn rolls every write back.
type BindTx func(ctx context.Context, fn func(store Store, binder Binder) error) error

// WithBindTx applies the device write and the paired transition of a bind
// in one transaction, so a session completed elsewhere leaves no device or
// GPS log behind.
func WithBindTx(tx BindTx) Option {
	return func(c *Coordinator) {
		c.bindTx = tx
	}
}

// WithTimeout overrides SessionTimeout
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

// WithNormalizer sets the normalizer used on bound samples
func WithNormalizer(n *normalizer.Normalizer) Option {
	return func(c *Coordinator) {
		c.norm = n
	}
}

// WithRecorder sets the lifecycle counter sink
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// StatusResult is the answer to a poll. GPS, IMU and batch id are set only
// when the session is paired and its device still exists.
type StatusResult struct {
	Session       *types.PairingSession
	Status        types.PairingStatus
	GpsData       *types.GpsFix
	IMUData       *types.IMUData
	DongleBatchID string
}

// Coordinator runs pairing sessions. Each waiting session has its own
// listener on the hub and its own timer; the first of bind, timer or lazy
// poll expiry to take the session's lock performs the terminal transition.
type Coordinator struct {
	store    Store
	hub      *broadcast.Hub
	updater  Binder
	norm     *normalizer.Normalizer
	recorder Recorder
	bindTx   BindTx
	timeout  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type session struct {
	mu       sync.Mutex
	data     types.PairingSession
	done     bool
	finished chan struct{}
}

// finish marks the session terminal. Callers hold s.mu.
func (s *session) finish() {
	if !s.done {
		s.done = true
		close(s.finished)
	}
}

// New creates a Coordinator listening on hub
func New(store Store, hub *broadcast.Hub, updater Binder, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:    store,
		hub:      hub,
		updater:  updater,
		timeout:  SessionTimeout,
		now:      time.Now,
		sessions: make(map[string]*session),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.norm == nil {
		c.norm = normalizer.New(nil)
	}
	return c
}

// Start persists a waiting session for orgID and begins listening for a
// dongle sample. deviceID, when set, must belong to orgID.
func (c *Coordinator) Start(ctx context.Context, orgID string, deviceID *string) (*types.PairingSession, error) {
	if deviceID != nil {
		if _, err := c.store.GetDeviceForOrg(ctx, *deviceID, orgID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, *deviceID)
			}
			return nil, err
		}
	}

	now := c.now().UTC()
	data := types.PairingSession{
		ID:            uuid.NewString(),
		OrgID:         orgID,
		Status:        types.PairingWaiting,
		BoundDeviceID: deviceID,
		ExpiresAt:     now.Add(c.timeout),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateSession(ctx, &data); err != nil {
		return nil, err
	}

	s := &session{data: data, finished: make(chan struct{})}
	sub := c.hub.Subscribe()

	c.mu.Lock()
	c.sessions[data.ID] = s
	c.mu.Unlock()

	c.wg.Add(1)
	go c.listen(s, sub)

	if c.recorder != nil {
		c.recorder.IncrementSessionsStarted()
	}

	logrus.WithFields(logrus.Fields{
		"session_id": data.ID,
		"org_id":     orgID,
		"expires_at": data.ExpiresAt,
	}).Info("Pairing session started")

	out := data
	return &out, nil
}

// Status returns the current state of a session owned by orgID, expiring it
// first when it is still waiting past its deadline. Sessions of another org
// report ErrSessionNotFound and are left untouched.
func (c *Coordinator) Status(ctx context.Context, orgID, sessionID string) (*StatusResult, error) {
	data, err := c.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if data.OrgID != orgID {
		return nil, ErrSessionNotFound
	}

	if data.Status == types.PairingWaiting && data.Expired(c.now()) {
		if err := c.expireLazily(ctx, data); err != nil {
			return nil, err
		}
		if data, err = c.getSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}

	result := &StatusResult{Session: data, Status: data.Status}
	if data.Status != types.PairingPaired || data.ResultDeviceID == nil {
		return result, nil
	}

	device, err := c.store.GetDevice(ctx, *data.ResultDeviceID)
	if errors.Is(err, db.ErrNotFound) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	fix := device.Fix()
	imu := device.IMU()
	result.GpsData = &fix
	result.IMUData = &imu
	result.DongleBatchID = device.DongleBatchID
	return result, nil
}

// Active returns the number of sessions with a live listener
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown stops every listener. Sessions left waiting are expired by the
// next poll.
func (c *Coordinator) Shutdown() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) getSession(ctx context.Context, id string) (*types.PairingSession, error) {
	data, err := c.store.GetSession(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return data, err
}

func (c *Coordinator) listen(s *session, sub *broadcast.Subscription) {
	defer c.wg.Done()
	defer sub.Cancel()
	defer c.forget(s.data.ID)

	timer := time.NewTimer(s.data.ExpiresAt.Sub(c.now()))
	defer timer.Stop()

	for {
		select {
		case sample, ok := <-sub.C:
			if !ok {
				return
			}
			if !c.now().Before(s.data.ExpiresAt) {
				c.expire(s)
				return
			}
			if c.bind(s, sample) {
				return
			}
		case <-timer.C:
			c.expire(s)
			return
		case <-s.finished:
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) forget(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// bind applies sample to the session's device and pairs the session. It
// reports whether the session is finished.
func (c *Coordinator) bind(s *session, sample *types.RawSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return true
	}

	log := logrus.WithFields(logrus.Fields{
		"session_id": s.data.ID,
		"batch_id":   sample.BatchID,
	})

	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()

	fix := c.norm.Normalize(sample, types.SyncMethodDongle)
	var deviceID string
	apply := func(store Store, binder Binder) error {
		result, err := binder.ApplyDongle(ctx, s.data.OrgID, s.data.BoundDeviceID, sample, fix)
		if err != nil {
			return fmt.Errorf("failed to apply dongle sample: %w", err)
		}
		id := result.Device.ID
		ok, err := store.CompleteSession(ctx, s.data.ID, types.PairingPaired, &id, c.now().UTC())
		if err != nil {
			return fmt.Errorf("failed to mark session paired: %w", err)
		}
		if !ok {
			return errSessionClosed
		}
		deviceID = id
		return nil
	}

	var err error
	if c.bindTx != nil {
		err = c.bindTx(ctx, apply)
	} else {
		err = apply(c.store, c.updater)
	}
	if errors.Is(err, errSessionClosed) {
		s.finish()
		log.Warn("Session was completed elsewhere before bind")
		return true
	}
	if err != nil {
		log.WithError(err).Error("Bind failed, session keeps waiting")
		return false
	}
	s.finish()

	if c.recorder != nil {
		c.recorder.IncrementSessionsPaired()
	}
	log.WithField("device_id", deviceID).Info("Pairing session paired")
	return true
}

func (c *Coordinator) expire(s *session) {
	ctx, cancel := context.WithTimeout(c.ctx, storeTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := c.expireLocked(ctx, s); err != nil {
		logrus.WithError(err).WithField("session_id", s.data.ID).Error("Failed to expire pairing session")
	}
}

// expireLocked moves a waiting session to timeout. Callers hold s.mu.
func (c *Coordinator) expireLocked(ctx context.Context, s *session) error {
	if s.done {
		return nil
	}
	ok, err := c.store.CompleteSession(ctx, s.data.ID, types.PairingTimeout, nil, c.now().UTC())
	if err != nil {
		return err
	}
	s.finish()
	if ok {
		if c.recorder != nil {
			c.recorder.IncrementSessionsTimedOut()
		}
		logrus.WithField("session_id", s.data.ID).Info("Pairing session timed out")
	}
	return nil
}

// expireLazily performs the timeout transition on behalf of a poll, through
// the session's actor when this process still holds it.
func (c *Coordinator) expireLazily(ctx context.Context, data *types.PairingSession) error {
	c.mu.Lock()
	s, ok := c.sessions[data.ID]
	c.mu.Unlock()

	if ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		return c.expireLocked(ctx, s)
	}

	completed, err := c.store.CompleteSession(ctx, data.ID, types.PairingTimeout, nil, c.now().UTC())
	if err != nil {
		return err
	}
	if completed {
		if c.recorder != nil {
			c.recorder.IncrementSessionsTimedOut()
		}
		logrus.WithField("session_id", data.ID).Info("Pairing session expired on poll")
	}
	return nil
}
