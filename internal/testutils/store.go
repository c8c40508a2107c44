package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/db"
	"github.com/saviobatista/dongle-pairing/internal/types"
)

// MemStore is an in-memory stand-in for the PostgreSQL client. Records are
// copied on the way in and out so callers never share memory with the store.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]types.PairingSession
	devices  map[string]types.Device
	logs     []types.GpsLog
	stats    []types.GatewayStats

	// Err, when set, is returned by every write
	Err error
}

// NewMemStore creates an empty MemStore
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]types.PairingSession),
		devices:  make(map[string]types.Device),
	}
}

func (m *MemStore) CreateSession(_ context.Context, s *types.PairingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemStore) GetSession(_ context.Context, id string) (*types.PairingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &s, nil
}

func (m *MemStore) CompleteSession(_ context.Context, id string, status types.PairingStatus, resultDeviceID *string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	s, ok := m.sessions[id]
	if !ok || s.Status != types.PairingWaiting {
		return false, nil
	}
	s.Status = status
	if resultDeviceID != nil {
		v := *resultDeviceID
		s.ResultDeviceID = &v
	}
	s.UpdatedAt = at
	m.sessions[id] = s
	return true, nil
}

func (m *MemStore) GetDevice(_ context.Context, id string) (*types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &d, nil
}

func (m *MemStore) GetDeviceForOrg(_ context.Context, id, orgID string) (*types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || d.OrgID != orgID {
		return nil, db.ErrNotFound
	}
	return &d, nil
}

func (m *MemStore) CreateDevice(_ context.Context, d *types.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.devices[d.ID] = *d
	return nil
}

func (m *MemStore) UpdateDeviceDongle(_ context.Context, d *types.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.devices[d.ID]; !ok {
		return db.ErrNotFound
	}
	m.devices[d.ID] = *d
	return nil
}

func (m *MemStore) UpdateDeviceGPS(_ context.Context, id string, fix types.GpsFix, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	d, ok := m.devices[id]
	if !ok {
		return db.ErrNotFound
	}
	lat, lon, alt := fix.Latitude, fix.Longitude, fix.Altitude
	d.Latitude, d.Longitude, d.Altitude = &lat, &lon, &alt
	d.GPSAccuracy = fix.AccuracyMeters
	d.Heading = fix.HeadingDegrees
	d.GPSConfigured = true
	d.LastGPSSync = &at
	d.GPSSyncMethod = fix.SourceMethod
	d.UpdatedAt = at
	m.devices[id] = d
	return nil
}

func (m *MemStore) InsertGpsLog(_ context.Context, l *types.GpsLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.logs = append(m.logs, *l)
	return nil
}

func (m *MemStore) StoreGatewayStats(_ context.Context, s *types.GatewayStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.stats = append(m.stats, *s)
	return nil
}

// SetErr sets the error returned by writes
func (m *MemStore) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

// PutDevice stores d directly
func (m *MemStore) PutDevice(d types.Device) {
	m.mu.Lock()
	m.devices[d.ID] = d
	m.mu.Unlock()
}

// Devices returns a copy of all stored devices
func (m *MemStore) Devices() []types.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Logs returns a copy of all GPS log rows in insertion order
func (m *MemStore) Logs() []types.GpsLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.GpsLog(nil), m.logs...)
}

// Stats returns a copy of all stored gateway snapshots
func (m *MemStore) Stats() []types.GatewayStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.GatewayStats(nil), m.stats...)
}
