package devices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/saviobatista/dongle-pairing/internal/db"
	"github.com/saviobatista/dongle-pairing/internal/normalizer"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrDeviceNotFound     = errors.New("device not found")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidSyncMethod  = errors.New("invalid sync method")
)

// Store is the persistence the updater needs
type Store interface {
	GetDevice(ctx context.Context, id string) (*types.Device, error)
	GetDeviceForOrg(ctx context.Context, id, orgID string) (*types.Device, error)
	CreateDevice(ctx context.Context, d *types.Device) error
	UpdateDeviceDongle(ctx context.Context, d *types.Device) error
	UpdateDeviceGPS(ctx context.Context, id string, fix types.GpsFix, at time.Time) error
	InsertGpsLog(ctx context.Context, l *types.GpsLog) error
}

// Updater applies GPS and IMU data to device records and keeps the GPS audit trail
type Updater struct {
	store Store
	now   func() time.Time
}

// New creates a new Updater
func New(store Store) *Updater {
	return &Updater{store: store, now: time.Now}
}

// BindResult is the outcome of applying a dongle sample
type BindResult struct {
	Device  *types.Device
	Log     *types.GpsLog
	Created bool
}

// ApplyDongle writes a dongle sample to deviceID, or to a new device owned by
// orgID when deviceID is nil, and appends a "dongle" GpsLog row.
func (u *Updater) ApplyDongle(ctx context.Context, orgID string, deviceID *string, sample *types.RawSample, fix types.GpsFix) (*BindResult, error) {
	now := u.now().UTC()
	fix.SourceMethod = types.SyncMethodDongle

	var (
		device  *types.Device
		created bool
	)
	if deviceID != nil {
		existing, err := u.store.GetDevice(ctx, *deviceID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, *deviceID)
		}
		if err != nil {
			return nil, err
		}
		device = existing
		applySample(device, sample, fix, now)
		device.SetupComplete = true
		if err := u.store.UpdateDeviceDongle(ctx, device); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, *deviceID)
			}
			return nil, err
		}
	} else {
		device = &types.Device{
			ID:        uuid.NewString(),
			OrgID:     orgID,
			Name:      "Dongle " + sample.BatchID,
			Status:    types.DeviceOffline,
			CreatedAt: now,
		}
		applySample(device, sample, fix, now)
		if err := u.store.CreateDevice(ctx, device); err != nil {
			return nil, err
		}
		created = true
	}

	entry, err := u.appendLog(ctx, device.ID, fix, now)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"device_id": device.ID,
		"batch_id":  sample.BatchID,
		"created":   created,
	}).Info("Applied dongle sample to device")

	return &BindResult{Device: device, Log: entry, Created: created}, nil
}

// SyncRequest is a manual GPS update. Latitude and Longitude are required.
type SyncRequest struct {
	Latitude   *float64         `json:"latitude"`
	Longitude  *float64         `json:"longitude"`
	Altitude   *float64         `json:"altitude"`
	Accuracy   *float64         `json:"accuracy"`
	Heading    *float64         `json:"heading"`
	SyncMethod types.SyncMethod `json:"syncMethod"`
}

// Validate checks coordinates and the sync method without touching the store
func (r *SyncRequest) Validate() error {
	if r.Latitude == nil || r.Longitude == nil {
		return fmt.Errorf("%w: latitude and longitude are required", ErrInvalidCoordinates)
	}
	lat, lon := *r.Latitude, *r.Longitude
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidCoordinates, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidCoordinates, lon)
	}
	switch r.SyncMethod {
	case "", types.SyncMethodManual, types.SyncMethodDongle, types.SyncMethodAPI:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSyncMethod, r.SyncMethod)
	}
	return nil
}

// SyncResult is the outcome of a manual GPS sync
type SyncResult struct {
	Device *types.Device
	LogID  string
}

// SyncGPS overwrites the GPS fields of a device in orgID and appends a GpsLog
// row. Omitted altitude, accuracy and heading keep their stored values.
func (u *Updater) SyncGPS(ctx context.Context, orgID, deviceID string, req SyncRequest) (*SyncResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	device, err := u.store.GetDeviceForOrg(ctx, deviceID, orgID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return nil, err
	}

	now := u.now().UTC()
	fix := device.Fix()
	fix.Latitude = *req.Latitude
	fix.Longitude = *req.Longitude
	if req.Altitude != nil {
		fix.Altitude = *req.Altitude
	}
	if req.Accuracy != nil {
		fix.AccuracyMeters = *req.Accuracy
	}
	if req.Heading != nil {
		fix.HeadingDegrees = normalizer.FoldHeading(*req.Heading)
	}
	fix.SourceMethod = req.SyncMethod
	if fix.SourceMethod == "" {
		fix.SourceMethod = types.SyncMethodManual
	}
	fix.Timestamp = now

	if err := u.store.UpdateDeviceGPS(ctx, device.ID, fix, now); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return nil, err
	}
	setGPS(device, fix, now)

	entry, err := u.appendLog(ctx, device.ID, fix, now)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"device_id": device.ID,
		"method":    fix.SourceMethod,
	}).Info("Synced device GPS")

	return &SyncResult{Device: device, LogID: entry.ID}, nil
}

func (u *Updater) appendLog(ctx context.Context, deviceID string, fix types.GpsFix, at time.Time) (*types.GpsLog, error) {
	entry := &types.GpsLog{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Latitude:   fix.Latitude,
		Longitude:  fix.Longitude,
		Altitude:   fix.Altitude,
		Accuracy:   fix.AccuracyMeters,
		Heading:    fix.HeadingDegrees,
		SyncMethod: fix.SourceMethod,
		Timestamp:  at,
	}
	if err := u.store.InsertGpsLog(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func setGPS(d *types.Device, fix types.GpsFix, at time.Time) {
	lat, lon, alt := fix.Latitude, fix.Longitude, fix.Altitude
	d.Latitude = &lat
	d.Longitude = &lon
	d.Altitude = &alt
	d.GPSAccuracy = fix.AccuracyMeters
	d.Heading = fix.HeadingDegrees
	d.GPSConfigured = true
	d.GPSSyncMethod = fix.SourceMethod
	d.LastGPSSync = &at
	d.UpdatedAt = at
}

func applySample(d *types.Device, s *types.RawSample, fix types.GpsFix, at time.Time) {
	setGPS(d, fix, at)

	imu := normalizer.IMU(s)
	d.AccelX, d.AccelY, d.AccelZ = imu.Accelerometer.X, imu.Accelerometer.Y, imu.Accelerometer.Z
	d.GyroX, d.GyroY, d.GyroZ = imu.Gyroscope.X, imu.Gyroscope.Y, imu.Gyroscope.Z
	d.Temperature = imu.Temperature

	d.DongleBatchID = s.BatchID
	d.DongleSessionMs = int64(derefUint(s.SessionMs))
	d.DongleSampleCount = int64(derefUint(s.SampleCount))
	d.DongleDateYMD = derefInt(s.DateYMD)
	d.DongleTimeHMS = derefInt(s.TimeHMS)
	d.DongleMsec = derefInt(s.Msec)
	d.DongleGPSFix = derefInt(s.GPSFix)
	d.DongleSatellites = int(derefUint(s.SatelliteCount))
}

func derefUint(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
