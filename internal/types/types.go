package types

import (
	"time"
)

// SyncMethod identifies how a device's GPS position was obtained
type SyncMethod string

const (
	SyncMethodDongle SyncMethod = "dongle"
	SyncMethodManual SyncMethod = "manual"
	SyncMethodAPI    SyncMethod = "api"
)

// PairingStatus is the state of a pairing session
type PairingStatus string

const (
	PairingWaiting PairingStatus = "waiting"
	PairingPaired  PairingStatus = "paired"
	PairingTimeout PairingStatus = "timeout"
)

// Terminal reports whether no further transition is possible from s
func (s PairingStatus) Terminal() bool {
	return s == PairingPaired || s == PairingTimeout
}

// DeviceStatus is the connectivity state stored on a device row
type DeviceStatus string

const (
	DeviceOffline DeviceStatus = "offline"
	DeviceOnline  DeviceStatus = "online"
)

// RawSample is one decoded dongle transmission. Optional fields are pointers
// so that a field absent from the transmission stays distinguishable from zero.
type RawSample struct {
	BatchID        string   `json:"batchId"`
	SessionMs      *uint64  `json:"sessionMs,omitempty"`
	SampleCount    *uint64  `json:"sampleCount,omitempty"`
	DateYMD        *int     `json:"dateYMD,omitempty"`
	TimeHMS        *int     `json:"timeHMS,omitempty"`
	Msec           *int     `json:"msec,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	Alt            *float64 `json:"alt,omitempty"`
	GPSFix         *int     `json:"gpsFix,omitempty"`
	SatelliteCount *uint64  `json:"satelliteCount,omitempty"`
	AccelX         *float64 `json:"accelX,omitempty"`
	AccelY         *float64 `json:"accelY,omitempty"`
	AccelZ         *float64 `json:"accelZ,omitempty"`
	GyroX          *float64 `json:"gyroX,omitempty"`
	GyroY          *float64 `json:"gyroY,omitempty"`
	GyroZ          *float64 `json:"gyroZ,omitempty"`
	TemperatureC   *float64 `json:"temperatureC,omitempty"`
}

// Valid reports whether the sample carries a batch id and a position
func (s *RawSample) Valid() bool {
	return s != nil && s.BatchID != "" && s.Lat != nil && s.Lon != nil
}

// GpsFix is the positioning data derived from a RawSample
type GpsFix struct {
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Altitude       float64    `json:"altitude"`
	AccuracyMeters float64    `json:"accuracy"`
	HeadingDegrees float64    `json:"heading"`
	Timestamp      time.Time  `json:"timestamp"`
	SourceMethod   SyncMethod `json:"sourceMethod,omitempty"`
}

// Vector3 is a three axis sensor reading
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IMUData is the inertial projection of a sample or device
type IMUData struct {
	Accelerometer Vector3 `json:"accelerometer"`
	Gyroscope     Vector3 `json:"gyroscope"`
	Temperature   float64 `json:"temperature"`
}

// PairingSession is a time-boxed rendezvous between a client and a dongle transmission
type PairingSession struct {
	ID             string        `json:"sessionId"`
	OrgID          string        `json:"orgId"`
	Status         PairingStatus `json:"status"`
	BoundDeviceID  *string       `json:"boundDeviceId,omitempty"`
	ResultDeviceID *string       `json:"resultDeviceId,omitempty"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Expired reports whether the session deadline has passed at now
func (p *PairingSession) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Device is the persisted device record consumed and updated by the pairing flow
type Device struct {
	ID            string       `json:"id"`
	OrgID         string       `json:"orgId"`
	Name          string       `json:"name"`
	Status        DeviceStatus `json:"status"`
	SetupComplete bool         `json:"setupComplete"`
	GPSConfigured bool         `json:"gpsConfigured"`

	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
	Altitude      *float64   `json:"altitude"`
	GPSAccuracy   float64    `json:"gpsAccuracy"`
	Heading       float64    `json:"heading"`
	LastGPSSync   *time.Time `json:"lastGpsSync,omitempty"`
	GPSSyncMethod SyncMethod `json:"gpsSyncMethod,omitempty"`

	AccelX      float64 `json:"accelX"`
	AccelY      float64 `json:"accelY"`
	AccelZ      float64 `json:"accelZ"`
	GyroX       float64 `json:"gyroX"`
	GyroY       float64 `json:"gyroY"`
	GyroZ       float64 `json:"gyroZ"`
	Temperature float64 `json:"temperature"`

	DongleBatchID     string `json:"dongleBatchId"`
	DongleSessionMs   int64  `json:"dongleSessionMs"`
	DongleSampleCount int64  `json:"dongleSampleCount"`
	DongleDateYMD     int    `json:"dongleDateYMD"`
	DongleTimeHMS     int    `json:"dongleTimeHMS"`
	DongleMsec        int    `json:"dongleMsec"`
	DongleGPSFix      int    `json:"dongleGpsFix"`
	DongleSatellites  int    `json:"dongleSatellites"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Fix projects the device's stored GPS columns into a GpsFix
func (d *Device) Fix() GpsFix {
	fix := GpsFix{
		AccuracyMeters: d.GPSAccuracy,
		HeadingDegrees: d.Heading,
		SourceMethod:   d.GPSSyncMethod,
	}
	if d.Latitude != nil {
		fix.Latitude = *d.Latitude
	}
	if d.Longitude != nil {
		fix.Longitude = *d.Longitude
	}
	if d.Altitude != nil {
		fix.Altitude = *d.Altitude
	}
	if d.LastGPSSync != nil {
		fix.Timestamp = *d.LastGPSSync
	}
	return fix
}

// IMU projects the device's stored inertial columns
func (d *Device) IMU() IMUData {
	return IMUData{
		Accelerometer: Vector3{X: d.AccelX, Y: d.AccelY, Z: d.AccelZ},
		Gyroscope:     Vector3{X: d.GyroX, Y: d.GyroY, Z: d.GyroZ},
		Temperature:   d.Temperature,
	}
}

// GpsLog is one append-only GPS audit row
type GpsLog struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"deviceId"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Altitude   float64    `json:"altitude"`
	Accuracy   float64    `json:"accuracy"`
	Heading    float64    `json:"heading"`
	SyncMethod SyncMethod `json:"syncMethod"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Gateway input names
const (
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceInject = "inject"
)

// GatewayStats is a point-in-time snapshot of gateway and pairing counters
type GatewayStats struct {
	RecordedAt       time.Time     `json:"recordedAt"`
	FramesSeen       uint64        `json:"framesSeen"`
	SamplesAccepted  uint64        `json:"samplesAccepted"`
	SamplesRejected  uint64        `json:"samplesRejected"`
	SerialSamples    uint64        `json:"serialSamples"`
	MQTTSamples      uint64        `json:"mqttSamples"`
	InjectedSamples  uint64        `json:"injectedSamples"`
	MQTTDropped      uint64        `json:"mqttDropped"`
	Broadcasts       uint64        `json:"broadcasts"`
	Deliveries       uint64        `json:"deliveries"`
	Subscribers      int           `json:"subscribers"`
	HubDropped       uint64        `json:"hubDropped"`
	SessionsStarted  uint64        `json:"sessionsStarted"`
	SessionsPaired   uint64        `json:"sessionsPaired"`
	SessionsTimedOut uint64        `json:"sessionsTimedOut"`
	ActiveSessions   int           `json:"activeSessions"`
	LastSampleTime   *time.Time    `json:"lastSampleTime,omitempty"`
	Uptime           time.Duration `json:"uptime"`
}
