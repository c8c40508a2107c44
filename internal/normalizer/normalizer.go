package normalizer

import (
	"math"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/types"
)

// Accuracy returned when the satellite count is unknown or below four
const DefaultAccuracy = 100.0

// Normalizer converts raw dongle samples into GPS fixes.
// Dongle clocks carry no zone, so timestamps are read in Location.
type Normalizer struct {
	Location *time.Location
}

// New creates a Normalizer reading timestamps in loc. A nil loc means time.Local.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{Location: loc}
}

// Normalize derives a GpsFix from s. It never fails; s is expected to be valid.
func (n *Normalizer) Normalize(s *types.RawSample, method types.SyncMethod) types.GpsFix {
	fix := types.GpsFix{
		Latitude:       deref(s.Lat),
		Longitude:      deref(s.Lon),
		Altitude:       deref(s.Alt),
		AccuracyMeters: Accuracy(s.SatelliteCount),
		HeadingDegrees: Heading(deref(s.GyroX), deref(s.GyroY)),
		Timestamp:      n.Timestamp(s.DateYMD, s.TimeHMS, s.Msec),
		SourceMethod:   method,
	}
	return fix
}

// Accuracy maps a satellite count to an estimated horizontal accuracy in meters
func Accuracy(sats *uint64) float64 {
	if sats == nil {
		return DefaultAccuracy
	}
	switch n := *sats; {
	case n >= 8:
		return 5
	case n >= 6:
		return 15
	case n >= 4:
		return 50
	default:
		return DefaultAccuracy
	}
}

// Heading returns atan2(gyroY, gyroX) in degrees within [0, 360)
func Heading(gyroX, gyroY float64) float64 {
	return FoldHeading(math.Atan2(gyroY, gyroX) * 180 / math.Pi)
}

// FoldHeading maps any angle in degrees into [0, 360). NaN and infinities
// fold to 0.
func FoldHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// -1e-15 + 360 rounds to 360
	if deg >= 360 || math.IsNaN(deg) {
		return 0
	}
	return deg
}

// Timestamp combines YYYYMMDD, HHMMSS and milliseconds into an absolute time.
// A missing msec counts as zero. Any other missing or out-of-range component
// yields the Unix epoch.
func (n *Normalizer) Timestamp(dateYMD, timeHMS, msec *int) time.Time {
	epoch := time.Unix(0, 0).UTC()
	if dateYMD == nil || timeHMS == nil {
		return epoch
	}

	d, hms, ms := *dateYMD, *timeHMS, 0
	if msec != nil {
		ms = *msec
	}
	if d < 10000101 || d > 99991231 || hms < 0 || hms > 235959 || ms < 0 || ms > 999 {
		return epoch
	}

	year, month, day := d/10000, time.Month(d/100%100), d%100
	hour, minute, second := hms/10000, hms/100%100, hms%100
	if hour > 23 || minute > 59 || second > 59 {
		return epoch
	}

	loc := n.Location
	if loc == nil {
		loc = time.Local
	}
	t := time.Date(year, month, day, hour, minute, second, ms*int(time.Millisecond), loc)
	// time.Date normalizes 2024-02-31 into March
	if t.Month() != month || t.Day() != day {
		return epoch
	}
	return t
}

// IMU projects the inertial fields of s. Unset axes read as zero.
func IMU(s *types.RawSample) types.IMUData {
	return types.IMUData{
		Accelerometer: types.Vector3{X: deref(s.AccelX), Y: deref(s.AccelY), Z: deref(s.AccelZ)},
		Gyroscope:     types.Vector3{X: deref(s.GyroX), Y: deref(s.GyroY), Z: deref(s.GyroZ)},
		Temperature:   deref(s.TemperatureC),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
