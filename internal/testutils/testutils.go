package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/types"
)

const (
	startMarker = "=== Received Data ==="
	endMarker   = "===================="
)

// FrameLines returns the six labeled interior lines of a dongle transcript
func FrameLines(batchID string, lat, lon float64) []string {
	return []string{
		fmt.Sprintf("Batch: 0x%s Duration: 5000 ms Samples: 50", batchID),
		"GPS Fix: 1 Sats: 9 Date: 20240501 Time: 101530.250",
		fmt.Sprintf("Lat: %.6f Lon: %.6f Alt: 45.20", lat, lon),
		"Accel X: 0.01 Y: -0.02 Z: 9.81",
		"Gyro X: 1.00 Y: 1.00 Z: 0.00",
		"Temp: 23.5",
	}
}

// MockTranscript wraps interior lines in start and end markers
func MockTranscript(lines ...string) []string {
	out := make([]string, 0, len(lines)+2)
	out = append(out, startMarker)
	out = append(out, lines...)
	return append(out, endMarker)
}

// MockSample creates a valid sample with a position and a good fix
func MockSample(batchID string, lat, lon float64) *types.RawSample {
	sats := uint64(9)
	date, hms, msec := 20240501, 101530, 250
	alt, ax, ay, az := 45.2, 0.01, -0.02, 9.81
	gx, gy, gz, temp := 1.0, 1.0, 0.0, 23.5
	return &types.RawSample{
		BatchID:        batchID,
		Lat:            &lat,
		Lon:            &lon,
		Alt:            &alt,
		SatelliteCount: &sats,
		DateYMD:        &date,
		TimeHMS:        &hms,
		Msec:           &msec,
		AccelX:         &ax,
		AccelY:         &ay,
		AccelZ:         &az,
		GyroX:          &gx,
		GyroY:          &gy,
		GyroZ:          &gz,
		TemperatureC:   &temp,
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
		}
	}
}
