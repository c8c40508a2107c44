package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/normalizer"
	"github.com/saviobatista/dongle-pairing/internal/testutils"
	"github.com/saviobatista/dongle-pairing/internal/types"
)

func floatPtr(v float64) *float64 { return &v }

func newTestUpdater(store Store) *Updater {
	u := New(store)
	u.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return u
}

func TestApplyDongle_CreatesDevice(t *testing.T) {
	store := testutils.NewMemStore()
	u := newTestUpdater(store)
	sample := testutils.MockSample("ABC123", 33.89, 35.50)
	fix := normalizer.New(time.UTC).Normalize(sample, types.SyncMethodDongle)

	result, err := u.ApplyDongle(context.Background(), "org-1", nil, sample, fix)
	if err != nil {
		t.Fatalf("ApplyDongle() failed: %v", err)
	}
	if !result.Created {
		t.Error("Expected a new device to be created")
	}

	devices := store.Devices()
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.OrgID != "org-1" || d.Status != types.DeviceOffline {
		t.Errorf("Expected offline device owned by org-1, got %s %s", d.OrgID, d.Status)
	}
	if d.DongleBatchID != "ABC123" || d.Name != "Dongle ABC123" {
		t.Errorf("Unexpected dongle identity %s %s", d.DongleBatchID, d.Name)
	}
	if d.Latitude == nil || *d.Latitude != 33.89 || *d.Longitude != 35.50 {
		t.Errorf("Expected position 33.89/35.50, got %v/%v", d.Latitude, d.Longitude)
	}
	if d.GPSAccuracy != 5 {
		t.Errorf("Expected accuracy 5, got %v", d.GPSAccuracy)
	}
	if d.AccelZ != 9.81 || d.Temperature != 23.5 || d.DongleSatellites != 9 {
		t.Errorf("Unexpected IMU/metadata %v %v %d", d.AccelZ, d.Temperature, d.DongleSatellites)
	}
	if d.SetupComplete {
		t.Error("Expected a newly created device to leave setupComplete unset")
	}

	logs := store.Logs()
	if len(logs) != 1 {
		t.Fatalf("Expected 1 GPS log, got %d", len(logs))
	}
	if logs[0].SyncMethod != types.SyncMethodDongle || logs[0].DeviceID != d.ID {
		t.Errorf("Unexpected GPS log %+v", logs[0])
	}
}

func TestApplyDongle_UpdatesExistingDevice(t *testing.T) {
	store := testutils.NewMemStore()
	store.PutDevice(types.Device{ID: "d1", OrgID: "org-1", Name: "Pump 4", Status: types.DeviceOnline})
	u := newTestUpdater(store)

	sample := testutils.MockSample("DEF456", 10, 20)
	fix := normalizer.New(time.UTC).Normalize(sample, types.SyncMethodDongle)
	deviceID := "d1"

	result, err := u.ApplyDongle(context.Background(), "org-1", &deviceID, sample, fix)
	if err != nil {
		t.Fatalf("ApplyDongle() failed: %v", err)
	}
	if result.Created {
		t.Error("Expected existing device to be updated, not created")
	}

	d, _ := store.GetDevice(context.Background(), "d1")
	if !d.SetupComplete {
		t.Error("Expected setupComplete to be set")
	}
	if d.Name != "Pump 4" || d.Status != types.DeviceOnline {
		t.Errorf("Expected name and status to be preserved, got %s %s", d.Name, d.Status)
	}
	if d.DongleBatchID != "DEF456" || *d.Latitude != 10 {
		t.Errorf("Expected dongle data to be applied, got %s %v", d.DongleBatchID, *d.Latitude)
	}
	if d.GPSSyncMethod != types.SyncMethodDongle {
		t.Errorf("Expected dongle sync method, got %s", d.GPSSyncMethod)
	}
}

func TestApplyDongle_MissingDevice(t *testing.T) {
	u := newTestUpdater(testutils.NewMemStore())
	sample := testutils.MockSample("ABC123", 1, 2)
	deviceID := "missing"

	_, err := u.ApplyDongle(context.Background(), "org-1", &deviceID, sample, types.GpsFix{})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func TestApplyDongle_StoreFailure(t *testing.T) {
	store := testutils.NewMemStore()
	store.SetErr(errors.New("connection reset"))
	u := newTestUpdater(store)

	_, err := u.ApplyDongle(context.Background(), "org-1", nil, testutils.MockSample("ABC123", 1, 2), types.GpsFix{})
	if err == nil {
		t.Error("Expected store error to propagate")
	}
	if errors.Is(err, ErrDeviceNotFound) {
		t.Error("Expected store error not to be reported as not found")
	}
}

func TestSyncRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SyncRequest
		wantErr error
	}{
		{name: "valid", req: SyncRequest{Latitude: floatPtr(45), Longitude: floatPtr(-120)}},
		{name: "bounds inclusive", req: SyncRequest{Latitude: floatPtr(-90), Longitude: floatPtr(180)}},
		{name: "latitude 91", req: SyncRequest{Latitude: floatPtr(91), Longitude: floatPtr(0)}, wantErr: ErrInvalidCoordinates},
		{name: "longitude -181", req: SyncRequest{Latitude: floatPtr(0), Longitude: floatPtr(-181)}, wantErr: ErrInvalidCoordinates},
		{name: "missing latitude", req: SyncRequest{Longitude: floatPtr(0)}, wantErr: ErrInvalidCoordinates},
		{name: "missing longitude", req: SyncRequest{Latitude: floatPtr(0)}, wantErr: ErrInvalidCoordinates},
		{name: "api method", req: SyncRequest{Latitude: floatPtr(0), Longitude: floatPtr(0), SyncMethod: types.SyncMethodAPI}},
		{name: "unknown method", req: SyncRequest{Latitude: floatPtr(0), Longitude: floatPtr(0), SyncMethod: "satellite"}, wantErr: ErrInvalidSyncMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSyncGPS(t *testing.T) {
	store := testutils.NewMemStore()
	alt := 100.0
	store.PutDevice(types.Device{ID: "d1", OrgID: "org-1", Altitude: &alt, GPSAccuracy: 15, DongleBatchID: "ABC123"})
	u := newTestUpdater(store)

	result, err := u.SyncGPS(context.Background(), "org-1", "d1", SyncRequest{
		Latitude:  floatPtr(40.7),
		Longitude: floatPtr(-74.0),
		Heading:   floatPtr(90),
	})
	if err != nil {
		t.Fatalf("SyncGPS() failed: %v", err)
	}
	if result.LogID == "" {
		t.Error("Expected a GPS log id")
	}
	if !result.Device.GPSConfigured {
		t.Error("Expected gpsConfigured to be set")
	}
	if *result.Device.Altitude != 100 || result.Device.GPSAccuracy != 15 {
		t.Errorf("Expected omitted fields to keep stored values, got %v %v", *result.Device.Altitude, result.Device.GPSAccuracy)
	}

	d, _ := store.GetDevice(context.Background(), "d1")
	if *d.Latitude != 40.7 || *d.Longitude != -74.0 || d.Heading != 90 {
		t.Errorf("Expected stored position 40.7/-74.0 heading 90, got %v/%v %v", *d.Latitude, *d.Longitude, d.Heading)
	}
	if d.GPSSyncMethod != types.SyncMethodManual {
		t.Errorf("Expected default method manual, got %s", d.GPSSyncMethod)
	}
	if d.DongleBatchID != "ABC123" {
		t.Errorf("Expected dongle metadata untouched, got %s", d.DongleBatchID)
	}

	logs := store.Logs()
	if len(logs) != 1 || logs[0].ID != result.LogID || logs[0].SyncMethod != types.SyncMethodManual {
		t.Errorf("Unexpected GPS logs %+v", logs)
	}
}

func TestSyncGPS_FoldsHeading(t *testing.T) {
	tests := []struct {
		name    string
		heading float64
		want    float64
	}{
		{name: "negative", heading: -90, want: 270},
		{name: "full turn", heading: 360, want: 0},
		{name: "over one turn", heading: 450, want: 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutils.NewMemStore()
			store.PutDevice(types.Device{ID: "d1", OrgID: "org-1"})
			u := newTestUpdater(store)

			result, err := u.SyncGPS(context.Background(), "org-1", "d1", SyncRequest{
				Latitude:  floatPtr(10),
				Longitude: floatPtr(20),
				Heading:   floatPtr(tt.heading),
			})
			if err != nil {
				t.Fatalf("SyncGPS() failed: %v", err)
			}
			if result.Device.Heading != tt.want {
				t.Errorf("Expected returned heading %v, got %v", tt.want, result.Device.Heading)
			}
			d, _ := store.GetDevice(context.Background(), "d1")
			if d.Heading != tt.want {
				t.Errorf("Expected stored heading %v, got %v", tt.want, d.Heading)
			}
		})
	}
}

func TestSyncGPS_InvalidLeavesDeviceUntouched(t *testing.T) {
	store := testutils.NewMemStore()
	store.PutDevice(types.Device{ID: "d1", OrgID: "org-1"})
	u := newTestUpdater(store)

	for _, req := range []SyncRequest{
		{Latitude: floatPtr(91), Longitude: floatPtr(0)},
		{Latitude: floatPtr(0), Longitude: floatPtr(-181)},
	} {
		if _, err := u.SyncGPS(context.Background(), "org-1", "d1", req); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("Expected ErrInvalidCoordinates, got %v", err)
		}
	}

	d, _ := store.GetDevice(context.Background(), "d1")
	if d.Latitude != nil || d.GPSConfigured {
		t.Error("Expected device to be unchanged")
	}
	if len(store.Logs()) != 0 {
		t.Errorf("Expected no GPS logs, got %d", len(store.Logs()))
	}
}

func TestSyncGPS_DeviceNotFound(t *testing.T) {
	store := testutils.NewMemStore()
	store.PutDevice(types.Device{ID: "d1", OrgID: "org-1"})
	u := newTestUpdater(store)
	req := SyncRequest{Latitude: floatPtr(1), Longitude: floatPtr(2)}

	for _, tc := range []struct{ org, id string }{{"org-1", "missing"}, {"org-2", "d1"}} {
		if _, err := u.SyncGPS(context.Background(), tc.org, tc.id, req); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Expected ErrDeviceNotFound for %s/%s, got %v", tc.org, tc.id, err)
		}
	}
}
