package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/saviobatista/dongle-pairing/internal/types"
)

// ErrNotFound is returned when a keyed row does not exist
var ErrNotFound = errors.New("not found")

// querier is satisfied by both the pool and a transaction
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Client struct {
	db *sql.DB
	q  querier
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db, q: db}, nil
}

// NewWithDB wraps an existing connection pool
func NewWithDB(db *sql.DB) *Client {
	return &Client{db: db, q: db}
}

// InTx runs fn with a client whose statements share one transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (c *Client) InTx(ctx context.Context, fn func(tx *Client) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&Client{db: c.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DB returns the underlying connection pool
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// CreateSession inserts a new pairing session
func (c *Client) CreateSession(ctx context.Context, s *types.PairingSession) error {
	query := `
		INSERT INTO pairing_sessions (
			id, org_id, status, bound_device_id, result_device_id,
			expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := c.q.ExecContext(ctx, query,
		s.ID, s.OrgID, s.Status, nullString(s.BoundDeviceID), nullString(s.ResultDeviceID),
		s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pairing session: %w", err)
	}
	return nil
}

// GetSession retrieves a pairing session by id
func (c *Client) GetSession(ctx context.Context, id string) (*types.PairingSession, error) {
	if !isKey(id) {
		return nil, ErrNotFound
	}
	query := `
		SELECT id, org_id, status, bound_device_id, result_device_id,
			expires_at, created_at, updated_at
		FROM pairing_sessions
		WHERE id = $1
	`
	var (
		s             types.PairingSession
		bound, result sql.NullString
	)
	err := c.q.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.OrgID, &s.Status, &bound, &result,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pairing session: %w", err)
	}
	s.BoundDeviceID = stringPtr(bound)
	s.ResultDeviceID = stringPtr(result)
	return &s, nil
}

// CompleteSession moves a waiting session to a terminal status. It reports
// false when the session was no longer waiting, leaving the row untouched.
func (c *Client) CompleteSession(ctx context.Context, id string, status types.PairingStatus, resultDeviceID *string, at time.Time) (bool, error) {
	query := `
		UPDATE pairing_sessions SET
			status = $1, result_device_id = $2, updated_at = $3
		WHERE id = $4 AND status = 'waiting'
	`
	res, err := c.q.ExecContext(ctx, query, status, nullString(resultDeviceID), at, id)
	if err != nil {
		return false, fmt.Errorf("failed to complete pairing session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to complete pairing session: %w", err)
	}
	return n == 1, nil
}

const deviceColumns = `
	id, org_id, name, status, setup_complete, gps_configured,
	latitude, longitude, altitude, gps_accuracy, heading, last_gps_sync, gps_sync_method,
	accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z, temperature,
	dongle_batch_id, dongle_session_ms, dongle_sample_count, dongle_date_ymd,
	dongle_time_hms, dongle_msec, dongle_gps_fix, dongle_satellites,
	created_at, updated_at
`

// GetDevice retrieves a device by id
func (c *Client) GetDevice(ctx context.Context, id string) (*types.Device, error) {
	if !isKey(id) {
		return nil, ErrNotFound
	}
	row := c.q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	return scanDevice(row)
}

// GetDeviceForOrg retrieves a device by id only if it belongs to orgID
func (c *Client) GetDeviceForOrg(ctx context.Context, id, orgID string) (*types.Device, error) {
	if !isKey(id) {
		return nil, ErrNotFound
	}
	row := c.q.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1 AND org_id = $2`, id, orgID)
	return scanDevice(row)
}

// CreateDevice inserts a new device with all of its GPS, IMU and dongle columns
func (c *Client) CreateDevice(ctx context.Context, d *types.Device) error {
	query := `INSERT INTO devices (` + deviceColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30
	)`
	_, err := c.q.ExecContext(ctx, query,
		d.ID, d.OrgID, d.Name, d.Status, d.SetupComplete, d.GPSConfigured,
		nullFloat(d.Latitude), nullFloat(d.Longitude), nullFloat(d.Altitude),
		d.GPSAccuracy, d.Heading, nullTime(d.LastGPSSync), nullMethod(d.GPSSyncMethod),
		d.AccelX, d.AccelY, d.AccelZ, d.GyroX, d.GyroY, d.GyroZ, d.Temperature,
		d.DongleBatchID, d.DongleSessionMs, d.DongleSampleCount, d.DongleDateYMD,
		d.DongleTimeHMS, d.DongleMsec, d.DongleGPSFix, d.DongleSatellites,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// UpdateDeviceDongle overwrites a device's GPS, IMU and dongle metadata columns
func (c *Client) UpdateDeviceDongle(ctx context.Context, d *types.Device) error {
	query := `
		UPDATE devices SET
			setup_complete = $1, gps_configured = $2,
			latitude = $3, longitude = $4, altitude = $5,
			gps_accuracy = $6, heading = $7, last_gps_sync = $8, gps_sync_method = $9,
			accel_x = $10, accel_y = $11, accel_z = $12,
			gyro_x = $13, gyro_y = $14, gyro_z = $15, temperature = $16,
			dongle_batch_id = $17, dongle_session_ms = $18, dongle_sample_count = $19,
			dongle_date_ymd = $20, dongle_time_hms = $21, dongle_msec = $22,
			dongle_gps_fix = $23, dongle_satellites = $24,
			updated_at = $25
		WHERE id = $26
	`
	res, err := c.q.ExecContext(ctx, query,
		d.SetupComplete, d.GPSConfigured,
		nullFloat(d.Latitude), nullFloat(d.Longitude), nullFloat(d.Altitude),
		d.GPSAccuracy, d.Heading, nullTime(d.LastGPSSync), nullMethod(d.GPSSyncMethod),
		d.AccelX, d.AccelY, d.AccelZ,
		d.GyroX, d.GyroY, d.GyroZ, d.Temperature,
		d.DongleBatchID, d.DongleSessionMs, d.DongleSampleCount,
		d.DongleDateYMD, d.DongleTimeHMS, d.DongleMsec,
		d.DongleGPSFix, d.DongleSatellites,
		d.UpdatedAt,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	return expectOneRow(res)
}

// UpdateDeviceGPS overwrites only the GPS columns of a device
func (c *Client) UpdateDeviceGPS(ctx context.Context, id string, fix types.GpsFix, at time.Time) error {
	query := `
		UPDATE devices SET
			latitude = $1, longitude = $2, altitude = $3,
			gps_accuracy = $4, heading = $5, gps_configured = TRUE,
			last_gps_sync = $6, gps_sync_method = $7, updated_at = $6
		WHERE id = $8
	`
	res, err := c.q.ExecContext(ctx, query,
		fix.Latitude, fix.Longitude, fix.Altitude,
		fix.AccuracyMeters, fix.HeadingDegrees,
		at, fix.SourceMethod, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update device gps: %w", err)
	}
	return expectOneRow(res)
}

// InsertGpsLog appends a GPS audit row
func (c *Client) InsertGpsLog(ctx context.Context, l *types.GpsLog) error {
	query := `
		INSERT INTO gps_logs (
			id, device_id, latitude, longitude, altitude,
			accuracy, heading, sync_method, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.q.ExecContext(ctx, query,
		l.ID, l.DeviceID, l.Latitude, l.Longitude, l.Altitude,
		l.Accuracy, l.Heading, l.SyncMethod, l.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert gps log: %w", err)
	}
	return nil
}

// StoreGatewayStats stores a gateway statistics snapshot
func (c *Client) StoreGatewayStats(ctx context.Context, s *types.GatewayStats) error {
	query := `
		INSERT INTO gateway_stats (
			time, frames_seen, samples_accepted, samples_rejected,
			serial_samples, mqtt_samples, injected_samples, mqtt_dropped,
			broadcasts, deliveries, subscribers, hub_dropped,
			sessions_started, sessions_paired, sessions_timed_out, active_sessions,
			last_sample_time, uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`
	_, err := c.q.ExecContext(ctx, query,
		s.RecordedAt,
		int64(s.FramesSeen),
		int64(s.SamplesAccepted),
		int64(s.SamplesRejected),
		int64(s.SerialSamples),
		int64(s.MQTTSamples),
		int64(s.InjectedSamples),
		int64(s.MQTTDropped),
		int64(s.Broadcasts),
		int64(s.Deliveries),
		int64(s.Subscribers),
		int64(s.HubDropped),
		int64(s.SessionsStarted),
		int64(s.SessionsPaired),
		int64(s.SessionsTimedOut),
		int64(s.ActiveSessions),
		nullTime(s.LastSampleTime),
		int64(s.Uptime.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to store gateway stats: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// isKey reports whether id can name a row. Ids are UUID columns, and
// Postgres rejects anything else with a syntax error rather than no rows.
func isKey(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func scanDevice(row rowScanner) (*types.Device, error) {
	var (
		d             types.Device
		lat, lon, alt sql.NullFloat64
		lastSync      sql.NullTime
		method        sql.NullString
	)
	err := row.Scan(
		&d.ID, &d.OrgID, &d.Name, &d.Status, &d.SetupComplete, &d.GPSConfigured,
		&lat, &lon, &alt, &d.GPSAccuracy, &d.Heading, &lastSync, &method,
		&d.AccelX, &d.AccelY, &d.AccelZ, &d.GyroX, &d.GyroY, &d.GyroZ, &d.Temperature,
		&d.DongleBatchID, &d.DongleSessionMs, &d.DongleSampleCount, &d.DongleDateYMD,
		&d.DongleTimeHMS, &d.DongleMsec, &d.DongleGPSFix, &d.DongleSatellites,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	d.Latitude = floatPtr(lat)
	d.Longitude = floatPtr(lon)
	d.Altitude = floatPtr(alt)
	if lastSync.Valid {
		t := lastSync.Time
		d.LastGPSSync = &t
	}
	d.GPSSyncMethod = types.SyncMethod(method.String)
	return &d, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullMethod(m types.SyncMethod) sql.NullString {
	if m == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(m), Valid: true}
}
