package migrations

// PairingSchema creates the device, pairing session and GPS log tables
var PairingSchema = &Migration{
	ID:   "001_pairing_schema",
	Name: "001_pairing_schema",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS devices (
			id UUID PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'offline',
			setup_complete BOOLEAN NOT NULL DEFAULT FALSE,
			gps_configured BOOLEAN NOT NULL DEFAULT FALSE,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			altitude DOUBLE PRECISION,
			gps_accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_gps_sync TIMESTAMPTZ,
			gps_sync_method TEXT,
			accel_x DOUBLE PRECISION NOT NULL DEFAULT 0,
			accel_y DOUBLE PRECISION NOT NULL DEFAULT 0,
			accel_z DOUBLE PRECISION NOT NULL DEFAULT 0,
			gyro_x DOUBLE PRECISION NOT NULL DEFAULT 0,
			gyro_y DOUBLE PRECISION NOT NULL DEFAULT 0,
			gyro_z DOUBLE PRECISION NOT NULL DEFAULT 0,
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
			dongle_batch_id TEXT NOT NULL DEFAULT '',
			dongle_session_ms BIGINT NOT NULL DEFAULT 0,
			dongle_sample_count BIGINT NOT NULL DEFAULT 0,
			dongle_date_ymd INTEGER NOT NULL DEFAULT 0,
			dongle_time_hms INTEGER NOT NULL DEFAULT 0,
			dongle_msec INTEGER NOT NULL DEFAULT 0,
			dongle_gps_fix INTEGER NOT NULL DEFAULT 0,
			dongle_satellites INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_devices_org_id ON devices (org_id);
		CREATE INDEX IF NOT EXISTS idx_devices_dongle_batch_id ON devices (dongle_batch_id);

		CREATE TABLE IF NOT EXISTS pairing_sessions (
			id UUID PRIMARY KEY,
			org_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('waiting', 'paired', 'timeout')),
			bound_device_id UUID REFERENCES devices (id) ON DELETE SET NULL,
			result_device_id UUID REFERENCES devices (id) ON DELETE SET NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_pairing_sessions_waiting
			ON pairing_sessions (expires_at) WHERE status = 'waiting';

		CREATE TABLE IF NOT EXISTS gps_logs (
			id UUID PRIMARY KEY,
			device_id UUID NOT NULL REFERENCES devices (id) ON DELETE CASCADE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			altitude DOUBLE PRECISION NOT NULL DEFAULT 0,
			accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
			heading DOUBLE PRECISION NOT NULL DEFAULT 0,
			sync_method TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_gps_logs_device_time ON gps_logs (device_id, timestamp DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS gps_logs;
		DROP TABLE IF EXISTS pairing_sessions;
		DROP TABLE IF EXISTS devices;
	`,
}
