package migrations

// GatewayStats creates the table periodic gateway counters are written to
var GatewayStats = &Migration{
	ID:   "002_gateway_stats",
	Name: "002_gateway_stats",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS gateway_stats (
			time TIMESTAMPTZ NOT NULL,
			frames_seen BIGINT NOT NULL,
			samples_accepted BIGINT NOT NULL,
			samples_rejected BIGINT NOT NULL,
			serial_samples BIGINT NOT NULL,
			mqtt_samples BIGINT NOT NULL,
			injected_samples BIGINT NOT NULL,
			mqtt_dropped BIGINT NOT NULL DEFAULT 0,
			broadcasts BIGINT NOT NULL,
			deliveries BIGINT NOT NULL,
			subscribers INTEGER NOT NULL DEFAULT 0,
			hub_dropped BIGINT NOT NULL DEFAULT 0,
			sessions_started BIGINT NOT NULL,
			sessions_paired BIGINT NOT NULL,
			sessions_timed_out BIGINT NOT NULL,
			active_sessions INTEGER NOT NULL DEFAULT 0,
			last_sample_time TIMESTAMPTZ,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_gateway_stats_time ON gateway_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS gateway_stats;
	`,
}
