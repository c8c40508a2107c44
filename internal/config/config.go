package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	HTTPPort    int
	DatabaseURL string
	RedisAddr   string
	NATSURL     string

	SerialEnabled bool
	SerialPort    string
	SerialBaud    int

	MQTTEnabled    bool
	MQTTBrokerHost string
	MQTTBrokerPort int
	MQTTTopic      string
	MQTTClientID   string

	ArchiveDir    string
	JWTSecret     string
	LogLevel      string
	LogFile       string
	StatsInterval time.Duration
}

// MQTTBrokerURL returns the broker address in the form paho expects
func (c *Config) MQTTBrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBrokerHost, c.MQTTBrokerPort)
}

// Load loads the configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		NATSURL:        os.Getenv("NATS_URL"),
		SerialPort:     getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		MQTTBrokerHost: getEnv("MQTT_BROKER_HOST", "localhost"),
		MQTTTopic:      getEnv("MQTT_TOPIC", "dongle/data"),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "dongle-gateway"),
		ArchiveDir:     os.Getenv("ARCHIVE_DIR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        os.Getenv("LOG_FILE"),
	}

	var err error
	if cfg.HTTPPort, err = getInt("HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.SerialBaud, err = getInt("SERIAL_BAUD", 115200); err != nil {
		return nil, err
	}
	if cfg.MQTTBrokerPort, err = getInt("MQTT_BROKER_PORT", 1883); err != nil {
		return nil, err
	}
	if cfg.SerialEnabled, err = getBool("SERIAL_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.MQTTEnabled, err = getBool("MQTT_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.StatsInterval, err = getDuration("STATS_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s value %q", key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s value %q", key, v)
	}
	return d, nil
}
