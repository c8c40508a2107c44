package gateway

import (
	"github.com/saviobatista/dongle-pairing/internal/capture"
	"github.com/saviobatista/dongle-pairing/internal/config"
	"github.com/saviobatista/dongle-pairing/internal/mqtt"
	"github.com/saviobatista/dongle-pairing/internal/stats"
)

// SourceOptions returns the serial and MQTT inputs enabled in cfg, both
// reporting frame and rejection counts to st.
func SourceOptions(cfg *config.Config, st *stats.Stats) []Option {
	opts := []Option{WithStats(st)}

	if cfg.SerialEnabled {
		opts = append(opts, WithSerial(capture.New(cfg.SerialPort, cfg.SerialBaud, capture.WithObserver(st))))
	}
	if cfg.MQTTEnabled {
		opts = append(opts, WithMQTT(mqtt.NewListener(mqtt.Config{
			Broker:   cfg.MQTTBrokerURL(),
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Observer: st,
		})))
	}
	return opts
}
