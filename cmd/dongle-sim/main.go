package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
)

type simulator struct {
	batchID   string
	topic     string
	lat, lon  float64
	startedAt time.Time
	now       func() time.Time
	rand      *rand.Rand
	seq       uint64
}

// publisher is the part of a paho client the simulator needs
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

func newBatchID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

// next builds the following sample of the session, wandering around the
// configured position.
func (s *simulator) next() *types.RawSample {
	jitter := func(spread float64) float64 { return (s.rand.Float64()*2 - 1) * spread }

	s.seq++
	now := s.now()
	seq := s.seq
	sessionMs := uint64(0)
	if elapsed := now.Sub(s.startedAt); elapsed > 0 {
		sessionMs = uint64(elapsed.Milliseconds())
	}
	date := now.Year()*10000 + int(now.Month())*100 + now.Day()
	hms := now.Hour()*10000 + now.Minute()*100 + now.Second()
	msec := now.Nanosecond() / int(time.Millisecond)

	lat := s.lat + jitter(0.0005)
	lon := s.lon + jitter(0.0005)
	alt := 50 + jitter(2)
	fix := 1
	sats := uint64(6 + s.rand.Intn(6))
	ax, ay, az := jitter(0.05), jitter(0.05), 9.81+jitter(0.05)
	gx, gy, gz := jitter(0.5), jitter(0.5), jitter(0.5)
	temp := 22 + jitter(1)

	return &types.RawSample{
		BatchID:        s.batchID,
		SessionMs:      &sessionMs,
		SampleCount:    &seq,
		DateYMD:        &date,
		TimeHMS:        &hms,
		Msec:           &msec,
		Lat:            &lat,
		Lon:            &lon,
		Alt:            &alt,
		GPSFix:         &fix,
		SatelliteCount: &sats,
		AccelX:         &ax,
		AccelY:         &ay,
		AccelZ:         &az,
		GyroX:          &gx,
		GyroY:          &gy,
		GyroZ:          &gz,
		TemperatureC:   &temp,
	}
}

// publish sends one sample at QoS 1
func (s *simulator) publish(client publisher) (*types.RawSample, error) {
	sample := s.next()
	data, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sample: %w", err)
	}

	token := client.Publish(s.topic, 1, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to publish sample: %w", err)
	}
	return sample, nil
}

// loop publishes every interval until ctx is done or count samples were
// sent. A count of zero means no limit.
func (s *simulator) loop(ctx context.Context, client publisher, interval time.Duration, count int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		sample, err := s.publish(client)
		if err != nil {
			logrus.WithError(err).Warn("Publish failed")
		} else {
			sent++
			logrus.WithFields(logrus.Fields{
				"batch_id": sample.BatchID,
				"seq":      *sample.SampleCount,
				"lat":      *sample.Lat,
				"lon":      *sample.Lon,
			}).Info("Published sample")
		}
		if count > 0 && sent >= count {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	topic := flag.String("topic", "dongle/data", "Topic to publish samples on")
	batchID := flag.String("batch", "", "Dongle batch id (random when empty)")
	lat := flag.Float64("lat", 33.89, "Base latitude")
	lon := flag.Float64("lon", 35.50, "Base longitude")
	interval := flag.Duration("interval", time.Second, "Interval between samples")
	count := flag.Int("count", 0, "Number of samples to send (0 for unlimited)")
	flag.Parse()

	if *batchID == "" {
		*batchID = newBatchID()
	}

	clientID := fmt.Sprintf("dongle-sim-%s", *batchID)
	opts := paho.NewClientOptions().AddBroker(*broker).SetClientID(clientID).SetOrderMatters(false)
	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logrus.WithError(token.Error()).Fatal("Failed to connect to broker")
	}
	defer client.Disconnect(250)
	logrus.WithFields(logrus.Fields{"broker": *broker, "batch_id": *batchID}).Info("Connected to MQTT broker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := &simulator{
		batchID:   *batchID,
		topic:     *topic,
		lat:       *lat,
		lon:       *lon,
		startedAt: time.Now(),
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	sim.loop(ctx, client, *interval, *count)
}
