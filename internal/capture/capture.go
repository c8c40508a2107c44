package capture

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saviobatista/dongle-pairing/internal/parser"
	"github.com/saviobatista/dongle-pairing/internal/types"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// DefaultReconnectDelay is the wait between attempts to open the serial port
const DefaultReconnectDelay = 5 * time.Second

// Frame is one decoded serial transmission
type Frame struct {
	Sample     *types.RawSample
	Transcript string
	Timestamp  time.Time
}

// Opener opens the serial device. Tests replace it with an in-memory pipe.
type Opener func(device string, baud int) (io.ReadCloser, error)

// SerialOpener opens device as a real serial port in 8N1 mode
func SerialOpener(device string, baud int) (io.ReadCloser, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return port, nil
}

// Capture reads dongle transcripts from a serial port and emits decoded frames
type Capture struct {
	device         string
	baud           int
	open           Opener
	reconnectDelay time.Duration

	frames   chan Frame
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	port     io.ReadCloser
	observer Observer

	connected atomic.Bool
}

// Observer is told about every closed frame
type Observer interface {
	IncrementFramesSeen()
	IncrementRejected()
}

// Option configures a Capture
type Option func(*Capture)

// WithObserver reports frame counts to o
func WithObserver(o Observer) Option {
	return func(c *Capture) { c.observer = o }
}

// WithOpener replaces the serial port opener
func WithOpener(open Opener) Option {
	return func(c *Capture) { c.open = open }
}

// WithReconnectDelay sets the wait between open attempts
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Capture) { c.reconnectDelay = d }
}

// New creates a Capture for the given device
func New(device string, baud int, opts ...Option) *Capture {
	c := &Capture{
		device:         device,
		baud:           baud,
		open:           SerialOpener,
		reconnectDelay: DefaultReconnectDelay,
		frames:         make(chan Frame, 100),
		stopChan:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins reading in the background. Open failures are retried until Stop.
func (c *Capture) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop closes the port, waits for the reader and closes the Frames channel
func (c *Capture) Stop() {
	close(c.stopChan)
	c.mu.Lock()
	if c.port != nil {
		c.port.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	close(c.frames)
}

// Frames returns the channel of decoded frames
func (c *Capture) Frames() <-chan Frame {
	return c.frames
}

// Connected reports whether the serial port is currently open
func (c *Capture) Connected() bool {
	return c.connected.Load()
}

func (c *Capture) run() {
	defer c.wg.Done()

	log := logrus.WithField("device", c.device)
	var disconnectTime time.Time
	firstAttempt := true

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		port, err := c.open(c.device, c.baud)
		if err != nil {
			if firstAttempt {
				log.WithError(err).Warn("Serial port unavailable, retrying in background")
				firstAttempt = false
			}
			if disconnectTime.IsZero() {
				disconnectTime = time.Now()
			}
			select {
			case <-c.stopChan:
				return
			case <-time.After(c.reconnectDelay):
			}
			continue
		}

		if !disconnectTime.IsZero() && !firstAttempt {
			log.Infof("Serial port reopened after %.1f seconds", time.Since(disconnectTime).Seconds())
		} else {
			log.WithField("baud", c.baud).Info("Serial port opened")
		}
		firstAttempt = false
		disconnectTime = time.Time{}

		c.mu.Lock()
		select {
		case <-c.stopChan:
			c.mu.Unlock()
			port.Close()
			return
		default:
		}
		c.port = port
		c.mu.Unlock()
		c.connected.Store(true)

		c.handlePort(port)

		c.connected.Store(false)
		c.mu.Lock()
		c.port = nil
		c.mu.Unlock()
		disconnectTime = time.Now()
	}
}

func (c *Capture) handlePort(port io.ReadCloser) {
	defer port.Close()

	framer := parser.NewFramer()
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := scanner.Text()
		closing := framer.InFrame() && strings.TrimSpace(line) == parser.EndMarker

		sample, ok := framer.Feed(line)
		if closing {
			if c.observer != nil {
				c.observer.IncrementFramesSeen()
			}
			if !ok {
				if c.observer != nil {
					c.observer.IncrementRejected()
				}
				logrus.WithField("device", c.device).Debug("Discarding frame without batch id or position")
				continue
			}
		}
		if !ok {
			continue
		}

		select {
		case c.frames <- Frame{Sample: sample, Transcript: framer.Transcript(), Timestamp: time.Now()}:
		case <-c.stopChan:
			return
		}
	}

	select {
	case <-c.stopChan:
	default:
		if err := scanner.Err(); err != nil {
			logrus.WithField("device", c.device).WithError(err).Warn("Serial read failed")
		}
	}
}
