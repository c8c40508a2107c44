package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dayLayout = "2006-01-02"

// Archive appends raw dongle transmissions to a daily file and gzips the file
// once its day is over.
type Archive struct {
	outputDir string
	file      *os.File
	day       string
	now       func() time.Time
	mu        sync.Mutex
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new Archive writing into outputDir
func New(outputDir string) *Archive {
	return &Archive{
		outputDir: outputDir,
		now:       time.Now,
		stopChan:  make(chan struct{}),
	}
}

// FileName returns the archive file name for the given day
func FileName(day time.Time) string {
	return fmt.Sprintf("dongle_%s.log", day.UTC().Format(dayLayout))
}

// Start opens today's file and starts the midnight rotation timer
func (a *Archive) Start() error {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	a.mu.Lock()
	err := a.rotateIfNeeded()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	a.wg.Add(1)
	go a.rotationTimer()

	return nil
}

// Stop closes the current file and stops the rotation timer
func (a *Archive) Stop() error {
	close(a.stopChan)
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// WriteRecord appends one transmission. Multi-line payloads such as serial
// transcripts are indented under a single header line.
func (a *Archive) WriteRecord(source string, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.rotateIfNeeded(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", a.now().UTC().Format(time.RFC3339Nano), source)
	for _, line := range strings.Split(strings.TrimRight(string(payload), "\n"), "\n") {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}

	if _, err := a.file.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write archive record: %w", err)
	}
	return nil
}

// rotationTimer rotates at midnight UTC even when nothing is written
func (a *Archive) rotationTimer() {
	defer a.wg.Done()

	for {
		now := a.now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		select {
		case <-time.After(nextMidnight.Sub(now)):
			a.mu.Lock()
			if err := a.rotateIfNeeded(); err != nil {
				logrus.WithError(err).Error("Archive rotation failed")
			}
			a.mu.Unlock()
		case <-a.stopChan:
			return
		}
	}
}

// rotateIfNeeded switches to today's file, compressing the previous one.
// Callers hold a.mu.
func (a *Archive) rotateIfNeeded() error {
	today := a.now().UTC().Format(dayLayout)
	if a.file != nil && a.day == today {
		return nil
	}

	if a.file != nil {
		previous := a.file.Name()
		a.file.Close()
		a.file = nil
		if err := compressFile(previous); err != nil {
			logrus.WithError(err).WithField("file", previous).Error("Failed to compress archive")
		}
	}

	filename := filepath.Join(a.outputDir, FileName(a.now()))
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	a.file = file
	a.day = today
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gzipWriter := gzip.NewWriter(target)
	gzipWriter.Name = filepath.Base(path)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}
