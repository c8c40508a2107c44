package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetup_Level(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	if err := Setup("debug", ""); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logrus.GetLevel())
	}

	if err := Setup("loud", ""); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestSetup_File(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)

	file := filepath.Join(t.TempDir(), "gateway.log")
	if err := Setup("info", file); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}

	logrus.WithField("source", "serial").Info("Serial port opened")

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "Serial port opened") || !strings.Contains(string(data), "source=serial") {
		t.Errorf("Unexpected log content: %s", data)
	}
}

func TestOutput_Stderr(t *testing.T) {
	if Output("") != os.Stderr {
		t.Error("Expected stderr without a log file")
	}
}
