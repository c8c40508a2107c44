package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger. With a non-empty file, output
// is also written to a rotating log file.
func Setup(level, file string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logrus.SetOutput(Output(file))
	return nil
}

// Output returns stderr, or stderr tee'd into a lumberjack rotator for file
func Output(file string) io.Writer {
	if file == "" {
		return os.Stderr
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 7,
		MaxAge:     7, // days
		Compress:   true,
	}
	return io.MultiWriter(os.Stderr, rotator)
}
