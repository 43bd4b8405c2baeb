// Package log holds the process-wide structured logger.
package log

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wesleyorama2/copyperf/internal/bench/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var base = logrus.New()

// Init configures level, format and output from cfg.
//
// Console output goes to stderr so stdout carries only the run report.
func Init(cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return err
		}
		base.SetOutput(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    max(1, cfg.MaxSizeMB),
			MaxAge:     max(1, cfg.MaxAge),
			Compress:   cfg.Compress,
			MaxBackups: 3,
			LocalTime:  true,
		})
	default:
		base.SetOutput(os.Stderr)
	}
	return nil
}

// SetOutput redirects the logger, mainly for tests.
func SetOutput(w io.Writer) { base.SetOutput(w) }

// L returns the underlying logger.
func L() *logrus.Logger { return base }

// With returns an entry carrying fields.
func With(fields logrus.Fields) *logrus.Entry { return base.WithFields(fields) }
